// Package payout settles the payment legs of committed draws.
package payout

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/draw-airdrop-bot/internal/common/errors"
	dd "github.com/open-builders/draw-airdrop-bot/internal/domain/draw"
	"github.com/open-builders/draw-airdrop-bot/internal/ledger"
	"github.com/open-builders/draw-airdrop-bot/internal/metrics"
	rplatform "github.com/open-builders/draw-airdrop-bot/internal/platform/redis"
)

// Store is the part of the draw repository payouts need.
type Store interface {
	GetDraw(ctx context.Context, id int64) (*dd.Draw, error)
	ListDrawsWithUnpaidLegs(ctx context.Context) ([]int64, error)
	MarkLegPaid(ctx context.Context, drawID int64, kind dd.LegKind, ref string, at time.Time) (bool, error)
}

// Payer submits one ledger payment.
type Payer interface {
	SubmitPayment(ctx context.Context, asset string, outputs []ledger.Output, source string) (string, error)
}

type Alerter interface {
	Alert(ctx context.Context, text string)
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

type legKey struct {
	drawID int64
	kind   dd.LegKind
}

// Processor pays legs one at a time. A single settlement attempt of a draw holds the
// processor mutex, and the distributed lock when one is configured.
type Processor struct {
	store  Store
	payer  Payer
	source string

	alerter Alerter
	locker  Locker
	lockTTL time.Duration
	now     func() time.Time
	log     zerolog.Logger

	mu sync.Mutex
	// submitted but not recorded; guarded by mu
	unrecorded map[legKey]string
}

type Option func(*Processor)

func WithAlerter(a Alerter) Option { return func(p *Processor) { p.alerter = a } }

func WithLocker(l Locker, ttl time.Duration) Option {
	return func(p *Processor) { p.locker, p.lockTTL = l, ttl }
}

func WithClock(now func() time.Time) Option { return func(p *Processor) { p.now = now } }

func WithLogger(l zerolog.Logger) Option { return func(p *Processor) { p.log = l } }

// NewProcessor pays from source, the hot wallet address.
func NewProcessor(store Store, payer Payer, source string, opts ...Option) *Processor {
	p := &Processor{
		store:      store,
		payer:      payer,
		source:     source,
		lockTTL:    5 * time.Minute,
		now:        time.Now,
		log:        zerolog.Nop(),
		unrecorded: make(map[legKey]string),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// lockKey is one key for all draws since every leg is sent from the same hot wallet.
const lockKey = "payout"

// Settle attempts every unpaid leg of the draw. It returns an error when at least one
// leg is still unpaid afterwards.
func (p *Processor) Settle(ctx context.Context, drawID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	release, err := p.acquire(ctx)
	if errors.Is(err, rplatform.ErrLocked) {
		p.log.Debug().Int64("draw_id", drawID).Msg("payout lock held by another instance")
		return nil
	}
	if err != nil {
		return err
	}
	defer release()

	remaining, err := p.settleLocked(ctx, drawID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return apperrors.New(apperrors.ErrCodePaymentFailed, fmt.Sprintf("%d legs of draw %d unpaid", remaining, drawID))
	}
	return nil
}

// Sweep settles every draw that still owes payments, oldest first, under a single
// hold of the payout lock.
func (p *Processor) Sweep(ctx context.Context) error {
	ids, err := p.store.ListDrawsWithUnpaidLegs(ctx)
	if err != nil {
		return apperrors.NewDatabaseError("list unpaid draws", err)
	}
	if len(ids) == 0 {
		metrics.SetUnpaidLegs(0)
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	release, err := p.acquire(ctx)
	if errors.Is(err, rplatform.ErrLocked) {
		p.log.Debug().Msg("payout lock held by another instance, sweep skipped")
		return nil
	}
	if err != nil {
		return err
	}
	defer release()

	unpaid := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		remaining, err := p.settleLocked(ctx, id)
		if err != nil {
			p.log.Error().Err(err).Int64("draw_id", id).Msg("settlement failed")
			continue
		}
		unpaid += remaining
	}
	metrics.SetUnpaidLegs(unpaid)
	p.log.Info().Int("draws", len(ids)).Int("unpaid_legs", unpaid).Msg("payout sweep finished")
	return nil
}

func (p *Processor) acquire(ctx context.Context) (func(), error) {
	if p.locker == nil {
		return func() {}, nil
	}
	return p.locker.Acquire(ctx, lockKey, p.lockTTL)
}

func (p *Processor) settleLocked(ctx context.Context, drawID int64) (int, error) {
	d, err := p.store.GetDraw(ctx, drawID)
	if err != nil {
		return 0, apperrors.NewDatabaseError("load draw", err)
	}
	if d == nil {
		return 0, apperrors.NewNotFoundError("draw", drawID)
	}

	remaining := 0
	for _, leg := range d.UnpaidLegs() {
		if err := p.payLeg(ctx, leg); err != nil {
			remaining++
			metrics.RecordPayoutLeg(string(leg.Kind), metrics.ResultFailed)
			p.log.Error().Err(err).Int64("draw_id", drawID).Str("kind", string(leg.Kind)).Msg("payout leg failed")
			p.alert(ctx, fmt.Sprintf("Payout of %s leg for draw #%d failed: %v", leg.Kind, drawID, err))
		}
	}
	return remaining, nil
}

func (p *Processor) payLeg(ctx context.Context, leg dd.Leg) error {
	key := legKey{drawID: leg.DrawID, kind: leg.Kind}

	if ref, ok := p.unrecorded[key]; ok {
		if err := p.record(ctx, leg, ref); err != nil {
			return fmt.Errorf("re-record settlement %s: %w", ref, err)
		}
		delete(p.unrecorded, key)
		metrics.RecordPayoutLeg(string(leg.Kind), metrics.ResultRerecorded)
		p.alert(ctx, fmt.Sprintf("Reconciled %s leg of draw #%d: recorded settlement %s submitted earlier", leg.Kind, leg.DrawID, ref))
		return nil
	}

	outputs, err := toLedgerOutputs(leg.Outputs)
	if err != nil {
		return err
	}
	ref, err := p.payer.SubmitPayment(ctx, leg.Asset, outputs, p.source)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodePaymentFailed, "submit payment")
	}

	if err := p.record(ctx, leg, ref); err != nil {
		p.unrecorded[key] = ref
		return fmt.Errorf("payment %s sent but not recorded: %w", ref, err)
	}
	metrics.RecordPayoutLeg(string(leg.Kind), metrics.ResultPaid)
	p.log.Info().Int64("draw_id", leg.DrawID).Str("kind", string(leg.Kind)).Str("ref", ref).Msg("payout leg paid")
	return nil
}

func (p *Processor) record(ctx context.Context, leg dd.Leg, ref string) error {
	updated, err := p.store.MarkLegPaid(ctx, leg.DrawID, leg.Kind, ref, p.now().UTC())
	if err != nil {
		return apperrors.NewDatabaseError("mark leg paid", err)
	}
	if !updated {
		p.log.Warn().Int64("draw_id", leg.DrawID).Str("kind", string(leg.Kind)).Str("ref", ref).Msg("leg was already marked paid")
	}
	return nil
}

func toLedgerOutputs(outs []dd.Output) ([]ledger.Output, error) {
	res := make([]ledger.Output, 0, len(outs))
	for _, o := range outs {
		if !o.Amount.IsInteger() || !o.Amount.IsPositive() {
			return nil, apperrors.New(apperrors.ErrCodeValidation, fmt.Sprintf("amount %s for %s is not a positive integer", o.Amount, o.Address))
		}
		res = append(res, ledger.Output{Address: o.Address, Amount: new(big.Int).Set(o.Amount.BigInt())})
	}
	return res, nil
}

func (p *Processor) alert(ctx context.Context, text string) {
	if p.alerter != nil {
		p.alerter.Alert(ctx, text)
	}
}
