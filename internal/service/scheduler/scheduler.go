// Package scheduler runs the periodic draw: it scores every registered address,
// selects winners from a public seed and commits the draw with its payout legs.
package scheduler

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "github.com/open-builders/draw-airdrop-bot/internal/common/errors"
	"github.com/open-builders/draw-airdrop-bot/internal/config"
	dd "github.com/open-builders/draw-airdrop-bot/internal/domain/draw"
	"github.com/open-builders/draw-airdrop-bot/internal/ledger"
	"github.com/open-builders/draw-airdrop-bot/internal/metrics"
	rplatform "github.com/open-builders/draw-airdrop-bot/internal/platform/redis"
	pgrepo "github.com/open-builders/draw-airdrop-bot/internal/repository/postgres"
	"github.com/open-builders/draw-airdrop-bot/internal/selection"
)

// State of the draw cycle.
type State int32

const (
	Idle State = iota
	Collecting
	Selecting
	Committed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Collecting:
		return "collecting"
	case Selecting:
		return "selecting"
	case Committed:
		return "committed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var (
	ErrOracleNotReady = apperrors.New(apperrors.ErrCodeOracleNotReady, "oracle value is not final yet")
	ErrEmptyPool      = apperrors.New(apperrors.ErrCodeEmptyPool, "no address has positive points")
)

// Store persists draws and the schedule.
type Store interface {
	NextDrawAt(ctx context.Context) (*time.Time, error)
	AdvanceSchedule(ctx context.Context, next time.Time) error
	LatestDraw(ctx context.Context) (*dd.Draw, error)
	CommitDraw(ctx context.Context, d *dd.Draw, snapshots []dd.Snapshot, nextDrawAt time.Time) (int64, error)
}

// Oracle provides the public seed.
type Oracle interface {
	StableOracleValue(ctx context.Context, feed, source string) ([]byte, error)
}

// anchoredOracle ties the seed to the draw's due time instead of the poll time, so the
// seed block of every draw can be recomputed from its schedule.
type anchoredOracle interface {
	OracleValueAnchored(ctx context.Context, feed, source string, due time.Time, confirmations uint32) ([]byte, uint32, error)
}

type ParamsSource interface {
	Current() *config.Params
}

// Locker guards the cycle across instances.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Clearer is a cache emptied after every commit.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Settler pays a freshly committed draw.
type Settler interface {
	Settle(ctx context.Context, drawID int64) error
}

type Notifier interface {
	AnnounceDraw(ctx context.Context, d *dd.Draw)
	Alert(ctx context.Context, text string)
}

type Scheduler struct {
	collector    *Collector
	registry     Registry
	store        Store
	oracle       Oracle
	params       ParamsSource
	payoutSource string

	now      func() time.Time
	locker   Locker
	lockTTL  time.Duration
	caches   []Clearer
	settler  Settler
	notifier Notifier
	log      zerolog.Logger

	run   sync.Mutex
	state atomic.Int32
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *Scheduler) { s.locker, s.lockTTL = l, ttl }
}

// WithCaches registers caches cleared after each committed draw.
func WithCaches(c ...Clearer) Option { return func(s *Scheduler) { s.caches = append(s.caches, c...) } }

func WithSettler(st Settler) Option { return func(s *Scheduler) { s.settler = st } }

func WithNotifier(n Notifier) Option { return func(s *Scheduler) { s.notifier = n } }

func WithLogger(l zerolog.Logger) Option { return func(s *Scheduler) { s.log = l } }

// WithPayoutSource excludes the hot wallet from draws.
func WithPayoutSource(addr string) Option { return func(s *Scheduler) { s.payoutSource = addr } }

func New(collector *Collector, registry Registry, store Store, oracle Oracle, params ParamsSource, opts ...Option) *Scheduler {
	s := &Scheduler{
		collector: collector,
		registry:  registry,
		store:     store,
		oracle:    oracle,
		params:    params,
		now:       time.Now,
		lockTTL:   10 * time.Minute,
		log:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current phase of the cycle.
func (s *Scheduler) State() State { return State(s.state.Load()) }

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
	s.log.Debug().Str("state", st.String()).Msg("draw state")
}

// NextDrawAt returns the persisted next draw time, seeding it from the params on first use.
func (s *Scheduler) NextDrawAt(ctx context.Context) (time.Time, error) {
	next, err := s.store.NextDrawAt(ctx)
	if err != nil {
		return time.Time{}, apperrors.NewDatabaseError("load schedule", err)
	}
	if next != nil {
		return *next, nil
	}
	first := s.params.Current().Schedule.FirstDrawAt
	if err := s.store.AdvanceSchedule(ctx, first); err != nil {
		return time.Time{}, apperrors.NewDatabaseError("seed schedule", err)
	}
	return first, nil
}

// Advance returns the first point of the schedule strictly after now.
func Advance(next time.Time, interval time.Duration, now time.Time) time.Time {
	if interval <= 0 {
		return now
	}
	for !next.After(now) {
		next = next.Add(interval)
	}
	return next
}

// Tick runs one poll: nothing happens before the next draw time. A cycle that cannot
// complete leaves the schedule untouched so the next poll retries it.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.run.Lock()
	defer s.run.Unlock()

	next, err := s.NextDrawAt(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	if now.Before(next) {
		return nil
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "draw", s.lockTTL)
		if errors.Is(err, rplatform.ErrLocked) {
			metrics.RecordDraw(metrics.OutcomeLocked)
			s.log.Debug().Msg("draw lock held by another instance")
			return nil
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeCacheError, "acquire draw lock")
		}
		defer release()
	}

	defer s.setState(Idle)
	d, err := s.cycle(ctx, next, now)
	switch {
	case errors.Is(err, ErrOracleNotReady):
		metrics.RecordDraw(metrics.OutcomeOracleNotReady)
		s.log.Debug().Time("due", next).Msg("oracle value not final, retrying next poll")
		return nil
	case errors.Is(err, ErrEmptyPool):
		metrics.RecordDraw(metrics.OutcomeEmptyPool)
		return nil
	case err != nil:
		metrics.RecordDraw(metrics.OutcomeFailed)
		s.log.Error().Err(err).Time("due", next).Msg("draw cycle failed")
		return err
	}

	s.afterCommit(ctx, d)
	return nil
}

func (s *Scheduler) excluded(params *config.Params) func(string) bool {
	return func(addr string) bool {
		return addr == s.payoutSource || params.IsExcluded(addr)
	}
}

func (s *Scheduler) cycle(ctx context.Context, due, now time.Time) (*dd.Draw, error) {
	started := time.Now()
	params := s.params.Current()
	nextAt := Advance(due, params.Schedule.Interval, now)

	s.setState(Collecting)
	scored, err := s.collector.Collect(ctx, params, s.excluded(params), true)
	if err != nil {
		return nil, err
	}

	pool := make([]selection.Entry, 0, len(scored))
	byAddress := make(map[string]Scored, len(scored))
	snapshots := make([]dd.Snapshot, 0, len(scored))
	for _, sc := range scored {
		byAddress[sc.Address] = sc
		snapshots = append(snapshots, dd.Snapshot{Address: sc.Address, Balance: sc.Balance, Points: sc.Points()})
		if sc.Breakdown.Eligible() {
			pool = append(pool, selection.Entry{Address: sc.Address, Weight: sc.Breakdown.Total})
		}
	}
	pool = selection.Pool(pool)
	total := selection.Total(pool)
	if len(pool) == 0 {
		s.log.Info().Int("addresses", len(scored)).Time("next_draw_at", nextAt).Msg("no address has points, skipping draw")
		if err := s.store.AdvanceSchedule(ctx, nextAt); err != nil {
			return nil, apperrors.NewDatabaseError("advance schedule", err)
		}
		return nil, ErrEmptyPool
	}

	s.setState(Selecting)
	seed, anchor, err := s.seed(ctx, params, due)
	if err != nil {
		return nil, err
	}
	winner, err := selection.Pick(pool, selection.Digest(seed))
	if err != nil {
		return nil, err
	}

	d := &dd.Draw{
		SeedValue:     hex.EncodeToString(seed),
		SeedBlock:     anchor,
		WinnerAddress: winner.Address,
		TotalPoints:   total,
		CreatedAt:     now.UTC(),
	}
	totalBalance := decimal.Zero
	balancePool := make([]selection.Entry, 0, len(pool))
	for _, e := range pool {
		bal := byAddress[e.Address].Balance
		totalBalance = totalBalance.Add(bal)
		balancePool = append(balancePool, selection.Entry{Address: e.Address, Weight: bal})
	}
	d.TotalBalance = totalBalance

	if params.SecondaryDraw.Enabled {
		bw, err := selection.Pick(balancePool, selection.SecondaryDigest(seed))
		if err == nil {
			d.BalanceWinnerAddress = &bw.Address
		} else if !errors.Is(err, selection.ErrEmptyPool) {
			return nil, err
		}
	}

	referrer, err := s.resolveReferrer(ctx, params, byAddress[winner.Address])
	if err != nil {
		return nil, err
	}
	if referrer != "" {
		d.ReferrerAddress = &referrer
	}
	d.Legs = BuildLegs(params.Rewards, d.WinnerAddress, d.ReferrerAddress, d.BalanceWinnerAddress)

	id, err := s.store.CommitDraw(ctx, d, snapshots, nextAt)
	if errors.Is(err, pgrepo.ErrDuplicateSeed) {
		return nil, ErrOracleNotReady
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransactionFailed, "commit draw")
	}
	d.ID = id
	for i := range d.Legs {
		d.Legs[i].DrawID = id
	}
	s.setState(Committed)

	poolPoints, _ := total.Float64()
	metrics.RecordCommittedDraw(poolPoints, time.Since(started))
	s.log.Info().
		Int64("draw_id", id).
		Str("winner", d.WinnerAddress).
		Str("seed", d.SeedValue).
		Str("total_points", total.String()).
		Int("pool", len(pool)).
		Time("next_draw_at", nextAt).
		Msg("draw committed")
	return d, nil
}

// seed fetches the oracle value and, for anchored oracles, the block it was read at.
// A value already used by the previous draw is not final yet.
func (s *Scheduler) seed(ctx context.Context, params *config.Params, due time.Time) ([]byte, *int64, error) {
	var (
		seed   []byte
		anchor *int64
		err    error
	)
	if ao, ok := s.oracle.(anchoredOracle); ok {
		var seqno uint32
		seed, seqno, err = ao.OracleValueAnchored(ctx, params.Oracle.Feed, params.Oracle.Source, due, params.Oracle.Confirmations)
		if err == nil && len(seed) > 0 {
			block := int64(seqno)
			anchor = &block
		}
	} else {
		seed, err = s.oracle.StableOracleValue(ctx, params.Oracle.Feed, params.Oracle.Source)
	}
	if err != nil {
		return nil, nil, apperrors.NewExternalAPIError("oracle", err)
	}
	if len(seed) == 0 {
		return nil, nil, ErrOracleNotReady
	}
	last, err := s.store.LatestDraw(ctx)
	if err != nil {
		return nil, nil, apperrors.NewDatabaseError("latest draw", err)
	}
	if last != nil && last.SeedValue == hex.EncodeToString(seed) {
		return nil, nil, ErrOracleNotReady
	}
	return seed, anchor, nil
}

func (s *Scheduler) resolveReferrer(ctx context.Context, params *config.Params, winner Scored) (string, error) {
	if winner.ReferredBy == nil {
		return "", nil
	}
	if params.RequireAttestedWinner() && !winner.Attested {
		s.log.Info().Str("winner", winner.Address).Msg("winner is not attested, referral reward withheld")
		return "", nil
	}
	policy := params.ReferralPolicy()
	addr, attested, err := s.registry.ReferrerAddress(ctx, *winner.ReferredBy, policy)
	if err != nil {
		return "", err
	}
	switch {
	case addr == "":
		s.alert(ctx, fmt.Sprintf("Referrer %s of winner %s has no attested address; referral reward withheld", *winner.ReferredBy, winner.Address))
	case !attested:
		s.alert(ctx, fmt.Sprintf("Paying unattested referrer %s (code %s) of winner %s", addr, *winner.ReferredBy, winner.Address))
	}
	return addr, nil
}

// BuildLegs turns the reward params into the payout legs of a draw. Legs without a
// positive amount are not created.
func BuildLegs(r config.RewardParams, winner string, referrer, balanceWinner *string) []dd.Leg {
	var legs []dd.Leg
	add := func(kind dd.LegKind, asset string, outs ...dd.Output) {
		var kept []dd.Output
		for _, o := range outs {
			if o.Address != "" && o.Amount.IsPositive() {
				kept = append(kept, o)
			}
		}
		if len(kept) > 0 {
			legs = append(legs, dd.Leg{Kind: kind, Asset: asset, Outputs: kept})
		}
	}
	ref := ""
	if referrer != nil {
		ref = *referrer
	}

	add(dd.LegPrincipal, ledger.AssetNative,
		dd.Output{Address: winner, Amount: config.Amount(r.Principal.Winner)},
		dd.Output{Address: ref, Amount: config.Amount(r.Principal.Referrer)})
	if r.BonusAsset != "" {
		add(dd.LegBonusWinner, r.BonusAsset, dd.Output{Address: winner, Amount: config.Amount(r.Bonus.Winner)})
		add(dd.LegBonusReferrer, r.BonusAsset, dd.Output{Address: ref, Amount: config.Amount(r.Bonus.Referrer)})
	}
	if balanceWinner != nil {
		add(dd.LegBalanceWinner, ledger.AssetNative, dd.Output{Address: *balanceWinner, Amount: config.Amount(r.BalanceWinner)})
	}
	return legs
}

func (s *Scheduler) alert(ctx context.Context, text string) {
	if s.notifier != nil {
		s.notifier.Alert(ctx, text)
		return
	}
	s.log.Warn().Msg(text)
}

func (s *Scheduler) afterCommit(ctx context.Context, d *dd.Draw) {
	for _, c := range s.caches {
		if err := c.Clear(ctx); err != nil {
			s.log.Warn().Err(err).Int64("draw_id", d.ID).Msg("cache clear after draw failed")
		}
	}
	if s.settler != nil {
		if err := s.settler.Settle(ctx, d.ID); err != nil {
			s.log.Warn().Err(err).Int64("draw_id", d.ID).Msg("initial settlement incomplete, sweep will retry")
		}
	}
	if s.notifier != nil {
		s.notifier.AnnounceDraw(ctx, d)
	}
}
