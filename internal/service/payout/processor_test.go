package payout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dd "github.com/open-builders/draw-airdrop-bot/internal/domain/draw"
	"github.com/open-builders/draw-airdrop-bot/internal/ledger"
	rplatform "github.com/open-builders/draw-airdrop-bot/internal/platform/redis"
)

type memStore struct {
	mu      sync.Mutex
	draws   map[int64]*dd.Draw
	markErr error
}

func (m *memStore) GetDraw(_ context.Context, id int64) (*dd.Draw, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.draws[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	cp.Legs = append([]dd.Leg(nil), d.Legs...)
	return &cp, nil
}

func (m *memStore) ListDrawsWithUnpaidLegs(context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id := int64(1); id <= int64(len(m.draws)); id++ {
		if d, ok := m.draws[id]; ok && !d.Settled() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) MarkLegPaid(_ context.Context, drawID int64, kind dd.LegKind, ref string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return false, m.markErr
	}
	d := m.draws[drawID]
	for i := range d.Legs {
		if d.Legs[i].Kind == kind && !d.Legs[i].Paid {
			d.Legs[i].Paid = true
			r := ref
			d.Legs[i].SettlementRef = &r
			d.Legs[i].PaidAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) leg(drawID int64, kind dd.LegKind) dd.Leg {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.draws[drawID].Legs {
		if l.Kind == kind {
			return l
		}
	}
	return dd.Leg{}
}

type payment struct {
	asset   string
	outputs []ledger.Output
	source  string
}

type fakePayer struct {
	mu       sync.Mutex
	payments []payment
	failKind map[string]bool
}

func (f *fakePayer) SubmitPayment(_ context.Context, asset string, outputs []ledger.Output, source string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKind[asset] {
		return "", errors.New("wallet seqno mismatch")
	}
	f.payments = append(f.payments, payment{asset: asset, outputs: outputs, source: source})
	return fmt.Sprintf("tx%d", len(f.payments)), nil
}

type alerts struct {
	mu   sync.Mutex
	msgs []string
}

func (a *alerts) Alert(_ context.Context, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, text)
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, rplatform.ErrLocked
}

// memLock behaves like SET NX over a key space shared between processors.
type memLock struct {
	mu     sync.Mutex
	held   map[string]bool
	keys   []string
	denied []error
}

func (l *memLock) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	if l.held[key] {
		l.denied = append(l.denied, rplatform.ErrLocked)
		return nil, rplatform.ErrLocked
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

// blockingPayer parks the first payment until released.
type blockingPayer struct {
	fakePayer
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingPayer) SubmitPayment(ctx context.Context, asset string, outputs []ledger.Output, source string) (string, error) {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.fakePayer.SubmitPayment(ctx, asset, outputs, source)
}

const (
	winner   = "0:1111111111111111111111111111111111111111111111111111111111111111"
	referrer = "0:2222222222222222222222222222222222222222222222222222222222222222"
	jetton   = "0:3333333333333333333333333333333333333333333333333333333333333333"
	hot      = "0:4444444444444444444444444444444444444444444444444444444444444444"
)

func testDraw(id int64) *dd.Draw {
	return &dd.Draw{ID: id, WinnerAddress: winner, Legs: []dd.Leg{
		{DrawID: id, Kind: dd.LegBonusWinner, Asset: jetton, Outputs: []dd.Output{{Address: winner, Amount: decimal.NewFromInt(700)}}},
		{DrawID: id, Kind: dd.LegPrincipal, Asset: ledger.AssetNative, Outputs: []dd.Output{
			{Address: winner, Amount: decimal.NewFromInt(10_000_000_000)},
			{Address: referrer, Amount: decimal.NewFromInt(5_000_000_000)},
		}},
	}}
}

func newFixture() (*memStore, *fakePayer, *alerts, *Processor) {
	store := &memStore{draws: map[int64]*dd.Draw{1: testDraw(1)}}
	payer := &fakePayer{failKind: map[string]bool{}}
	al := &alerts{}
	p := NewProcessor(store, payer, hot, WithAlerter(al),
		WithClock(func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }))
	return store, payer, al, p
}

func TestSettlePaysLegsInOrder(t *testing.T) {
	store, payer, al, p := newFixture()
	ctx := context.Background()

	require.NoError(t, p.Settle(ctx, 1))

	require.Len(t, payer.payments, 2)
	assert.Equal(t, ledger.AssetNative, payer.payments[0].asset)
	assert.Equal(t, hot, payer.payments[0].source)
	require.Len(t, payer.payments[0].outputs, 2)
	assert.Equal(t, "10000000000", payer.payments[0].outputs[0].Amount.String())
	assert.Equal(t, jetton, payer.payments[1].asset)

	principal := store.leg(1, dd.LegPrincipal)
	assert.True(t, principal.Paid)
	require.NotNil(t, principal.SettlementRef)
	assert.Equal(t, "tx1", *principal.SettlementRef)
	assert.Empty(t, al.msgs)

	require.NoError(t, p.Settle(ctx, 1))
	assert.Len(t, payer.payments, 2, "paid legs must not be paid twice")
}

func TestFailedLegDoesNotBlockOthers(t *testing.T) {
	store, payer, al, p := newFixture()
	ctx := context.Background()
	payer.failKind[ledger.AssetNative] = true

	err := p.Settle(ctx, 1)
	require.Error(t, err)
	assert.False(t, store.leg(1, dd.LegPrincipal).Paid)
	assert.True(t, store.leg(1, dd.LegBonusWinner).Paid)
	require.Len(t, al.msgs, 1)
	assert.Contains(t, al.msgs[0], "principal")

	bonus := store.leg(1, dd.LegBonusWinner)
	require.NotNil(t, bonus.SettlementRef)
	bonusRef := *bonus.SettlementRef

	payer.failKind[ledger.AssetNative] = false
	require.NoError(t, p.Sweep(ctx))
	assert.True(t, store.leg(1, dd.LegPrincipal).Paid)
	assert.Len(t, payer.payments, 2)
	after := store.leg(1, dd.LegBonusWinner)
	require.NotNil(t, after.SettlementRef)
	assert.Equal(t, bonusRef, *after.SettlementRef)
}

func TestUnrecordedPaymentIsReRecordedWithoutResubmitting(t *testing.T) {
	store, payer, al, p := newFixture()
	ctx := context.Background()
	store.markErr = errors.New("connection refused")

	require.Error(t, p.Settle(ctx, 1))
	assert.Len(t, payer.payments, 2)
	assert.False(t, store.leg(1, dd.LegPrincipal).Paid)

	store.markErr = nil
	require.NoError(t, p.Sweep(ctx))
	assert.Len(t, payer.payments, 2)
	principal := store.leg(1, dd.LegPrincipal)
	assert.True(t, principal.Paid)
	assert.Equal(t, "tx1", *principal.SettlementRef)
	bonus := store.leg(1, dd.LegBonusWinner)
	assert.Equal(t, "tx2", *bonus.SettlementRef)

	var reconciled int
	for _, m := range al.msgs {
		if strings.HasPrefix(m, "Reconciled") {
			reconciled++
		}
	}
	assert.Equal(t, 2, reconciled)
}

func TestSweepWalksAllUnpaidDraws(t *testing.T) {
	store, payer, _, p := newFixture()
	store.draws[2] = testDraw(2)
	store.draws[3] = testDraw(3)
	for i := range store.draws[3].Legs {
		store.draws[3].Legs[i].Paid = true
	}

	require.NoError(t, p.Sweep(context.Background()))
	assert.Len(t, payer.payments, 4)
	assert.True(t, store.draws[1].Settled())
	assert.True(t, store.draws[2].Settled())
}

func TestSettleSkipsWhenLockedElsewhere(t *testing.T) {
	store := &memStore{draws: map[int64]*dd.Draw{1: testDraw(1)}}
	payer := &fakePayer{}
	p := NewProcessor(store, payer, hot, WithLocker(heldLock{}, time.Minute))

	require.NoError(t, p.Settle(context.Background(), 1))
	assert.Empty(t, payer.payments)
}

func TestPayoutLockSpansDraws(t *testing.T) {
	store := &memStore{draws: map[int64]*dd.Draw{1: testDraw(1), 2: testDraw(2)}}
	lock := &memLock{held: map[string]bool{}}
	slow := &blockingPayer{fakePayer: fakePayer{failKind: map[string]bool{}}, entered: make(chan struct{}), release: make(chan struct{})}
	other := &fakePayer{failKind: map[string]bool{}}
	a := NewProcessor(store, slow, hot, WithLocker(lock, time.Minute))
	b := NewProcessor(store, other, hot, WithLocker(lock, time.Minute))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- a.Settle(ctx, 1) }()
	<-slow.entered

	require.NoError(t, b.Settle(ctx, 2))
	assert.Empty(t, other.payments, "draw 2 must wait while draw 1 is paying")
	require.Len(t, lock.denied, 1)
	assert.ErrorIs(t, lock.denied[0], rplatform.ErrLocked)

	require.NoError(t, b.Sweep(ctx))
	assert.Empty(t, other.payments)

	close(slow.release)
	require.NoError(t, <-done)
	assert.True(t, store.leg(1, dd.LegPrincipal).Paid)

	require.NoError(t, b.Sweep(ctx))
	assert.Len(t, other.payments, 2)
	assert.True(t, store.leg(2, dd.LegPrincipal).Paid)
	for _, k := range lock.keys {
		assert.Equal(t, lockKey, k)
	}
}

func TestSweepTakesLockOnce(t *testing.T) {
	store := &memStore{draws: map[int64]*dd.Draw{1: testDraw(1), 2: testDraw(2)}}
	lock := &memLock{held: map[string]bool{}}
	payer := &fakePayer{failKind: map[string]bool{}}
	p := NewProcessor(store, payer, hot, WithLocker(lock, time.Minute))

	require.NoError(t, p.Sweep(context.Background()))
	assert.Len(t, payer.payments, 4)
	assert.Equal(t, []string{lockKey}, lock.keys)
	assert.Empty(t, lock.held)
}

func TestSettleUnknownDraw(t *testing.T) {
	_, _, _, p := newFixture()
	assert.Error(t, p.Settle(context.Background(), 42))
}

func TestFractionalAmountIsRejected(t *testing.T) {
	_, err := toLedgerOutputs([]dd.Output{{Address: winner, Amount: decimal.RequireFromString("1.5")}})
	assert.Error(t, err)

	outs, err := toLedgerOutputs([]dd.Output{{Address: winner, Amount: decimal.NewFromInt(3)}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), outs[0].Amount.Int64())
}
