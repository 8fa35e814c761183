package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dd "github.com/open-builders/draw-airdrop-bot/internal/domain/draw"
)

func newMock(t *testing.T) (*DrawRepository, *ParticipantRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewDrawRepository(db), NewParticipantRepository(db), mock
}

func sampleDraw() *dd.Draw {
	ref := "0:bb"
	block := int64(41_000_123)
	return &dd.Draw{
		SeedValue:       "ab12",
		SeedBlock:       &block,
		WinnerAddress:   "0:aa",
		ReferrerAddress: &ref,
		TotalPoints:     decimal.RequireFromString("24"),
		TotalBalance:    decimal.RequireFromString("60000000000"),
		CreatedAt:       time.Date(2026, 11, 2, 12, 0, 0, 0, time.UTC),
		Legs: []dd.Leg{{
			Kind:  dd.LegPrincipal,
			Asset: "ton",
			Outputs: []dd.Output{
				{Address: "0:aa", Amount: decimal.NewFromInt(10)},
				{Address: "0:bb", Amount: decimal.NewFromInt(5)},
			},
		}},
	}
}

func TestCommitDrawWritesEverythingInOneTx(t *testing.T) {
	repo, _, mock := newMock(t)
	next := time.Date(2026, 11, 9, 12, 0, 0, 0, time.UTC)
	snapshots := []dd.Snapshot{
		{Address: "0:aa", Balance: decimal.RequireFromString("50000000000"), Points: decimal.RequireFromString("14")},
		{Address: "0:bb", Balance: decimal.RequireFromString("10000000000"), Points: decimal.RequireFromString("10")},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO draws")).
		WithArgs("ab12", int64(41_000_123), "0:aa", "0:bb", nil, "24", "60000000000", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"draw_id"}).AddRow(7))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO balance_snapshots")).
		WithArgs(int64(7), "0:aa", "50000000000", "14").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO balance_snapshots")).
		WithArgs(int64(7), "0:bb", "10000000000", "10").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payout_legs")).
		WithArgs(int64(7), "principal", "ton", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scheduler_state")).
		WithArgs(next).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id, err := repo.CommitDraw(context.Background(), sampleDraw(), snapshots, next)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitDrawRollsBackOnFailure(t *testing.T) {
	repo, _, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO draws")).
		WillReturnRows(sqlmock.NewRows([]string{"draw_id"}).AddRow(8))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO balance_snapshots")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := repo.CommitDraw(context.Background(), sampleDraw(),
		[]dd.Snapshot{{Address: "0:aa", Balance: decimal.NewFromInt(1), Points: decimal.NewFromInt(1)}}, time.Now())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitDrawDuplicateSeed(t *testing.T) {
	repo, _, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO draws")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "draws_seed_value_key"})
	mock.ExpectRollback()

	_, err := repo.CommitDraw(context.Background(), sampleDraw(), nil, time.Now())
	assert.ErrorIs(t, err, ErrDuplicateSeed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDrawWithLegs(t *testing.T) {
	repo, _, mock := newMock(t)
	created := time.Date(2026, 11, 2, 12, 0, 0, 0, time.UTC)
	paidAt := created.Add(time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("FROM draws WHERE draw_id=$1")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"draw_id", "seed_value", "seed_block", "winner_address", "referrer_address", "balance_winner_address", "total_points", "total_balance", "created_at"}).
			AddRow(3, "ff", int64(41_000_123), "0:aa", nil, "0:cc", "24.5", "60000000000", created))
	mock.ExpectQuery(regexp.QuoteMeta("FROM payout_legs WHERE draw_id=$1")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"draw_id", "kind", "asset", "outputs", "paid", "settlement_ref", "paid_at"}).
			AddRow(3, "bonus-winner", "0:jj", []byte(`[{"address":"0:aa","amount":"7"}]`), false, nil, nil).
			AddRow(3, "principal", "ton", []byte(`[{"address":"0:aa","amount":"10"}]`), true, "deadbeef", paidAt))

	d, err := repo.GetDraw(context.Background(), 3)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Nil(t, d.ReferrerAddress)
	require.NotNil(t, d.SeedBlock)
	assert.Equal(t, int64(41_000_123), *d.SeedBlock)
	require.NotNil(t, d.BalanceWinnerAddress)
	assert.Equal(t, "0:cc", *d.BalanceWinnerAddress)
	assert.True(t, d.TotalPoints.Equal(decimal.RequireFromString("24.5")))

	require.Len(t, d.Legs, 2)
	assert.Equal(t, dd.LegPrincipal, d.Legs[0].Kind)
	assert.True(t, d.Legs[0].Paid)
	require.NotNil(t, d.Legs[0].SettlementRef)
	assert.Equal(t, "deadbeef", *d.Legs[0].SettlementRef)
	assert.Equal(t, dd.LegBonusWinner, d.Legs[1].Kind)
	assert.True(t, d.Legs[1].Outputs[0].Amount.Equal(decimal.NewFromInt(7)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDrawMissing(t *testing.T) {
	repo, _, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM draws WHERE draw_id=$1")).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"draw_id"}))

	d, err := repo.GetDraw(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestMarkLegPaid(t *testing.T) {
	repo, _, mock := newMock(t)
	at := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payout_legs SET paid=true")).
		WithArgs(int64(3), "principal", "abcd", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE payout_legs SET paid=true")).
		WithArgs(int64(3), "principal", "abcd", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkLegPaid(context.Background(), 3, dd.LegPrincipal, "abcd", at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkLegPaid(context.Background(), 3, dd.LegPrincipal, "abcd", at)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistory(t *testing.T) {
	repo, _, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM balance_snapshots s")).
		WillReturnRows(sqlmock.NewRows([]string{"address", "max_balance", "prev_balance"}).
			AddRow("0:aa", "30", "20").
			AddRow("0:bb", "5", nil))

	h, err := repo.History(context.Background())
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.True(t, h["0:aa"].PrevMaxBalance.Equal(decimal.NewFromInt(30)))
	assert.True(t, h["0:aa"].PrevBalance.Equal(decimal.NewFromInt(20)))
	assert.Nil(t, h["0:bb"].PrevBalance)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextDrawAtAndAdvance(t *testing.T) {
	repo, _, mock := newMock(t)
	next := time.Date(2026, 11, 9, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT next_draw_at FROM scheduler_state")).
		WillReturnRows(sqlmock.NewRows([]string{"next_draw_at"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scheduler_state")).
		WithArgs(next).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT next_draw_at FROM scheduler_state")).
		WillReturnRows(sqlmock.NewRows([]string{"next_draw_at"}).AddRow(next))

	got, err := repo.NextDrawAt(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.AdvanceSchedule(context.Background(), next))

	got, err = repo.NextDrawAt(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, next.Equal(*got))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDrawsWithUnpaidLegs(t *testing.T) {
	repo, _, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT draw_id FROM payout_legs WHERE NOT paid")).
		WillReturnRows(sqlmock.NewRows([]string{"draw_id"}).AddRow(1).AddRow(4))

	ids, err := repo.ListDrawsWithUnpaidLegs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4}, ids)
}
