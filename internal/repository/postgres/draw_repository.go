package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	dd "github.com/open-builders/draw-airdrop-bot/internal/domain/draw"
	"github.com/open-builders/draw-airdrop-bot/internal/scoring"
)

// ErrDuplicateSeed is returned when a draw with the same seed value already exists.
var ErrDuplicateSeed = errors.New("draw with this seed already exists")

// DrawRepository persists draws, their balance snapshots and payout legs,
// plus the scheduler's next-draw timestamp.
type DrawRepository struct {
	db *sql.DB
}

func NewDrawRepository(db *sql.DB) *DrawRepository { return &DrawRepository{db: db} }

// CommitDraw writes the draw, its snapshots and legs, and the advanced schedule in
// a single transaction. It returns the new draw id.
func (r *DrawRepository) CommitDraw(ctx context.Context, d *dd.Draw, snapshots []dd.Snapshot, nextDrawAt time.Time) (id int64, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO draws (seed_value, seed_block, winner_address, referrer_address, balance_winner_address, total_points, total_balance, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING draw_id`,
		d.SeedValue, d.SeedBlock, d.WinnerAddress, d.ReferrerAddress, d.BalanceWinnerAddress, d.TotalPoints, d.TotalBalance, d.CreatedAt,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err, "draws_seed_value_key") {
			err = ErrDuplicateSeed
		}
		return 0, err
	}

	const qSnapshot = `INSERT INTO balance_snapshots (draw_id, address, balance, points) VALUES ($1,$2,$3,$4)`
	for _, s := range snapshots {
		if _, err = tx.ExecContext(ctx, qSnapshot, id, s.Address, s.Balance, s.Points); err != nil {
			return 0, err
		}
	}

	const qLeg = `INSERT INTO payout_legs (draw_id, kind, asset, outputs, paid) VALUES ($1,$2,$3,$4,false)`
	for _, l := range d.Legs {
		var outputs []byte
		outputs, err = json.Marshal(l.Outputs)
		if err != nil {
			return 0, fmt.Errorf("encode outputs: %w", err)
		}
		if _, err = tx.ExecContext(ctx, qLeg, id, string(l.Kind), l.Asset, outputs); err != nil {
			return 0, err
		}
	}

	if err = upsertSchedule(ctx, tx, nextDrawAt); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

const drawColumns = `draw_id, seed_value, seed_block, winner_address, referrer_address, balance_winner_address, total_points, total_balance, created_at`

func scanDraw(row interface{ Scan(...any) error }) (*dd.Draw, error) {
	var (
		d             dd.Draw
		seedBlock     sql.NullInt64
		referrer      sql.NullString
		balanceWinner sql.NullString
	)
	if err := row.Scan(&d.ID, &d.SeedValue, &seedBlock, &d.WinnerAddress, &referrer, &balanceWinner, &d.TotalPoints, &d.TotalBalance, &d.CreatedAt); err != nil {
		return nil, err
	}
	if seedBlock.Valid {
		v := seedBlock.Int64
		d.SeedBlock = &v
	}
	if referrer.Valid {
		v := referrer.String
		d.ReferrerAddress = &v
	}
	if balanceWinner.Valid {
		v := balanceWinner.String
		d.BalanceWinnerAddress = &v
	}
	return &d, nil
}

// GetDraw returns the draw with its legs, or nil when it does not exist.
func (r *DrawRepository) GetDraw(ctx context.Context, id int64) (*dd.Draw, error) {
	d, err := scanDraw(r.db.QueryRowContext(ctx, `SELECT `+drawColumns+` FROM draws WHERE draw_id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if d.Legs, err = r.legs(ctx, id); err != nil {
		return nil, err
	}
	return d, nil
}

// LatestDraw returns the most recent draw with its legs, or nil when none exists.
func (r *DrawRepository) LatestDraw(ctx context.Context) (*dd.Draw, error) {
	d, err := scanDraw(r.db.QueryRowContext(ctx, `SELECT `+drawColumns+` FROM draws ORDER BY draw_id DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if d.Legs, err = r.legs(ctx, d.ID); err != nil {
		return nil, err
	}
	return d, nil
}

// ListDraws returns draws newest first without legs.
func (r *DrawRepository) ListDraws(ctx context.Context, limit, offset int) ([]dd.Draw, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+drawColumns+` FROM draws ORDER BY draw_id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []dd.Draw
	for rows.Next() {
		d, err := scanDraw(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *DrawRepository) legs(ctx context.Context, drawID int64) ([]dd.Leg, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT draw_id, kind, asset, outputs, paid, settlement_ref, paid_at
		FROM payout_legs WHERE draw_id=$1`, drawID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []dd.Leg
	for rows.Next() {
		var (
			l       dd.Leg
			kind    string
			outputs []byte
			ref     sql.NullString
			paidAt  sql.NullTime
		)
		if err := rows.Scan(&l.DrawID, &kind, &l.Asset, &outputs, &l.Paid, &ref, &paidAt); err != nil {
			return nil, err
		}
		l.Kind = dd.LegKind(kind)
		if err := json.Unmarshal(outputs, &l.Outputs); err != nil {
			return nil, fmt.Errorf("decode outputs of %s leg: %w", kind, err)
		}
		if ref.Valid {
			v := ref.String
			l.SettlementRef = &v
		}
		if paidAt.Valid {
			v := paidAt.Time
			l.PaidAt = &v
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	dd.SortLegs(out)
	return out, nil
}

// ListDrawsWithUnpaidLegs returns ids of draws that still owe payments, oldest first.
func (r *DrawRepository) ListDrawsWithUnpaidLegs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT draw_id FROM payout_legs WHERE NOT paid ORDER BY draw_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkLegPaid records the settlement reference and flips paid in one statement.
// It reports false when the leg was already paid.
func (r *DrawRepository) MarkLegPaid(ctx context.Context, drawID int64, kind dd.LegKind, ref string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payout_legs SET paid=true, settlement_ref=$3, paid_at=$4
		WHERE draw_id=$1 AND kind=$2 AND NOT paid`, drawID, string(kind), ref, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// History returns, per address, the balance recorded at the latest draw and the
// highest balance recorded at any draw.
func (r *DrawRepository) History(ctx context.Context) (map[string]scoring.History, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.address,
		       MAX(s.balance) AS max_balance,
		       MAX(s.balance) FILTER (WHERE s.draw_id = (SELECT MAX(draw_id) FROM draws)) AS prev_balance
		FROM balance_snapshots s
		GROUP BY s.address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]scoring.History)
	for rows.Next() {
		var (
			addr    string
			maxBal  decimal.NullDecimal
			prevBal decimal.NullDecimal
			h       scoring.History
		)
		if err := rows.Scan(&addr, &maxBal, &prevBal); err != nil {
			return nil, err
		}
		if maxBal.Valid {
			v := maxBal.Decimal
			h.PrevMaxBalance = &v
		}
		if prevBal.Valid {
			v := prevBal.Decimal
			h.PrevBalance = &v
		}
		out[addr] = h
	}
	return out, rows.Err()
}

// Snapshots returns the snapshots of one draw ordered by address.
func (r *DrawRepository) Snapshots(ctx context.Context, drawID int64) ([]dd.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT draw_id, address, balance, points FROM balance_snapshots
		WHERE draw_id=$1 ORDER BY address`, drawID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []dd.Snapshot
	for rows.Next() {
		var s dd.Snapshot
		if err := rows.Scan(&s.DrawID, &s.Address, &s.Balance, &s.Points); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
