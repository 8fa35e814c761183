package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertSchedule(ctx context.Context, ex execer, next time.Time) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO scheduler_state (id, next_draw_at) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET next_draw_at=EXCLUDED.next_draw_at`, next)
	return err
}

// NextDrawAt returns the persisted next-draw time, or nil before the first write.
func (r *DrawRepository) NextDrawAt(ctx context.Context) (*time.Time, error) {
	var t time.Time
	err := r.db.QueryRowContext(ctx, `SELECT next_draw_at FROM scheduler_state WHERE id=1`).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// AdvanceSchedule persists the next-draw time without recording a draw.
func (r *DrawRepository) AdvanceSchedule(ctx context.Context, next time.Time) error {
	return upsertSchedule(ctx, r.db, next)
}
