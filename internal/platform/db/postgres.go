package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Pool bounds the database/sql connection pool.
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

var DefaultPool = Pool{MaxOpen: 20, MaxIdle: 5, MaxLifetime: 30 * time.Minute}

// connectAttempts covers Postgres starting alongside the bot.
const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// Open connects with lib/pq and pings until the server answers or the attempts run out.
func Open(ctx context.Context, dsn string, pool Pool) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty postgres DSN")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetConnMaxLifetime(pool.MaxLifetime)

	if err := ping(ctx, db, connectAttempts, connectBackoff); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ping(ctx context.Context, db *sql.DB, attempts int, backoff time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("postgres unreachable after %d attempts: %w", attempts, err)
}
