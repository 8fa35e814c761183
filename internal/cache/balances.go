// Package cache holds the read-through caches in front of the ledger and draw history.
// Both are emptied when a draw commits.
package cache

import (
	"context"
	"math/big"

	"github.com/rs/zerolog"
)

// BalanceReader is the uncached source of balances.
type BalanceReader interface {
	Balance(ctx context.Context, address string) (*big.Int, error)
}

// BalanceStore is the cache backend.
type BalanceStore interface {
	Get(ctx context.Context, address string) (*big.Int, bool, error)
	Set(ctx context.Context, address string, balance *big.Int) error
	Invalidate(ctx context.Context, address string) error
	Clear(ctx context.Context) error
}

// Balances reads balances through the store. Store failures never fail a read.
type Balances struct {
	src   BalanceReader
	store BalanceStore
	log   zerolog.Logger
}

func NewBalances(src BalanceReader, store BalanceStore, log zerolog.Logger) *Balances {
	return &Balances{src: src, store: store, log: log}
}

func (b *Balances) Balance(ctx context.Context, address string) (*big.Int, error) {
	if v, ok, err := b.store.Get(ctx, address); err != nil {
		b.log.Warn().Err(err).Str("address", address).Msg("balance cache read failed")
	} else if ok {
		return v, nil
	}

	v, err := b.src.Balance(ctx, address)
	if err != nil {
		return nil, err
	}
	if err := b.store.Set(ctx, address, v); err != nil {
		b.log.Warn().Err(err).Str("address", address).Msg("balance cache write failed")
	}
	return v, nil
}

// Invalidate drops one address, typically after new ledger activity on it.
func (b *Balances) Invalidate(ctx context.Context, address string) error {
	return b.store.Invalidate(ctx, address)
}

// Clear drops every entry.
func (b *Balances) Clear(ctx context.Context) error {
	return b.store.Clear(ctx)
}
