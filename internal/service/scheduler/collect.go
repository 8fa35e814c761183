package scheduler

import (
	"context"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/open-builders/draw-airdrop-bot/internal/config"
	"github.com/open-builders/draw-airdrop-bot/internal/scoring"
	"github.com/open-builders/draw-airdrop-bot/internal/service/registration"
)

// Registry is the registration read model the scheduler consumes.
type Registry interface {
	AddressesForDraw(ctx context.Context) ([]registration.DrawAddress, error)
	ResolveAttestation(ctx context.Context, address string) (bool, error)
	ReferrerAddress(ctx context.Context, code, policy string) (string, bool, error)
}

// BalanceReader returns confirmed balances in base units.
type BalanceReader interface {
	Balance(ctx context.Context, address string) (*big.Int, error)
}

// HistoryReader returns what previous draws recorded per address.
type HistoryReader interface {
	History(ctx context.Context) (map[string]scoring.History, error)
}

// Scored is one address with its balance and point breakdown.
type Scored struct {
	Address    string            `json:"address"`
	UserID     int64             `json:"-"`
	Attested   bool              `json:"attested"`
	ReferredBy *string           `json:"-"`
	Balance    decimal.Decimal   `json:"balance"`
	Breakdown  scoring.Breakdown `json:"breakdown"`
}

// Points is what the address contributes to the pool; never negative.
func (s Scored) Points() decimal.Decimal {
	if s.Breakdown.Eligible() {
		return s.Breakdown.Total
	}
	return decimal.Zero
}

// Collector scores every registered address. The scheduler uses it to build the pool and
// the status report to show live standings.
type Collector struct {
	registry Registry
	balances BalanceReader
	history  HistoryReader
	log      zerolog.Logger
}

func NewCollector(registry Registry, balances BalanceReader, history HistoryReader, log zerolog.Logger) *Collector {
	return &Collector{registry: registry, balances: balances, history: history, log: log}
}

// Collect scores all addresses not excluded. With refresh set, unattested addresses get their
// attestation re-resolved first. Any balance failure aborts the whole collection.
func (c *Collector) Collect(ctx context.Context, params *config.Params, excluded func(string) bool, refresh bool) ([]Scored, error) {
	addrs, err := c.registry.AddressesForDraw(ctx)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	hist, err := c.history.History(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	cfg := params.ScoringConfig()

	out := make([]Scored, 0, len(addrs))
	for _, a := range addrs {
		if excluded != nil && excluded(a.Address) {
			continue
		}
		attested := a.Attested
		if !attested && refresh {
			if attested, err = c.registry.ResolveAttestation(ctx, a.Address); err != nil {
				c.log.Warn().Err(err).Str("address", a.Address).Msg("attestation refresh failed, scoring as unattested")
				attested = false
			}
		}
		bal, err := c.balances.Balance(ctx, a.Address)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", a.Address, err)
		}
		balance := decimal.NewFromBigInt(bal, 0)
		out = append(out, Scored{
			Address:    a.Address,
			UserID:     a.UserID,
			Attested:   attested,
			ReferredBy: a.ReferredBy,
			Balance:    balance,
			Breakdown:  scoring.ScoreHistory(balance, attested, hist[a.Address], cfg),
		})
	}
	return out, nil
}
