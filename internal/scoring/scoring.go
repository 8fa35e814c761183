// Package scoring turns a ledger balance plus draw history into draw points.
//
// All arithmetic uses decimals; balances are integer base units and are
// normalized by Config.UnitValue before any rate is applied.
package scoring

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// divisionPlaces is the number of fractional digits kept when normalizing balances.
const divisionPlaces = 18

// Tier switches the accrual rate for the normalized balance above Above.
type Tier struct {
	Above decimal.Decimal
	Rate  decimal.Decimal
}

// Config holds the scoring parameters. It is rebuilt from the params file before each draw.
type Config struct {
	UnitValue      decimal.Decimal
	BaseRate       decimal.Decimal // rate for the segment below the first tier
	Tiers          []Tier          // ascending by Above
	UnattestedRate decimal.Decimal
	IncreaseRate   decimal.Decimal
	DecreaseRate   decimal.Decimal
	CapFactor      decimal.Decimal
}

// DefaultConfig mirrors the production defaults: one threshold at 10 units.
func DefaultConfig() Config {
	return Config{
		UnitValue:      decimal.New(1, 9),
		BaseRate:       decimal.NewFromInt(1),
		Tiers:          []Tier{{Above: decimal.NewFromInt(10), Rate: decimal.RequireFromString("0.1")}},
		UnattestedRate: decimal.RequireFromString("0.1"),
		IncreaseRate:   decimal.RequireFromString("0.1"),
		DecreaseRate:   decimal.RequireFromString("0.1"),
		CapFactor:      decimal.NewFromInt(2),
	}
}

func (c Config) Validate() error {
	if !c.UnitValue.IsPositive() {
		return errors.New("unit value must be positive")
	}
	if c.CapFactor.LessThan(decimal.NewFromInt(1)) {
		return errors.New("cap factor must be >= 1")
	}
	for name, rate := range map[string]decimal.Decimal{
		"base rate":       c.BaseRate,
		"unattested rate": c.UnattestedRate,
		"increase rate":   c.IncreaseRate,
		"decrease rate":   c.DecreaseRate,
	} {
		if rate.IsNegative() {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	prev := decimal.Zero
	for i, t := range c.Tiers {
		if !t.Above.GreaterThan(prev) {
			return fmt.Errorf("tier %d: boundary must be above %s", i, prev)
		}
		if t.Rate.IsNegative() {
			return fmt.Errorf("tier %d: rate must not be negative", i)
		}
		prev = t.Above
	}
	return nil
}

// TierPoints is one accrual segment of a breakdown. To is nil for the open-ended top segment.
type TierPoints struct {
	From   decimal.Decimal  `json:"from"`
	To     *decimal.Decimal `json:"to,omitempty"`
	Rate   decimal.Decimal  `json:"rate"`
	Points decimal.Decimal  `json:"points"`
}

// Breakdown itemizes how a balance was scored. Total is the sum of all tiers and Momentum.
type Breakdown struct {
	Normalized decimal.Decimal `json:"normalized_balance"`
	Attested   bool            `json:"attested"`
	Tiers      []TierPoints    `json:"tiers"`
	Momentum   decimal.Decimal `json:"momentum"`
	Total      decimal.Decimal `json:"total"`
}

// BelowThreshold returns the points of the first segment.
func (b Breakdown) BelowThreshold() decimal.Decimal {
	if len(b.Tiers) == 0 {
		return decimal.Zero
	}
	return b.Tiers[0].Points
}

// AboveThreshold returns the points of every segment after the first.
func (b Breakdown) AboveThreshold() decimal.Decimal {
	sum := decimal.Zero
	for i := 1; i < len(b.Tiers); i++ {
		sum = sum.Add(b.Tiers[i].Points)
	}
	return sum
}

// Eligible reports whether the address enters the selection pool.
func (b Breakdown) Eligible() bool {
	return b.Total.IsPositive()
}

// History is what the previous draws recorded for an address. Nil fields mean no record.
type History struct {
	PrevBalance    *decimal.Decimal
	PrevMaxBalance *decimal.Decimal
}

// Score computes the points for one address. It is pure and deterministic.
func Score(balance decimal.Decimal, attested bool, prevMaxBalance, prevBalance *decimal.Decimal, cfg Config) Breakdown {
	normalized := normalize(balance, cfg)
	b := Breakdown{Normalized: normalized, Attested: attested}

	if attested {
		b.Tiers = tiered(normalized, cfg)
	} else {
		b.Tiers = []TierPoints{{
			From:   decimal.Zero,
			Rate:   cfg.UnattestedRate,
			Points: normalized.Mul(cfg.UnattestedRate),
		}}
	}

	b.Momentum = momentum(balance, prevMaxBalance, prevBalance, cfg)

	total := b.Momentum
	for _, t := range b.Tiers {
		total = total.Add(t.Points)
	}
	b.Total = total
	return b
}

// ScoreHistory is Score with the history bundled.
func ScoreHistory(balance decimal.Decimal, attested bool, h History, cfg Config) Breakdown {
	return Score(balance, attested, h.PrevMaxBalance, h.PrevBalance, cfg)
}

func normalize(amount decimal.Decimal, cfg Config) decimal.Decimal {
	return amount.DivRound(cfg.UnitValue, divisionPlaces)
}

func tiered(normalized decimal.Decimal, cfg Config) []TierPoints {
	out := make([]TierPoints, 0, len(cfg.Tiers)+1)
	lower := decimal.Zero
	rate := cfg.BaseRate
	for i := 0; i <= len(cfg.Tiers); i++ {
		var upper *decimal.Decimal
		if i < len(cfg.Tiers) {
			u := cfg.Tiers[i].Above
			upper = &u
		}

		portion := decimal.Max(normalized.Sub(lower), decimal.Zero)
		if upper != nil {
			portion = decimal.Min(portion, upper.Sub(lower))
		}
		out = append(out, TierPoints{
			From:   lower,
			To:     upper,
			Rate:   rate,
			Points: portion.Mul(rate),
		})

		if upper == nil {
			break
		}
		lower = *upper
		rate = cfg.Tiers[i].Rate
	}
	return out
}

func momentum(balance decimal.Decimal, prevMax, prev *decimal.Decimal, cfg Config) decimal.Decimal {
	if prevMax != nil && balance.GreaterThan(*prevMax) {
		increase := normalize(balance.Sub(*prevMax), cfg)
		limit := normalize(prevMax.Mul(cfg.CapFactor.Sub(decimal.NewFromInt(1))), cfg)
		return decimal.Min(increase, limit).Mul(cfg.IncreaseRate)
	}
	if prev != nil && balance.LessThan(*prev) {
		decrease := normalize(prev.Sub(balance), cfg)
		return decrease.Mul(cfg.DecreaseRate).Neg()
	}
	return decimal.Zero
}
