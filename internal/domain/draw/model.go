package draw

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// LegKind identifies one payment obligation of a draw.
type LegKind string

const (
	LegPrincipal     LegKind = "principal"
	LegBonusWinner   LegKind = "bonus-winner"
	LegBonusReferrer LegKind = "bonus-referrer"
	LegBalanceWinner LegKind = "balance-winner"
)

var legOrder = map[LegKind]int{
	LegPrincipal:     0,
	LegBonusWinner:   1,
	LegBonusReferrer: 2,
	LegBalanceWinner: 3,
}

// Order is the settlement order of the leg kind.
func (k LegKind) Order() int {
	if o, ok := legOrder[k]; ok {
		return o
	}
	return len(legOrder)
}

// Output is one recipient of a leg.
type Output struct {
	Address string          `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
}

// Leg is a payout obligation. Paid only moves from false to true.
type Leg struct {
	DrawID        int64      `json:"draw_id"`
	Kind          LegKind    `json:"kind"`
	Asset         string     `json:"asset"`
	Outputs       []Output   `json:"outputs"`
	Paid          bool       `json:"paid"`
	SettlementRef *string    `json:"settlement_ref,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

// Snapshot is the balance and points an address had when a draw was taken.
type Snapshot struct {
	DrawID  int64           `json:"draw_id"`
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
	Points  decimal.Decimal `json:"points"`
}

// Draw is an immutable record of one completed draw.
type Draw struct {
	ID                   int64           `json:"draw_id"`
	SeedValue            string          `json:"seed_value"`
	SeedBlock            *int64          `json:"seed_block,omitempty"` // masterchain seqno the seed was read at
	WinnerAddress        string          `json:"winner_address"`
	ReferrerAddress      *string         `json:"referrer_address,omitempty"`
	BalanceWinnerAddress *string         `json:"balance_winner_address,omitempty"`
	TotalPoints          decimal.Decimal `json:"total_points"`
	TotalBalance         decimal.Decimal `json:"total_balance"`
	CreatedAt            time.Time       `json:"created_at"`
	Legs                 []Leg           `json:"legs,omitempty"`
}

// UnpaidLegs returns the legs still owed, in settlement order.
func (d *Draw) UnpaidLegs() []Leg {
	out := make([]Leg, 0, len(d.Legs))
	for _, l := range d.Legs {
		if !l.Paid {
			out = append(out, l)
		}
	}
	SortLegs(out)
	return out
}

// Settled reports whether every leg has been paid.
func (d *Draw) Settled() bool {
	for _, l := range d.Legs {
		if !l.Paid {
			return false
		}
	}
	return true
}

// SortLegs orders legs by settlement order.
func SortLegs(legs []Leg) {
	sort.SliceStable(legs, func(i, j int) bool { return legs[i].Kind.Order() < legs[j].Kind.Order() })
}
