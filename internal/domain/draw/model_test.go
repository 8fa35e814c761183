package draw

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnpaidLegsInSettlementOrder(t *testing.T) {
	d := &Draw{Legs: []Leg{
		{Kind: LegBonusReferrer},
		{Kind: LegPrincipal, Paid: true},
		{Kind: LegBalanceWinner},
		{Kind: LegBonusWinner},
	}}

	unpaid := d.UnpaidLegs()
	kinds := make([]LegKind, 0, len(unpaid))
	for _, l := range unpaid {
		kinds = append(kinds, l.Kind)
	}
	assert.Equal(t, []LegKind{LegBonusWinner, LegBonusReferrer, LegBalanceWinner}, kinds)
	assert.False(t, d.Settled())

	for i := range d.Legs {
		d.Legs[i].Paid = true
	}
	assert.True(t, d.Settled())
	assert.Empty(t, d.UnpaidLegs())
}
