// Package ledger defines what the draw bot needs from the ledger it pays out on.
package ledger

import (
	"context"
	"math/big"
)

// AssetNative is the asset id of the ledger's native coin.
const AssetNative = "ton"

// Output is one recipient of a payment.
type Output struct {
	Address string
	Amount  *big.Int
}

// Gateway is the ledger surface used by draws and payouts.
type Gateway interface {
	// Balance returns the confirmed native balance of address in base units.
	Balance(ctx context.Context, address string) (*big.Int, error)
	// StableOracleValue returns the latest final value of the feed, or nil when
	// no value is final yet.
	StableOracleValue(ctx context.Context, feed, source string) ([]byte, error)
	// SubmitPayment sends one payment with all outputs and returns its settlement reference.
	SubmitPayment(ctx context.Context, asset string, outputs []Output, source string) (string, error)
}
