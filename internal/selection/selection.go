// Package selection picks draw winners with a roulette wheel driven by a public seed.
package selection

import (
	"crypto/sha256"
	"errors"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"
)

// targetPlaces is the number of fractional digits kept for the wheel target.
const targetPlaces = 32

var ErrEmptyPool = errors.New("selection: no positive weight in pool")

var two256 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 256), 0)

// Entry is one candidate on the wheel.
type Entry struct {
	Address string
	Weight  decimal.Decimal
}

// Digest is the primary hash of a seed.
func Digest(seed []byte) []byte {
	sum := sha256.Sum256(seed)
	return sum[:]
}

// SecondaryDigest derives an independent hash from the same seed by hashing twice.
func SecondaryDigest(seed []byte) []byte {
	first := sha256.Sum256(seed)
	second := sha256.Sum256(first[:])
	return second[:]
}

// Target maps a 256-bit digest uniformly onto [0, total).
func Target(digest []byte, total decimal.Decimal) decimal.Decimal {
	n := decimal.NewFromBigInt(new(big.Int).SetBytes(digest), 0)
	return n.Mul(total).DivRound(two256, targetPlaces)
}

// PickIndex returns the first index whose cumulative weight reaches r.
func PickIndex(weights []decimal.Decimal, r decimal.Decimal) int {
	cum := decimal.Zero
	for i, w := range weights {
		cum = cum.Add(w)
		if cum.GreaterThanOrEqual(r) {
			return i
		}
	}
	return len(weights) - 1
}

// Pool drops non-positive weights and orders entries by address so that the wheel
// layout is independent of the order the entries were collected in.
func Pool(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Weight.IsPositive() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Total sums the weights of a pool.
func Total(pool []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range pool {
		total = total.Add(e.Weight)
	}
	return total
}

// Pick runs the wheel over entries with the given digest.
func Pick(entries []Entry, digest []byte) (Entry, error) {
	pool := Pool(entries)
	if len(pool) == 0 {
		return Entry{}, ErrEmptyPool
	}
	weights := make([]decimal.Decimal, len(pool))
	for i, e := range pool {
		weights[i] = e.Weight
	}
	r := Target(digest, Total(pool))
	return pool[PickIndex(weights, r)], nil
}
