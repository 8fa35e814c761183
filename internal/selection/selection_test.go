package selection

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestPickIndexCumulative(t *testing.T) {
	weights := []decimal.Decimal{dec(10), dec(20), dec(30)}

	assert.Equal(t, 1, PickIndex(weights, dec(15)))
	assert.Equal(t, 0, PickIndex(weights, dec(0)))
	assert.Equal(t, 0, PickIndex(weights, dec(10)))
	assert.Equal(t, 1, PickIndex(weights, dec(30)))
	assert.Equal(t, 2, PickIndex(weights, decimal.RequireFromString("30.0001")))
	assert.Equal(t, 2, PickIndex(weights, dec(60)))
}

func TestTargetBounds(t *testing.T) {
	total := dec(60)

	zero := make([]byte, 32)
	assert.True(t, Target(zero, total).IsZero())

	max := bytes.Repeat([]byte{0xff}, 32)
	r := Target(max, total)
	assert.True(t, r.LessThanOrEqual(total))
	assert.True(t, r.GreaterThan(dec(59)))

	half := append([]byte{0x80}, make([]byte, 31)...)
	assert.True(t, Target(half, total).Equal(dec(30)))
}

func TestPickIsDeterministicAndOrderIndependent(t *testing.T) {
	a := []Entry{
		{Address: "0:aa", Weight: dec(10)},
		{Address: "0:bb", Weight: dec(20)},
		{Address: "0:cc", Weight: dec(30)},
	}
	b := []Entry{a[2], a[0], a[1]}
	seed := []byte("masterchain block root hash")

	w1, err := Pick(a, Digest(seed))
	require.NoError(t, err)
	w2, err := Pick(b, Digest(seed))
	require.NoError(t, err)
	assert.Equal(t, w1.Address, w2.Address)
}

func TestPickSkipsNonPositive(t *testing.T) {
	entries := []Entry{
		{Address: "0:aa", Weight: dec(0)},
		{Address: "0:bb", Weight: dec(-5)},
		{Address: "0:cc", Weight: dec(1)},
	}
	for _, seed := range []string{"a", "b", "c", "d"} {
		w, err := Pick(entries, Digest([]byte(seed)))
		require.NoError(t, err)
		assert.Equal(t, "0:cc", w.Address)
	}
}

func TestPickEmptyPool(t *testing.T) {
	_, err := Pick([]Entry{{Address: "0:aa", Weight: dec(0)}}, Digest([]byte("x")))
	assert.ErrorIs(t, err, ErrEmptyPool)

	_, err = Pick(nil, Digest([]byte("x")))
	assert.ErrorIs(t, err, ErrEmptyPool)
}

func TestSecondaryDigestDiffers(t *testing.T) {
	seed := []byte("seed")
	assert.NotEqual(t, Digest(seed), SecondaryDigest(seed))
	assert.Equal(t, SecondaryDigest(seed), Digest(Digest(seed)))
}

func TestPickFrequencyFollowsWeights(t *testing.T) {
	entries := []Entry{
		{Address: "0:a", Weight: dec(1)},
		{Address: "0:b", Weight: dec(3)},
	}
	counts := map[string]int{}
	digest := Digest([]byte("start"))
	for i := 0; i < 4000; i++ {
		w, err := Pick(entries, digest)
		require.NoError(t, err)
		counts[w.Address]++
		digest = Digest(digest)
	}
	share := float64(counts["0:b"]) / 4000
	assert.InDelta(t, 0.75, share, 0.05)
}
