package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validParams = `
scoring:
  unit_value: "1000000000"
  tiers:
    - above: "10"
      rate: "0.1"
  unattested_rate: "0.1"
  increase_rate: "0.1"
  decrease_rate: "0.2"
  cap_factor: "2"
schedule:
  first_draw_at: 2026-11-02T12:00:00Z
  interval: 168h
oracle:
  feed: masterchain_block
  confirmations: 8
rewards:
  principal:
    winner: "10000000000"
    referrer: "5000000000"
attestors: ["0:aa"]
excluded_addresses: ["0:ff"]
`

func TestParseParams(t *testing.T) {
	p, err := ParseParams([]byte(validParams))
	require.NoError(t, err)

	sc := p.ScoringConfig()
	assert.True(t, sc.UnitValue.Equal(decimal.New(1, 9)))
	assert.True(t, sc.BaseRate.Equal(decimal.NewFromInt(1)))
	require.Len(t, sc.Tiers, 1)
	assert.True(t, sc.DecreaseRate.Equal(decimal.RequireFromString("0.2")))

	assert.Equal(t, 168*time.Hour, p.Schedule.Interval)
	assert.Equal(t, time.Date(2026, 11, 2, 12, 0, 0, 0, time.UTC), p.Schedule.FirstDrawAt.UTC())
	assert.Equal(t, FeedMasterchainBlock, p.Oracle.Feed)
	assert.Equal(t, uint32(8), p.Oracle.Confirmations)

	assert.Equal(t, ReferralAttestedOnly, p.ReferralPolicy())
	assert.True(t, p.RequireAttestedWinner())
	assert.True(t, p.IsAttestor("0:aa"))
	assert.False(t, p.IsAttestor("0:bb"))
	assert.True(t, p.IsExcluded("0:ff"))
	assert.True(t, Amount(p.Rewards.Principal.Referrer).Equal(decimal.NewFromInt(5_000_000_000)))
	assert.True(t, Amount(p.Rewards.Bonus.Winner).IsZero())
}

func TestParseParamsRejectsInvalid(t *testing.T) {
	cases := []struct {
		name     string
		old, new string
	}{
		{"unknown feed", "feed: masterchain_block", "feed: bitcoin"},
		{"missing source", "feed: masterchain_block", "feed: account_last_tx"},
		{"bad number", `unit_value: "1000000000"`, `unit_value: "abc"`},
		{"zero unit", `unit_value: "1000000000"`, `unit_value: "0"`},
		{"cap below one", `cap_factor: "2"`, `cap_factor: "0.5"`},
		{"bad policy", `attestors: ["0:aa"]`, "attestors: [\"0:aa\"]\nreferral: {policy: always}"},
		{"bonus without asset", `referrer: "5000000000"`, "referrer: \"5000000000\"\n  bonus: {winner: \"5\"}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := strings.Replace(validParams, tc.old, tc.new, 1)
			require.NotEqual(t, validParams, doc)
			_, err := ParseParams([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParamsLoaderKeepsLastGood(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validParams), 0o600))

	l, err := NewParamsLoader(path, zerolog.Nop())
	require.NoError(t, err)
	first := l.Current()
	require.NotNil(t, first)

	require.NoError(t, os.WriteFile(path, []byte("scoring: ["), 0o600))
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now().Add(time.Minute)))
	assert.Same(t, first, l.Current())

	updated := validParams + "secondary_draw: {enabled: true}\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now().Add(2*time.Minute)))
	next := l.Current()
	assert.NotSame(t, first, next)
	assert.True(t, next.SecondaryDraw.Enabled)
}

func TestNewParamsLoaderFailsOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte("oracle: {feed: nope}"), 0o600))

	_, err := NewParamsLoader(path, zerolog.Nop())
	assert.Error(t, err)
}
