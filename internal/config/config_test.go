package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ADMIN_CHAT_IDS", "10,20")
	t.Setenv("PAYOUT_SWEEP_INTERVAL", "5m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, time.Minute, cfg.DrawPollInterval)
	assert.Equal(t, 5*time.Minute, cfg.PayoutSweepInterval)
	assert.Equal(t, []int64{10, 20}, cfg.AdminChatIDs)
	assert.Equal(t, "ledger:events", cfg.LedgerStream)
	assert.Equal(t, uint32(8), cfg.TonOracleConfirmations)
	assert.Empty(t, cfg.WalletWords())
}

func TestLoadRejectsShortSeed(t *testing.T) {
	t.Setenv("WALLET_SEED", "one two three")

	_, err := Load()
	assert.Error(t, err)
}

func TestWalletWords(t *testing.T) {
	words := strings.Repeat("word ", 24)
	cfg := &Config{WalletSeed: words, DrawPollInterval: time.Second, PayoutSweepInterval: time.Second}

	assert.Len(t, cfg.WalletWords(), 24)
	assert.NoError(t, cfg.validate())
}
