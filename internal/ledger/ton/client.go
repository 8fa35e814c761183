// Package ton implements the ledger gateway on the TON blockchain.
package ton

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/jetton"
	"github.com/xssnick/tonutils-go/ton/wallet"

	"github.com/open-builders/draw-airdrop-bot/internal/config"
	"github.com/open-builders/draw-airdrop-bot/internal/ledger"
)

var (
	ErrNoWallet     = errors.New("ton: payout wallet is not configured")
	ErrWrongSource  = errors.New("ton: payment source is not the payout wallet")
	ErrUnknownFeed  = errors.New("ton: unknown oracle feed")
	ErrEmptyPayment = errors.New("ton: payment has no outputs")
)

// jettonTransferFee is attached to every jetton transfer message to cover forwarding.
var jettonTransferFee = tlb.MustFromTON("0.05")

// Client is the TON ledger gateway.
type Client struct {
	api    ton.APIClientWrapped
	wallet *wallet.Wallet
	tonapi *TonAPI
	log    zerolog.Logger

	confirmations uint32
}

type Option func(*Client)

// WithWallet enables payments from the given wallet.
func WithWallet(w *wallet.Wallet) Option { return func(c *Client) { c.wallet = w } }

// WithTonAPI enables the HTTP balance fallback.
func WithTonAPI(t *TonAPI) Option { return func(c *Client) { c.tonapi = t } }

// WithLogger sets the component logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.log = l } }

// WithConfirmations sets the default oracle depth behind the masterchain tip.
func WithConfirmations(n uint32) Option { return func(c *Client) { c.confirmations = n } }

// Dial connects to lite servers from a global config URL.
func Dial(ctx context.Context, configURL string) (ton.APIClientWrapped, error) {
	pool := liteclient.NewConnectionPool()
	if err := pool.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
		return nil, fmt.Errorf("connect lite servers: %w", err)
	}
	return ton.NewAPIClient(pool, ton.ProofCheckPolicyFast).WithRetry(), nil
}

// OpenWallet restores the v4r2 payout wallet from its seed phrase.
func OpenWallet(api ton.APIClientWrapped, words []string) (*wallet.Wallet, error) {
	w, err := wallet.FromSeed(api, words, wallet.V4R2)
	if err != nil {
		return nil, fmt.Errorf("open wallet: %w", err)
	}
	return w, nil
}

func New(api ton.APIClientWrapped, opts ...Option) *Client {
	c := &Client{api: api, log: zerolog.Nop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// WalletAddress returns the raw address of the payout wallet, or "" when none is set.
func (c *Client) WalletAddress() string {
	if c.wallet == nil {
		return ""
	}
	return c.wallet.WalletAddress().StringRaw()
}

// Balance reads the account state at the current masterchain block and falls back to TonAPI.
func (c *Client) Balance(ctx context.Context, addr string) (*big.Int, error) {
	bal, err := c.liteBalance(ctx, addr)
	if err == nil {
		return bal, nil
	}
	if c.tonapi == nil {
		return nil, err
	}
	c.log.Warn().Err(err).Str("address", addr).Msg("lite balance failed, using tonapi")
	return c.tonapi.Balance(ctx, addr)
}

func (c *Client) liteBalance(ctx context.Context, addr string) (*big.Int, error) {
	a, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	master, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("masterchain info: %w", err)
	}
	acc, err := c.api.GetAccount(ctx, master, a)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if !acc.IsActive || acc.State == nil {
		return big.NewInt(0), nil
	}
	return acc.State.Balance.Nano(), nil
}

// anchorLookback bounds how far behind the stable tip an anchor is searched for.
// Draws overdue by more than this anchor to the oldest searched block.
const anchorLookback = 200_000

// StableOracleValue reads the feed at the masterchain block `confirmations` behind the tip.
func (c *Client) StableOracleValue(ctx context.Context, feed, source string) ([]byte, error) {
	master, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("masterchain info: %w", err)
	}
	if master.SeqNo <= c.confirmations {
		return nil, nil
	}
	block, err := c.api.LookupBlock(ctx, master.Workchain, master.Shard, master.SeqNo-c.confirmations)
	if err != nil {
		return nil, fmt.Errorf("lookup block: %w", err)
	}
	return c.feedValue(ctx, block, feed, source)
}

// OracleValueAnchored reads the feed at the first masterchain block generated at or
// after due, and returns that block's seqno. Anyone can recompute the anchor from due.
// The value is nil until the anchor is at least confirmations deep; zero confirmations
// falls back to the client default.
func (c *Client) OracleValueAnchored(ctx context.Context, feed, source string, due time.Time, confirmations uint32) ([]byte, uint32, error) {
	if confirmations == 0 {
		confirmations = c.confirmations
	}
	master, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("masterchain info: %w", err)
	}
	if master.SeqNo <= confirmations {
		return nil, 0, nil
	}
	stable := master.SeqNo - confirmations

	genAt := func(ctx context.Context, seqno uint32) (uint32, error) {
		return c.genUtime(ctx, master, seqno)
	}
	dueAt := uint32(due.Unix())
	last, err := genAt(ctx, stable)
	if err != nil {
		return nil, 0, err
	}
	if last < dueAt {
		return nil, 0, nil
	}

	lo := uint32(1)
	if stable > anchorLookback {
		lo = stable - anchorLookback
	}
	seqno, err := firstBlockAt(ctx, lo, stable, dueAt, genAt)
	if err != nil {
		return nil, 0, err
	}
	block, err := c.api.LookupBlock(ctx, master.Workchain, master.Shard, seqno)
	if err != nil {
		return nil, 0, fmt.Errorf("lookup block %d: %w", seqno, err)
	}
	value, err := c.feedValue(ctx, block, feed, source)
	if err != nil {
		return nil, 0, err
	}
	c.log.Debug().Uint32("seqno", seqno).Time("due", due).Msg("oracle anchored")
	return value, seqno, nil
}

func (c *Client) genUtime(ctx context.Context, master *ton.BlockIDExt, seqno uint32) (uint32, error) {
	block, err := c.api.LookupBlock(ctx, master.Workchain, master.Shard, seqno)
	if err != nil {
		return 0, fmt.Errorf("lookup block %d: %w", seqno, err)
	}
	data, err := c.api.GetBlockData(ctx, block)
	if err != nil {
		return 0, fmt.Errorf("block data %d: %w", seqno, err)
	}
	return data.BlockInfo.GenUtime, nil
}

// firstBlockAt returns the lowest seqno in [lo, hi] generated at or after due.
// The block at hi must satisfy that; lo is returned when every block does.
func firstBlockAt(ctx context.Context, lo, hi, due uint32, genAt func(context.Context, uint32) (uint32, error)) (uint32, error) {
	for lo < hi {
		mid := lo + (hi-lo)/2
		at, err := genAt(ctx, mid)
		if err != nil {
			return 0, err
		}
		if at >= due {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, nil
}

func (c *Client) feedValue(ctx context.Context, block *ton.BlockIDExt, feed, source string) ([]byte, error) {
	switch feed {
	case config.FeedMasterchainBlock:
		return block.RootHash, nil
	case config.FeedAccountLastTx:
		a, err := ParseAddress(source)
		if err != nil {
			return nil, fmt.Errorf("oracle source: %w", err)
		}
		acc, err := c.api.GetAccount(ctx, block, a)
		if err != nil {
			return nil, fmt.Errorf("get account: %w", err)
		}
		if !acc.IsActive || len(acc.LastTxHash) == 0 {
			return nil, nil
		}
		return acc.LastTxHash, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, feed)
	}
}

// SubmitPayment sends all outputs in one external message and waits for the transaction.
// The settlement reference is the hex hash of the wallet transaction.
func (c *Client) SubmitPayment(ctx context.Context, asset string, outputs []ledger.Output, source string) (string, error) {
	if c.wallet == nil {
		return "", ErrNoWallet
	}
	if len(outputs) == 0 {
		return "", ErrEmptyPayment
	}
	if source != "" {
		src, err := NormalizeAddress(source)
		if err != nil || src != c.WalletAddress() {
			return "", ErrWrongSource
		}
	}

	var (
		msgs []*wallet.Message
		err  error
	)
	if asset == "" || strings.EqualFold(asset, ledger.AssetNative) {
		msgs, err = c.nativeMessages(outputs)
	} else {
		msgs, err = c.jettonMessages(ctx, asset, outputs)
	}
	if err != nil {
		return "", err
	}

	tx, _, err := c.wallet.SendManyWaitTransaction(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("send payment: %w", err)
	}
	return hex.EncodeToString(tx.Hash), nil
}

func (c *Client) nativeMessages(outputs []ledger.Output) ([]*wallet.Message, error) {
	msgs := make([]*wallet.Message, 0, len(outputs))
	for _, o := range outputs {
		to, err := recipient(o.Address)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, wallet.SimpleMessage(to, tlb.FromNanoTON(o.Amount), nil))
	}
	return msgs, nil
}

func (c *Client) jettonMessages(ctx context.Context, master string, outputs []ledger.Output) ([]*wallet.Message, error) {
	masterAddr, err := ParseAddress(master)
	if err != nil {
		return nil, fmt.Errorf("jetton master: %w", err)
	}
	jw, err := jetton.NewJettonMasterClient(c.api, masterAddr).GetJettonWallet(ctx, c.wallet.WalletAddress())
	if err != nil {
		return nil, fmt.Errorf("jetton wallet: %w", err)
	}

	msgs := make([]*wallet.Message, 0, len(outputs))
	for _, o := range outputs {
		to, err := recipient(o.Address)
		if err != nil {
			return nil, err
		}
		body, err := jw.BuildTransferPayloadV2(to, c.wallet.WalletAddress(), tlb.FromNanoTON(o.Amount), tlb.ZeroCoins, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("jetton transfer payload: %w", err)
		}
		msgs = append(msgs, wallet.SimpleMessage(jw.Address(), jettonTransferFee, body))
	}
	return msgs, nil
}

func recipient(s string) (*address.Address, error) {
	a, err := ParseAddress(s)
	if err != nil {
		return nil, fmt.Errorf("recipient %s: %w", s, err)
	}
	// Recipients are user wallets which may not be deployed yet.
	a.SetBounce(false)
	return a, nil
}
