package workers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/draw-airdrop-bot/internal/common/errors"
	"github.com/open-builders/draw-airdrop-bot/internal/ledger/ton"
	"github.com/open-builders/draw-airdrop-bot/internal/metrics"
)

// Ledger stream event types.
const (
	EventNewTransaction = "new_transaction"
	EventAttestation    = "attestation"
)

type BalanceInvalidator interface {
	Invalidate(ctx context.Context, address string) error
}

type AttestationIngester interface {
	IngestAttestation(ctx context.Context, attestor, address, identity string) error
}

// LedgerStreamWorker consumes ledger events from a Redis stream through a consumer group.
// Entries whose handling fails transiently stay pending and are re-read before new ones.
type LedgerStreamWorker struct {
	rdb          goredis.Cmdable
	stream       string
	group        string
	consumer     string
	balances     BalanceInvalidator
	attestations AttestationIngester
	block        time.Duration
	backoff      time.Duration
	log          zerolog.Logger
}

func NewLedgerStreamWorker(rdb goredis.Cmdable, stream, group string, balances BalanceInvalidator, attestations AttestationIngester, log zerolog.Logger) *LedgerStreamWorker {
	return &LedgerStreamWorker{
		rdb:          rdb,
		stream:       stream,
		group:        group,
		consumer:     "draw-bot-" + uuid.NewString(),
		balances:     balances,
		attestations: attestations,
		block:        5 * time.Second,
		backoff:      time.Second,
		log:          log,
	}
}

// Start reads the stream until ctx is cancelled.
func (w *LedgerStreamWorker) Start(ctx context.Context) {
	err := w.rdb.XGroupCreateMkStream(ctx, w.stream, w.group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		w.log.Error().Err(err).Str("stream", w.stream).Msg("create consumer group")
	}

	w.log.Info().Str("stream", w.stream).Str("consumer", w.consumer).Msg("ledger stream worker started")
	pending := true
	for ctx.Err() == nil {
		// "0" replays this consumer's unacknowledged entries, ">" asks for new ones.
		id, block := ">", w.block
		if pending {
			id, block = "0", -1
		}
		entries, err := w.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    w.group,
			Consumer: w.consumer,
			Streams:  []string{w.stream, id},
			Count:    16,
			Block:    block,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) || ctx.Err() != nil {
				pending = false
				continue
			}
			w.log.Warn().Err(err).Msg("read ledger stream")
			w.sleep(ctx)
			continue
		}

		retry := false
		for _, s := range entries {
			for _, msg := range s.Messages {
				if err := w.handle(ctx, msg.Values); err != nil {
					retry = true
					continue
				}
				if err := w.rdb.XAck(ctx, w.stream, w.group, msg.ID).Err(); err != nil {
					w.log.Warn().Err(err).Str("id", msg.ID).Msg("ack ledger event")
				}
			}
		}
		pending = retry
		if retry {
			w.sleep(ctx)
		}
	}
	w.log.Info().Msg("ledger stream worker stopped")
}

func (w *LedgerStreamWorker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.backoff):
	}
}

// handle applies one event. Malformed or rejected events return nil so they get
// acknowledged; only transient failures are returned.
func (w *LedgerStreamWorker) handle(ctx context.Context, values map[string]interface{}) error {
	eventType := field(values, "type")
	var err error
	switch eventType {
	case EventNewTransaction:
		err = w.newTransaction(ctx, field(values, "address"))
	case EventAttestation:
		err = w.attestations.IngestAttestation(ctx, field(values, "attestor"), field(values, "address"), field(values, "identity_id"))
	default:
		metrics.RecordLedgerEvent("unknown", "dropped")
		w.log.Debug().Interface("values", values).Msg("ignoring ledger event")
		return nil
	}

	if err == nil {
		metrics.RecordLedgerEvent(eventType, "applied")
		return nil
	}
	if appErr, ok := apperrors.AsAppError(err); ok && appErr.IsUserFacing() {
		metrics.RecordLedgerEvent(eventType, "dropped")
		w.log.Warn().Err(err).Str("type", eventType).Interface("values", values).Msg("dropping ledger event")
		return nil
	}
	metrics.RecordLedgerEvent(eventType, "failed")
	w.log.Error().Err(err).Str("type", eventType).Msg("ledger event failed, will retry")
	return err
}

func (w *LedgerStreamWorker) newTransaction(ctx context.Context, address string) error {
	addr, err := ton.NormalizeAddress(address)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidAddress, "invalid address in ledger event")
	}
	if err := w.balances.Invalidate(ctx, addr); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeCacheError, "invalidate balance")
	}
	return nil
}

func field(values map[string]interface{}, key string) string {
	switch v := values[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
