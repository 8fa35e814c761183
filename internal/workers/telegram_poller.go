package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/open-builders/draw-airdrop-bot/internal/service/telegram"
)

type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

type MessageHandler interface {
	Handle(ctx context.Context, msg *telegram.Message) error
}

// TelegramPoller long-polls the Bot API and hands messages to the handler in order.
type TelegramPoller struct {
	src     UpdateSource
	handler MessageHandler
	timeout time.Duration
	backoff time.Duration
	log     zerolog.Logger
}

func NewTelegramPoller(src UpdateSource, handler MessageHandler, timeout time.Duration, log zerolog.Logger) *TelegramPoller {
	return &TelegramPoller{src: src, handler: handler, timeout: timeout, backoff: 3 * time.Second, log: log}
}

// Run polls until ctx is cancelled.
func (p *TelegramPoller) Run(ctx context.Context) {
	p.log.Info().Msg("telegram poller started")
	var offset int64
	for ctx.Err() == nil {
		updates, err := p.src.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.log.Warn().Err(err).Msg("get updates")
			select {
			case <-ctx.Done():
			case <-time.After(p.backoff):
			}
			continue
		}
		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message == nil {
				continue
			}
			if err := p.handler.Handle(ctx, u.Message); err != nil {
				p.log.Error().Err(err).Int64("update_id", u.UpdateID).Int64("chat_id", u.Message.Chat.ID).Msg("handle message")
			}
		}
	}
	p.log.Info().Msg("telegram poller stopped")
}
