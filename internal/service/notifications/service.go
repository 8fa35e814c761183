package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	dd "github.com/open-builders/draw-airdrop-bot/internal/domain/draw"
	"github.com/open-builders/draw-airdrop-bot/internal/ledger"
	"github.com/open-builders/draw-airdrop-bot/internal/ledger/ton"
)

// Sender delivers a plain text message to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Recipients lists the chats a draw announcement goes to.
type Recipients interface {
	ListParticipantIDs(ctx context.Context) ([]int64, error)
}

// Service formats and sends draw announcements and operator alerts.
type Service struct {
	tg         Sender
	recipients Recipients
	admins     []int64
	pace       time.Duration
	log        zerolog.Logger
}

func NewService(tg Sender, recipients Recipients, adminChatIDs []int64, log zerolog.Logger) *Service {
	return &Service{tg: tg, recipients: recipients, admins: adminChatIDs, pace: 50 * time.Millisecond, log: log}
}

// WithPace sets the delay between broadcast messages.
func (s *Service) WithPace(d time.Duration) *Service {
	s.pace = d
	return s
}

// AnnounceDraw sends the result of d to every participant. Delivery failures are logged.
func (s *Service) AnnounceDraw(ctx context.Context, d *dd.Draw) {
	if s == nil || s.tg == nil || d == nil {
		return
	}
	ids, err := s.recipients.ListParticipantIDs(ctx)
	if err != nil {
		s.log.Error().Err(err).Int64("draw_id", d.ID).Msg("failed to list participants for announcement")
		return
	}
	text := BuildDrawMessage(d)
	sent := 0
	for i, id := range ids {
		if i > 0 && s.pace > 0 {
			select {
			case <-ctx.Done():
				s.log.Warn().Int64("draw_id", d.ID).Int("sent", sent).Msg("announcement interrupted")
				return
			case <-time.After(s.pace):
			}
		}
		if err := s.tg.SendMessage(ctx, id, text); err != nil {
			s.log.Debug().Err(err).Int64("chat_id", id).Msg("announcement not delivered")
			continue
		}
		sent++
	}
	s.log.Info().Int64("draw_id", d.ID).Int("sent", sent).Int("recipients", len(ids)).Msg("draw announced")
}

// Alert notifies the operators.
func (s *Service) Alert(ctx context.Context, text string) {
	if s == nil {
		return
	}
	s.log.Warn().Str("alert", text).Msg("operator alert")
	if s.tg == nil {
		return
	}
	for _, id := range s.admins {
		if err := s.tg.SendMessage(ctx, id, "⚠️ "+text); err != nil {
			s.log.Error().Err(err).Int64("chat_id", id).Msg("failed to deliver operator alert")
		}
	}
}

// BuildDrawMessage renders the public announcement of a draw.
func BuildDrawMessage(d *dd.Draw) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎉 Draw #%d\n\n", d.ID)
	fmt.Fprintf(&b, "Winner: %s\n", ton.FriendlyAddress(d.WinnerAddress))
	if d.ReferrerAddress != nil {
		fmt.Fprintf(&b, "Referrer: %s\n", ton.FriendlyAddress(*d.ReferrerAddress))
	}
	if d.BalanceWinnerAddress != nil {
		fmt.Fprintf(&b, "Balance draw winner: %s\n", ton.FriendlyAddress(*d.BalanceWinnerAddress))
	}
	if prizes := describeLegs(d.Legs); prizes != "" {
		b.WriteString("\nPrizes:\n")
		b.WriteString(prizes)
	}
	fmt.Fprintf(&b, "\nTotal points in the pool: %s", d.TotalPoints.StringFixed(2))
	return b.String()
}

func describeLegs(legs []dd.Leg) string {
	sorted := append([]dd.Leg(nil), legs...)
	dd.SortLegs(sorted)
	var b strings.Builder
	for _, l := range sorted {
		for _, o := range l.Outputs {
			fmt.Fprintf(&b, "• %s → %s\n", FormatAmount(o.Amount, l.Asset), ton.FriendlyAddress(o.Address))
		}
	}
	return b.String()
}

var nano = decimal.New(1, 9)

// FormatAmount renders base units as whole coins. Jetton amounts are shown in base units.
func FormatAmount(amount decimal.Decimal, asset string) string {
	if asset == ledger.AssetNative {
		return amount.Div(nano).String() + " TON"
	}
	return amount.String() + " " + shortAsset(asset)
}

func shortAsset(asset string) string {
	f := ton.FriendlyAddress(asset)
	if len(f) > 10 {
		return "jetton " + f[:4] + "…" + f[len(f)-4:]
	}
	return "jetton " + f
}
