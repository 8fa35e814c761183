// Package bot routes chat messages to the registration and status services.
package bot

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/draw-airdrop-bot/internal/common/errors"
	dp "github.com/open-builders/draw-airdrop-bot/internal/domain/participant"
	"github.com/open-builders/draw-airdrop-bot/internal/ledger/ton"
	"github.com/open-builders/draw-airdrop-bot/internal/metrics"
	"github.com/open-builders/draw-airdrop-bot/internal/service/registration"
	"github.com/open-builders/draw-airdrop-bot/internal/service/status"
	"github.com/open-builders/draw-airdrop-bot/internal/service/telegram"
	"github.com/open-builders/draw-airdrop-bot/internal/service/tonproof"
)

// Chat commands.
const (
	CmdStart      = "/start"
	CmdAddAddress = "add new address"
	CmdSkipRef    = "skip ref"
	CmdChangeRef  = "change ref"
	CmdRef        = "ref"
	CmdStatus     = "status"
)

type Registrar interface {
	LinkAddress(ctx context.Context, userID int64, text string) (*registration.LinkResult, error)
	VerifyOwnership(ctx context.Context, userID int64, req *tonproof.VerifyRequest) (*registration.VerifyResult, error)
	ApplyReferralCode(ctx context.Context, userID int64, code string) error
	SkipReferral(ctx context.Context, userID int64) error
	ChangeReferral(ctx context.Context, userID int64) error
	SetPairingReferral(ctx context.Context, userID int64, code string) error
	Invite(ctx context.Context, userID int64) (string, error)
	Participant(ctx context.Context, userID int64) (*dp.Participant, error)
}

type Reporter interface {
	UserReport(ctx context.Context, userID int64) (*status.UserReport, error)
}

type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Config holds what the replies link to.
type Config struct {
	// BotUsername builds invite links t.me/<username>?start=<code>.
	BotUsername string
	// ProofDomain is the domain wallets sign ownership proofs for.
	ProofDomain string
	// WebAppURL, when set, is offered as the one-tap way to prove ownership.
	WebAppURL string
}

type Bot struct {
	reg     Registrar
	reports Reporter
	sender  Sender
	cfg     Config
	log     zerolog.Logger
}

func New(reg Registrar, reports Reporter, sender Sender, cfg Config, log zerolog.Logger) *Bot {
	return &Bot{reg: reg, reports: reports, sender: sender, cfg: cfg, log: log}
}

// Handle answers one inbound message. Only private chats with a sender are served.
func (b *Bot) Handle(ctx context.Context, msg *telegram.Message) error {
	if msg == nil || msg.From == nil || msg.From.IsBot || msg.Chat.Type != "private" {
		return nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	userID, chatID := msg.From.ID, msg.Chat.ID

	reply, cmd, err := b.route(ctx, userID, text)
	metrics.RecordBotCommand(cmd)
	if err != nil {
		reply = b.errorReply(err, userID, cmd)
	}
	if reply == "" {
		return nil
	}
	return b.sender.SendMessage(ctx, chatID, reply)
}

func (b *Bot) route(ctx context.Context, userID int64, text string) (string, string, error) {
	lower := strings.ToLower(text)

	if lower == CmdStart || strings.HasPrefix(lower, CmdStart+" ") {
		code := strings.TrimSpace(text[len(CmdStart):])
		reply, err := b.start(ctx, userID, code)
		return reply, "start", err
	}
	if ton.IsAddress(text) {
		reply, err := b.linkAddress(ctx, userID, text)
		return reply, "address", err
	}
	if req, ok, err := tonproof.ParseChatProof(text); ok {
		if err != nil {
			return "", "proof", err
		}
		reply, err := b.verify(ctx, userID, req)
		return reply, "proof", err
	}

	p, err := b.reg.Participant(ctx, userID)
	if err != nil {
		return "", "lookup", err
	}
	if p == nil || lower == CmdAddAddress {
		return msgSendAddress, "add_address", nil
	}

	switch lower {
	case CmdSkipRef:
		if err := b.reg.SkipReferral(ctx, userID); err != nil {
			return "", "skip_ref", err
		}
		reply, err := b.status(ctx, userID)
		return reply, "skip_ref", err
	case CmdChangeRef:
		if err := b.reg.ChangeReferral(ctx, userID); err != nil {
			return "", "change_ref", err
		}
		return msgAskReferral, "change_ref", nil
	case CmdRef:
		code, err := b.reg.Invite(ctx, userID)
		if err != nil {
			return "", "ref", err
		}
		return inviteText(code, b.cfg.BotUsername), "ref", nil
	case CmdStatus:
		reply, err := b.status(ctx, userID)
		return reply, "status", err
	}

	if p.ReferralStep == dp.StepAsk {
		if err := b.reg.ApplyReferralCode(ctx, userID, text); err != nil {
			return "", "referral_code", err
		}
		reply, err := b.status(ctx, userID)
		return msgReferralSaved + "\n\n" + reply, "referral_code", err
	}

	reply, err := b.status(ctx, userID)
	return reply, "status", err
}

func (b *Bot) start(ctx context.Context, userID int64, code string) (string, error) {
	if code != "" {
		if err := b.reg.SetPairingReferral(ctx, userID, code); err != nil {
			var appErr *apperrors.AppError
			if !errors.As(err, &appErr) || !appErr.IsUserFacing() {
				return "", err
			}
			b.log.Debug().Err(err).Int64("user_id", userID).Msg("invite code not applied")
			return appErr.Message + "\n\n" + msgWelcome, nil
		}
	}
	p, err := b.reg.Participant(ctx, userID)
	if err != nil {
		return "", err
	}
	if p != nil {
		return b.status(ctx, userID)
	}
	return msgWelcome, nil
}

func (b *Bot) linkAddress(ctx context.Context, userID int64, text string) (string, error) {
	res, err := b.reg.LinkAddress(ctx, userID, text)
	if err != nil {
		return "", err
	}
	return proofRequestText(res, b.cfg.ProofDomain, b.cfg.WebAppURL), nil
}

func (b *Bot) verify(ctx context.Context, userID int64, req *tonproof.VerifyRequest) (string, error) {
	res, err := b.reg.VerifyOwnership(ctx, userID, req)
	if err != nil {
		return "", err
	}
	b.log.Info().Int64("user_id", userID).Str("address", res.Address).Bool("new", res.NewlyCreated).Msg("ownership proven in chat")
	if res.AskReferral {
		return msgProven + "\n\n" + msgAskReferral, nil
	}
	reply, err := b.status(ctx, userID)
	if err != nil {
		return "", err
	}
	return msgProven + "\n\n" + reply, nil
}

func (b *Bot) status(ctx context.Context, userID int64) (string, error) {
	r, err := b.reports.UserReport(ctx, userID)
	if err != nil {
		return "", err
	}
	return statusText(r), nil
}

func (b *Bot) errorReply(err error, userID int64, cmd string) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.IsUserFacing() {
		switch appErr.Code {
		case apperrors.ErrCodeUnknownReferral:
			return msgInvalidReferral
		case apperrors.ErrCodeAddressTaken:
			return msgAddressTaken
		}
		return appErr.Message
	}
	b.log.Error().Err(err).Int64("user_id", userID).Str("command", cmd).Msg("chat command failed")
	return msgTryLater
}
