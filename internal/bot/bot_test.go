package bot

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	apperrors "github.com/open-builders/draw-airdrop-bot/internal/common/errors"
	dp "github.com/open-builders/draw-airdrop-bot/internal/domain/participant"
	"github.com/open-builders/draw-airdrop-bot/internal/scoring"
	"github.com/open-builders/draw-airdrop-bot/internal/service/registration"
	"github.com/open-builders/draw-airdrop-bot/internal/service/scheduler"
	"github.com/open-builders/draw-airdrop-bot/internal/service/status"
	"github.com/open-builders/draw-airdrop-bot/internal/service/telegram"
	"github.com/open-builders/draw-airdrop-bot/internal/service/tonproof"
)

const rawAddr = "0:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8"

type fakeRegistrar struct {
	participant *dp.Participant
	calls       []string
	verifyRes   *registration.VerifyResult
	err         error
	inviteCode  string
	applied     string
	pairing     string
}

func (f *fakeRegistrar) LinkAddress(_ context.Context, _ int64, text string) (*registration.LinkResult, error) {
	f.calls = append(f.calls, "link")
	if f.err != nil {
		return nil, f.err
	}
	return &registration.LinkResult{Address: strings.ToLower(text), Payload: "cafebabe"}, nil
}

func (f *fakeRegistrar) VerifyOwnership(_ context.Context, _ int64, req *tonproof.VerifyRequest) (*registration.VerifyResult, error) {
	f.calls = append(f.calls, "verify:"+req.Address)
	if f.err != nil {
		return nil, f.err
	}
	return f.verifyRes, nil
}

func (f *fakeRegistrar) ApplyReferralCode(_ context.Context, _ int64, code string) error {
	f.calls = append(f.calls, "apply")
	if f.err != nil {
		return f.err
	}
	f.applied = code
	return nil
}

func (f *fakeRegistrar) SkipReferral(context.Context, int64) error {
	f.calls = append(f.calls, "skip")
	return nil
}

func (f *fakeRegistrar) ChangeReferral(context.Context, int64) error {
	f.calls = append(f.calls, "change")
	return nil
}

func (f *fakeRegistrar) SetPairingReferral(_ context.Context, _ int64, code string) error {
	f.calls = append(f.calls, "pairing")
	f.pairing = code
	return f.err
}

func (f *fakeRegistrar) Invite(context.Context, int64) (string, error) {
	f.calls = append(f.calls, "invite")
	if f.inviteCode == "" {
		return "", apperrors.New(apperrors.ErrCodeNotAttested, "Only attested participants can invite others")
	}
	return f.inviteCode, nil
}

func (f *fakeRegistrar) Participant(context.Context, int64) (*dp.Participant, error) {
	return f.participant, nil
}

type fakeReporter struct{ err error }

func (f fakeReporter) UserReport(_ context.Context, userID int64) (*status.UserReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &status.UserReport{
		UserID: userID,
		Points: decimal.NewFromInt(14),
		Chance: 0.5,
		Addresses: []scheduler.Scored{{
			Address:  rawAddr,
			Attested: true,
			Balance:  decimal.NewFromInt(50_000_000_000),
			Breakdown: scoring.Breakdown{
				Tiers: []scoring.TierPoints{{Points: decimal.NewFromInt(10)}, {Points: decimal.NewFromInt(4)}},
				Total: decimal.NewFromInt(14),
			},
		}},
	}, nil
}

type sent struct {
	chatID int64
	text   string
}

type fakeSender struct{ out []sent }

func (f *fakeSender) SendMessage(_ context.Context, chatID int64, text string) error {
	f.out = append(f.out, sent{chatID, text})
	return nil
}

type BotSuite struct {
	suite.Suite
	reg    *fakeRegistrar
	rep    fakeReporter
	sender *fakeSender
	bot    *Bot
}

func TestBotSuite(t *testing.T) {
	suite.Run(t, new(BotSuite))
}

func (s *BotSuite) SetupTest() {
	s.reg = &fakeRegistrar{}
	s.rep = fakeReporter{}
	s.sender = &fakeSender{}
	s.rebuild()
}

func (s *BotSuite) rebuild() {
	s.bot = New(s.reg, s.rep, s.sender, Config{BotUsername: "drawbot", ProofDomain: "draw.example.org"}, zerolog.Nop())
}

func (s *BotSuite) send(text string) string {
	s.sender.out = nil
	msg := &telegram.Message{From: &telegram.User{ID: 7}, Chat: telegram.Chat{ID: 70, Type: "private"}, Text: text}
	s.Require().NoError(s.bot.Handle(context.Background(), msg))
	if len(s.sender.out) == 0 {
		return ""
	}
	s.Equal(int64(70), s.sender.out[0].chatID)
	return s.sender.out[0].text
}

func (s *BotSuite) registered(step dp.ReferralStep) {
	s.reg.participant = &dp.Participant{UserID: 7, ReferralCode: "abcdefgh12", ReferralStep: step}
}

func (s *BotSuite) TestStartWelcomesNewUser() {
	s.Equal(msgWelcome, s.send("/start"))
	s.Empty(s.reg.calls)
}

func (s *BotSuite) TestStartWithInviteCode() {
	s.Equal(msgWelcome, s.send("/start Friend12"))
	s.Equal("Friend12", s.reg.pairing)

	s.reg.err = apperrors.New(apperrors.ErrCodeUnknownReferral, "Unknown referral code")
	reply := s.send("/start nobody")
	s.True(strings.HasPrefix(reply, "Unknown referral code"))
	s.Contains(reply, msgWelcome)
}

func (s *BotSuite) TestAddressIssuesProofPayload() {
	reply := s.send(rawAddr)
	s.Contains(reply, "cafebabe")
	s.Contains(reply, "draw.example.org")
	s.Equal([]string{"link"}, s.reg.calls)
}

func (s *BotSuite) TestAddressTaken() {
	s.reg.err = apperrors.New(apperrors.ErrCodeAddressTaken, "Address already in use")
	s.Equal(msgAddressTaken, s.send(rawAddr))
}

func (s *BotSuite) TestSignedMessageAsksForReferral() {
	s.reg.verifyRes = &registration.VerifyResult{Address: rawAddr, AskReferral: true, NewlyCreated: true}
	proof := base64.StdEncoding.EncodeToString([]byte(`{"address":"` + rawAddr + `","proof":{"timestamp":1}}`))

	reply := s.send("(signed-message:" + proof + ")")
	s.Contains(reply, msgProven)
	s.Contains(reply, msgAskReferral)
	s.Equal([]string{"verify:" + rawAddr}, s.reg.calls)
}

func (s *BotSuite) TestSignedMessageShowsStatusWhenReferralKnown() {
	s.reg.verifyRes = &registration.VerifyResult{Address: rawAddr}
	proof := base64.StdEncoding.EncodeToString([]byte(`{"address":"` + rawAddr + `"}`))

	reply := s.send("(signed-message:" + proof + ")")
	s.Contains(reply, "Your points: 14.00")
}

func (s *BotSuite) TestMalformedSignedMessage() {
	reply := s.send("(signed-message:%%%)")
	s.Contains(reply, "not base64")
	s.Empty(s.reg.calls)
}

func (s *BotSuite) TestUnregisteredUserIsAskedForAddress() {
	s.Equal(msgSendAddress, s.send("status"))
	s.Equal(msgSendAddress, s.send("hello"))
}

func (s *BotSuite) TestReferralStepAppliesCode() {
	s.registered(dp.StepAsk)
	reply := s.send("abcdefgh99")
	s.Equal("abcdefgh99", s.reg.applied)
	s.True(strings.HasPrefix(reply, msgReferralSaved))

	s.reg.err = apperrors.New(apperrors.ErrCodeUnknownReferral, "Unknown referral code")
	s.Equal(msgInvalidReferral, s.send("nope"))
}

func (s *BotSuite) TestSkipAndChangeReferral() {
	s.registered(dp.StepAsk)
	s.Contains(s.send("skip ref"), "Your points")
	s.Equal(msgAskReferral, s.send("Change Ref"))
	s.Equal([]string{"skip", "change"}, s.reg.calls)
}

func (s *BotSuite) TestInvite() {
	s.registered(dp.StepDone)
	s.Contains(s.send("ref"), "Only attested")

	s.reg.inviteCode = "abcdefgh12"
	s.Contains(s.send("ref"), "https://t.me/drawbot?start=abcdefgh12")
}

func (s *BotSuite) TestStatusText() {
	s.registered(dp.StepDone)
	reply := s.send("anything")
	s.Contains(reply, "Your points: 14.00 (50.00% of the pool)")
	s.Contains(reply, "(attested) balance 50 TON, points 14.00")
	s.Contains(reply, "4.00 points above the first tier")
	s.NotContains(reply, rawAddr)
}

func (s *BotSuite) TestInternalErrorsAreHidden() {
	s.registered(dp.StepDone)
	s.rep = fakeReporter{err: apperrors.NewDatabaseError("list addresses", errors.New("conn reset"))}
	s.rebuild()
	s.Equal(msgTryLater, s.send("status"))
}

func TestIgnoresGroupsAndBots(t *testing.T) {
	sender := &fakeSender{}
	b := New(&fakeRegistrar{}, fakeReporter{}, sender, Config{}, zerolog.Nop())

	require.NoError(t, b.Handle(context.Background(), &telegram.Message{From: &telegram.User{ID: 1}, Chat: telegram.Chat{ID: -100, Type: "supergroup"}, Text: "status"}))
	require.NoError(t, b.Handle(context.Background(), &telegram.Message{From: &telegram.User{ID: 2, IsBot: true}, Chat: telegram.Chat{ID: 2, Type: "private"}, Text: "status"}))
	require.NoError(t, b.Handle(context.Background(), nil))
	assert.Empty(t, sender.out)
}
