// Package registration owns participants, their proven addresses and the referral graph.
// It is the only writer of participant and address records.
package registration

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/draw-airdrop-bot/internal/common/errors"
	"github.com/open-builders/draw-airdrop-bot/internal/config"
	dp "github.com/open-builders/draw-airdrop-bot/internal/domain/participant"
	"github.com/open-builders/draw-airdrop-bot/internal/ledger/ton"
	pgrepo "github.com/open-builders/draw-airdrop-bot/internal/repository/postgres"
	"github.com/open-builders/draw-airdrop-bot/internal/service/tonproof"
	"github.com/open-builders/draw-airdrop-bot/internal/utils/random"
)

const (
	referralCodeLength  = 10
	referralCodeRetries = 8
)

// Store is the persistence the manager needs; implemented by postgres.ParticipantRepository.
type Store interface {
	GetParticipant(ctx context.Context, userID int64) (*dp.Participant, error)
	GetParticipantByCode(ctx context.Context, code string) (*dp.Participant, error)
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
	SaveVerifiedAddress(ctx context.Context, newParticipant *dp.Participant, a *dp.Address) error
	GetAddress(ctx context.Context, address string) (*dp.Address, error)
	ListAddressesByUser(ctx context.Context, userID int64) ([]dp.Address, error)
	ListAllAddresses(ctx context.Context) ([]dp.Address, error)
	SetReferrer(ctx context.Context, userID int64, code string) (bool, error)
	ResetReferrer(ctx context.Context, userID int64, step dp.ReferralStep) error
	SetReferralStep(ctx context.Context, userID int64, step dp.ReferralStep) error
	UpsertAttestation(ctx context.Context, a *dp.Attestation) error
	ListAttestations(ctx context.Context, address string) ([]dp.Attestation, error)
	ClaimIdentity(ctx context.Context, address, identity string) (bool, error)
}

// Prover issues and checks address ownership proofs.
type Prover interface {
	GeneratePayload(ctx context.Context, b tonproof.Binding) (string, error)
	Verify(ctx context.Context, req *tonproof.VerifyRequest) (tonproof.Binding, error)
}

// ParamsSource yields the current draw params.
type ParamsSource interface {
	Current() *config.Params
}

// DrawAddress is one address as the draw scheduler sees it.
type DrawAddress struct {
	Address    string
	UserID     int64
	Attested   bool
	ReferredBy *string
}

type Service struct {
	store   Store
	prover  Prover
	pending PendingReferrals
	params  ParamsSource
	log     zerolog.Logger
	now     func() time.Time
}

func NewService(store Store, prover Prover, pending PendingReferrals, params ParamsSource, log zerolog.Logger) *Service {
	return &Service{store: store, prover: prover, pending: pending, params: params, log: log, now: time.Now}
}

// LinkResult is returned for an address the user still has to prove.
type LinkResult struct {
	Address string
	Payload string
}

// LinkAddress validates text as an address and issues a proof payload for it.
func (s *Service) LinkAddress(ctx context.Context, userID int64, text string) (*LinkResult, error) {
	addr, err := ton.NormalizeAddress(text)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidAddress, "This is not a valid TON address")
	}
	existing, err := s.store.GetAddress(ctx, addr)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get address", err)
	}
	if existing != nil {
		if existing.UserID == userID {
			return nil, apperrors.New(apperrors.ErrCodeAlreadyParticipating, "You already participate with this address")
		}
		return nil, apperrors.New(apperrors.ErrCodeAddressTaken, "Address already in use")
	}
	payload, err := s.prover.GeneratePayload(ctx, tonproof.Binding{UserID: userID, Address: addr})
	if err != nil {
		return nil, err
	}
	return &LinkResult{Address: addr, Payload: payload}, nil
}

// VerifyResult describes the state after a successful ownership proof.
type VerifyResult struct {
	Address      string
	Attested     bool
	Participant  *dp.Participant
	AskReferral  bool
	NewlyCreated bool
}

// VerifyOwnership checks a proof submitted by userID and records the proven address.
// The participant is created on the first successful proof.
func (s *Service) VerifyOwnership(ctx context.Context, userID int64, req *tonproof.VerifyRequest) (*VerifyResult, error) {
	b, err := s.prover.Verify(ctx, req)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, apperrors.New(apperrors.ErrCodeWrongSigner, "This proof was requested by another user")
	}

	p, err := s.store.GetParticipant(ctx, userID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get participant", err)
	}
	res := &VerifyResult{Address: b.Address}
	now := s.now().UTC()
	a := &dp.Address{Address: b.Address, UserID: userID, LinkedAt: now}

	if p != nil {
		if err := s.saveAddress(ctx, nil, a); err != nil {
			return nil, err
		}
	} else {
		res.NewlyCreated = true
		p = &dp.Participant{UserID: userID, ReferralStep: dp.StepAsk, CreatedAt: now}
		s.attachPendingReferral(ctx, p)
		if err := s.createParticipant(ctx, p, a); err != nil {
			return nil, err
		}
	}

	attested, err := s.ResolveAttestation(ctx, b.Address)
	if err != nil {
		s.log.Warn().Err(err).Str("address", b.Address).Msg("attestation lookup failed")
	}
	res.Attested = attested
	res.Participant = p
	res.AskReferral = p.ReferredBy == nil && p.ReferralStep == dp.StepAsk
	s.log.Info().Int64("user_id", userID).Str("address", b.Address).Bool("attested", attested).Msg("address proven")
	return res, nil
}

func (s *Service) saveAddress(ctx context.Context, newParticipant *dp.Participant, a *dp.Address) error {
	err := s.store.SaveVerifiedAddress(ctx, newParticipant, a)
	if errors.Is(err, pgrepo.ErrAddressTaken) {
		return apperrors.New(apperrors.ErrCodeAddressTaken, "Address already in use")
	}
	if err != nil && !errors.Is(err, pgrepo.ErrReferralCodeTaken) {
		return apperrors.NewDatabaseError("save address", err)
	}
	return err
}

func (s *Service) createParticipant(ctx context.Context, p *dp.Participant, a *dp.Address) error {
	for i := 0; i < referralCodeRetries; i++ {
		code, err := s.newReferralCode(ctx)
		if err != nil {
			return err
		}
		p.ReferralCode = code
		err = s.saveAddress(ctx, p, a)
		if errors.Is(err, pgrepo.ErrReferralCodeTaken) {
			continue
		}
		return err
	}
	return apperrors.New(apperrors.ErrCodeInternal, "could not allocate a referral code")
}

func (s *Service) newReferralCode(ctx context.Context) (string, error) {
	for i := 0; i < referralCodeRetries; i++ {
		code, err := random.String(random.CodeAlphabet, referralCodeLength)
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to generate referral code")
		}
		exists, err := s.store.ReferralCodeExists(ctx, code)
		if err != nil {
			return "", apperrors.NewDatabaseError("check referral code", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", apperrors.New(apperrors.ErrCodeInternal, "could not allocate a referral code")
}

// attachPendingReferral applies a code remembered from an invite link before the user registered.
func (s *Service) attachPendingReferral(ctx context.Context, p *dp.Participant) {
	if s.pending == nil {
		return
	}
	code, ok, err := s.pending.TakePending(ctx, p.UserID)
	if err != nil {
		s.log.Warn().Err(err).Int64("user_id", p.UserID).Msg("pending referral lookup failed")
		return
	}
	if !ok {
		return
	}
	ref, err := s.store.GetParticipantByCode(ctx, code)
	if err != nil || ref == nil || ref.UserID == p.UserID {
		return
	}
	p.ReferredBy = &code
	p.ReferralStep = dp.StepDone
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func (s *Service) requireParticipant(ctx context.Context, userID int64) (*dp.Participant, error) {
	p, err := s.store.GetParticipant(ctx, userID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get participant", err)
	}
	if p == nil {
		return nil, apperrors.New(apperrors.ErrCodeNotRegistered, "Please send me your address first")
	}
	return p, nil
}

// ApplyReferralCode sets the user's referrer. The first referral wins.
func (s *Service) ApplyReferralCode(ctx context.Context, userID int64, code string) error {
	if _, err := s.requireParticipant(ctx, userID); err != nil {
		return err
	}
	code = normalizeCode(code)
	ref, err := s.store.GetParticipantByCode(ctx, code)
	if err != nil {
		return apperrors.NewDatabaseError("get participant by code", err)
	}
	if ref == nil {
		return apperrors.New(apperrors.ErrCodeUnknownReferral, "Unknown referral code").WithDetail("code", code)
	}
	if ref.UserID == userID {
		return apperrors.New(apperrors.ErrCodeSelfReferral, "You cannot refer yourself")
	}
	ok, err := s.store.SetReferrer(ctx, userID, code)
	if err != nil {
		return apperrors.NewDatabaseError("set referrer", err)
	}
	if !ok {
		return apperrors.New(apperrors.ErrCodeReferralAlreadySet, "Your referrer is already set")
	}
	return nil
}

// SkipReferral leaves the user without a referrer and closes the referral dialogue.
func (s *Service) SkipReferral(ctx context.Context, userID int64) error {
	if _, err := s.requireParticipant(ctx, userID); err != nil {
		return err
	}
	if err := s.store.ResetReferrer(ctx, userID, dp.StepDone); err != nil {
		return apperrors.NewDatabaseError("reset referrer", err)
	}
	return nil
}

// ChangeReferral clears the referrer and asks for a new code.
func (s *Service) ChangeReferral(ctx context.Context, userID int64) error {
	if _, err := s.requireParticipant(ctx, userID); err != nil {
		return err
	}
	if err := s.store.ResetReferrer(ctx, userID, dp.StepAsk); err != nil {
		return apperrors.NewDatabaseError("reset referrer", err)
	}
	return nil
}

// SetPairingReferral handles an invite link. Registered users get the code applied directly,
// others have it remembered until their first proof.
func (s *Service) SetPairingReferral(ctx context.Context, userID int64, code string) error {
	code = normalizeCode(code)
	if code == "" {
		return nil
	}
	p, err := s.store.GetParticipant(ctx, userID)
	if err != nil {
		return apperrors.NewDatabaseError("get participant", err)
	}
	if p != nil {
		return s.ApplyReferralCode(ctx, userID, code)
	}
	ref, err := s.store.GetParticipantByCode(ctx, code)
	if err != nil {
		return apperrors.NewDatabaseError("get participant by code", err)
	}
	if ref == nil {
		return apperrors.New(apperrors.ErrCodeUnknownReferral, "Unknown referral code").WithDetail("code", code)
	}
	if s.pending == nil {
		return nil
	}
	if err := s.pending.SetPending(ctx, userID, code); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeCacheError, "failed to remember referral code")
	}
	return nil
}

// Invite returns the user's referral code. Only users with an attested address may invite.
func (s *Service) Invite(ctx context.Context, userID int64) (string, error) {
	p, err := s.requireParticipant(ctx, userID)
	if err != nil {
		return "", err
	}
	addrs, err := s.store.ListAddressesByUser(ctx, userID)
	if err != nil {
		return "", apperrors.NewDatabaseError("list addresses", err)
	}
	for _, a := range addrs {
		if a.Attested {
			return p.ReferralCode, nil
		}
	}
	return "", apperrors.New(apperrors.ErrCodeNotAttested, "Only attested participants can invite others")
}

// IngestAttestation records an attestor's statement and claims the identity for the address.
func (s *Service) IngestAttestation(ctx context.Context, attestor, address, identity string) error {
	params := s.params.Current()
	attestorRaw, err := ton.NormalizeAddress(attestor)
	if err != nil || !params.IsAttestor(attestorRaw) {
		return apperrors.NewValidationError("attestor", "not a configured attestor")
	}
	addr, err := ton.NormalizeAddress(address)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidAddress, "Invalid attested address")
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return apperrors.NewValidationError("identity_id", "required")
	}
	if err := s.store.UpsertAttestation(ctx, &dp.Attestation{
		Attestor:   attestorRaw,
		Address:    addr,
		IdentityID: identity,
		AttestedAt: s.now().UTC(),
	}); err != nil {
		return apperrors.NewDatabaseError("upsert attestation", err)
	}
	_, err = s.ResolveAttestation(ctx, addr)
	return err
}

// ResolveAttestation reports whether address is attested, claiming the identity of the
// earliest attestation by a configured attestor. An identity already held by another
// address leaves this one unattested.
func (s *Service) ResolveAttestation(ctx context.Context, address string) (bool, error) {
	a, err := s.store.GetAddress(ctx, address)
	if err != nil {
		return false, apperrors.NewDatabaseError("get address", err)
	}
	if a == nil {
		return false, nil
	}
	if a.Attested {
		return true, nil
	}
	atts, err := s.store.ListAttestations(ctx, address)
	if err != nil {
		return false, apperrors.NewDatabaseError("list attestations", err)
	}
	params := s.params.Current()
	for _, att := range atts {
		if !params.IsAttestor(att.Attestor) {
			continue
		}
		ok, err := s.store.ClaimIdentity(ctx, address, att.IdentityID)
		if err != nil {
			return false, apperrors.NewDatabaseError("claim identity", err)
		}
		if ok {
			return true, nil
		}
		s.log.Warn().Str("address", address).Str("identity_id", att.IdentityID).Msg("identity already claimed by another address")
	}
	return false, nil
}

// ReferrerAddress maps a referral code to the address the referral reward is paid to.
// Under attested_only only an attested address qualifies; pay_unattested falls back to the
// referrer's first address. An empty address means nobody is paid.
func (s *Service) ReferrerAddress(ctx context.Context, code, policy string) (string, bool, error) {
	ref, err := s.store.GetParticipantByCode(ctx, code)
	if err != nil {
		return "", false, apperrors.NewDatabaseError("get participant by code", err)
	}
	if ref == nil {
		return "", false, nil
	}
	addrs, err := s.store.ListAddressesByUser(ctx, ref.UserID)
	if err != nil {
		return "", false, apperrors.NewDatabaseError("list addresses", err)
	}
	for _, a := range addrs {
		if a.Attested {
			return a.Address, true, nil
		}
	}
	if policy == config.ReferralPayUnattested && len(addrs) > 0 {
		return addrs[0].Address, false, nil
	}
	return "", false, nil
}

// AddressesForDraw lists every proven address with its owner's referral.
func (s *Service) AddressesForDraw(ctx context.Context) ([]DrawAddress, error) {
	addrs, err := s.store.ListAllAddresses(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list addresses", err)
	}
	owners := make(map[int64]*dp.Participant)
	out := make([]DrawAddress, 0, len(addrs))
	for _, a := range addrs {
		p, seen := owners[a.UserID]
		if !seen {
			if p, err = s.store.GetParticipant(ctx, a.UserID); err != nil {
				return nil, apperrors.NewDatabaseError("get participant", err)
			}
			owners[a.UserID] = p
		}
		d := DrawAddress{Address: a.Address, UserID: a.UserID, Attested: a.Attested}
		if p != nil {
			d.ReferredBy = p.ReferredBy
		}
		out = append(out, d)
	}
	return out, nil
}

// Participant returns nil when the user has not proven any address yet.
func (s *Service) Participant(ctx context.Context, userID int64) (*dp.Participant, error) {
	p, err := s.store.GetParticipant(ctx, userID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get participant", err)
	}
	return p, nil
}

func (s *Service) Addresses(ctx context.Context, userID int64) ([]dp.Address, error) {
	addrs, err := s.store.ListAddressesByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list addresses", err)
	}
	return addrs, nil
}
