package tonproof

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"

	apperrors "github.com/open-builders/draw-airdrop-bot/internal/common/errors"
	"github.com/open-builders/draw-airdrop-bot/internal/ledger/ton"
)

const (
	proofPrefix   = "ton-proof-item-v2/"
	connectPrefix = "ton-connect"
)

// Public key offsets inside wallet data cells: v3/v4 (seqno, subwallet), v5 (flag, seqno, id), v2 (seqno).
var pubKeyOffsets = []uint{64, 65, 32}

// Binding is what a payload was issued for.
type Binding struct {
	UserID  int64
	Address string
}

// Service issues single-use proof payloads and verifies TON Connect ownership proofs.
type Service struct {
	store      PayloadStore
	domain     string
	payloadTTL time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLogger(log zerolog.Logger) Option { return func(s *Service) { s.log = log } }

func NewService(store PayloadStore, domain string, payloadTTL time.Duration, opts ...Option) *Service {
	if payloadTTL <= 0 {
		payloadTTL = 5 * time.Minute
	}
	s := &Service{
		store:      store,
		domain:     domain,
		payloadTTL: payloadTTL,
		now:        time.Now,
		log:        zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Domain is the app domain proofs must be signed for.
func (s *Service) Domain() string { return s.domain }

// GeneratePayload creates a random payload bound to b and stores it for one use.
func (s *Service) GeneratePayload(ctx context.Context, b Binding) (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	payload := hex.EncodeToString(buf[:])
	if err := s.store.Save(ctx, payload, b, s.payloadTTL); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeCacheError, "failed to store proof payload")
	}
	return payload, nil
}

// VerifyRequest is the body a TON Connect wallet returns for a ton_proof request.
type VerifyRequest struct {
	Address   string `json:"address"`
	Network   string `json:"network,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
	Proof     Proof  `json:"proof"`
}

type Proof struct {
	Timestamp int64  `json:"timestamp"`
	Domain    Domain `json:"domain"`
	Signature string `json:"signature"`
	Payload   string `json:"payload"`
	StateInit string `json:"state_init"`
}

type Domain struct {
	LengthBytes uint32 `json:"lengthBytes"`
	Value       string `json:"value"`
}

func invalid(reason string) *apperrors.AppError {
	return apperrors.New(apperrors.ErrCodeInvalidProof, "Ownership proof rejected: "+reason).
		WithDetail("reason", reason)
}

// Verify checks req and consumes its payload. It returns the binding the payload was issued for.
func (s *Service) Verify(ctx context.Context, req *VerifyRequest) (Binding, error) {
	if req == nil || req.Address == "" || req.Proof.Payload == "" {
		return Binding{}, invalid("missing address or payload")
	}
	addr, err := ton.ParseAddress(req.Address)
	if err != nil {
		return Binding{}, apperrors.Wrap(err, apperrors.ErrCodeInvalidAddress, "Invalid TON address")
	}
	if s.domain == "" || req.Proof.Domain.Value != s.domain {
		return Binding{}, invalid("domain mismatch")
	}
	now := s.now().Unix()
	if req.Proof.Timestamp <= 0 || now-req.Proof.Timestamp > int64(s.payloadTTL.Seconds()) || req.Proof.Timestamp-now > 60 {
		return Binding{}, invalid("expired proof")
	}

	b, ok, err := s.store.Take(ctx, req.Proof.Payload)
	if err != nil {
		return Binding{}, apperrors.Wrap(err, apperrors.ErrCodeCacheError, "failed to load proof payload")
	}
	if !ok {
		return Binding{}, invalid("unknown or expired payload")
	}
	if b.Address != addr.StringRaw() {
		return Binding{}, apperrors.New(apperrors.ErrCodeWrongSigner, "Proof was signed for a different address").
			WithDetail("expected", b.Address)
	}

	keys, err := stateInitKeys(addr, req.Proof.StateInit)
	if err != nil {
		s.log.Debug().Err(err).Str("address", b.Address).Msg("state init rejected")
		return Binding{}, invalid("bad state init")
	}
	if req.PublicKey != "" {
		claimed, err := hex.DecodeString(req.PublicKey)
		if err != nil || !containsKey(keys, claimed) {
			return Binding{}, invalid("public key does not match wallet")
		}
		keys = [][]byte{claimed}
	}

	sig, err := base64.StdEncoding.DecodeString(req.Proof.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return Binding{}, invalid("malformed signature")
	}
	digest := SignedDigest(addr, req.Proof.Domain.Value, req.Proof.Timestamp, req.Proof.Payload)
	for _, k := range keys {
		if ed25519.Verify(ed25519.PublicKey(k), digest, sig) {
			return b, nil
		}
	}
	return Binding{}, invalid("signature verification failed")
}

// SignedDigest is the 32-byte value a wallet signs for a ton_proof item.
func SignedDigest(addr *address.Address, domain string, timestamp int64, payload string) []byte {
	var msg bytes.Buffer
	msg.WriteString(proofPrefix)
	_ = binary.Write(&msg, binary.BigEndian, addr.Workchain())
	msg.Write(addr.Data())
	_ = binary.Write(&msg, binary.LittleEndian, uint32(len(domain)))
	msg.WriteString(domain)
	_ = binary.Write(&msg, binary.LittleEndian, uint64(timestamp))
	msg.WriteString(payload)
	msgHash := sha256.Sum256(msg.Bytes())

	full := append([]byte{0xff, 0xff}, connectPrefix...)
	full = append(full, msgHash[:]...)
	sum := sha256.Sum256(full)
	return sum[:]
}

// stateInitKeys checks that the state init deploys addr and returns the candidate public keys in its data.
func stateInitKeys(addr *address.Address, stateInitB64 string) ([][]byte, error) {
	if stateInitB64 == "" {
		return nil, fmt.Errorf("empty state init")
	}
	boc, err := base64.StdEncoding.DecodeString(stateInitB64)
	if err != nil {
		return nil, fmt.Errorf("decode state init: %w", err)
	}
	root, err := cell.FromBOC(boc)
	if err != nil {
		return nil, fmt.Errorf("parse state init: %w", err)
	}
	if !bytes.Equal(root.Hash(), addr.Data()) {
		return nil, fmt.Errorf("state init hash does not match address")
	}
	var si tlb.StateInit
	if err := tlb.LoadFromCell(&si, root.BeginParse()); err != nil {
		return nil, fmt.Errorf("load state init: %w", err)
	}
	if si.Data == nil {
		return nil, fmt.Errorf("state init has no data")
	}

	var keys [][]byte
	for _, off := range pubKeyOffsets {
		sl := si.Data.BeginParse()
		if sl.BitsLeft() < off+256 {
			continue
		}
		if _, err := sl.LoadSlice(off); err != nil {
			continue
		}
		k, err := sl.LoadSlice(256)
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no public key in wallet data")
	}
	return keys, nil
}

func containsKey(keys [][]byte, k []byte) bool {
	for _, c := range keys {
		if bytes.Equal(c, k) {
			return true
		}
	}
	return false
}

// ParseChatProof decodes the "(signed-message:<base64 json>)" text users paste into the chat.
// ok is false when text is not in that form.
func ParseChatProof(text string) (req *VerifyRequest, ok bool, err error) {
	text = strings.TrimSpace(text)
	const open = "(signed-message:"
	if !strings.HasPrefix(text, open) || !strings.HasSuffix(text, ")") {
		return nil, false, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSuffix(strings.TrimPrefix(text, open), ")"))
	if err != nil {
		return nil, true, invalid("signed message is not base64")
	}
	req = &VerifyRequest{}
	if err := json.Unmarshal(raw, req); err != nil {
		return nil, true, invalid("signed message is not a proof")
	}
	return req, true, nil
}
