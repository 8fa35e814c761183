package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	apperrors "github.com/open-builders/draw-airdrop-bot/internal/common/errors"
	dd "github.com/open-builders/draw-airdrop-bot/internal/domain/draw"
	dp "github.com/open-builders/draw-airdrop-bot/internal/domain/participant"
	mw "github.com/open-builders/draw-airdrop-bot/internal/http/middleware"
	"github.com/open-builders/draw-airdrop-bot/internal/service/registration"
	"github.com/open-builders/draw-airdrop-bot/internal/service/status"
	"github.com/open-builders/draw-airdrop-bot/internal/service/tonproof"
)

const botToken = "123456:test-token"

// signInitData builds init-data the way Telegram signs it for Mini Apps.
func signInitData(t *testing.T, userID int64, authDate time.Time) string {
	t.Helper()
	user, err := json.Marshal(map[string]any{"id": userID, "first_name": "Ann"})
	require.NoError(t, err)
	fields := map[string]string{
		"auth_date": strconv.FormatInt(authDate.Unix(), 10),
		"query_id":  "AAH",
		"user":      string(user),
	}
	pairs := make([]string, 0, len(fields))
	for k, v := range fields {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(pairs, "\n")))

	q := url.Values{}
	for k, v := range fields {
		q.Set(k, v)
	}
	q.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return q.Encode()
}

type fakeStatus struct {
	reportErr error
}

func (f *fakeStatus) Report(context.Context) (*status.Report, error) {
	if f.reportErr != nil {
		return nil, f.reportErr
	}
	return &status.Report{Participants: 3, TotalPoints: decimal.NewFromInt(40), GiniPoints: 0.625}, nil
}

func (f *fakeStatus) UserReport(_ context.Context, userID int64) (*status.UserReport, error) {
	if userID == 404 {
		return nil, apperrors.New(apperrors.ErrCodeNotRegistered, "no proven address yet")
	}
	return &status.UserReport{UserID: userID, ReferralCode: "abcdefgh12", Points: decimal.NewFromInt(14)}, nil
}

func (f *fakeStatus) Draws(_ context.Context, limit, offset int) ([]dd.Draw, error) {
	return []dd.Draw{{ID: int64(limit*1000 + offset)}}, nil
}

func (f *fakeStatus) Draw(_ context.Context, id int64) (*dd.Draw, error) {
	if id != 1 {
		return nil, apperrors.NewNotFoundError("draw", id)
	}
	return &dd.Draw{ID: 1, WinnerAddress: "0:aa"}, nil
}

type fakeProver struct {
	linkedBy int64
}

func (f *fakeProver) LinkAddress(_ context.Context, userID int64, text string) (*registration.LinkResult, error) {
	if text == "taken" {
		return nil, apperrors.New(apperrors.ErrCodeAddressTaken, "Address already in use")
	}
	f.linkedBy = userID
	return &registration.LinkResult{Address: "0:" + text, Payload: "feedface"}, nil
}

func (f *fakeProver) VerifyOwnership(_ context.Context, userID int64, req *tonproof.VerifyRequest) (*registration.VerifyResult, error) {
	if req.Proof.Payload != "feedface" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidProof, "Ownership proof rejected: unknown or expired payload")
	}
	return &registration.VerifyResult{
		Address:     req.Address,
		Attested:    true,
		AskReferral: true,
		Participant: &dp.Participant{UserID: userID, ReferralCode: "abcdefgh12"},
	}, nil
}

type HandlersSuite struct {
	suite.Suite
	status *fakeStatus
	prover *fakeProver
	router *gin.Engine
	dbDown bool
}

func TestHandlersSuite(t *testing.T) {
	suite.Run(t, new(HandlersSuite))
}

func (s *HandlersSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.status = &fakeStatus{}
	s.prover = &fakeProver{}
	s.dbDown = false
	s.router = NewRouter(RouterConfig{
		Debug:       true,
		BotToken:    botToken,
		InitDataTTL: time.Hour,
		Status:      s.status,
		Prover:      s.prover,
		Domain:      "draw.example.org",
		Checks: map[string]Check{
			"postgres": func(context.Context) error {
				if s.dbDown {
					return errors.New("connection refused")
				}
				return nil
			},
		},
		Log: zerolog.Nop(),
	})
}

func (s *HandlersSuite) do(method, path string, body any, initData string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if initData != "" {
		req.Header.Set(mw.InitDataHeader, initData)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlersSuite) TestHealthAndReady() {
	s.Equal(nethttp.StatusOK, s.do(nethttp.MethodGet, "/health", nil, "").Code)
	s.Equal(nethttp.StatusOK, s.do(nethttp.MethodGet, "/ready", nil, "").Code)

	s.dbDown = true
	rec := s.do(nethttp.MethodGet, "/ready", nil, "")
	s.Equal(nethttp.StatusServiceUnavailable, rec.Code)
	s.Contains(rec.Body.String(), "connection refused")
}

func (s *HandlersSuite) TestMetrics() {
	rec := s.do(nethttp.MethodGet, "/metrics", nil, "")
	s.Equal(nethttp.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "go_goroutines")
}

func (s *HandlersSuite) TestStatus() {
	rec := s.do(nethttp.MethodGet, "/api/v1/status", nil, "")
	s.Require().Equal(nethttp.StatusOK, rec.Code)
	var r map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &r))
	s.Equal(float64(3), r["participants"])
	s.Equal("40", r["total_points"])

	s.status.reportErr = apperrors.NewExternalAPIError("balances", errors.New("timeout"))
	rec = s.do(nethttp.MethodGet, "/api/v1/status", nil, "")
	s.Equal(nethttp.StatusBadGateway, rec.Code)
}

func (s *HandlersSuite) TestDraws() {
	rec := s.do(nethttp.MethodGet, "/api/v1/draws?limit=5&offset=2", nil, "")
	s.Require().Equal(nethttp.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"draw_id":5002`)

	s.Equal(nethttp.StatusBadRequest, s.do(nethttp.MethodGet, "/api/v1/draws?limit=abc", nil, "").Code)
	s.Equal(nethttp.StatusBadRequest, s.do(nethttp.MethodGet, "/api/v1/draws/zero", nil, "").Code)
	s.Equal(nethttp.StatusNotFound, s.do(nethttp.MethodGet, "/api/v1/draws/9", nil, "").Code)

	rec = s.do(nethttp.MethodGet, "/api/v1/draws/1", nil, "")
	s.Equal(nethttp.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"winner_address":"0:aa"`)
}

func (s *HandlersSuite) TestMeRequiresInitData() {
	s.Equal(nethttp.StatusUnauthorized, s.do(nethttp.MethodGet, "/api/v1/me", nil, "").Code)

	stale := signInitData(s.T(), 42, time.Now().Add(-2*time.Hour))
	s.Equal(nethttp.StatusUnauthorized, s.do(nethttp.MethodGet, "/api/v1/me", nil, stale).Code)

	rec := s.do(nethttp.MethodGet, "/api/v1/me", nil, signInitData(s.T(), 42, time.Now()))
	s.Require().Equal(nethttp.StatusOK, rec.Code, rec.Body.String())
	s.Contains(rec.Body.String(), `"user_id":42`)

	rec = s.do(nethttp.MethodGet, "/api/v1/me", nil, signInitData(s.T(), 404, time.Now()))
	s.Equal(nethttp.StatusNotFound, rec.Code)
}

func (s *HandlersSuite) TestProofFlow() {
	auth := signInitData(s.T(), 42, time.Now())

	rec := s.do(nethttp.MethodPost, "/api/v1/proof/payload", PayloadRequest{Address: "abc"}, auth)
	s.Require().Equal(nethttp.StatusOK, rec.Code, rec.Body.String())
	var pr PayloadResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &pr))
	s.Equal("feedface", pr.TonProof.Payload)
	s.Equal("draw.example.org", pr.TonProof.Domain.Value)
	s.Equal(uint32(len("draw.example.org")), pr.TonProof.Domain.LengthBytes)
	s.Equal(int64(42), s.prover.linkedBy)

	s.Equal(nethttp.StatusConflict, s.do(nethttp.MethodPost, "/api/v1/proof/payload", PayloadRequest{Address: "taken"}, auth).Code)
	s.Equal(nethttp.StatusBadRequest, s.do(nethttp.MethodPost, "/api/v1/proof/payload", map[string]string{}, auth).Code)

	req := tonproof.VerifyRequest{Address: "0:abc", Proof: tonproof.Proof{Payload: "feedface"}}
	rec = s.do(nethttp.MethodPost, "/api/v1/proof/verify", req, auth)
	s.Require().Equal(nethttp.StatusOK, rec.Code, rec.Body.String())
	var vr VerifyResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &vr))
	s.True(vr.AskReferral)
	s.Equal("abcdefgh12", vr.ReferralCode)

	req.Proof.Payload = "other"
	s.Equal(nethttp.StatusBadRequest, s.do(nethttp.MethodPost, "/api/v1/proof/verify", req, auth).Code)
}

func TestQueryInt(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(nethttp.MethodGet, "/?limit=7&offset=-1", nil)

	v, err := queryInt(c, "limit", 20)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = queryInt(c, "offset", 0)
	assert.Error(t, err)

	v, err = queryInt(c, "missing", 20)
	require.NoError(t, err)
	assert.Equal(t, 20, v)
}
