package http

import (
	"context"
	nethttp "net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/draw-airdrop-bot/internal/common/errors"
	dd "github.com/open-builders/draw-airdrop-bot/internal/domain/draw"
	mw "github.com/open-builders/draw-airdrop-bot/internal/http/middleware"
	"github.com/open-builders/draw-airdrop-bot/internal/service/registration"
	"github.com/open-builders/draw-airdrop-bot/internal/service/status"
	"github.com/open-builders/draw-airdrop-bot/internal/service/tonproof"
)

type StatusReader interface {
	Report(ctx context.Context) (*status.Report, error)
	UserReport(ctx context.Context, userID int64) (*status.UserReport, error)
	Draws(ctx context.Context, limit, offset int) ([]dd.Draw, error)
	Draw(ctx context.Context, id int64) (*dd.Draw, error)
}

type OwnershipProver interface {
	LinkAddress(ctx context.Context, userID int64, text string) (*registration.LinkResult, error)
	VerifyOwnership(ctx context.Context, userID int64, req *tonproof.VerifyRequest) (*registration.VerifyResult, error)
}

// StatusHandlers serve the public status page data.
type StatusHandlers struct {
	status StatusReader
	log    zerolog.Logger
}

func NewStatusHandlers(s StatusReader, log zerolog.Logger) *StatusHandlers {
	return &StatusHandlers{status: s, log: log}
}

// getStatus godoc
// @Summary Current standings
// @Description Per-address points breakdown, distribution statistics and the previous draw.
// @Tags status
// @Produce json
// @Success 200 {object} status.Report
// @Failure 502 {object} middleware.ErrorResponse "Balance source unavailable"
// @Router /status [get]
func (h *StatusHandlers) getStatus(c *gin.Context) {
	r, err := h.status.Report(c.Request.Context())
	if err != nil {
		mw.Abort(c, h.log, err)
		return
	}
	c.JSON(nethttp.StatusOK, r)
}

// listDraws godoc
// @Summary Draw history
// @Tags draws
// @Produce json
// @Param limit query int false "Page size (max 100)" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {array} draw.Draw
// @Router /draws [get]
func (h *StatusHandlers) listDraws(c *gin.Context) {
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		mw.Abort(c, h.log, err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		mw.Abort(c, h.log, err)
		return
	}
	draws, err := h.status.Draws(c.Request.Context(), limit, offset)
	if err != nil {
		mw.Abort(c, h.log, err)
		return
	}
	c.JSON(nethttp.StatusOK, draws)
}

// getDraw godoc
// @Summary Draw by id
// @Tags draws
// @Produce json
// @Param id path int true "Draw ID"
// @Success 200 {object} draw.Draw
// @Failure 404 {object} middleware.ErrorResponse
// @Router /draws/{id} [get]
func (h *StatusHandlers) getDraw(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		mw.Abort(c, h.log, apperrors.NewValidationError("id", "must be a positive integer"))
		return
	}
	d, err := h.status.Draw(c.Request.Context(), id)
	if err != nil {
		mw.Abort(c, h.log, err)
		return
	}
	c.JSON(nethttp.StatusOK, d)
}

// getMe godoc
// @Summary Own standings
// @Description Addresses, points and chance of the Telegram user behind init_data.
// @Tags me
// @Produce json
// @Security TelegramInitData
// @Success 200 {object} status.UserReport
// @Failure 401 {object} middleware.ErrorResponse
// @Failure 404 {object} middleware.ErrorResponse "No proven address yet"
// @Router /me [get]
func (h *StatusHandlers) getMe(c *gin.Context) {
	userID, ok := mw.UserID(c)
	if !ok {
		mw.Abort(c, h.log, apperrors.NewUnauthorizedError("Telegram init data required"))
		return
	}
	r, err := h.status.UserReport(c.Request.Context(), userID)
	if err != nil {
		mw.Abort(c, h.log, err)
		return
	}
	c.JSON(nethttp.StatusOK, r)
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperrors.NewValidationError(name, "must be a non-negative integer")
	}
	return v, nil
}

// ProofHandlers are the Mini App path of the ownership proof.
type ProofHandlers struct {
	prover OwnershipProver
	domain string
	now    func() time.Time
	log    zerolog.Logger
}

func NewProofHandlers(p OwnershipProver, domain string, log zerolog.Logger) *ProofHandlers {
	return &ProofHandlers{prover: p, domain: domain, now: time.Now, log: log}
}

type PayloadRequest struct {
	Address string `json:"address" binding:"required"`
}

type PayloadResponse struct {
	Address  string `json:"address"`
	TonProof struct {
		Timestamp int64           `json:"timestamp"`
		Domain    tonproof.Domain `json:"domain"`
		Payload   string          `json:"payload"`
	} `json:"ton_proof"`
}

type VerifyResponse struct {
	Address      string `json:"address"`
	Attested     bool   `json:"attested"`
	AskReferral  bool   `json:"ask_referral"`
	ReferralCode string `json:"referral_code"`
}

// payload godoc
// @Summary Request a proof payload
// @Description Issues a single-use ton_proof payload bound to the user and address.
// @Tags proof
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param request body PayloadRequest true "Address to prove"
// @Success 200 {object} PayloadResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse "Address already in use"
// @Router /proof/payload [post]
func (h *ProofHandlers) payload(c *gin.Context) {
	userID, ok := mw.UserID(c)
	if !ok {
		mw.Abort(c, h.log, apperrors.NewUnauthorizedError("Telegram init data required"))
		return
	}
	var req PayloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mw.Abort(c, h.log, apperrors.NewValidationError("address", "is required"))
		return
	}
	res, err := h.prover.LinkAddress(c.Request.Context(), userID, req.Address)
	if err != nil {
		mw.Abort(c, h.log, err)
		return
	}
	var resp PayloadResponse
	resp.Address = res.Address
	resp.TonProof.Timestamp = h.now().Unix()
	resp.TonProof.Domain = tonproof.Domain{LengthBytes: uint32(len(h.domain)), Value: h.domain}
	resp.TonProof.Payload = res.Payload
	c.JSON(nethttp.StatusOK, resp)
}

// verify godoc
// @Summary Submit a wallet proof
// @Tags proof
// @Accept json
// @Produce json
// @Security TelegramInitData
// @Param request body tonproof.VerifyRequest true "TON Connect proof"
// @Success 200 {object} VerifyResponse
// @Failure 400 {object} middleware.ErrorResponse "Proof rejected"
// @Failure 403 {object} middleware.ErrorResponse "Proof issued to another user"
// @Router /proof/verify [post]
func (h *ProofHandlers) verify(c *gin.Context) {
	userID, ok := mw.UserID(c)
	if !ok {
		mw.Abort(c, h.log, apperrors.NewUnauthorizedError("Telegram init data required"))
		return
	}
	var req tonproof.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mw.Abort(c, h.log, apperrors.New(apperrors.ErrCodeBadRequest, "malformed proof"))
		return
	}
	res, err := h.prover.VerifyOwnership(c.Request.Context(), userID, &req)
	if err != nil {
		mw.Abort(c, h.log, err)
		return
	}
	resp := VerifyResponse{Address: res.Address, Attested: res.Attested, AskReferral: res.AskReferral}
	if res.Participant != nil {
		resp.ReferralCode = res.Participant.ReferralCode
	}
	c.JSON(nethttp.StatusOK, resp)
}

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

type HealthHandlers struct {
	checks map[string]Check
}

func NewHealthHandlers(checks map[string]Check) *HealthHandlers {
	return &HealthHandlers{checks: checks}
}

func (h *HealthHandlers) health(c *gin.Context) {
	c.JSON(nethttp.StatusOK, gin.H{"status": "ok"})
}

func (h *HealthHandlers) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	code := nethttp.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			code = nethttp.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	c.JSON(code, gin.H{"ready": code == nethttp.StatusOK, "checks": results})
}
