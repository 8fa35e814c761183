package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/draw-airdrop-bot/internal/common/errors"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success   bool       `json:"success"`
	Error     *ErrorBody `json:"error"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id"`
	Path      string     `json:"path,omitempty"`
	Method    string     `json:"method,omitempty"`
}

type ErrorBody struct {
	Code    apperrors.ErrorCode    `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Recovery turns panics into an internal error response.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error().
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Interface("panic", recovered).
			Msg("panic recovered")
		Abort(c, log, apperrors.New(apperrors.ErrCodeInternal, "Internal server error").
			WithDetail("panic", fmt.Sprintf("%v", recovered)))
	})
}

// Abort writes err as an ErrorResponse. Errors that are not AppErrors become internal errors.
func Abort(c *gin.Context, log zerolog.Logger, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Wrap(err, apperrors.ErrCodeInternal, "Internal server error")
	}
	appErr.WithRequestID(RequestIDFrom(c))
	status := HTTPStatus(appErr.Code)

	body := &ErrorBody{Code: appErr.Code, Message: appErr.Message}
	if appErr.IsUserFacing() {
		body.Details = appErr.Details
	} else {
		body.Message = "Internal server error"
	}

	ev := log.Info()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(appErr.Cause).
		Str("request_id", appErr.RequestID).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Str("error_code", string(appErr.Code)).
		Str("error_message", appErr.Message).
		Msg("request failed")

	c.AbortWithStatusJSON(status, ErrorResponse{
		Success:   false,
		Error:     body,
		Timestamp: time.Now(),
		RequestID: appErr.RequestID,
		Path:      c.Request.URL.Path,
		Method:    c.Request.Method,
	})
}

// HTTPStatus maps an error code to a response status.
func HTTPStatus(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidation, apperrors.ErrCodeBadRequest, apperrors.ErrCodeInvalidAddress,
		apperrors.ErrCodeInvalidProof, apperrors.ErrCodeUnknownReferral, apperrors.ErrCodeSelfReferral:
		return http.StatusBadRequest
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrCodeWrongSigner, apperrors.ErrCodeNotAttested:
		return http.StatusForbidden
	case apperrors.ErrCodeNotFound, apperrors.ErrCodeNotRegistered:
		return http.StatusNotFound
	case apperrors.ErrCodeConflict, apperrors.ErrCodeAddressTaken, apperrors.ErrCodeAlreadyParticipating,
		apperrors.ErrCodeReferralAlreadySet:
		return http.StatusConflict
	case apperrors.ErrCodeCacheError:
		return http.StatusServiceUnavailable
	case apperrors.ErrCodeTelegramAPI, apperrors.ErrCodeExternalAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
