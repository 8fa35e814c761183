package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode is a stable machine-readable error kind.
type ErrorCode string

const (
	// Generic
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeBadRequest   ErrorCode = "BAD_REQUEST"

	// Registration and referrals
	ErrCodeInvalidAddress       ErrorCode = "INVALID_ADDRESS"
	ErrCodeAddressTaken         ErrorCode = "ADDRESS_TAKEN"
	ErrCodeAlreadyParticipating ErrorCode = "ALREADY_PARTICIPATING"
	ErrCodeInvalidProof         ErrorCode = "INVALID_PROOF"
	ErrCodeWrongSigner          ErrorCode = "WRONG_SIGNER"
	ErrCodeNotRegistered        ErrorCode = "NOT_REGISTERED"
	ErrCodeUnknownReferral      ErrorCode = "UNKNOWN_REFERRAL"
	ErrCodeSelfReferral         ErrorCode = "SELF_REFERRAL"
	ErrCodeReferralAlreadySet   ErrorCode = "REFERRAL_ALREADY_SET"
	ErrCodeNotAttested          ErrorCode = "NOT_ATTESTED"

	// Draws and payouts
	ErrCodeOracleNotReady ErrorCode = "ORACLE_NOT_READY"
	ErrCodeEmptyPool      ErrorCode = "EMPTY_POOL"
	ErrCodePaymentFailed  ErrorCode = "PAYMENT_FAILED"

	// Infrastructure
	ErrCodeDatabaseError     ErrorCode = "DATABASE_ERROR"
	ErrCodeTransactionFailed ErrorCode = "TRANSACTION_FAILED"
	ErrCodeCacheError        ErrorCode = "CACHE_ERROR"
	ErrCodeTelegramAPI       ErrorCode = "TELEGRAM_API_ERROR"
	ErrCodeExternalAPI       ErrorCode = "EXTERNAL_API_ERROR"
)

// AppError is a typed application error carried up to the chat and HTTP layers.
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Stack     []string               `json:"-"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	UserID    int64                  `json:"user_id,omitempty"`
	Cause     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another AppError by code so sentinel values work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// IsUserFacing reports whether the message is safe to show to the end user.
func (e *AppError) IsUserFacing() bool {
	switch e.Code {
	case ErrCodeInternal, ErrCodeDatabaseError, ErrCodeTransactionFailed,
		ErrCodeCacheError, ErrCodeTelegramAPI, ErrCodeExternalAPI, ErrCodePaymentFailed:
		return false
	}
	return true
}

func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

func (e *AppError) WithUserID(userID int64) *AppError {
	e.UserID = userID
	return e
}

// New creates an application error.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Stack:     getStackTrace(),
	}
}

// Wrap attaches a code and message to an existing error.
func Wrap(err error, code ErrorCode, message string) *AppError {
	appErr := New(code, message)
	appErr.Cause = err
	return appErr
}

func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// AsAppError unwraps err into an *AppError when one is in the chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first AppError in the chain or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

func getStackTrace() []string {
	var stack []string
	for i := 2; ; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		if strings.Contains(fn.Name(), "internal/common/errors") {
			continue
		}
		stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, fn.Name()))
		if len(stack) >= 10 {
			break
		}
	}
	return stack
}

func NewValidationError(field, reason string) *AppError {
	return New(ErrCodeValidation, fmt.Sprintf("Validation failed for field '%s': %s", field, reason)).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

func NewNotFoundError(resource string, id interface{}) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

func NewUnauthorizedError(reason string) *AppError {
	return New(ErrCodeUnauthorized, fmt.Sprintf("Unauthorized: %s", reason)).
		WithDetail("reason", reason)
}

func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseError, fmt.Sprintf("Database operation failed: %s", operation)).
		WithDetail("operation", operation)
}

func NewExternalAPIError(service string, err error) *AppError {
	return Wrap(err, ErrCodeExternalAPI, fmt.Sprintf("External API error: %s", service)).
		WithDetail("service", service)
}
