package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	initdata "github.com/telegram-mini-apps/init-data-golang"

	apperrors "github.com/open-builders/draw-airdrop-bot/internal/common/errors"
)

const (
	InitDataHeader = "X-Telegram-Init-Data"

	userKey   = "user"
	userIDKey = "user_id"
)

// InitData validates Telegram Mini App init-data and stores the user in the context.
// It reads the X-Telegram-Init-Data header, then the init_data query parameter.
// expIn of zero disables the age check.
func InitData(token string, expIn time.Duration, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			Abort(c, log, apperrors.New(apperrors.ErrCodeInternal, "init-data validation is not configured"))
			return
		}
		raw := c.GetHeader(InitDataHeader)
		if raw == "" {
			raw = c.Query("init_data")
		}
		if raw == "" {
			Abort(c, log, apperrors.NewUnauthorizedError("missing init_data"))
			return
		}
		if err := initdata.Validate(raw, token, expIn); err != nil {
			Abort(c, log, apperrors.NewUnauthorizedError("invalid init_data").WithDetail("reason", err.Error()))
			return
		}
		parsed, err := initdata.Parse(raw)
		if err != nil {
			Abort(c, log, apperrors.New(apperrors.ErrCodeBadRequest, "invalid init_data format"))
			return
		}
		if parsed.User.ID == 0 {
			Abort(c, log, apperrors.NewUnauthorizedError("init_data carries no user"))
			return
		}
		c.Set(userKey, parsed.User)
		c.Set(userIDKey, parsed.User.ID)
		c.Next()
	}
}

// UserID returns the Telegram user id stored by InitData.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
