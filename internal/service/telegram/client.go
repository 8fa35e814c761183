package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/draw-airdrop-bot/internal/common/errors"
)

const DefaultBaseURL = "https://api.telegram.org"

// Client is a small Telegram Bot API client covering what the bot needs.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	log        zerolog.Logger

	meMu sync.Mutex
	me   *User
}

func NewClient(baseURL, token string, pollTimeout time.Duration, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		// long polls hold the connection for pollTimeout
		httpClient: &http.Client{Timeout: pollTimeout + 10*time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		log:        log,
	}
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Username string `json:"username"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
}

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type tgResponse[T any] struct {
	Ok          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
	Result      T      `json:"result"`
}

// SendMessage sends plain text to chatID.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	params := url.Values{
		"chat_id":                  {strconv.FormatInt(chatID, 10)},
		"text":                     {text},
		"disable_web_page_preview": {"true"},
	}
	var result tgResponse[Message]
	return c.call(ctx, http.MethodPost, "sendMessage", params, &result)
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	params := url.Values{
		"offset":          {strconv.FormatInt(offset, 10)},
		"timeout":         {strconv.Itoa(int(timeout.Seconds()))},
		"allowed_updates": {`["message"]`},
	}
	var result tgResponse[[]Update]
	if err := c.call(ctx, http.MethodGet, "getUpdates", params, &result); err != nil {
		return nil, err
	}
	return result.Result, nil
}

// GetMe returns the bot account, cached after the first successful call.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	c.meMu.Lock()
	defer c.meMu.Unlock()
	if c.me != nil {
		return c.me, nil
	}
	var result tgResponse[User]
	if err := c.call(ctx, http.MethodGet, "getMe", nil, &result); err != nil {
		return nil, err
	}
	c.me = &result.Result
	return c.me, nil
}

func (c *Client) call(ctx context.Context, method, apiMethod string, data url.Values, out interface{ failure() error }) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, apiMethod)
	var (
		req *http.Request
		err error
	)
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(data.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		if len(data) > 0 {
			endpoint = endpoint + "?" + data.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
		if err != nil {
			return err
		}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeTelegramAPI, "%s request failed", apiMethod)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeTelegramAPI, "%s: decode response (status %d)", apiMethod, resp.StatusCode)
	}
	if err := out.failure(); err != nil {
		c.log.Debug().Err(err).Str("method", apiMethod).Int("status", resp.StatusCode).Msg("telegram call rejected")
		return apperrors.Wrapf(err, apperrors.ErrCodeTelegramAPI, "%s failed", apiMethod)
	}
	return nil
}

func (r *tgResponse[T]) failure() error {
	if r.Ok {
		return nil
	}
	return fmt.Errorf("telegram API error %d: %s", r.ErrorCode, r.Description)
}
