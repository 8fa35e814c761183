package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const responseCachePrefix = "httpcache:"

type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// ResponseCache keeps successful GET responses in Redis for a short TTL, keyed by the
// request URI. It is cleared after every draw.
type ResponseCache struct {
	rdb redis.Cmdable
	ttl time.Duration
	log zerolog.Logger
}

func NewResponseCache(rdb redis.Cmdable, ttl time.Duration, log zerolog.Logger) *ResponseCache {
	return &ResponseCache{rdb: rdb, ttl: ttl, log: log}
}

type captureWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Handler serves cached responses and stores fresh ones.
func (rc *ResponseCache) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		key := responseCachePrefix + c.Request.URL.RequestURI()

		if bs, err := rc.rdb.Get(ctx, key).Bytes(); err == nil && len(bs) > 0 {
			var entry cachedResponse
			if json.Unmarshal(bs, &entry) == nil {
				c.Header("X-Cache", "HIT")
				c.Data(entry.Status, entry.ContentType, entry.Body)
				c.Abort()
				return
			}
		} else if err != nil && err != redis.Nil {
			rc.log.Warn().Err(err).Str("key", key).Msg("response cache read failed")
		}

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Header("X-Cache", "MISS")
		c.Next()

		status := w.Status()
		if status < 200 || status >= 300 {
			return
		}
		entry := cachedResponse{Status: status, ContentType: w.Header().Get("Content-Type"), Body: w.buf.Bytes()}
		payload, err := json.Marshal(entry)
		if err != nil {
			return
		}
		if err := rc.rdb.Set(context.WithoutCancel(ctx), key, payload, rc.ttl).Err(); err != nil {
			rc.log.Warn().Err(err).Str("key", key).Msg("response cache write failed")
		}
	}
}

// Clear drops every cached response.
func (rc *ResponseCache) Clear(ctx context.Context) error {
	iter := rc.rdb.Scan(ctx, 0, responseCachePrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return rc.rdb.Del(ctx, keys...).Err()
}
