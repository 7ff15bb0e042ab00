package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	redisStore "instant-payout/internal/adapter/storage/redis"
	"instant-payout/pkg/apperror"
	"instant-payout/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateLimitRule defines a fixed-window rate limit.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

// GlobalRateLimit limits by client IP across the whole API surface.
// Health endpoints are exempt so orchestration probes never starve.
// A failing limit store degrades open: requests pass with a warning.
func GlobalRateLimit(store *redisStore.RateLimitStore, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/health") {
			c.Next()
			return
		}
		allow(c, store, "ip:"+c.ClientIP(), rule, apperror.ErrRateLimitExceeded(), log)
	}
}

// UserRateLimit limits requests per user so one user cannot drain a
// gateway's global window for everyone behind the same NAT. The user id
// comes from the path parameter, the authenticated context, or for
// intake requests the JSON body; requests with no identifiable user fall
// back to the client IP scope.
func UserRateLimit(store *redisStore.RateLimitStore, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		if userID == "" {
			userID = c.GetString(CtxUserID)
		}
		if userID == "" {
			userID = peekBodyUserID(c)
		}
		if userID == "" {
			userID = c.ClientIP()
		}
		allow(c, store, "user:"+userID, rule, apperror.ErrUserRateLimitExceeded(), log)
	}
}

// peekBodyUserID reads the user_id field out of a JSON body, restoring
// the body so the handler can bind it again.
func peekBodyUserID(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(raw))

	var probe struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.UserID
}

func allow(c *gin.Context, store *redisStore.RateLimitStore, key string, rule RateLimitRule, refusal *apperror.AppError, log zerolog.Logger) {
	result, err := store.Allow(c.Request.Context(), key, rule.Limit, rule.Window)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("rate limit check failed, allowing request")
		c.Next()
		return
	}

	c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

	if !result.Allowed {
		retryAfter := result.ResetAt - time.Now().Unix()
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		response.Error(c, refusal)
		c.Abort()
		return
	}

	c.Next()
}
