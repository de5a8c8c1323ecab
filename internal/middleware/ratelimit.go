package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/response"
)

// RateLimiter is a fixed-window limiter kept in Redis so every server
// instance shares the same counters.
type RateLimiter struct {
	rdb      *redis.Client
	scope    string
	rate     int
	interval time.Duration
	log      zerolog.Logger
}

// NewRateLimiter creates a RateLimiter allowing rate requests per interval.
func NewRateLimiter(rdb *redis.Client, scope string, rate int, interval time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:      rdb,
		scope:    scope,
		rate:     rate,
		interval: interval,
		log:      log.With().Str("component", "rate_limiter").Str("scope", scope).Logger(),
	}
}

// Middleware rate-limits by student when authenticated, by IP otherwise.
// Redis errors let the request through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rate <= 0 {
			c.Next()
			return
		}

		subject := c.ClientIP()
		if claims := GetClaims(c); claims != nil {
			subject = "student:" + strconv.Itoa(claims.StudentID)
		}
		window := time.Now().UnixNano() / int64(rl.interval)
		key := config.CacheKey.RateLimitKey(rl.scope, subject, window)

		ctx := c.Request.Context()
		pipe := rl.rdb.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, rl.interval)
		if _, err := pipe.Exec(ctx); err != nil {
			rl.log.Warn().Err(err).Msg("Rate limiter unavailable")
			c.Next()
			return
		}

		if incr.Val() > int64(rl.rate) {
			c.Header("Retry-After", strconv.Itoa(int(rl.interval.Seconds())))
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
