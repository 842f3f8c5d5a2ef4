package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	apperrors "etfdiscovery/internal/errors"
	"etfdiscovery/internal/logger"
)

// visitorIdleTTL is how long a client's bucket survives without requests.
const visitorIdleTTL = 10 * time.Minute

// RateLimiter hands out one token bucket per client IP.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	visitors *gocache.Cache
}

// NewRateLimiter creates a limiter refilling perSecond tokens a second up to
// burst. A non-positive perSecond disables limiting.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		visitors: gocache.New(visitorIdleTTL, visitorIdleTTL),
	}
}

// Allow reports whether a request from key may proceed.
func (l *RateLimiter) Allow(key string) bool {
	if l.limit <= 0 {
		return true
	}
	return l.visitor(key).Allow()
}

func (l *RateLimiter) visitor(key string) *rate.Limiter {
	if v, ok := l.visitors.Get(key); ok {
		l.visitors.SetDefault(key, v)
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	if err := l.visitors.Add(key, lim, gocache.DefaultExpiration); err != nil {
		// Another request created the bucket first.
		if v, ok := l.visitors.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

// Middleware rejects requests over the client's rate with RATE_LIMITED.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.Allow(c.ClientIP()) {
			c.Next()
			return
		}
		logger.ForRequest(c.GetString(requestIDKey)).Warnw("rate limit exceeded",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"client_ip", c.ClientIP(),
		)
		retry := int(math.Ceil(1 / float64(l.limit)))
		c.Header("Retry-After", strconv.Itoa(retry))
		abortWithError(c, apperrors.ErrRateLimited)
	}
}
