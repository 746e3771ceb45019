package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/precise-hbr-server/internal/domain"
)

const defaultMaxClients = 10000

// RateLimiter hands out one token bucket per client IP. The least recently seen clients are
// evicted once maxClients is reached.
type RateLimiter struct {
	logger  *logrus.Logger
	limit   rate.Limit
	burst   int
	clients *lru.Cache[string, *rate.Limiter]
}

// NewRateLimiter creates a per-client limiter from the rate limit configuration.
func NewRateLimiter(cfg domain.RateLimitConfig, maxClients int, logger *logrus.Logger) (*RateLimiter, error) {
	if maxClients <= 0 {
		maxClients = defaultMaxClients
	}
	clients, err := lru.New[string, *rate.Limiter](maxClients)
	if err != nil {
		return nil, fmt.Errorf("failed to create client limiter cache: %w", err)
	}

	return &RateLimiter{
		logger:  logger,
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.Burst,
		clients: clients,
	}, nil
}

// Allow reports whether clientID may make a request now.
func (rl *RateLimiter) Allow(clientID string) bool {
	return rl.limiter(clientID).Allow()
}

func (rl *RateLimiter) limiter(clientID string) *rate.Limiter {
	if l, ok := rl.clients.Get(clientID); ok {
		return l
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	// Another request may have raced us here; keep whichever bucket landed first
	if existing, found, _ := rl.clients.PeekOrAdd(clientID, l); found {
		return existing
	}
	return l
}

// Middleware rejects requests over the client's rate with 429.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	retryAfter := "1"
	if rl.limit > 0 {
		retryAfter = strconv.Itoa(int(math.Ceil(1 / float64(rl.limit))))
	}

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if rl.Allow(clientIP) {
			c.Next()
			return
		}

		correlationID := c.GetString(CorrelationIDKey)
		rl.logger.WithFields(logrus.Fields{
			"client_ip":      clientIP,
			"path":           c.Request.URL.Path,
			"correlation_id": correlationID,
		}).Warn("Request denied: rate limit exceeded")

		c.Header("Retry-After", retryAfter)
		c.AbortWithStatusJSON(http.StatusTooManyRequests,
			domain.NewEngineError(domain.ErrRateLimit, "Too many requests", "", correlationID))
	}
}
