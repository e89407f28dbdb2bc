package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/SimpleFund/internal/auth"
	"github.com/irfndi/SimpleFund/internal/config"
	"github.com/irfndi/SimpleFund/internal/metrics"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LimiterStore keeps one token bucket per client key
type LimiterStore struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	config   config.RateLimitConfig
	idleTTL  time.Duration
}

// NewLimiterStore creates an empty store
func NewLimiterStore(cfg config.RateLimitConfig) *LimiterStore {
	return &LimiterStore{
		limiters: make(map[string]*limiterEntry),
		config:   cfg,
		idleTTL:  10 * time.Minute,
	}
}

// Allow reports whether key may make a request now
func (s *LimiterStore) Allow(key string, now time.Time) (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.Burst)}
		s.limiters[key] = entry
	}
	entry.lastSeen = now

	if entry.limiter.AllowN(now, 1) {
		return true, 0
	}
	reservation := entry.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	reservation.CancelAt(now)
	return false, delay
}

// Sweep drops limiters idle for longer than the store's TTL
func (s *LimiterStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > s.idleTTL {
			delete(s.limiters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients
func (s *LimiterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// RateLimiter limits requests per authenticated subject, falling back to client IP
func RateLimiter(store *LimiterStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if actor, ok := auth.ActorFrom(c); ok {
			key = "sub:" + actor.ID
		}

		allowed, retryAfter := store.Allow(key, time.Now())
		if !allowed {
			metrics.GetCollector().RateLimitHits.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded. Please try again later.",
				"code":        "RATE_LIMITED",
				"retry_after": retryAfter.Seconds(),
			})
			return
		}

		c.Next()
	}
}
