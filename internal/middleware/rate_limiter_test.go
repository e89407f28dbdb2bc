package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/SimpleFund/internal/auth"
	"github.com/irfndi/SimpleFund/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLimiterStore_Allow(t *testing.T) {
	store := NewLimiterStore(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 2})
	now := time.Now()

	ok, _ := store.Allow("a", now)
	assert.True(t, ok)
	ok, _ = store.Allow("a", now)
	assert.True(t, ok)
	ok, retry := store.Allow("a", now)
	assert.False(t, ok)
	assert.True(t, retry > 0)

	ok, _ = store.Allow("b", now)
	assert.True(t, ok)

	ok, _ = store.Allow("a", now.Add(2*time.Second))
	assert.True(t, ok)
}

func TestLimiterStore_Sweep(t *testing.T) {
	store := NewLimiterStore(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	now := time.Now()
	store.Allow("old", now.Add(-time.Hour))
	store.Allow("fresh", now)

	assert.Equal(t, 1, store.Sweep(now))
	assert.Equal(t, 1, store.Len())
}

func TestRateLimiter_KeysBySubject(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := NewLimiterStore(config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})

	router := gin.New()
	router.Use(func(c *gin.Context) {
		if sub := c.GetHeader("X-Test-Subject"); sub != "" {
			c.Set(auth.ContextKeyActor, auth.Actor{ID: sub, Role: "INVESTOR"})
		}
		c.Next()
	})
	router.Use(RateLimiter(store))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(subject string) int {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/", nil)
		if subject != "" {
			req.Header.Set("X-Test-Subject", subject)
		}
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("alice"))
	assert.Equal(t, http.StatusTooManyRequests, send("alice"))
	assert.Equal(t, http.StatusOK, send("bob"))
	assert.Equal(t, http.StatusOK, send(""))
	assert.Equal(t, http.StatusTooManyRequests, send(""))
}
