package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/SimpleFund/internal/auth"
	"github.com/irfndi/SimpleFund/internal/fund"
	"github.com/irfndi/SimpleFund/internal/investor"
	"github.com/irfndi/SimpleFund/internal/metrics"
	"github.com/irfndi/SimpleFund/internal/middleware"
	"github.com/irfndi/SimpleFund/internal/order"
	"github.com/irfndi/SimpleFund/internal/outbox"
	"github.com/irfndi/SimpleFund/internal/pool"
	"github.com/irfndi/SimpleFund/internal/websocket"
)

// Router builds the HTTP API. ws may be nil when no event stream is served.
func (a *App) Router(am *auth.AuthMiddleware, limiter *middleware.LimiterStore, ws *websocket.Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(metrics.GetCollector().Middleware())

	// Security middleware
	router.Use(auth.SecurityHeaders())
	router.Use(auth.SecureCORS(a.Config.CORSOrigins))

	router.GET("/health", a.health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/api/v1", am.OptionalAuth(), middleware.RateLimiter(limiter))
	{
		v1.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "pong"})
		})

		fund.NewHandler(a.Funds).RegisterRoutes(v1, am)
		investor.NewHandler(a.Investors).RegisterRoutes(v1, am)
		pool.NewHandler(a.Pools).RegisterRoutes(v1, am)
		order.NewHandler(a.Ordering).RegisterRoutes(v1, am)
		outbox.NewHandler(a.Outbox, a.Dispatcher).RegisterRoutes(v1, am)
	}

	if ws != nil {
		ws.RegisterRoutes(router)
	}
	return router
}

func (a *App) health(c *gin.Context) {
	status, dbStatus := http.StatusOK, "ok"
	if sqlDB, err := a.DB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		status, dbStatus = http.StatusServiceUnavailable, "unavailable"
	}
	c.JSON(status, gin.H{
		"status":    dbStatus,
		"timestamp": time.Now().Unix(),
		"service":   "simplefund-api",
	})
}
