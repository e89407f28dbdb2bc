package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/SimpleFund/internal/app"
	"github.com/irfndi/SimpleFund/internal/auth"
	"github.com/irfndi/SimpleFund/internal/config"
	"github.com/irfndi/SimpleFund/internal/logging"
	"github.com/irfndi/SimpleFund/internal/middleware"
	"github.com/irfndi/SimpleFund/internal/websocket"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	logCloser := logging.Setup(cfg.Log)
	defer logCloser.Close()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// The hub receives every event this process dispatches
	hub := websocket.NewHub()
	application, err := app.New(context.Background(), cfg, hub)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize application")
	}

	authMiddleware := auth.NewAuthMiddleware(cfg.Auth)
	wsServer := websocket.NewServer(hub, authMiddleware, cfg.CORSOrigins)
	wsServer.Start()

	limiter := middleware.NewLimiterStore(cfg.RateLimit)
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-sweepDone:
				return
			case now := <-ticker.C:
				if n := limiter.Sweep(now); n > 0 {
					logrus.WithField("removed", n).Debug("Swept idle rate limiters")
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           application.Router(authMiddleware, limiter, wsServer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logrus.WithField("port", cfg.Port).Info("Starting SimpleFund API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}

	close(sweepDone)
	wsServer.Stop()

	if err := application.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to release connections")
	}

	logrus.Info("Server exited")
}
