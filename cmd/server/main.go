package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agenthands/driftwatch/internal/app"
	"github.com/agenthands/driftwatch/internal/config"
	"github.com/agenthands/driftwatch/internal/logging"
	"github.com/agenthands/driftwatch/internal/server"
)

func main() {
	logger := logging.NewLogger(os.Getenv("DRIFTWATCH_ENV"))
	config.LoadEnv(logger)

	cfgPath := config.GetEnv("CONFIG_PATH", "config/config.toml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Configuration is invalid")
	}
	logger = logging.NewLogger(cfg.Server.Env)
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.WithError(err).Warn("Error during shutdown")
		}
	}()

	srv := server.NewServer(a.Monitor, a.Metrics, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go srv.Schedule(ctx, cfg.Schedule.Interval.Std(), cfg.Schedule.RunOnStart)
	go func() {
		logger.Infof("Starting server on port %s", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Server shutdown incomplete")
	}
}
