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
	"github.com/sirupsen/logrus"

	"guardian_tracker/internal/app"
	"guardian_tracker/internal/config"
	"guardian_tracker/internal/logger"
	"guardian_tracker/internal/middleware"
	"guardian_tracker/internal/routes"
)

func main() {
	cfg := config.Load()

	// Initialize structured logging to file
	log := logger.Setup(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, Stdout: cfg.LogStdout})
	if log.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize application.")
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start background services.")
	}

	r := routes.SetupRouter(a)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           middleware.EnableCORS(r, cfg.CORSOrigins...),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("Server running.")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server stopped.")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Graceful shutdown did not complete.")
	}
}
