package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"portfolio-identity/app"
	"portfolio-identity/internal/config"
	"portfolio-identity/internal/observability"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		observability.NewLogger(0).Fatal("config parse failed", "error", err.Error())
	}

	logger := observability.NewLogger(cfg.LogLevel)

	runtime, err := app.Build(cfg, logger)
	if err != nil {
		logger.Fatal("bootstrap failed", "error", err.Error())
	}
	defer runtime.Close()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           runtime.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server started", "addr", cfg.Addr, "env", cfg.AppEnv)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", "error", err.Error())
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err.Error())
	}
}
