package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"portfolio-identity/internal/auth"
	"portfolio-identity/internal/config"
	"portfolio-identity/internal/db"
	"portfolio-identity/internal/mail"
	"portfolio-identity/internal/observability"
	"portfolio-identity/internal/token"
)

// Runtime is the assembled service: the root handler plus a shutdown hook.
type Runtime struct {
	Handler http.Handler
	Close   func() error
}

// Build wires the identity service from configuration. It fails when the
// database is unreachable or the signing secret is unusable.
func Build(cfg *config.Config, logger *observability.Logger) (*Runtime, error) {
	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("sentry init failed", "error", err.Error())
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	database, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	database.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	database.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime)

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := db.RunMigrations(database); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	tokens, err := token.NewManager(token.Config{
		Secret:     []byte(cfg.JWT.Secret),
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
	})
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	var sender mail.Sender
	if cfg.SMTP.Host != "" {
		sender = mail.NewSMTPSender(mail.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	} else {
		logger.Info("smtp host not configured, mail will be logged only")
		sender = mail.NewLogSender(logger)
	}

	lockout := auth.LockoutPolicy{
		Threshold: cfg.Lockout.Threshold,
		Duration:  cfg.Lockout.Duration,
	}

	repo := auth.NewRepository(database)
	service := auth.NewService(repo, tokens, sender, lockout, logger)
	handler := auth.NewHandler(service)
	limiter := auth.NewLoginRateLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)

	mux := http.NewServeMux()
	mux.Handle("POST /api/auth/login", limiter.Middleware(http.HandlerFunc(handler.Login)))
	mux.HandleFunc("POST /api/auth/register", handler.Register)
	mux.HandleFunc("PUT /api/auth/refresh_token", handler.Refresh)
	mux.HandleFunc("DELETE /api/auth/revoke", handler.Revoke)
	mux.HandleFunc("POST /api/auth/confirm_email", handler.ConfirmEmail)
	mux.HandleFunc("GET /api/auth/reconfirm_email", handler.ResendConfirmation)
	mux.HandleFunc("GET /api/auth/forgot_password", handler.ForgotPassword)
	mux.HandleFunc("POST /api/auth/reset_password", handler.ResetPassword)
	mux.Handle("GET /api/user/change_phone", auth.Middleware(tokens, http.HandlerFunc(handler.ChangePhone)))
	mux.Handle("POST /api/user/confirm_change_phone", auth.Middleware(tokens, http.HandlerFunc(handler.ConfirmChangePhone)))
	mux.HandleFunc("GET /health", healthHandler(database))

	root := observability.Recover(logger, observability.RequestLogging(logger, mux))

	return &Runtime{
		Handler: root,
		Close: func() error {
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
