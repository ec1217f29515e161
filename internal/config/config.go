package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration, parsed from the environment.
type Config struct {
	Addr      string `env:"ADDR" envDefault:":8080"`
	AppEnv    string `env:"APP_ENV" envDefault:"development"`
	LogLevel  int    `env:"LOG_LEVEL" envDefault:"0"`
	SentryDSN string `env:"SENTRY_DSN"`

	Database  Database  `envPrefix:"DATABASE_"`
	JWT       JWT       `envPrefix:"JWT_"`
	Lockout   Lockout   `envPrefix:"LOCKOUT_"`
	SMTP      SMTP      `envPrefix:"SMTP_"`
	RateLimit RateLimit `envPrefix:"LOGIN_RATE_LIMIT_"`
}

// Database contains connection-pool parameters.
type Database struct {
	URL             string        `env:"URL"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
	ConnMaxIdleTime time.Duration `env:"CONN_MAX_IDLE_TIME" envDefault:"10m"`
}

// JWT contains the token parameters. The secret has no default: token
// construction fails closed when it is unset or too short.
type JWT struct {
	Secret     string        `env:"SECRET"`
	Issuer     string        `env:"ISSUER" envDefault:"https://id.portfolio.local"`
	Audience   string        `env:"AUDIENCE" envDefault:"portfolio-api"`
	AccessTTL  time.Duration `env:"ACCESS_TTL" envDefault:"30m"`
	RefreshTTL time.Duration `env:"REFRESH_TTL" envDefault:"336h"`
}

// Lockout contains the failed-login policy parameters.
type Lockout struct {
	Threshold int           `env:"THRESHOLD" envDefault:"5"`
	Duration  time.Duration `env:"DURATION" envDefault:"10m"`
}

// SMTP contains mail submission parameters. An empty host switches the
// service to the log-only sender.
type SMTP struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM" envDefault:"no-reply@portfolio.local"`
}

// RateLimit contains the per-IP login limiter parameters.
type RateLimit struct {
	Max    int           `env:"MAX" envDefault:"10"`
	Window time.Duration `env:"WINDOW" envDefault:"1m"`
}

// New parses the configuration from environment variables.
func New() (*Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}
