// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config holds every knob the server reads at startup.
type Config struct {
	Port        int    `env:"PORT,default=8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	BotUsername      string `env:"BOT_USERNAME,default=earnloop_bot"`

	AdminUsername string `env:"ADMIN_USERNAME,default=admin"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
	JWTSecret     string `env:"JWT_SECRET"`

	CommissionRate float64       `env:"REFERRAL_COMMISSION_RATE,default=0.05"`
	SignupBonus    float64       `env:"REFERRAL_SIGNUP_BONUS,default=0.5"`
	MinWithdrawal  float64       `env:"MIN_WITHDRAWAL,default=0"`
	AllowAnonymous bool          `env:"ALLOW_ANONYMOUS,default=true"`
	InitDataMaxAge time.Duration `env:"INIT_DATA_MAX_AGE,default=24h"`

	CORSOrigins    string  `env:"CORS_ORIGINS,default=*"`
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS,default=0"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST,default=20"`

	SeedDemoTasks bool `env:"SEED_DEMO_TASKS,default=false"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if cfg.TelegramBotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.AdminPassword == "" {
		return nil, fmt.Errorf("ADMIN_PASSWORD is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.CommissionRate < 0 || cfg.CommissionRate > 1 {
		return nil, fmt.Errorf("REFERRAL_COMMISSION_RATE must be in [0, 1]")
	}
	if cfg.SignupBonus < 0 {
		return nil, fmt.Errorf("REFERRAL_SIGNUP_BONUS must not be negative")
	}

	return &cfg, nil
}

// Origins returns the configured CORS origins as a list.
func (c *Config) Origins() []string {
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
