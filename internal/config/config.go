package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds runtime configuration for the kinlink API.
type Config struct {
	Addr          string        `env:"KINLINK_ADDR" envDefault:":8080"`
	PostgresDSN   string        `env:"KINLINK_PG_DSN"`
	ShareBaseURL  string        `env:"KINLINK_SHARE_BASE_URL" envDefault:"http://localhost:3000"`
	InviteTTL     time.Duration `env:"KINLINK_INVITE_TTL" envDefault:"168h"`
	RateBurst     int           `env:"KINLINK_RATE_BURST" envDefault:"20"`
	RatePerSec    int           `env:"KINLINK_RATE_PER_SEC" envDefault:"10"`
	MaxBodyBytes  int64         `env:"KINLINK_MAX_BODY_BYTES" envDefault:"1048576"`
	MigrationsDir string        `env:"KINLINK_MIGRATIONS_DIR" envDefault:"migrations"`
	SeedsDir      string        `env:"KINLINK_SEEDS_DIR" envDefault:"seeds"`
}

// Load parses configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.InviteTTL <= 0 {
		return Config{}, fmt.Errorf("KINLINK_INVITE_TTL must be positive, got %s", cfg.InviteTTL)
	}
	return cfg, nil
}
