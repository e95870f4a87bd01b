// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries every tunable the service reads from the environment.
// cmd/server loads .env via godotenv/autoload before calling Load.
type Config struct {
	Addr        string `env:"SQUADLINK_ADDR" envDefault:":8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB     int    `env:"REDIS_DB" envDefault:"0"`

	// Gateway-issued caller tokens (HMAC). When unset, auth.Init generates
	// an ephemeral per-process secret, which only works for dev.
	GatewaySecret string `env:"GATEWAY_TOKEN_SECRET"`

	ResolverTimeout time.Duration `env:"RESOLVER_TIMEOUT" envDefault:"5s"`
	ResolverRetries int           `env:"RESOLVER_RETRIES" envDefault:"2"`

	SubmitCooldown time.Duration `env:"SUBMIT_COOLDOWN" envDefault:"10s"`
	MinMatchAge    time.Duration `env:"MIN_MATCH_AGE" envDefault:"5m"`
	AbuseWindow    time.Duration `env:"ABUSE_WINDOW" envDefault:"24h"`
	AbusePairLimit int           `env:"ABUSE_PAIR_LIMIT" envDefault:"5"`
	RatingDelta    int           `env:"RATING_DELTA" envDefault:"25"`

	AutoCompleteAfter time.Duration `env:"AUTOCOMPLETE_AFTER" envDefault:"24h"`
	ArchiveAfter      time.Duration `env:"ARCHIVE_AFTER" envDefault:"72h"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"10m"`
	SweepBatch        int           `env:"SWEEP_BATCH" envDefault:"100"`

	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"15s"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.AbusePairLimit < 1 {
		return nil, fmt.Errorf("ABUSE_PAIR_LIMIT must be >= 1")
	}
	if cfg.RatingDelta < 1 {
		return nil, fmt.Errorf("RATING_DELTA must be >= 1")
	}
	return cfg, nil
}
