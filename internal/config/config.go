package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

type StoreConfig struct {
	Dialect     string `env:"COLONY_DB_DIALECT" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"COLONY_SQLITE_PATH" envDefault:"colony.sqlite"`
}

type GameConfig struct {
	TunablesTTL time.Duration `env:"COLONY_TUNABLES_TTL" envDefault:"30s"`
	// RNGSeed 0 seeds from the clock.
	RNGSeed      int64 `env:"COLONY_RNG_SEED" envDefault:"0"`
	SeedDefaults bool  `env:"COLONY_SEED_DEFAULTS" envDefault:"true"`
}

type APIConfig struct {
	Store StoreConfig
	Game  GameConfig

	Addr           string  `env:"COLONY_API_ADDR" envDefault:":8080"`
	Port           string  `env:"PORT"`
	RateLimitRPS   float64 `env:"COLONY_RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"COLONY_RATE_LIMIT_BURST" envDefault:"10"`
}

type WorkerConfig struct {
	Store StoreConfig
	Game  GameConfig

	MarketTickEvery     time.Duration `env:"COLONY_MARKET_TICK_EVERY" envDefault:"1m"`
	ProductionTickEvery time.Duration `env:"COLONY_PRODUCTION_TICK_EVERY" envDefault:"1m"`
	RunOnce             bool          `env:"COLONY_WORKER_RUN_ONCE" envDefault:"false"`
}

type CLIConfig struct {
	APIBaseURL string `env:"COLONY_API_BASE_URL" envDefault:"http://localhost:8080"`
}

func LoadAPIFromEnv() (APIConfig, error) {
	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	// PORT wins when the platform injects one.
	if p := strings.TrimSpace(cfg.Port); p != "" {
		if !strings.HasPrefix(p, ":") {
			p = ":" + p
		}
		cfg.Addr = p
	}
	if cfg.RateLimitRPS <= 0 {
		return cfg, fmt.Errorf("COLONY_RATE_LIMIT_RPS must be > 0")
	}
	if cfg.RateLimitBurst < 1 {
		return cfg, fmt.Errorf("COLONY_RATE_LIMIT_BURST must be >= 1")
	}
	if err := cfg.Store.validate(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Game.validate()
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if cfg.MarketTickEvery <= 0 || cfg.ProductionTickEvery <= 0 {
		return cfg, fmt.Errorf("tick intervals must be > 0")
	}
	if err := cfg.Store.validate(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Game.validate()
}

func LoadCLIFromEnv() CLIConfig {
	var cfg CLIConfig
	if err := env.Parse(&cfg); err != nil {
		cfg.APIBaseURL = "http://localhost:8080"
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	return cfg
}

func (c *StoreConfig) validate() error {
	c.Dialect = strings.ToLower(strings.TrimSpace(c.Dialect))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	switch c.Dialect {
	case DialectPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres dialect")
		}
	case DialectSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("COLONY_SQLITE_PATH is required for the sqlite dialect")
		}
	default:
		return fmt.Errorf("unknown COLONY_DB_DIALECT %q", c.Dialect)
	}
	return nil
}

func (c GameConfig) validate() error {
	if c.TunablesTTL < 0 {
		return fmt.Errorf("COLONY_TUNABLES_TTL must be >= 0")
	}
	return nil
}
