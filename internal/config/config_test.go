package config

import (
	"testing"
	"time"
)

func TestLoadAPIDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/colony")
	t.Setenv("PORT", "")
	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.Store.Dialect != DialectPostgres {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.RateLimitRPS != 5 || cfg.RateLimitBurst != 10 || cfg.Game.TunablesTTL != 30*time.Second || !cfg.Game.SeedDefaults {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadAPIPortOverridesAddr(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/colony")
	t.Setenv("COLONY_API_ADDR", ":9000")
	t.Setenv("PORT", "3000")
	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":3000" {
		t.Fatalf("expected :3000, got %q", cfg.Addr)
	}
}

func TestLoadAPIStoreValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"postgres without url", map[string]string{"DATABASE_URL": ""}, true},
		{"sqlite needs no url", map[string]string{"COLONY_DB_DIALECT": "SQLite", "DATABASE_URL": ""}, false},
		{"unknown dialect", map[string]string{"COLONY_DB_DIALECT": "mysql"}, true},
		{"bad rate", map[string]string{"DATABASE_URL": "x", "COLONY_RATE_LIMIT_RPS": "0"}, true},
		{"bad duration", map[string]string{"DATABASE_URL": "x", "COLONY_TUNABLES_TTL": "soon"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadAPIFromEnv()
			if (err != nil) != tc.wantErr {
				t.Fatalf("wantErr=%v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadWorker(t *testing.T) {
	t.Setenv("COLONY_DB_DIALECT", "sqlite")
	t.Setenv("COLONY_SQLITE_PATH", "/tmp/colony.sqlite")
	t.Setenv("COLONY_MARKET_TICK_EVERY", "30s")
	t.Setenv("COLONY_WORKER_RUN_ONCE", "true")
	cfg, err := LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MarketTickEvery != 30*time.Second || cfg.ProductionTickEvery != time.Minute || !cfg.RunOnce {
		t.Fatalf("unexpected worker config %+v", cfg)
	}
	if cfg.Store.SQLitePath != "/tmp/colony.sqlite" {
		t.Fatalf("unexpected sqlite path %q", cfg.Store.SQLitePath)
	}
}

func TestLoadCLITrimsSlash(t *testing.T) {
	t.Setenv("COLONY_API_BASE_URL", "https://colony.example/ ")
	if got := LoadCLIFromEnv().APIBaseURL; got != "https://colony.example" {
		t.Fatalf("unexpected base url %q", got)
	}
}
