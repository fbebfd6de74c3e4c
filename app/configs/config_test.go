package config

import (
	"path/filepath"
	"testing"
)

func TestApplyDefaultsFillsEmptyConfig(t *testing.T) {
	cfg := Config{}

	applyDefaults(&cfg)

	if cfg.Store.Backend != "sqlite" {
		t.Fatalf("unexpected backend: %s", cfg.Store.Backend)
	}
	if cfg.Persistence.TimeoutSec != 10 {
		t.Fatalf("unexpected persistence timeout: %d", cfg.Persistence.TimeoutSec)
	}
	if cfg.Persistence.Workers != 4 {
		t.Fatalf("unexpected worker count: %d", cfg.Persistence.Workers)
	}
	if cfg.FollowUp.DefaultHours != 48 {
		t.Fatalf("unexpected follow-up default: %d", cfg.FollowUp.DefaultHours)
	}
	if cfg.Sweep.IntervalSec != 60 {
		t.Fatalf("unexpected sweep interval: %d", cfg.Sweep.IntervalSec)
	}
	if cfg.Console.DefaultScope != "inbox" {
		t.Fatalf("unexpected default scope: %s", cfg.Console.DefaultScope)
	}
}

func TestApplyDefaultsRejectsUnknownBackend(t *testing.T) {
	cfg := Config{Store: StoreConfig{Backend: "cassandra"}}

	applyDefaults(&cfg)

	if cfg.Store.Backend != "sqlite" {
		t.Fatalf("expected fallback to sqlite, got %s", cfg.Store.Backend)
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		Store:       StoreConfig{Backend: "Postgres", PostgresDSN: "postgres://x"},
		Persistence: PersistenceConfig{TimeoutSec: 3, Workers: 2, Buffer: 16},
		FollowUp:    FollowUpConfig{DefaultHours: 24},
	}

	applyDefaults(&cfg)

	if cfg.Store.Backend != "postgres" {
		t.Fatalf("expected normalized postgres backend, got %s", cfg.Store.Backend)
	}
	if cfg.Persistence.TimeoutSec != 3 || cfg.Persistence.Workers != 2 || cfg.Persistence.Buffer != 16 {
		t.Fatalf("explicit persistence values were overwritten: %+v", cfg.Persistence)
	}
	if cfg.FollowUp.DefaultHours != 24 {
		t.Fatalf("explicit follow-up hours were overwritten: %d", cfg.FollowUp.DefaultHours)
	}
}

func TestManagerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "config.json")

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}

	updated, err := mgr.Update(func(cfg *Config) {
		cfg.Persistence.TimeoutSec = 5
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Persistence.TimeoutSec != 5 {
		t.Fatalf("unexpected timeout after update: %d", updated.Persistence.TimeoutSec)
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Get().Persistence.TimeoutSec != 5 {
		t.Fatalf("update was not persisted: %d", reloaded.Get().Persistence.TimeoutSec)
	}
}
