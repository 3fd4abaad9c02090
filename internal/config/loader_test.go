package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("expected default addr :8080, got %q", cfg.Addr)
	}
	if cfg.LockTTL != 5*time.Minute {
		t.Fatalf("expected default lock TTL 5m, got %v", cfg.LockTTL)
	}
	if cfg.Database.DBName != "mapsync" {
		t.Fatalf("expected default dbname mapsync, got %q", cfg.Database.DBName)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MAPSYNC_ADDR", ":9090")
	t.Setenv("MAPSYNC_JWT_SECRET", "env-secret")
	t.Setenv("MAPSYNC_LOCK_TTL", "90s")
	t.Setenv("MAPSYNC_DATABASE_HOST", "db.internal")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("expected addr :9090, got %q", cfg.Addr)
	}
	if cfg.JWTSecret != "env-secret" {
		t.Fatalf("expected env secret, got %q", cfg.JWTSecret)
	}
	if cfg.LockTTL != 90*time.Second {
		t.Fatalf("expected lock TTL 90s, got %v", cfg.LockTTL)
	}
	if cfg.Database.Host != "db.internal" {
		t.Fatalf("expected db host override, got %q", cfg.Database.Host)
	}
}
