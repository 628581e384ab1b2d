package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromPathOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
  shutdown_timeout: 3s
maps:
  rate_per_km: 75
cors:
  allowed_origins: "https://a.it, https://b.it"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Fatalf("server overlay not applied: %+v", cfg.Server)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Fatalf("default host lost: %q", cfg.Server.Host)
	}
	if cfg.Maps.RatePerKm != 75 {
		t.Fatalf("rate not applied: %d", cfg.Maps.RatePerKm)
	}
	if got := cfg.CORS.Origins(); len(got) != 2 || got[1] != "https://b.it" {
		t.Fatalf("origins: %v", got)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("GOOGLE_MAPS_API_KEY", "maps-key")
	t.Setenv("APP_ENV", "test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 4000 || cfg.Maps.APIKey != "maps-key" {
		t.Fatalf("env overrides not applied: port=%d key=%q", cfg.Server.Port, cfg.Maps.APIKey)
	}
}

func TestValidateRequiresSecretInProduction(t *testing.T) {
	cfg := Default()
	cfg.Environment = "production"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected secret validation error")
	}
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Maps.RatePerKm = 20000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected rate validation error")
	}
}
