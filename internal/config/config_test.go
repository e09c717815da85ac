package config

import (
	"os"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	os.Setenv("DATABASE_URL", "postgres://localhost:5432/klinik_test")
	t.Cleanup(func() { os.Unsetenv("DATABASE_URL") })
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Errorf("expected default env development, got %s", cfg.Env)
	}
	if cfg.DBMaxConns != 20 {
		t.Errorf("expected default max conns 20, got %d", cfg.DBMaxConns)
	}
	if cfg.RoleCacheTTL != 300 {
		t.Errorf("expected default role cache TTL 300, got %d", cfg.RoleCacheTTL)
	}
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	os.Unsetenv("DATABASE_URL")

	_, err := Load()
	if err == nil {
		t.Error("expected error when DATABASE_URL is missing")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("PORT", "9090")
	os.Setenv("ROLE_CACHE_TTL_SECONDS", "60")
	t.Cleanup(func() {
		os.Unsetenv("PORT")
		os.Unsetenv("ROLE_CACHE_TTL_SECONDS")
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.RoleCacheTTL != 60 {
		t.Errorf("expected role cache TTL 60, got %d", cfg.RoleCacheTTL)
	}
}

func TestValidate_ProductionRequiresIssuer(t *testing.T) {
	cfg := &Config{Env: "production", RoleCacheTTL: 300}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for production without AUTH_ISSUER")
	}

	cfg.AuthIssuer = "https://auth.example.com/realms/klinik"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_DevNeedsNoIssuer(t *testing.T) {
	cfg := &Config{Env: "development", RoleCacheTTL: 300}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_RoleCacheTTL(t *testing.T) {
	cfg := &Config{Env: "development", RoleCacheTTL: 0}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for non-positive role cache TTL")
	}
}
