package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	clearEnv(t, "PORT", "POW_DIFFICULTY", "AUTO_CLEANUP_DAYS", "AUTO_CLEANUP_MAX_MB", "R2_CDN_DOMAIN", "S3_BUCKET")
	os.Setenv("PORT", "9090")
	os.Setenv("POW_DIFFICULTY", "30")
	os.Setenv("AUTO_CLEANUP_DAYS", "14")
	os.Setenv("AUTO_CLEANUP_MAX_MB", "2048")
	os.Setenv("R2_CDN_DOMAIN", "cdn.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Auth.PowDifficulty != 24 {
		t.Errorf("Auth.PowDifficulty = %d, want 24 (clamped from 30)", cfg.Auth.PowDifficulty)
	}
	if cfg.Cleanup.AutoCleanupDays != 14 {
		t.Errorf("Cleanup.AutoCleanupDays = %d, want 14", cfg.Cleanup.AutoCleanupDays)
	}
	if cfg.Cleanup.AutoCleanupMaxMB != 2048 {
		t.Errorf("Cleanup.AutoCleanupMaxMB = %d, want 2048", cfg.Cleanup.AutoCleanupMaxMB)
	}
	if cfg.Storage.CDNDomain != "cdn.example.com" {
		t.Errorf("Storage.CDNDomain = %q, want %q", cfg.Storage.CDNDomain, "cdn.example.com")
	}
}

func TestValidateRejectsMalformedCDNDomain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.CDNDomain = "https://cdn.example.com/path"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate must reject a CDN domain containing disallowed characters")
	}
}

func TestValidateRejectsEmptyBucket(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.S3Bucket = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate must reject an empty S3 bucket")
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate must reject a port outside [1, 65535]")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig() must validate cleanly: %v", err)
	}
}
