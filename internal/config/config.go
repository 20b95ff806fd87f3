// Package config loads the server's environment-driven configuration,
// shaped after the teacher's pkg/infrastructure/config package: one
// Config struct, DefaultConfig(), and environment overrides applied in
// Load().
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/lhbill/assppweb/internal/model"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	TLSEnabled  bool     `json:"tls_enabled"`
	TLSAutoGen  bool     `json:"tls_auto_gen"`
	TLSCertFile string   `json:"tls_cert_file"`
	TLSKeyFile  string   `json:"tls_key_file"`
	TLSHosts    []string `json:"tls_hosts"`
}

// DatabaseConfig holds the Postgres connection settings consumed by
// internal/taskstore.
type DatabaseConfig struct {
	DSN               string `json:"dsn"`
	MaxConnections    int32  `json:"max_connections"`
	ConnectTimeoutSec int    `json:"connect_timeout_seconds"`
}

// StorageConfig holds the S3-compatible blob store settings consumed by
// internal/blobstore.S3Store, plus the optional public CDN domain
// spec.md §6 lets /packages/:id/file redirect to.
type StorageConfig struct {
	S3Endpoint    string `json:"s3_endpoint"`
	S3Region      string `json:"s3_region"`
	S3Bucket      string `json:"s3_bucket"`
	S3AccessKeyID string `json:"-"`
	S3SecretKey   string `json:"-"`
	CDNDomain     string `json:"cdn_domain"`
}

// AuthConfig holds the proof-of-work difficulty internal/auth issues
// challenges at.
type AuthConfig struct {
	PowDifficulty int `json:"pow_difficulty"`
}

// BuildConfig carries build metadata surfaced by GET /settings.
type BuildConfig struct {
	Commit string `json:"commit"`
	Date   string `json:"date"`
}

// Config is the server's full configuration.
type Config struct {
	Server   ServerConfig        `json:"server"`
	Database DatabaseConfig      `json:"database"`
	Storage  StorageConfig       `json:"storage"`
	Auth     AuthConfig          `json:"auth"`
	Cleanup  model.CleanupConfig `json:"cleanup"`
	Build    BuildConfig         `json:"build"`
}

// cdnDomainPattern matches spec.md §6's "`R2_CDN_DOMAIN`... matched
// against `^[\w.-]+$` before use" validation.
var cdnDomainPattern = regexp.MustCompile(`^[\w.-]+$`)

// DefaultConfig returns the configuration used when no environment
// override is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       8443,
			TLSAutoGen: true,
			TLSHosts:   []string{"localhost"},
		},
		Database: DatabaseConfig{
			DSN:               "postgres://localhost:5432/assppweb?sslmode=disable",
			MaxConnections:    10,
			ConnectTimeoutSec: 30,
		},
		Storage: StorageConfig{
			S3Region: "auto",
			S3Bucket: "assppweb",
		},
		Auth: AuthConfig{
			PowDifficulty: 18,
		},
		Cleanup: model.CleanupConfig{
			AutoCleanupDays:  0,
			AutoCleanupMaxMB: 0,
		},
	}
}

// Load builds a Config from DefaultConfig() with environment variable
// overrides applied, then validates it.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	cfg.applyEnvironmentOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("TLS_ENABLED"); v != "" {
		c.Server.TLSEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.Server.TLSCertFile = v
		c.Server.TLSAutoGen = false
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.Server.TLSKeyFile = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		c.Storage.S3Endpoint = v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		c.Storage.S3Region = v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		c.Storage.S3Bucket = v
	}
	if v := os.Getenv("S3_ACCESS_KEY_ID"); v != "" {
		c.Storage.S3AccessKeyID = v
	}
	if v := os.Getenv("S3_SECRET_ACCESS_KEY"); v != "" {
		c.Storage.S3SecretKey = v
	}
	if v := os.Getenv("R2_CDN_DOMAIN"); v != "" {
		c.Storage.CDNDomain = v
	}

	if v := os.Getenv("POW_DIFFICULTY"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			c.Auth.PowDifficulty = d
		}
	}

	if v := os.Getenv("AUTO_CLEANUP_DAYS"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			c.Cleanup.AutoCleanupDays = d
		}
	}
	if v := os.Getenv("AUTO_CLEANUP_MAX_MB"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			c.Cleanup.AutoCleanupMaxMB = d
		}
	}

	if v := os.Getenv("BUILD_COMMIT"); v != "" {
		c.Build.Commit = v
	}
	if v := os.Getenv("BUILD_DATE"); v != "" {
		c.Build.Date = v
	}
}

// Validate checks the loaded configuration for the invariants spec.md
// requires before the server starts: a well-formed CDN domain (§6) and
// a PoW difficulty within [16, 24] is clamped rather than rejected, to
// match the spec's "clamped to [16,24]" wording rather than a hard
// validation failure.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must not be empty")
	}
	if c.Storage.S3Bucket == "" {
		return fmt.Errorf("S3 bucket must not be empty")
	}
	if c.Storage.CDNDomain != "" && !cdnDomainPattern.MatchString(c.Storage.CDNDomain) {
		return fmt.Errorf("R2_CDN_DOMAIN %q does not match ^[\\w.-]+$", c.Storage.CDNDomain)
	}

	c.Auth.PowDifficulty = clampDifficulty(c.Auth.PowDifficulty)

	return nil
}

func clampDifficulty(d int) int {
	const min, max = 16, 24
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
