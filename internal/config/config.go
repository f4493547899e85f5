package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rvu/rvu/internal/domain/exam"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema        string        `mapstructure:"DB_SCHEMA"`
	AuthSigningKey  string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer      string        `mapstructure:"AUTH_ISSUER"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	EnrichWorkers   int           `mapstructure:"ENRICH_WORKERS"`
	EnrichCacheSize int           `mapstructure:"ENRICH_CACHE_SIZE"`
	ContrastPolicy  string        `mapstructure:"CONTRAST_POLICY"`
	MaxUploadMB     int64         `mapstructure:"MAX_UPLOAD_MB"`
	MaxBodyMB       int64         `mapstructure:"MAX_BODY_MB"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	TLSEnabled      bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile     string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile      string        `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "CORS_ORIGINS",
	"ENRICH_WORKERS", "ENRICH_CACHE_SIZE", "CONTRAST_POLICY",
	"MAX_UPLOAD_MB", "MAX_BODY_MB", "REQUEST_TIMEOUT",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

// Load reads configuration from the environment, optionally seeded by a .env
// file in the working directory. An empty DATABASE_URL disables persistence.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("AUTH_ISSUER", "rvu")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("ENRICH_WORKERS", 0)
	v.SetDefault("ENRICH_CACHE_SIZE", 4096)
	v.SetDefault("CONTRAST_POLICY", string(exam.ContrastAngioOnly))
	v.SetDefault("MAX_UPLOAD_MB", 32)
	v.SetDefault("MAX_BODY_MB", 8)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	// Unmarshal only sees keys viper already knows about.
	for _, k := range keys {
		v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// A comma separated env value decodes as a single element.
	if len(cfg.CORSOrigins) <= 1 {
		cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// PersistenceEnabled reports whether a database is configured.
func (c *Config) PersistenceEnabled() bool {
	return c.DatabaseURL != ""
}

// Policy returns the parsed contrast policy. Call Validate first.
func (c *Config) Policy() exam.ContrastPolicy {
	p, _ := exam.ParseContrastPolicy(c.ContrastPolicy)
	return p
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if _, err := exam.ParseContrastPolicy(c.ContrastPolicy); err != nil {
		return fmt.Errorf("CONTRAST_POLICY: %w", err)
	}
	if c.EnrichWorkers < 0 {
		return fmt.Errorf("ENRICH_WORKERS must not be negative, got %d", c.EnrichWorkers)
	}
	if c.EnrichCacheSize < 0 {
		return fmt.Errorf("ENRICH_CACHE_SIZE must not be negative, got %d", c.EnrichCacheSize)
	}
	if c.MaxUploadMB <= 0 || c.MaxBodyMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB and MAX_BODY_MB must be positive")
	}
	if c.DBMinConns < 0 || c.DBMaxConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
		return fmt.Errorf("DB_MIN_CONNS (%d) must be between 0 and DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative")
	}

	if c.IsProduction() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required in production; refusing to start without authentication")
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters, got %d", len(c.AuthSigningKey))
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
