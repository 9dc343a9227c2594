// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the health endpoint listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; must match JWTPrivateKey.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// TokenRefreshMargin is how long before access expiry the provider refreshes.
	TokenRefreshMargin string `mapstructure:"TOKEN_REFRESH_MARGIN"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// InitTimeout bounds how long the session waits for the first auth event.
	InitTimeout string `mapstructure:"AUTH_INIT_TIMEOUT"`
	// FetchTimeout bounds how long the tenant layer reports loading for one membership fetch.
	FetchTimeout         string `mapstructure:"MEMBERSHIP_FETCH_TIMEOUT"`
	MembershipMaxRetries int    `mapstructure:"MEMBERSHIP_MAX_RETRIES"`
	RetryMaxDelay        string `mapstructure:"MEMBERSHIP_RETRY_MAX_DELAY"`
	RoleStaleTime        string `mapstructure:"ROLE_STALE_TIME"`
	// CacheSize is the LRU capacity of the shared read cache.
	CacheSize int `mapstructure:"CACHE_SIZE"`
	// StateDir holds the persisted organization selection and credentials.
	StateDir string `mapstructure:"STATE_DIR"`

	// DevLoginEmail and DevLoginPassword sign in at startup when no credentials are stored.
	DevLoginEmail    string `mapstructure:"DEV_LOGIN_EMAIL"`
	DevLoginPassword string `mapstructure:"DEV_LOGIN_PASSWORD"`

	// OTLPEndpoint enables OTLP gRPC export when set (e.g. localhost:4317).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for session events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// TelemetryHealthChecks reports grpc_request events for health probes too. Off by default.
	TelemetryHealthChecks bool `mapstructure:"TELEMETRY_HEALTH_CHECKS"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "site-scheduler-auth")
	v.SetDefault("JWT_AUDIENCE", "site-scheduler-app")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("TOKEN_REFRESH_MARGIN", "1m")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("AUTH_INIT_TIMEOUT", "5s")
	v.SetDefault("MEMBERSHIP_FETCH_TIMEOUT", "10s")
	v.SetDefault("MEMBERSHIP_MAX_RETRIES", 2)
	v.SetDefault("MEMBERSHIP_RETRY_MAX_DELAY", "4s")
	v.SetDefault("ROLE_STALE_TIME", "5m")
	v.SetDefault("CACHE_SIZE", 1024)
	v.SetDefault("STATE_DIR", "")
	v.SetDefault("DEV_LOGIN_EMAIL", "")
	v.SetDefault("DEV_LOGIN_PASSWORD", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "site-scheduler-session")
	v.SetDefault("TELEMETRY_HEALTH_CHECKS", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if cfg.Env == "production" && (cfg.DevLoginEmail != "" || cfg.DevLoginPassword != "") {
		return nil, errors.New("config: DEV_LOGIN_* must not be set when APP_ENV=production")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.MembershipMaxRetries < 0 || cfg.MembershipMaxRetries > 5 {
		return nil, errors.New("config: MEMBERSHIP_MAX_RETRIES must be between 0 and 5")
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.MembershipFetchTimeout() < cfg.AuthInitTimeout() {
		return nil, errors.New("config: MEMBERSHIP_FETCH_TIMEOUT must not be shorter than AUTH_INIT_TIMEOUT")
	}
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.New("config: STATE_DIR must be set when the home directory is unknown")
		}
		cfg.StateDir = filepath.Join(home, ".site-scheduler")
	}

	return &cfg, nil
}

func duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// AccessTTL parses JWTAccessTTL. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration { return duration(c.JWTAccessTTL, 15*time.Minute) }

// RefreshTTL parses JWTRefreshTTL. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration { return duration(c.JWTRefreshTTL, 168*time.Hour) }

// RefreshMargin parses TokenRefreshMargin. Returns 1m if unset or invalid.
func (c *Config) RefreshMargin() time.Duration { return duration(c.TokenRefreshMargin, time.Minute) }

// AuthInitTimeout parses AUTH_INIT_TIMEOUT. Returns 5s if unset or invalid.
func (c *Config) AuthInitTimeout() time.Duration { return duration(c.InitTimeout, 5*time.Second) }

// MembershipFetchTimeout parses MEMBERSHIP_FETCH_TIMEOUT. Returns 10s if unset or invalid.
func (c *Config) MembershipFetchTimeout() time.Duration {
	return duration(c.FetchTimeout, 10*time.Second)
}

// MembershipRetryDelayCap parses MEMBERSHIP_RETRY_MAX_DELAY. Returns 4s if unset or invalid.
func (c *Config) MembershipRetryDelayCap() time.Duration {
	return duration(c.RetryMaxDelay, 4*time.Second)
}

// RoleStaleDuration parses ROLE_STALE_TIME. Returns 5m if unset or invalid.
func (c *Config) RoleStaleDuration() time.Duration { return duration(c.RoleStaleTime, 5*time.Minute) }

// DevLoginEnabled reports whether both dev login credentials are set.
func (c *Config) DevLoginEnabled() bool {
	return c.DevLoginEmail != "" && c.DevLoginPassword != ""
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the Kafka event stream is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
