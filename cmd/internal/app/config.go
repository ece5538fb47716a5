package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrConfig reports an invalid runtime configuration value.
var ErrConfig = errors.New("app: invalid config")

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	// Empty selects in-memory stores.
	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	DBAutoMigrate bool

	// Empty selects the per-process limiter.
	RedisURL string

	// Empty disables trace export; spans are still created with a no-op provider.
	OTLPEndpoint string
	ServiceName  string

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, HEALPLUS_TOKEN_HMAC_KEY must be set and refresh fingerprints are HMAC-keyed.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() (Config, error) {
	cfg := Config{
		HTTPAddr:  EnvString("HEALPLUS_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("HEALPLUS_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(EnvString("HEALPLUS_LOG_FORMAT", "json")),

		ReadHeaderTimeout: EnvDuration("HEALPLUS_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("HEALPLUS_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("HEALPLUS_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("HEALPLUS_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("HEALPLUS_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: EnvInt("HEALPLUS_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:   EnvString("HEALPLUS_DATABASE_URL", ""),
		DBMaxConns:    EnvInt32("HEALPLUS_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("HEALPLUS_DB_MIN_CONNS", 0),
		DBAutoMigrate: EnvBool("HEALPLUS_DB_AUTO_MIGRATE", true),

		RedisURL: EnvString("HEALPLUS_REDIS_URL", ""),

		OTLPEndpoint: EnvString("HEALPLUS_OTLP_ENDPOINT", ""),
		ServiceName:  EnvString("HEALPLUS_SERVICE_NAME", "healplus-auth"),

		ReadinessRequireDB: EnvBool("HEALPLUS_READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("HEALPLUS_REQUIRE_TOKEN_HMAC", false),
	}
	return cfg, cfg.Validate()
}

// Validate checks values that have no safe fallback.
func (c Config) Validate() error {
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("%w: HEALPLUS_LOG_FORMAT must be json or text, got %q", ErrConfig, c.LogFormat)
	}
	if c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("%w: HEALPLUS_DB_MIN_CONNS exceeds HEALPLUS_DB_MAX_CONNS", ErrConfig)
	}
	if c.ReadinessRequireDB && c.DatabaseURL == "" {
		return fmt.Errorf("%w: HEALPLUS_READINESS_REQUIRE_DB set without HEALPLUS_DATABASE_URL", ErrConfig)
	}
	return nil
}
