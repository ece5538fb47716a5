package session

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxAccessTokenTTL caps HEALPLUS_JWT_EXPIRATION_HOURS.
	MaxAccessTokenTTL = 7 * 24 * time.Hour

	// MinSecretBytes is the minimum HS512 signing secret size.
	MinSecretBytes = 32
)

// Config defines all runtime configuration for the session subsystem.
type Config struct {
	// Issuer and Audience are set in the "iss" and "aud" claims of access tokens.
	Issuer   string
	Audience string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// MaxActiveSessions is the per-user cap on active refresh records.
	MaxActiveSessions int

	// RefreshTokenBytes is the entropy of raw refresh tokens (>= 32 bytes).
	RefreshTokenBytes int

	// ClockSkew is the leeway applied to exp/nbf/iat checks.
	ClockSkew time.Duration

	// RevokedRetention is how long revoked records are kept before the Reaper deletes them.
	RevokedRetention time.Duration

	// ReaperInterval is the period between sweeps.
	ReaperInterval time.Duration

	// RevokeFamilyOnReuse revokes all of a user's sessions when an already
	// rotated refresh token is presented again. Off by default.
	RevokeFamilyOnReuse bool

	// JWTSecret signs access tokens (HS512).
	JWTSecret string
}

// DefaultConfig returns defaults for everything except JWTSecret.
func DefaultConfig() Config {
	return Config{
		Issuer:            "healplus-api",
		Audience:          "healplus-web",
		AccessTokenTTL:    24 * time.Hour,
		RefreshTokenTTL:   30 * 24 * time.Hour,
		MaxActiveSessions: 5,
		RefreshTokenBytes: 64,
		ClockSkew:         0,
		RevokedRetention:  7 * 24 * time.Hour,
		ReaperInterval:    time.Hour,
	}
}

// Validate checks invariants of a programmatically built Config.
func (c Config) Validate() error {
	switch {
	case len(c.JWTSecret) < MinSecretBytes:
		return ErrConfig
	case c.Issuer == "" || c.Audience == "":
		return ErrConfig
	case c.AccessTokenTTL <= 0 || c.AccessTokenTTL > MaxAccessTokenTTL:
		return ErrConfig
	case c.RefreshTokenTTL <= 0:
		return ErrConfig
	case c.MaxActiveSessions < 1:
		return ErrConfig
	case c.RefreshTokenBytes < 32 || c.RefreshTokenBytes > 128:
		return ErrConfig
	case c.ClockSkew < 0:
		return ErrConfig
	case c.RevokedRetention <= 0 || c.ReaperInterval <= 0:
		return ErrConfig
	}
	return nil
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - HEALPLUS_JWT_SECRET (>= 32 bytes)
//
// Optional:
//   - HEALPLUS_JWT_ISSUER, HEALPLUS_JWT_AUDIENCE
//   - HEALPLUS_JWT_EXPIRATION_HOURS (values above 168 are capped)
//   - HEALPLUS_JWT_REFRESH_EXPIRATION_DAYS
//   - HEALPLUS_AUTH_MAX_ACTIVE_SESSIONS
//   - HEALPLUS_AUTH_REFRESH_TOKEN_BYTES (32..128)
//   - HEALPLUS_AUTH_CLOCK_SKEW, HEALPLUS_AUTH_REVOKED_RETENTION, HEALPLUS_AUTH_REAPER_INTERVAL
//   - HEALPLUS_AUTH_REVOKE_FAMILY_ON_REUSE
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := envTrim("HEALPLUS_JWT_ISSUER"); v != "" {
		cfg.Issuer = v
	}
	if v := envTrim("HEALPLUS_JWT_AUDIENCE"); v != "" {
		cfg.Audience = v
	}

	if v := envTrim("HEALPLUS_JWT_EXPIRATION_HOURS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = min(time.Duration(n)*time.Hour, MaxAccessTokenTTL)
	}

	if v := envTrim("HEALPLUS_JWT_REFRESH_EXPIRATION_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 365 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenTTL = time.Duration(n) * 24 * time.Hour
	}

	if v := envTrim("HEALPLUS_AUTH_MAX_ACTIVE_SESSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.MaxActiveSessions = n
	}

	if v := envTrim("HEALPLUS_AUTH_REFRESH_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 128 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}

	var err error
	if cfg.ClockSkew, err = envDuration("HEALPLUS_AUTH_CLOCK_SKEW", cfg.ClockSkew, true); err != nil {
		return Config{}, err
	}
	if cfg.RevokedRetention, err = envDuration("HEALPLUS_AUTH_REVOKED_RETENTION", cfg.RevokedRetention, false); err != nil {
		return Config{}, err
	}
	if cfg.ReaperInterval, err = envDuration("HEALPLUS_AUTH_REAPER_INTERVAL", cfg.ReaperInterval, false); err != nil {
		return Config{}, err
	}

	if v := envTrim("HEALPLUS_AUTH_REVOKE_FAMILY_ON_REUSE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.RevokeFamilyOnReuse = b
	}

	cfg.JWTSecret = os.Getenv("HEALPLUS_JWT_SECRET")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envTrim(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envDuration(key string, def time.Duration, allowZero bool) (time.Duration, error) {
	v := envTrim(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, ErrConfig
	}
	return d, nil
}
