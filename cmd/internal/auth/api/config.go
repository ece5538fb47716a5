package api

import (
	"os"
	"strconv"
	"strings"
)

const (
	AccessCookieName  = "healplus_access_token"
	RefreshCookieName = "healplus_refresh_token"

	accessCookiePath  = "/"
	refreshCookiePath = "/api/auth"
)

// Config controls auth API transport behavior.
type Config struct {
	// CookieSecure sets the Secure flag on session cookies.
	CookieSecure bool

	// TrustProxy makes X-Forwarded-For / X-Real-IP count as the client address.
	TrustProxy bool

	MaxBodyBytes int64

	// RefreshInBody also returns the raw refresh token in JSON responses and
	// accepts it in the refresh/logout request body. Cookies are always set.
	RefreshInBody bool

	// ExemptPaths bypass admission control (health and metrics endpoints).
	ExemptPaths []string
}

// DefaultConfig returns transport defaults.
func DefaultConfig() Config {
	return Config{
		TrustProxy:   true,
		MaxBodyBytes: 1 << 20,
		ExemptPaths:  []string{"/healthz", "/readyz", "/metrics"},
	}
}

// LoadConfigFromEnv loads auth API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	return Config{
		CookieSecure:  envBool("HEALPLUS_COOKIE_SECURE", def.CookieSecure),
		TrustProxy:    envBool("HEALPLUS_AUTH_TRUST_PROXY", def.TrustProxy),
		MaxBodyBytes:  envInt64("HEALPLUS_AUTH_MAX_BODY_BYTES", def.MaxBodyBytes),
		RefreshInBody: envBool("HEALPLUS_AUTH_REFRESH_IN_BODY", def.RefreshInBody),
		ExemptPaths:   def.ExemptPaths,
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
