package session

import (
	"strings"
	"testing"
	"time"
)

var testSecret = strings.Repeat("s3cr3t-", 8)

func TestLoadConfigFromEnv_MissingSecret(t *testing.T) {
	t.Setenv("HEALPLUS_JWT_SECRET", "")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig on missing secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_ShortSecret(t *testing.T) {
	t.Setenv("HEALPLUS_JWT_SECRET", "too-short")
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig on short secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidValues(t *testing.T) {
	cases := []struct {
		key, val string
	}{
		{key: "HEALPLUS_JWT_EXPIRATION_HOURS", val: "0"},
		{key: "HEALPLUS_JWT_EXPIRATION_HOURS", val: "abc"},
		{key: "HEALPLUS_JWT_REFRESH_EXPIRATION_DAYS", val: "-1"},
		{key: "HEALPLUS_AUTH_MAX_ACTIVE_SESSIONS", val: "0"},
		{key: "HEALPLUS_AUTH_REFRESH_TOKEN_BYTES", val: "16"},
		{key: "HEALPLUS_AUTH_CLOCK_SKEW", val: "-5s"},
		{key: "HEALPLUS_AUTH_REAPER_INTERVAL", val: "0s"},
		{key: "HEALPLUS_AUTH_REVOKE_FAMILY_ON_REUSE", val: "maybe"},
	}

	for _, tc := range cases {
		t.Run(tc.key+"="+tc.val, func(t *testing.T) {
			t.Setenv("HEALPLUS_JWT_SECRET", testSecret)
			t.Setenv(tc.key, tc.val)
			if _, err := LoadConfigFromEnv(); err != ErrConfig {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestLoadConfigFromEnv_AccessTTLCapped(t *testing.T) {
	t.Setenv("HEALPLUS_JWT_SECRET", testSecret)
	t.Setenv("HEALPLUS_JWT_EXPIRATION_HOURS", "1000")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.AccessTokenTTL != MaxAccessTokenTTL {
		t.Fatalf("expected access ttl capped at %v, got %v", MaxAccessTokenTTL, cfg.AccessTokenTTL)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	t.Setenv("HEALPLUS_JWT_SECRET", testSecret)
	t.Setenv("HEALPLUS_JWT_EXPIRATION_HOURS", "2")
	t.Setenv("HEALPLUS_JWT_REFRESH_EXPIRATION_DAYS", "14")
	t.Setenv("HEALPLUS_AUTH_MAX_ACTIVE_SESSIONS", "3")
	t.Setenv("HEALPLUS_AUTH_REVOKE_FAMILY_ON_REUSE", "true")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.AccessTokenTTL != 2*time.Hour {
		t.Fatalf("access ttl: %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 14*24*time.Hour {
		t.Fatalf("refresh ttl: %v", cfg.RefreshTokenTTL)
	}
	if cfg.MaxActiveSessions != 3 || !cfg.RevokeFamilyOnReuse {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Issuer != "healplus-api" || cfg.Audience != "healplus-web" {
		t.Fatalf("unexpected issuer/audience: %q %q", cfg.Issuer, cfg.Audience)
	}
	if cfg.RevokedRetention != 7*24*time.Hour || cfg.ReaperInterval != time.Hour {
		t.Fatalf("unexpected reaper defaults: %+v", cfg)
	}
}
