package app

import (
	"errors"
	"fmt"

	"healplus/cmd/security/token"
)

// LoadFingerprinter enforces the refresh-fingerprint policy at startup.
//
// With RequireTokenHMAC set, a missing or short HEALPLUS_TOKEN_HMAC_KEY is
// fatal. Otherwise a present key must still be valid, and an absent one
// selects plain SHA-256.
func LoadFingerprinter(cfg Config) (token.Fingerprinter, error) {
	fp, err := token.FingerprinterFromEnv(cfg.RequireTokenHMAC)
	switch {
	case err == nil:
	case errors.Is(err, token.ErrHMACKeyMissing):
		return token.Fingerprinter{}, fmt.Errorf("security policy: HEALPLUS_REQUIRE_TOKEN_HMAC=true but %s is missing", token.HMACEnvKey)
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return token.Fingerprinter{}, fmt.Errorf("security policy: %s is too short (min %d bytes)", token.HMACEnvKey, token.MinHMACKeyBytes)
	default:
		return token.Fingerprinter{}, err
	}

	if cfg.RequireTokenHMAC && !fp.Keyed() {
		return token.Fingerprinter{}, errors.New("security policy: HEALPLUS_REQUIRE_TOKEN_HMAC=true but fingerprinter is not in HMAC mode")
	}
	return fp, nil
}
