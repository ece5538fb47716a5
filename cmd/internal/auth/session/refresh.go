package session

import (
	"crypto/rand"
	"encoding/base64"

	"healplus/cmd/security/token"
)

// maxRawRefreshLen bounds presented refresh tokens before hashing.
const maxRawRefreshLen = 4096

func newOpaqueRefreshToken(nBytes int, fp token.Fingerprinter) (plain string, fingerprint string, err error) {
	b := make([]byte, nBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}

	// URL-safe, no padding.
	plain = base64.RawURLEncoding.EncodeToString(b)

	return plain, fp.Fingerprint(plain), nil
}
