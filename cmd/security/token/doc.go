// Package token provides refresh-token fingerprinting for healplus.
//
// Refresh tokens carry at least 256 bits of entropy, so a fast digest is
// sufficient for server-side lookup. The fingerprint is a stable 64-char hex
// string:
//   - SHA-256(token) when no key is configured.
//   - HMAC-SHA256(token, key) when HEALPLUS_TOKEN_HMAC_KEY is set.
//
// Slow password hashes must never be used here: every refresh request looks
// the record up by fingerprint.
package token
