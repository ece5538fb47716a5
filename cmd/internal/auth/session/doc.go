// Package session implements healplus authentication sessions.
//
// Access tokens are HS512-signed JWTs minted by a TokenIssuer. They are
// stateless: verification never touches storage, so a revoked session keeps
// its access token until that token expires.
//
// Refresh tokens are opaque random strings (64 bytes by default, base64url).
// Only their fingerprint is stored (see cmd/security/token). Each refresh
// token is single-use: RotateRefresh revokes the presented record, links it
// to its successor and issues a new pair in one atomic step.
//
// A user holds at most MaxActiveSessions active refresh records. Issuing one
// more revokes every active record of that user first.
//
// The Reaper periodically deletes expired records and revoked records older
// than the retention window.
package session
