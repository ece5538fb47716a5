package session

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxDeviceInfoLen  = 255
	unknownDeviceInfo = "Unknown"
)

// DeviceContext describes the client a session is issued to.
type DeviceContext struct {
	UserAgent string
	IP        string
}

// DeviceInfo returns the stored device description: the User-Agent truncated
// to 255 characters, or "Unknown".
func (d DeviceContext) DeviceInfo() string {
	ua := strings.TrimSpace(d.UserAgent)
	if ua == "" {
		return unknownDeviceInfo
	}
	if utf8.RuneCountInString(ua) <= maxDeviceInfoLen {
		return ua
	}
	r := []rune(ua)
	return string(r[:maxDeviceInfoLen])
}

// Record is one server-side refresh token.
//
// Revoked only ever goes from false to true, and ReplacedBy is written at most
// once, in the same step that revokes a rotated record.
type Record struct {
	ID          string
	Fingerprint string
	UserID      string
	DeviceInfo  string
	IPAddress   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Revoked     bool
	RevokedAt   *time.Time
	ReplacedBy  *string
}

// Active reports whether the record can still be redeemed at now.
func (r Record) Active(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

// Rotated reports whether the record was consumed by a rotation.
func (r Record) Rotated() bool {
	return r.ReplacedBy != nil
}

// Querier is the set of record operations available inside and outside a unit of work.
type Querier interface {
	// Save inserts a new record. Fingerprints are unique.
	Save(ctx context.Context, rec Record) error

	FindByFingerprint(ctx context.Context, fingerprint string) (Record, error)

	// LockByFingerprint is FindByFingerprint that also locks the record until
	// the surrounding unit of work ends.
	LockByFingerprint(ctx context.Context, fingerprint string) (Record, error)

	// LockUser serializes units of work issuing sessions for the same user.
	LockUser(ctx context.Context, userID string) error

	FindActiveByUser(ctx context.Context, userID string, now time.Time) ([]Record, error)
	CountActiveByUser(ctx context.Context, userID string, now time.Time) (int, error)

	// MarkRotated revokes the record and sets ReplacedBy, only if it is not yet revoked.
	MarkRotated(ctx context.Context, fingerprint string, now time.Time, successor string) (bool, error)

	// Revoke revokes a single record if it is not yet revoked.
	Revoke(ctx context.Context, fingerprint string, now time.Time) (bool, error)

	// RevokeAllByUser revokes every active record of userID and returns how many changed.
	RevokeAllByUser(ctx context.Context, userID string, now time.Time) (int, error)

	// DeleteExpiredOrStaleRevoked removes records expired at now, and revoked
	// records whose RevokedAt is before threshold.
	DeleteExpiredOrStaleRevoked(ctx context.Context, now time.Time, threshold time.Time) (int, error)
}

// Store persists refresh records.
type Store interface {
	Querier

	// Atomic runs fn as one unit of work. Changes made through q are
	// committed only if fn returns nil.
	Atomic(ctx context.Context, fn func(q Querier) error) error
}
