package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned when an access token fails verification.
	ErrInvalidToken = errors.New("invalid token")

	ErrTokenMalformed = fmt.Errorf("%w: malformed", ErrInvalidToken)
	ErrTokenSignature = fmt.Errorf("%w: bad signature", ErrInvalidToken)
	ErrTokenExpired   = fmt.Errorf("%w: expired", ErrInvalidToken)

	// ErrInvalidRefreshToken covers every refresh rejection: unknown, expired,
	// revoked or already rotated. Callers must not distinguish them to clients.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrRecordNotFound is returned by stores when no record has the fingerprint.
	ErrRecordNotFound = errors.New("refresh record not found")

	// ErrDuplicateFingerprint is returned by stores on a fingerprint collision.
	ErrDuplicateFingerprint = errors.New("duplicate refresh fingerprint")

	// ErrInvalidRecord is returned when a record violates expiresAt > createdAt.
	ErrInvalidRecord = errors.New("invalid refresh record")

	// ErrUnknownPrincipal is returned by an IdentityResolver when the user no longer exists.
	ErrUnknownPrincipal = errors.New("unknown principal")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// RejectReason says why a refresh token was refused. It is for logs and
// audit only; clients always see ErrInvalidRefreshToken.
type RejectReason string

const (
	ReasonMalformed   RejectReason = "malformed"
	ReasonNotFound    RejectReason = "not_found"
	ReasonExpired     RejectReason = "expired"
	ReasonRevoked     RejectReason = "revoked"
	ReasonReplayed    RejectReason = "replayed"
	ReasonUnknownUser RejectReason = "unknown_user"
)

// RefreshRejection is the typed form of ErrInvalidRefreshToken.
type RefreshRejection struct {
	Reason RejectReason
	UserID string

	// FamilyRevoked is the number of sessions revoked because a rotated
	// token was replayed. Only set when RevokeFamilyOnReuse is enabled.
	FamilyRevoked int
}

func (e RefreshRejection) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidRefreshToken.Error(), e.Reason)
}

func (e RefreshRejection) Unwrap() error { return ErrInvalidRefreshToken }

// RejectionReason extracts the reason from err, or "" when err is not a rejection.
func RejectionReason(err error) RejectReason {
	var rej RefreshRejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ""
}
