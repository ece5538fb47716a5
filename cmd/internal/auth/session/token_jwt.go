package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Identity is the subject an access token is minted for.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

// AccessClaims is the identity envelope recovered from a verified access token.
type AccessClaims struct {
	UserID    string
	Email     string
	Role      string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenIssuer mints and verifies short-lived access tokens. Implementations are
// pure: no storage, no shared mutable state.
type TokenIssuer interface {
	Mint(id Identity, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
}

type jwtClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTIssuer is a TokenIssuer producing HS512 JWTs.
type JWTIssuer struct {
	issuer    string
	audience  string
	ttl       time.Duration
	clockSkew time.Duration
	secret    []byte
}

var _ TokenIssuer = (*JWTIssuer)(nil)

// NewJWTIssuer builds a JWTIssuer from cfg. The secret must be at least 32 bytes.
func NewJWTIssuer(cfg Config) (*JWTIssuer, error) {
	if len(cfg.JWTSecret) < MinSecretBytes || cfg.AccessTokenTTL <= 0 {
		return nil, ErrConfig
	}
	return &JWTIssuer{
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    []byte(cfg.JWTSecret),
	}, nil
}

// Mint signs a token for id valid from now until now+TTL.
// JWT dates have second precision, so now is truncated first.
func (m *JWTIssuer) Mint(id Identity, now time.Time) (string, time.Time, error) {
	if strings.TrimSpace(id.UserID) == "" {
		return "", time.Time{}, ErrTokenMalformed
	}

	iat := now.UTC().Truncate(time.Second)
	exp := iat.Add(m.ttl)

	claims := jwtClaims{
		UserID: id.UserID,
		Email:  id.Email,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   id.UserID,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(iat),
			NotBefore: jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature, issuer, audience and time claims at now.
// Errors are ErrTokenMalformed, ErrTokenSignature, ErrTokenExpired or ErrInvalidToken.
func (m *JWTIssuer) Verify(token string, now time.Time) (AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return AccessClaims{}, ErrTokenMalformed
	}

	// A fresh parser per call: the time function is bound to now.
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	var c jwtClaims
	parsed, err := p.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenMalformed):
		return AccessClaims{}, ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return AccessClaims{}, ErrTokenSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return AccessClaims{}, ErrTokenExpired
	default:
		return AccessClaims{}, ErrInvalidToken
	}
	if !parsed.Valid {
		return AccessClaims{}, ErrInvalidToken
	}

	if c.Subject == "" || c.UserID != c.Subject {
		return AccessClaims{}, ErrTokenMalformed
	}

	out := AccessClaims{
		UserID:  c.UserID,
		Email:   c.Email,
		Role:    c.Role,
		TokenID: c.ID,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, nil
}
