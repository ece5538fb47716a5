package identity

import (
	"context"
	"strings"
	"time"
)

// Role is the coarse authorization role carried in access tokens.
type Role string

const (
	RoleProfessional Role = "professional"
	RoleAdmin        Role = "admin"
)

// ParseRole maps user input to a Role. Empty input selects RoleProfessional.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case "", RoleProfessional:
		return RoleProfessional, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// User is the healplus security principal.
type User struct {
	ID        string
	Email     string
	Name      string
	Role      Role
	CreatedAt time.Time
}

// UserAuth is a User together with its stored password hash.
// It never leaves the auth API.
type UserAuth struct {
	User         User
	PasswordHash string
}

// CreateUserInput describes a registration. PasswordHash is already encoded.
type CreateUserInput struct {
	Email        string
	Name         string
	Role         Role
	PasswordHash string
	Now          time.Time
}

// Store is the user persistence boundary.
type Store interface {
	// CreateUser inserts a user; a duplicate email returns ConflictError{Field: "email"}.
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	// GetUserAuthByEmail looks up by normalized email.
	GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error)
	// UpdatePasswordHash replaces the stored hash, e.g. after a cost upgrade.
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
}

func validateCreate(op string, in CreateUserInput) (CreateUserInput, error) {
	in.Email = NormalizeEmail(in.Email)
	in.Name = NormalizeName(in.Name)
	if in.Email == "" {
		return in, invalid(op, "email is required")
	}
	if in.Name == "" {
		return in, invalid(op, "name is required")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return in, invalid(op, "password hash is required")
	}
	role, ok := ParseRole(string(in.Role))
	if !ok {
		return in, invalid(op, "unknown role")
	}
	in.Role = role
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return in, nil
}
