package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultSchema = "healplus"

	// Column order matches scanUser.
	userColumns = "id, email, name, role, created_at"

	pgUniqueViolation = "23505"
)

var schemaNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresStore keeps users in <schema>.users. The pool belongs to the
// caller and is never closed here.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema places the users table in schema instead of "healplus".
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !schemaNameRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema %q", schema)
		}
		s.table = pgx.Identifier{schema, "users"}.Sanitize()
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	s := &PostgresStore{pool: pool, table: pgx.Identifier{defaultSchema, "users"}.Sanitize()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func scanUser(row pgx.Row, extra ...any) (User, error) {
	var (
		u    User
		role string
	)
	dest := append([]any{&u.ID, &u.Email, &u.Name, &role, &u.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return User{}, err
	}
	u.Role = Role(role)
	return u, nil
}

// CreateUser implements Store.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	in, err := validateCreate(op, in)
	if err != nil {
		return User{}, err
	}

	u := User{ID: uuid.NewString(), Email: in.Email, Name: in.Name, Role: in.Role, CreatedAt: in.Now}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.table+` (id, email, email_norm, name, role, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Email, NormalizeEmail(u.Email), u.Name, string(u.Role), in.PasswordHash, u.CreatedAt,
	)
	if field, ok := uniqueViolation(err); ok {
		return User{}, ConflictError{Op: op, Field: field}
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUserByID implements Store.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+s.table+` WHERE id = $1`,
		strings.TrimSpace(id),
	)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: "identity.GetUserByID", Resource: "user"}
	}
	return u, err
}

// GetUserAuthByEmail implements Store.
func (s *PostgresStore) GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error) {
	var hash string
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+`, password_hash FROM `+s.table+` WHERE email_norm = $1`,
		NormalizeEmail(email),
	)
	u, err := scanUser(row, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserAuth{}, NotFoundError{Op: "identity.GetUserAuthByEmail", Resource: "user"}
	}
	if err != nil {
		return UserAuth{}, err
	}
	return UserAuth{User: u, PasswordHash: hash}, nil
}

// UpdatePasswordHash implements Store.
func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	const op = "identity.UpdatePasswordHash"
	if strings.TrimSpace(hash) == "" {
		return invalid(op, "password hash is required")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table+` SET password_hash = $2 WHERE id = $1`,
		strings.TrimSpace(userID), hash,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// uniqueViolation maps a unique_violation to the logical field it guards.
func uniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return "", false
	}
	if strings.Contains(strings.ToLower(pgErr.ConstraintName), "email") {
		return "email", true
	}
	return "unique", true
}
