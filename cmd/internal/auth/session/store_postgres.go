package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL (healplus.refresh_tokens).
//
// The pool is owned by the caller. Rotation safety comes from
// SELECT ... FOR UPDATE on the record row plus guarded UPDATEs
// (WHERE revoked = false), so a lost race updates zero rows.
type PostgresStore struct {
	pgQuerier
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgQuerier: pgQuerier{db: pool}, pool: pool}
}

// Atomic implements Store with a read-committed transaction.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(pgQuerier{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgQuerier struct {
	db dbtx
}

const recordColumns = `
	id, token_fingerprint, user_id, device_info, ip_address,
	created_at, expires_at, revoked, revoked_at, replaced_by_token`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec Record
		ip  *string
	)
	err := row.Scan(
		&rec.ID,
		&rec.Fingerprint,
		&rec.UserID,
		&rec.DeviceInfo,
		&ip,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.Revoked,
		&rec.RevokedAt,
		&rec.ReplacedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, err
	}
	if ip != nil {
		rec.IPAddress = *ip
	}
	return rec, nil
}

func (q pgQuerier) Save(ctx context.Context, rec Record) error {
	if !rec.ExpiresAt.After(rec.CreatedAt) || rec.Fingerprint == "" || rec.UserID == "" {
		return ErrInvalidRecord
	}

	_, err := q.db.Exec(ctx, `
		INSERT INTO healplus.refresh_tokens (
			id, token_fingerprint, user_id, device_info, ip_address,
			created_at, expires_at, revoked, revoked_at, replaced_by_token
		) VALUES ($1, $2, $3, $4, $5, $6, $7, false, NULL, NULL)
	`, rec.ID, rec.Fingerprint, rec.UserID, rec.DeviceInfo, nullIfEmpty(rec.IPAddress), rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateFingerprint
		}
		return err
	}
	return nil
}

func (q pgQuerier) FindByFingerprint(ctx context.Context, fingerprint string) (Record, error) {
	return scanRecord(q.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM healplus.refresh_tokens WHERE token_fingerprint = $1`,
		fingerprint,
	))
}

func (q pgQuerier) LockByFingerprint(ctx context.Context, fingerprint string) (Record, error) {
	return scanRecord(q.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM healplus.refresh_tokens WHERE token_fingerprint = $1 FOR UPDATE`,
		fingerprint,
	))
}

// LockUser takes a transaction-scoped advisory lock keyed by the user ID.
func (q pgQuerier) LockUser(ctx context.Context, userID string) error {
	_, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, userID)
	return err
}

func (q pgQuerier) FindActiveByUser(ctx context.Context, userID string, now time.Time) ([]Record, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+recordColumns+`
		FROM healplus.refresh_tokens
		WHERE user_id = $1 AND revoked = false AND expires_at > $2
		ORDER BY created_at
	`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (q pgQuerier) CountActiveByUser(ctx context.Context, userID string, now time.Time) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `
		SELECT count(*)
		FROM healplus.refresh_tokens
		WHERE user_id = $1 AND revoked = false AND expires_at > $2
	`, userID, now).Scan(&n)
	return n, err
}

func (q pgQuerier) MarkRotated(ctx context.Context, fingerprint string, now time.Time, successor string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE healplus.refresh_tokens
		SET revoked = true, revoked_at = $2, replaced_by_token = $3
		WHERE token_fingerprint = $1 AND revoked = false AND replaced_by_token IS NULL
	`, fingerprint, now, successor)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (q pgQuerier) Revoke(ctx context.Context, fingerprint string, now time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE healplus.refresh_tokens
		SET revoked = true, revoked_at = $2
		WHERE token_fingerprint = $1 AND revoked = false
	`, fingerprint, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (q pgQuerier) RevokeAllByUser(ctx context.Context, userID string, now time.Time) (int, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE healplus.refresh_tokens
		SET revoked = true, revoked_at = $2
		WHERE user_id = $1 AND revoked = false AND expires_at > $2
	`, userID, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (q pgQuerier) DeleteExpiredOrStaleRevoked(ctx context.Context, now time.Time, threshold time.Time) (int, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM healplus.refresh_tokens
		WHERE expires_at <= $1
		   OR (revoked AND revoked_at < $2)
	`, now, threshold)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
