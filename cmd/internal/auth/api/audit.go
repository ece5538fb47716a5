package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions.
const (
	AuditRegister        = "REGISTER"
	AuditLoginSuccess    = "LOGIN_SUCCESS"
	AuditLoginFailed     = "LOGIN_FAILED"
	AuditRefreshSuccess  = "REFRESH_SUCCESS"
	AuditRefreshRejected = "REFRESH_REJECTED"
	AuditLogout          = "LOGOUT"
	AuditLogoutAll       = "LOGOUT_ALL"
)

// AuditEvent is one security-relevant action. Meta may carry internal
// detail (such as a login failure reason) that is never sent to clients.
type AuditEvent struct {
	Action    string
	UserID    string
	IP        string
	UserAgent string
	At        time.Time
	Meta      map[string]any
}

// AuditSink records audit events. Implementations must not fail the request;
// errors are logged.
type AuditSink interface {
	Record(ctx context.Context, ev AuditEvent)
}

// LogAuditSink writes audit events to a structured logger.
type LogAuditSink struct {
	Log *slog.Logger
}

func (s LogAuditSink) Record(ctx context.Context, ev AuditEvent) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"action", ev.Action, "user_id", ev.UserID, "ip", ev.IP}
	for k, v := range ev.Meta {
		attrs = append(attrs, k, v)
	}
	log.InfoContext(ctx, "auth.audit", attrs...)
}

// PostgresAuditSink appends audit events to healplus.audit_log.
type PostgresAuditSink struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresAuditSink returns a sink writing through pool.
func NewPostgresAuditSink(pool *pgxpool.Pool, log *slog.Logger) *PostgresAuditSink {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresAuditSink{pool: pool, log: log}
}

func (s *PostgresAuditSink) Record(ctx context.Context, ev AuditEvent) {
	if s == nil || s.pool == nil || strings.TrimSpace(ev.Action) == "" {
		return
	}

	var metaVal *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			v := string(b)
			metaVal = &v
		}
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO healplus.audit_log (
			user_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	`, trimOrNil(ev.UserID), ev.Action, at, trimOrNil(ev.IP), trimOrNil(ev.UserAgent), metaVal)
	if err != nil {
		s.log.ErrorContext(ctx, "auth.audit.insert.fail", "err", err, "action", ev.Action)
	}
}

// MultiAuditSink fans an event out to every sink.
type MultiAuditSink []AuditSink

func (m MultiAuditSink) Record(ctx context.Context, ev AuditEvent) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, ev)
		}
	}
}

func (h *Handler) audit(r *http.Request, now time.Time, action, userID string, meta map[string]any) {
	if h.auditSink == nil {
		return
	}
	h.auditSink.Record(r.Context(), AuditEvent{
		Action:    action,
		UserID:    userID,
		IP:        h.clientKey(r),
		UserAgent: strings.TrimSpace(r.UserAgent()),
		At:        now,
		Meta:      meta,
	})
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
