package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"healplus/cmd/identity/ids"
	"healplus/cmd/security/token"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// IdentityResolver loads the token subject for a user ID during rotation.
// It returns ErrUnknownPrincipal when the user no longer exists.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, userID string) (Identity, error)
}

// Service implements the refresh-token rotation protocol.
type Service struct {
	cfg    Config
	tokens TokenIssuer
	store  Store
	users  IdentityResolver
	fp     token.Fingerprinter
	log    *slog.Logger
}

// ServiceOption configures optional Service dependencies.
type ServiceOption func(*Service)

// WithFingerprinter sets the refresh-token fingerprinter (default: plain SHA-256).
func WithFingerprinter(fp token.Fingerprinter) ServiceOption {
	return func(s *Service) { s.fp = fp }
}

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// Issued is the result of issuing or rotating a session.
type Issued struct {
	RecordID     string
	UserID       string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// NewService wires a Service. All dependencies are required.
func NewService(cfg Config, store Store, tokens TokenIssuer, users IdentityResolver, opts ...ServiceOption) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || tokens == nil || users == nil {
		return nil, errors.New("session: nil dependency")
	}

	s := &Service{
		cfg:    cfg,
		tokens: tokens,
		store:  store,
		users:  users,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Config returns the service configuration.
func (s *Service) Config() Config { return s.cfg }

// VerifyAccessToken verifies an access token without consulting storage.
func (s *Service) VerifyAccessToken(tok string, now time.Time) (AccessClaims, error) {
	return s.tokens.Verify(tok, now)
}

// IssueSession creates a new refresh record and access token for id.
//
// If the user already holds MaxActiveSessions active records, all of them are
// revoked first. This is the only path that creates records.
func (s *Service) IssueSession(ctx context.Context, now time.Time, id Identity, dev DeviceContext) (Issued, error) {
	ctx, span := tracer.Start(ctx, "session.IssueSession")
	defer span.End()

	plain, fp, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes, s.fp)
	if err != nil {
		return Issued{}, failSpan(span, err)
	}

	var out Issued
	err = s.store.Atomic(ctx, func(q Querier) error {
		var err error
		out, err = s.issueTx(ctx, q, now, id, dev, plain, fp)
		return err
	})
	if err != nil {
		return Issued{}, failSpan(span, err)
	}

	sessionsIssued.WithLabelValues("login").Inc()
	return out, nil
}

func (s *Service) issueTx(ctx context.Context, q Querier, now time.Time, id Identity, dev DeviceContext, plain, fp string) (Issued, error) {
	if strings.TrimSpace(id.UserID) == "" {
		return Issued{}, errors.New("session: empty user id")
	}
	if err := q.LockUser(ctx, id.UserID); err != nil {
		return Issued{}, err
	}

	active, err := q.CountActiveByUser(ctx, id.UserID, now)
	if err != nil {
		return Issued{}, err
	}
	if active >= s.cfg.MaxActiveSessions {
		revoked, err := q.RevokeAllByUser(ctx, id.UserID, now)
		if err != nil {
			return Issued{}, err
		}
		sessionCapEvictions.Add(float64(revoked))
		s.log.InfoContext(ctx, "session.cap.evicted", "user_id", id.UserID, "revoked", revoked, "max", s.cfg.MaxActiveSessions)
	}

	access, accessExp, err := s.tokens.Mint(id, now)
	if err != nil {
		return Issued{}, err
	}

	recID, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, err
	}

	rec := Record{
		ID:          recID,
		Fingerprint: fp,
		UserID:      id.UserID,
		DeviceInfo:  dev.DeviceInfo(),
		IPAddress:   strings.TrimSpace(dev.IP),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.RefreshTokenTTL),
	}
	if err := q.Save(ctx, rec); err != nil {
		return Issued{}, err
	}

	return Issued{
		RecordID:     rec.ID,
		UserID:       id.UserID,
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: plain,
		RefreshExp:   rec.ExpiresAt,
	}, nil
}

// RotateRefresh redeems a refresh token and returns a fresh pair.
//
// The presented record is locked, checked, revoked with ReplacedBy pointing at
// the successor, and the successor is issued, all in one unit of work. Of two
// concurrent calls with the same token exactly one succeeds. Any rejection is
// a RefreshRejection (errors.Is ErrInvalidRefreshToken).
func (s *Service) RotateRefresh(ctx context.Context, now time.Time, raw string, dev DeviceContext) (Issued, error) {
	ctx, span := tracer.Start(ctx, "session.RotateRefresh")
	defer span.End()

	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxRawRefreshLen {
		return Issued{}, s.reject(span, RefreshRejection{Reason: ReasonMalformed})
	}
	presented := s.fp.Fingerprint(raw)

	plain, nextFP, err := newOpaqueRefreshToken(s.cfg.RefreshTokenBytes, s.fp)
	if err != nil {
		return Issued{}, failSpan(span, err)
	}

	var (
		out      Issued
		rejected *RefreshRejection
	)
	err = s.store.Atomic(ctx, func(q Querier) error {
		peek, err := q.FindByFingerprint(ctx, presented)
		if errors.Is(err, ErrRecordNotFound) {
			rejected = &RefreshRejection{Reason: ReasonNotFound}
			return nil
		}
		if err != nil {
			return err
		}

		// User lock before row lock, the same order issueTx and the cap
		// eviction use.
		if err := q.LockUser(ctx, peek.UserID); err != nil {
			return err
		}
		rec, err := q.LockByFingerprint(ctx, presented)
		if err != nil {
			return err
		}

		switch {
		case rec.Rotated():
			rejected = &RefreshRejection{Reason: ReasonReplayed, UserID: rec.UserID}
			if s.cfg.RevokeFamilyOnReuse {
				n, err := q.RevokeAllByUser(ctx, rec.UserID, now)
				if err != nil {
					return err
				}
				rejected.FamilyRevoked = n
			}
			return nil
		case rec.Revoked:
			rejected = &RefreshRejection{Reason: ReasonRevoked, UserID: rec.UserID}
			return nil
		case !now.Before(rec.ExpiresAt):
			rejected = &RefreshRejection{Reason: ReasonExpired, UserID: rec.UserID}
			return nil
		}

		id, err := s.users.ResolveIdentity(ctx, rec.UserID)
		if errors.Is(err, ErrUnknownPrincipal) {
			rejected = &RefreshRejection{Reason: ReasonUnknownUser, UserID: rec.UserID}
			return nil
		}
		if err != nil {
			return err
		}

		ok, err := q.MarkRotated(ctx, presented, now, nextFP)
		if err != nil {
			return err
		}
		if !ok {
			rejected = &RefreshRejection{Reason: ReasonRevoked, UserID: rec.UserID}
			return nil
		}

		out, err = s.issueTx(ctx, q, now, id, dev, plain, nextFP)
		return err
	})
	if err != nil {
		refreshOutcomes.WithLabelValues("error").Inc()
		return Issued{}, failSpan(span, err)
	}
	if rejected != nil {
		if rejected.FamilyRevoked > 0 {
			s.log.WarnContext(ctx, "session.refresh.reuse_revoked_family", "user_id", rejected.UserID, "revoked", rejected.FamilyRevoked)
		}
		return Issued{}, s.reject(span, *rejected)
	}

	refreshOutcomes.WithLabelValues("rotated").Inc()
	sessionsIssued.WithLabelValues("rotation").Inc()
	span.SetAttributes(attribute.String("session.outcome", "rotated"))
	return out, nil
}

// RevokeAll revokes every active session of userID and returns how many were revoked.
func (s *Service) RevokeAll(ctx context.Context, now time.Time, userID string) (int, error) {
	ctx, span := tracer.Start(ctx, "session.RevokeAll")
	defer span.End()

	var n int
	err := s.store.Atomic(ctx, func(q Querier) error {
		if err := q.LockUser(ctx, userID); err != nil {
			return err
		}
		var err error
		n, err = q.RevokeAllByUser(ctx, userID, now)
		return err
	})
	if err != nil {
		return 0, failSpan(span, err)
	}
	span.SetAttributes(attribute.Int("session.revoked", n))
	return n, nil
}

// Revoke revokes the session behind a raw refresh token. It reports whether
// a record changed; unknown or already revoked tokens are not an error.
func (s *Service) Revoke(ctx context.Context, now time.Time, raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxRawRefreshLen {
		return false, nil
	}
	return s.store.Revoke(ctx, s.fp.Fingerprint(raw), now)
}

// ActiveSessions lists the active records of userID, oldest first.
func (s *Service) ActiveSessions(ctx context.Context, now time.Time, userID string) ([]Record, error) {
	return s.store.FindActiveByUser(ctx, userID, now)
}

func (s *Service) reject(span trace.Span, rej RefreshRejection) error {
	refreshOutcomes.WithLabelValues(string(rej.Reason)).Inc()
	span.SetAttributes(attribute.String("session.outcome", string(rej.Reason)))
	return rej
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
