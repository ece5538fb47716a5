package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"healplus/cmd/identity"
	"healplus/cmd/internal/auth/session"
	"healplus/cmd/internal/ratelimit"
	"healplus/cmd/security/password"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

// PasswordHasher hashes and verifies user passwords.
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(encodedHash, pw string) (bool, error)
	NeedsRehash(encodedHash string) bool
}

// Deps are the collaborators of Handler. Users, Passwords and Sessions are
// required; a nil Limiter disables admission control and a nil Audit
// disables the audit trail.
type Deps struct {
	Users     identity.Store
	Passwords PasswordHasher
	Sessions  *session.Service
	Limiter   ratelimit.Limiter
	Rates     ratelimit.Config
	Audit     AuditSink
	Log       *slog.Logger
}

// Handler wires HTTP auth endpoints and the admission gateway to the
// identity and session services.
type Handler struct {
	log *slog.Logger
	cfg Config

	users     identity.Store
	passwords PasswordHasher
	sessions  *session.Service
	limiter   ratelimit.Limiter
	rates     ratelimit.Config
	auditSink AuditSink

	exempt map[string]struct{}
	now    func() time.Time

	// Throttles the fail-open warning while the limiter backend is down.
	limiterWarn rate.Sometimes

	dummyHash string
}

// NewHandler constructs an auth Handler.
func NewHandler(cfg Config, deps Deps) (*Handler, error) {
	if deps.Users == nil || deps.Passwords == nil || deps.Sessions == nil {
		return nil, errors.New("auth: missing dependency")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	h := &Handler{
		log:       deps.Log,
		cfg:       cfg,
		users:     deps.Users,
		passwords: deps.Passwords,
		sessions:  deps.Sessions,
		limiter:   deps.Limiter,
		rates:     deps.Rates,
		auditSink: deps.Audit,
		exempt:    make(map[string]struct{}, len(cfg.ExemptPaths)),
		now:       func() time.Time { return time.Now().UTC() },

		limiterWarn: rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
	for _, p := range cfg.ExemptPaths {
		h.exempt[p] = struct{}{}
	}

	// Dummy hash for timing-resistant login checks.
	hash, err := h.passwords.Hash("healplus-timing-equalisation")
	if err != nil {
		return nil, err
	}
	h.dummyHash = hash

	return h, nil
}

// Routes mounts the auth endpoints under /api/auth.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.handleRegister)
		r.Post("/login", h.handleLogin)
		r.Post("/refresh", h.handleRefresh)
		r.Post("/logout", h.handleLogout)
		r.Post("/logout-all", h.handleLogoutAll)
		r.Get("/me", h.handleMe)
		r.Get("/check", h.handleCheck)
		r.Get("/sessions", h.handleSessions)
	})
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeMalformed(w, []FieldError{{Field: "body", Message: "must be a valid JSON object"}})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	if fields := validateStruct(req); len(fields) > 0 {
		writeMalformed(w, fields)
		return
	}
	role, _ := identity.ParseRole(req.Role)

	ctx := r.Context()
	now := h.now()

	hash, err := h.passwords.Hash(req.Password)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) || errors.Is(err, password.ErrPasswordTooLong) {
			writeMalformed(w, []FieldError{{Field: "password", Message: "must be between 8 and 128 characters"}})
			return
		}
		h.log.ErrorContext(ctx, "auth.register.hash.fail", "err", err)
		writeError(w, KindInternal)
		return
	}

	u, err := h.users.CreateUser(ctx, identity.CreateUserInput{
		Email:        req.Email,
		Name:         req.Name,
		Role:         role,
		PasswordHash: hash,
		Now:          now,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			writeMalformed(w, []FieldError{{Field: "email", Message: "is already registered"}})
		case identity.IsInvalidInput(err):
			writeMalformed(w, []FieldError{{Field: "body", Message: "is invalid"}})
		default:
			h.log.ErrorContext(ctx, "auth.register.create.fail", "err", err)
			writeError(w, KindInternal)
		}
		return
	}

	h.audit(r, now, AuditRegister, u.ID, nil)

	issued, err := h.sessions.IssueSession(ctx, now, toIdentity(u), h.device(r))
	if err != nil {
		h.log.ErrorContext(ctx, "auth.register.issue_session.fail", "err", err)
		writeError(w, KindInternal)
		return
	}

	user := toUserResponse(u)
	h.setSessionCookies(w, issued)
	writeJSON(w, http.StatusCreated, h.toAuthResponse(issued, &user))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeMalformed(w, []FieldError{{Field: "body", Message: "must be a valid JSON object"}})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if fields := validateStruct(req); len(fields) > 0 {
		writeMalformed(w, fields)
		return
	}

	ctx := r.Context()
	now := h.now()

	userAuth, err := h.users.GetUserAuthByEmail(ctx, req.Email)
	if err != nil {
		if !identity.IsNotFound(err) {
			h.log.ErrorContext(ctx, "auth.login.lookup.fail", "err", err)
			writeError(w, KindInternal)
			return
		}
		// Timing resistance: perform a dummy verify when user is missing.
		_, _ = h.passwords.Verify(h.dummyHash, req.Password)
		h.audit(r, now, AuditLoginFailed, "", map[string]any{"reason": "not_found"})
		writeError(w, KindInvalidCredentials)
		return
	}

	okPw, err := h.passwords.Verify(userAuth.PasswordHash, req.Password)
	if err != nil || !okPw {
		if err != nil {
			h.log.WarnContext(ctx, "auth.login.verify.fail", "err", err, "user_id", userAuth.User.ID)
		}
		h.audit(r, now, AuditLoginFailed, userAuth.User.ID, map[string]any{"reason": "bad_password"})
		writeError(w, KindInvalidCredentials)
		return
	}
	h.rehashOnLogin(r, userAuth, req.Password)

	issued, err := h.sessions.IssueSession(ctx, now, toIdentity(userAuth.User), h.device(r))
	if err != nil {
		h.log.ErrorContext(ctx, "auth.login.issue_session.fail", "err", err)
		writeError(w, KindInternal)
		return
	}

	h.audit(r, now, AuditLoginSuccess, userAuth.User.ID, map[string]any{"session_id": issued.RecordID})

	user := toUserResponse(userAuth.User)
	h.setSessionCookies(w, issued)
	writeJSON(w, http.StatusOK, h.toAuthResponse(issued, &user))
}

// rehashOnLogin upgrades a stored hash produced under older cost settings.
// Failures are logged and never block the login.
func (h *Handler) rehashOnLogin(r *http.Request, ua identity.UserAuth, pw string) {
	if !h.passwords.NeedsRehash(ua.PasswordHash) {
		return
	}
	ctx := r.Context()
	hash, err := h.passwords.Hash(pw)
	if err == nil {
		err = h.users.UpdatePasswordHash(ctx, ua.User.ID, hash)
	}
	if err != nil {
		h.log.WarnContext(ctx, "auth.login.rehash.fail", "err", err, "user_id", ua.User.ID)
		return
	}
	h.log.InfoContext(ctx, "auth.login.rehashed", "user_id", ua.User.ID)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.refreshTokenFromRequest(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := h.now()

	if raw == "" {
		h.audit(r, now, AuditRefreshRejected, "", map[string]any{"reason": "missing"})
		writeError(w, KindInvalidRefreshToken)
		return
	}

	issued, err := h.sessions.RotateRefresh(ctx, now, raw, h.device(r))
	if err != nil {
		var rej session.RefreshRejection
		if errors.As(err, &rej) {
			h.audit(r, now, AuditRefreshRejected, rej.UserID, map[string]any{"reason": string(rej.Reason)})
			h.clearSessionCookies(w)
			writeError(w, KindInvalidRefreshToken)
			return
		}
		h.log.ErrorContext(ctx, "auth.refresh.fail", "err", err)
		writeError(w, KindInternal)
		return
	}

	h.audit(r, now, AuditRefreshSuccess, issued.UserID, map[string]any{"session_id": issued.RecordID})

	h.setSessionCookies(w, issued)
	writeJSON(w, http.StatusOK, h.toAuthResponse(issued, nil))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.refreshTokenFromRequest(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := h.now()
	claims, authenticated := IdentityFromContext(ctx)

	// An authenticated caller is logged out everywhere. The presented refresh
	// token is only consulted without an identity, so it can never revoke a
	// session of some other user on the caller's behalf.
	var err error
	switch {
	case authenticated:
		_, err = h.sessions.RevokeAll(ctx, now, claims.UserID)
	case raw != "":
		_, err = h.sessions.Revoke(ctx, now, raw)
	}

	// Cookies are cleared even if revocation failed.
	h.clearSessionCookies(w)
	if err != nil {
		h.log.ErrorContext(ctx, "auth.logout.fail", "err", err)
		writeError(w, KindInternal)
		return
	}

	h.audit(r, now, AuditLogout, claims.UserID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := h.now()
	n, err := h.sessions.RevokeAll(ctx, now, claims.UserID)
	if err != nil {
		h.log.ErrorContext(ctx, "auth.logout_all.fail", "err", err)
		writeError(w, KindInternal)
		return
	}

	h.audit(r, now, AuditLogoutAll, claims.UserID, map[string]any{"revoked": n})
	h.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, logoutAllResponse{Revoked: n})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	u, err := h.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, KindUnauthenticated)
			return
		}
		h.log.ErrorContext(ctx, "auth.me.fail", "err", err)
		writeError(w, KindInternal)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	claims, ok := IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, checkResponse{Authenticated: false})
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{
		Authenticated: true,
		UserID:        claims.UserID,
		Email:         claims.Email,
		Role:          claims.Role,
	})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	recs, err := h.sessions.ActiveSessions(ctx, h.now(), claims.UserID)
	if err != nil {
		h.log.ErrorContext(ctx, "auth.sessions.fail", "err", err)
		writeError(w, KindInternal)
		return
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: toSessionInfos(recs)})
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	claims, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, KindUnauthenticated)
		return session.AccessClaims{}, false
	}
	return claims, true
}

// refreshTokenFromRequest reads the refresh cookie and, when enabled, the
// JSON body. It reports false after writing an error response.
func (h *Handler) refreshTokenFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := cookieValue(r, RefreshCookieName)
	if raw != "" || !h.cfg.RefreshInBody || r.ContentLength == 0 {
		return raw, true
	}

	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeMalformed(w, []FieldError{{Field: "body", Message: "must be a valid JSON object"}})
		return "", false
	}
	return strings.TrimSpace(req.RefreshToken), true
}

func (h *Handler) device(r *http.Request) session.DeviceContext {
	return session.DeviceContext{
		UserAgent: r.UserAgent(),
		IP:        h.clientKey(r),
	}
}

func (h *Handler) clientKey(r *http.Request) string {
	return ratelimit.ClientKey(r, h.cfg.TrustProxy)
}
