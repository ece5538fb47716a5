package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"healplus/cmd/identity"
	"healplus/cmd/internal/auth/session"
	"healplus/cmd/internal/ratelimit"
	"healplus/cmd/security/password"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct-horse-42"

type recordingAudit struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *recordingAudit) Record(_ context.Context, ev AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, ev := range a.events {
		out = append(out, ev.Action)
	}
	return out
}

func (a *recordingAudit) last(action string) (AuditEvent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.events) - 1; i >= 0; i-- {
		if a.events[i].Action == action {
			return a.events[i], true
		}
	}
	return AuditEvent{}, false
}

type testEnv struct {
	h      *Handler
	router http.Handler
	users  *identity.MemoryStore
	store  *session.MemoryStore
	audit  *recordingAudit
}

type envOption func(*Config, *Deps)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	users := identity.NewMemoryStore()

	sessCfg := session.DefaultConfig()
	sessCfg.JWTSecret = strings.Repeat("k", 48)
	issuer, err := session.NewJWTIssuer(sessCfg)
	require.NoError(t, err)
	store := session.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions, err := session.NewService(sessCfg, store, issuer, IdentityResolver{Users: users}, session.WithLogger(log))
	require.NoError(t, err)

	pwCfg := password.DefaultConfig()
	pwCfg.Params.MemoryKiB = 8 * 1024
	pwCfg.Params.Iterations = 1
	pwCfg.Params.Parallelism = 1

	rates := ratelimit.DefaultConfig()
	limiter, err := ratelimit.NewMemoryLimiter(rates)
	require.NoError(t, err)

	audit := &recordingAudit{}
	cfg := DefaultConfig()
	deps := Deps{
		Users:     users,
		Passwords: password.NewHasher(pwCfg),
		Sessions:  sessions,
		Limiter:   limiter,
		Rates:     rates,
		Audit:     audit,
		Log:       log,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	h, err := NewHandler(cfg, deps)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(h.Gateway)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h.Routes(r)

	return &testEnv{h: h, router: r, users: users, store: store, audit: audit}
}

type reqOption func(*http.Request)

func withBearer(tok string) reqOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func withCookie(c *http.Cookie) reqOption {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value}) }
}

func fromClient(ip string) reqOption {
	return func(r *http.Request) { r.Header.Set("X-Forwarded-For", ip) }
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...reqOption) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, rdr)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "healplus-api-test/1.0")
	for _, opt := range opts {
		opt(req)
	}

	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) register(t *testing.T, email string) authResponse {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/auth/register", registerRequest{
		Email:    email,
		Password: testPassword,
		Name:     "Ana Souza",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decodeAuth(t, rr)
}

func (e *testEnv) login(t *testing.T, email string) (*httptest.ResponseRecorder, authResponse) {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/auth/login", loginRequest{Email: email, Password: testPassword})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return rr, decodeAuth(t, rr)
}

func decodeAuth(t *testing.T, rr *httptest.ResponseRecorder) authResponse {
	t.Helper()
	var out authResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func cookieNamed(t *testing.T, rr *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var out errorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

// Register, log in, then read the identity endpoint with the access cookie.
func TestAuthAPI_RegisterLoginMe(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	reg := env.register(t, "Ana@Example.com")
	require.NotEmpty(t, reg.AccessToken)
	require.Equal(t, "Bearer", reg.TokenType)
	require.EqualValues(t, 24*60*60, reg.ExpiresIn)
	require.Empty(t, reg.RefreshToken, "refresh token travels in a cookie only")
	require.Equal(t, "ana@example.com", reg.User.Email)
	require.Equal(t, "professional", reg.User.Role)

	_, login := env.login(t, "ana@example.com")

	rr := env.do(t, http.MethodGet, "/api/auth/me", nil, withBearer(login.AccessToken))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var me meResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &me))
	require.Equal(t, "ana@example.com", me.User.Email)
	require.Equal(t, "Ana Souza", me.User.Name)

	require.Equal(t, []string{AuditRegister, AuditLoginSuccess}, env.audit.actions())
}

// A refresh token can be redeemed once; its successor stays usable.
func TestAuthAPI_RefreshIsSingleUse(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.register(t, "bruno@example.com")
	loginRR, _ := env.login(t, "bruno@example.com")
	original := cookieNamed(t, loginRR, RefreshCookieName)

	rr := env.do(t, http.MethodPost, "/api/auth/refresh", nil, withCookie(original))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rotated := cookieNamed(t, rr, RefreshCookieName)
	require.NotEqual(t, original.Value, rotated.Value)
	require.NotEmpty(t, decodeAuth(t, rr).AccessToken)

	rr = env.do(t, http.MethodPost, "/api/auth/refresh", nil, withCookie(original))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, kindBodies[KindInvalidRefreshToken], decodeError(t, rr))

	ev, ok := env.audit.last(AuditRefreshRejected)
	require.True(t, ok)
	require.Equal(t, "replayed", ev.Meta["reason"])

	// The rotated successor is still usable.
	rr = env.do(t, http.MethodPost, "/api/auth/refresh", nil, withCookie(rotated))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

// The 101st general request from one client within the interval gets a 429.
func TestAuthAPI_GeneralRateLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for i := 1; i <= 100; i++ {
		rr := env.do(t, http.MethodGet, "/api/auth/check", nil, fromClient("198.51.100.10"))
		require.Equal(t, http.StatusOK, rr.Code, "request %d", i)
	}

	rr := env.do(t, http.MethodGet, "/api/auth/check", nil, fromClient("198.51.100.10"))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "60", rr.Header().Get("Retry-After"))
	require.JSONEq(t,
		`{"error":"Too Many Requests","message":"Rate limit exceeded. Please try again later.","status":429}`,
		rr.Body.String())

	// Another client is unaffected.
	rr = env.do(t, http.MethodGet, "/api/auth/check", nil, fromClient("198.51.100.11"))
	require.Equal(t, http.StatusOK, rr.Code)
}

// Revoking all sessions invalidates every refresh token issued before.
func TestAuthAPI_LogoutAllRevokesRefresh(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.register(t, "carla@example.com")
	loginRR, login := env.login(t, "carla@example.com")
	refresh := cookieNamed(t, loginRR, RefreshCookieName)

	rr := env.do(t, http.MethodPost, "/api/auth/logout-all", nil, withBearer(login.AccessToken))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var out logoutAllResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Equal(t, 2, out.Revoked, "register and login sessions")

	rr = env.do(t, http.MethodPost, "/api/auth/refresh", nil, withCookie(refresh))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthAPI_LoginFailure_NoEnumeration(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.register(t, "dora@example.com")

	unknown := env.do(t, http.MethodPost, "/api/auth/login", loginRequest{Email: "nobody@example.com", Password: testPassword})
	wrong := env.do(t, http.MethodPost, "/api/auth/login", loginRequest{Email: "dora@example.com", Password: "not-the-password"})

	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	require.Equal(t, http.StatusUnauthorized, wrong.Code)
	require.Equal(t, unknown.Body.Bytes(), wrong.Body.Bytes())
	require.Equal(t, unknown.Header(), wrong.Header())
	require.Empty(t, unknown.Result().Cookies())

	var reasons []any
	for _, ev := range env.audit.events {
		if ev.Action == AuditLoginFailed {
			reasons = append(reasons, ev.Meta["reason"])
		}
	}
	require.Equal(t, []any{"not_found", "bad_password"}, reasons)
}

func TestAuthAPI_LoginUpgradesStaleHash(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	staleCfg := password.DefaultConfig()
	staleCfg.Params.MemoryKiB = 4 * 1024
	staleCfg.Params.Iterations = 1
	staleCfg.Params.Parallelism = 1
	stale, err := password.NewHasher(staleCfg).Hash(testPassword)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = env.users.CreateUser(ctx, identity.CreateUserInput{
		Email:        "eli@example.com",
		Name:         "Eli Prado",
		PasswordHash: stale,
	})
	require.NoError(t, err)
	require.True(t, env.h.passwords.NeedsRehash(stale))

	env.login(t, "eli@example.com")

	ua, err := env.users.GetUserAuthByEmail(ctx, "eli@example.com")
	require.NoError(t, err)
	require.NotEqual(t, stale, ua.PasswordHash)
	require.False(t, env.h.passwords.NeedsRehash(ua.PasswordHash))

	// The upgraded hash still verifies.
	env.login(t, "eli@example.com")
}

func TestAuthAPI_RegisterValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/auth/register", registerRequest{
		Email:    "not-an-email",
		Password: "short",
		Name:     "R2-D2",
		Role:     "superuser",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	body := decodeError(t, rr)
	require.Equal(t, http.StatusBadRequest, body.Status)
	var fields []string
	for _, fe := range body.Errors {
		fields = append(fields, fe.Field)
	}
	require.Equal(t, []string{"email", "name", "password", "role"}, fields)

	rr = env.do(t, http.MethodPost, "/api/auth/register", `{"email":`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "body", decodeError(t, rr).Errors[0].Field)

	rr = env.do(t, http.MethodPost, "/api/auth/register", `{"email":"a@b.co","password":"12345678","name":"Ana","admin":true}`)
	require.Equal(t, http.StatusBadRequest, rr.Code, "unknown fields are rejected")
}

func TestAuthAPI_RegisterDuplicateEmail(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.register(t, "eva@example.com")

	rr := env.do(t, http.MethodPost, "/api/auth/register", registerRequest{
		Email:    "EVA@example.com",
		Password: testPassword,
		Name:     "Eva Other",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, []FieldError{{Field: "email", Message: "is already registered"}}, decodeError(t, rr).Errors)
}

func TestAuthAPI_RegisterAdminRole(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/auth/register", registerRequest{
		Email:    "root@example.com",
		Password: testPassword,
		Name:     "Root Admin",
		Role:     "ADMIN",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/api/auth/check", nil, withBearer(decodeAuth(t, rr).AccessToken))
	var out checkResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Equal(t, "admin", out.Role)
}

func TestAuthAPI_SessionCookies(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(c *Config, _ *Deps) { c.CookieSecure = true })
	env.register(t, "fabio@example.com")

	rr, _ := env.login(t, "fabio@example.com")

	access := cookieNamed(t, rr, AccessCookieName)
	require.Equal(t, "/", access.Path)
	require.Equal(t, 24*60*60, access.MaxAge)
	require.True(t, access.HttpOnly)
	require.True(t, access.Secure)
	require.Equal(t, http.SameSiteStrictMode, access.SameSite)

	refresh := cookieNamed(t, rr, RefreshCookieName)
	require.Equal(t, "/api/auth", refresh.Path)
	require.Equal(t, 30*24*60*60, refresh.MaxAge)
	require.True(t, refresh.HttpOnly)
	require.True(t, refresh.Secure)
	require.Equal(t, http.SameSiteStrictMode, refresh.SameSite)
}

func TestAuthAPI_LogoutClearsCookiesAndRevokes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.register(t, "gil@example.com")

	loginRR, _ := env.login(t, "gil@example.com")
	refresh := cookieNamed(t, loginRR, RefreshCookieName)

	rr := env.do(t, http.MethodPost, "/api/auth/logout", nil, withCookie(refresh))
	require.Equal(t, http.StatusNoContent, rr.Code)

	var cleared int
	for _, line := range rr.Header().Values("Set-Cookie") {
		if strings.Contains(line, "Max-Age=0") {
			cleared++
		}
	}
	require.Equal(t, 2, cleared)

	rr = env.do(t, http.MethodPost, "/api/auth/refresh", nil, withCookie(refresh))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthAPI_LogoutWithoutRefreshRevokesAllForCaller(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	reg := env.register(t, "hugo@example.com")
	loginRR, _ := env.login(t, "hugo@example.com")
	refresh := cookieNamed(t, loginRR, RefreshCookieName)

	rr := env.do(t, http.MethodPost, "/api/auth/logout", nil, withBearer(reg.AccessToken))
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/auth/refresh", nil, withCookie(refresh))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthAPI_AuthenticatedLogoutEndsEverySession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.register(t, "iris@example.com")

	laptopRR, laptop := env.login(t, "iris@example.com")
	phoneRR, _ := env.login(t, "iris@example.com")
	laptopRefresh := cookieNamed(t, laptopRR, RefreshCookieName)
	phoneRefresh := cookieNamed(t, phoneRR, RefreshCookieName)

	rr := env.do(t, http.MethodPost, "/api/auth/logout", nil,
		withBearer(laptop.AccessToken), withCookie(laptopRefresh))
	require.Equal(t, http.StatusNoContent, rr.Code)

	for _, c := range []*http.Cookie{laptopRefresh, phoneRefresh} {
		rr = env.do(t, http.MethodPost, "/api/auth/refresh", nil, withCookie(c))
		require.Equal(t, http.StatusUnauthorized, rr.Code)
	}
}

func TestAuthAPI_LogoutIgnoresAnotherUsersRefreshToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.register(t, "joao@example.com")
	env.register(t, "kim@example.com")

	_, joao := env.login(t, "joao@example.com")
	kimRR, _ := env.login(t, "kim@example.com")
	kimRefresh := cookieNamed(t, kimRR, RefreshCookieName)

	rr := env.do(t, http.MethodPost, "/api/auth/logout", nil,
		withBearer(joao.AccessToken), withCookie(kimRefresh))
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/auth/refresh", nil, withCookie(kimRefresh))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestAuthAPI_RefreshWithoutToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/auth/refresh", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, kindBodies[KindInvalidRefreshToken], decodeError(t, rr))
}

func TestAuthAPI_RefreshInBody(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(c *Config, _ *Deps) { c.RefreshInBody = true })

	reg := env.register(t, "ines@example.com")
	require.NotEmpty(t, reg.RefreshToken)
	require.NotNil(t, reg.RefreshExpiresAt)

	rr := env.do(t, http.MethodPost, "/api/auth/refresh", refreshRequest{RefreshToken: reg.RefreshToken})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NotEqual(t, reg.RefreshToken, decodeAuth(t, rr).RefreshToken)
}

func TestAuthAPI_RequiresIdentity(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/auth/me"},
		{http.MethodGet, "/api/auth/sessions"},
		{http.MethodPost, "/api/auth/logout-all"},
	} {
		rr := env.do(t, tc.method, tc.path, nil)
		require.Equal(t, http.StatusUnauthorized, rr.Code, tc.path)
		require.Equal(t, kindBodies[KindUnauthenticated], decodeError(t, rr), tc.path)
	}
}

func TestAuthAPI_ListSessions(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	reg := env.register(t, "joao@example.com")
	env.login(t, "joao@example.com")

	rr := env.do(t, http.MethodGet, "/api/auth/sessions", nil, withBearer(reg.AccessToken), fromClient("203.0.113.50"))
	require.Equal(t, http.StatusOK, rr.Code)

	var out sessionsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out.Sessions, 2)
	require.Equal(t, "healplus-api-test/1.0", out.Sessions[0].DeviceInfo)
}

func TestGateway_IdentityFromCookieOrBearer(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.register(t, "kai@example.com")
	loginRR, login := env.login(t, "kai@example.com")

	check := func(opts ...reqOption) checkResponse {
		rr := env.do(t, http.MethodGet, "/api/auth/check", nil, opts...)
		require.Equal(t, http.StatusOK, rr.Code)
		var out checkResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
		return out
	}

	require.False(t, check().Authenticated)
	require.False(t, check(withBearer("garbage.token.value")).Authenticated)

	byBearer := check(withBearer(login.AccessToken))
	require.True(t, byBearer.Authenticated)
	require.Equal(t, "kai@example.com", byBearer.Email)

	require.True(t, check(withCookie(cookieNamed(t, loginRR, AccessCookieName))).Authenticated)
}

func TestGateway_AuthClassLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for i := 0; i < 10; i++ {
		rr := env.do(t, http.MethodPost, "/api/auth/login", loginRequest{Email: "x@example.com", Password: "whatever1"}, fromClient("192.0.2.77"))
		require.Equal(t, http.StatusUnauthorized, rr.Code)
	}
	rr := env.do(t, http.MethodPost, "/api/auth/login", loginRequest{Email: "x@example.com", Password: "whatever1"}, fromClient("192.0.2.77"))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)

	// General class budget is separate.
	rr = env.do(t, http.MethodGet, "/api/auth/check", nil, fromClient("192.0.2.77"))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestGateway_ExemptPaths(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(_ *Config, d *Deps) {
		d.Rates.General = ratelimit.Bucket{Capacity: 1, RefillTokens: 1, Interval: time.Hour}
		l, err := ratelimit.NewMemoryLimiter(d.Rates)
		require.NoError(t, err)
		d.Limiter = l
	})

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil).Code)
	}
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/auth/check", nil).Code)
	require.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodGet, "/api/auth/check", nil).Code)
}

type failingLimiter struct{}

func (failingLimiter) TryConsume(context.Context, string, ratelimit.Class) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestGateway_LimiterFailureFailsOpen(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	env := newTestEnv(t, func(_ *Config, d *Deps) {
		d.Limiter = failingLimiter{}
		d.Log = slog.New(slog.NewTextHandler(&logs, nil))
	})

	for i := 0; i < 3; i++ {
		rr := env.do(t, http.MethodGet, "/api/auth/check", nil)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	require.Equal(t, 1, strings.Count(logs.String(), "auth.gateway.limiter.fail"), "warning is throttled")
}
