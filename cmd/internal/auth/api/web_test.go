package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                   "",
		"Bearer abc.def":     "abc.def",
		"bearer   abc.def ":  "abc.def",
		"Basic dXNlcjpwdw==": "",
		"Bearer":             "",
	}
	for header, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		require.Equal(t, want, bearerToken(r), header)
	}
}

func TestAccessTokenFromRequest_PrefersBearer(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: AccessCookieName, Value: "from-cookie"})
	require.Equal(t, "from-cookie", accessTokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer from-header")
	require.Equal(t, "from-header", accessTokenFromRequest(r))
}

func TestClearSessionCookies(t *testing.T) {
	t.Parallel()

	h := &Handler{cfg: Config{CookieSecure: true}}
	rr := httptest.NewRecorder()
	h.clearSessionCookies(rr)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 2)
	paths := map[string]string{}
	for _, c := range cookies {
		require.Empty(t, c.Value)
		require.Equal(t, -1, c.MaxAge)
		require.True(t, c.HttpOnly)
		require.True(t, c.Secure)
		require.Equal(t, http.SameSiteStrictMode, c.SameSite)
		paths[c.Name] = c.Path
	}
	require.Equal(t, map[string]string{AccessCookieName: "/", RefreshCookieName: "/api/auth"}, paths)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("HEALPLUS_COOKIE_SECURE", "true")
	t.Setenv("HEALPLUS_AUTH_TRUST_PROXY", "false")
	t.Setenv("HEALPLUS_AUTH_MAX_BODY_BYTES", "2048")
	t.Setenv("HEALPLUS_AUTH_REFRESH_IN_BODY", "yes-please")

	cfg := LoadConfigFromEnv()
	require.True(t, cfg.CookieSecure)
	require.False(t, cfg.TrustProxy)
	require.EqualValues(t, 2048, cfg.MaxBodyBytes)
	require.False(t, cfg.RefreshInBody, "unparseable values fall back to the default")
	require.Contains(t, cfg.ExemptPaths, "/metrics")
}
