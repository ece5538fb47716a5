package api

import (
	"net/http"
	"strings"
	"time"

	"healplus/cmd/internal/auth/session"
)

// setSessionCookies sets both cookies with Max-Age equal to the token TTLs.
func (h *Handler) setSessionCookies(w http.ResponseWriter, issued session.Issued) {
	cfg := h.sessions.Config()
	h.setCookie(w, AccessCookieName, issued.AccessToken, accessCookiePath, int(cfg.AccessTokenTTL/time.Second))
	h.setCookie(w, RefreshCookieName, issued.RefreshToken, refreshCookiePath, int(cfg.RefreshTokenTTL/time.Second))
}

// clearSessionCookies expires both cookies (Max-Age=0).
func (h *Handler) clearSessionCookies(w http.ResponseWriter) {
	// net/http writes Max-Age=0 for a negative MaxAge; a zero MaxAge omits it.
	h.setCookie(w, AccessCookieName, "", accessCookiePath, -1)
	h.setCookie(w, RefreshCookieName, "", refreshCookiePath, -1)
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value, path string, maxAge int) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	}
	if maxAge < 0 {
		c.Expires = time.Unix(0, 0).UTC()
	}
	http.SetCookie(w, c)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// accessTokenFromRequest prefers the bearer header over the access cookie.
func accessTokenFromRequest(r *http.Request) string {
	if tok := bearerToken(r); tok != "" {
		return tok
	}
	return cookieValue(r, AccessCookieName)
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	scheme, tok, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
