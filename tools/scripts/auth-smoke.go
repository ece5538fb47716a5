// Package main provides a CI-friendly smoke test for the healplus auth API.
//
// Against a running server it validates:
//   - register, login and the identity endpoint
//   - single-use refresh rotation with replay rejection
//   - revoke-all-sessions invalidating outstanding refresh tokens
//
// Each run registers a fresh user, so it consumes 6 requests of the
// client's auth budget.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	accessCookie  = "healplus_access_token"
	refreshCookie = "healplus_refresh_token"
)

type smokeClient struct {
	base    string
	http    *http.Client
	timeout time.Duration
	verbose bool
}

type session struct {
	access  string
	refresh string
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		password = flag.String("password", "smoke-Test-2026", "Password for the throwaway user")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	c := &smokeClient{
		base:    strings.TrimRight(*baseURL, "/"),
		http:    &http.Client{Timeout: *timeout},
		timeout: *timeout,
		verbose: *verbose,
	}
	root := context.Background()
	email := fmt.Sprintf("smoke+%d@example.com", time.Now().UnixNano())

	// Sign-up and identity.
	c.mustRegister(root, email, *password)
	s1 := c.mustLogin(root, email, *password)
	c.mustMe(root, s1.access, email)

	// Rotation and replay.
	s2 := c.mustRefresh(root, s1.refresh)
	if s2.refresh == s1.refresh {
		fatalf("rotation: refresh token was not replaced")
	}
	c.mustRefreshRejected(root, s1.refresh, "replay of rotated token")

	// Log out everywhere.
	n := c.mustLogoutAll(root, s2.access)
	if n < 1 {
		fatalf("logout-all: revoked=%d, want >= 1", n)
	}
	c.mustRefreshRejected(root, s2.refresh, "refresh after logout-all")

	fmt.Printf("OK: user=%s revoked=%d\n", email, n)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func (c *smokeClient) mustRegister(parent context.Context, email, password string) {
	resp, body := c.do(parent, http.MethodPost, "/api/auth/register", map[string]string{
		"email":    email,
		"password": password,
		"name":     "Smoke Tester",
	})
	expectStatus("register", resp, body, http.StatusCreated)
}

func (c *smokeClient) mustLogin(parent context.Context, email, password string) session {
	resp, body := c.do(parent, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	expectStatus("login", resp, body, http.StatusOK)
	return mustSession("login", resp)
}

func (c *smokeClient) mustMe(parent context.Context, access, email string) {
	resp, body := c.do(parent, http.MethodGet, "/api/auth/me", nil, &http.Cookie{Name: accessCookie, Value: access})
	expectStatus("me", resp, body, http.StatusOK)

	var me struct {
		User struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &me); err != nil {
		fatalf("me: decode: %v", err)
	}
	if me.User.Email != email {
		fatalf("me: email=%q want=%q", me.User.Email, email)
	}
}

func (c *smokeClient) mustRefresh(parent context.Context, refresh string) session {
	resp, body := c.do(parent, http.MethodPost, "/api/auth/refresh", nil, &http.Cookie{Name: refreshCookie, Value: refresh})
	expectStatus("refresh", resp, body, http.StatusOK)
	return mustSession("refresh", resp)
}

func (c *smokeClient) mustRefreshRejected(parent context.Context, refresh, step string) {
	resp, body := c.do(parent, http.MethodPost, "/api/auth/refresh", nil, &http.Cookie{Name: refreshCookie, Value: refresh})
	expectStatus(step, resp, body, http.StatusUnauthorized)
}

func (c *smokeClient) mustLogoutAll(parent context.Context, access string) int {
	resp, body := c.do(parent, http.MethodPost, "/api/auth/logout-all", nil, &http.Cookie{Name: accessCookie, Value: access})
	expectStatus("logout-all", resp, body, http.StatusOK)

	var out struct {
		Revoked int `json:"revoked"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		fatalf("logout-all: decode: %v", err)
	}
	return out.Revoked
}

func (c *smokeClient) do(parent context.Context, method, path string, payload any, cookies ...*http.Cookie) (*http.Response, []byte) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	var rdr io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			fatalf("%s %s: encode: %v", method, path, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		fatalf("%s %s: read body: %v", method, path, err)
	}
	if c.verbose {
		fmt.Printf("%s %s -> %d %s\n", method, path, resp.StatusCode, resp.Header.Get("X-Request-ID"))
	}
	return resp, body
}

func mustSession(step string, resp *http.Response) session {
	var s session
	for _, ck := range resp.Cookies() {
		switch ck.Name {
		case accessCookie:
			s.access = ck.Value
		case refreshCookie:
			s.refresh = ck.Value
		}
	}
	if s.access == "" || s.refresh == "" {
		fatalf("%s: missing session cookies", step)
	}
	return s
}

func expectStatus(step string, resp *http.Response, body []byte, want int) {
	if resp.StatusCode != want {
		fatalf("%s: status=%d want=%d body=%s", step, resp.StatusCode, want, strings.TrimSpace(string(body)))
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
