package api

import (
	"net/http"

	"healplus/cmd/internal/ratelimit"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var limiterFailOpen = promauto.NewCounter(prometheus.CounterOpts{
	Name: "healplus_ratelimit_fail_open_total",
	Help: "Requests admitted because the rate limiter backend failed.",
})

// Gateway is the per-request admission and identity middleware.
//
// Requests outside the exempt paths first consume a token from the
// (client, class) bucket and get a 429 when it is empty. A bearer header or
// access cookie is then verified; on success the claims are attached to the
// request context, otherwise the request proceeds unauthenticated.
func (h *Handler) Gateway(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, skip := h.exempt[r.URL.Path]; skip {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()

		if h.limiter != nil {
			key := h.clientKey(r)
			class := ratelimit.Classify(r.URL.Path, h.rates.UploadPrefixes)
			allowed, err := h.limiter.TryConsume(ctx, key, class)
			switch {
			case err != nil:
				// Fail open: a limiter outage must not take the API down.
				limiterFailOpen.Inc()
				h.limiterWarn.Do(func() {
					h.log.WarnContext(ctx, "auth.gateway.limiter.fail", "err", err, "class", string(class))
				})
			case !allowed:
				h.log.InfoContext(ctx, "auth.gateway.rate_limited", "client", key, "class", string(class), "path", r.URL.Path)
				writeError(w, KindRateLimitExceeded)
				return
			}
		}

		if tok := accessTokenFromRequest(r); tok != "" {
			claims, err := h.sessions.VerifyAccessToken(tok, h.now())
			if err == nil {
				ctx = WithIdentity(ctx, claims)
			} else {
				h.log.DebugContext(ctx, "auth.gateway.token.invalid", "err", err)
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
