package app

import (
	"net/http"
	"time"

	"healplus/cmd/internal/auth/api"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// probes are the backing services /readyz checks. Nil members are skipped.
type probes struct {
	db        *pgxpool.Pool
	redis     redis.UniversalClient
	requireDB bool
}

// newRouter builds the HTTP handler tree. Every request passes the request
// ID, logging and admission middlewares before routing; ops endpoints are
// exempted inside the gateway itself.
func newRouter(log Logger, p probes, auth *api.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(WithRequestID)
	r.Use(WithRequestLogging(log))
	r.Use(middleware.Recoverer)
	r.Use(auth.Gateway)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if p.requireDB && p.db == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}
		if p.db != nil {
			if err := PingDB(r.Context(), p.db, 2*time.Second); err != nil {
				log.InfoContext(r.Context(), "readyz.db.not_ready", "err", err)
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				return
			}
		}
		if p.redis != nil {
			if err := PingRedis(r.Context(), p.redis, 2*time.Second); err != nil {
				log.InfoContext(r.Context(), "readyz.redis.not_ready", "err", err)
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	r.Handle("/metrics", promhttp.Handler())

	auth.Routes(r)

	return otelhttp.NewHandler(r, "healplus.http",
		otelhttp.WithFilter(func(r *http.Request) bool {
			switch r.URL.Path {
			case "/healthz", "/readyz", "/metrics":
				return false
			}
			return true
		}),
	)
}
