// Package app wires the healplus auth server runtime: config, logging,
// tracing, storage backends, admission control and HTTP routes.
package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"healplus/cmd/identity"
	"healplus/cmd/internal/auth/api"
	"healplus/cmd/internal/auth/session"
	"healplus/cmd/internal/ratelimit"
	"healplus/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// App is the healplus server runtime. It owns the HTTP handler tree, the
// refresh-record reaper and the lifecycle of external connections.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	rdb    *redis.Client

	handler http.Handler
	reaper  *session.Reaper

	shutdownTracing ShutdownFunc
	closeOnce       sync.Once
}

// backends groups the storage-facing collaborators chosen at startup.
type backends struct {
	users    identity.Store
	sessions session.Store
	audit    api.AuditSink
	limiter  ratelimit.Limiter
}

// New constructs a fully wired App. Component settings are read from the
// environment by each package's LoadConfigFromEnv.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	a := &App{cfg: cfg, log: log}
	ready := false
	defer func() {
		if !ready {
			_ = a.Close(context.Background())
		}
	}()

	shutdownTracing, err := SetupTracing(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.shutdownTracing = shutdownTracing

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	rateCfg, err := ratelimit.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	fp, err := LoadFingerprinter(cfg)
	if err != nil {
		return nil, err
	}

	b, err := a.newBackends(ctx, rateCfg)
	if err != nil {
		return nil, err
	}

	tokens, err := session.NewJWTIssuer(sessCfg)
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewService(sessCfg, b.sessions, tokens,
		api.IdentityResolver{Users: b.users},
		session.WithFingerprinter(fp),
		session.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	auth, err := api.NewHandler(api.LoadConfigFromEnv(), api.Deps{
		Users:     b.users,
		Passwords: password.NewHasher(pwCfg),
		Sessions:  sessions,
		Limiter:   b.limiter,
		Rates:     rateCfg,
		Audit:     b.audit,
		Log:       log,
	})
	if err != nil {
		return nil, err
	}

	a.reaper = session.NewReaper(b.sessions, sessCfg, log)
	a.handler = newRouter(log, probes{
		db:        a.dbPool,
		redis:     a.redisProbe(),
		requireDB: cfg.ReadinessRequireDB,
	}, auth)

	log.Info("app.ready",
		"db_enabled", a.dbPool != nil,
		"redis_enabled", a.rdb != nil,
		"fingerprint_hmac", fp.Keyed(),
		"max_active_sessions", sessCfg.MaxActiveSessions,
	)
	ready = true
	return a, nil
}

// newBackends picks Postgres or in-memory persistence and a shared or
// per-process limiter depending on which URLs are configured.
func (a *App) newBackends(ctx context.Context, rateCfg ratelimit.Config) (backends, error) {
	var b backends
	logSink := api.LogAuditSink{Log: a.log}

	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		b.users = identity.NewMemoryStore()
		b.sessions = session.NewMemoryStore()
		b.audit = logSink
	} else {
		pool, err := NewDBPool(ctx, a.cfg, a.log)
		if err != nil {
			return backends{}, err
		}
		a.dbPool = pool
		a.log.Info("db.enabled.postgres_store")

		users, err := identity.NewPostgresStore(pool)
		if err != nil {
			return backends{}, err
		}
		b.users = users
		b.sessions = session.NewPostgresStore(pool)
		b.audit = api.MultiAuditSink{logSink, api.NewPostgresAuditSink(pool, a.log)}
	}

	if a.cfg.RedisURL == "" {
		lim, err := ratelimit.NewMemoryLimiter(rateCfg)
		if err != nil {
			return backends{}, err
		}
		b.limiter = lim
		a.log.Info("ratelimit.backend", "backend", "memory")
		return b, nil
	}

	rdb, err := NewRedisClient(ctx, a.cfg)
	if err != nil {
		return backends{}, err
	}
	a.rdb = rdb
	lim, err := ratelimit.NewRedisLimiter(rdb, rateCfg, "")
	if err != nil {
		return backends{}, err
	}
	b.limiter = lim
	a.log.Info("ratelimit.backend", "backend", "redis")
	return b, nil
}

func (a *App) redisProbe() redis.UniversalClient {
	if a.rdb == nil {
		return nil
	}
	return a.rdb
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and the reaper and blocks until context
// cancellation or a fatal server error. Resources are released before it returns.
func (a *App) Run(ctx context.Context) error {
	defer func() { _ = a.Close(context.Background()) }()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.reaper.Run(reaperCtx)
	}()
	defer func() {
		stopReaper()
		wg.Wait()
	}()

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

// Close releases the database pool, the Redis client and the trace
// exporter. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		if a.shutdownTracing != nil {
			if e := a.shutdownTracing(ctx); e != nil {
				a.log.Error("tracing.shutdown.fail", "err", e)
				err = errors.Join(err, e)
			}
		}
		if a.rdb != nil {
			if e := a.rdb.Close(); e != nil {
				err = errors.Join(err, e)
			}
		}
		if a.dbPool != nil {
			a.dbPool.Close()
		}
	})
	return err
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt[T int | int32](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
