package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("healplus/session")

var (
	sessionsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healplus_sessions_issued_total",
		Help: "Refresh sessions issued, by origin (login or rotation).",
	}, []string{"origin"})

	refreshOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healplus_refresh_outcomes_total",
		Help: "Refresh token redemption outcomes.",
	}, []string{"outcome"})

	sessionCapEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "healplus_session_cap_evictions_total",
		Help: "Sessions revoked because a user reached the active-session cap.",
	})

	reaperDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "healplus_reaper_deleted_total",
		Help: "Refresh records deleted by the reaper.",
	})

	reaperRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healplus_reaper_runs_total",
		Help: "Reaper sweeps, by result.",
	}, []string{"result"})
)
