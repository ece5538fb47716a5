package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "healplus_ratelimit_decisions_total",
	Help: "Admission decisions, by class and result.",
}, []string{"class", "result"})

func observe(class Class, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	decisions.WithLabelValues(string(class), result).Inc()
}
