package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsServed counts completed upstream turns per account.
	TurnsServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatmux",
		Name:      "turns_served_total",
		Help:      "Completed upstream turns.",
	}, []string{"email"})

	// UpstreamErrors counts failed turns by scheduler reason.
	UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatmux",
		Name:      "upstream_errors_total",
		Help:      "Failed upstream turns by reason.",
	}, []string{"reason"})

	// LimiterDenials counts rate-limit misses per account.
	LimiterDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatmux",
		Name:      "limiter_denials_total",
		Help:      "Rate limiter denials.",
	}, []string{"email"})

	// TokenRefreshes counts lifecycle logins by outcome.
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatmux",
		Name:      "token_refreshes_total",
		Help:      "Account logins by outcome.",
	}, []string{"outcome"})

	// PoolSize tracks the number of live sessions.
	PoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatmux",
		Name:      "pool_sessions",
		Help:      "Live upstream sessions in the pool.",
	})
)
