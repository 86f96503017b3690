package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeAllowed  = "allowed"
	outcomeDenied   = "denied"
	outcomeFailOpen = "fail_open"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratelimit",
		Name:      "decisions_total",
		Help:      "Rate limit decisions by tier and outcome.",
	}, []string{"tier", "outcome"})

	storeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratelimit",
		Name:      "store_errors_total",
		Help:      "Failed store operations by limiter operation.",
	}, []string{"op"})
)
