package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serverStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codehydra",
			Subsystem: "workspace",
			Name:      "server_starts_total",
			Help:      "Number of workspace servers that passed their health check.",
		}, []string{"workspace"},
	)
	serverStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codehydra",
			Subsystem: "workspace",
			Name:      "server_stops_total",
			Help:      "Number of workspace server stops.",
		}, []string{"workspace"},
	)
	startFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "codehydra",
			Subsystem: "workspace",
			Name:      "start_failures_total",
			Help:      "Number of failed start attempts, by failure stage.",
		}, []string{"workspace", "stage"},
	)
	healthCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "codehydra",
			Subsystem: "workspace",
			Name:      "health_check_duration_seconds",
			Help:      "Time from spawn until the health endpoint answered.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workspace"},
	)
	runningServers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "codehydra",
			Subsystem: "workspace",
			Name:      "running_servers",
			Help:      "Current number of tracked workspace servers.",
		},
	)
)

// Failure stages recorded by IncStartFailure.
const (
	StageAllocate = "allocate"
	StageSpawn    = "spawn"
	StageHealth   = "health_timeout"
)

// Register registers all metrics with the provided registerer. A nil
// registerer means prometheus.DefaultRegisterer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	if r == nil {
		r = prometheus.DefaultRegisterer
	}
	cs := []prometheus.Collector{serverStarts, serverStops, startFailures, healthCheckDuration, runningServers}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncServerStart(workspace string) {
	if regOK.Load() {
		serverStarts.WithLabelValues(workspace).Inc()
	}
}

func IncServerStop(workspace string) {
	if regOK.Load() {
		serverStops.WithLabelValues(workspace).Inc()
	}
}

func IncStartFailure(workspace, stage string) {
	if regOK.Load() {
		startFailures.WithLabelValues(workspace, stage).Inc()
	}
}

func ObserveHealthCheckDuration(workspace string, seconds float64) {
	if regOK.Load() {
		healthCheckDuration.WithLabelValues(workspace).Observe(seconds)
	}
}

func SetRunningServers(n int) {
	if regOK.Load() {
		runningServers.Set(float64(n))
	}
}
