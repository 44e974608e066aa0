// Package metrics exposes prometheus collectors for the session and role resolver.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result constants for metric labels.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Auth groups the resolver's collectors. A nil *Auth is a valid no-op recorder.
type Auth struct {
	operations      *prometheus.CounterVec
	roleFetches     *prometheus.CounterVec
	roleFetchTime   prometheus.Histogram
	staleDiscards   prometheus.Counter
	activeResolvers prometheus.Gauge
}

// NewAuth creates the collectors and registers them with reg.
func NewAuth(reg prometheus.Registerer) (*Auth, error) {
	m := &Auth{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stayportal",
			Subsystem: "auth",
			Name:      "operations_total",
			Help:      "Sign-in, sign-up, sign-out and role refresh calls by result.",
		}, []string{"operation", "result", "kind"}),
		roleFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stayportal",
			Subsystem: "auth",
			Name:      "role_fetches_total",
			Help:      "Role lookups by result.",
		}, []string{"result"}),
		roleFetchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stayportal",
			Subsystem: "auth",
			Name:      "role_fetch_duration_seconds",
			Help:      "Role lookup latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		staleDiscards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stayportal",
			Subsystem: "auth",
			Name:      "stale_role_results_total",
			Help:      "Role lookup results discarded because the session moved on.",
		}),
		activeResolvers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stayportal",
			Subsystem: "auth",
			Name:      "active_resolvers",
			Help:      "Browsers with a live session resolver.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.operations, m.roleFetches, m.roleFetchTime, m.staleDiscards, m.activeResolvers,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Operation counts a mutating auth call. kind is the error kind, empty on success.
func (m *Auth) Operation(op, result, kind string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result, kind).Inc()
}

// RoleFetch records one role lookup.
func (m *Auth) RoleFetch(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.roleFetches.WithLabelValues(result).Inc()
	if d > 0 {
		m.roleFetchTime.Observe(d.Seconds())
	}
}

// StaleDiscard counts a role result dropped by the sequence check.
func (m *Auth) StaleDiscard() {
	if m == nil {
		return
	}
	m.staleDiscards.Inc()
}

// SetActiveResolvers reports the registry size.
func (m *Auth) SetActiveResolvers(n int) {
	if m == nil {
		return
	}
	m.activeResolvers.Set(float64(n))
}
