// Package telemetry wires structured logging and Prometheus metrics
// through the engine. Every component takes a logr.Logger rather than a
// concrete zap logger, matching the pack's convention of threading a
// logging interface rather than a vendor-specific type through business
// logic.
package telemetry

import (
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// NewLogger builds a logr.Logger backed by zap. Level "debug" uses a
// development encoder config (human-readable, stack traces on warn+);
// anything else uses the production JSON encoder.
func NewLogger(level string) (logr.Logger, func(), error) {
	var zl *zap.Logger
	var err error
	if level == "debug" {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		return logr.Discard(), func() {}, err
	}
	sync := func() { _ = zl.Sync() }
	return zapr.NewLogger(zl), sync, nil
}

// Metrics bundles the Prometheus collectors the engine updates at pass and
// solve boundaries.
type Metrics struct {
	PassDuration     *prometheus.HistogramVec
	AccountsPerPass  *prometheus.CounterVec
	SolverDuration   *prometheus.HistogramVec
	WarningsEmitted  *prometheus.CounterVec
	RepsBelowMinimum prometheus.Gauge
}

// NewMetrics registers the engine's collectors against the given
// registerer (pass prometheus.NewRegistry() in tests to avoid global
// registry collisions).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PassDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "territoryassign",
			Name:      "pass_duration_seconds",
			Help:      "Wall time spent in each priority pass.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pass", "cohort"}),
		AccountsPerPass: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "territoryassign",
			Name:      "accounts_assigned_total",
			Help:      "Accounts assigned, partitioned by pass and cohort.",
		}, []string{"pass", "cohort"}),
		SolverDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "territoryassign",
			Name:      "solver_duration_seconds",
			Help:      "Wall time spent inside the MIP solver per pass.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pass", "outcome"}),
		WarningsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "territoryassign",
			Name:      "warnings_total",
			Help:      "Warnings emitted, partitioned by code.",
		}, []string{"code"}),
		RepsBelowMinimum: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "territoryassign",
			Name:      "reps_below_minimum",
			Help:      "Reps under their minimum band at the end of the most recent run.",
		}),
	}
	reg.MustRegister(m.PassDuration, m.AccountsPerPass, m.SolverDuration, m.WarningsEmitted, m.RepsBelowMinimum)
	return m
}

// ObservePass records the duration of one priority pass.
func (m *Metrics) ObservePass(pass, cohort string, started time.Time) {
	if m == nil {
		return
	}
	m.PassDuration.WithLabelValues(pass, cohort).Observe(time.Since(started).Seconds())
}

// ObserveSolve records the duration and outcome of one solver invocation.
func (m *Metrics) ObserveSolve(pass, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.SolverDuration.WithLabelValues(pass, outcome).Observe(time.Since(started).Seconds())
}

// AddAccounts records how many accounts a pass resolved.
func (m *Metrics) AddAccounts(pass, cohort string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.AccountsPerPass.WithLabelValues(pass, cohort).Add(float64(n))
}
