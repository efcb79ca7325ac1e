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

	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invigil",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Number of session lifecycle transitions.",
		}, []string{"action", "from", "to"},
	)
	remindersFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invigil",
			Subsystem: "reminder",
			Name:      "fired_total",
			Help:      "Number of reminders emitted, by notification type.",
		}, []string{"type"},
	)
	nodesCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invigil",
			Subsystem: "session",
			Name:      "nodes_completed_total",
			Help:      "Number of process nodes marked complete, by cause (tick or skip).",
		}, []string{"template", "cause"},
	)
	syncAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invigil",
			Subsystem: "timesync",
			Name:      "attempts_total",
			Help:      "Time source queries by source and result.",
		}, []string{"source", "result"},
	)
	clockOffset = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "invigil",
			Subsystem: "timesync",
			Name:      "offset_seconds",
			Help:      "Last measured offset, local minus reference time.",
		},
	)
	syncStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "invigil",
			Subsystem: "timesync",
			Name:      "status",
			Help:      "Current clock status (1 = active status, 0 = inactive).",
		}, []string{"status"},
	)
	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "invigil",
			Subsystem: "session",
			Name:      "tick_duration_seconds",
			Help:      "Time spent evaluating one tick.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
)

var statuses = []string{"normal", "warning", "error", "syncing"}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{sessionTransitions, remindersFired, nodesCompleted, syncAttempts, clockOffset, syncStatus, tickDuration}
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
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has succeeded.

func RecordTransition(action, from, to string) {
	if regOK.Load() {
		sessionTransitions.WithLabelValues(action, from, to).Inc()
	}
}

func IncReminder(kind string) {
	if regOK.Load() {
		remindersFired.WithLabelValues(kind).Inc()
	}
}

func IncCompleted(template, cause string) {
	if regOK.Load() {
		nodesCompleted.WithLabelValues(template, cause).Inc()
	}
}

func IncSyncAttempt(source, result string) {
	if regOK.Load() {
		syncAttempts.WithLabelValues(source, result).Inc()
	}
}

func SetClockOffset(seconds float64) {
	if regOK.Load() {
		clockOffset.Set(seconds)
	}
}

// SetSyncStatus marks status as the active one.
func SetSyncStatus(status string) {
	if !regOK.Load() {
		return
	}
	for _, s := range statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		syncStatus.WithLabelValues(s).Set(v)
	}
}

func ObserveTick(seconds float64) {
	if regOK.Load() {
		tickDuration.Observe(seconds)
	}
}
