package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/projecteru2/appslot/types"
)

var (
	slotState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "appslot_state",
			Help: "Current lifecycle state of each app slot (1 for the active state, 0 otherwise)",
		},
		[]string{"app", "state"},
	)
	restarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appslot_restarts_total",
			Help: "Total restarts scheduled by recycle triggers or the host keepalive",
		},
		[]string{"app", "trigger"},
	)
	triggerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appslot_trigger_errors_total",
			Help: "Total recycle trigger evaluations that failed",
		},
		[]string{"app", "trigger"},
	)
	startFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appslot_start_failures_total",
			Help: "Total start attempts that produced no instance",
		},
		[]string{"app"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appslot_errors_total",
			Help: "Total errors reported by a slot supervisor",
		},
		[]string{"app"},
	)
	stopDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "appslot_stop_duration_seconds",
			Help:    "Time from stop request to teardown completion",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"app"},
	)
)

// SetState marks state as the active lifecycle state of app.
func SetState(app string, state types.LifecycleState) {
	for _, s := range types.LifecycleStates {
		v := 0.0
		if s == state {
			v = 1
		}
		slotState.WithLabelValues(app, string(s)).Set(v)
	}
}

func RecordRestart(app, trigger string) {
	restarts.WithLabelValues(app, trigger).Inc()
}

func RecordTriggerError(app, trigger string) {
	triggerErrors.WithLabelValues(app, trigger).Inc()
}

func RecordStartFailure(app string) {
	startFailures.WithLabelValues(app).Inc()
}

func RecordError(app string) {
	errorsTotal.WithLabelValues(app).Inc()
}

func ObserveStop(app string, d time.Duration) {
	stopDuration.WithLabelValues(app).Observe(d.Seconds())
}
