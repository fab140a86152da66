// Package metrics exposes engine activity as Prometheus collectors fed by
// the notification bus.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/agentsquad/core"
	"github.com/hupe1980/agentsquad/notify"
)

// Options configures the collectors.
type Options struct {
	// Registerer receives the collectors. Defaults to the global registry.
	Registerer prometheus.Registerer

	// Namespace prefixes every metric name.
	Namespace string

	// Sessions reports the number of live sessions for the sessions gauge.
	Sessions func() int
}

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	Turns             *prometheus.CounterVec
	TurnDuration      prometheus.Histogram
	Errors            *prometheus.CounterVec
	Phases            *prometheus.CounterVec
	StateChanges      *prometheus.CounterVec
	ReflectionRounds  prometheus.Counter
	ReflectionScore   *prometheus.GaugeVec
	ReflectionOutcome *prometheus.CounterVec
}

// New creates and registers the collectors.
func New(optFns ...func(o *Options)) *Metrics {
	opts := Options{
		Registerer: prometheus.DefaultRegisterer,
		Namespace:  "agentsquad",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	factory := promauto.With(opts.Registerer)

	m := &Metrics{
		// Turns by outcome: ok, failed, stuck, cancelled.
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "turns_total",
			Help:      "Total number of completed session turns by outcome",
		}, []string{"outcome"}),

		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      "turn_duration_seconds",
			Help:      "Session turn latency in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),

		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "errors_total",
			Help:      "Total number of user-visible error notices by scope",
		}, []string{"scope"}),

		Phases: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "dispatch_phases_total",
			Help:      "Total number of dispatch phase transitions",
		}, []string{"phase"}),

		StateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "state_changes_total",
			Help:      "Total number of published state changes by scope",
		}, []string{"scope", "critical"}),

		ReflectionRounds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "reflection_iterations_total",
			Help:      "Total number of evaluated reflection iterations",
		}),

		ReflectionScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: opts.Namespace,
			Name:      "reflection_score",
			Help:      "Latest reflection evaluation score per group",
		}, []string{"group"}),

		ReflectionOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "reflection_outcomes_total",
			Help:      "Total number of finished reflection cycles by outcome",
		}, []string{"outcome"}),
	}

	if opts.Sessions != nil {
		sessions := opts.Sessions
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: opts.Namespace,
			Name:      "sessions_active",
			Help:      "Current number of registered sessions",
		}, func() float64 { return float64(sessions()) })
	}

	return m
}

// Attach subscribes the collectors to bus and returns the unsubscribe func.
func (m *Metrics) Attach(bus *notify.Bus) func() {
	return bus.Subscribe(m)
}

// Notify implements notify.Listener.
func (m *Metrics) Notify(n notify.Notification) {
	switch v := n.(type) {
	case notify.TurnCompleted:
		m.Turns.WithLabelValues(turnOutcome(v.Err)).Inc()
		m.TurnDuration.Observe(v.Duration.Seconds())
	case notify.ErrorNotice:
		scope := "session"
		if v.GroupID != "" {
			scope = "group"
		}
		m.Errors.WithLabelValues(scope).Inc()
	case notify.PhaseChanged:
		m.Phases.WithLabelValues(string(v.Phase)).Inc()
	case notify.StateChanged:
		critical := "false"
		if v.Critical {
			critical = "true"
		}
		m.StateChanges.WithLabelValues(string(v.Scope), critical).Inc()
	case notify.ReflectionProgress:
		if v.Terminal {
			m.ReflectionOutcome.WithLabelValues(v.Outcome).Inc()
			return
		}
		m.ReflectionRounds.Inc()
		m.ReflectionScore.WithLabelValues(v.GroupID).Set(v.Score)
	}
}

func turnOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrStuckTurn):
		return "stuck"
	case errors.Is(err, core.ErrCancelled):
		return "cancelled"
	default:
		return "failed"
	}
}
