package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentsquad/core"
	"github.com/hupe1980/agentsquad/notify"
)

func newTestMetrics(t *testing.T, optFns ...func(o *Options)) (*Metrics, *prometheus.Registry, *notify.Bus) {
	t.Helper()
	reg := prometheus.NewRegistry()
	fns := append([]func(o *Options){func(o *Options) { o.Registerer = reg }}, optFns...)
	m := New(fns...)
	bus := notify.NewBus()
	t.Cleanup(m.Attach(bus))
	return m, reg, bus
}

func TestMetrics_Turns(t *testing.T) {
	m, _, bus := newTestMetrics(t)

	bus.Publish(notify.TurnCompleted{Session: "a", Duration: 2 * time.Second})
	bus.Publish(notify.TurnCompleted{Session: "a", Err: core.ErrStuckTurn})
	bus.Publish(notify.TurnCompleted{Session: "b", Err: core.ErrCancelled})
	bus.Publish(notify.TurnCompleted{Session: "b", Err: errors.New("boom")})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("stuck")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TurnDuration))
}

func TestMetrics_DispatchAndReflection(t *testing.T) {
	m, _, bus := newTestMetrics(t)

	bus.Publish(notify.PhaseChanged{GroupID: "g", Phase: core.PhasePlanning})
	bus.Publish(notify.PhaseChanged{GroupID: "g", Phase: core.PhasePlanning})
	bus.Publish(notify.ErrorNotice{GroupID: "g", Session: "a"})
	bus.Publish(notify.ErrorNotice{Session: "a"})
	bus.Publish(notify.StateChanged{Scope: notify.ScopeGroup, ID: "g", Critical: true})
	bus.Publish(notify.ReflectionProgress{GroupID: "g", Iteration: 1, Score: 0.7})
	bus.Publish(notify.ReflectionProgress{GroupID: "g", Terminal: true, Outcome: "goal_met"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Phases.WithLabelValues("planning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("group")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("session")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateChanges.WithLabelValues("group", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReflectionRounds))
	assert.Equal(t, 0.7, testutil.ToFloat64(m.ReflectionScore.WithLabelValues("g")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReflectionOutcome.WithLabelValues("goal_met")))
}

func TestMetrics_SessionsGauge(t *testing.T) {
	_, reg, _ := newTestMetrics(t, func(o *Options) {
		o.Namespace = "test"
		o.Sessions = func() int { return 3 }
	})

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "test_sessions_active" {
			found = true
			assert.Equal(t, 3.0, f.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found)
}

func TestMetrics_DetachStopsCounting(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(func(o *Options) { o.Registerer = reg })
	bus := notify.NewBus()

	detach := m.Attach(bus)
	bus.Publish(notify.PhaseChanged{Phase: core.PhaseComplete})
	detach()
	bus.Publish(notify.PhaseChanged{Phase: core.PhaseComplete})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Phases.WithLabelValues("complete")))
}
