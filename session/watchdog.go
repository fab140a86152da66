package session

import (
	"fmt"
	"time"

	"github.com/hupe1980/agentsquad/core"
)

// watch runs the stuck-turn check for t until the turn ends.
func (m *Manager) watch(e *entry, t *Turn) {
	ticker := time.NewTicker(m.config.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopped:
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if m.checkStuck(e, t) {
				return
			}
		}
	}
}

// checkStuck force-completes t when no event was observed for longer than
// its effective timeout. It reports whether the watchdog should stop.
func (m *Manager) checkStuck(e *entry, t *Turn) bool {
	e.mu.Lock()
	if e.turn != t {
		e.mu.Unlock()
		return true
	}
	gen := t.gen.Load()
	timeout := m.timeoutFor(t)
	silent := m.now().Sub(t.lastEvent)
	tools := t.inFlightTools
	e.mu.Unlock()

	if silent < timeout {
		return false
	}

	m.logger.Warn("turn appears stuck, force-completing",
		"session", t.session,
		"generation", gen,
		"silent_for", silent.String(),
		"timeout", timeout.String(),
		"in_flight_tools", tools,
	)

	m.closeTurn(e, gen, "", fmt.Errorf("no events for %s: %w", silent.Round(time.Second), core.ErrStuckTurn), true)

	return true
}

// timeoutFor returns the effective stuck threshold. Callers hold e.mu.
func (m *Manager) timeoutFor(t *Turn) time.Duration {
	if t.inFlightTools > 0 || t.usedTools || t.resumed {
		return m.config.ToolStuckTimeout
	}
	return m.config.StuckTimeout
}
