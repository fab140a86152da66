package dispatch

import (
	"sync/atomic"

	"github.com/hupe1980/agentsquad/core"
)

type tracker struct {
	total      atomic.Int64
	completed  atomic.Int64
	processing atomic.Int64
}

func (t *tracker) begin() { t.processing.Add(1) }

func (t *tracker) end() {
	t.processing.Add(-1)
	t.completed.Add(1)
}

func (t *tracker) snapshot() core.Progress {
	return core.Progress{
		Total:      int(t.total.Load()),
		Completed:  int(t.completed.Load()),
		Processing: int(t.processing.Load()),
	}
}

// track starts a fresh progress record for a round over total recipients.
func (d *Dispatcher) track(groupID string, total int) *tracker {
	t := &tracker{}
	t.total.Store(int64(total))

	d.mu.Lock()
	d.progress[groupID] = t
	d.mu.Unlock()

	return t
}
