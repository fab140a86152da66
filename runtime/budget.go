package runtime

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBudgetExhausted is returned by Send once the runtime used up its
// model call budget.
var ErrBudgetExhausted = errors.New("model call budget exhausted")

// callBudget caps the number of model calls a runtime may make.
type callBudget struct {
	max   int
	count int
	mu    sync.Mutex
}

func newCallBudget(max int) *callBudget {
	return &callBudget{max: max}
}

// take consumes one call.
func (b *callBudget) take() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max > 0 && b.count >= b.max {
		return fmt.Errorf("%w: %d calls", ErrBudgetExhausted, b.max)
	}
	b.count++
	return nil
}

// used returns how many calls were made.
func (b *callBudget) used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// remaining returns the calls left, or -1 when unlimited.
func (b *callBudget) remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max == 0 {
		return -1
	}
	return b.max - b.count
}
