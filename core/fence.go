package core

import "sync/atomic"

// Fence is a monotonic generation counter used for optimistic turn fencing.
//
// Every operation that starts (or restarts) a unit of asynchronous work calls
// Next and stamps the returned value onto the work. Completions carry the
// stamp back and are only honoured while Valid reports true, so a late or
// duplicated completion can never close a newer unit of work.
//
// The zero value is ready to use. A Fence must not be copied after first use.
type Fence struct {
	gen atomic.Uint64
}

// Next allocates and returns a new generation (previous + 1).
func (f *Fence) Next() uint64 { return f.gen.Add(1) }

// Current returns the most recently allocated generation.
func (f *Fence) Current() uint64 { return f.gen.Load() }

// Valid reports whether gen is the current generation.
func (f *Fence) Valid(gen uint64) bool { return gen != 0 && f.gen.Load() == gen }
