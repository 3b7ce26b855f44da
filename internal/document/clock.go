package document

import "sync/atomic"

// Clock is a monotonic logical clock for document ordering.
//
// All documents are stamped with a strictly increasing seq number from
// this clock, so ordering never depends on wall-clock timestamps.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations),
// though the engine's single-control-flow model means one goroutine
// typically calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific sequence number.
// Used when resuming stamping after a replayed archive.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
// Each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
