// Package device defines the capability set the run engine requires of
// anything a plan targets, plus simulated implementations for tests and
// the demo CLI.
//
// The engine depends only on these narrow interfaces, never on device
// internals. A device advertises capabilities by implementing the
// matching interface; the engine checks with type assertions at dispatch
// time and fails the instruction when the capability is missing.
package device

import (
	"context"
	"errors"

	"github.com/danielballan/bluesky-talk/internal/document"
)

// ErrMotionStopped is reported by a Status whose motion was halted by
// Stop before reaching its target.
var ErrMotionStopped = errors.New("motion stopped")

// Device is the minimal identity every capability embeds.
type Device interface {
	// Name is the device's field name in event documents. Names must be
	// unique within one engine's device namespace.
	Name() string
}

// Readable devices produce a current value with its timestamp.
type Readable interface {
	Device
	Read(ctx context.Context) (document.Reading, error)
}

// Movable devices accept a target value and report completion through a
// Status. Set returns as soon as the motion is started; callers await
// the Status.
type Movable interface {
	Device
	Set(ctx context.Context, target any) (Status, error)
}

// Stoppable devices can halt in-flight motion. Stopping a device with no
// motion in flight is a no-op.
type Stoppable interface {
	Device
	Stop(ctx context.Context) error
}

// Stageable devices need setup before a run and teardown after.
type Stageable interface {
	Device
	Stage(ctx context.Context) error
	Unstage(ctx context.Context) error
}

// Status is the completion future for an asynchronous device operation.
// Done closes exactly once; Err is meaningful only after Done is closed.
type Status interface {
	Done() <-chan struct{}
	Err() error
}

// CompletableStatus is the canonical Status implementation for device
// authors: create with NewStatus, resolve with Complete.
type CompletableStatus struct {
	done chan struct{}
	err  error
}

// NewStatus returns an unresolved status.
func NewStatus() *CompletableStatus {
	return &CompletableStatus{done: make(chan struct{})}
}

// Complete resolves the status. Completing twice panics: a status is a
// one-shot contract and double completion is a device bug.
func (s *CompletableStatus) Complete(err error) {
	s.err = err
	close(s.done)
}

// Done returns the completion channel.
func (s *CompletableStatus) Done() <-chan struct{} { return s.done }

// Err returns the completion error. Valid only after Done is closed.
func (s *CompletableStatus) Err() error { return s.err }

// finishedStatus is a Status already resolved at construction.
type finishedStatus struct{ err error }

// Finished returns a Status that is already complete. Devices that move
// instantaneously use it to keep Set cheap.
func Finished(err error) Status {
	return finishedStatus{err: err}
}

func (s finishedStatus) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (s finishedStatus) Err() error { return s.err }
