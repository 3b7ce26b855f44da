package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danielballan/bluesky-talk/internal/document"
)

// Motor simulates a positioner with a fixed travel time per move.
// It implements Readable, Movable, Stoppable, and Stageable.
//
// Thread-safety: Motor is safe for concurrent use. The completion timer
// runs on its own goroutine so several motors can travel at once within
// a single wait group.
type Motor struct {
	name   string
	travel time.Duration

	mu       sync.Mutex
	position float64
	staged   bool
	inflight *motion
}

type motion struct {
	status *CompletableStatus
	cancel chan struct{}
	once   sync.Once
}

// NewMotor creates a simulated motor at position 0. travel is the time
// each Set takes to settle, regardless of distance.
func NewMotor(name string, travel time.Duration) *Motor {
	return &Motor{name: name, travel: travel}
}

func (m *Motor) Name() string { return m.name }

// Position returns the current position. In-flight moves only update the
// position on settle or stop.
func (m *Motor) Position() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

// Read reports the current position.
func (m *Motor) Read(ctx context.Context) (document.Reading, error) {
	if err := ctx.Err(); err != nil {
		return document.Reading{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return document.Reading{Value: m.position, Timestamp: time.Now()}, nil
}

// Set starts a move toward target (numeric) and returns its Status.
// A second Set while a move is in flight fails; real positioners reject
// overlapping commands the same way.
func (m *Motor) Set(ctx context.Context, target any) (Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	goal, err := toFloat(target)
	if err != nil {
		return nil, fmt.Errorf("motor %s: %w", m.name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight != nil {
		return nil, fmt.Errorf("motor %s: move already in flight", m.name)
	}

	mo := &motion{
		status: NewStatus(),
		cancel: make(chan struct{}),
	}
	m.inflight = mo

	timer := time.NewTimer(m.travel)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C:
			m.mu.Lock()
			m.position = goal
			m.inflight = nil
			m.mu.Unlock()
			mo.once.Do(func() { mo.status.Complete(nil) })
		case <-mo.cancel:
			// Stop already resolved the status.
		}
	}()

	return mo.status, nil
}

// Stop halts the in-flight move, if any. The move's Status completes
// with ErrMotionStopped; the position stays where the move began.
func (m *Motor) Stop(ctx context.Context) error {
	m.mu.Lock()
	mo := m.inflight
	m.inflight = nil
	m.mu.Unlock()

	if mo == nil {
		return nil
	}
	close(mo.cancel)
	mo.once.Do(func() { mo.status.Complete(ErrMotionStopped) })
	return nil
}

// Stage marks the motor ready for a run. Double staging is an error.
func (m *Motor) Stage(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staged {
		return fmt.Errorf("motor %s: already staged", m.name)
	}
	m.staged = true
	return nil
}

// Unstage reverses Stage. Unstaging an unstaged motor is a no-op, so
// cleanup plans can unstage unconditionally.
func (m *Motor) Unstage(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged = false
	return nil
}

// Detector simulates a readable sensor whose value comes from a user
// function, typically closing over the motors it "observes".
type Detector struct {
	name string
	fn   func() any
}

// NewDetector creates a detector. fn is called once per Read.
func NewDetector(name string, fn func() any) *Detector {
	return &Detector{name: name, fn: fn}
}

func (d *Detector) Name() string { return d.name }

// Read samples the detector function.
func (d *Detector) Read(ctx context.Context) (document.Reading, error) {
	if err := ctx.Err(); err != nil {
		return document.Reading{}, err
	}
	return document.Reading{Value: d.fn(), Timestamp: time.Now()}, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("target %v (%T) is not numeric", v, v)
	}
}
