package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/danielballan/bluesky-talk/internal/device"
	"github.com/danielballan/bluesky-talk/internal/document"
	"github.com/danielballan/bluesky-talk/internal/msg"
	"github.com/danielballan/bluesky-talk/internal/plan"
)

// DefaultAbortGrace is the default grace period an aborting plan gets
// for cleanup before it is forced down.
const DefaultAbortGrace = 10 * time.Second

// DefaultDrainBudget is the default number of cleanup instructions an
// aborting plan may dispatch before it is forced down. This bounds
// runaway cleanup the same way the grace period bounds slow cleanup.
const DefaultDrainBudget = 1000

// MsgHook observes every dispatched instruction. Diagnostic only: the
// hook cannot alter dispatch, and it runs on the engine's control flow.
type MsgHook func(m msg.Msg)

// PauseMode selects when a pause request takes effect.
type PauseMode int

const (
	// PauseImmediate is honored at the next dispatch boundary.
	PauseImmediate PauseMode = iota
	// PauseDeferred is honored at the next checkpoint instruction,
	// guaranteeing nothing will be re-dispatched on resume.
	PauseDeferred
)

// RunResult is the terminal report of one run.
type RunResult struct {
	Outcome Outcome
	// Reason is the machine-readable cause for failed/aborted outcomes.
	Reason string
	// Err is the terminal cause; nil when the run succeeded.
	Err error
	// Value is the plan's final result value.
	Value any
	// RunIDs lists the run-start identifiers emitted during the run.
	RunIDs []string
	// Warnings collects non-fatal problems: subscriber errors and
	// pause-without-checkpoint caveats.
	Warnings []error
}

// Engine executes one plan at a time against registered devices.
//
// The control surface (Pause, Resume, Abort, State) is safe to call from
// any goroutine while Run blocks; requests are honored cooperatively at
// dispatch boundaries. The registries (commands, devices) are mutable
// only while the engine is idle.
//
// INVARIANTS:
//   - at most one run active (Run fails with InvalidStateError otherwise)
//   - dispatch happens only in StateRunning and StateAborting
//   - the engine is back in StateIdle before Run returns
type Engine struct {
	registry   *registry
	dispatcher *dispatcher
	clock      *document.Clock
	idGen      document.IDGenerator
	now        func() time.Time
	defaultMD  map[string]any

	grace       time.Duration
	drainBudget int
	fatalSubErr bool

	hookMu  sync.RWMutex
	msgHook MsgHook

	mu      sync.Mutex
	state   State
	run     *activeRun
	devices map[string]device.Device
}

// activeRun carries per-run state. Control channels are touched from any
// goroutine; everything else belongs to the run loop alone.
type activeRun struct {
	pauseCh  chan PauseMode
	resumeCh chan struct{}
	abortCh  chan *AbortError

	checkpointed atomic.Bool

	plan          plan.Plan
	bundler       *document.Bundler
	replay        []msg.Msg
	deferredPause bool
	aborting      bool
	abortReason   string
	budget        int
	fatalErr      error
	groups        map[string][]groupedMotion
	runIDs        []string
	warnings      []error
}

type groupedMotion struct {
	target string
	status device.Status
}

// Option configures an Engine.
type Option func(*Engine)

// WithAbortGrace bounds how long an aborting plan may spend in cleanup.
func WithAbortGrace(d time.Duration) Option {
	return func(e *Engine) { e.grace = d }
}

// WithDrainBudget bounds how many cleanup instructions an aborting plan
// may dispatch.
func WithDrainBudget(n int) Option {
	return func(e *Engine) { e.drainBudget = n }
}

// WithFatalSubscriberErrors escalates subscriber errors from run
// warnings to run failure.
func WithFatalSubscriberErrors() Option {
	return func(e *Engine) { e.fatalSubErr = true }
}

// WithDefaultMetadata sets process-wide metadata merged under every
// open_run's metadata. Per-call keys override defaults.
func WithDefaultMetadata(md map[string]any) Option {
	return func(e *Engine) {
		e.defaultMD = make(map[string]any, len(md))
		for k, v := range md {
			e.defaultMD[k] = v
		}
	}
}

// WithIDGenerator overrides the UUIDv7 document ID generator.
// Tests and the harness use a fixed generator for golden traces.
func WithIDGenerator(gen document.IDGenerator) Option {
	return func(e *Engine) { e.idGen = gen }
}

// WithNow overrides the wall-clock source for document timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an idle engine with the built-in command vocabulary
// registered.
func New(opts ...Option) *Engine {
	e := &Engine{
		registry:    newRegistry(),
		dispatcher:  newDispatcher(),
		clock:       document.NewClock(),
		idGen:       document.UUIDv7Generator{},
		now:         time.Now,
		grace:       DefaultAbortGrace,
		drainBudget: DefaultDrainBudget,
		state:       StateIdle,
		devices:     make(map[string]device.Device),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.registerBuiltins()
	return e
}

// State returns the current run state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Register installs (or replaces) the handler for a command tag.
// Fails with InvalidStateError while a run is active.
func (e *Engine) Register(command msg.Command, h Handler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return &InvalidStateError{Op: "register_command", State: e.state}
	}
	e.registry.register(command, h)
	return nil
}

// Unregister removes the handler for a command tag.
// Fails with InvalidStateError while a run is active.
func (e *Engine) Unregister(command msg.Command) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return &InvalidStateError{Op: "unregister_command", State: e.state}
	}
	e.registry.unregister(command)
	return nil
}

// RegisterDevice makes a device addressable as a Msg target by name.
// Re-registering a name replaces the device. Idle only.
func (e *Engine) RegisterDevice(dev device.Device) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return &InvalidStateError{Op: "register_device", State: e.state}
	}
	e.devices[dev.Name()] = dev
	return nil
}

// Subscribe registers a document consumer. Safe at any time; a
// subscriber added mid-run starts receiving from the next document.
func (e *Engine) Subscribe(fn Subscriber) Token {
	return e.dispatcher.subscribe(fn)
}

// Unsubscribe removes a subscription. Reports whether the token was
// registered.
func (e *Engine) Unsubscribe(token Token) bool {
	return e.dispatcher.unsubscribe(token)
}

// SetMsgHook installs (or clears, with nil) the diagnostic instruction
// hook.
func (e *Engine) SetMsgHook(hook MsgHook) {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	e.msgHook = hook
}

func (e *Engine) hook() MsgHook {
	e.hookMu.RLock()
	defer e.hookMu.RUnlock()
	return e.msgHook
}

// Pause requests a transition to paused.
//
// PauseImmediate is honored at the next dispatch boundary; an in-flight
// handler is never interrupted. PauseDeferred waits for the plan's next
// checkpoint instruction. If no checkpoint has been recorded in this run
// the pause is still honored, and ErrResumeNotSafe is returned as the
// caveat that resume will not rewind anywhere.
//
// Fails with InvalidStateError unless the engine is running.
func (e *Engine) Pause(mode PauseMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return &InvalidStateError{Op: "pause", State: e.state}
	}
	r := e.run

	select {
	case r.pauseCh <- mode:
	default:
		// A pause request is already pending; coalesce.
	}

	if !r.checkpointed.Load() {
		return ErrResumeNotSafe
	}
	return nil
}

// Resume re-enters the interpreter loop from a pause. Execution restarts
// at the last checkpoint: instructions dispatched since it are
// re-dispatched, then the plan continues from where it was suspended.
//
// Fails with InvalidStateError unless the engine is paused.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		return &InvalidStateError{Op: "resume", State: e.state}
	}
	select {
	case e.run.resumeCh <- struct{}{}:
	default:
	}
	return nil
}

// Abort drives the active run toward orderly termination: an
// AbortError is injected into the plan so cleanup logic can run, bounded
// by the abort grace period and drain budget, after which the run is
// forced to aborted regardless of plan cooperation.
//
// Valid while running or paused (including a second call while an abort
// is already draining, which is coalesced).
func (e *Engine) Abort(reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateRunning, StatePaused, StateAborting:
	default:
		return &InvalidStateError{Op: "abort", State: e.state}
	}
	select {
	case e.run.abortCh <- &AbortError{Reason: reason}:
	default:
	}
	return nil
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) lookupDevice(name string) (device.Device, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.devices[name]
	return d, ok
}
