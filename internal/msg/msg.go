package msg

import (
	"fmt"
	"strings"
	"time"
)

// Command is the instruction tag dispatched by the run engine.
//
// The constants below form the built-in vocabulary. User code may register
// handlers for additional command strings at the engine's dispatch table;
// any non-empty string is a valid Command.
type Command string

const (
	// CommandSet drives a movable device toward a target value.
	// With a "group" kwarg the motion is started without awaiting
	// completion; a later CommandWait on the same group awaits it.
	CommandSet Command = "set"

	// CommandRead reads the current value of a readable device and, inside
	// an open run, contributes the reading to the current event group.
	CommandRead Command = "read"

	// CommandSleep suspends the run for a duration (first positional arg).
	CommandSleep Command = "sleep"

	// CommandWait blocks until every in-flight motion in the named group
	// (first positional arg) has completed.
	CommandWait Command = "wait"

	// CommandCheckpoint marks the current position as safe to resume from.
	CommandCheckpoint Command = "checkpoint"

	// CommandPause requests a planned pause at this dispatch boundary.
	CommandPause Command = "pause"

	// CommandOpenRun opens a data-collection run; kwargs become run
	// metadata merged over the engine's default metadata.
	CommandOpenRun Command = "open_run"

	// CommandCloseRun closes the open run and emits its run-stop document.
	CommandCloseRun Command = "close_run"

	// CommandStage prepares a device for use within a run.
	CommandStage Command = "stage"

	// CommandUnstage reverses CommandStage.
	CommandUnstage Command = "unstage"

	// CommandStop halts any motion on the target device.
	CommandStop Command = "stop"

	// CommandNull does nothing. Useful as a scheduling point in plans.
	CommandNull Command = "null"
)

// Msg is one immutable instruction.
//
// The zero Msg is not valid; use New or one of the command constructors.
// Fields are unexported so that construction is the only way to create a
// Msg and the With* helpers are the only way to derive a changed one.
type Msg struct {
	command Command
	target  string
	args    []any
	kwargs  map[string]any
}

// New creates a Msg with the given command, target device name (may be
// empty), and positional arguments. Keyword arguments are attached with
// WithKwarg or WithKwargs.
func New(command Command, target string, args ...any) Msg {
	return Msg{
		command: command,
		target:  target,
		args:    cloneArgs(args),
	}
}

// Set returns a set instruction for a movable device.
func Set(target string, value any) Msg {
	return New(CommandSet, target, value)
}

// Read returns a read instruction for a readable device.
func Read(target string) Msg {
	return New(CommandRead, target)
}

// Sleep returns a sleep instruction for the given duration.
func Sleep(d time.Duration) Msg {
	return New(CommandSleep, "", d)
}

// Wait returns a wait instruction for the named motion group.
func Wait(group string) Msg {
	return New(CommandWait, "", group)
}

// Checkpoint returns a checkpoint instruction.
func Checkpoint() Msg {
	return New(CommandCheckpoint, "")
}

// Pause returns a planned-pause instruction.
func Pause() Msg {
	return New(CommandPause, "")
}

// OpenRun returns an open_run instruction carrying run metadata.
// A nil metadata map is valid (the engine default metadata still applies).
func OpenRun(metadata map[string]any) Msg {
	m := New(CommandOpenRun, "")
	m.kwargs = cloneKwargs(metadata)
	return m
}

// CloseRun returns a close_run instruction.
func CloseRun() Msg {
	return New(CommandCloseRun, "")
}

// Stage returns a stage instruction for the target device.
func Stage(target string) Msg {
	return New(CommandStage, target)
}

// Unstage returns an unstage instruction for the target device.
func Unstage(target string) Msg {
	return New(CommandUnstage, target)
}

// Stop returns a stop instruction for the target device.
func Stop(target string) Msg {
	return New(CommandStop, target)
}

// Null returns a no-op instruction.
func Null() Msg {
	return New(CommandNull, "")
}

// Command returns the instruction tag.
func (m Msg) Command() Command { return m.command }

// Target returns the target device name, or "" when the instruction has
// no device target.
func (m Msg) Target() string { return m.target }

// Args returns a copy of the positional arguments.
func (m Msg) Args() []any { return cloneArgs(m.args) }

// NumArgs returns the number of positional arguments without copying.
func (m Msg) NumArgs() int { return len(m.args) }

// Arg returns the i-th positional argument, or nil if out of range.
func (m Msg) Arg(i int) any {
	if i < 0 || i >= len(m.args) {
		return nil
	}
	return m.args[i]
}

// Kwargs returns a copy of the keyword arguments. Never nil.
func (m Msg) Kwargs() map[string]any {
	if m.kwargs == nil {
		return map[string]any{}
	}
	return cloneKwargs(m.kwargs)
}

// Kwarg returns the named keyword argument and whether it was present.
func (m Msg) Kwarg(name string) (any, bool) {
	v, ok := m.kwargs[name]
	return v, ok
}

// WithArgs returns a copy of m with the positional arguments replaced.
func (m Msg) WithArgs(args ...any) Msg {
	out := m
	out.args = cloneArgs(args)
	return out
}

// WithTarget returns a copy of m with the target replaced.
func (m Msg) WithTarget(target string) Msg {
	out := m
	out.target = target
	return out
}

// WithKwarg returns a copy of m with one keyword argument set.
func (m Msg) WithKwarg(name string, value any) Msg {
	out := m
	kw := cloneKwargs(m.kwargs)
	if kw == nil {
		kw = make(map[string]any, 1)
	}
	kw[name] = value
	out.kwargs = kw
	return out
}

// WithKwargs returns a copy of m with all keyword arguments replaced.
func (m Msg) WithKwargs(kwargs map[string]any) Msg {
	out := m
	out.kwargs = cloneKwargs(kwargs)
	return out
}

// Equal reports whether two Msgs have identical command, target, and
// arguments. Comparison goes through canonical serialization so that
// structurally equal argument values compare equal.
func (m Msg) Equal(other Msg) bool {
	if m.command != other.command || m.target != other.target {
		return false
	}
	a, errA := m.Fingerprint()
	b, errB := other.Fingerprint()
	if errA != nil || errB != nil {
		// Unhashable payloads fall back to never-equal rather than
		// guessing; Equal is only meaningful for serializable Msgs.
		return false
	}
	return a == b
}

// String renders the Msg for logs and diagnostic hooks.
func (m Msg) String() string {
	var b strings.Builder
	b.WriteString(string(m.command))
	if m.target != "" {
		fmt.Fprintf(&b, " %s", m.target)
	}
	for _, a := range m.args {
		fmt.Fprintf(&b, " %v", a)
	}
	if len(m.kwargs) > 0 {
		fmt.Fprintf(&b, " %v", m.kwargs)
	}
	return b.String()
}

func cloneArgs(args []any) []any {
	if args == nil {
		return nil
	}
	out := make([]any, len(args))
	copy(out, args)
	return out
}

func cloneKwargs(kwargs map[string]any) map[string]any {
	if kwargs == nil {
		return nil
	}
	out := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		out[k] = v
	}
	return out
}
