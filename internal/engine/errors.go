package engine

import (
	"errors"
	"fmt"

	"github.com/danielballan/bluesky-talk/internal/msg"
)

// ErrResumeNotSafe is returned by Pause when no checkpoint has been
// recorded in the current run. The pause is still honored at the next
// dispatch boundary; the error is the caveat that resumption will
// continue from the paused position with nothing to rewind, so resume
// safety is the caller's risk.
var ErrResumeNotSafe = errors.New("no checkpoint recorded: resume safety not guaranteed")

// ErrRunFatal marks an injected error the run cannot recover from. The
// plan still sees it (so cleanup can execute), but the terminal outcome
// is failed even if the plan absorbs it.
var ErrRunFatal = errors.New("run cannot recover")

// InvalidStateError reports a control operation invoked while the run
// state forbids it (run while running, resume while not paused, ...).
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state for %s: engine is %s", e.Op, e.State)
}

// UnknownCommandError reports a dispatched instruction whose command tag
// has no registered handler. Fatal to the run.
type UnknownCommandError struct {
	Command msg.Command
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", e.Command)
}

// HandlerError wraps a handler failure. It is injected into the plan at
// its suspension point, so plan-level cleanup logic can observe and
// react; uncaught, it escalates to run failure.
type HandlerError struct {
	Command msg.Command
	Target  string
	Err     error
}

func (e *HandlerError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("command %q on %s: %v", e.Command, e.Target, e.Err)
	}
	return fmt.Sprintf("command %q: %v", e.Command, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// AbortError is the cooperative cancellation signal injected into the
// plan on Abort. It is distinct from a handler failure so that cleanup
// logic can tell "asked to stop" from "something broke".
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string {
	if e.Reason == "" {
		return "run aborted"
	}
	return fmt.Sprintf("run aborted: %s", e.Reason)
}

// IsAbort reports whether err is (or wraps) an abort signal.
func IsAbort(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}

// SubscriberError reports one subscriber's failure for one document.
// Isolated per subscriber and non-fatal by default: it is collected as a
// run warning unless the engine is configured to treat it as fatal.
type SubscriberError struct {
	Token Token
	Doc   string // document type, for diagnostics
	Err   error
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf("subscriber %d failed on %s document: %v", e.Token, e.Doc, e.Err)
}

func (e *SubscriberError) Unwrap() error { return e.Err }
