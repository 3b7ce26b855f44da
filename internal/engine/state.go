package engine

import "github.com/danielballan/bluesky-talk/internal/document"

// State is the engine's live run state. Exactly one state is active at a
// time; dispatch occurs only while running or aborting.
type State string

const (
	// StateIdle means no run is active. Run() requires it.
	StateIdle State = "idle"

	// StateRunning means a plan is being driven.
	StateRunning State = "running"

	// StatePaused means the loop is suspended at a dispatch boundary,
	// holding the plan handle for Resume or Abort.
	StatePaused State = "paused"

	// StateAborting means an abort was requested and the plan is being
	// drained through its cleanup under the grace bounds.
	StateAborting State = "aborting"
)

// Outcome is the terminal result of one completed run.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeAborted   Outcome = "aborted"
)

// exitStatusFor maps a run outcome to the run-stop exit status.
func exitStatusFor(o Outcome) document.ExitStatus {
	switch o {
	case OutcomeSucceeded:
		return document.ExitSuccess
	case OutcomeAborted:
		return document.ExitAbort
	default:
		return document.ExitFail
	}
}
