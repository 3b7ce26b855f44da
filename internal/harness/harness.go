package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danielballan/bluesky-talk/internal/device"
	"github.com/danielballan/bluesky-talk/internal/document"
	"github.com/danielballan/bluesky-talk/internal/engine"
	"github.com/danielballan/bluesky-talk/internal/planfile"
	"github.com/danielballan/bluesky-talk/internal/testutil"
)

// Epoch is the frozen wall-clock start for scenario timestamps.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Result captures one scenario execution.
type Result struct {
	// Passed is true when the outcome matched and every assertion held.
	Passed bool

	// Failures lists each expectation or assertion that did not hold.
	Failures []string

	// Outcome is the run's actual terminal outcome.
	Outcome engine.Outcome

	// Reason is the run's terminal reason (empty on success).
	Reason string

	// Docs is the full document stream, in emission order.
	Docs []document.Document
}

// recorder is the subscriber that captures the document stream.
type recorder struct {
	mu   sync.Mutex
	docs []document.Document
}

func (r *recorder) record(doc document.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, doc)
	return nil
}

// Run executes a scenario against a fresh engine and returns the result.
//
// Execution flow:
//  1. Build the simulated device bench
//  2. Compile the inline CUE plan
//  3. Run it with deterministic IDs and timestamps, recording documents
//  4. Check the terminal outcome and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	eng := engine.New(
		engine.WithIDGenerator(testutil.NewSequentialIDGenerator("doc")),
		engine.WithNow(testutil.FixedNow(Epoch, time.Second)),
	)

	for _, spec := range scenario.Devices {
		var dev device.Device
		switch spec.Kind {
		case "motor":
			dev = device.NewMotor(spec.Name, time.Duration(spec.TravelMS)*time.Millisecond)
		case "detector":
			value := spec.Value
			dev = device.NewDetector(spec.Name, func() any { return value })
		default:
			return nil, fmt.Errorf("scenario %s: unknown device kind %q", scenario.Name, spec.Kind)
		}
		if err := eng.RegisterDevice(dev); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
		}
	}

	pf, err := planfile.CompileString(scenario.Plan)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: compile plan: %w", scenario.Name, err)
	}

	rec := &recorder{}
	runRes, runErr := eng.Run(context.Background(), pf.Plan(), rec.record)
	if runRes == nil {
		return nil, fmt.Errorf("scenario %s: run never started: %w", scenario.Name, runErr)
	}

	result := &Result{
		Outcome: runRes.Outcome,
		Reason:  runRes.Reason,
		Docs:    rec.docs,
	}

	checkExpect(scenario, result)
	for i, a := range scenario.Assertions {
		if msg := evaluateAssertion(i, &a, result.Docs); msg != "" {
			result.Failures = append(result.Failures, msg)
		}
	}
	result.Passed = len(result.Failures) == 0

	// A run error with a matching expected outcome is not a harness
	// error; an unexpected engine-level error still is.
	if runErr != nil && result.Outcome == engine.OutcomeSucceeded {
		var ise *engine.InvalidStateError
		if errors.As(runErr, &ise) {
			return nil, fmt.Errorf("scenario %s: %w", scenario.Name, runErr)
		}
	}

	return result, nil
}

// checkExpect verifies the terminal outcome clause.
func checkExpect(scenario *Scenario, result *Result) {
	if string(result.Outcome) != scenario.Expect.Outcome {
		result.Failures = append(result.Failures, fmt.Sprintf(
			"expected outcome %s, got %s (reason: %s)",
			scenario.Expect.Outcome, result.Outcome, result.Reason))
	}
	if want := scenario.Expect.ReasonContains; want != "" {
		if !containsSubstring(result.Reason, want) {
			result.Failures = append(result.Failures, fmt.Sprintf(
				"expected reason to contain %q, got %q", want, result.Reason))
		}
	}
}
