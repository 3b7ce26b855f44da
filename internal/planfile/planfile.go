// Package planfile compiles CUE plan files into executable instruction
// sequences.
//
// A plan file declares a metadata block and a list of steps:
//
//	plan: {
//		metadata: {operator: "dallan", sample: "ni-foil"}
//		steps: [
//			{command: "open_run", kwargs: {purpose: "alignment"}},
//			{command: "set", target: "motor", args: [3.0]},
//			{command: "checkpoint"},
//			{command: "read", target: "motor", args: ["det"]},
//			{command: "close_run"},
//		]
//	}
//
// Compilation uses the CUE SDK's Go API directly (not CLI subprocess),
// so constraints and defaults written in the plan file are evaluated
// before any instruction reaches the engine.
package planfile

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/danielballan/bluesky-talk/internal/msg"
	"github.com/danielballan/bluesky-talk/internal/plan"
)

// PlanFile is a compiled plan: run metadata plus the finite instruction
// sequence. A PlanFile is static; Plan() wraps it as a resumable plan
// for the engine.
type PlanFile struct {
	Metadata map[string]any
	Msgs     []msg.Msg
}

// Plan returns the executable form of the compiled file.
func (p *PlanFile) Plan() plan.Plan {
	return plan.FromMsgs(p.Msgs...)
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileFile reads and compiles one CUE plan file.
func CompileFile(path string) (*PlanFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(v.LookupPath(cue.ParsePath("plan")))
}

// CompileString compiles plan source held in memory. Used by tests and
// the scenario harness.
func CompileString(src string) (*PlanFile, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(v.LookupPath(cue.ParsePath("plan")))
}

// Compile parses a CUE value into a PlanFile. The value should be the
// plan struct itself.
func Compile(v cue.Value) (*PlanFile, error) {
	if !v.Exists() {
		return nil, &CompileError{
			Field:   "plan",
			Message: "plan struct is required",
			Pos:     v.Pos(),
		}
	}
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	pf := &PlanFile{Metadata: map[string]any{}}

	metaVal := v.LookupPath(cue.ParsePath("metadata"))
	if metaVal.Exists() {
		if err := metaVal.Decode(&pf.Metadata); err != nil {
			return nil, formatCUEError(err)
		}
	}

	stepsVal := v.LookupPath(cue.ParsePath("steps"))
	if !stepsVal.Exists() {
		return nil, &CompileError{
			Field:   "steps",
			Message: "steps list is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := stepsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	i := 0
	for iter.Next() {
		m, err := compileStep(iter.Value(), i)
		if err != nil {
			return nil, err
		}
		pf.Msgs = append(pf.Msgs, m)
		i++
	}
	if len(pf.Msgs) == 0 {
		return nil, &CompileError{
			Field:   "steps",
			Message: "at least one step is required",
			Pos:     stepsVal.Pos(),
		}
	}

	return pf, nil
}

// compileStep parses one step struct into an instruction.
func compileStep(v cue.Value, index int) (msg.Msg, error) {
	field := fmt.Sprintf("steps[%d]", index)

	cmdVal := v.LookupPath(cue.ParsePath("command"))
	if !cmdVal.Exists() {
		return msg.Msg{}, &CompileError{
			Field:   field + ".command",
			Message: "command is required",
			Pos:     v.Pos(),
		}
	}
	command, err := cmdVal.String()
	if err != nil {
		return msg.Msg{}, formatCUEError(err)
	}
	if command == "" {
		return msg.Msg{}, &CompileError{
			Field:   field + ".command",
			Message: "command must be non-empty",
			Pos:     cmdVal.Pos(),
		}
	}

	target := ""
	targetVal := v.LookupPath(cue.ParsePath("target"))
	if targetVal.Exists() {
		target, err = targetVal.String()
		if err != nil {
			return msg.Msg{}, formatCUEError(err)
		}
	}

	var args []any
	argsVal := v.LookupPath(cue.ParsePath("args"))
	if argsVal.Exists() {
		if err := argsVal.Decode(&args); err != nil {
			return msg.Msg{}, formatCUEError(err)
		}
	}

	m := msg.New(msg.Command(command), target, args...)

	kwargsVal := v.LookupPath(cue.ParsePath("kwargs"))
	if kwargsVal.Exists() {
		kwargs := map[string]any{}
		if err := kwargsVal.Decode(&kwargs); err != nil {
			return msg.Msg{}, formatCUEError(err)
		}
		m = m.WithKwargs(kwargs)
	}

	return m, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
