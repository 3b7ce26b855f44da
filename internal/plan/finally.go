package plan

// Finally returns a Plan that guarantees cleanup's instructions execute
// whenever body terminates: normal exhaustion, an error injected by the
// engine (handler failure, abort), or body's own failure.
//
// The body's outcome is preserved: if cleanup completes without error the
// combined plan terminates with body's value and error. A cleanup failure
// supersedes body's outcome, the way a raising finally block does.
//
// During cleanup, injected errors route into the cleanup plan; the
// original body failure is still reported if cleanup survives them.
func Finally(body, cleanup Plan) Plan {
	return &finallyPlan{body: body, cleanup: cleanup}
}

type finallyPlan struct {
	body    Plan
	cleanup Plan

	inCleanup bool
	fresh     bool // cleanup not yet pulled
	bodyStep  Step // body's terminal step, valid once inCleanup
	term      *Step
}

func (p *finallyPlan) Next(in Input) Step {
	if p.term != nil {
		return *p.term
	}

	if !p.inCleanup {
		st := p.body.Next(in)
		if !st.Done {
			return st
		}
		p.inCleanup = true
		p.fresh = true
		p.bodyStep = st
		in = Input{}
	}

	if p.fresh {
		// The cleanup plan starts from scratch; it does not observe
		// body's result. Its first pull carries no input.
		p.fresh = false
		in = Input{}
	}
	st := p.cleanup.Next(in)
	if !st.Done {
		return st
	}

	out := Step{Done: true, Value: p.bodyStep.Value, Err: p.bodyStep.Err}
	if st.Err != nil {
		out.Err = st.Err
	}
	p.term = &out
	return *p.term
}

// Cancel forwards cancellation to body and cleanup.
func (p *finallyPlan) Cancel() {
	if c, ok := p.body.(Canceler); ok {
		c.Cancel()
	}
	if c, ok := p.cleanup.(Canceler); ok {
		c.Cancel()
	}
}
