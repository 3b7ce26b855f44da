package plan

import (
	"errors"

	"github.com/danielballan/bluesky-talk/internal/msg"
)

// ErrCanceled is returned from Yielder.Emit after a generator plan has
// been forcibly canceled. Plan code that sees it must unwind; further
// emissions will fail the same way.
var ErrCanceled = errors.New("plan canceled")

// Input carries the outcome of the previously yielded instruction back
// into the plan at its suspension point.
//
// Exactly one of Value and Err is meaningful. A non-nil Err is an
// injected exception: the plan observes it where it was suspended and may
// recover (cleanup logic) or propagate it as its own failure.
type Input struct {
	Value any
	Err   error
}

// Step is the result of advancing a plan one position.
//
// When Done is false, Msg holds the next instruction to dispatch.
// When Done is true the plan is exhausted: Value is its final result and
// Err its failure, if any.
type Step struct {
	Msg   msg.Msg
	Done  bool
	Value any
	Err   error
}

// Plan is a resumable, two-way producer of instructions.
//
// Next must be called from a single goroutine at a time; the engine's
// single-control-flow model guarantees this. After a Step with Done=true,
// further Next calls return the same terminal Step.
type Plan interface {
	Next(in Input) Step
}

// Canceler is implemented by plans that hold resources (a goroutine)
// needing release when the engine abandons them without draining.
// The engine cancels such plans after the abort grace period expires.
type Canceler interface {
	Cancel()
}

// listPlan yields a fixed sequence of instructions.
type listPlan struct {
	msgs []msg.Msg
	pos  int
	term *Step
}

// FromMsgs returns a Plan that yields the given instructions in order.
// Results pushed back are discarded; an injected error terminates the
// plan immediately with that error (a static list has no cleanup logic).
func FromMsgs(msgs ...msg.Msg) Plan {
	out := make([]msg.Msg, len(msgs))
	copy(out, msgs)
	return &listPlan{msgs: out}
}

func (p *listPlan) Next(in Input) Step {
	if p.term != nil {
		return *p.term
	}
	if in.Err != nil {
		p.term = &Step{Done: true, Err: in.Err}
		return *p.term
	}
	if p.pos >= len(p.msgs) {
		p.term = &Step{Done: true}
		return *p.term
	}
	m := p.msgs[p.pos]
	p.pos++
	return Step{Msg: m}
}

// chainPlan runs sub-plans in sequence, flattening plan-of-plans.
type chainPlan struct {
	plans []Plan
	idx   int
	fresh bool // true until the current sub-plan has been pulled once
	term  *Step
}

// Chain returns a Plan that drives each given plan to exhaustion in
// order. Results and injected errors route to the currently active
// sub-plan. A sub-plan failure terminates the chain with that failure;
// the chain's final value is the last sub-plan's value.
func Chain(plans ...Plan) Plan {
	out := make([]Plan, len(plans))
	copy(out, plans)
	return &chainPlan{plans: out, fresh: true}
}

func (p *chainPlan) Next(in Input) Step {
	if p.term != nil {
		return *p.term
	}
	for p.idx < len(p.plans) {
		// The first pull of each sub-plan carries no prior result.
		if p.fresh {
			in = Input{Err: in.Err}
		}
		st := p.plans[p.idx].Next(in)
		p.fresh = false
		if !st.Done {
			return st
		}
		if st.Err != nil {
			p.term = &Step{Done: true, Err: st.Err}
			return *p.term
		}
		p.idx++
		p.fresh = true
		in = Input{}
		if p.idx == len(p.plans) {
			p.term = &Step{Done: true, Value: st.Value}
			return *p.term
		}
	}
	p.term = &Step{Done: true}
	return *p.term
}

// Cancel forwards cancellation to every sub-plan that supports it.
func (p *chainPlan) Cancel() {
	for _, sub := range p.plans {
		if c, ok := sub.(Canceler); ok {
			c.Cancel()
		}
	}
}
