package plan

import (
	"sync"

	"github.com/danielballan/bluesky-talk/internal/msg"
)

// Func returns a Plan backed by a generator function.
//
// The function runs in its own goroutine, lazily started on the first
// Next call. Each Yielder.Emit suspends the function until the engine
// pushes back the instruction's outcome; Emit then returns that result,
// or the injected error. The function's return values become the plan's
// terminal Step.
//
// The goroutine runs only while the engine is pulling; there is no
// concurrency between plan code and the engine. Cancel releases the
// goroutine if the plan is abandoned before exhaustion.
func Func(fn func(y *Yielder) (any, error)) Plan {
	return &genPlan{
		fn:   fn,
		in:   make(chan Input),
		out:  make(chan genStep),
		stop: make(chan struct{}),
	}
}

// genStep is the generator-to-driver message: either one instruction or
// the terminal outcome.
type genStep struct {
	m     msg.Msg
	done  bool
	value any
	err   error
}

type genPlan struct {
	fn       func(y *Yielder) (any, error)
	in       chan Input
	out      chan genStep
	stop     chan struct{}
	stopOnce sync.Once

	started bool
	term    *Step
}

func (p *genPlan) Next(in Input) Step {
	if p.term != nil {
		return *p.term
	}

	if !p.started {
		// An error injected before the plan ever ran terminates it
		// outright; there is no suspension point to raise at yet.
		if in.Err != nil {
			p.term = &Step{Done: true, Err: in.Err}
			return *p.term
		}
		p.started = true
		go p.run()
	} else {
		select {
		case p.in <- in:
		case <-p.stop:
			p.term = &Step{Done: true, Err: ErrCanceled}
			return *p.term
		}
	}

	select {
	case st := <-p.out:
		if st.done {
			p.term = &Step{Done: true, Value: st.value, Err: st.err}
			return *p.term
		}
		return Step{Msg: st.m}
	case <-p.stop:
		p.term = &Step{Done: true, Err: ErrCanceled}
		return *p.term
	}
}

// Cancel unblocks the generator goroutine. Pending and future Emit calls
// fail with ErrCanceled, unwinding the plan function. Safe to call more
// than once and safe to call on a never-started plan.
func (p *genPlan) Cancel() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *genPlan) run() {
	y := &Yielder{p: p}
	v, err := p.fn(y)
	select {
	case p.out <- genStep{done: true, value: v, err: err}:
	case <-p.stop:
	}
}

// Yielder is the authoring surface handed to a generator plan function.
// It is only valid inside that function, on its own goroutine.
type Yielder struct {
	p *genPlan
}

// Emit yields one instruction and suspends until the engine pushes back
// its outcome. The returned value is the instruction's result; a non-nil
// error is either the instruction's failure or an engine-injected signal
// (abort). Plan code may recover from the error or return it.
func (y *Yielder) Emit(m msg.Msg) (any, error) {
	select {
	case y.p.out <- genStep{m: m}:
	case <-y.p.stop:
		return nil, ErrCanceled
	}

	select {
	case in := <-y.p.in:
		return in.Value, in.Err
	case <-y.p.stop:
		return nil, ErrCanceled
	}
}

// Each delegates to a nested sub-plan: every instruction the sub-plan
// yields is emitted through this plan, and results and injected errors
// route to the sub-plan's own suspension points. Returns the sub-plan's
// terminal value and error.
func (y *Yielder) Each(sub Plan) (any, error) {
	in := Input{}
	for {
		st := sub.Next(in)
		if st.Done {
			return st.Value, st.Err
		}
		v, err := y.Emit(st.Msg)
		in = Input{Value: v, Err: err}
	}
}
