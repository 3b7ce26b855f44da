package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielballan/bluesky-talk/internal/document"
	"github.com/danielballan/bluesky-talk/internal/msg"
	"github.com/danielballan/bluesky-talk/internal/plan"
)

// Run executes a plan to completion and returns its terminal report.
//
// Run blocks until the run reaches a terminal outcome; the control
// surface (Pause, Resume, Abort) is driven from other goroutines.
// Cancelling ctx is treated as an abort request. Extra subscribers are
// registered for the duration of this run only.
//
// The returned error is nil exactly when the outcome is
// OutcomeSucceeded. The *RunResult is non-nil whenever a run actually
// started, including failed and aborted runs.
func (e *Engine) Run(ctx context.Context, p plan.Plan, subs ...Subscriber) (*RunResult, error) {
	e.mu.Lock()
	if e.state != StateIdle {
		state := e.state
		e.mu.Unlock()
		return nil, &InvalidStateError{Op: "run", State: state}
	}
	r := &activeRun{
		pauseCh:  make(chan PauseMode, 1),
		resumeCh: make(chan struct{}, 1),
		abortCh:  make(chan *AbortError, 1),
		plan:     p,
		budget:   e.drainBudget,
		groups:   make(map[string][]groupedMotion),
	}
	r.bundler = document.NewBundler(
		document.WithIDGenerator(e.idGen),
		document.WithClock(e.clock),
		document.WithNow(e.now),
		document.WithDefaultMetadata(e.defaultMD),
	)
	e.run = r
	e.state = StateRunning
	e.mu.Unlock()

	var tokens []Token
	for _, s := range subs {
		tokens = append(tokens, e.dispatcher.subscribe(s))
	}
	defer func() {
		for _, t := range tokens {
			e.dispatcher.unsubscribe(t)
		}
	}()

	slog.Debug("run starting")
	res, err := e.loop(ctx, r)

	e.mu.Lock()
	e.run = nil
	e.state = StateIdle
	e.mu.Unlock()

	slog.Debug("run finished", "outcome", string(res.Outcome))
	return res, err
}

// loop is the interpreter: pull an instruction from the plan, dispatch
// it, feed the result (or error) back, repeat. All pause, resume and
// abort handling happens at the top of each iteration, so an in-flight
// handler is never interrupted.
func (e *Engine) loop(ctx context.Context, r *activeRun) (*RunResult, error) {
	dispatchCtx := ctx
	cancelDispatch := context.CancelFunc(func() {})
	defer func() { cancelDispatch() }()

	in := plan.Input{}
	for {
		// Control boundary.
		if !r.aborting {
			select {
			case ab := <-r.abortCh:
				dispatchCtx, cancelDispatch = e.beginAbort(ctx, r, ab)
				in = plan.Input{Err: ab}
			case mode := <-r.pauseCh:
				if mode == PauseDeferred {
					r.deferredPause = true
				} else {
					if ab := e.pauseUntilResumed(ctx, r); ab != nil {
						dispatchCtx, cancelDispatch = e.beginAbort(ctx, r, ab)
						in = plan.Input{Err: ab}
					}
				}
			case <-ctx.Done():
				ab := &AbortError{Reason: "context canceled: " + ctx.Err().Error()}
				dispatchCtx, cancelDispatch = e.beginAbort(ctx, r, ab)
				in = plan.Input{Err: ab}
			default:
			}
		} else if dispatchCtx.Err() != nil {
			// Grace period expired mid-drain. Force the plan down.
			return e.forceDown(r, "abort grace period expired")
		}

		step := r.plan.Next(in)
		if step.Done {
			return e.finish(r, step.Value, step.Err)
		}

		m := step.Msg
		if hook := e.hook(); hook != nil {
			hook(m)
		}

		if r.aborting {
			r.budget--
			if r.budget < 0 {
				return e.forceDown(r, "abort drain budget exhausted")
			}
		}

		switch m.Command() {
		case msg.CommandCheckpoint:
			// The replay buffer restarts here. Checkpoint and pause
			// instructions are never part of it.
			r.replay = r.replay[:0]
			r.checkpointed.Store(true)
			in = plan.Input{}
			if r.deferredPause && !r.aborting {
				r.deferredPause = false
				if ab := e.pauseUntilResumed(ctx, r); ab != nil {
					dispatchCtx, cancelDispatch = e.beginAbort(ctx, r, ab)
					in = plan.Input{Err: ab}
				}
			}
		case msg.CommandPause:
			// A plan-requested pause is honored the same way an
			// operator pause is.
			in = plan.Input{}
			if !r.aborting {
				if !r.checkpointed.Load() {
					r.warnings = append(r.warnings, ErrResumeNotSafe)
				}
				if ab := e.pauseUntilResumed(ctx, r); ab != nil {
					dispatchCtx, cancelDispatch = e.beginAbort(ctx, r, ab)
					in = plan.Input{Err: ab}
				}
			}
		default:
			r.replay = append(r.replay, m)
			v, err := e.dispatch(dispatchCtx, r, m, false)
			in = plan.Input{Value: v, Err: err}
		}
	}
}

// pauseUntilResumed parks the loop in StatePaused. It returns a non-nil
// AbortError when the pause ended with an abort instead of a resume.
// On resume, instructions recorded since the last checkpoint are
// re-dispatched; their results are discarded, since the plan already
// consumed them before the pause.
func (e *Engine) pauseUntilResumed(ctx context.Context, r *activeRun) *AbortError {
	e.setState(StatePaused)
	slog.Info("run paused", "replay_depth", len(r.replay))

	select {
	case <-r.resumeCh:
	case ab := <-r.abortCh:
		return ab
	case <-ctx.Done():
		return &AbortError{Reason: "context canceled: " + ctx.Err().Error()}
	}

	e.setState(StateRunning)
	slog.Info("run resuming", "replaying", len(r.replay))
	for _, m := range r.replay {
		if hook := e.hook(); hook != nil {
			hook(m)
		}
		if _, err := e.dispatch(ctx, r, m, true); err != nil {
			r.warnings = append(r.warnings, err)
			slog.Warn("replay dispatch failed", "command", string(m.Command()), "err", err)
		}
	}
	return nil
}

// beginAbort flips the run into the drain phase: subsequent dispatches
// run under the grace-period context and count against the drain budget.
// When the caller's context is already dead, cleanup handlers still get
// a live context for the grace period.
func (e *Engine) beginAbort(ctx context.Context, r *activeRun, ab *AbortError) (context.Context, context.CancelFunc) {
	r.aborting = true
	r.abortReason = ab.Reason
	e.setState(StateAborting)
	slog.Warn("run aborting", "reason", ab.Reason, "grace", e.grace, "budget", r.budget)
	return context.WithTimeout(context.WithoutCancel(ctx), e.grace)
}

// dispatch routes one instruction to its handler. A missing handler is a
// dispatch error: it is injected into the plan so cleanup can run, but
// the run can no longer succeed. Handler errors are recoverable; the
// plan decides whether to absorb them.
//
// On the replay path no error poisons the run: the plan already
// consumed the original outcome, so a replayed failure is the caller's
// warning, not a new fatality.
func (e *Engine) dispatch(ctx context.Context, r *activeRun, m msg.Msg, replaying bool) (any, error) {
	h, ok := e.registry.lookup(m.Command())
	if !ok {
		err := &UnknownCommandError{Command: m.Command()}
		if !replaying {
			r.fatalErr = err
		}
		return nil, err
	}
	v, err := h(ctx, m)
	if err != nil {
		var ord *document.OrderingError
		if errors.As(err, &ord) {
			// Document-stream ordering violations poison the run even
			// if the plan absorbs the injected error.
			if !replaying {
				r.fatalErr = err
			}
			return nil, err
		}
		if IsAbort(err) || errors.Is(err, ErrRunFatal) {
			if errors.Is(err, ErrRunFatal) && !replaying {
				r.fatalErr = err
			}
			return nil, err
		}
		return nil, &HandlerError{Command: m.Command(), Target: m.Target(), Err: err}
	}
	return v, nil
}

// emit stamps nothing itself (the bundler already has), delivers the
// documents in order, and folds subscriber errors into warnings, or into
// run failure when the engine is configured that way.
func (e *Engine) emit(r *activeRun, docs []document.Document) error {
	for _, doc := range docs {
		if doc.Type == document.TypeRunStart {
			r.runIDs = append(r.runIDs, doc.ID())
		}
		suberrs := e.dispatcher.deliver(doc)
		for _, se := range suberrs {
			if e.fatalSubErr {
				return errors.Join(ErrRunFatal, se)
			}
			r.warnings = append(r.warnings, se)
			slog.Warn("subscriber error", "token", se.Token, "doc", doc.ID(), "err", se.Err)
		}
	}
	return nil
}

// finish settles the terminal outcome, closes any still-open run with a
// matching run-stop, and builds the report.
func (e *Engine) finish(r *activeRun, value any, planErr error) (*RunResult, error) {
	outcome := OutcomeSucceeded
	var cause error
	switch {
	case r.aborting:
		outcome = OutcomeAborted
		cause = &AbortError{Reason: r.abortReason}
	case planErr != nil:
		if IsAbort(planErr) {
			outcome = OutcomeAborted
		} else {
			outcome = OutcomeFailed
		}
		cause = planErr
	case r.fatalErr != nil:
		// The plan absorbed a fatal dispatch error. Absorbing it does
		// not make the run succeed.
		outcome = OutcomeFailed
		cause = r.fatalErr
	}

	reason := ""
	if cause != nil {
		reason = cause.Error()
	}

	if _, open := r.bundler.Active(); open {
		doc, err := r.bundler.Close(exitStatusFor(outcome), reason)
		if err == nil {
			if emitErr := e.emit(r, []document.Document{doc}); emitErr != nil && outcome == OutcomeSucceeded {
				outcome = OutcomeFailed
				cause = emitErr
				reason = emitErr.Error()
			}
		} else {
			r.warnings = append(r.warnings, err)
		}
	}

	res := &RunResult{
		Outcome:  outcome,
		Reason:   reason,
		Err:      cause,
		Value:    value,
		RunIDs:   r.runIDs,
		Warnings: r.warnings,
	}
	if outcome == OutcomeSucceeded {
		return res, nil
	}
	return res, cause
}

// forceDown terminates a plan that did not finish draining within the
// abort bounds. The plan's generator is cancelled so its goroutine (if
// any) does not leak, then the run settles as aborted.
func (e *Engine) forceDown(r *activeRun, why string) (*RunResult, error) {
	slog.Warn("forcing run down", "reason", why)
	if c, ok := r.plan.(plan.Canceler); ok {
		c.Cancel()
	}
	r.abortReason = r.abortReason + "; " + why
	return e.finish(r, nil, nil)
}
