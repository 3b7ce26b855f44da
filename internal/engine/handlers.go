package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/danielballan/bluesky-talk/internal/device"
	"github.com/danielballan/bluesky-talk/internal/document"
	"github.com/danielballan/bluesky-talk/internal/msg"
)

// registerBuiltins installs the core command vocabulary. Checkpoint and
// pause never reach the registry; the loop consumes them at the control
// boundary.
func (e *Engine) registerBuiltins() {
	e.registry.register(msg.CommandSet, e.handleSet)
	e.registry.register(msg.CommandRead, e.handleRead)
	e.registry.register(msg.CommandSleep, e.handleSleep)
	e.registry.register(msg.CommandWait, e.handleWait)
	e.registry.register(msg.CommandOpenRun, e.handleOpenRun)
	e.registry.register(msg.CommandCloseRun, e.handleCloseRun)
	e.registry.register(msg.CommandStage, e.handleStage)
	e.registry.register(msg.CommandUnstage, e.handleUnstage)
	e.registry.register(msg.CommandStop, e.handleStop)
	e.registry.register(msg.CommandNull, func(ctx context.Context, m msg.Msg) (any, error) {
		return nil, nil
	})
}

// currentRun returns the run the loop is driving. Builtin handlers run
// only on the loop goroutine, so loop-owned fields are safe to touch.
func (e *Engine) currentRun() *activeRun {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run
}

func (e *Engine) resolveMovable(name string) (device.Movable, error) {
	d, ok := e.lookupDevice(name)
	if !ok {
		return nil, fmt.Errorf("no device registered as %q", name)
	}
	mv, ok := d.(device.Movable)
	if !ok {
		return nil, fmt.Errorf("device %q is not movable", name)
	}
	return mv, nil
}

// handleSet drives a movable device toward the first positional
// argument. Without a "group" kwarg it blocks until the motion settles.
// With one, it returns immediately and parks the motion's status under
// the group name for a later wait.
func (e *Engine) handleSet(ctx context.Context, m msg.Msg) (any, error) {
	mv, err := e.resolveMovable(m.Target())
	if err != nil {
		return nil, err
	}
	if m.NumArgs() < 1 {
		return nil, fmt.Errorf("set %s: missing target value", m.Target())
	}

	status, err := mv.Set(ctx, m.Arg(0))
	if err != nil {
		return nil, err
	}

	if g, ok := m.Kwarg("group"); ok {
		group, ok := g.(string)
		if !ok {
			return nil, fmt.Errorf("set %s: group kwarg must be a string, got %T", m.Target(), g)
		}
		r := e.currentRun()
		r.groups[group] = append(r.groups[group], groupedMotion{target: m.Target(), status: status})
		return nil, nil
	}

	return nil, e.awaitStatus(ctx, mv, m.Target(), status)
}

// awaitStatus blocks on one motion. On ctx cancellation the device is
// told to stop first, so an aborted run does not leave hardware moving.
func (e *Engine) awaitStatus(ctx context.Context, dev any, target string, status device.Status) error {
	select {
	case <-status.Done():
		return status.Err()
	case <-ctx.Done():
		if st, ok := dev.(device.Stoppable); ok {
			if err := st.Stop(context.WithoutCancel(ctx)); err != nil {
				return fmt.Errorf("stopping %s: %w", target, err)
			}
			<-status.Done()
			return fmt.Errorf("motion on %s interrupted: %w", target, ctx.Err())
		}
		return ctx.Err()
	}
}

// handleWait blocks until every motion parked under the named group has
// settled, then forgets the group. The first motion failure is reported;
// the rest are still awaited so nothing is left in flight.
func (e *Engine) handleWait(ctx context.Context, m msg.Msg) (any, error) {
	g, ok := m.Kwarg("group")
	if !ok {
		if m.NumArgs() > 0 {
			g = m.Arg(0)
		} else {
			return nil, fmt.Errorf("wait: missing group")
		}
	}
	group, ok := g.(string)
	if !ok {
		return nil, fmt.Errorf("wait: group must be a string, got %T", g)
	}

	r := e.currentRun()
	motions := r.groups[group]
	delete(r.groups, group)

	var firstErr error
	for _, gm := range motions {
		dev, _ := e.lookupDevice(gm.target)
		err := e.awaitStatus(ctx, dev, gm.target, gm.status)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("group %q: %w", group, err)
		}
	}
	return nil, firstErr
}

// handleRead reads every target device as one simultaneous reading
// group. Inside an open run the group becomes one event document (plus a
// descriptor on first sight of this field set); outside a run the
// readings are returned to the plan without emitting anything.
func (e *Engine) handleRead(ctx context.Context, m msg.Msg) (any, error) {
	names := make([]string, 0, 1+m.NumArgs())
	if m.Target() != "" {
		names = append(names, m.Target())
	}
	for i := 0; i < m.NumArgs(); i++ {
		n, ok := m.Arg(i).(string)
		if !ok {
			return nil, fmt.Errorf("read: extra targets must be device names, got %T", m.Arg(i))
		}
		names = append(names, n)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("read: no targets")
	}
	sort.Strings(names)

	readings := make(map[string]document.Reading, len(names))
	for _, name := range names {
		d, ok := e.lookupDevice(name)
		if !ok {
			return nil, fmt.Errorf("no device registered as %q", name)
		}
		rd, ok := d.(device.Readable)
		if !ok {
			return nil, fmt.Errorf("device %q is not readable", name)
		}
		reading, err := rd.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		readings[name] = reading
	}

	r := e.currentRun()
	if _, open := r.bundler.Active(); open {
		docs, err := r.bundler.Commit(readings)
		if err != nil {
			return nil, err
		}
		if err := e.emit(r, docs); err != nil {
			return nil, err
		}
	}
	return readings, nil
}

// handleSleep suspends the run for the duration in the first positional
// argument (time.Duration, float64 seconds, or a parseable string).
func (e *Engine) handleSleep(ctx context.Context, m msg.Msg) (any, error) {
	d, err := durationArg(m.Arg(0))
	if err != nil {
		return nil, fmt.Errorf("sleep: %w", err)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func durationArg(v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case string:
		return time.ParseDuration(d)
	default:
		return 0, fmt.Errorf("unsupported duration %v (%T)", v, v)
	}
}

// handleOpenRun opens the document stream. Kwargs become run metadata,
// layered over the engine's default metadata. The run-start document is
// emitted before the handler returns, so subscribers see it ahead of any
// reading taken inside the run.
func (e *Engine) handleOpenRun(ctx context.Context, m msg.Msg) (any, error) {
	r := e.currentRun()
	doc, err := r.bundler.Open(m.Kwargs())
	if err != nil {
		return nil, err
	}
	if err := e.emit(r, []document.Document{doc}); err != nil {
		return nil, err
	}
	return doc.ID(), nil
}

// handleCloseRun closes the open run with a successful run-stop. Runs
// left open by a failing or aborting plan are closed by the engine at
// finalization with the matching exit status instead.
func (e *Engine) handleCloseRun(ctx context.Context, m msg.Msg) (any, error) {
	r := e.currentRun()
	doc, err := r.bundler.Close(document.ExitSuccess, "")
	if err != nil {
		return nil, err
	}
	if err := e.emit(r, []document.Document{doc}); err != nil {
		return nil, err
	}
	return doc.ID(), nil
}

func (e *Engine) handleStage(ctx context.Context, m msg.Msg) (any, error) {
	d, ok := e.lookupDevice(m.Target())
	if !ok {
		return nil, fmt.Errorf("no device registered as %q", m.Target())
	}
	st, ok := d.(device.Stageable)
	if !ok {
		// Staging a device with no staging behavior is a no-op, so
		// generic plans can stage everything they touch.
		return nil, nil
	}
	return nil, st.Stage(ctx)
}

func (e *Engine) handleUnstage(ctx context.Context, m msg.Msg) (any, error) {
	d, ok := e.lookupDevice(m.Target())
	if !ok {
		return nil, fmt.Errorf("no device registered as %q", m.Target())
	}
	st, ok := d.(device.Stageable)
	if !ok {
		return nil, nil
	}
	return nil, st.Unstage(ctx)
}

func (e *Engine) handleStop(ctx context.Context, m msg.Msg) (any, error) {
	d, ok := e.lookupDevice(m.Target())
	if !ok {
		return nil, fmt.Errorf("no device registered as %q", m.Target())
	}
	st, ok := d.(device.Stoppable)
	if !ok {
		return nil, fmt.Errorf("device %q is not stoppable", m.Target())
	}
	return nil, st.Stop(ctx)
}
