package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielballan/bluesky-talk/internal/device"
	"github.com/danielballan/bluesky-talk/internal/document"
	"github.com/danielballan/bluesky-talk/internal/msg"
	"github.com/danielballan/bluesky-talk/internal/plan"
	"github.com/danielballan/bluesky-talk/internal/testutil"
)

func newTestEngine(opts ...Option) *Engine {
	base := []Option{
		WithIDGenerator(testutil.NewSequentialIDGenerator("doc")),
		WithNow(testutil.FixedNow(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)),
	}
	return New(append(base, opts...)...)
}

func newBench(t *testing.T, eng *Engine) {
	t.Helper()
	motor := device.NewMotor("motor", 0)
	det := device.NewDetector("det", func() any { return 42.0 })
	require.NoError(t, eng.RegisterDevice(motor))
	require.NoError(t, eng.RegisterDevice(det))
}

// collector records the delivered document stream.
type collector struct {
	docs []document.Document
}

func (c *collector) sub(doc document.Document) error {
	c.docs = append(c.docs, doc)
	return nil
}

func (c *collector) types() []document.Type {
	out := make([]document.Type, len(c.docs))
	for i, d := range c.docs {
		out[i] = d.Type
	}
	return out
}

func (c *collector) count(typ document.Type) int {
	n := 0
	for _, d := range c.docs {
		if d.Type == typ {
			n++
		}
	}
	return n
}

func readBoth() msg.Msg {
	return msg.New(msg.CommandRead, "motor", "det")
}

func TestRun_SuccessEmitsDocumentStream(t *testing.T) {
	eng := newTestEngine()
	newBench(t, eng)

	msgs := []msg.Msg{msg.OpenRun(map[string]any{"purpose": "scan"})}
	for i := 0; i < 5; i++ {
		msgs = append(msgs, msg.Set("motor", float64(i)), readBoth())
	}
	msgs = append(msgs, msg.CloseRun())

	c := &collector{}
	res, err := eng.Run(context.Background(), plan.FromMsgs(msgs...), c.sub)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, StateIdle, eng.State())

	// One run-start, one descriptor (constant field set), five events,
	// one run-stop.
	assert.Equal(t, 1, c.count(document.TypeRunStart))
	assert.Equal(t, 1, c.count(document.TypeDescriptor))
	assert.Equal(t, 5, c.count(document.TypeEvent))
	assert.Equal(t, 1, c.count(document.TypeRunStop))

	// All documents share one run ID, which the result reports.
	require.Len(t, res.RunIDs, 1)
	for _, d := range c.docs {
		assert.Equal(t, res.RunIDs[0], d.RunID())
	}

	// The stream is ordered by the logical clock.
	for i := 1; i < len(c.docs); i++ {
		assert.Greater(t, c.docs[i].Seq(), c.docs[i-1].Seq())
	}

	stop := c.docs[len(c.docs)-1]
	require.Equal(t, document.TypeRunStop, stop.Type)
	assert.Equal(t, document.ExitSuccess, stop.RunStop.ExitStatus)
	assert.Equal(t, int64(5), stop.RunStop.NumEvents)
}

func TestRun_EventNumbersAndDescriptorReuse(t *testing.T) {
	eng := newTestEngine()
	newBench(t, eng)

	c := &collector{}
	_, err := eng.Run(context.Background(), plan.FromMsgs(
		msg.OpenRun(nil),
		readBoth(),
		msg.Read("motor"), // changed field set: new descriptor
		readBoth(),        // back to the first: reuse
		msg.CloseRun(),
	), c.sub)
	require.NoError(t, err)

	assert.Equal(t, 2, c.count(document.TypeDescriptor))
	var events []*document.Event
	for _, d := range c.docs {
		if d.Type == document.TypeEvent {
			events = append(events, d.Event)
		}
	}
	require.Len(t, events, 3)
	assert.Equal(t, int64(1), events[0].EventNum)
	assert.Equal(t, int64(1), events[1].EventNum, "event numbering restarts per descriptor")
	assert.Equal(t, int64(2), events[2].EventNum)
	assert.Equal(t, events[0].DescriptorID, events[2].DescriptorID)
	assert.NotEqual(t, events[0].DescriptorID, events[1].DescriptorID)
}

func TestRun_ControlSurfaceRejectedWhileIdle(t *testing.T) {
	eng := newTestEngine()

	var ise *InvalidStateError
	require.ErrorAs(t, eng.Pause(PauseImmediate), &ise)
	assert.Equal(t, StateIdle, ise.State)
	assert.ErrorAs(t, eng.Resume(), &ise)
	assert.ErrorAs(t, eng.Abort("nope"), &ise)
}

func TestRun_SecondRunRejectedWhileRunning(t *testing.T) {
	eng := newTestEngine()
	var nested error
	require.NoError(t, eng.Register("probe", func(ctx context.Context, m msg.Msg) (any, error) {
		_, nested = eng.Run(ctx, plan.FromMsgs(msg.Null()))
		return nil, nil
	}))

	_, err := eng.Run(context.Background(), plan.FromMsgs(msg.New("probe", "")))
	require.NoError(t, err)

	var ise *InvalidStateError
	require.ErrorAs(t, nested, &ise)
	assert.Equal(t, StateRunning, ise.State)
}

func TestRun_HandlerErrorUncaughtFailsRun(t *testing.T) {
	eng := newTestEngine()

	res, err := eng.Run(context.Background(), plan.FromMsgs(msg.Set("ghost", 1.0)))
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, msg.CommandSet, herr.Command)
	assert.Equal(t, "ghost", herr.Target)
	assert.Equal(t, StateIdle, eng.State())
}

func TestRun_HandlerErrorRecoveredByPlan(t *testing.T) {
	eng := newTestEngine()

	p := plan.Func(func(y *plan.Yielder) (any, error) {
		_, err := y.Emit(msg.Set("ghost", 1.0))
		var herr *HandlerError
		if !errors.As(err, &herr) {
			return nil, err
		}
		return "recovered", nil
	})

	res, err := eng.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, "recovered", res.Value)
}

func TestRun_UnknownCommandIsFatalEvenIfAbsorbed(t *testing.T) {
	eng := newTestEngine()

	p := plan.Func(func(y *plan.Yielder) (any, error) {
		_, _ = y.Emit(msg.New("frobnicate", ""))
		// Absorbing a dispatch error must not turn the run green.
		return nil, nil
	})

	res, err := eng.Run(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	var uerr *UnknownCommandError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, msg.Command("frobnicate"), uerr.Command)
}

func TestRun_FailureClosesOpenRunWithFail(t *testing.T) {
	eng := newTestEngine()
	newBench(t, eng)

	c := &collector{}
	res, err := eng.Run(context.Background(), plan.FromMsgs(
		msg.OpenRun(nil),
		readBoth(),
		msg.Set("ghost", 1.0), // fails; the run is still open
		msg.CloseRun(),        // never reached
	), c.sub)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	require.Equal(t, 1, c.count(document.TypeRunStop), "exactly one run-stop")
	stop := c.docs[len(c.docs)-1]
	assert.Equal(t, document.ExitFail, stop.RunStop.ExitStatus)
	assert.NotEmpty(t, stop.RunStop.Reason)
	assert.Equal(t, int64(1), stop.RunStop.NumEvents)
}

func TestRun_RegistryFrozenWhileRunning(t *testing.T) {
	eng := newTestEngine()

	var regErr, devErr, unregErr error
	require.NoError(t, eng.Register("probe", func(ctx context.Context, m msg.Msg) (any, error) {
		regErr = eng.Register("other", func(ctx context.Context, m msg.Msg) (any, error) { return nil, nil })
		unregErr = eng.Unregister("probe")
		devErr = eng.RegisterDevice(device.NewMotor("late", 0))
		return nil, nil
	}))

	_, err := eng.Run(context.Background(), plan.FromMsgs(msg.New("probe", "")))
	require.NoError(t, err)

	var ise *InvalidStateError
	assert.ErrorAs(t, regErr, &ise)
	assert.ErrorAs(t, unregErr, &ise)
	assert.ErrorAs(t, devErr, &ise)

	// Idle again: mutation is allowed.
	assert.NoError(t, eng.Unregister("probe"))
	assert.NoError(t, eng.RegisterDevice(device.NewMotor("late", 0)))
}

func TestRun_SubscriberErrorIsWarningByDefault(t *testing.T) {
	eng := newTestEngine()
	newBench(t, eng)

	boom := errors.New("sink full")
	good := &collector{}
	res, err := eng.Run(context.Background(), plan.FromMsgs(
		msg.OpenRun(nil), readBoth(), msg.CloseRun(),
	),
		func(document.Document) error { return boom },
		good.sub,
	)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)

	// The raising subscriber never disturbed the healthy one.
	assert.Equal(t, []document.Type{
		document.TypeRunStart, document.TypeDescriptor,
		document.TypeEvent, document.TypeRunStop,
	}, good.types())

	// The raising subscriber was still offered every document: one
	// warning per document in the stream.
	require.Len(t, res.Warnings, 4)
	var serr *SubscriberError
	require.ErrorAs(t, res.Warnings[0], &serr)
	assert.ErrorIs(t, serr, boom)
}

func TestRun_SubscriberPanicIsIsolated(t *testing.T) {
	eng := newTestEngine()
	newBench(t, eng)

	good := &collector{}
	res, err := eng.Run(context.Background(), plan.FromMsgs(
		msg.OpenRun(nil), msg.CloseRun(),
	),
		func(document.Document) error { panic("subscriber bug") },
		good.sub,
	)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Len(t, good.docs, 2)
	assert.NotEmpty(t, res.Warnings)
}

func TestRun_FatalSubscriberErrorsFailTheRun(t *testing.T) {
	eng := newTestEngine(WithFatalSubscriberErrors())
	newBench(t, eng)

	res, err := eng.Run(context.Background(), plan.FromMsgs(
		msg.OpenRun(nil), readBoth(), msg.CloseRun(),
	),
		func(document.Document) error { return errors.New("archive down") },
	)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, err, ErrRunFatal)
}

func TestRun_MsgHookObservesDispatches(t *testing.T) {
	eng := newTestEngine()
	newBench(t, eng)

	var seen []msg.Command
	eng.SetMsgHook(func(m msg.Msg) { seen = append(seen, m.Command()) })

	_, err := eng.Run(context.Background(), plan.FromMsgs(
		msg.Set("motor", 1.0), msg.Checkpoint(), msg.Read("det"),
	))
	require.NoError(t, err)
	assert.Equal(t, []msg.Command{msg.CommandSet, msg.CommandCheckpoint, msg.CommandRead}, seen)

	eng.SetMsgHook(nil)
	_, err = eng.Run(context.Background(), plan.FromMsgs(msg.Null()))
	require.NoError(t, err)
	assert.Len(t, seen, 3, "cleared hook sees nothing")
}

func TestRun_PerRunSubscribersAreRemoved(t *testing.T) {
	eng := newTestEngine()
	newBench(t, eng)

	c := &collector{}
	_, err := eng.Run(context.Background(), plan.FromMsgs(msg.OpenRun(nil), msg.CloseRun()), c.sub)
	require.NoError(t, err)
	first := len(c.docs)

	_, err = eng.Run(context.Background(), plan.FromMsgs(msg.OpenRun(nil), msg.CloseRun()))
	require.NoError(t, err)
	assert.Len(t, c.docs, first, "per-run subscriber must not outlive its run")
}

func TestRun_PersistentSubscriberSpansRuns(t *testing.T) {
	eng := newTestEngine()
	newBench(t, eng)

	c := &collector{}
	token := eng.Subscribe(c.sub)

	_, err := eng.Run(context.Background(), plan.FromMsgs(msg.OpenRun(nil), msg.CloseRun()))
	require.NoError(t, err)
	_, err = eng.Run(context.Background(), plan.FromMsgs(msg.OpenRun(nil), msg.CloseRun()))
	require.NoError(t, err)
	assert.Len(t, c.docs, 4)

	assert.True(t, eng.Unsubscribe(token))
	assert.False(t, eng.Unsubscribe(token))
}

func TestExitStatusFor(t *testing.T) {
	assert.Equal(t, document.ExitSuccess, exitStatusFor(OutcomeSucceeded))
	assert.Equal(t, document.ExitAbort, exitStatusFor(OutcomeAborted))
	assert.Equal(t, document.ExitFail, exitStatusFor(OutcomeFailed))
}
