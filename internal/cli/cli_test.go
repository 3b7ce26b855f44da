package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielballan/bluesky-talk/internal/engine"
	"github.com/danielballan/bluesky-talk/internal/msg"
	"github.com/danielballan/bluesky-talk/internal/plan"
	"github.com/danielballan/bluesky-talk/internal/store"
)

const scanPlanCUE = `
plan: {
	metadata: {operator: "dallan"}
	steps: [
		{command: "open_run", kwargs: {purpose: "scan"}},
		{command: "set", target: "motor", args: [1.0]},
		{command: "read", target: "motor", args: ["det"]},
		{command: "close_run"},
	]
}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestRoot_RejectsUnknownFormat(t *testing.T) {
	path := writeFile(t, "scan.cue", scanPlanCUE)
	_, _, err := execute(t, "validate", path, "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestValidate_Text(t *testing.T) {
	path := writeFile(t, "scan.cue", scanPlanCUE)
	stdout, _, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "4 steps")
	assert.Contains(t, stdout, "set motor 1")
	assert.Contains(t, stdout, "close_run")
}

func TestValidate_JSON(t *testing.T) {
	path := writeFile(t, "scan.cue", scanPlanCUE)
	stdout, _, err := execute(t, "validate", path, "--format", "json")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(4), data["steps"])
}

func TestValidate_CompileError(t *testing.T) {
	path := writeFile(t, "broken.cue", `plan: steps: [{target: "motor"}]`)
	stdout, _, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, "E201")
}

func TestRun_EndToEndWithArchive(t *testing.T) {
	plan := writeFile(t, "scan.cue", scanPlanCUE)
	db := filepath.Join(t.TempDir(), "runs.db")

	stdout, _, err := execute(t, "run", plan,
		"--db", db, "--motor", "motor:0", "--detector", "det=42")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Run succeeded")

	// The archive now holds the full document stream of that run.
	st, err := store.Open(db)
	require.NoError(t, err)
	runs, err := st.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	runID := runs[0].ID
	require.NoError(t, st.Close())

	stdout, _, err = execute(t, "runs", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, stdout, runID)
	assert.Contains(t, stdout, "success")

	stdout, _, err = execute(t, "replay", runID, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, stdout, "run_start")
	assert.Contains(t, stdout, "run_stop")
	assert.Contains(t, stdout, "exit=success")
}

func TestRun_FailedRunExitCode(t *testing.T) {
	plan := writeFile(t, "bad.cue", `plan: steps: [{command: "set", target: "ghost", args: [1.0]}]`)
	stdout, _, err := execute(t, "run", plan)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "E301")
}

func TestRun_BadDeviceFlag(t *testing.T) {
	plan := writeFile(t, "scan.cue", scanPlanCUE)
	_, _, err := execute(t, "run", plan, "--detector", "det")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(t, "run", plan, "--motor", "motor:fast")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRuns_EmptyArchive(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	st, err := store.Open(db)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	stdout, _, err := execute(t, "runs", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, stdout, "No runs archived")
}

func TestReplay_UnknownRun(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	st, err := store.Open(db)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, _, err = execute(t, "replay", "nope", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

const passingScenarioYAML = `
name: cli-scan
description: CLI harness smoke test.
devices:
  - name: det
    kind: detector
    value: 1.0
plan: |
  plan: steps: [
    {command: "open_run"},
    {command: "read", target: "det"},
    {command: "close_run"},
  ]
expect:
  outcome: succeeded
`

func TestTest_PassingScenario(t *testing.T) {
	path := writeFile(t, "scan.yaml", passingScenarioYAML)
	stdout, _, err := execute(t, "test", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "PASS  cli-scan")
	assert.Contains(t, stdout, "0 failed")
}

func TestTest_FailingScenarioExitCode(t *testing.T) {
	path := writeFile(t, "fail.yaml", `
name: cli-fail
description: Expectation that cannot hold.
plan: |
  plan: steps: [{command: "set", target: "ghost", args: [1.0]}]
expect:
  outcome: succeeded
`)
	stdout, _, err := execute(t, "test", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "FAIL  cli-fail")
}

func TestTest_MissingScenarioFile(t *testing.T) {
	_, _, err := execute(t, "test", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPauseRun_CaveatStillPauses(t *testing.T) {
	eng := engine.New()
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	require.NoError(t, eng.Register("gate", func(ctx context.Context, m msg.Msg) (any, error) {
		entered <- struct{}{}
		<-release
		return nil, nil
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = eng.Run(context.Background(), plan.FromMsgs(msg.New("gate", "")))
	}()
	<-entered

	// No checkpoint has been recorded: the pause carries the
	// resume-safety caveat but is still accepted, so the operator is
	// told the run is pausing.
	var errW bytes.Buffer
	pauseRun(eng, &errW)
	assert.Contains(t, errW.String(), "Run pausing")

	close(release)
	deadline := time.Now().Add(5 * time.Second)
	for eng.State() != engine.StatePaused {
		if time.Now().After(deadline) {
			t.Fatal("run never paused")
		}
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, eng.Resume())
	<-done
}

func TestPauseRun_RejectedWhileIdle(t *testing.T) {
	eng := engine.New()
	var errW bytes.Buffer
	pauseRun(eng, &errW)
	assert.Empty(t, errW.String(), "a rejected pause must not look like a pausing run")
}

func TestExitError(t *testing.T) {
	base := errors.New("underlying")
	wrapped := WrapExitError(ExitCommandError, "context", base)
	assert.Equal(t, "context: underlying", wrapped.Error())
	assert.ErrorIs(t, wrapped, base)
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))

	plain := NewExitError(ExitFailure, "boom")
	assert.Equal(t, "boom", plain.Error())
	assert.Equal(t, ExitFailure, GetExitCode(plain))

	assert.Equal(t, ExitFailure, GetExitCode(errors.New("untyped")))
}

func TestOutputFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}
	require.NoError(t, f.Error("E101", "bad thing", map[string]any{"hint": "check input"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E101", resp.Error.Code)

	buf.Reset()
	f = &OutputFormatter{Format: "text", Writer: &buf, Verbose: true}
	require.NoError(t, f.Error("E101", "bad thing", "details here"))
	assert.Contains(t, buf.String(), "Error [E101]: bad thing")
	assert.Contains(t, buf.String(), "details here")

	buf.Reset()
	f.VerboseLog("ran %d scenarios", 3)
	assert.Contains(t, buf.String(), "ran 3 scenarios")
}
