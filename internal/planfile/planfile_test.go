package planfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielballan/bluesky-talk/internal/msg"
	"github.com/danielballan/bluesky-talk/internal/plan"
)

const scanPlan = `
plan: {
	metadata: {operator: "dallan", sample: "ni-foil"}
	steps: [
		{command: "open_run", kwargs: {purpose: "alignment"}},
		{command: "set", target: "motor", args: [3.0]},
		{command: "checkpoint"},
		{command: "read", target: "motor", args: ["det"]},
		{command: "close_run"},
	]
}
`

func TestCompileString_FullPlan(t *testing.T) {
	pf, err := CompileString(scanPlan)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"operator": "dallan", "sample": "ni-foil"}, pf.Metadata)
	require.Len(t, pf.Msgs, 5)

	open := pf.Msgs[0]
	assert.Equal(t, msg.CommandOpenRun, open.Command())
	purpose, ok := open.Kwarg("purpose")
	require.True(t, ok)
	assert.Equal(t, "alignment", purpose)

	set := pf.Msgs[1]
	assert.Equal(t, msg.CommandSet, set.Command())
	assert.Equal(t, "motor", set.Target())
	require.Equal(t, 1, set.NumArgs())
	assert.InDelta(t, 3.0, set.Arg(0), 1e-12)

	assert.Equal(t, msg.CommandCheckpoint, pf.Msgs[2].Command())
	read := pf.Msgs[3]
	assert.Equal(t, "motor", read.Target())
	assert.Equal(t, "det", read.Arg(0))
	assert.Equal(t, msg.CommandCloseRun, pf.Msgs[4].Command())
}

func TestCompileString_MetadataOptional(t *testing.T) {
	pf, err := CompileString(`plan: steps: [{command: "null"}]`)
	require.NoError(t, err)
	assert.Empty(t, pf.Metadata)
	require.Len(t, pf.Msgs, 1)
	assert.Equal(t, msg.CommandNull, pf.Msgs[0].Command())
}

func TestCompileString_CUEExpressionsEvaluate(t *testing.T) {
	// Constraints and arithmetic are evaluated before instructions leave
	// the compiler.
	pf, err := CompileString(`
center: 5.0
plan: steps: [
	{command: "set", target: "motor", args: [center - 1.0]},
	{command: "set", target: "motor", args: [center + 1.0]},
]
`)
	require.NoError(t, err)
	require.Len(t, pf.Msgs, 2)
	assert.InDelta(t, 4.0, pf.Msgs[0].Arg(0), 1e-12)
	assert.InDelta(t, 6.0, pf.Msgs[1].Arg(0), 1e-12)
}

func TestCompileString_Errors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"missing plan struct", `other: 1`, "plan struct is required"},
		{"missing steps", `plan: {metadata: {}}`, "steps list is required"},
		{"empty steps", `plan: steps: []`, "at least one step is required"},
		{"missing command", `plan: steps: [{target: "motor"}]`, "command is required"},
		{"empty command", `plan: steps: [{command: ""}]`, "command must be non-empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CompileString(tc.src)
			require.Error(t, err)
			var cerr *CompileError
			require.ErrorAs(t, err, &cerr)
			assert.Contains(t, cerr.Error(), tc.want)
		})
	}
}

func TestCompileString_MalformedSource(t *testing.T) {
	_, err := CompileString(`plan: steps: [{command:`)
	require.Error(t, err)
}

func TestCompileFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.cue")
	require.NoError(t, os.WriteFile(path, []byte(scanPlan), 0o644))

	pf, err := CompileFile(path)
	require.NoError(t, err)
	assert.Len(t, pf.Msgs, 5)

	_, err = CompileFile(filepath.Join(t.TempDir(), "absent.cue"))
	assert.Error(t, err)
}

func TestPlanFile_Plan(t *testing.T) {
	pf, err := CompileString(`plan: steps: [{command: "null"}, {command: "sleep", args: ["1ms"]}]`)
	require.NoError(t, err)

	p := pf.Plan()
	st := p.Next(plan.Input{})
	require.False(t, st.Done)
	assert.Equal(t, msg.CommandNull, st.Msg.Command())
	st = p.Next(plan.Input{})
	assert.Equal(t, msg.CommandSleep, st.Msg.Command())
	st = p.Next(plan.Input{})
	assert.True(t, st.Done)
	assert.NoError(t, st.Err)
}
