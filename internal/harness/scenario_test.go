package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: basic-scan
description: One run with a single reading group.
devices:
  - name: motor
    kind: motor
  - name: det
    kind: detector
    value: 42.0
plan: |
  plan: steps: [
    {command: "open_run"},
    {command: "read", target: "motor", args: ["det"]},
    {command: "close_run"},
  ]
expect:
  outcome: succeeded
assertions:
  - type: doc_count
    doc: event
    count: 1
  - type: single_run
`

func TestParseScenario_Valid(t *testing.T) {
	s, err := ParseScenario([]byte(validScenario))
	require.NoError(t, err)
	assert.Equal(t, "basic-scan", s.Name)
	require.Len(t, s.Devices, 2)
	assert.Equal(t, "motor", s.Devices[0].Kind)
	assert.Equal(t, 42.0, s.Devices[1].Value)
	assert.Equal(t, "succeeded", s.Expect.Outcome)
	require.Len(t, s.Assertions, 2)
	assert.Equal(t, AssertDocCount, s.Assertions[0].Type)
}

func TestParseScenario_Rejections(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{
			"unknown field",
			"name: x\ndescriptoin: typo\nplan: p\nexpect: {outcome: succeeded}",
			"failed to parse YAML",
		},
		{
			"missing name",
			"description: d\nplan: p\nexpect: {outcome: succeeded}",
			"name is required",
		},
		{
			"missing description",
			"name: x\nplan: p\nexpect: {outcome: succeeded}",
			"description is required",
		},
		{
			"missing plan",
			"name: x\ndescription: d\nexpect: {outcome: succeeded}",
			"plan is required",
		},
		{
			"missing outcome",
			"name: x\ndescription: d\nplan: p",
			"expect.outcome is required",
		},
		{
			"bad outcome",
			"name: x\ndescription: d\nplan: p\nexpect: {outcome: crashed}",
			"must be succeeded, failed, or aborted",
		},
		{
			"nameless device",
			"name: x\ndescription: d\nplan: p\nexpect: {outcome: succeeded}\ndevices: [{kind: motor}]",
			"name is required",
		},
		{
			"duplicate device",
			"name: x\ndescription: d\nplan: p\nexpect: {outcome: succeeded}\ndevices: [{name: m, kind: motor}, {name: m, kind: motor}]",
			"duplicate device name",
		},
		{
			"bad device kind",
			"name: x\ndescription: d\nplan: p\nexpect: {outcome: succeeded}\ndevices: [{name: m, kind: camera}]",
			"kind must be motor or detector",
		},
		{
			"assertion without type",
			"name: x\ndescription: d\nplan: p\nexpect: {outcome: succeeded}\nassertions: [{doc: event}]",
			"type is required",
		},
		{
			"doc_count without doc",
			"name: x\ndescription: d\nplan: p\nexpect: {outcome: succeeded}\nassertions: [{type: doc_count}]",
			"doc is required",
		},
		{
			"doc_order without docs",
			"name: x\ndescription: d\nplan: p\nexpect: {outcome: succeeded}\nassertions: [{type: doc_order}]",
			"docs list is required",
		},
		{
			"descriptor_fields without fields",
			"name: x\ndescription: d\nplan: p\nexpect: {outcome: succeeded}\nassertions: [{type: descriptor_fields}]",
			"fields list is required",
		},
		{
			"unknown assertion type",
			"name: x\ndescription: d\nplan: p\nexpect: {outcome: succeeded}\nassertions: [{type: sorted}]",
			"unknown assertion type",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tc.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "basic.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "basic-scan", s.Name)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}
