package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/danielballan/bluesky-talk/internal/document"
	"github.com/danielballan/bluesky-talk/internal/msg"
)

// TraceSnapshot captures the complete document stream for a scenario.
// Serialization is canonical so golden comparison is byte-exact.
type TraceSnapshot struct {
	ScenarioName string
	Outcome      string
	Docs         []document.Document
}

// toCanonicalTree lowers the snapshot to a generic tree so canonical
// serialization can fix key order and number formatting.
func (s *TraceSnapshot) toCanonicalTree() (map[string]any, error) {
	docList := make([]any, len(s.Docs))
	for i, doc := range s.Docs {
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		var tree map[string]any
		if err := json.Unmarshal(raw, &tree); err != nil {
			return nil, err
		}
		docList[i] = tree
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"outcome":       s.Outcome,
		"documents":     docList,
	}, nil
}

// RunWithGolden executes a scenario and compares its document trace
// against a golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Golden files serve as the source of truth for the expected document
// stream of each scenario. Test failure (via goldie) occurs if the trace
// doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	snapshot := TraceSnapshot{
		ScenarioName: scenario.Name,
		Outcome:      string(result.Outcome),
		Docs:         result.Docs,
	}
	tree, err := snapshot.toCanonicalTree()
	if err != nil {
		return nil, err
	}
	traceJSON, err := msg.MarshalCanonical(tree)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)

	return result, nil
}
