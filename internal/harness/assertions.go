package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danielballan/bluesky-talk/internal/document"
)

// evaluateAssertion checks one assertion against the document stream.
// Returns "" when the assertion holds, a failure message otherwise.
func evaluateAssertion(index int, a *Assertion, docs []document.Document) string {
	switch a.Type {
	case AssertDocCount:
		return assertDocCount(index, a, docs)
	case AssertDocOrder:
		return assertDocOrder(index, a, docs)
	case AssertSingleRun:
		return assertSingleRun(index, docs)
	case AssertDescriptorFields:
		return assertDescriptorFields(index, a, docs)
	default:
		return fmt.Sprintf("assertions[%d]: unknown type %q", index, a.Type)
	}
}

func assertDocCount(index int, a *Assertion, docs []document.Document) string {
	n := 0
	for _, d := range docs {
		if string(d.Type) == a.Doc {
			n++
		}
	}
	if n != a.Count {
		return fmt.Sprintf("assertions[%d]: expected %d %s documents, got %d",
			index, a.Count, a.Doc, n)
	}
	return ""
}

// assertDocOrder checks that the expected types appear as a subsequence
// of the stream. Other documents may be interleaved.
func assertDocOrder(index int, a *Assertion, docs []document.Document) string {
	next := 0
	for _, d := range docs {
		if next < len(a.Docs) && string(d.Type) == a.Docs[next] {
			next++
		}
	}
	if next != len(a.Docs) {
		return fmt.Sprintf("assertions[%d]: expected order %v not found (matched %d of %d, stream: %s)",
			index, a.Docs, next, len(a.Docs), typeList(docs))
	}
	return ""
}

func assertSingleRun(index int, docs []document.Document) string {
	runID := ""
	for _, d := range docs {
		if runID == "" {
			runID = d.RunID()
			continue
		}
		if d.RunID() != runID {
			return fmt.Sprintf("assertions[%d]: multiple run IDs in stream: %q and %q",
				index, runID, d.RunID())
		}
	}
	return ""
}

func assertDescriptorFields(index int, a *Assertion, docs []document.Document) string {
	want := append([]string(nil), a.Fields...)
	sort.Strings(want)
	var seen []string
	for _, d := range docs {
		if d.Type != document.TypeDescriptor {
			continue
		}
		if equalStrings(d.Descriptor.Fields, want) {
			return ""
		}
		seen = append(seen, fmt.Sprintf("%v", d.Descriptor.Fields))
	}
	return fmt.Sprintf("assertions[%d]: no descriptor with fields %v (saw %s)",
		index, want, strings.Join(seen, ", "))
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func typeList(docs []document.Document) string {
	types := make([]string, len(docs))
	for i, d := range docs {
		types[i] = string(d.Type)
	}
	return strings.Join(types, ",")
}

func containsSubstring(s, sub string) bool {
	return strings.Contains(s, sub)
}
