package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance test case: a device bench, a plan,
// and the expectations over the resulting document stream.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Devices declares the simulated bench the plan runs against.
	Devices []DeviceSpec `yaml:"devices,omitempty"`

	// Plan is the inline CUE plan source.
	Plan string `yaml:"plan"`

	// Expect specifies the required terminal outcome.
	Expect ExpectClause `yaml:"expect"`

	// Assertions validate the emitted document stream.
	// Supported types: doc_count, doc_order, single_run, descriptor_fields
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// DeviceSpec declares one simulated device.
type DeviceSpec struct {
	// Name registers the device under this target name.
	Name string `yaml:"name"`

	// Kind is "motor" or "detector".
	Kind string `yaml:"kind"`

	// TravelMS is the motor settle time in milliseconds. Zero settles on
	// the next tick, which keeps scenarios fast and deterministic.
	TravelMS int `yaml:"travel_ms,omitempty"`

	// Value is the fixed reading a detector reports.
	Value float64 `yaml:"value,omitempty"`
}

// ExpectClause specifies the required terminal outcome of the run.
type ExpectClause struct {
	// Outcome is "succeeded", "failed", or "aborted".
	Outcome string `yaml:"outcome"`

	// ReasonContains, when set, must be a substring of the terminal
	// reason. Only meaningful for failed and aborted outcomes.
	ReasonContains string `yaml:"reason_contains,omitempty"`
}

// Assertion validates the document stream.
type Assertion struct {
	// Type specifies the assertion type:
	// - "doc_count": document type appears exactly N times
	// - "doc_order": document types appear in this order (subsequence)
	// - "single_run": every document carries the same run ID
	// - "descriptor_fields": a descriptor with exactly these fields exists
	Type string `yaml:"type"`

	// Doc is the document type (used by doc_count).
	Doc string `yaml:"doc,omitempty"`

	// Count is the expected number of occurrences (used by doc_count).
	Count int `yaml:"count,omitempty"`

	// Docs is the expected type order (used by doc_order).
	Docs []string `yaml:"docs,omitempty"`

	// Fields is the expected sorted field list (used by descriptor_fields).
	Fields []string `yaml:"fields,omitempty"`
}

// Assertion type constants.
const (
	AssertDocCount         = "doc_count"
	AssertDocOrder         = "doc_order"
	AssertSingleRun        = "single_run"
	AssertDescriptorFields = "descriptor_fields"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML held in memory.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields (catches typos)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Plan == "" {
		return fmt.Errorf("plan is required")
	}

	switch s.Expect.Outcome {
	case "succeeded", "failed", "aborted":
	case "":
		return fmt.Errorf("expect.outcome is required")
	default:
		return fmt.Errorf("expect.outcome must be succeeded, failed, or aborted, got %q", s.Expect.Outcome)
	}

	seen := make(map[string]bool)
	for i, d := range s.Devices {
		if d.Name == "" {
			return fmt.Errorf("devices[%d]: name is required", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("devices[%d]: duplicate device name %q", i, d.Name)
		}
		seen[d.Name] = true
		switch d.Kind {
		case "motor", "detector":
		default:
			return fmt.Errorf("devices[%d]: kind must be motor or detector, got %q", i, d.Kind)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertDocCount:
		if a.Doc == "" {
			return fmt.Errorf("assertions[%d]: doc is required for doc_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for doc_count", index)
		}
	case AssertDocOrder:
		if len(a.Docs) == 0 {
			return fmt.Errorf("assertions[%d]: docs list is required for doc_order", index)
		}
	case AssertSingleRun:
	case AssertDescriptorFields:
		if len(a.Fields) == 0 {
			return fmt.Errorf("assertions[%d]: fields list is required for descriptor_fields", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
