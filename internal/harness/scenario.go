package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/slicestore/internal/counter"
)

// Scenario defines a dispatch scenario: steps run against a fresh counter
// store, then assertions check the recorded trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// FlowToken is the token every top-level dispatch gets.
	// If empty, "test-flow-default" is used.
	FlowToken string `yaml:"flow_token,omitempty"`

	// PreloadedState seeds slices before the first step.
	PreloadedState map[string]any `yaml:"preloaded_state,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario step. Exactly one of Dispatch, Thunk and Advance is
// set.
type Step struct {
	// Dispatch is an action type to dispatch, with optional Payload.
	Dispatch string `yaml:"dispatch,omitempty"`
	Payload  any    `yaml:"payload,omitempty"`

	// Thunk names a thunk to dispatch. Only counter/incrementAsync exists;
	// Amount is its argument.
	Thunk  string   `yaml:"thunk,omitempty"`
	Amount *float64 `yaml:"amount,omitempty"`

	// Advance moves virtual time forward by a Go duration ("1s", "250ms"),
	// running every task that comes due on the way.
	Advance string `yaml:"advance,omitempty"`

	// Expect maps dotted state paths ("counter.value") to expected values,
	// checked after the step.
	Expect map[string]any `yaml:"expect,omitempty"`

	// ExpectError requires the step to fail with an error containing it.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Action is the action type (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Payload is the expected payload (trace_contains). Omitted matches any.
	Payload any `yaml:"payload,omitempty"`

	// Actions is the expected order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Slice names the slice to inspect (final_state).
	Slice string `yaml:"slice,omitempty"`

	// Expect maps dotted paths within the slice to expected values
	// (final_state). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// DefaultFlowToken is the flow token of scenarios that do not set one.
const DefaultFlowToken = "test-flow-default"

// incrementAsyncThunk is the thunk name a step may use.
var incrementAsyncThunk = string(counter.Slice.Type(counter.OpIncrementAsync))

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

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
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
	if strings.ContainsAny(s.Name, `/\`) {
		return fmt.Errorf("name %q must not contain path separators", s.Name)
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks that a step has exactly one kind and valid arguments.
func validateStep(index int, st *Step) error {
	kinds := 0
	for _, set := range []bool{st.Dispatch != "", st.Thunk != "", st.Advance != ""} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		return fmt.Errorf("steps[%d]: exactly one of dispatch, thunk, advance is required", index)
	}

	switch {
	case st.Dispatch != "":
		if st.Amount != nil {
			return fmt.Errorf("steps[%d]: amount is only valid with thunk", index)
		}
	case st.Thunk != "":
		if st.Thunk != incrementAsyncThunk {
			return fmt.Errorf("steps[%d]: unknown thunk %q", index, st.Thunk)
		}
		if st.Amount == nil {
			return fmt.Errorf("steps[%d]: amount is required for thunk %s", index, st.Thunk)
		}
		if st.Payload != nil {
			return fmt.Errorf("steps[%d]: payload is only valid with dispatch", index)
		}
	case st.Advance != "":
		d, err := time.ParseDuration(st.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
		if d < 0 {
			return fmt.Errorf("steps[%d]: advance must not be negative", index)
		}
		if st.Payload != nil || st.Amount != nil {
			return fmt.Errorf("steps[%d]: advance takes no payload or amount", index)
		}
	}

	for path := range st.Expect {
		if path == "" || strings.HasPrefix(path, ".") || strings.HasSuffix(path, ".") {
			return fmt.Errorf("steps[%d].expect: invalid path %q", index, path)
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
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Slice == "" {
			return fmt.Errorf("assertions[%d]: slice is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
