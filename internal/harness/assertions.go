package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/slicestore/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, formatEvent(event))
		}
	}

	return buf.String()
}

// formatEvent renders an event as "type payload".
func formatEvent(event TraceEvent) string {
	if event.Payload == nil {
		return string(event.Type)
	}
	payload, err := ir.MarshalCanonical(event.Payload)
	if err != nil {
		return fmt.Sprintf("%s %v", event.Type, event.Payload)
	}
	return fmt.Sprintf("%s %s", event.Type, payload)
}

// assertTraceContains checks if the trace contains an action of the
// specified type and, when given, payload.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	var want ir.Value
	if assertion.Payload != nil {
		v, err := ir.FromGo(assertion.Payload)
		if err != nil {
			return fmt.Errorf("trace_contains: payload: %w", err)
		}
		want = v
	}

	for _, event := range trace {
		if string(event.Type) != assertion.Action {
			continue
		}
		if want == nil || valuesEqual(event.Payload, want) {
			return nil
		}
	}

	expected := "action " + assertion.Action
	if want != nil {
		expected += fmt.Sprintf(" with payload %v", assertion.Payload)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if action types first appear in the specified
// order. Actions don't need to be consecutive.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	// Step 1: Find first position of each expected action
	positions := make(map[string]int)
	for i, event := range trace {
		t := string(event.Type)
		if _, seen := positions[t]; !seen {
			positions[t] = i + 1 // 1-indexed for readability
		}
	}

	// Step 2: Verify all actions found
	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	// Step 3: Verify order
	for i := 1; i < len(assertion.Actions); i++ {
		prev := assertion.Actions[i-1]
		curr := assertion.Actions[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks if the action appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if string(event.Type) == assertion.Action {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertFinalState checks fields of one slice in the final state tree
// (subset semantics).
func assertFinalState(state ir.Value, assertion Assertion) error {
	sliceState, ok := lookupPath(state, []string{assertion.Slice})
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("slice %q in state", assertion.Slice),
			Actual:   "slice not found",
		}
	}

	if failures := matchPaths(sliceState, assertion.Expect); len(failures) > 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("slice %q matches %v", assertion.Slice, assertion.Expect),
			Actual:   strings.Join(failures, "; "),
		}
	}

	return nil
}

// matchPaths checks each dotted path of expect against root and returns
// one message per mismatch, in path order.
func matchPaths(root ir.Value, expect map[string]any) []string {
	paths := make([]string, 0, len(expect))
	for p := range expect {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var failures []string
	for _, p := range paths {
		want, err := ir.FromGo(expect[p])
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", p, err))
			continue
		}

		got, ok := lookupPath(root, strings.Split(p, "."))
		if !ok {
			failures = append(failures, fmt.Sprintf("%s: not present", p))
			continue
		}
		if !valuesEqual(got, want) {
			failures = append(failures, fmt.Sprintf("%s = %s, want %s", p, formatValue(got), formatValue(want)))
		}
	}
	return failures
}

// lookupPath walks object keys from root.
func lookupPath(root ir.Value, path []string) (ir.Value, bool) {
	cur := root
	for _, key := range path {
		obj, ok := cur.(ir.Object)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func formatValue(v ir.Value) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// valuesEqual compares two values for equality. An absent payload (nil)
// equals null.
func valuesEqual(actual, expected ir.Value) bool {
	if actual == nil {
		actual = ir.Null{}
	}
	if expected == nil {
		expected = ir.Null{}
	}
	return reflect.DeepEqual(actual, expected)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result.State, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
