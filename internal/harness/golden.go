package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/slicestore/internal/ir"
)

// TraceSnapshot captures the observable outcome of a scenario run.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	FlowToken    string       `json:"flow_token,omitempty"`
	Trace        []TraceEvent `json:"trace"`
	FinalState   ir.Value     `json:"final_state,omitempty"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical
// JSON serialization. Action ids and state hashes are left out: they are
// derived from the fields kept and only add noise to diffs.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"seq":     event.Seq,
			"type":    string(event.Type),
			"changed": event.Changed,
			"version": event.Version,
		}
		if event.Payload != nil {
			eventMap["payload"] = event.Payload
		}
		if event.State != nil {
			eventMap["state"] = event.State
		}
		if event.FlowToken != s.FlowToken {
			eventMap["flow_token"] = event.FlowToken
		}
		if event.Error != "" {
			eventMap["error"] = event.Error
		}
		traceList[i] = eventMap
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
	if s.FlowToken != "" {
		result["flow_token"] = s.FlowToken
	}
	if s.FinalState != nil {
		result["final_state"] = s.FinalState
	}
	return result
}

// Marshal renders the snapshot as canonical JSON.
func (s *TraceSnapshot) Marshal() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// NewSnapshot builds the snapshot of a result.
func NewSnapshot(scenarioName, flowToken string, result *Result) *TraceSnapshot {
	if flowToken == "" {
		flowToken = DefaultFlowToken
	}
	return &TraceSnapshot{
		ScenarioName: scenarioName,
		FlowToken:    flowToken,
		Trace:        result.Trace,
		FinalState:   result.State,
	}
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	if err := assertSnapshot(t, NewSnapshot(scenario.Name, scenario.FlowToken, result)); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	var flowToken string
	if len(result.Trace) > 0 {
		flowToken = result.Trace[0].FlowToken
	}
	return assertSnapshot(t, NewSnapshot(scenarioName, flowToken, result))
}

func assertSnapshot(t *testing.T, snapshot *TraceSnapshot) error {
	t.Helper()

	traceJSON, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, snapshot.ScenarioName, traceJSON)

	return nil
}
