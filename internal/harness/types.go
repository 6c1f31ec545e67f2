package harness

import (
	"github.com/roach88/slicestore/internal/ir"
	"github.com/roach88/slicestore/internal/trace"
)

// TraceEvent is one recorded dispatch in the form assertions and golden
// files see it.
type TraceEvent struct {
	Seq       int64         `json:"seq"`
	FlowToken string        `json:"flow_token"`
	Type      ir.ActionType `json:"type"`
	Payload   ir.Value      `json:"payload,omitempty"`
	Changed   bool          `json:"changed"`
	Version   int64         `json:"version"`
	State     ir.Value      `json:"state"`
	Error     string        `json:"error,omitempty"`
}

// EventFromRecord converts a trace record to a TraceEvent.
func EventFromRecord(rec trace.Record) TraceEvent {
	return TraceEvent{
		Seq:       rec.Seq,
		FlowToken: rec.FlowToken,
		Type:      rec.Type,
		Payload:   rec.Payload,
		Changed:   rec.Changed,
		Version:   rec.Version,
		State:     rec.State,
		Error:     rec.Error,
	}
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held and the
	// trace replayed cleanly.
	Pass bool `json:"pass"`

	// Trace holds every recorded dispatch in seq order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the final state tree.
	State ir.Value `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
