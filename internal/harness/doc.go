// Package harness runs YAML dispatch scenarios against a counter store and
// checks the recorded dispatch trace.
//
// # Scenario Format
//
//	name: increment_then_async
//	description: "Async increment lands after one second"
//	flow_token: "flow-001"
//	preloaded_state:
//	  counter: { value: 10 }
//	steps:
//	  - dispatch: counter/increment
//	    expect: { counter.value: 11 }
//	  - dispatch: counter/incrementByAmount
//	    payload: 5
//	  - thunk: counter/incrementAsync
//	    amount: 2
//	  - advance: 1s
//	    expect: { counter.value: 18 }
//	assertions:
//	  - type: trace_contains
//	    action: counter/incrementByAmount
//	    payload: 2
//	  - type: final_state
//	    slice: counter
//	    expect: { value: 18 }
//
// A step is exactly one of dispatch (with optional payload), thunk (with
// amount) or advance (a Go duration). expect checks dotted paths into the
// state tree after the step; expect_error requires the step to fail with
// an error containing the given text.
//
// # Assertion Types
//
//   - trace_contains: an action of the type, with the payload if given, was recorded
//   - trace_order: the types were first recorded in the given order
//   - trace_count: the type was recorded exactly count times
//   - final_state: fields of one slice in the final state tree
//
// # Deterministic Testing
//
// Every run gets a fresh in-memory trace database, a deterministic
// sequencer, a fixed flow token and manual timers. Virtual time only moves
// on advance steps, so a run produces the same trace every time and the
// trace can be compared against a golden file (see RunWithGolden).
//
// After the steps run, the recorded trace is replayed against a fresh store
// (trace.Verify); a divergence fails the scenario.
package harness
