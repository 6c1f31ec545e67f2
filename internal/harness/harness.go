package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/slicestore/internal/counter"
	"github.com/roach88/slicestore/internal/engine"
	"github.com/roach88/slicestore/internal/ir"
	"github.com/roach88/slicestore/internal/store"
	"github.com/roach88/slicestore/internal/testutil"
	"github.com/roach88/slicestore/internal/trace"
)

// Harness holds the per-run fixtures of one scenario.
type Harness struct {
	store  *store.Store
	loop   *engine.Loop
	timers *testutil.ManualTimers
	logger *slog.Logger
}

// Run executes a scenario with logging discarded.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(context.Background(), scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory trace database for
// isolation. Deterministic helpers ensure reproducible results.
//
// Execution flow:
//  1. Configure a counter store with the trace recorder installed
//  2. Execute steps, checking each step's expectations
//  3. Read the recorded trace and replay it against a fresh store
//  4. Evaluate assertions
//
// The error return is for harness failures (database, configuration).
// Scenario failures are reported in Result.
func RunWithLogger(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	tl, err := trace.Open(trace.MemoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace database: %w", err)
	}
	defer tl.Close()

	timers := testutil.NewManualTimers()
	loop := engine.NewLoop(
		engine.WithTimerFunc(timers.TimerFunc()),
		engine.WithLoopLogger(logger),
	)
	defer loop.Stop()

	flowToken := scenario.FlowToken
	if flowToken == "" {
		flowToken = DefaultFlowToken
	}

	configure := configureFunc(scenario, logger)
	st, err := configure(
		store.WithSequencer(testutil.NewDeterministicClock()),
		store.WithFlowGenerator(testutil.NewFixedFlowGenerator(flowToken)),
		store.WithMiddleware(trace.NewRecorder(tl, logger).Middleware()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to configure store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		loop:   loop,
		timers: timers,
		logger: logger,
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step, result)
	}

	records, err := tl.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	for _, rec := range records {
		result.Trace = append(result.Trace, EventFromRecord(rec))
	}

	state, err := st.GetState().Value()
	if err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	result.State = state

	if err := trace.Verify(ctx, records, configure); err != nil {
		result.AddError(fmt.Sprintf("replay: %v", err))
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

// configureFunc returns the store constructor for a scenario: the counter
// slice, the scenario's preloaded state and the run logger. Replay uses it
// too, so the replayed store starts from the same tree.
func configureFunc(scenario *Scenario, logger *slog.Logger) trace.ConfigureFunc {
	return func(opts ...store.Option) (*store.Store, error) {
		base := []store.Option{store.WithLogger(logger)}
		if len(scenario.PreloadedState) > 0 {
			base = append(base, store.WithPreloadedState(scenario.PreloadedState))
		}
		return counter.ConfigureStore(append(base, opts...)...)
	}
}

// executeStep runs one step and records any failure in result.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) {
	var err error
	switch {
	case step.Dispatch != "":
		err = h.dispatch(ctx, step)
	case step.Thunk != "":
		err = h.store.Dispatch(ctx, counter.IncrementAsync(h.loop, *step.Amount))
	case step.Advance != "":
		err = h.advance(ctx, step.Advance)
	}
	// Tasks posted by the step itself run before the next step
	h.loop.RunPending(ctx)

	switch {
	case step.ExpectError != "" && err == nil:
		result.AddError(fmt.Sprintf("steps[%d]: expected error containing %q, got none", index, step.ExpectError))
	case step.ExpectError != "" && !strings.Contains(err.Error(), step.ExpectError):
		result.AddError(fmt.Sprintf("steps[%d]: expected error containing %q, got %q", index, step.ExpectError, err.Error()))
	case step.ExpectError == "" && err != nil:
		result.AddError(fmt.Sprintf("steps[%d]: %v", index, err))
	}

	if len(step.Expect) == 0 {
		return
	}
	state, err := h.store.GetState().Value()
	if err != nil {
		result.AddError(fmt.Sprintf("steps[%d]: read state: %v", index, err))
		return
	}
	for _, msg := range matchPaths(state, step.Expect) {
		result.AddError(fmt.Sprintf("steps[%d].expect: %s", index, msg))
	}
}

// dispatch sends a plain action built from the step.
func (h *Harness) dispatch(ctx context.Context, step Step) error {
	a := ir.Action{Type: ir.ActionType(step.Dispatch)}
	if step.Payload != nil {
		payload, err := ir.FromGo(step.Payload)
		if err != nil {
			return fmt.Errorf("payload: %w", err)
		}
		a.Payload = payload
	}
	return h.store.Dispatch(ctx, a)
}

// advance moves virtual time forward one deadline at a time, draining the
// loop after each, so a task scheduled by a due task still fires within
// the same advance when its deadline falls inside it.
func (h *Harness) advance(ctx context.Context, duration string) error {
	d, err := time.ParseDuration(duration)
	if err != nil {
		return fmt.Errorf("advance: %w", err)
	}

	target := h.timers.Now() + d
	for {
		next, ok := h.timers.NextDeadline()
		if !ok || next > target {
			break
		}
		h.timers.AdvanceTo(next)
		h.loop.RunPending(ctx)
	}
	h.timers.AdvanceTo(target)
	h.logger.Debug("advanced virtual time", "by", d, "now", h.timers.Now())
	return nil
}
