package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/slicestore/internal/counter"
	"github.com/roach88/slicestore/internal/engine"
	"github.com/roach88/slicestore/internal/ir"
	"github.com/roach88/slicestore/internal/store"
	"github.com/roach88/slicestore/internal/trace"
)

// DispatchOptions holds flags for the dispatch command.
type DispatchOptions struct {
	*RootOptions
	FlowToken string // optional fixed flow token
	TraceDB   string // overrides trace.db from the config
	Append    bool   // keep earlier records and continue their seq numbering
}

// DispatchResult is the outcome of the dispatch command.
type DispatchResult struct {
	Dispatched int         `json:"dispatched"`
	FlowToken  string      `json:"flow_token,omitempty"`
	Version    int64       `json:"version"`
	Count      ir.Number   `json:"count"`
	State      store.State `json:"state"`
}

// dispatchArg is one parsed command line message.
type dispatchArg struct {
	raw string
	msg any // ir.Action or store.Thunk
}

// NewDispatchCommand creates the dispatch command.
func NewDispatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DispatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dispatch <type[=payload]>...",
		Short: "Dispatch actions to a counter store",
		Long: `Configure a counter store and dispatch each argument in order.

An argument is an action type, optionally followed by = and a JSON
payload. counter/incrementAsync=N dispatches the asynchronous increment,
which lands one second later. The command waits until every scheduled
dispatch has landed, then prints the final state.

Preloaded state and the trace database location come from --config.
Each run replaces the trace database contents; with --append the run is
added after the records already there, numbered from the last seq.

Exit codes:
  0 - All dispatches succeeded
  1 - A dispatch failed
  2 - Command error (bad arguments, unreadable config, etc.)

Examples:
  slicestore dispatch counter/increment counter/incrementByAmount=5
  slicestore dispatch counter/incrementAsync=2 counter/decrement
  slicestore dispatch --config slicestore.cue --format json counter/increment`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.FlowToken, "flow", "", "flow token for every dispatch (default: one UUIDv7 per dispatch)")
	cmd.Flags().StringVar(&opts.TraceDB, "trace-db", "", "trace database path (overrides the config)")
	cmd.Flags().BoolVar(&opts.Append, "append", false, "append to the trace database instead of replacing it")

	return cmd
}

func runDispatch(ctx context.Context, opts *DispatchOptions, args []string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)
	cfg := opts.config()
	logger := opts.logger()

	loop := engine.NewLoop(engine.WithLoopLogger(logger))
	defer loop.Stop()

	// Parse everything before dispatching anything
	msgs := make([]dispatchArg, 0, len(args))
	for _, arg := range args {
		msg, err := parseDispatchArg(arg, loop)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, err.Error(), nil)
		}
		msgs = append(msgs, dispatchArg{raw: arg, msg: msg})
	}

	dbPath := cfg.Trace.DB
	if opts.TraceDB != "" {
		dbPath = opts.TraceDB
	}
	tl, err := trace.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace database", err)
	}
	defer tl.Close()

	seq, err := startSequence(ctx, tl, opts.Append)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to prepare trace database", err)
	}

	storeOpts := []store.Option{
		store.WithLogger(logger),
		store.WithSequencer(seq),
		store.WithMiddleware(
			store.LoggerMiddleware(logger),
			trace.NewRecorder(tl, logger).Middleware(),
		),
	}
	if len(cfg.PreloadedState) > 0 {
		storeOpts = append(storeOpts, store.WithPreloadedState(cfg.PreloadedState))
	}
	st, err := counter.ConfigureStore(storeOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to configure store", err)
	}
	defer st.Close()

	unsubscribe := st.Subscribe(func() {
		state := st.GetState()
		formatter.VerboseLog("count = %v (version %d)", counter.SelectCount(state), state.Version())
	})
	defer unsubscribe()

	if opts.FlowToken != "" {
		ctx = store.WithFlowToken(ctx, opts.FlowToken)
	}

	result := DispatchResult{FlowToken: opts.FlowToken}
	for _, m := range msgs {
		formatter.VerboseLog("dispatch %s", m.raw)
		if err := st.Dispatch(ctx, m.msg); err != nil {
			return formatter.Fail(ExitFailure, ErrCodeDispatchFailed,
				fmt.Sprintf("dispatch %s: %v", m.raw, err), nil)
		}
		result.Dispatched++
	}

	if n := loop.PendingTimers(); n > 0 {
		formatter.VerboseLog("waiting for %d scheduled dispatch(es)", n)
	}
	if err := loop.RunUntilIdle(ctx); err != nil {
		return WrapExitError(ExitFailure, "interrupted before scheduled dispatches landed", err)
	}

	state := st.GetState()
	result.Version = state.Version()
	result.Count = ir.Number(counter.SelectCount(state))
	result.State = state

	if formatter.IsJSON() {
		return formatter.Success(result)
	}

	v, err := state.Value()
	if err != nil {
		return err
	}
	canonical, err := ir.MarshalCanonical(v)
	if err != nil {
		return err
	}
	w := formatter.Writer
	fmt.Fprintf(w, "state: %s\n", canonical)
	fmt.Fprintf(w, "count: %v\n", counter.SelectCount(state))
	return nil
}

// startSequence empties the trace, or when appending returns a clock that
// continues after its last record.
func startSequence(ctx context.Context, tl *trace.Log, appending bool) (*engine.Clock, error) {
	if !appending {
		return engine.NewClock(), tl.Reset(ctx)
	}
	last, err := tl.Last(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.NewClock(), nil
	}
	if err != nil {
		return nil, err
	}
	return engine.NewClockAt(last.Seq), nil
}

// parseDispatchArg turns "type" or "type=payload" into a dispatchable
// message. counter/incrementAsync needs a numeric payload and becomes the
// async thunk scheduled on sched.
func parseDispatchArg(arg string, sched counter.Scheduler) (any, error) {
	typ, rawPayload, hasPayload := strings.Cut(arg, "=")
	if typ == "" {
		return nil, fmt.Errorf("%q: missing action type", arg)
	}

	var payload ir.Value
	if hasPayload {
		v, err := ir.ParseJSON([]byte(rawPayload))
		if err != nil {
			return nil, fmt.Errorf("%q: payload is not JSON: %w", arg, err)
		}
		payload = v
	}

	if ir.ActionType(typ) == counter.Slice.Type(counter.OpIncrementAsync) {
		n, ok := payload.(ir.Number)
		if !ok {
			return nil, fmt.Errorf("%q: incrementAsync needs a numeric amount, e.g. %s=2", arg, typ)
		}
		return counter.IncrementAsync(sched, float64(n)), nil
	}

	return ir.Action{Type: ir.ActionType(typ), Payload: payload}, nil
}
