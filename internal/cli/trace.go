package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/slicestore/internal/counter"
	"github.com/roach88/slicestore/internal/harness"
	"github.com/roach88/slicestore/internal/ir"
	"github.com/roach88/slicestore/internal/store"
	"github.com/roach88/slicestore/internal/trace"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database  string // read an existing trace database instead of running a scenario
	FlowToken string // optional - filter to one flow
	Action    string // optional - filter to one action type
	Failed    bool   // only dispatches that returned an error
	Verify    bool   // replay the database trace against a fresh counter store
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Source   string               `json:"source"` // scenario name or database path
	Timeline []harness.TraceEvent `json:"timeline"`
	Stats    TraceStats           `json:"stats"`
	Verified *bool                `json:"verified,omitempty"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalDispatches int      `json:"total_dispatches"`
	Changed         int      `json:"changed"`
	Failed          int      `json:"failed"`
	FlowTokens      []string `json:"flow_tokens"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [scenario.yaml]",
		Short: "Show the recorded dispatch trace",
		Long: `Show the dispatch trace: every plain action that reached the reducers,
with its sequence number, flow token, payload, whether it changed the
state, and the state it produced.

With a scenario file, the scenario is run with the harness and its trace
is shown. With --db, an existing trace database (written by dispatch with
a file-backed trace.db) is read; --verify replays it against a fresh
counter store.

Examples:
  slicestore trace ./testdata/scenarios/increment_async.yaml
  slicestore trace --db ./trace.db --flow 0190a5c2-...
  slicestore trace --db ./trace.db --failed
  slicestore trace --db ./trace.db --verify --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to a trace database")
	cmd.Flags().StringVar(&opts.FlowToken, "flow", "", "filter to one flow token")
	cmd.Flags().StringVar(&opts.Action, "action", "", "filter to one action type")
	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "show only failed dispatches")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "replay the database trace and check it reproduces")

	return cmd
}

func runTrace(ctx context.Context, opts *TraceOptions, args []string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)

	switch {
	case len(args) == 1 && opts.Database != "":
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, "give either a scenario file or --db, not both", nil)
	case len(args) == 0 && opts.Database == "":
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, "a scenario file or --db is required", nil)
	case opts.Verify && opts.Database == "":
		return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, "--verify requires --db", nil)
	}

	var (
		result TraceResult
		err    error
	)
	if opts.Database != "" {
		result, err = traceFromDatabase(ctx, opts)
	} else {
		result, err = traceFromScenario(ctx, opts, args[0])
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeTrace, err.Error(), nil)
	}

	if result.Verified != nil && !*result.Verified {
		if formatter.IsJSON() {
			return formatter.Fail(ExitFailure, ErrCodeReplayDiverged, "replay diverged from the recorded trace", result)
		}
		outputTraceText(formatter.Writer, result)
		return NewExitError(ExitFailure, "replay diverged from the recorded trace")
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	outputTraceText(formatter.Writer, result)
	return nil
}

// traceFromScenario runs a scenario and returns its trace.
func traceFromScenario(ctx context.Context, opts *TraceOptions, path string) (TraceResult, error) {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return TraceResult{}, err
	}
	res, err := harness.RunWithLogger(ctx, scenario, opts.logger())
	if err != nil {
		return TraceResult{}, err
	}
	return buildTraceResult(scenario.Name, res.Trace, opts), nil
}

// traceFromDatabase reads (and optionally verifies) a trace database.
func traceFromDatabase(ctx context.Context, opts *TraceOptions) (TraceResult, error) {
	// Open would create a missing file
	if _, err := os.Stat(opts.Database); err != nil {
		return TraceResult{}, fmt.Errorf("trace database not found: %w", err)
	}

	tl, err := trace.Open(opts.Database)
	if err != nil {
		return TraceResult{}, fmt.Errorf("failed to open trace database: %w", err)
	}
	defer tl.Close()

	records, err := tl.Query(ctx, trace.Filter{
		FlowToken: opts.FlowToken,
		Type:      ir.ActionType(opts.Action),
		Failed:    opts.Failed,
	})
	if err != nil {
		return TraceResult{}, fmt.Errorf("failed to read trace: %w", err)
	}

	events := make([]harness.TraceEvent, len(records))
	for i, rec := range records {
		events[i] = harness.EventFromRecord(rec)
	}
	result := buildTraceResult(opts.Database, events, opts)

	if opts.Verify {
		// A flow filter leaves gaps in the trace, so verify the whole of it
		all, err := tl.ReadAll(ctx)
		if err != nil {
			return TraceResult{}, fmt.Errorf("failed to read trace: %w", err)
		}
		cfg := opts.config()
		configure := func(storeOpts ...store.Option) (*store.Store, error) {
			base := []store.Option{store.WithLogger(opts.logger())}
			if len(cfg.PreloadedState) > 0 {
				base = append(base, store.WithPreloadedState(cfg.PreloadedState))
			}
			return counter.ConfigureStore(append(base, storeOpts...)...)
		}

		ok := true
		if err := trace.Verify(ctx, all, configure); err != nil {
			var div *trace.DivergenceError
			if !errors.As(err, &div) {
				return TraceResult{}, err
			}
			opts.logger().Warn("replay diverged", "seq", div.Seq, "type", div.Type, "reason", div.Reason)
			ok = false
		}
		result.Verified = &ok
	}

	return result, nil
}

// buildTraceResult applies the filters and computes stats. Database records
// arrive already filtered by the query.
func buildTraceResult(source string, events []harness.TraceEvent, opts *TraceOptions) TraceResult {
	result := TraceResult{
		Source:   source,
		Timeline: []harness.TraceEvent{},
		Stats:    TraceStats{FlowTokens: []string{}},
	}

	seen := make(map[string]bool)
	for _, e := range events {
		if opts.FlowToken != "" && e.FlowToken != opts.FlowToken {
			continue
		}
		if opts.Action != "" && string(e.Type) != opts.Action {
			continue
		}
		if opts.Failed && e.Error == "" {
			continue
		}
		result.Timeline = append(result.Timeline, e)

		result.Stats.TotalDispatches++
		if e.Changed {
			result.Stats.Changed++
		}
		if e.Error != "" {
			result.Stats.Failed++
		}
		if !seen[e.FlowToken] {
			seen[e.FlowToken] = true
			result.Stats.FlowTokens = append(result.Stats.FlowTokens, e.FlowToken)
		}
	}
	return result
}

// outputTraceText prints the timeline as an aligned table.
func outputTraceText(w io.Writer, result TraceResult) {
	fmt.Fprintf(w, "Trace: %s\n\n", result.Source)

	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "No dispatches recorded.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tFLOW\tTYPE\tPAYLOAD\tCHANGED\tVERSION\tSTATE")
	for _, e := range result.Timeline {
		payload := "-"
		if e.Payload != nil {
			payload = canonicalString(e.Payload)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\t%d\t%s\n",
			e.Seq, e.FlowToken, e.Type, payload, e.Changed, e.Version, canonicalString(e.State))
	}
	tw.Flush()

	for _, e := range result.Timeline {
		if e.Error != "" {
			fmt.Fprintf(w, "\nseq %d failed: %s\n", e.Seq, e.Error)
		}
	}

	s := result.Stats
	fmt.Fprintf(w, "\n%d dispatch(es), %d changed, %d failed, %d flow(s)\n",
		s.TotalDispatches, s.Changed, s.Failed, len(s.FlowTokens))
	if result.Verified != nil {
		if *result.Verified {
			fmt.Fprintln(w, "✓ Replay reproduces the trace")
		} else {
			fmt.Fprintln(w, "✗ Replay diverged from the trace")
		}
	}
}

func canonicalString(v ir.Value) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
