package trace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/slicestore/internal/ir"
	"github.com/roach88/slicestore/internal/store"
)

// Recorder writes one trace record per plain action that reaches a store's
// reducers.
type Recorder struct {
	log    *Log
	logger *slog.Logger
}

// NewRecorder creates a recorder writing to log.
// A nil logger means slog.Default().
func NewRecorder(log *Log, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{log: log, logger: logger}
}

// Middleware returns the store middleware that records dispatches.
//
// Install it as the innermost middleware so the record reflects exactly
// what the reducers saw. The changed flag and state come from the root
// reducer's outcome for this dispatch, so dispatches running on other
// goroutines, or a subscriber dispatching again, do not leak into the
// record. An action a middleware swallowed before the reducers is recorded
// unchanged against the current tree.
//
// A failed trace write is logged and joined into the dispatch error. The
// state change itself is not undone.
func (r *Recorder) Middleware() store.Middleware {
	return func(api store.API, next store.ActionFunc) store.ActionFunc {
		return func(ctx context.Context, a ir.Action) error {
			meta, _ := store.MetaFromContext(ctx)

			err := next(ctx, a)

			out, ok := store.OutcomeFromContext(ctx)
			if !ok || !out.Reduced {
				out = store.Outcome{State: api.GetState()}
			}
			if werr := r.record(ctx, meta, a, out, err); werr != nil {
				r.logger.Error("trace write failed",
					"type", a.Type,
					"seq", meta.Seq,
					"flow_token", meta.FlowToken,
					"error", werr,
				)
				return errors.Join(err, werr)
			}
			return err
		}
	}
}

func (r *Recorder) record(ctx context.Context, meta store.Meta, a ir.Action, out store.Outcome, dispatchErr error) error {
	id, err := ir.ActionID(meta.FlowToken, a, meta.Seq)
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}

	state, err := out.State.Value()
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}

	rec := Record{
		Seq:       meta.Seq,
		ID:        id,
		FlowToken: meta.FlowToken,
		Type:      a.Type,
		Payload:   a.Payload,
		Changed:   out.Changed,
		Version:   out.State.Version(),
		State:     state,
	}
	if dispatchErr != nil {
		rec.Error = dispatchErr.Error()
	}

	return r.log.Write(ctx, rec)
}
