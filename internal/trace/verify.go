package trace

import (
	"context"
	"fmt"

	"github.com/roach88/slicestore/internal/ir"
	"github.com/roach88/slicestore/internal/store"
)

// ConfigureFunc builds a fresh store. Verify passes the options it needs
// (a sequencer replaying the recorded seq values); the function adds its own
// reducers and options, such as preloaded state.
type ConfigureFunc func(opts ...store.Option) (*store.Store, error)

// DivergenceError reports the first record whose replay did not reproduce
// the recorded outcome.
type DivergenceError struct {
	Seq    int64
	Type   ir.ActionType
	Reason string
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("replay diverged at seq %d (%s): %s", e.Seq, e.Type, e.Reason)
}

// replaySequencer hands out the seq of the record being replayed.
type replaySequencer struct {
	seq int64
}

func (s *replaySequencer) Next() int64 {
	return s.seq
}

// Verify re-dispatches recorded actions, in seq order, to a fresh store and
// checks that every dispatch reproduces the recorded state hash and changed
// flag. Reducers are pure, so any divergence means nondeterminism (or a
// trace from different reducers).
//
// Records that carry an error are replayed but their error is not
// compared: subscriber panics cannot be reproduced without subscribers.
// Dispatches a subscriber made during notification are records of their
// own and replay like any other.
func Verify(ctx context.Context, records []Record, configure ConfigureFunc) error {
	seq := &replaySequencer{}
	var last store.Outcome
	capture := func(_ store.API, next store.ActionFunc) store.ActionFunc {
		return func(ctx context.Context, a ir.Action) error {
			err := next(ctx, a)
			last, _ = store.OutcomeFromContext(ctx)
			return err
		}
	}
	s, err := configure(store.WithSequencer(seq), store.WithMiddleware(capture))
	if err != nil {
		return fmt.Errorf("verify: configure store: %w", err)
	}
	defer s.Close()

	for _, rec := range records {
		seq.seq = rec.Seq
		last = store.Outcome{}

		err := s.Dispatch(store.WithFlowToken(ctx, rec.FlowToken), rec.Action())
		if err != nil && rec.Error == "" {
			return &DivergenceError{Seq: rec.Seq, Type: rec.Type, Reason: fmt.Sprintf("replay failed: %v", err)}
		}

		after := last.State
		if !last.Reduced {
			after = s.GetState()
		}
		if last.Changed != rec.Changed {
			return &DivergenceError{
				Seq:    rec.Seq,
				Type:   rec.Type,
				Reason: fmt.Sprintf("changed = %t, recorded %t", last.Changed, rec.Changed),
			}
		}

		v, err := after.Value()
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		hash, err := ir.StateHash(v)
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		if hash != rec.StateHash {
			return &DivergenceError{
				Seq:    rec.Seq,
				Type:   rec.Type,
				Reason: fmt.Sprintf("state hash %s, recorded %s", hash, rec.StateHash),
			}
		}
	}

	return nil
}
