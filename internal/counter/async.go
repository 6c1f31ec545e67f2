package counter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/slicestore/internal/engine"
	"github.com/roach88/slicestore/internal/store"
)

// AsyncDelay is how long IncrementAsync waits before dispatching.
const AsyncDelay = 1000 * time.Millisecond

// Scheduler runs a task once after a delay and supplies the logger the
// task reports through. *engine.Loop satisfies it.
type Scheduler interface {
	After(d time.Duration, task engine.Task) (cancel func() bool)
	Logger() *slog.Logger
}

// IncrementAsync returns a thunk that dispatches IncrementByAmount(amount)
// once AsyncDelay has elapsed.
//
// The thunk itself changes no state. The delayed dispatch carries the flow
// token of the dispatch that ran the thunk. If the store was closed in the
// meantime the delayed dispatch is dropped with a warning. Both the warning
// and a failed delayed dispatch are logged through sched.Logger().
func IncrementAsync(sched Scheduler, amount float64) store.Thunk {
	return func(ctx context.Context, dispatch store.DispatchFunc, _ store.GetStateFunc) error {
		if sched == nil {
			return errors.New("incrementAsync: nil scheduler")
		}

		// Keep the flow token, drop the caller's cancellation: the caller
		// has returned long before the timer fires
		flowCtx := context.WithoutCancel(ctx)
		flowToken, _ := store.FlowTokenFromContext(ctx)
		logger := sched.Logger()

		sched.After(AsyncDelay, func(context.Context) {
			err := dispatch(flowCtx, IncrementByAmount(amount))
			switch {
			case err == nil:
			case errors.Is(err, store.ErrStoreClosed):
				logger.Warn("store closed before delayed increment, dropping",
					"amount", amount,
					"flow_token", flowToken,
				)
			default:
				logger.Error("delayed increment failed",
					"amount", amount,
					"flow_token", flowToken,
					"error", err,
				)
			}
		})
		return nil
	}
}
