package store

import (
	"context"
	"log/slog"

	"github.com/roach88/slicestore/internal/ir"
)

// ActionFunc handles one plain action. The root reducer is the innermost
// ActionFunc of every store.
type ActionFunc func(ctx context.Context, a ir.Action) error

// API is the store surface handed to middleware.
type API struct {
	GetState GetStateFunc
	Dispatch DispatchFunc
}

// Middleware wraps the dispatch of plain actions. Thunks never reach
// middleware; the actions they dispatch do.
type Middleware func(api API, next ActionFunc) ActionFunc

// LoggerMiddleware logs every action at Debug and every state change at
// Info.
func LoggerMiddleware(logger *slog.Logger) Middleware {
	return func(_ API, next ActionFunc) ActionFunc {
		return func(ctx context.Context, a ir.Action) error {
			meta, _ := MetaFromContext(ctx)

			logger.Debug("dispatch",
				"action", a.String(),
				"seq", meta.Seq,
				"flow_token", meta.FlowToken,
			)

			err := next(ctx, a)
			if err != nil {
				logger.Warn("dispatch failed",
					"type", a.Type,
					"seq", meta.Seq,
					"flow_token", meta.FlowToken,
					"error", err,
				)
			}

			if out, ok := OutcomeFromContext(ctx); ok && out.Changed {
				logger.Info("state changed",
					"type", a.Type,
					"version", out.State.Version(),
					"flow_token", meta.FlowToken,
				)
			}
			return err
		}
	}
}
