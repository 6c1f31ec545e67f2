package store

import "context"

type flowTokenKey struct{}

type metaKey struct{}

type outcomeKey struct{}

// Meta describes the dispatch currently flowing through the middleware
// chain and reducers.
type Meta struct {
	// FlowToken correlates a dispatch with everything it causes.
	FlowToken string

	// Seq is the logical sequence number stamped on this dispatch.
	Seq int64
}

// WithFlowToken returns a context that makes Dispatch use token instead of
// generating a new one.
func WithFlowToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, flowTokenKey{}, token)
}

// FlowTokenFromContext returns the flow token carried by ctx, if any.
func FlowTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(flowTokenKey{}).(string)
	return token, ok && token != ""
}

// MetaFromContext returns the metadata of the dispatch in progress.
// Only available inside middleware and reducers reached from Dispatch.
func MetaFromContext(ctx context.Context) (Meta, bool) {
	m, ok := ctx.Value(metaKey{}).(Meta)
	return m, ok
}

func withMeta(ctx context.Context, m Meta) context.Context {
	return context.WithValue(ctx, metaKey{}, m)
}

// Outcome is what the root reducer did with one dispatch. Middleware reads
// it with OutcomeFromContext once next has returned.
type Outcome struct {
	// Reduced is false while the action has not reached the root reducer,
	// and stays false if a middleware never passed it on.
	Reduced bool

	// Changed reports whether this dispatch published a new tree.
	Changed bool

	// State is the tree this dispatch published, or the tree it was reduced
	// against when nothing changed or a reducer failed.
	State State
}

// OutcomeFromContext returns the outcome of the dispatch in progress.
// Only available inside middleware reached from Dispatch.
func OutcomeFromContext(ctx context.Context) (Outcome, bool) {
	out := outcomeFrom(ctx)
	if out == nil {
		return Outcome{}, false
	}
	return *out, true
}

func withOutcome(ctx context.Context) context.Context {
	return context.WithValue(ctx, outcomeKey{}, &Outcome{})
}

func outcomeFrom(ctx context.Context) *Outcome {
	out, _ := ctx.Value(outcomeKey{}).(*Outcome)
	return out
}
