package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/roach88/slicestore/internal/engine"
	"github.com/roach88/slicestore/internal/ir"
)

// Reducer computes the next state of one slice.
//
// Reduce must be pure: same inputs, same output, no side effects. A state of
// nil means "not yet initialized"; the reducer returns its initial state.
// An action type the reducer does not handle returns state unchanged.
type Reducer interface {
	Reduce(state any, a ir.Action) (any, error)
}

// ReducerFunc adapts a function to the Reducer interface.
type ReducerFunc func(state any, a ir.Action) (any, error)

// Reduce calls f(state, a).
func (f ReducerFunc) Reduce(state any, a ir.Action) (any, error) {
	return f(state, a)
}

// DispatchFunc submits a message (an ir.Action or a Thunk) to a store.
type DispatchFunc func(ctx context.Context, msg any) error

// GetStateFunc returns the current whole-state tree.
type GetStateFunc func() State

// Thunk is a function-valued message. It is invoked synchronously by
// Dispatch with the store's dispatch and state accessor.
type Thunk func(ctx context.Context, dispatch DispatchFunc, getState GetStateFunc) error

// Sequencer hands out dispatch sequence numbers. *engine.Clock satisfies it.
type Sequencer interface {
	Next() int64
}

// Store is the single owner of the whole-state tree.
//
// Thread-safety model:
//   - GetState(): lock-free, safe from any goroutine
//   - Dispatch(), Subscribe(), Close(): safe from any goroutine
//   - Reduce-and-swap is serialized per store; subscribers are notified
//     outside the lock, so a subscriber may dispatch
//
// INVARIANTS:
//   - The slice key set never changes after Configure
//   - A State is never mutated once published
//   - Subscribers are notified only when at least one slice changed
type Store struct {
	reducers map[string]Reducer
	names    []string // Sorted slice names; reducer application order

	state atomic.Pointer[State]
	mu    sync.Mutex // Serializes reduce-and-swap

	subMu  sync.Mutex
	subs   []*subscription
	closed atomic.Bool

	logger  *slog.Logger
	seq     Sequencer
	flowGen engine.FlowTokenGenerator
	chain   ActionFunc
}

type subscription struct {
	fn func()
}

type options struct {
	middleware []Middleware
	logger     *slog.Logger
	seq        Sequencer
	flowGen    engine.FlowTokenGenerator
	preloaded  map[string]any
}

// Option configures a Store.
type Option func(*options)

// WithMiddleware appends middleware to the dispatch chain.
// The first middleware given is the outermost.
func WithMiddleware(mw ...Middleware) Option {
	return func(o *options) {
		o.middleware = append(o.middleware, mw...)
	}
}

// WithLogger sets the store's logger.
//
// Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSequencer sets the source of dispatch sequence numbers.
//
// Default: engine.NewClock()
// Use testutil.NewDeterministicClock() for reproducible tests.
func WithSequencer(seq Sequencer) Option {
	return func(o *options) {
		o.seq = seq
	}
}

// WithFlowGenerator sets the flow token generator for top-level dispatches.
//
// Default: engine.UUIDv7Generator{}
func WithFlowGenerator(gen engine.FlowTokenGenerator) Option {
	return func(o *options) {
		o.flowGen = gen
	}
}

// WithPreloadedState seeds slices with existing state. Each value is passed
// to its slice reducer together with the init action.
func WithPreloadedState(preloaded map[string]any) Option {
	return func(o *options) {
		o.preloaded = preloaded
	}
}

// Configure builds a store from named slice reducers.
//
// Every reducer is called once with the init action and either nil or its
// preloaded state. The results form the initial tree (Version 0).
//
// An empty map is legal and yields an empty tree. A nil reducer, an empty
// slice name, or a preloaded entry with no matching reducer is an error.
func Configure(reducers map[string]Reducer, opts ...Option) (*Store, error) {
	o := options{
		logger:  slog.Default(),
		seq:     engine.NewClock(),
		flowGen: engine.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	names := make([]string, 0, len(reducers))
	copied := make(map[string]Reducer, len(reducers))
	for name, r := range reducers {
		if name == "" {
			return nil, fmt.Errorf("configure: empty slice name")
		}
		if r == nil {
			return nil, fmt.Errorf("configure: slice %q: nil reducer", name)
		}
		names = append(names, name)
		copied[name] = r
	}
	sort.Strings(names)

	for name := range o.preloaded {
		if _, ok := copied[name]; !ok {
			return nil, fmt.Errorf("configure: preloaded state for unknown slice %q", name)
		}
	}

	initial := make(map[string]any, len(names))
	for _, name := range names {
		v, err := copied[name].Reduce(o.preloaded[name], ir.InitAction())
		if err != nil {
			return nil, fmt.Errorf("configure: slice %q: %w", name, err)
		}
		if v == nil {
			return nil, fmt.Errorf("configure: slice %q: reducer returned nil initial state", name)
		}
		initial[name] = v
	}

	s := &Store{
		reducers: copied,
		names:    names,
		logger:   o.logger,
		seq:      o.seq,
		flowGen:  o.flowGen,
	}
	s.state.Store(&State{slices: initial})

	// Build the chain innermost first so o.middleware[0] runs first
	api := API{GetState: s.GetState, Dispatch: s.Dispatch}
	chain := ActionFunc(s.reduce)
	for i := len(o.middleware) - 1; i >= 0; i-- {
		chain = o.middleware[i](api, chain)
	}
	s.chain = chain

	s.logger.Debug("store configured", "slices", names)
	return s, nil
}

// GetState returns the current whole-state tree.
func (s *Store) GetState() State {
	return *s.state.Load()
}

// Dispatch submits a message.
//
// A plain action (ir.Action or *ir.Action) is validated, stamped with a
// sequence number and run through the middleware chain into the root
// reducer. A Thunk is invoked synchronously; its error is returned.
//
// The flow token is taken from ctx (see WithFlowToken) or generated, and is
// carried in the context passed on to thunks, so everything a dispatch
// causes shares its token.
func (s *Store) Dispatch(ctx context.Context, msg any) error {
	if s.closed.Load() {
		return newStoreClosedError()
	}

	token, ok := FlowTokenFromContext(ctx)
	if !ok {
		token = s.flowGen.Generate()
		ctx = WithFlowToken(ctx, token)
	}

	switch m := msg.(type) {
	case ir.Action:
		return s.dispatchAction(ctx, token, m)
	case *ir.Action:
		if m == nil {
			return newInvalidActionError(ir.Action{}, token, errors.New("nil action"))
		}
		return s.dispatchAction(ctx, token, *m)
	case Thunk:
		return s.runThunk(ctx, m)
	case func(context.Context, DispatchFunc, GetStateFunc) error:
		return s.runThunk(ctx, m)
	default:
		return newInvalidMessageError(msg, token)
	}
}

func (s *Store) dispatchAction(ctx context.Context, token string, a ir.Action) error {
	if err := a.Validate(); err != nil {
		return newInvalidActionError(a, token, err)
	}
	ctx = withMeta(ctx, Meta{FlowToken: token, Seq: s.seq.Next()})
	ctx = withOutcome(ctx)
	return s.chain(ctx, a)
}

func (s *Store) runThunk(ctx context.Context, t Thunk) error {
	if t == nil {
		token, _ := FlowTokenFromContext(ctx)
		return newInvalidMessageError(t, token)
	}
	return t(ctx, s.Dispatch, s.GetState)
}

// reduce is the root reducer: the innermost link of the dispatch chain.
func (s *Store) reduce(ctx context.Context, a ir.Action) error {
	meta, _ := MetaFromContext(ctx)

	tree, changed, err := s.apply(a, meta)
	if out := outcomeFrom(ctx); out != nil {
		*out = Outcome{Reduced: true, Changed: changed, State: *tree}
	}
	if err != nil {
		return err
	}

	if !changed {
		s.logger.Debug("dispatch left state unchanged",
			"type", a.Type,
			"seq", meta.Seq,
		)
		return nil
	}
	return s.notify(a, meta)
}

// apply runs every slice reducer against the current tree and publishes
// the result. It returns the tree the dispatch leaves behind. The lock is
// released on every exit, including a reducer panic.
func (s *Store) apply(a ir.Action, meta Meta) (*State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.state.Load()

	var changes map[string]any
	for _, name := range s.names {
		prev := current.slices[name]
		next, err := s.reducers[name].Reduce(prev, a)
		if err != nil {
			return current, false, newReducerError(name, a, meta.FlowToken, err)
		}
		if !stateEqual(prev, next) {
			if changes == nil {
				changes = make(map[string]any)
			}
			changes[name] = next
		}
	}

	if changes == nil {
		return current, false, nil
	}

	tree := current.with(changes, meta.Seq)
	s.state.Store(tree)
	return tree, true, nil
}

// stateEqual compares slice states by value. NaN equals NaN, so dispatching
// a NaN-producing action twice notifies only once.
func stateEqual(a, b any) bool {
	return cmp.Equal(a, b,
		cmpopts.EquateNaNs(),
		cmp.Exporter(func(reflect.Type) bool { return true }),
	)
}

// notify calls a snapshot of the subscribers in registration order.
// Panics are recovered per subscriber and returned joined.
func (s *Store) notify(a ir.Action, meta Meta) error {
	s.subMu.Lock()
	snapshot := make([]*subscription, len(s.subs))
	copy(snapshot, s.subs)
	s.subMu.Unlock()

	var errs []error
	for i, sub := range snapshot {
		if err := s.callSubscriber(i, sub, a, meta); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) callSubscriber(i int, sub *subscription, a ir.Action, meta Meta) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("subscriber panicked",
				"type", a.Type,
				"flow_token", meta.FlowToken,
				"seq", meta.Seq,
				"subscriber", i,
				"error", fmt.Sprint(r),
			)
			err = newSubscriberPanicError(a, meta.FlowToken, i, r)
		}
	}()
	sub.fn()
	return nil
}

// Subscribe registers fn to be called after every dispatch that changes
// state. Each call is an independent registration, so subscribing the same
// function twice notifies it twice.
//
// The returned unsubscribe removes only this registration and is
// idempotent.
func (s *Store) Subscribe(fn func()) (unsubscribe func()) {
	if fn == nil {
		panic("store: nil subscriber")
	}

	sub := &subscription{fn: fn}
	s.subMu.Lock()
	s.subs = append(s.subs, sub)
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			for i, existing := range s.subs {
				if existing == sub {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Close marks the store closed and drops all subscribers. Later dispatches
// fail with ErrStoreClosed. GetState keeps returning the last tree.
func (s *Store) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.subMu.Lock()
	s.subs = nil
	s.subMu.Unlock()
	s.logger.Debug("store closed")
}

// Closed reports whether Close has been called.
func (s *Store) Closed() bool {
	return s.closed.Load()
}
