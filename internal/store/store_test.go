package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/slicestore/internal/engine"
	"github.com/roach88/slicestore/internal/ir"
)

type tally struct {
	N float64 `json:"n"`
}

// tallyReducer handles "tally/add" with a numeric payload.
var tallyReducer = ReducerFunc(func(state any, a ir.Action) (any, error) {
	var t tally
	switch s := state.(type) {
	case nil:
	case tally:
		t = s
	case map[string]any:
		n, _ := s["n"].(int)
		t = tally{N: float64(n)}
	default:
		return nil, errors.New("bad state")
	}
	switch a.Type {
	case "tally/add":
		n, ok := a.Payload.(ir.Number)
		if !ok {
			return nil, errors.New("payload must be a number")
		}
		t.N += float64(n)
	case "tally/fail":
		return nil, errors.New("boom")
	}
	return t, nil
})

// labelReducer handles "label/set" with a string payload.
var labelReducer = ReducerFunc(func(state any, a ir.Action) (any, error) {
	s, _ := state.(string)
	if a.Type == "label/set" {
		s = string(a.Payload.(ir.String))
	}
	return s, nil
})

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	base := []Option{
		WithLogger(discardLogger()),
		WithFlowGenerator(engine.UUIDv7Generator{}),
	}
	s, err := Configure(map[string]Reducer{
		"tally": tallyReducer,
		"label": labelReducer,
	}, append(base, opts...)...)
	require.NoError(t, err)
	return s
}

func add(n float64) ir.Action {
	return ir.Action{Type: "tally/add", Payload: ir.Number(n)}
}

func TestConfigure_InitialState(t *testing.T) {
	s := newTestStore(t)
	state := s.GetState()

	assert.Equal(t, []string{"label", "tally"}, state.Names())
	assert.Equal(t, int64(0), state.Version())
	assert.Equal(t, tally{}, Select[tally](state, "tally"))
	assert.Equal(t, "", Select[string](state, "label"))
}

func TestConfigure_Empty(t *testing.T) {
	s, err := Configure(nil, WithLogger(discardLogger()))
	require.NoError(t, err)
	assert.Equal(t, 0, s.GetState().Len())

	// Any action is a no-op on an empty tree
	require.NoError(t, s.Dispatch(context.Background(), add(1)))
	assert.Equal(t, int64(0), s.GetState().Version())
}

func TestConfigure_Errors(t *testing.T) {
	tests := []struct {
		name     string
		reducers map[string]Reducer
		opts     []Option
		wantErr  string
	}{
		{
			name:     "empty name",
			reducers: map[string]Reducer{"": tallyReducer},
			wantErr:  "empty slice name",
		},
		{
			name:     "nil reducer",
			reducers: map[string]Reducer{"tally": nil},
			wantErr:  "nil reducer",
		},
		{
			name:     "preloaded unknown slice",
			reducers: map[string]Reducer{"tally": tallyReducer},
			opts:     []Option{WithPreloadedState(map[string]any{"other": 1})},
			wantErr:  "unknown slice",
		},
		{
			name: "init fails",
			reducers: map[string]Reducer{"tally": ReducerFunc(func(any, ir.Action) (any, error) {
				return nil, errors.New("no init")
			})},
			wantErr: "no init",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Configure(tt.reducers, append(tt.opts, WithLogger(discardLogger()))...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigure_PreloadedState(t *testing.T) {
	s := newTestStore(t, WithPreloadedState(map[string]any{
		"tally": map[string]any{"n": 7},
	}))

	assert.Equal(t, tally{N: 7}, Select[tally](s.GetState(), "tally"))
}

func TestConfigure_ReceivesInitAction(t *testing.T) {
	var got []ir.Action
	_, err := Configure(map[string]Reducer{
		"probe": ReducerFunc(func(state any, a ir.Action) (any, error) {
			got = append(got, a)
			return 0, nil
		}),
	}, WithLogger(discardLogger()))
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, ir.InitType, got[0].Type)
	assert.False(t, got[0].HasPayload())
}

func TestDispatch_ChangesStateAndVersion(t *testing.T) {
	s := newTestStore(t, WithSequencer(engine.NewClock()))
	ctx := context.Background()

	before := s.GetState()
	require.NoError(t, s.Dispatch(ctx, add(2)))
	after := s.GetState()

	assert.Equal(t, tally{N: 2}, Select[tally](after, "tally"))
	assert.Equal(t, int64(1), after.Version())

	// Old snapshot is untouched
	assert.Equal(t, tally{}, Select[tally](before, "tally"))
	assert.Equal(t, int64(0), before.Version())
}

func TestDispatch_PointerAction(t *testing.T) {
	s := newTestStore(t)
	a := add(3)

	require.NoError(t, s.Dispatch(context.Background(), &a))
	assert.Equal(t, 3.0, Select[tally](s.GetState(), "tally").N)
}

func TestDispatch_UnknownTypeIsNoOp(t *testing.T) {
	s := newTestStore(t)
	calls := 0
	s.Subscribe(func() { calls++ })

	before := s.GetState()
	require.NoError(t, s.Dispatch(context.Background(), ir.Action{Type: "nobody/handles"}))

	assert.Equal(t, before.Version(), s.GetState().Version())
	assert.Equal(t, 0, calls, "no change, no notification")
}

func TestDispatch_InvalidMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Dispatch(ctx, ir.Action{})
	assert.ErrorIs(t, err, ErrInvalidAction)

	var nilAction *ir.Action
	err = s.Dispatch(ctx, nilAction)
	assert.ErrorIs(t, err, ErrInvalidAction)

	for _, msg := range []any{nil, 42, "tally/add", struct{}{}, Thunk(nil)} {
		err = s.Dispatch(ctx, msg)
		assert.ErrorIs(t, err, ErrInvalidMessage, "msg %T", msg)
	}

	var re *RuntimeError
	require.True(t, errors.As(s.Dispatch(ctx, 42), &re))
	assert.Equal(t, ErrCodeInvalidMessage, re.Code)
	assert.NotEmpty(t, re.FlowToken)
}

func TestDispatch_ReducerErrorLeavesStateUntouched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Dispatch(ctx, add(1)))
	before := s.GetState()

	err := s.Dispatch(ctx, ir.Action{Type: "tally/fail"})
	require.Error(t, err)
	assert.True(t, IsReducerError(err))
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, before.Version(), s.GetState().Version())
}

func TestDispatch_ReducerPanicReleasesStore(t *testing.T) {
	boom := ReducerFunc(func(state any, a ir.Action) (any, error) {
		if a.Type == "boom/now" {
			panic("reducer bug")
		}
		return state, nil
	})
	s, err := Configure(map[string]Reducer{"tally": tallyReducer, "boom": boom}, WithLogger(discardLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	assert.PanicsWithValue(t, "reducer bug", func() {
		_ = s.Dispatch(ctx, ir.Action{Type: "boom/now"})
	})

	done := make(chan error, 1)
	go func() { done <- s.Dispatch(ctx, add(1)) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch after a recovered reducer panic did not return")
	}
	assert.Equal(t, 1.0, Select[tally](s.GetState(), "tally").N)
}

func TestDispatch_OutcomeBelongsToItsDispatch(t *testing.T) {
	var outcomes []Outcome
	capture := func(api API, next ActionFunc) ActionFunc {
		return func(ctx context.Context, a ir.Action) error {
			err := next(ctx, a)
			out, ok := OutcomeFromContext(ctx)
			require.True(t, ok)
			outcomes = append(outcomes, out)
			return err
		}
	}
	s := newTestStore(t, WithMiddleware(capture))
	ctx := context.Background()

	// The subscriber dispatches again before the outer dispatch returns
	s.Subscribe(func() {
		if Select[tally](s.GetState(), "tally").N < 2 {
			require.NoError(t, s.Dispatch(ctx, add(1)))
		}
	})
	require.NoError(t, s.Dispatch(ctx, add(1)))
	require.Error(t, s.Dispatch(ctx, ir.Action{Type: "tally/fail"}))
	require.NoError(t, s.Dispatch(ctx, ir.Action{Type: "other/op"}))

	require.Len(t, outcomes, 4)

	inner, outer := outcomes[0], outcomes[1]
	assert.True(t, inner.Changed)
	assert.Equal(t, 2.0, Select[tally](inner.State, "tally").N)
	assert.True(t, outer.Changed)
	assert.Equal(t, 1.0, Select[tally](outer.State, "tally").N, "outer outcome is the tree it published")
	assert.Less(t, outer.State.Version(), inner.State.Version())

	failed := outcomes[2]
	assert.True(t, failed.Reduced)
	assert.False(t, failed.Changed)
	assert.Equal(t, inner.State.Version(), failed.State.Version())

	unchanged := outcomes[3]
	assert.True(t, unchanged.Reduced)
	assert.False(t, unchanged.Changed)
}

func TestOutcomeFromContext_OutsideDispatch(t *testing.T) {
	_, ok := OutcomeFromContext(context.Background())
	assert.False(t, ok)
}

func TestDispatch_OnlyChangedSliceReplaced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Dispatch(ctx, ir.Action{Type: "label/set", Payload: ir.String("x")}))
	require.NoError(t, s.Dispatch(ctx, add(1)))

	state := s.GetState()
	assert.Equal(t, "x", Select[string](state, "label"))
	assert.Equal(t, 1.0, Select[tally](state, "tally").N)
}

func TestDispatch_NaNIsValueEqual(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	calls := 0
	s.Subscribe(func() { calls++ })

	require.NoError(t, s.Dispatch(ctx, add(math.NaN())))
	assert.True(t, math.IsNaN(Select[tally](s.GetState(), "tally").N))
	assert.Equal(t, 1, calls)

	// NaN + 1 is NaN: value-equal, so no change and no notification
	require.NoError(t, s.Dispatch(ctx, add(1)))
	assert.Equal(t, 1, calls)
}

func TestDispatch_Thunk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var seen float64
	thunk := Thunk(func(ctx context.Context, dispatch DispatchFunc, getState GetStateFunc) error {
		if err := dispatch(ctx, add(2)); err != nil {
			return err
		}
		seen = Select[tally](getState(), "tally").N
		return dispatch(ctx, add(3))
	})

	require.NoError(t, s.Dispatch(ctx, thunk))
	assert.Equal(t, 2.0, seen)
	assert.Equal(t, 5.0, Select[tally](s.GetState(), "tally").N)
}

func TestDispatch_RawThunkFunc(t *testing.T) {
	s := newTestStore(t)
	called := false
	raw := func(ctx context.Context, dispatch DispatchFunc, getState GetStateFunc) error {
		called = true
		return nil
	}

	require.NoError(t, s.Dispatch(context.Background(), raw))
	assert.True(t, called)
}

func TestDispatch_ThunkErrorReturned(t *testing.T) {
	s := newTestStore(t)
	want := errors.New("thunk failed")

	err := s.Dispatch(context.Background(), Thunk(func(context.Context, DispatchFunc, GetStateFunc) error {
		return want
	}))
	assert.ErrorIs(t, err, want)
}

func TestDispatch_ThunkInheritsFlowToken(t *testing.T) {
	var tokens []string
	recorder := func(api API, next ActionFunc) ActionFunc {
		return func(ctx context.Context, a ir.Action) error {
			meta, ok := MetaFromContext(ctx)
			require.True(t, ok)
			tokens = append(tokens, meta.FlowToken)
			return next(ctx, a)
		}
	}
	s := newTestStore(t,
		WithMiddleware(recorder),
		WithFlowGenerator(engine.NewFixedGenerator("flow-a", "flow-b")),
	)
	ctx := context.Background()

	require.NoError(t, s.Dispatch(ctx, Thunk(func(ctx context.Context, dispatch DispatchFunc, _ GetStateFunc) error {
		_ = dispatch(ctx, add(1))
		return dispatch(ctx, add(1))
	})))
	require.NoError(t, s.Dispatch(ctx, add(1)))

	assert.Equal(t, []string{"flow-a", "flow-a", "flow-b"}, tokens)
}

func TestDispatch_FlowTokenFromContext(t *testing.T) {
	var got string
	s := newTestStore(t, WithMiddleware(func(api API, next ActionFunc) ActionFunc {
		return func(ctx context.Context, a ir.Action) error {
			meta, _ := MetaFromContext(ctx)
			got = meta.FlowToken
			return next(ctx, a)
		}
	}))

	ctx := WithFlowToken(context.Background(), "explicit")
	require.NoError(t, s.Dispatch(ctx, add(1)))
	assert.Equal(t, "explicit", got)
}

func TestDispatch_SequenceNumbersIncrease(t *testing.T) {
	var seqs []int64
	s := newTestStore(t,
		WithSequencer(engine.NewClockAt(10)),
		WithMiddleware(func(api API, next ActionFunc) ActionFunc {
			return func(ctx context.Context, a ir.Action) error {
				meta, _ := MetaFromContext(ctx)
				seqs = append(seqs, meta.Seq)
				return next(ctx, a)
			}
		}),
	)
	ctx := context.Background()

	require.NoError(t, s.Dispatch(ctx, add(1)))
	require.NoError(t, s.Dispatch(ctx, ir.Action{Type: "other/op"}))
	require.NoError(t, s.Dispatch(ctx, add(1)))

	// Unchanged dispatches still consume a seq
	assert.Equal(t, []int64{11, 12, 13}, seqs)
	assert.Equal(t, int64(13), s.GetState().Version())
}

func TestMiddleware_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(api API, next ActionFunc) ActionFunc {
			return func(ctx context.Context, a ir.Action) error {
				order = append(order, name+">")
				err := next(ctx, a)
				order = append(order, "<"+name)
				return err
			}
		}
	}
	s := newTestStore(t, WithMiddleware(mw("outer"), mw("inner")))

	require.NoError(t, s.Dispatch(context.Background(), add(1)))
	assert.Equal(t, []string{"outer>", "inner>", "<inner", "<outer"}, order)
}

func TestLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := newTestStore(t, WithMiddleware(LoggerMiddleware(logger)))
	ctx := context.Background()

	require.NoError(t, s.Dispatch(ctx, add(4)))
	require.NoError(t, s.Dispatch(ctx, ir.Action{Type: "other/op"}))

	out := buf.String()
	assert.Contains(t, out, "msg=dispatch")
	assert.Contains(t, out, "tally/add(4)")
	assert.Contains(t, out, `msg="state changed"`)
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("state changed")))
}

func TestSubscribe_NotifiedOnChange(t *testing.T) {
	s := newTestStore(t)
	var versions []int64
	s.Subscribe(func() { versions = append(versions, s.GetState().Version()) })

	require.NoError(t, s.Dispatch(context.Background(), add(1)))
	require.NoError(t, s.Dispatch(context.Background(), add(1)))

	assert.Equal(t, []int64{1, 2}, versions, "subscriber observes the new state")
}

func TestSubscribe_RegistrationOrder(t *testing.T) {
	s := newTestStore(t)
	var order []int
	for i := 1; i <= 3; i++ {
		s.Subscribe(func() { order = append(order, i) })
	}

	require.NoError(t, s.Dispatch(context.Background(), add(1)))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	calls := 0
	unsubscribe := s.Subscribe(func() { calls++ })

	require.NoError(t, s.Dispatch(ctx, add(1)))
	unsubscribe()
	unsubscribe() // idempotent
	require.NoError(t, s.Dispatch(ctx, add(1)))

	assert.Equal(t, 1, calls)
}

func TestSubscribe_SameFunctionTwice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	calls := 0
	fn := func() { calls++ }

	unsub1 := s.Subscribe(fn)
	s.Subscribe(fn)

	require.NoError(t, s.Dispatch(ctx, add(1)))
	assert.Equal(t, 2, calls, "each registration is notified")

	unsub1()
	require.NoError(t, s.Dispatch(ctx, add(1)))
	assert.Equal(t, 3, calls, "only one registration removed")
}

func TestSubscribe_SubscriberMayDispatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Subscribe(func() {
		if Select[tally](s.GetState(), "tally").N < 3 {
			require.NoError(t, s.Dispatch(ctx, add(1)))
		}
	})

	require.NoError(t, s.Dispatch(ctx, add(1)))
	assert.Equal(t, 3.0, Select[tally](s.GetState(), "tally").N)
}

func TestSubscribe_PanicIsolated(t *testing.T) {
	s := newTestStore(t)
	second := 0
	s.Subscribe(func() { panic("listener bug") })
	s.Subscribe(func() { second++ })

	err := s.Dispatch(context.Background(), add(1))
	require.Error(t, err)
	assert.True(t, IsSubscriberPanic(err))
	assert.Contains(t, err.Error(), "listener bug")

	assert.Equal(t, 1, second, "later subscribers still notified")
	assert.Equal(t, 1.0, Select[tally](s.GetState(), "tally").N, "state change is kept")
}

func TestClose(t *testing.T) {
	s := newTestStore(t)
	calls := 0
	s.Subscribe(func() { calls++ })
	require.NoError(t, s.Dispatch(context.Background(), add(1)))

	s.Close()
	s.Close() // idempotent
	assert.True(t, s.Closed())

	err := s.Dispatch(context.Background(), add(1))
	assert.ErrorIs(t, err, ErrStoreClosed)
	err = s.Dispatch(context.Background(), Thunk(func(context.Context, DispatchFunc, GetStateFunc) error { return nil }))
	assert.ErrorIs(t, err, ErrStoreClosed)

	assert.Equal(t, 1.0, Select[tally](s.GetState(), "tally").N, "last state still readable")
	assert.Equal(t, 1, calls)
}

func TestSelect_Panics(t *testing.T) {
	s := newTestStore(t)

	assert.PanicsWithValue(t, `store: no slice "missing" in state`, func() {
		Select[tally](s.GetState(), "missing")
	})
	assert.Panics(t, func() {
		Select[int](s.GetState(), "tally")
	})
}

func TestState_JSON(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Dispatch(context.Background(), add(1.5)))

	v, err := s.GetState().Value()
	require.NoError(t, err)
	canonical, err := ir.MarshalCanonical(v)
	require.NoError(t, err)
	assert.Equal(t, `{"label":"","tally":{"n":1.5}}`, string(canonical))
}

func TestRuntimeError_Format(t *testing.T) {
	err := &RuntimeError{
		Code:       ErrCodeReducerFailed,
		Message:    `slice "tally" reducer failed`,
		ActionType: "tally/fail",
		FlowToken:  "flow-1",
		Err:        errors.New("boom"),
	}
	assert.Equal(t, `REDUCER_FAILED: slice "tally" reducer failed (type=tally/fail) (flow=flow-1): boom`, err.Error())
	assert.False(t, errors.Is(err, ErrStoreClosed))
}
