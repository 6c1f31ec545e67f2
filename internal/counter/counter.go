// Package counter is the numeric counter slice: its state, actions,
// asynchronous increment and selector.
package counter

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/slicestore/internal/ir"
	"github.com/roach88/slicestore/internal/slice"
	"github.com/roach88/slicestore/internal/store"
)

// Name is the counter's key in the state tree.
const Name = "counter"

// Operation names.
const (
	OpIncrement         = "increment"
	OpDecrement         = "decrement"
	OpIncrementByAmount = "incrementByAmount"
	OpIncrementAsync    = "incrementAsync" // Thunk only; no case reducer
)

// State is the counter slice state.
//
// Value has no bounds: NaN, ±Inf and fractions are all legal.
type State struct {
	Value float64 `json:"value"`
}

// MarshalJSON encodes Value as an ir.Number so non-finite values survive.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Value ir.Number `json:"value"`
	}{ir.Number(s.Value)})
}

// UnmarshalJSON accepts the encoding produced by MarshalJSON.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw struct {
		Value ir.Number `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Value = float64(raw.Value)
	return nil
}

// Slice is the counter slice definition.
var Slice = slice.MustNew(Name, State{}, slice.Cases[State]{
	OpIncrement: func(s State, _ ir.Value) (State, error) {
		return State{Value: s.Value + 1}, nil
	},
	OpDecrement: func(s State, _ ir.Value) (State, error) {
		return State{Value: s.Value - 1}, nil
	},
	OpIncrementByAmount: func(s State, payload ir.Value) (State, error) {
		n, ok := payload.(ir.Number)
		if !ok {
			return s, fmt.Errorf("payload must be a number, got %T", payload)
		}
		return State{Value: s.Value + float64(n)}, nil
	},
})

var (
	increment         = Slice.Action(OpIncrement)
	decrement         = Slice.Action(OpDecrement)
	incrementByAmount = Slice.ActionWith(OpIncrementByAmount)
)

// Increment returns {type: "counter/increment"}.
func Increment() ir.Action {
	return increment()
}

// Decrement returns {type: "counter/decrement"}.
func Decrement() ir.Action {
	return decrement()
}

// IncrementByAmount returns {type: "counter/incrementByAmount", payload: n}.
func IncrementByAmount(n float64) ir.Action {
	return incrementByAmount(ir.Number(n))
}

// Reducer returns the counter's type-erased reducer.
func Reducer() store.Reducer {
	return Slice.Reducer()
}

// ConfigureStore builds a store whose only slice is the counter.
func ConfigureStore(opts ...store.Option) (*store.Store, error) {
	return store.Configure(map[string]store.Reducer{
		Name: Reducer(),
	}, opts...)
}

// SelectCount returns the counter value from the whole-state tree.
// Panics if the tree has no counter slice.
func SelectCount(state store.State) float64 {
	return store.Select[State](state, Name).Value
}
