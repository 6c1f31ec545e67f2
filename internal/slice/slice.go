// Package slice builds typed state slices for a store.
//
// A Slice pairs a name with an initial state and a closed table of case
// reducers, one per operation. It generates the action constructors for
// those operations ("<name>/<op>") and a type-erased store.Reducer.
package slice

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/slicestore/internal/ir"
	"github.com/roach88/slicestore/internal/store"
)

// CaseReducer computes the next state for one operation. The payload is
// nil for actions built by a zero-argument constructor.
type CaseReducer[S any] func(state S, payload ir.Value) (S, error)

// Cases maps operation names to case reducers.
type Cases[S any] map[string]CaseReducer[S]

// Slice is a named state fragment with its transition functions.
type Slice[S any] struct {
	name    string
	initial S
	cases   map[ir.ActionType]CaseReducer[S]
	ops     []string
}

// New creates a slice.
//
// The case table is copied; later changes to cases have no effect.
// Returns an error for an empty name, a name containing "/", an empty op
// name or a nil case reducer.
func New[S any](name string, initial S, cases Cases[S]) (*Slice[S], error) {
	if name == "" {
		return nil, fmt.Errorf("slice: name is required")
	}
	if strings.Contains(name, "/") {
		return nil, fmt.Errorf("slice %q: name must not contain '/'", name)
	}

	table := make(map[ir.ActionType]CaseReducer[S], len(cases))
	ops := make([]string, 0, len(cases))
	for op, fn := range cases {
		if op == "" {
			return nil, fmt.Errorf("slice %q: empty op name", name)
		}
		if fn == nil {
			return nil, fmt.Errorf("slice %q: op %q has nil reducer", name, op)
		}
		table[ir.NewActionType(name, op)] = fn
		ops = append(ops, op)
	}
	sort.Strings(ops)

	return &Slice[S]{
		name:    name,
		initial: initial,
		cases:   table,
		ops:     ops,
	}, nil
}

// MustNew is like New but panics on error. For package-level slice
// definitions.
func MustNew[S any](name string, initial S, cases Cases[S]) *Slice[S] {
	s, err := New(name, initial, cases)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the slice name (its key in the state tree).
func (s *Slice[S]) Name() string {
	return s.name
}

// Initial returns the initial state.
func (s *Slice[S]) Initial() S {
	return s.initial
}

// Ops returns the declared operation names in sorted order.
func (s *Slice[S]) Ops() []string {
	out := make([]string, len(s.ops))
	copy(out, s.ops)
	return out
}

// Type returns the action type for op.
func (s *Slice[S]) Type(op string) ir.ActionType {
	return ir.NewActionType(s.name, op)
}

// Action returns a zero-argument constructor for op.
// Panics if op is not declared.
func (s *Slice[S]) Action(op string) func() ir.Action {
	t := s.mustType(op)
	return func() ir.Action {
		return ir.Action{Type: t}
	}
}

// ActionWith returns a payload-taking constructor for op.
// Panics if op is not declared.
func (s *Slice[S]) ActionWith(op string) func(payload ir.Value) ir.Action {
	t := s.mustType(op)
	return func(payload ir.Value) ir.Action {
		return ir.Action{Type: t, Payload: payload}
	}
}

func (s *Slice[S]) mustType(op string) ir.ActionType {
	t := s.Type(op)
	if _, ok := s.cases[t]; !ok {
		panic(fmt.Sprintf("slice %q: undeclared op %q", s.name, op))
	}
	return t
}

// Handles reports whether the slice has a case for the action type.
func (s *Slice[S]) Handles(t ir.ActionType) bool {
	_, ok := s.cases[t]
	return ok
}

// Reduce applies the case for a.Type. Unknown types, including other
// slices' actions and the init action, return state unchanged.
func (s *Slice[S]) Reduce(state S, a ir.Action) (S, error) {
	fn, ok := s.cases[a.Type]
	if !ok {
		return state, nil
	}
	next, err := fn(state, a.Payload)
	if err != nil {
		return state, fmt.Errorf("%s: %w", a.Type, err)
	}
	return next, nil
}

// Reducer returns the slice as a type-erased store.Reducer.
//
// A nil state starts from the initial state. A state of type S is used as
// is. Any other value (e.g. preloaded state decoded from config or YAML)
// is hydrated into S through a JSON round-trip.
func (s *Slice[S]) Reducer() store.Reducer {
	return store.ReducerFunc(func(state any, a ir.Action) (any, error) {
		current, err := s.coerce(state)
		if err != nil {
			return nil, err
		}
		return s.Reduce(current, a)
	})
}

func (s *Slice[S]) coerce(state any) (S, error) {
	switch v := state.(type) {
	case nil:
		return s.initial, nil
	case S:
		return v, nil
	case map[string]any, []any, ir.Value:
		data, err := json.Marshal(v)
		if err != nil {
			return s.initial, fmt.Errorf("slice %q: encode preloaded state: %w", s.name, err)
		}
		hydrated := s.initial
		if err := json.Unmarshal(data, &hydrated); err != nil {
			return s.initial, fmt.Errorf("slice %q: decode preloaded state: %w", s.name, err)
		}
		return hydrated, nil
	default:
		var zero S
		return zero, fmt.Errorf("slice %q: state has type %T, want %T", s.name, state, zero)
	}
}
