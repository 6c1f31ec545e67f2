package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/roach88/slicestore/internal/ir"
)

// State is an immutable snapshot of the whole-state tree.
//
// The key set (slice names) is fixed when the store is configured. Each
// dispatch that changes at least one slice produces a new State; a dispatch
// that changes nothing leaves the previous State in place.
type State struct {
	slices  map[string]any
	version int64
}

// Get returns the state of the named slice.
func (s State) Get(name string) (any, bool) {
	v, ok := s.slices[name]
	return v, ok
}

// Names returns the slice names in sorted order.
func (s State) Names() []string {
	names := make([]string, 0, len(s.slices))
	for name := range s.slices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of slices in the tree.
func (s State) Len() int {
	return len(s.slices)
}

// Version returns the sequence number of the dispatch that produced this
// tree, or 0 for the initial tree.
func (s State) Version() int64 {
	return s.version
}

// MarshalJSON renders the tree as an object keyed by slice name.
func (s State) MarshalJSON() ([]byte, error) {
	if s.slices == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.slices)
}

// Value converts the tree to an ir.Value, suitable for canonical encoding
// and hashing.
func (s State) Value() (ir.Value, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return ir.ParseJSON(data)
}

// with returns a copy of the tree with the given slices replaced.
func (s State) with(changes map[string]any, version int64) *State {
	slices := make(map[string]any, len(s.slices))
	for name, v := range s.slices {
		slices[name] = v
	}
	for name, v := range changes {
		slices[name] = v
	}
	return &State{slices: slices, version: version}
}

// Select returns the named slice's state as S.
//
// Panics if the slice is absent or holds a different type. A selector that
// names a slice the store was not configured with is a programmer error.
func Select[S any](state State, name string) S {
	v, ok := state.Get(name)
	if !ok {
		panic(fmt.Sprintf("store: no slice %q in state", name))
	}
	typed, ok := v.(S)
	if !ok {
		var zero S
		panic(fmt.Sprintf("store: slice %q holds %T, not %T", name, v, zero))
	}
	return typed
}
