package ir

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ActionType is the tag of an action, conventionally "<slice>/<op>".
type ActionType string

// InitType is the type of the synthetic action every reducer receives once
// when a store is configured. No slice may declare an op that produces it.
const InitType ActionType = "@@slicestore/INIT"

// NewActionType builds "<slice>/<op>".
func NewActionType(slice, op string) ActionType {
	return ActionType(slice + "/" + op)
}

// Slice returns the part before the first "/", or "" when there is none.
func (t ActionType) Slice() string {
	slice, _, ok := strings.Cut(string(t), "/")
	if !ok {
		return ""
	}
	return slice
}

// Op returns the part after the first "/", or the whole type when there is
// no separator.
func (t ActionType) Op() string {
	_, op, ok := strings.Cut(string(t), "/")
	if !ok {
		return string(t)
	}
	return op
}

// Action is an immutable message requesting a state change.
//
// Two actions with the same Type and Payload are interchangeable. A nil
// Payload means the action carries none (zero-argument constructors).
type Action struct {
	Type    ActionType `json:"type"`
	Payload Value      `json:"payload,omitempty"`
}

// InitAction returns the synthetic initialization action.
func InitAction() Action {
	return Action{Type: InitType}
}

// HasPayload reports whether the action carries a payload.
func (a Action) HasPayload() bool {
	return a.Payload != nil
}

// Validate checks that the action is well formed.
// An action without a type is a contract violation, never a silent no-op.
func (a Action) Validate() error {
	if a.Type == "" {
		return ValidationError{Field: "type", Message: "action type is required"}
	}
	if !utf8.ValidString(string(a.Type)) {
		return ValidationError{Field: "type", Message: fmt.Sprintf("action type %q is not valid UTF-8", string(a.Type))}
	}
	return nil
}

// String renders the action as type or type(payload) for logs.
func (a Action) String() string {
	if a.Payload == nil {
		return string(a.Type)
	}
	payload, err := MarshalCanonical(a.Payload)
	if err != nil {
		return fmt.Sprintf("%s(<%v>)", a.Type, err)
	}
	return fmt.Sprintf("%s(%s)", a.Type, payload)
}

// UnmarshalJSON implements json.Unmarshaler for Action.
func (a *Action) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type    ActionType      `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.Type = raw.Type
	a.Payload = nil
	if len(raw.Payload) > 0 {
		v, err := ParseJSON(raw.Payload)
		if err != nil {
			return fmt.Errorf("action %s payload: %w", raw.Type, err)
		}
		a.Payload = v
	}
	return nil
}

// ValidationError represents a validation error with field path and message.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
