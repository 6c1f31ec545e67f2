package trace

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/slicestore/internal/ir"
)

// Record is one row of the dispatch trace.
type Record struct {
	Seq       int64
	ID        string
	FlowToken string
	Type      ir.ActionType
	Payload   ir.Value // nil when the action carried none
	Changed   bool
	Version   int64
	State     ir.Value
	StateHash string
	Error     string
}

// Action returns the action this record describes.
func (r Record) Action() ir.Action {
	return ir.Action{Type: r.Type, Payload: r.Payload}
}

// payloadKind names the top-level kind of a payload so that non-finite
// numbers, which canonical JSON writes as strings, read back as numbers.
func payloadKind(v ir.Value) string {
	switch v.(type) {
	case ir.Number:
		return "number"
	case ir.String:
		return "string"
	case ir.Bool:
		return "bool"
	case ir.Null:
		return "null"
	case ir.Array:
		return "array"
	case ir.Object:
		return "object"
	default:
		return ""
	}
}

// marshalPayload converts a payload to canonical JSON TEXT for storage.
func marshalPayload(v ir.Value) (payload, kind sql.NullString, err error) {
	if v == nil {
		return sql.NullString{}, sql.NullString{}, nil
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return sql.NullString{}, sql.NullString{}, fmt.Errorf("marshal payload: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true},
		sql.NullString{String: payloadKind(v), Valid: true},
		nil
}

// unmarshalPayload parses a stored payload back into a Value.
func unmarshalPayload(payload, kind sql.NullString) (ir.Value, error) {
	if !payload.Valid {
		return nil, nil
	}
	if kind.String == "number" {
		var n ir.Number
		if err := json.Unmarshal([]byte(payload.String), &n); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return n, nil
	}
	v, err := ir.ParseJSON([]byte(payload.String))
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return v, nil
}

// marshalState converts a state tree to canonical JSON TEXT and its hash.
func marshalState(v ir.Value) (text, hash string, err error) {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", "", fmt.Errorf("marshal state: %w", err)
	}
	hash, err = ir.StateHash(v)
	if err != nil {
		return "", "", err
	}
	return string(data), hash, nil
}

// unmarshalState parses stored canonical state JSON.
func unmarshalState(text string) (ir.Value, error) {
	v, err := ir.ParseJSON([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return v, nil
}
