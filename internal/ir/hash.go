package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainAction = "slicestore/action/v1"
	DomainState  = "slicestore/state/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ActionID computes the content-addressed id of one dispatch.
// The id is stable across runs given the same flow token, action and seq.
func ActionID(flowToken string, a Action, seq int64) (string, error) {
	obj := Object{
		"flow_token": String(flowToken),
		"type":       String(a.Type),
		"seq":        Number(seq),
	}
	if a.Payload != nil {
		obj["payload"] = a.Payload
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ActionID: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainAction, canonical), nil
}

// StateHash computes the hash of a whole-state snapshot in canonical form.
func StateHash(state Value) (string, error) {
	canonical, err := MarshalCanonical(state)
	if err != nil {
		return "", fmt.Errorf("StateHash: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainState, canonical), nil
}
