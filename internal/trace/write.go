package trace

import (
	"context"
	"fmt"
)

// Write inserts a dispatch record.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
// Other constraint violations (e.g., a reused seq) still return errors.
//
// Payload and State are serialized to canonical JSON so identical runs
// produce byte-identical traces. StateHash is computed here; any value set
// by the caller is ignored.
func (l *Log) Write(ctx context.Context, rec Record) error {
	payload, kind, err := marshalPayload(rec.Payload)
	if err != nil {
		return fmt.Errorf("write dispatch: %w", err)
	}

	state, hash, err := marshalState(rec.State)
	if err != nil {
		return fmt.Errorf("write dispatch: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO dispatches
		(seq, id, flow_token, action_type, payload, payload_kind, changed, version, state, state_hash, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.Seq,
		rec.ID,
		rec.FlowToken,
		string(rec.Type),
		payload,
		kind,
		rec.Changed,
		rec.Version,
		state,
		hash,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("write dispatch: %w", err)
	}

	return nil
}

// Reset deletes every record. dispatch calls it before each run that does
// not append.
func (l *Log) Reset(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM dispatches`); err != nil {
		return fmt.Errorf("reset trace: %w", err)
	}
	return nil
}
