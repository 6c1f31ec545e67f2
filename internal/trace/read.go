package trace

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/slicestore/internal/ir"
)

const selectColumns = `
	SELECT seq, id, flow_token, action_type, payload, payload_kind, changed, version, state, state_hash, error
	FROM dispatches
`

// ReadAll returns every record with deterministic ordering.
// Results are ordered by seq ASC, id ASC.
//
// Returns an empty slice (not nil) if the trace is empty.
func (l *Log) ReadAll(ctx context.Context) ([]Record, error) {
	return l.Query(ctx, Filter{})
}

// ReadFlow returns the records of one flow with deterministic ordering.
func (l *Log) ReadFlow(ctx context.Context, flowToken string) ([]Record, error) {
	return l.Query(ctx, Filter{FlowToken: flowToken})
}

// ReadByType returns the records of one action type with deterministic
// ordering.
func (l *Log) ReadByType(ctx context.Context, t ir.ActionType) ([]Record, error) {
	return l.Query(ctx, Filter{Type: t})
}

// Read retrieves a single record by action id.
// Returns sql.ErrNoRows if not found.
func (l *Log) Read(ctx context.Context, id string) (Record, error) {
	row := l.db.QueryRowContext(ctx, selectColumns+`
		WHERE id = ?
	`, id)
	return scanRecord(row)
}

// Last returns the record with the highest seq.
// Returns sql.ErrNoRows if the trace is empty.
func (l *Log) Last(ctx context.Context) (Record, error) {
	row := l.db.QueryRowContext(ctx, selectColumns+`
		ORDER BY seq DESC
		LIMIT 1
	`)
	return scanRecord(row)
}

// Count returns the number of records.
func (l *Log) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dispatches`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dispatches: %w", err)
	}
	return n, nil
}

// CountByType returns the number of records of one action type.
func (l *Log) CountByType(ctx context.Context, t ir.ActionType) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dispatches WHERE action_type = ?
	`, string(t)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count dispatches of %s: %w", t, err)
	}
	return n, nil
}

// FlowTokens returns the distinct flow tokens in order of first appearance.
func (l *Log) FlowTokens(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT flow_token
		FROM dispatches
		GROUP BY flow_token
		ORDER BY MIN(seq) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query flow tokens: %w", err)
	}
	defer rows.Close()

	tokens := []string{}
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan flow token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flow tokens: %w", err)
	}
	return tokens, nil
}

func (l *Log) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispatches: %w", err)
	}
	return records, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		rec        Record
		actionType string
		payload    sql.NullString
		kind       sql.NullString
		state      string
	)
	err := s.Scan(
		&rec.Seq,
		&rec.ID,
		&rec.FlowToken,
		&actionType,
		&payload,
		&kind,
		&rec.Changed,
		&rec.Version,
		&state,
		&rec.StateHash,
		&rec.Error,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan dispatch: %w", err)
	}
	rec.Type = ir.ActionType(actionType)

	if rec.Payload, err = unmarshalPayload(payload, kind); err != nil {
		return Record{}, err
	}
	if rec.State, err = unmarshalState(state); err != nil {
		return Record{}, err
	}
	return rec, nil
}
