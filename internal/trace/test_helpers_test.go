package trace

import (
	"testing"

	"github.com/roach88/slicestore/internal/ir"
)

// createTestLog creates a new in-memory trace for testing.
func createTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

// createTestRecord creates a record with a one-slice state.
func createTestRecord(id, flowToken string, t ir.ActionType, seq int64, value float64) Record {
	return Record{
		Seq:       seq,
		ID:        id,
		FlowToken: flowToken,
		Type:      t,
		Changed:   true,
		Version:   seq,
		State:     ir.Object{"counter": ir.Object{"value": ir.Number(value)}},
	}
}
