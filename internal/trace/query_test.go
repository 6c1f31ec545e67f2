package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Compile(t *testing.T) {
	tests := []struct {
		name     string
		filter   Filter
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "zero filter",
			filter:  Filter{},
			wantSQL: orderBy,
		},
		{
			name:     "flow",
			filter:   Filter{FlowToken: "flow-1"},
			wantSQL:  "WHERE flow_token = ?\n" + orderBy,
			wantArgs: []any{"flow-1"},
		},
		{
			name:     "all fields",
			filter:   Filter{FlowToken: "flow-1", Type: "counter/increment", Failed: true},
			wantSQL:  "WHERE flow_token = ? AND action_type = ? AND error != ''\n" + orderBy,
			wantArgs: []any{"flow-1", "counter/increment"},
		},
		{
			name:     "values are bound, never interpolated",
			filter:   Filter{FlowToken: "x' OR '1'='1"},
			wantSQL:  "WHERE flow_token = ?\n" + orderBy,
			wantArgs: []any{"x' OR '1'='1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := tt.filter.compile()
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestQuery(t *testing.T) {
	l := createTestLog(t)
	ctx := context.Background()

	failed := createTestRecord("id-2", "flow-a", "counter/incrementByAmount", 2, 1)
	failed.Changed = false
	failed.Error = "REDUCER_FAILED: boom"

	// Written out of order to check the ordering
	for _, rec := range []Record{
		createTestRecord("id-3", "flow-b", "counter/increment", 3, 2),
		failed,
		createTestRecord("id-1", "flow-a", "counter/increment", 1, 1),
	} {
		require.NoError(t, l.Write(ctx, rec))
	}

	seqs := func(records []Record) []int64 {
		out := []int64{}
		for _, r := range records {
			out = append(out, r.Seq)
		}
		return out
	}

	all, err := l.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, seqs(all))

	byType, err := l.Query(ctx, Filter{FlowToken: "flow-a", Type: "counter/increment"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, seqs(byType))

	onlyFailed, err := l.Query(ctx, Filter{Failed: true})
	require.NoError(t, err)
	require.Len(t, onlyFailed, 1)
	assert.Equal(t, "REDUCER_FAILED: boom", onlyFailed[0].Error)

	none, err := l.Query(ctx, Filter{FlowToken: "no-such-flow"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
