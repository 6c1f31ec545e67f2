package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/slicestore/internal/counter"
	"github.com/roach88/slicestore/internal/engine"
	"github.com/roach88/slicestore/internal/store"
)

func runDispatchCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewDispatchCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestDispatch_Text(t *testing.T) {
	out, err := runDispatchCmd(t, "text",
		"counter/increment", "counter/incrementByAmount=5", "counter/decrement")
	require.NoError(t, err)

	assert.Contains(t, out, `state: {"counter":{"value":5}}`)
	assert.Contains(t, out, "count: 5")
}

func TestDispatch_JSON(t *testing.T) {
	out, err := runDispatchCmd(t, "json", "--flow", "flow-cli", "counter/increment", "other/unknown")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Dispatched int            `json:"dispatched"`
			FlowToken  string         `json:"flow_token"`
			Version    int64          `json:"version"`
			Count      float64        `json:"count"`
			State      map[string]any `json:"state"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Dispatched)
	assert.Equal(t, "flow-cli", resp.Data.FlowToken)
	assert.Equal(t, 1.0, resp.Data.Count)
	assert.Equal(t, int64(1), resp.Data.Version, "unknown type leaves the version unchanged")
	assert.Equal(t, map[string]any{"counter": map[string]any{"value": 1.0}}, resp.Data.State)
}

func TestDispatch_IncrementAsyncWaits(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the real async delay")
	}

	start := time.Now()
	out, err := runDispatchCmd(t, "text", "counter/incrementAsync=2", "counter/increment")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), counter.AsyncDelay)
	assert.Contains(t, out, "count: 3")
}

func TestDispatch_InvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		arg  string
		want string
	}{
		{"missing type", "=5", "missing action type"},
		{"payload not JSON", "counter/incrementByAmount={", "payload is not JSON"},
		{"async without amount", "counter/incrementAsync", "needs a numeric amount"},
		{"async with string amount", `counter/incrementAsync="2"`, "needs a numeric amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runDispatchCmd(t, "text", "counter/increment", tt.arg)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, tt.want)
			assert.NotContains(t, out, "count:", "nothing is dispatched when an argument is bad")
		})
	}
}

func TestDispatch_ReducerFailure(t *testing.T) {
	out, err := runDispatchCmd(t, "json", "counter/increment", `counter/incrementByAmount="x"`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeDispatchFailed, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "payload must be a number")
}

func TestDispatch_TraceDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "trace.db")

	_, err := runDispatchCmd(t, "text", "--trace-db", dbPath, "--flow", "flow-db",
		"counter/increment", "counter/incrementByAmount=4")
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", dbPath, "--verify"})
	require.NoError(t, cmd.Execute())

	resp := decodeTraceResponse(t, buf.Bytes())
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Timeline, 2)
	assert.Equal(t, "counter/incrementByAmount", resp.Data.Timeline[1].Type)
	assert.Equal(t, 4.0, resp.Data.Timeline[1].Payload)
	assert.Equal(t, []string{"flow-db"}, resp.Data.Stats.FlowTokens)
	require.NotNil(t, resp.Data.Verified)
	assert.True(t, *resp.Data.Verified)
}

func TestDispatch_ReplacesTraceByDefault(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "trace.db")

	_, err := runDispatchCmd(t, "text", "--trace-db", dbPath, "counter/increment", "counter/increment")
	require.NoError(t, err)
	_, err = runDispatchCmd(t, "text", "--trace-db", dbPath, "counter/decrement")
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", dbPath, "--verify"})
	require.NoError(t, cmd.Execute())

	resp := decodeTraceResponse(t, buf.Bytes())
	require.Len(t, resp.Data.Timeline, 1)
	assert.Equal(t, "counter/decrement", resp.Data.Timeline[0].Type)
	assert.Equal(t, int64(1), resp.Data.Timeline[0].Seq)
}

func TestParseDispatchArg(t *testing.T) {
	loop := engine.NewLoop()
	defer loop.Stop()

	msg, err := parseDispatchArg("counter/incrementByAmount=2.5", loop)
	require.NoError(t, err)
	assert.Equal(t, counter.IncrementByAmount(2.5), msg)

	msg, err = parseDispatchArg("counter/increment", loop)
	require.NoError(t, err)
	assert.Equal(t, counter.Increment(), msg)

	msg, err = parseDispatchArg("counter/incrementAsync=1", loop)
	require.NoError(t, err)
	_, ok := msg.(store.Thunk)
	assert.True(t, ok, "got %T", msg)
}
