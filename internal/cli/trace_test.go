package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/slicestore/internal/config"
)

var scenariosDir = filepath.Join("..", "harness", "testdata", "scenarios")

// traceResponse mirrors the JSON trace output with plain Go values.
type traceResponse struct {
	Status string `json:"status"`
	Data   struct {
		Source   string `json:"source"`
		Timeline []struct {
			Seq       int64          `json:"seq"`
			FlowToken string         `json:"flow_token"`
			Type      string         `json:"type"`
			Payload   any            `json:"payload"`
			Changed   bool           `json:"changed"`
			Version   int64          `json:"version"`
			State     map[string]any `json:"state"`
			Error     string         `json:"error"`
		} `json:"timeline"`
		Stats    TraceStats `json:"stats"`
		Verified *bool      `json:"verified"`
	} `json:"data"`
	Error *CLIError `json:"error"`
}

func decodeTraceResponse(t *testing.T, data []byte) traceResponse {
	t.Helper()
	var resp traceResponse
	require.NoError(t, json.Unmarshal(data, &resp), "output: %s", data)
	return resp
}

func runTraceCmd(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTrace_ScenarioText(t *testing.T) {
	out, err := runTraceCmd(t, &RootOptions{Format: "text"}, filepath.Join(scenariosDir, "increment_async.yaml"))
	require.NoError(t, err)

	assert.Contains(t, out, "Trace: increment_async")
	assert.Contains(t, out, "SEQ")
	assert.Contains(t, out, "counter/incrementByAmount")
	assert.Contains(t, out, `{"counter":{"value":13}}`)
	assert.Contains(t, out, "2 dispatch(es), 2 changed, 0 failed, 1 flow(s)")
}

func TestTrace_ScenarioJSON(t *testing.T) {
	out, err := runTraceCmd(t, &RootOptions{Format: "json"}, filepath.Join(scenariosDir, "reducer_error.yaml"))
	require.NoError(t, err)

	resp := decodeTraceResponse(t, []byte(out))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "reducer_error", resp.Data.Source)
	require.Len(t, resp.Data.Timeline, 3)

	failed := resp.Data.Timeline[1]
	assert.Equal(t, "abc", failed.Payload)
	assert.False(t, failed.Changed)
	assert.Contains(t, failed.Error, "REDUCER_FAILED")

	assert.Equal(t, 3, resp.Data.Stats.TotalDispatches)
	assert.Equal(t, 2, resp.Data.Stats.Changed)
	assert.Equal(t, 1, resp.Data.Stats.Failed)
	assert.Equal(t, []string{"flow-err"}, resp.Data.Stats.FlowTokens)
	assert.Nil(t, resp.Data.Verified)
}

func TestTrace_ActionFilter(t *testing.T) {
	out, err := runTraceCmd(t, &RootOptions{Format: "json"},
		"--action", "counter/incrementByAmount", filepath.Join(scenariosDir, "counter_basic.yaml"))
	require.NoError(t, err)

	resp := decodeTraceResponse(t, []byte(out))
	require.Len(t, resp.Data.Timeline, 1)
	assert.Equal(t, "counter/incrementByAmount", resp.Data.Timeline[0].Type)
	assert.Equal(t, 5.0, resp.Data.Timeline[0].Payload)
}

func TestTrace_FlowFilter(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "trace.db")
	_, err := runDispatchCmd(t, "text", "--trace-db", dbPath, "--flow", "flow-a", "counter/increment")
	require.NoError(t, err)
	_, err = runDispatchCmd(t, "text", "--trace-db", dbPath, "--append", "--flow", "flow-b", "counter/decrement")
	require.NoError(t, err)

	out, err := runTraceCmd(t, &RootOptions{Format: "json"}, "--db", dbPath, "--flow", "flow-b")
	require.NoError(t, err)

	resp := decodeTraceResponse(t, []byte(out))
	require.Len(t, resp.Data.Timeline, 1)
	assert.Equal(t, "counter/decrement", resp.Data.Timeline[0].Type)
	assert.Equal(t, "flow-b", resp.Data.Timeline[0].FlowToken)
	assert.Equal(t, int64(2), resp.Data.Timeline[0].Seq, "appended run continues the seq numbering")
}

func TestTrace_VerifyDiverged(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "trace.db")

	cfg := config.Default()
	cfg.PreloadedState = map[string]any{"counter": map[string]any{"value": 10}}
	buf := &bytes.Buffer{}
	cmd := NewDispatchCommand(&RootOptions{Format: "text", Config: &cfg})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--trace-db", dbPath, "counter/increment"})
	require.NoError(t, cmd.Execute())
	require.Contains(t, buf.String(), "count: 11")

	// Replay without the preloaded state cannot reproduce the recorded states
	out, err := runTraceCmd(t, &RootOptions{Format: "json"}, "--db", dbPath, "--verify")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeTraceResponse(t, []byte(out))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeReplayDiverged, resp.Error.Code)
	require.NotNil(t, resp.Data.Verified)
	assert.False(t, *resp.Data.Verified)

	// With the same config the replay matches
	out, err = runTraceCmd(t, &RootOptions{Format: "text", Config: &cfg}, "--db", dbPath, "--verify")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Replay reproduces the trace")
}

func TestTrace_ArgumentErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"nothing to read", nil, "a scenario file or --db is required"},
		{"both sources", []string{"--db", "x.db", "s.yaml"}, "not both"},
		{"verify without db", []string{"--verify", "s.yaml"}, "--verify requires --db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runTraceCmd(t, &RootOptions{Format: "text"}, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestTrace_MissingDatabase(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.db")

	out, err := runTraceCmd(t, &RootOptions{Format: "text"}, "--db", missing)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "trace database not found")
	assert.NoFileExists(t, missing)
}

func TestTrace_EmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "trace.db")
	_, err := runDispatchCmd(t, "text", "--trace-db", dbPath, "--flow", "flow-a", "counter/increment")
	require.NoError(t, err)

	out, err := runTraceCmd(t, &RootOptions{Format: "text"}, "--db", dbPath, "--flow", "no-such-flow")
	require.NoError(t, err)
	assert.Contains(t, out, "No dispatches recorded.")
}

func TestTrace_FailedFilter(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "trace.db")
	_, err := runDispatchCmd(t, "text", "--trace-db", dbPath, "counter/increment", `counter/incrementByAmount="x"`)
	require.Error(t, err, "the failing dispatch is still recorded")

	out, err := runTraceCmd(t, &RootOptions{Format: "json"}, "--db", dbPath, "--failed", "--verify")
	require.NoError(t, err)

	resp := decodeTraceResponse(t, []byte(out))
	require.Len(t, resp.Data.Timeline, 1)
	assert.Equal(t, int64(2), resp.Data.Timeline[0].Seq)
	assert.Contains(t, resp.Data.Timeline[0].Error, "payload must be a number")
	assert.Equal(t, 1, resp.Data.Stats.Failed)
	require.NotNil(t, resp.Data.Verified)
	assert.True(t, *resp.Data.Verified)
}
