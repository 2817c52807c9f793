package agent_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aikernel/core/internal/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetaAgentRecordsDecisionAndKernelLog(t *testing.T) {
	dir := t.TempDir()
	var kernelLog bytes.Buffer
	m := agent.NewMetaAgent(&kernelLog, filepath.Join(dir, "spans.json"), filepath.Join(dir, "decisions.json"), true)

	d := agent.DecisionTrace{
		TraceID: agent.NewTraceID(), Timestamp: time.Now(), ModelVersion: "v1",
		Action: "scale_up", Confidence: 0.9, Executed: true,
	}
	require.NoError(t, m.Record(d))

	assert.Contains(t, kernelLog.String(), "[TRACE]")
	assert.Contains(t, kernelLog.String(), "scale_up")

	raw, err := os.ReadFile(filepath.Join(dir, "decisions.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "scale_up")
}

func TestMetaAgentFlushesSpansAtBatchSize(t *testing.T) {
	dir := t.TempDir()
	m := agent.NewMetaAgent(&bytes.Buffer{}, filepath.Join(dir, "spans.json"), filepath.Join(dir, "decisions.json"), true)

	for i := 0; i < 100; i++ {
		d := agent.DecisionTrace{TraceID: agent.NewTraceID(), Timestamp: time.Now(), Action: "a", Executed: true}
		require.NoError(t, m.Record(d))
	}
	assert.Equal(t, 0, m.PendingSpans(), "flush happens automatically at 100")

	raw, err := os.ReadFile(filepath.Join(dir, "spans.json"))
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
}

func TestMetaAgentSkipsTracingWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	m := agent.NewMetaAgent(&bytes.Buffer{}, filepath.Join(dir, "spans.json"), filepath.Join(dir, "decisions.json"), false)

	d := agent.DecisionTrace{TraceID: agent.NewTraceID(), Timestamp: time.Now(), Action: "a", Executed: true}
	require.NoError(t, m.Record(d))
	assert.Equal(t, 0, m.PendingSpans())

	_, err := os.Stat(filepath.Join(dir, "spans.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestMetaAgentMarksErrorStatusWhenNotExecuted(t *testing.T) {
	dir := t.TempDir()
	m := agent.NewMetaAgent(&bytes.Buffer{}, filepath.Join(dir, "spans.json"), filepath.Join(dir, "decisions.json"), true)

	d := agent.DecisionTrace{
		TraceID: agent.NewTraceID(), Timestamp: time.Now(), Action: "a",
		Executed: false, OverrideReason: "policy denied",
	}
	require.NoError(t, m.Record(d))
	require.NoError(t, m.ExportTraces())

	raw, err := os.ReadFile(filepath.Join(dir, "spans.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\"status\":\"Error\"")
	assert.Contains(t, string(raw), "policy denied")
}
