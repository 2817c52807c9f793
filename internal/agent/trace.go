package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aikernel/core/internal/kerrors"
)

const spanBatchSize = 100
const spanFileRotateBytes = 64 * 1024

// PolicyCheck mirrors one capability check the meta-agent consulted
// before acting (§3.6 "DecisionTrace").
type PolicyCheck struct {
	Name   string
	Result Verdict
}

// Telemetry is the snapshot a decision was made against (§3.6).
type Telemetry struct {
	MemPressure    float64
	DeadlineMisses int
}

// DecisionTrace is one meta-agent decision (§3.6, §4.10.4).
type DecisionTrace struct {
	TraceID        trace.SpanID
	Timestamp      time.Time
	ModelVersion   string
	Action         string
	Confidence     float64
	Executed       bool
	OverrideReason string
	Telemetry      Telemetry
	PolicyChecks   []PolicyCheck
}

// NewTraceID derives a trace id from the first 8 bytes of a v4 UUID,
// rendered as 16 hex chars (SPEC_FULL.md domain-stack wiring for
// github.com/google/uuid).
func NewTraceID() trace.SpanID {
	id := uuid.New()
	var sid trace.SpanID
	copy(sid[:], id[:8])
	return sid
}

// spanJSON is the on-disk JSON shape written to /otel/spans.json. The
// exporter does not speak the OTLP/gRPC wire protocol (no
// hand-authored protoc stubs in this repo); it is the literal JSON
// batch-file contract of §4.10.4.
type spanJSON struct {
	TraceID         string            `json:"trace_id"`
	SpanID          string            `json:"span_id"`
	StartTimeUnixNS int64             `json:"start_time_unix_nano"`
	EndTimeUnixNS   int64             `json:"end_time_unix_nano"`
	Status          string            `json:"status"`
	StatusReason    string            `json:"status_reason,omitempty"`
	Attributes      map[string]string `json:"attributes"`
	Events          []string          `json:"events"`
}

func attributesFor(d DecisionTrace) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("model.version", d.ModelVersion),
		attribute.String("action", d.Action),
		attribute.Float64("confidence", d.Confidence),
		attribute.Float64("telemetry.mem_pressure", d.Telemetry.MemPressure),
		attribute.Int("telemetry.deadline_misses", d.Telemetry.DeadlineMisses),
	}
}

func toSpan(d DecisionTrace) spanJSON {
	attrs := attributesFor(d)
	attrMap := make(map[string]string, len(attrs))
	for _, a := range attrs {
		attrMap[string(a.Key)] = a.Value.Emit()
	}

	events := make([]string, 0, len(d.PolicyChecks))
	for _, pc := range d.PolicyChecks {
		events = append(events, fmt.Sprintf("policy_check:%s=%s", pc.Name, pc.Result))
	}

	status := "Ok"
	reason := ""
	if !d.Executed {
		status = "Error"
		reason = d.OverrideReason
	}

	idHex := d.TraceID.String() // 16 hex chars

	return spanJSON{
		TraceID:         idHex,
		SpanID:          idHex,
		StartTimeUnixNS: d.Timestamp.UnixNano(),
		EndTimeUnixNS:   d.Timestamp.Add(1000 * time.Microsecond).UnixNano(),
		Status:          status,
		StatusReason:    reason,
		Attributes:      attrMap,
		Events:          events,
	}
}

// decisionRecord is the one-JSON-object-per-line shape appended to
// /var/log/decisions.json.
type decisionRecord struct {
	TraceID        string    `json:"trace_id"`
	Timestamp      time.Time `json:"timestamp"`
	ModelVersion   string    `json:"model_version"`
	Action         string    `json:"action"`
	Confidence     float64   `json:"confidence"`
	Executed       bool      `json:"executed"`
	OverrideReason string    `json:"override_reason,omitempty"`
}

// MetaAgent consumes telemetry-driven decisions, logs them, and
// (when tracing is enabled) exports OTel-shaped spans in batches
// (§4.10.4).
type MetaAgent struct {
	mu            sync.Mutex
	kernelLog     io.Writer
	spansPath     string
	decisionsPath string
	tracing       bool
	pending       []spanJSON
}

func NewMetaAgent(kernelLog io.Writer, spansPath, decisionsPath string, tracingEnabled bool) *MetaAgent {
	return &MetaAgent{kernelLog: kernelLog, spansPath: spansPath, decisionsPath: decisionsPath, tracing: tracingEnabled}
}

// EnableTracing toggles the decision-traces feature (`otelctl enable-tracing`).
func (m *MetaAgent) EnableTracing(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracing = on
}

// Record appends d to the kernel log and the decisions file, and (if
// tracing is enabled) queues its OTel span, flushing every 100.
func (m *MetaAgent) Record(d DecisionTrace) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fmt.Fprintf(m.kernelLog, "[TRACE] decision action=%s confidence=%.3f executed=%v trace_id=%s\n",
		d.Action, d.Confidence, d.Executed, d.TraceID.String())

	if err := m.appendDecisionRecordLocked(d); err != nil {
		return err
	}

	if m.tracing {
		m.pending = append(m.pending, toSpan(d))
		if len(m.pending) >= spanBatchSize {
			return m.flushSpansLocked()
		}
	}
	return nil
}

func (m *MetaAgent) appendDecisionRecordLocked(d DecisionTrace) error {
	rec := decisionRecord{
		TraceID: d.TraceID.String(), Timestamp: d.Timestamp, ModelVersion: d.ModelVersion,
		Action: d.Action, Confidence: d.Confidence, Executed: d.Executed, OverrideReason: d.OverrideReason,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return kerrors.InvalidArgument(err)
	}
	f, err := os.OpenFile(m.decisionsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return kerrors.Unavailable(err)
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

// ExportTraces forces a flush of any pending spans (`otelctl export-traces`).
func (m *MetaAgent) ExportTraces() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushSpansLocked()
}

func (m *MetaAgent) flushSpansLocked() error {
	if len(m.pending) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, s := range m.pending {
		b, err := json.Marshal(s)
		if err != nil {
			return kerrors.InvalidArgument(err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	m.pending = nil

	var curSize int64
	if info, err := os.Stat(m.spansPath); err == nil {
		curSize = info.Size()
	} else if !os.IsNotExist(err) {
		return kerrors.Unavailable(err)
	}

	if curSize+int64(buf.Len()) > spanFileRotateBytes {
		backup := m.spansPath + ".bak"
		os.Rename(m.spansPath, backup)
	}

	f, err := os.OpenFile(m.spansPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return kerrors.Unavailable(err)
	}
	defer f.Close()
	_, err = f.Write(buf.Bytes())
	return err
}

// PendingSpans returns how many spans are buffered awaiting flush.
func (m *MetaAgent) PendingSpans() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
