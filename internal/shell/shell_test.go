package shell

import (
	"strings"
	"testing"

	"github.com/aikernel/core/internal/llm"
)

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	dir := t.TempDir()
	registry, err := llm.NewRegistry(dir+"/registry.json", dir+"/registry.log", "", "test-node")
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { registry.Close() })

	backend := llm.NewStubBackend()
	var logBuf strings.Builder
	return NewKernel(registry, backend, dir+"/decisions.json", dir+"/spans.json", &writerAdapter{&logBuf})
}

type writerAdapter struct{ b *strings.Builder }

func (w *writerAdapter) Write(p []byte) (int, error) { return w.b.Write(p) }

func dispatch(t *testing.T, sh *Shell, line string) string {
	t.Helper()
	out, err := sh.Dispatch(line)
	if err != nil {
		t.Fatalf("dispatch(%q): %v, out=%q", line, err, out)
	}
	return out
}

func TestTokenizeHonorsQuotedSpans(t *testing.T) {
	tokens, err := tokenize(`graphctl add-operator a --in "c1,c2" --out c3`)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	want := []string{"graphctl", "add-operator", "a", "--in", "c1,c2", "--out", "c3"}
	if len(tokens) != len(want) {
		t.Fatalf("got %v, want %v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Fatalf("token %d: got %q want %q", i, tokens[i], want[i])
		}
	}
}

func TestTokenizeRejectsUnterminatedQuote(t *testing.T) {
	if _, err := tokenize(`graphctl add-operator a --in "c1,c2`); err == nil {
		t.Fatal("expected error for unterminated quote")
	}
}

func TestDetOnAdmitsWithinUtilizationCeiling(t *testing.T) {
	k := newTestKernel(t)
	sh := NewShell(k)
	out := dispatch(t, sh, "det on 1000000 10000000 10000000")
	if !strings.Contains(out, "admitted=1") {
		t.Fatalf("expected admission, got %q", out)
	}
}

func TestDetOnRejectsOverUtilizationCeiling(t *testing.T) {
	k := newTestKernel(t)
	sh := NewShell(k)
	// First admission uses 0.4 of the 0.85 ceiling. Re-admitting the
	// same shell task with a heavier request (0.5) must be rejected:
	// the resulting utilization would exceed UMax.
	first := dispatch(t, sh, "det on 400000 1000000 1000000")
	if !strings.Contains(first, "admitted=1") {
		t.Fatalf("expected first admission, got %q", first)
	}
	out := dispatch(t, sh, "det on 500000 1000000 1000000")
	if !strings.Contains(out, "admitted=0") {
		t.Fatalf("expected second admission to be rejected (total would exceed 0.85), got %q", out)
	}
}

func TestDetStatusReflectsOffByDefault(t *testing.T) {
	k := newTestKernel(t)
	sh := NewShell(k)
	out := dispatch(t, sh, "det status")
	if !strings.Contains(out, "cbs_enabled=0") {
		t.Fatalf("expected cbs_enabled=0, got %q", out)
	}
}

func TestGraphctlCreateAddOperatorAndStart(t *testing.T) {
	k := newTestKernel(t)
	sh := NewShell(k)
	dispatch(t, sh, "graphctl create --num-operators 2")
	out := dispatch(t, sh, "graphctl add-operator a --in none --out c1")
	if !strings.Contains(out, "operators=1") {
		t.Fatalf("expected 1 operator, got %q", out)
	}
	dispatch(t, sh, `graphctl add-operator b --in "c1" --out c2`)
	out = dispatch(t, sh, "graphctl start 10")
	if !strings.Contains(out, "completed=1") {
		t.Fatalf("expected graph to complete, got %q", out)
	}
}

func TestLLMCtlLoadAndInfer(t *testing.T) {
	k := newTestKernel(t)
	sh := NewShell(k)
	out := dispatch(t, sh, "llmctl load --wcet-cycles 1000")
	if !strings.Contains(out, "loaded=1") {
		t.Fatalf("expected load, got %q", out)
	}
	out = dispatch(t, sh, "llminfer tag1 hello world")
	if !strings.Contains(out, "[TRACE]") {
		t.Fatalf("expected a trace line, got %q", out)
	}
}

func TestLLMCtlStatusBeforeLoad(t *testing.T) {
	k := newTestKernel(t)
	sh := NewShell(k)
	out := dispatch(t, sh, "llmctl status")
	if !strings.Contains(out, "loaded=0") {
		t.Fatalf("expected loaded=0, got %q", out)
	}
}

func TestVersionctlCommitListAndPromote(t *testing.T) {
	k := newTestKernel(t)
	sh := NewShell(k)
	dispatch(t, sh, "versionctl commit v1 --hash abc --desc first")
	dispatch(t, sh, "versionctl commit v2 --hash def --desc second")
	out := dispatch(t, sh, "versionctl list")
	if !strings.Contains(out, "version=v1") || !strings.Contains(out, "version=v2") {
		t.Fatalf("expected both versions listed, got %q", out)
	}

	k.Registry.Rollback("v1") // directly mark v1 Active so SetShadow on v2 is meaningful below
	out = dispatch(t, sh, "llmctl shadow-deploy --id v2 --traffic 10")
	if !strings.Contains(out, "shadow=v2") {
		t.Fatalf("expected shadow=v2, got %q", out)
	}

	out = dispatch(t, sh, "llmctl shadow-promote")
	if !strings.Contains(out, "promoted=v2") {
		t.Fatalf("expected promoted=v2, got %q", out)
	}

	active, shadow, rollback := k.Registry.CurrentRoles()
	if active != "v2" {
		t.Fatalf("expected v2 active after promote, got active=%q shadow=%q rollback=%q", active, shadow, rollback)
	}
}

func TestDeployctlStatusReflectsRoles(t *testing.T) {
	k := newTestKernel(t)
	sh := NewShell(k)
	dispatch(t, sh, "versionctl commit v1 --hash abc --desc first")
	k.Registry.Rollback("v1")
	out := dispatch(t, sh, "deployctl status")
	if !strings.Contains(out, "active=v1") {
		t.Fatalf("expected active=v1, got %q", out)
	}
}

func TestMailboxAllEmitsEveryField(t *testing.T) {
	k := newTestKernel(t)
	sh := NewShell(k)
	out := dispatch(t, sh, "mailbox all")
	for _, want := range []string{"temp_c", "board", "serial", "firmware_version", "mem_total_mb", "mem_total_human"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected mailbox all to include %q, got %q", want, out)
		}
	}
}

func TestCoordctlStatusSwitchesToJSONPayload(t *testing.T) {
	k := newTestKernel(t)
	sh := NewShell(k)
	out := dispatch(t, sh, "coordctl status --json")
	if strings.Contains(out, "METRIC") {
		t.Fatalf("expected no METRIC-format output under --json, got %q", out)
	}
	if !strings.Contains(out, `"tasks":2`) {
		t.Fatalf("expected JSON payload with tasks=2, got %q", out)
	}
}

func TestCoordctlHistorySwitchesToJSONPayload(t *testing.T) {
	k := newTestKernel(t)
	sh := NewShell(k)
	dispatch(t, sh, "coordctl stats")
	out := dispatch(t, sh, "coordctl history --json")
	if strings.Contains(out, "[TRACE]") {
		t.Fatalf("expected no [TRACE]-format output under --json, got %q", out)
	}
	if !strings.Contains(out, `"trace":"stats queried"`) {
		t.Fatalf("expected JSON trace payload, got %q", out)
	}
}

func TestAutoctlOnOffToggles(t *testing.T) {
	k := newTestKernel(t)
	sh := NewShell(k)
	dispatch(t, sh, "autoctl on")
	if !k.autoctlEnabled {
		t.Fatal("expected autoctlEnabled true after on")
	}
	dispatch(t, sh, "autoctl off")
	if k.autoctlEnabled {
		t.Fatal("expected autoctlEnabled false after off")
	}
}

func TestCoordctlStatusReportsTaskCount(t *testing.T) {
	k := newTestKernel(t)
	sh := NewShell(k)
	out := dispatch(t, sh, "coordctl status")
	if !strings.Contains(out, "tasks=2") {
		t.Fatalf("expected 2 bootstrapped tasks (idle+shell), got %q", out)
	}
}

func TestOtelctlEnableTracingThenExport(t *testing.T) {
	k := newTestKernel(t)
	sh := NewShell(k)
	dispatch(t, sh, "otelctl enable-tracing")
	if !k.tracingEnabled {
		t.Fatal("expected tracingEnabled true")
	}
	out := dispatch(t, sh, "otelctl export-traces")
	if !strings.Contains(out, "exported=1") {
		t.Fatalf("expected exported=1, got %q", out)
	}
}

func TestEmptyLineDispatchesNoop(t *testing.T) {
	k := newTestKernel(t)
	sh := NewShell(k)
	out := dispatch(t, sh, "   ")
	if out != "" {
		t.Fatalf("expected no output for blank line, got %q", out)
	}
}
