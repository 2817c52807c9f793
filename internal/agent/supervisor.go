package agent

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aikernel/core/internal/kerrors"
)

// EdgeKind classifies a dependency edge (§3.6 "DependencyGraph"). A
// Required edge cascades the dependent's exit when the dependency
// exits; Optional and Peer do not.
type EdgeKind int

const (
	Required EdgeKind = iota
	Optional
	Peer
)

// DependencyGraph holds forward and reverse dependency edges between
// agent ids (§4.10.3).
type DependencyGraph struct {
	nodes   map[string]bool
	forward map[string]map[string]EdgeKind // dependent -> dependency -> kind
	reverse map[string]map[string]EdgeKind // dependency -> dependent -> kind
}

func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes:   make(map[string]bool),
		forward: make(map[string]map[string]EdgeKind),
		reverse: make(map[string]map[string]EdgeKind),
	}
}

// AddNode registers an agent id so dependency edges can reference it.
func (d *DependencyGraph) AddNode(id string) {
	d.nodes[id] = true
	if d.forward[id] == nil {
		d.forward[id] = make(map[string]EdgeKind)
	}
	if d.reverse[id] == nil {
		d.reverse[id] = make(map[string]EdgeKind)
	}
}

// AddDependency records that dependent depends on dependency with the
// given kind. Both endpoints must already exist; self-loops are
// rejected; re-adding an existing edge is a no-op (dedup).
func (d *DependencyGraph) AddDependency(dependent, dependency string, kind EdgeKind) error {
	if !d.nodes[dependent] || !d.nodes[dependency] {
		return kerrors.InvalidArgument(kerrors.New("agent: supervisor: both endpoints must exist before adding a dependency"))
	}
	if dependent == dependency {
		return kerrors.InvalidArgument(kerrors.New("agent: supervisor: self-dependency rejected: " + dependent))
	}
	if _, exists := d.forward[dependent][dependency]; exists {
		return nil
	}
	d.forward[dependent][dependency] = kind
	d.reverse[dependency][dependent] = kind

	if d.hasCycle() {
		delete(d.forward[dependent], dependency)
		delete(d.reverse[dependency], dependent)
		return kerrors.InvalidArgument(kerrors.New("agent: supervisor: dependency would introduce a cycle"))
	}
	return nil
}

// hasCycle runs recursive DFS with a visited set and recursion stack
// over forward edges (§4.10.3).
func (d *DependencyGraph) hasCycle() bool {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string) bool
	visit = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		for dep := range d.forward[id] {
			if onStack[dep] {
				return true
			}
			if !visited[dep] && visit(dep) {
				return true
			}
		}
		onStack[id] = false
		return false
	}

	for id := range d.nodes {
		if !visited[id] {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// CascadeExits computes the transitive set of dependents that must
// also exit when root exits (§4.10.3, scenario S6): a DFS over reverse
// edges, following only Required-kind edges.
func (d *DependencyGraph) CascadeExits(root string) []string {
	visited := make(map[string]bool)
	var order []string

	var visit func(id string)
	visit = func(id string) {
		for dependent, kind := range d.reverse[id] {
			if kind != Required || visited[dependent] {
				continue
			}
			visited[dependent] = true
			order = append(order, dependent)
			visit(dependent)
		}
	}
	visit(root)
	return order
}

// WindowSnapshot is one second-granularity resource accounting window
// (§3.6 "AgentResourceMonitor").
type WindowSnapshot struct {
	Timestamp time.Time
	CPUMicros int64
	MemBytes  int64
	Syscalls  int64
	IOOps     int64
}

const monitorWindowCount = 60

// windowHistory is a fixed-capacity circular buffer of WindowSnapshot,
// overwriting the oldest window once monitorWindowCount is reached
// (§4.10.3 "retaining the last 60"). Unlike a general-purpose ring
// buffer this is sized and typed for exactly one caller, so it carries
// no capacity argument or generics.
type windowHistory struct {
	windows [monitorWindowCount]WindowSnapshot
	head    int // next write position
	count   int // number of valid windows, saturating at monitorWindowCount
}

func (h *windowHistory) push(w WindowSnapshot) {
	h.windows[h.head] = w
	h.head = (h.head + 1) % monitorWindowCount
	if h.count < monitorWindowCount {
		h.count++
	}
}

// snapshot returns the recorded windows oldest-first.
func (h *windowHistory) snapshot() []WindowSnapshot {
	if h.count == 0 {
		return nil
	}
	out := make([]WindowSnapshot, h.count)
	if h.count < monitorWindowCount {
		copy(out, h.windows[:h.count])
		return out
	}
	n := copy(out, h.windows[h.head:])
	copy(out[n:], h.windows[:h.head])
	return out
}

// AgentResourceMonitor tracks one agent's resource usage in rolling
// one-second windows, retaining the last 60 (§4.10.3).
type AgentResourceMonitor struct {
	history windowHistory

	windowStart time.Time
	current     WindowSnapshot

	lifetimeCPUMicros int64
	lifetimeIOOps     int64
	lifetimeSyscalls  int64

	now func() time.Time
}

func NewAgentResourceMonitor(now func() time.Time) *AgentResourceMonitor {
	if now == nil {
		now = time.Now
	}
	return &AgentResourceMonitor{windowStart: now(), now: now}
}

// rolloverLocked snapshots the current window into history and resets
// per-window counters (memory persists as the current level) whenever
// the wall clock has crossed a one-second boundary.
func (m *AgentResourceMonitor) rolloverLocked() {
	t := m.now()
	for t.Sub(m.windowStart) >= time.Second {
		m.current.Timestamp = m.windowStart
		m.history.push(m.current)
		carryMem := m.current.MemBytes
		m.current = WindowSnapshot{MemBytes: carryMem}
		m.windowStart = m.windowStart.Add(time.Second)
	}
}

// Charge records a resource charge, first checking the wall clock and
// rolling the window over if a boundary was crossed (§4.10.3).
func (m *AgentResourceMonitor) Charge(cpuMicros, memBytes, syscalls, ioOps int64) {
	m.rolloverLocked()
	m.current.CPUMicros += cpuMicros
	m.current.MemBytes = memBytes
	m.current.Syscalls += syscalls
	m.current.IOOps += ioOps
	m.lifetimeCPUMicros += cpuMicros
	m.lifetimeSyscalls += syscalls
	m.lifetimeIOOps += ioOps
}

// CPUUsageRate sums CPU μs across the last min(n, history) windows
// and divides by total elapsed μs to produce a percent (§4.10.3).
func (m *AgentResourceMonitor) CPUUsageRate(n int) float64 {
	m.rolloverLocked()
	windows := m.history.snapshot()
	if n < len(windows) {
		windows = windows[len(windows)-n:]
	}
	if len(windows) == 0 {
		return 0
	}
	var sum int64
	for _, w := range windows {
		sum += w.CPUMicros
	}
	elapsed := int64(len(windows)) * int64(time.Second/time.Microsecond)
	if elapsed == 0 {
		return 0
	}
	return float64(sum) / float64(elapsed) * 100
}

// PeakMemory returns the maximum memory level over history ∪ {current}
// (§4.10.3).
func (m *AgentResourceMonitor) PeakMemory() int64 {
	m.rolloverLocked()
	peak := m.current.MemBytes
	for _, w := range m.history.snapshot() {
		if w.MemBytes > peak {
			peak = w.MemBytes
		}
	}
	return peak
}

// Supervisor composes the dependency graph and per-agent resource
// monitors (§4.10.3).
type Supervisor struct {
	Deps     *DependencyGraph
	monitors map[string]*AgentResourceMonitor
	now      func() time.Time
}

func NewSupervisor(now func() time.Time) *Supervisor {
	return &Supervisor{Deps: NewDependencyGraph(), monitors: make(map[string]*AgentResourceMonitor), now: now}
}

// AddAgent registers an agent with the dependency graph and gives it a
// fresh resource monitor.
func (s *Supervisor) AddAgent(id string) {
	s.Deps.AddNode(id)
	s.monitors[id] = NewAgentResourceMonitor(s.now)
}

// Monitor returns the resource monitor for id, or nil if unknown.
func (s *Supervisor) Monitor(id string) *AgentResourceMonitor {
	return s.monitors[id]
}

// RollOverAll forces a window-boundary check across every agent
// concurrently, fanning out with errgroup (SPEC_FULL.md domain-stack
// wiring for golang.org/x/sync).
func (s *Supervisor) RollOverAll(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for _, mon := range s.monitors {
		mon := mon
		g.Go(func() error {
			mon.rolloverLocked()
			return nil
		})
	}
	return g.Wait()
}

// RemoveAgent implements the supervisor's removal path (SPEC_FULL.md
// "Agent removal cleanup"): computes the cascade-exit set before
// dropping the agent's own monitor and dependency edges.
func (s *Supervisor) RemoveAgent(id string) []string {
	cascade := s.Deps.CascadeExits(id)
	delete(s.monitors, id)
	delete(s.Deps.nodes, id)
	for dep := range s.Deps.forward[id] {
		delete(s.Deps.reverse[dep], id)
	}
	delete(s.Deps.forward, id)
	for dependent := range s.Deps.reverse[id] {
		delete(s.Deps.forward[dependent], id)
	}
	delete(s.Deps.reverse, id)
	return cascade
}
