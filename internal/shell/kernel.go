// Package shell implements the line-oriented command and metric
// surface of §4.11: a cobra-based dispatcher tokenizing each input
// line and routing it to the subsystem it names.
package shell

import (
	"sync"

	"github.com/aikernel/core/internal/agent"
	"github.com/aikernel/core/internal/dataflow"
	"github.com/aikernel/core/internal/llm"
	"github.com/aikernel/core/internal/mm"
	"github.com/aikernel/core/internal/task"
)

// Kernel aggregates every subsystem the shell dispatches commands
// into. It is the process-wide state a `cmd/kernel` main wires up
// once at startup.
type Kernel struct {
	mu sync.Mutex

	Sched    *task.Scheduler
	Tasks    *task.Table
	Alloc    *mm.Allocator
	ShellPID uint32
	IdlePID  uint32

	Graph *dataflow.Graph

	Backend       llm.Backend
	TokenBudget   *llm.TokenBudget
	Registry      *llm.Registry
	shadowTraffic int

	Policy        *agent.PolicyEngine
	Gateway       *agent.Gateway
	Supervisor    *agent.Supervisor
	Meta          *agent.MetaAgent
	Replay        *agent.ReplayTransport
	DecisionsPath string

	autoctlEnabled bool
	tracingEnabled bool

	coordHistory []string
}

// NewKernel constructs a Kernel with an initial idle task and a fresh
// slab-backed allocator, ready to accept shell commands.
func NewKernel(registry *llm.Registry, backend llm.Backend, decisionsPath, spansPath string, kernelLogWriter interface {
	Write(p []byte) (int, error)
}) *Kernel {
	buddy := mm.NewBuddy(0, 1<<20) // 1M frames of scratch physical space for the shell's own bookkeeping
	alloc := mm.NewAllocator(buddy)

	idleMM := mm.NewAddressSpace(alloc)
	tasks := task.NewTable()
	idle := tasks.Bootstrap(idleMM)

	shellMM := mm.NewAddressSpace(alloc)
	shellTask := tasks.Bootstrap(shellMM)
	shellTask.Name = "shell"

	sched := task.NewScheduler(idle.PID)

	return &Kernel{
		Sched:         sched,
		Tasks:         tasks,
		Alloc:         alloc,
		IdlePID:       idle.PID,
		ShellPID:      shellTask.PID,
		Graph:         nil,
		Backend:       backend,
		Registry:      registry,
		Policy:        agent.NewPolicyEngine(),
		Gateway:       agent.NewGateway(func() *agent.RateLimiter { return agent.NewRateLimiter(60, 1, nil) }),
		Supervisor:    agent.NewSupervisor(nil),
		Meta:          agent.NewMetaAgent(kernelLogWriter, spansPath, decisionsPath, false),
		Replay:        agent.NewReplayTransport(),
		DecisionsPath: decisionsPath,
	}
}

func (k *Kernel) logCoord(line string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.coordHistory = append(k.coordHistory, line)
	if len(k.coordHistory) > 200 {
		k.coordHistory = k.coordHistory[len(k.coordHistory)-200:]
	}
}

func (k *Kernel) coordHistorySnapshot() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]string, len(k.coordHistory))
	copy(out, k.coordHistory)
	return out
}
