// Package task implements the task control block, fork/exec, and the
// dual classic-priority / CBS+EDF scheduler (§3.2, §3.3, §4.5, §4.6).
package task

import (
	"github.com/aikernel/core/internal/mm"
)

// State is a task's scheduling state (§3.2).
type State int

const (
	StateNew State = iota
	StateReady
	StateRunning
	StateSleeping
	StateStopped
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	case StateZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

const maxFileTable = 256

// FileTable is a fixed-size array of owned file handles. A negative
// entry marks an empty slot; a non-negative entry is an index into the
// process-independent open-file table owned by the VFS layer.
type FileTable [maxFileTable]int32

func newFileTable() FileTable {
	var ft FileTable
	for i := range ft {
		ft[i] = -1
	}
	return ft
}

// Credentials are a task's uid/gid pairs (§3.2).
type Credentials struct {
	UID, EUID uint32
	GID, EGID uint32
}

// TrapFrame is the architectural user-register snapshot taken on
// kernel entry and restored on return to EL0/userspace.
type TrapFrame struct {
	Regs   [31]uint64 // x0..x30
	SP     uint64
	PC     uint64
	PSTATE uint64
}

// CPUContext holds the callee-saved registers preserved across a
// context switch (§4.5) — distinct from TrapFrame, which is the
// syscall/exception entry snapshot.
type CPUContext struct {
	CalleeSaved [12]uint64 // x19..x30 in AArch64's AAPCS64
	SP          uint64
}

// SignalQueue is three bitsets plus 32 handler addresses (§3.2).
// SIGKILL (9) and SIGSTOP (19) can never be caught or blocked.
type SignalQueue struct {
	Pending  uint64
	Blocked  uint64
	IsCustom uint64 // bit set => handler-kind is a user handler, not default/ignore
	Handlers [32]uint64
}

const (
	SIGKILL = 9
	SIGSTOP = 19
)

// Raise sets the pending bit for sig. SIGKILL/SIGSTOP are always
// delivered regardless of the blocked mask.
func (sq *SignalQueue) Raise(sig int) {
	sq.Pending |= 1 << uint(sig)
}

// Deliverable reports whether sig is pending and not blocked (ignoring
// the blocked mask entirely for SIGKILL/SIGSTOP).
func (sq *SignalQueue) Deliverable(sig int) bool {
	if sig == SIGKILL || sig == SIGSTOP {
		return sq.Pending&(1<<uint(sig)) != 0
	}
	return sq.Pending&(1<<uint(sig)) != 0 && sq.Blocked&(1<<uint(sig)) == 0
}

// Block sets the blocked bit for sig, refusing SIGKILL/SIGSTOP.
func (sq *SignalQueue) Block(sig int) bool {
	if sig == SIGKILL || sig == SIGSTOP {
		return false
	}
	sq.Blocked |= 1 << uint(sig)
	return true
}

// CBSParams is the optional real-time overlay for a task (§3.3, §4.6).
type CBSParams struct {
	WCET     uint64 // worst-case execution time, nanoseconds
	Period   uint64 // nanoseconds
	Deadline uint64 // relative deadline, nanoseconds, WCET <= Deadline <= Period

	Budget          uint64 // current remaining budget, nanoseconds
	AbsDeadline     uint64 // current absolute deadline, nanoseconds since scheduler epoch
	LastReplenish   uint64 // nanoseconds since scheduler epoch
	DeadlineMisses  uint64
}

// Utilization returns wcet/period as a float64.
func (c *CBSParams) Utilization() float64 {
	if c.Period == 0 {
		return 0
	}
	return float64(c.WCET) / float64(c.Period)
}

// Task is the TCB (§3.2).
type Task struct {
	PID, PPID uint32
	State     State
	ExitCode  int32

	MM        *mm.AddressSpace
	Files     FileTable
	Creds     Credentials
	Trap      TrapFrame
	Ctx       CPUContext
	KStackID  uint64
	Name      string
	Children  []uint32
	Signals   SignalQueue
	CwdIno    uint64

	Priority int // classic scheduler priority; lower numeral = higher priority
	TimeSlice int

	CBS *CBSParams // nil unless this task opted into the real-time overlay
}
