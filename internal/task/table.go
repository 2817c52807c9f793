package task

import (
	"sync"

	"github.com/aikernel/core/internal/kerrors"
	"github.com/aikernel/core/internal/mm"
)

// Table is the process table: the pid allocator, the live task map, and
// the lock fork/exit/wait synchronize on (§4.5).
type Table struct {
	mu      sync.Mutex
	nextPID uint32
	tasks   map[uint32]*Task
	kstacks uint64
	forks   uint64 // cumulative fork count, surfaced via ForkCount
}

// NewTable creates an empty process table. PID 1 is reserved for the
// first task a caller inserts via Bootstrap.
func NewTable() *Table {
	return &Table{nextPID: 1, tasks: make(map[uint32]*Task)}
}

// Bootstrap inserts the first task (init) directly, bypassing fork.
func (t *Table) Bootstrap(mm *mm.AddressSpace) *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	pid := t.nextPID
	t.nextPID++
	tk := &Task{PID: pid, PPID: 0, State: StateReady, MM: mm, Files: newFileTable(), Name: "init"}
	t.tasks[pid] = tk
	return tk
}

// Get returns the task for pid, if live.
func (t *Table) Get(pid uint32) (*Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasks[pid]
	return tk, ok
}

// Remove deletes pid from the table (after a wait() reaps a zombie).
func (t *Table) Remove(pid uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tasks, pid)
}

// DoFork implements §4.5's do_fork: clone the parent's address space
// (copy-on-write, via mm.CloneAddressSpace), file table, credentials,
// trap frame and CPU context; zero the child's return-value register;
// assign a fresh pid and kernel stack; insert the child Ready.
//
// Returns the child pid, which do_fork's caller (the syscall layer)
// writes into the PARENT's x0; the child's own x0 is zeroed directly in
// its cloned trap frame per S3.
func (t *Table) DoFork(parentPID uint32, alloc *mm.Allocator) (childPID uint32, err error) {
	t.mu.Lock()
	parent, ok := t.tasks[parentPID]
	if !ok {
		t.mu.Unlock()
		return 0, kerrors.NotFound(kerrors.New("task: fork: no such parent pid"))
	}
	pid := t.nextPID
	t.nextPID++
	t.mu.Unlock()

	childMM, err := mm.CloneAddressSpace(parent.MM, alloc)
	if err != nil {
		// Unwind: release the pid so a later fork can reuse it.
		t.mu.Lock()
		if t.nextPID == pid+1 {
			t.nextPID = pid
		}
		t.mu.Unlock()
		return 0, kerrors.ResourceExhausted(err)
	}

	child := &Task{
		PID:   pid,
		PPID:  parentPID,
		State: StateReady,
		MM:    childMM,
		Files: parent.Files, // shallow: Arc-shared file objects in spirit
		Creds: parent.Creds,
		Trap:  parent.Trap,
		Ctx:   parent.Ctx,
		Name:  parent.Name,
		CwdIno: parent.CwdIno,
	}
	child.Trap.Regs[0] = 0 // child's x0 = 0 (S3)

	kstackID := t.allocKStack()
	child.KStackID = kstackID

	t.mu.Lock()
	parent.Children = append(parent.Children, pid)
	parent.State = StateReady
	t.tasks[pid] = child
	t.forks++
	t.mu.Unlock()

	return pid, nil
}

// Count returns the number of live tasks, for the shell's process/
// status commands.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

// ForkCount returns the cumulative number of successful forks, for the
// shell's process command.
func (t *Table) ForkCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.forks
}

func (t *Table) allocKStack() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.kstacks++
	return t.kstacks
}
