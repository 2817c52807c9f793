package task_test

import (
	"testing"

	"github.com/aikernel/core/internal/mm"
	"github.com/aikernel/core/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestForkReturnValues is scenario S3: a parent with pid 1 (the first
// Bootstrap'd task) forks; the child gets the next pid, the child's x0
// is zero, and both end up Ready.
func TestForkReturnValues(t *testing.T) {
	buddy := mm.NewBuddy(0, 64)
	alloc := mm.NewAllocator(buddy)

	table := task.NewTable()
	parent := table.Bootstrap(mm.NewAddressSpace(alloc))
	parent.Trap.Regs[0] = 99 // arbitrary pre-fork value, unrelated to the child's x0

	childPID, err := table.DoFork(parent.PID, alloc)
	require.NoError(t, err)
	assert.NotEqual(t, parent.PID, childPID)

	child, ok := table.Get(childPID)
	require.True(t, ok)
	assert.Equal(t, parent.PID, child.PPID)
	assert.Equal(t, uint64(0), child.Trap.Regs[0], "child's x0 must be zero")
	assert.Equal(t, task.StateReady, child.State)
	assert.Equal(t, task.StateReady, parent.State)
	assert.Contains(t, parent.Children, childPID)
}

func TestForkCountTracksSuccessfulForks(t *testing.T) {
	buddy := mm.NewBuddy(0, 64)
	alloc := mm.NewAllocator(buddy)

	table := task.NewTable()
	parent := table.Bootstrap(mm.NewAddressSpace(alloc))
	assert.Equal(t, uint64(0), table.ForkCount())

	_, err := table.DoFork(parent.PID, alloc)
	require.NoError(t, err)
	_, err = table.DoFork(parent.PID, alloc)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), table.ForkCount())
}

func TestForkIndependentAddressSpaces(t *testing.T) {
	buddy := mm.NewBuddy(0, 64)
	alloc := mm.NewAllocator(buddy)

	table := task.NewTable()
	as := mm.NewAddressSpace(alloc)
	require.NoError(t, as.MapFixed(0x4000, 0x5000, mm.VMARead|mm.VMAWrite))
	parent := table.Bootstrap(as)

	childPID, err := table.DoFork(parent.PID, alloc)
	require.NoError(t, err)
	child, _ := table.Get(childPID)

	assert.NotSame(t, parent.MM, child.MM, "fork must give the child a distinct AddressSpace")
}
