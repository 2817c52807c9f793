package mm_test

import (
	"testing"

	"github.com/aikernel/core/internal/mm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSpace(t *testing.T, numPages uint64) (*mm.AddressSpace, *mm.Allocator) {
	t.Helper()
	buddy := mm.NewBuddy(0, numPages)
	alloc := mm.NewAllocator(buddy)
	return mm.NewAddressSpace(alloc), alloc
}

// TestCOWFork is scenario S4: parent maps one page read-write, forks
// (CloneAddressSpace sets COW on both sides), child writes to its copy,
// and the two address spaces must end up backed by distinct frames
// while the parent's mapping is restored to writable on its own fault.
func TestCOWFork(t *testing.T) {
	parent, alloc := newSpace(t, 16)
	const page = 0x1000 * 4

	require.NoError(t, parent.MapFixed(page, page+mm.PageSize, mm.VMARead|mm.VMAWrite))
	parentPTE, ok := mm.Lookup(parent.Root, page)
	require.True(t, ok)
	originalFrame := parentPTE.Frame

	child, err := mm.CloneAddressSpace(parent, alloc)
	require.NoError(t, err)

	parentPTE, _ = mm.Lookup(parent.Root, page)
	childPTE, _ := mm.Lookup(child.Root, page)
	assert.NotZero(t, parentPTE.Flags&mm.FlagCOW, "parent leaf must be COW-tagged after fork")
	assert.NotZero(t, childPTE.Flags&mm.FlagCOW, "child leaf must be COW-tagged after fork")
	assert.Equal(t, originalFrame, parentPTE.Frame)
	assert.Equal(t, originalFrame, childPTE.Frame)

	// Child writes: triggers COW break, private frame allocated.
	kind, err := mm.HandlePageFault(child, page, true)
	require.NoError(t, err)
	assert.Equal(t, mm.FaultFixed, kind)

	childPTE, _ = mm.Lookup(child.Root, page)
	assert.NotEqual(t, originalFrame, childPTE.Frame, "child must receive a private frame on COW break")
	assert.NotZero(t, childPTE.Flags&mm.FlagWrite)

	// Parent's own write fault should now find refcount back at 1 and
	// simply regain write permission on the ORIGINAL frame.
	kind, err = mm.HandlePageFault(parent, page, true)
	require.NoError(t, err)
	assert.Equal(t, mm.FaultFixed, kind)
	parentPTE, _ = mm.Lookup(parent.Root, page)
	assert.Equal(t, originalFrame, parentPTE.Frame, "parent keeps the original frame")
	assert.NotZero(t, parentPTE.Flags&mm.FlagWrite)
}

func TestDemandZeroFault(t *testing.T) {
	as, _ := newSpace(t, 16)
	const page = 0x2000 * 4

	require.NoError(t, as.MapAnon(page, page+mm.PageSize, mm.VMARead|mm.VMAWrite))
	_, ok := mm.Lookup(as.Root, page)
	assert.False(t, ok, "anon VMA must not be backed until first fault")

	kind, err := mm.HandlePageFault(as, page, false)
	require.NoError(t, err)
	assert.Equal(t, mm.FaultFixed, kind)
	_, ok = mm.Lookup(as.Root, page)
	assert.True(t, ok)
}

func TestFaultWithNoVMAKillsTask(t *testing.T) {
	as, _ := newSpace(t, 16)
	kind, err := mm.HandlePageFault(as, 0x9000, false)
	assert.Error(t, err)
	assert.Equal(t, mm.FaultSegv, kind)
}

func TestStackGrowsDownWithinLimit(t *testing.T) {
	as, _ := newSpace(t, 16)
	const stackTop = 0x100000
	require.NoError(t, as.MapAnon(stackTop-mm.PageSize, stackTop, mm.VMARead|mm.VMAWrite|mm.VMAGrowsDown))

	kind, err := mm.HandlePageFault(as, stackTop-2*mm.PageSize, true)
	require.NoError(t, err)
	assert.Equal(t, mm.FaultFixed, kind)

	v, ok := as.VMAs.Find(stackTop - 2*mm.PageSize)
	require.True(t, ok)
	assert.Equal(t, uintptr(stackTop-2*mm.PageSize), v.Start)
}

func TestStackGrowBeyondLimitSegvs(t *testing.T) {
	as, _ := newSpace(t, 16)
	const stackTop = 0x100000
	require.NoError(t, as.MapAnon(stackTop-mm.PageSize, stackTop, mm.VMARead|mm.VMAWrite|mm.VMAGrowsDown))

	farBelow := uintptr(stackTop) - mm.StackGrowLimit - 2*mm.PageSize
	kind, err := mm.HandlePageFault(as, farBelow, true)
	assert.Error(t, err)
	assert.Equal(t, mm.FaultSegv, kind)
}

// TestVMANoOverlap is the universal VMA non-overlap property (§3.1).
func TestVMANoOverlap(t *testing.T) {
	as, _ := newSpace(t, 16)
	require.NoError(t, as.MapAnon(0x10000, 0x12000, mm.VMARead))
	err := as.MapAnon(0x11000, 0x13000, mm.VMARead)
	assert.Error(t, err, "overlapping VMA insertion must be rejected")
}

// TestWXInvariant is the universal W^X property (§3.1, §8): a leaf must
// never be simultaneously writable and executable.
func TestWXInvariant(t *testing.T) {
	err := mm.CheckWX(mm.FlagValid | mm.FlagWrite)
	assert.Error(t, err, "writable leaf lacking UXN must be rejected")

	err = mm.CheckWX(mm.FlagValid | mm.FlagWrite | mm.FlagUXN)
	assert.NoError(t, err)

	err = mm.CheckWX(mm.FlagValid | mm.FlagUXN)
	assert.NoError(t, err)
}
