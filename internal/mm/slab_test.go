package mm_test

import (
	"testing"

	"github.com/aikernel/core/internal/mm"
	"github.com/stretchr/testify/require"
)

func TestSlabAllocFreeReuse(t *testing.T) {
	buddy := mm.NewBuddy(0, 64)
	alloc := mm.NewAllocator(buddy)

	var addrs []uintptr
	for i := 0; i < 100; i++ {
		addr, err := alloc.Alloc(64)
		require.NoError(t, err)
		addrs = append(addrs, addr)
	}

	for _, a := range addrs {
		require.NoError(t, alloc.Free(64, a))
	}

	// Every slab should be returned to the buddy allocator once drained.
	require.Equal(t, map[int]int{6: 1}, buddy.FreeBlocks(), "both slab frames coalesce back into the original 64-page block")
	addr, err := alloc.Alloc(64)
	require.NoError(t, err)
	require.NoError(t, alloc.Free(64, addr))
}
