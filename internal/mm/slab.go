package mm

import (
	"fmt"
	"math/bits"
	"sync"
)

// SlabSizeClasses are the fixed object sizes the slab allocator serves
// directly; anything larger falls back to the general heap (§4.3).
var SlabSizeClasses = [...]int{16, 32, 64, 128, 256}

// objectsPerSlab is chosen so a slab is exactly one PageSize frame for
// every size class (a bitmap of objectsPerSlab bits tracks occupancy).
func objectsPerSlab(objSize int) int {
	return PageSize / objSize
}

// slab is one PageSize frame carved into fixed-size objects, tracked by a
// free bitmap. Allocation picks the lowest clear bit; deallocation clears
// the bit for the freed object (§4.3).
type slab struct {
	base   Frame
	bitmap []uint64 // 1 == allocated
	free   int      // count of clear bits
	total  int
}

func newSlab(base Frame, objSize int) *slab {
	total := objectsPerSlab(objSize)
	words := (total + 63) / 64
	return &slab{base: base, bitmap: make([]uint64, words), free: total, total: total}
}

func (s *slab) allocIndex() (int, bool) {
	for w, word := range s.bitmap {
		if word == ^uint64(0) {
			continue
		}
		// lowest clear bit in this word
		bit := bits.TrailingZeros64(^word)
		idx := w*64 + bit
		if idx >= s.total {
			continue
		}
		s.bitmap[w] |= 1 << uint(bit)
		s.free--
		return idx, true
	}
	return 0, false
}

func (s *slab) freeIndex(idx int) {
	w, bit := idx/64, idx%64
	s.bitmap[w] &^= 1 << uint(bit)
	s.free++
}

func (s *slab) empty() bool { return s.free == s.total }
func (s *slab) full() bool  { return s.free == 0 }

// SlabClass owns every full and partially used slab backing one fixed
// object size, drawing and returning whole frames from a Buddy allocator;
// a slab that becomes empty is returned at once rather than kept.
type SlabClass struct {
	mu      sync.Mutex
	objSize int
	buddy   *Buddy
	partial []*slab
	full    []*slab
}

func newSlabClass(objSize int, buddy *Buddy) *SlabClass {
	return &SlabClass{objSize: objSize, buddy: buddy}
}

// Alloc returns the address of a free object, growing the class by one
// frame from the buddy allocator if every existing slab is full.
func (c *SlabClass) Alloc() (uintptr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.partial) == 0 {
		frame, err := c.buddy.AllocPages(0)
		if err != nil {
			return 0, fmt.Errorf("mm: slab class %d: %w", c.objSize, err)
		}
		c.partial = append(c.partial, newSlab(frame, c.objSize))
	}

	s := c.partial[len(c.partial)-1]
	idx, ok := s.allocIndex()
	if !ok {
		// Shouldn't happen: a slab only stays on partial while it has room.
		return 0, fmt.Errorf("mm: slab class %d: partial slab reported full", c.objSize)
	}
	if s.full() {
		c.partial = c.partial[:len(c.partial)-1]
		c.full = append(c.full, s)
	}
	return uintptr(s.base) + uintptr(idx*c.objSize), nil
}

// Free clears the bit for the object at addr. A slab that becomes fully
// empty is released back to the buddy allocator; one that was full moves
// to the partial list.
func (c *SlabClass) Free(addr uintptr) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	find := func(list []*slab) (int, *slab) {
		for i, s := range list {
			base := uintptr(s.base)
			if addr >= base && addr < base+PageSize {
				return i, s
			}
		}
		return -1, nil
	}

	if i, s := find(c.full); s != nil {
		idx := int(addr-uintptr(s.base)) / c.objSize
		s.freeIndex(idx)
		c.full = append(c.full[:i], c.full[i+1:]...)
		if s.empty() {
			return c.buddy.FreePages(s.base, 0)
		}
		c.partial = append(c.partial, s)
		return nil
	}
	if i, s := find(c.partial); s != nil {
		idx := int(addr-uintptr(s.base)) / c.objSize
		s.freeIndex(idx)
		if s.empty() {
			c.partial = append(c.partial[:i], c.partial[i+1:]...)
			return c.buddy.FreePages(s.base, 0)
		}
		return nil
	}
	return fmt.Errorf("mm: slab class %d: address %#x not owned by this class", c.objSize, addr)
}

// Allocator composes a buddy allocator with one SlabClass per size class
// and falls back to direct buddy allocation for anything larger.
type Allocator struct {
	Buddy   *Buddy
	classes map[int]*SlabClass
}

func NewAllocator(buddy *Buddy) *Allocator {
	a := &Allocator{Buddy: buddy, classes: make(map[int]*SlabClass)}
	for _, sz := range SlabSizeClasses {
		a.classes[sz] = newSlabClass(sz, buddy)
	}
	return a
}

// classFor returns the smallest size class that satisfies a request of n
// bytes, or 0 if n exceeds every class (heap fallback).
func classFor(n int) int {
	for _, sz := range SlabSizeClasses {
		if n <= sz {
			return sz
		}
	}
	return 0
}

// Alloc serves a small object from the matching slab class, or falls
// back to the smallest power-of-two run of buddy pages that holds n
// bytes for anything bigger than the largest class.
func (a *Allocator) Alloc(n int) (uintptr, error) {
	if sz := classFor(n); sz != 0 {
		return a.classes[sz].Alloc()
	}
	order := 0
	need := (n + PageSize - 1) / PageSize
	for (1 << uint(order)) < need {
		order++
	}
	frame, err := a.Buddy.AllocPages(order)
	return uintptr(frame), err
}

// Free releases an object of size n previously returned by Alloc(n).
func (a *Allocator) Free(n int, addr uintptr) error {
	if sz := classFor(n); sz != 0 {
		return a.classes[sz].Free(addr)
	}
	order := 0
	need := (n + PageSize - 1) / PageSize
	for (1 << uint(order)) < need {
		order++
	}
	return a.Buddy.FreePages(Frame(addr), order)
}
