package mm

import "fmt"

// AddressSpace is one task's virtual memory: its root page table, its
// list of VMAs, and the allocator it draws frames from (§4.4).
type AddressSpace struct {
	Root  *PageTable
	VMAs  VMAList
	alloc *Allocator
}

// NewAddressSpace creates an empty address space backed by alloc.
func NewAddressSpace(alloc *Allocator) *AddressSpace {
	return &AddressSpace{Root: &PageTable{}, alloc: alloc}
}

// MapAnon establishes a new VMA and demand-zero-backs it lazily: no
// frames are allocated until the first page fault touches the range
// (§4.4 "Demand paging").
func (as *AddressSpace) MapAnon(start, end uintptr, flags VMAFlags) error {
	return as.VMAs.Insert(VMA{Start: start, End: end, Flags: flags})
}

// MapFixed establishes a VMA and eagerly backs every page with a fresh
// frame, used for the initial process image (text/data) rather than
// stack/heap growth.
func (as *AddressSpace) MapFixed(start, end uintptr, flags VMAFlags) error {
	if err := as.VMAs.Insert(VMA{Start: start, End: end, Flags: flags}); err != nil {
		return err
	}
	pteFlags := pteFlagsFor(VMA{Flags: flags})
	for va := start; va < end; va += PageSize {
		frame, err := as.alloc.Buddy.AllocPages(0)
		if err != nil {
			return fmt.Errorf("mm: backing [%#x,%#x): %w", start, end, err)
		}
		if err := MapUserPage(as.Root, va, frame, pteFlags); err != nil {
			return err
		}
	}
	return nil
}

// CloneAddressSpace implements fork's copy-on-write duplication (§4.4,
// S4): every present leaf, read-only ones included, is remapped
// read-only with FlagCOW set in BOTH the parent and child tables, the
// two leaves sharing one refcount that is bumped once per clone, so the
// backing frame is shared until either side writes to it.
func CloneAddressSpace(parent *AddressSpace, alloc *Allocator) (*AddressSpace, error) {
	child := NewAddressSpace(alloc)
	for _, v := range parent.VMAs.All() {
		if err := child.VMAs.Insert(v); err != nil {
			return nil, err
		}
		for va := v.Start; va < v.End; va += PageSize {
			pte, ok := Lookup(parent.Root, va)
			if !ok {
				continue
			}
			if pte.RefCount == nil {
				n := 1
				pte.RefCount = &n
			}
			*pte.RefCount++

			cowFlags := pte.Flags &^ FlagWrite
			cowFlags |= FlagCOW | FlagUXN

			if err := cowRemap(parent.Root, va, pte.Frame, cowFlags, pte.RefCount); err != nil {
				return nil, err
			}
			if err := cowRemap(child.Root, va, pte.Frame, cowFlags, pte.RefCount); err != nil {
				return nil, err
			}
		}
	}
	return child, nil
}

// cowRemap writes a leaf directly rather than through MapUserPage, so
// the shared RefCount pointer is preserved instead of reset. COW leaves
// never carry FlagWrite, so they satisfy W^X without that check.
func cowRemap(root *PageTable, va uintptr, pa Frame, flags PTFlags, refcount *int) error {
	pte, err := walk(root, va, true, func() (*PageTable, error) { return &PageTable{}, nil })
	if err != nil {
		return err
	}
	*pte = PTE{Valid: true, IsLeaf: true, Frame: pa, Flags: flags, RefCount: refcount}
	flushTLBEntry(va)
	return nil
}
