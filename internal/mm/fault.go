package mm

import "fmt"

// FaultKind classifies a page-fault outcome for the caller (scheduler /
// syscall layer) to act on.
type FaultKind int

const (
	// FaultFixed means the fault was resolved in-kernel; the faulting
	// instruction should be retried.
	FaultFixed FaultKind = iota
	// FaultSegv means no VMA covers the address (or a permission the VMA
	// doesn't grant was required): the task must be killed (§4.4, §7).
	FaultSegv
)

// StackGrowLimit bounds how far a VMAGrowsDown area will auto-extend
// downward in response to a fault below its current Start (§4.4).
const StackGrowLimit = 8 * 1024 * 1024 // 8 MiB, mirrors a conventional stack ulimit

// HandlePageFault implements §4.4's fault resolution: demand-zero for a
// VMA with no backing frame yet, copy-on-write duplication for a write
// fault against a FlagCOW leaf, guarded downward growth for a
// VMAGrowsDown area, and SIGSEGV (via FaultSegv) for everything else.
func HandlePageFault(as *AddressSpace, addr uintptr, write bool) (FaultKind, error) {
	va := addr &^ (PageSize - 1)

	v, ok := as.VMAs.Find(va)
	if !ok {
		grown, gerr := tryGrowDown(as, va)
		if gerr != nil {
			return FaultSegv, gerr
		}
		if !grown {
			return FaultSegv, fmt.Errorf("mm: no VMA covers %#x", addr)
		}
		v, _ = as.VMAs.Find(va)
	}

	if write && v.Flags&VMAWrite == 0 {
		return FaultSegv, fmt.Errorf("mm: write fault at %#x against read-only VMA", addr)
	}

	pte, present := Lookup(as.Root, va)
	if !present {
		frame, err := as.alloc.Buddy.AllocPages(0)
		if err != nil {
			return FaultSegv, fmt.Errorf("mm: demand-zero at %#x: %w", addr, err)
		}
		if err := MapUserPage(as.Root, va, frame, pteFlagsFor(v)); err != nil {
			return FaultSegv, err
		}
		return FaultFixed, nil
	}

	if write && pte.Flags&FlagCOW != 0 {
		return resolveCOW(as, va, v)
	}

	if write && pte.Flags&FlagWrite == 0 {
		return FaultSegv, fmt.Errorf("mm: write fault at %#x against non-writable, non-COW leaf", addr)
	}

	return FaultFixed, nil
}

// resolveCOW implements the copy-on-write break (§4.4, S4): if the
// shared frame's refcount has dropped to one, the faulting side simply
// regains write permission on the existing frame; otherwise a private
// copy is allocated, the shared frame's content copied in, and the
// refcount decremented.
func resolveCOW(as *AddressSpace, va uintptr, v VMA) (FaultKind, error) {
	pte, _ := Lookup(as.Root, va)

	if pte.RefCount == nil || *pte.RefCount <= 1 {
		if err := MapUserPage(as.Root, va, pte.Frame, pteFlagsFor(v)); err != nil {
			return FaultSegv, err
		}
		return FaultFixed, nil
	}

	newFrame, err := as.alloc.Buddy.AllocPages(0)
	if err != nil {
		return FaultSegv, fmt.Errorf("mm: COW break at %#x: %w", va, err)
	}
	copyFrame(newFrame, pte.Frame)

	*pte.RefCount--
	if err := MapUserPage(as.Root, va, newFrame, pteFlagsFor(v)); err != nil {
		return FaultSegv, err
	}
	return FaultFixed, nil
}

// copyFrame models the PageSize-byte physical copy a real COW break
// performs. Frames here are opaque identifiers rather than backing
// memory, so there is nothing to copy; the hook marks where a hosted
// backend would read src's bytes and write them to dst.
func copyFrame(dst, src Frame) {}

// tryGrowDown extends the nearest VMAGrowsDown area downward to cover
// va, if va lies within StackGrowLimit below that area's current Start
// and the gap doesn't collide with another VMA.
func tryGrowDown(as *AddressSpace, va uintptr) (bool, error) {
	for _, v := range as.VMAs.All() {
		if v.Flags&VMAGrowsDown == 0 || va >= v.Start {
			continue
		}
		if v.Start-va > StackGrowLimit {
			continue
		}
		if !as.VMAs.Remove(v.Start, v.End) {
			return false, fmt.Errorf("mm: internal error growing stack VMA")
		}
		grown := VMA{Start: va, End: v.End, Flags: v.Flags}
		if err := as.VMAs.Insert(grown); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}
