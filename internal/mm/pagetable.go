package mm

import "fmt"

// PTFlags mirrors the per-leaf flag set of §3.1: a leaf mapping a frame
// carries a combination of these bits.
type PTFlags uint32

const (
	FlagValid PTFlags = 1 << iota
	FlagUser
	FlagWrite
	FlagAccess
	FlagNotGlobal
	FlagUXN // execute-never at EL0
	FlagPXN // execute-never at EL1
	FlagCOW
)

// CheckWX enforces the W^X invariant of §3.1/§8: a writable leaf must
// carry UXN, and an executable (non-UXN) leaf must not be user-writable.
func CheckWX(f PTFlags) error {
	if f&FlagWrite != 0 && f&FlagUXN == 0 {
		return fmt.Errorf("mm: W^X violation: writable leaf missing UXN (flags=%#x)", f)
	}
	return nil
}

// PTE is one leaf or intermediate entry. Intermediate entries carry only
// FlagValid and a pointer to the next-level table; leaves carry a Frame
// and the full permission set.
type PTE struct {
	Valid    bool
	IsLeaf   bool
	Frame    Frame
	Flags    PTFlags
	Next     *PageTable // non-nil when this entry is a table pointer
	RefCount *int       // shared frame refcount, used for COW (§4.4)
}

// PageTable is a 512-entry translation level (§3.1). Real hardware packs
// these as an aligned array of raw descriptors; we keep the same shape in
// Go structs since no MMU actually walks this representation.
type PageTable struct {
	Entries [512]PTE
}

// vaIndices splits a 39-bit (4 KiB granule, 3-level) virtual address into
// its three level indices. Level 0 is skipped: spec.md targets a 39-bit
// input VA (§4.1), i.e. three 9-bit levels below a fixed L0 entry.
func vaIndices(va uintptr) [3]int {
	return [3]int{
		int((va >> 30) & 0x1FF),
		int((va >> 21) & 0x1FF),
		int((va >> 12) & 0x1FF),
	}
}

// walk descends root to the leaf slot for va, allocating intermediate
// tables from alloc as needed when create is true.
func walk(root *PageTable, va uintptr, create bool, alloc func() (*PageTable, error)) (*PTE, error) {
	idx := vaIndices(va)
	table := root
	for level := 0; level < 2; level++ {
		e := &table.Entries[idx[level]]
		if !e.Valid {
			if !create {
				return nil, fmt.Errorf("mm: no mapping for va %#x", va)
			}
			next, err := alloc()
			if err != nil {
				return nil, err
			}
			e.Valid = true
			e.Next = next
			e.Flags = FlagValid
		}
		if e.Next == nil {
			return nil, fmt.Errorf("mm: va %#x: expected table pointer at level %d", va, level)
		}
		table = e.Next
	}
	return &table.Entries[idx[2]], nil
}

// MapUserPage walks root (allocating empty intermediate tables as
// needed) and writes a leaf mapping va→pa with flags, enforcing W^X
// (§4.4). Returns an error instead of writing the leaf on a W^X breach —
// callers that must treat this as fatal should promote it via kpanic.
func MapUserPage(root *PageTable, va uintptr, pa Frame, flags PTFlags) error {
	if err := CheckWX(flags); err != nil {
		return err
	}
	pte, err := walk(root, va, true, func() (*PageTable, error) { return &PageTable{}, nil })
	if err != nil {
		return err
	}
	*pte = PTE{Valid: true, IsLeaf: true, Frame: pa, Flags: flags | FlagValid}
	flushTLBEntry(va)
	return nil
}

// UnmapUserPage invalidates the leaf for va and flushes its TLB entry.
func UnmapUserPage(root *PageTable, va uintptr) error {
	pte, err := walk(root, va, false, nil)
	if err != nil {
		return err
	}
	*pte = PTE{}
	flushTLBEntry(va)
	return nil
}

// Lookup returns the leaf PTE for va without modifying the table.
func Lookup(root *PageTable, va uintptr) (*PTE, bool) {
	pte, err := walk(root, va, false, nil)
	if err != nil || !pte.Valid {
		return nil, false
	}
	return pte, true
}

// flushTLBEntry models the DSB ISH / TLBI VAE1 / ISB barrier sequence
// §4.4 requires around every permission-changing or unmapping edit. There
// is no real TLB in this hosted kernel; the hook exists so every call
// site states the ordering requirement explicitly and a future hardware
// backend has one place to implement it.
func flushTLBEntry(va uintptr) {}

// flushTLBFull models the full-TLB invalidation reserved for
// address-space switch (§4.4 "Ordering / flushing").
func flushTLBFull() {}
