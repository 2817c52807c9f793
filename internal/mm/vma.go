package mm

import (
	"fmt"
	"sort"
)

// VMAFlags describes the permission/policy bits of one virtual memory
// area (§3.1, §4.4).
type VMAFlags uint32

const (
	VMARead VMAFlags = 1 << iota
	VMAWrite
	VMAExec
	VMAShared
	VMAGrowsDown // stack-style regions eligible for demand growth
)

// VMA is one contiguous virtual memory area: [Start, End) with uniform
// permissions. end is exclusive and both bounds are page-aligned.
type VMA struct {
	Start uintptr
	End   uintptr
	Flags VMAFlags
}

func (v VMA) contains(addr uintptr) bool { return addr >= v.Start && addr < v.End }

func (v VMA) overlaps(o VMA) bool { return v.Start < o.End && o.Start < v.End }

// VMAList is an address space's sorted, non-overlapping set of VMAs
// (§3.1 invariant: "No two VMAs may overlap").
type VMAList struct {
	areas []VMA
}

// Insert adds a new VMA, rejecting it if it overlaps an existing one.
func (l *VMAList) Insert(v VMA) error {
	if v.Start%PageSize != 0 || v.End%PageSize != 0 {
		return fmt.Errorf("mm: VMA bounds [%#x,%#x) not page-aligned", v.Start, v.End)
	}
	if v.Start >= v.End {
		return fmt.Errorf("mm: empty or inverted VMA [%#x,%#x)", v.Start, v.End)
	}
	for _, existing := range l.areas {
		if existing.overlaps(v) {
			return fmt.Errorf("mm: VMA [%#x,%#x) overlaps existing [%#x,%#x)", v.Start, v.End, existing.Start, existing.End)
		}
	}
	l.areas = append(l.areas, v)
	sort.Slice(l.areas, func(i, j int) bool { return l.areas[i].Start < l.areas[j].Start })
	return nil
}

// Remove deletes the VMA with the given exact bounds, if present.
func (l *VMAList) Remove(start, end uintptr) bool {
	for i, v := range l.areas {
		if v.Start == start && v.End == end {
			l.areas = append(l.areas[:i], l.areas[i+1:]...)
			return true
		}
	}
	return false
}

// Find returns the VMA containing addr, if any.
func (l *VMAList) Find(addr uintptr) (VMA, bool) {
	for _, v := range l.areas {
		if v.contains(addr) {
			return v, true
		}
	}
	return VMA{}, false
}

// All returns a defensive copy of every VMA, ascending by Start.
func (l *VMAList) All() []VMA {
	out := make([]VMA, len(l.areas))
	copy(out, l.areas)
	return out
}

// pteFlagsFor derives leaf page-table flags from a VMA's permissions,
// always setting UXN unless the area is executable (W^X, §3.1).
func pteFlagsFor(v VMA) PTFlags {
	f := FlagValid | FlagUser | FlagAccess
	if v.Flags&VMAWrite != 0 {
		f |= FlagWrite
	}
	if v.Flags&VMAExec == 0 {
		f |= FlagUXN
	}
	return f
}
