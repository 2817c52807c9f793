// Package x86_64 models the x86_64 boot/bring-up analogue of §4.1: GDT
// construction, segment-register loading, and the ACPI power-off /
// reboot fallback sequence. As with arm64, there is no real ring 0 to
// program from a hosted process, so this package builds and validates
// the configuration state the real bring-up routine installs.
package x86_64

import "github.com/aikernel/core/internal/kerrors"

// SegmentKind enumerates the GDT entries §4.1 requires, in the
// mandated order: null, kernel code, kernel data, user data, user
// code, TSS. User data must precede user code so SYSRET can address
// both with a single selector pair.
type SegmentKind int

const (
	SegNull SegmentKind = iota
	SegKernelCode
	SegKernelData
	SegUserData
	SegUserCode
	SegTSS
)

var mandatedOrder = []SegmentKind{SegNull, SegKernelCode, SegKernelData, SegUserData, SegUserCode, SegTSS}

// GDTEntry is one descriptor.
type GDTEntry struct {
	Kind        SegmentKind
	Base, Limit uint64
	DPL         int // descriptor privilege level
}

// GDT is an ordered table of descriptors.
type GDT struct {
	Entries []GDTEntry
}

// BuildGDT constructs the mandated six-entry table; tssBase/tssLimit
// describe the one per-CPU TSS descriptor (§4.1, and the resolved
// per-CPU TSS update question).
func BuildGDT(tssBase, tssLimit uint64) *GDT {
	return &GDT{Entries: []GDTEntry{
		{Kind: SegNull},
		{Kind: SegKernelCode, DPL: 0},
		{Kind: SegKernelData, DPL: 0},
		{Kind: SegUserData, DPL: 3},
		{Kind: SegUserCode, DPL: 3},
		{Kind: SegTSS, Base: tssBase, Limit: tssLimit, DPL: 0},
	}}
}

// Validate checks the GDT matches §4.1's mandated order exactly,
// including the user-data-before-user-code SYSRET constraint.
func (g *GDT) Validate() error {
	if len(g.Entries) != len(mandatedOrder) {
		return kerrors.InvalidArgument(kerrors.New("x86_64: GDT must have exactly 6 entries"))
	}
	for i, want := range mandatedOrder {
		if g.Entries[i].Kind != want {
			return kerrors.InvalidArgument(kerrors.New("x86_64: GDT entry order violates the SYSRET selector-pair contract"))
		}
	}
	return nil
}

// Selector returns the GDT selector (index<<3 | RPL) for kind.
func (g *GDT) Selector(kind SegmentKind) (uint16, error) {
	for i, e := range g.Entries {
		if e.Kind == kind {
			rpl := 0
			if e.DPL == 3 {
				rpl = 3
			}
			return uint16(i<<3) | uint16(rpl), nil
		}
	}
	return 0, kerrors.NotFound(kerrors.New("x86_64: no such GDT entry"))
}

// UpdateTSSDescriptor rewrites the per-CPU TSS descriptor's base/limit
// — a real per-CPU operation (each CPU owns one TSS), resolved as such
// rather than left as a global singleton.
func (g *GDT) UpdateTSSDescriptor(base, limit uint64) error {
	for i := range g.Entries {
		if g.Entries[i].Kind == SegTSS {
			g.Entries[i].Base = base
			g.Entries[i].Limit = limit
			return nil
		}
	}
	return kerrors.NotFound(kerrors.New("x86_64: no TSS descriptor to update"))
}

// PowerAction is the outcome of the ACPI-driven power sequence.
type PowerAction int

const (
	PowerActionSoftOff PowerAction = iota
	PowerActionKBCReset
	PowerActionTripleFault
)

// Reboot runs the fallback sequence (§4.1): ACPI PM1a soft-off first,
// then keyboard-controller reset, then triple-fault as the last
// resort. acpiSoftOff/kbcReset report whether their mechanism is
// available/succeeded; the function returns which action was actually
// taken.
func Reboot(acpiSoftOff func() bool, kbcReset func() bool) PowerAction {
	if acpiSoftOff() {
		return PowerActionSoftOff
	}
	if kbcReset() {
		return PowerActionKBCReset
	}
	return PowerActionTripleFault
}
