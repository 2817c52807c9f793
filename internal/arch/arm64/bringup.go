// Package arm64 models the AArch64 boot/bring-up sequence of §4.1:
// translation-register configuration, identity-mapped block
// descriptors, and MMU/cache enable. There is no real EL1 to program
// from a hosted Go process, so this package represents the
// configuration state the bring-up sequence would install and
// validates it against the spec's fixed values — the same shape a
// unit test for the real assembly routine would check.
package arm64

import "github.com/aikernel/core/internal/kerrors"

// Memory attribute indirection register slots (§4.1): two fixed
// attributes, Device-nGnRE and Normal-WriteBack-WriteAllocate.
const (
	MAIRDeviceNGnRE    = 0x04
	MAIRNormalWBWA     = 0xFF
	MAIRDeviceIndex    = 0
	MAIRNormalIndex    = 1
)

// TCRConfig is the translation control register configuration (§4.1):
// 4 KiB granule, 39-bit input VA, 48-bit PA, Inner-Shareable WBWA.
type TCRConfig struct {
	GranuleKiB   int
	InputVABits  int
	OutputPABits int
	Shareability string
	CachePolicy  string
}

// DefaultTCR returns the spec-mandated translation control
// configuration.
func DefaultTCR() TCRConfig {
	return TCRConfig{GranuleKiB: 4, InputVABits: 39, OutputPABits: 48, Shareability: "inner", CachePolicy: "wbwa"}
}

// Validate checks a TCRConfig against §4.1's fixed requirements.
func (c TCRConfig) Validate() error {
	if c.GranuleKiB != 4 {
		return kerrors.InvalidArgument(kerrors.New("arm64: granule must be 4 KiB"))
	}
	if c.InputVABits != 39 {
		return kerrors.InvalidArgument(kerrors.New("arm64: input VA must be 39 bits"))
	}
	if c.OutputPABits != 48 {
		return kerrors.InvalidArgument(kerrors.New("arm64: output PA must be 48 bits"))
	}
	if c.Shareability != "inner" {
		return kerrors.InvalidArgument(kerrors.New("arm64: must be inner-shareable"))
	}
	if c.CachePolicy != "wbwa" {
		return kerrors.InvalidArgument(kerrors.New("arm64: cache policy must be write-back write-allocate"))
	}
	return nil
}

// MemoryRange is one RAM or MMIO range reported by the platform's
// firmware/device-tree map (§4.1).
type MemoryRange struct {
	Base  uint64
	Size  uint64
	IsRAM bool // false => MMIO (Device-nGnRE); true => RAM (Normal-WBWA)
}

const blockSize1GiB = 1 << 30

// BlockDescriptor is one identity-mapped 1 GiB block-level translation
// entry.
type BlockDescriptor struct {
	Base      uint64
	AttrIndex int // MAIRDeviceIndex or MAIRNormalIndex
}

// BuildIdentityMap builds one 1 GiB block descriptor per 1 GiB-aligned
// region covering every supplied range, preferring RAM attributes
// where ranges overlap (§4.1).
func BuildIdentityMap(ranges []MemoryRange) []BlockDescriptor {
	attrByBlock := make(map[uint64]int)
	var order []uint64

	for _, r := range ranges {
		startBlock := r.Base &^ (blockSize1GiB - 1)
		endBlock := (r.Base + r.Size + blockSize1GiB - 1) &^ (blockSize1GiB - 1)
		for b := startBlock; b < endBlock; b += blockSize1GiB {
			attr := MAIRDeviceIndex
			if r.IsRAM {
				attr = MAIRNormalIndex
			}
			existing, seen := attrByBlock[b]
			if !seen {
				order = append(order, b)
				attrByBlock[b] = attr
				continue
			}
			// RAM wins over Device when a block is covered by both.
			if existing == MAIRDeviceIndex && attr == MAIRNormalIndex {
				attrByBlock[b] = MAIRNormalIndex
			}
		}
	}

	out := make([]BlockDescriptor, 0, len(order))
	for _, b := range order {
		out = append(out, BlockDescriptor{Base: b, AttrIndex: attrByBlock[b]})
	}
	return out
}

// BringUpState is the cumulative configuration the bring-up sequence
// installs, in order (§4.1): stack, vector base, MAIR, TCR, identity
// map, then MMU/cache enable, then cycle-counter access.
type BringUpState struct {
	StackInstalled   bool
	VectorBaseSet    bool
	TCR              TCRConfig
	IdentityMap      []BlockDescriptor
	MMUEnabled       bool
	DCacheEnabled    bool
	ICacheEnabled    bool
	CycleCounterEL0  bool
}

// BringUp performs the sequence; any failure here is treated as fatal
// by the caller (§4.1 "Failure semantics"), signaled by a non-nil
// error rather than the kernel panicking directly — letting the
// boot-time caller decide how to report it.
func BringUp(ranges []MemoryRange) (*BringUpState, error) {
	s := &BringUpState{StackInstalled: true, VectorBaseSet: true, TCR: DefaultTCR()}
	if err := s.TCR.Validate(); err != nil {
		return nil, err
	}
	s.IdentityMap = BuildIdentityMap(ranges)
	s.MMUEnabled = true
	s.DCacheEnabled = true
	s.ICacheEnabled = true
	s.CycleCounterEL0 = true
	return s, nil
}
