package block

import (
	"context"
	"encoding/binary"

	"github.com/aikernel/core/internal/kerrors"
)

// PartitionRecord is one parsed partition, independent of MBR/GPT
// origin (§3.5).
type PartitionRecord struct {
	Number      int
	StartLBA    uint64
	SectorCount uint64
	TypeTag     string
}

const (
	mbrSignatureOffset = 510
	mbrSignature       = 0xAA55
	mbrPartTableOffset = 446
	mbrPartEntrySize   = 16

	gptSignature = "EFI PART"
)

// mbrTypeName maps the handful of MBR partition-type bytes the kernel
// recognizes to a human-readable tag; anything else reports as Unknown.
func mbrTypeName(b byte) string {
	switch b {
	case 0x00:
		return "Empty"
	case 0x82:
		return "LinuxSwap"
	case 0x83:
		return "Linux"
	case 0xEE:
		return "GPTProtective"
	case 0xEF:
		return "EFISystem"
	default:
		return "Unknown"
	}
}

// ParseMBR parses a 512-byte LBA-0 sector and returns every non-empty
// primary partition entry (§3.5, §4.7, S7). Returns an error if the
// signature doesn't match 0xAA55.
func ParseMBR(sector []byte) ([]PartitionRecord, error) {
	if len(sector) < SectorSize {
		return nil, kerrors.InvalidArgument(kerrors.New("block: MBR sector too short"))
	}
	sig := binary.LittleEndian.Uint16(sector[mbrSignatureOffset:])
	if sig != mbrSignature {
		return nil, kerrors.InvalidArgument(kerrors.New("block: missing MBR signature"))
	}

	var out []PartitionRecord
	for i := 0; i < 4; i++ {
		entry := sector[mbrPartTableOffset+i*mbrPartEntrySize : mbrPartTableOffset+(i+1)*mbrPartEntrySize]
		partType := entry[4]
		if partType == 0x00 {
			continue
		}
		startLBA := binary.LittleEndian.Uint32(entry[8:12])
		sectors := binary.LittleEndian.Uint32(entry[12:16])
		out = append(out, PartitionRecord{
			Number:      i + 1,
			StartLBA:    uint64(startLBA),
			SectorCount: uint64(sectors),
			TypeTag:     mbrTypeName(partType),
		})
	}
	return out, nil
}

const (
	gptHeaderLBA           = 1
	gptSigOffset           = 0
	gptPartEntryLBAOffset  = 72
	gptNumPartEntryOffset  = 80
	gptPartEntrySizeOffset = 84
)

// ParseGPT parses the GPT header at LBA 1 plus its partition entry
// array, returning every entry whose type GUID is not all-zero.
// gptHeaderSector is LBA 1; readEntries is invoked with the entry
// array's starting LBA, entry count, and entry size so the caller can
// supply sectors from its own block device.
func ParseGPT(gptHeaderSector []byte, readEntries func(startLBA uint64, count, entrySize uint32) ([]byte, error)) ([]PartitionRecord, error) {
	if len(gptHeaderSector) < SectorSize {
		return nil, kerrors.InvalidArgument(kerrors.New("block: GPT header sector too short"))
	}
	if string(gptHeaderSector[gptSigOffset:gptSigOffset+8]) != gptSignature {
		return nil, kerrors.InvalidArgument(kerrors.New("block: missing GPT signature"))
	}

	entryLBA := binary.LittleEndian.Uint64(gptHeaderSector[gptPartEntryLBAOffset:])
	numEntries := binary.LittleEndian.Uint32(gptHeaderSector[gptNumPartEntryOffset:])
	entrySize := binary.LittleEndian.Uint32(gptHeaderSector[gptPartEntrySizeOffset:])

	raw, err := readEntries(entryLBA, numEntries, entrySize)
	if err != nil {
		return nil, err
	}

	var out []PartitionRecord
	for i := uint32(0); i < numEntries; i++ {
		off := i * entrySize
		if uint64(off)+uint64(entrySize) > uint64(len(raw)) {
			break
		}
		entry := raw[off : off+entrySize]
		typeGUID := entry[0:16]
		if allZero(typeGUID) {
			continue
		}
		firstLBA := binary.LittleEndian.Uint64(entry[32:40])
		lastLBA := binary.LittleEndian.Uint64(entry[40:48])
		out = append(out, PartitionRecord{
			Number:      int(i) + 1,
			StartLBA:    firstLBA,
			SectorCount: lastLBA - firstLBA + 1,
			TypeTag:     "GPT",
		})
	}
	return out, nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// Probe implements §3.5/§4.7/§8's precedence rule: read LBA 0 and LBA
// 1; if a valid GPT signature is present at LBA 1, GPT wins regardless
// of whether an MBR-compatibility record is also present at LBA 0.
func Probe(ctx context.Context, dev Device) ([]PartitionRecord, error) {
	lba0 := make([]byte, SectorSize)
	if err := dev.ReadSectors(ctx, 0, lba0); err != nil {
		return nil, err
	}
	lba1 := make([]byte, SectorSize)
	if err := dev.ReadSectors(ctx, gptHeaderLBA, lba1); err == nil {
		if recs, gerr := ParseGPT(lba1, func(startLBA uint64, count, entrySize uint32) ([]byte, error) {
			total := count * entrySize
			sectors := (total + SectorSize - 1) / SectorSize
			buf := make([]byte, uint64(sectors)*SectorSize)
			if err := dev.ReadSectors(ctx, startLBA, buf); err != nil {
				return nil, err
			}
			return buf, nil
		}); gerr == nil {
			return recs, nil
		}
	}
	return ParseMBR(lba0)
}
