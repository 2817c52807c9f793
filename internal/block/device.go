// Package block implements the block device contract, partition
// probing (MBR and GPT), and a mock device with injectable faults
// (§3.5, §4.7, §4.8).
package block

import (
	"context"
	"strconv"
	"sync"

	"github.com/aikernel/core/internal/kerrors"
)

// SectorSize is fixed at 512 bytes per spec §3.5.
const SectorSize = 512

// Device is the block device contract (§4.8): sector-addressed
// read/write plus flush, over a context so mock devices can model
// latency and cancellation.
type Device interface {
	Name() string
	Major() uint32
	Minor() uint32
	SectorCount() uint64
	IsReadOnly() bool
	ReadSectors(ctx context.Context, lba uint64, buf []byte) error
	WriteSectors(ctx context.Context, lba uint64, buf []byte) error
	Flush(ctx context.Context) error
}

// MemDevice is an in-memory block device backing both host tests and
// the in-memory VFS's device-file nodes.
type MemDevice struct {
	mu       sync.Mutex
	name     string
	major    uint32
	minor    uint32
	data     []byte
	readOnly bool
}

func NewMemDevice(name string, major, minor uint32, sectors uint64, readOnly bool) *MemDevice {
	return &MemDevice{name: name, major: major, minor: minor, data: make([]byte, sectors*SectorSize), readOnly: readOnly}
}

func (d *MemDevice) Name() string       { return d.name }
func (d *MemDevice) Major() uint32      { return d.major }
func (d *MemDevice) Minor() uint32      { return d.minor }
func (d *MemDevice) SectorCount() uint64 { return uint64(len(d.data)) / SectorSize }
func (d *MemDevice) IsReadOnly() bool   { return d.readOnly }

func (d *MemDevice) checkRange(lba uint64, n int) error {
	if uint64(n)%SectorSize != 0 {
		return kerrors.InvalidArgument(kerrors.New("block: buffer not sector-multiple"))
	}
	sectors := uint64(n) / SectorSize
	if lba+sectors > d.SectorCount() {
		return kerrors.InvalidArgument(kerrors.New("block: lba range out of bounds"))
	}
	return nil
}

func (d *MemDevice) ReadSectors(ctx context.Context, lba uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkRange(lba, len(buf)); err != nil {
		return err
	}
	copy(buf, d.data[lba*SectorSize:lba*SectorSize+uint64(len(buf))])
	return nil
}

func (d *MemDevice) WriteSectors(ctx context.Context, lba uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readOnly {
		return kerrors.PermissionDenied(kerrors.New("block: device is read-only"))
	}
	if err := d.checkRange(lba, len(buf)); err != nil {
		return err
	}
	copy(d.data[lba*SectorSize:lba*SectorSize+uint64(len(buf))], buf)
	return nil
}

func (d *MemDevice) Flush(ctx context.Context) error { return nil }

// PartitionDevice is a child block device created from a probed
// partition record: reads/writes range-check against its own extent
// and are offset by StartLBA into the parent (§3.5, §4.7).
type PartitionDevice struct {
	Parent   Device
	Number   int
	StartLBA uint64
	Sectors  uint64
	TypeTag  string
	name     string
}

func NewPartitionDevice(parent Device, number int, startLBA, sectors uint64, typeTag string) *PartitionDevice {
	return &PartitionDevice{
		Parent: parent, Number: number, StartLBA: startLBA, Sectors: sectors, TypeTag: typeTag,
		name: parent.Name() + "p" + strconv.Itoa(number),
	}
}

func (p *PartitionDevice) Name() string        { return p.name }
func (p *PartitionDevice) Major() uint32       { return p.Parent.Major() }
func (p *PartitionDevice) Minor() uint32       { return p.Parent.Minor() + uint32(p.Number) }
func (p *PartitionDevice) SectorCount() uint64 { return p.Sectors }
func (p *PartitionDevice) IsReadOnly() bool    { return p.Parent.IsReadOnly() }

func (p *PartitionDevice) checkRange(lba uint64, n int) error {
	sectors := uint64(n) / SectorSize
	if lba+sectors > p.Sectors {
		return kerrors.InvalidArgument(kerrors.New("block: partition lba range out of bounds"))
	}
	return nil
}

func (p *PartitionDevice) ReadSectors(ctx context.Context, lba uint64, buf []byte) error {
	if err := p.checkRange(lba, len(buf)); err != nil {
		return err
	}
	return p.Parent.ReadSectors(ctx, p.StartLBA+lba, buf)
}

func (p *PartitionDevice) WriteSectors(ctx context.Context, lba uint64, buf []byte) error {
	if err := p.checkRange(lba, len(buf)); err != nil {
		return err
	}
	return p.Parent.WriteSectors(ctx, p.StartLBA+lba, buf)
}

func (p *PartitionDevice) Flush(ctx context.Context) error { return p.Parent.Flush(ctx) }
