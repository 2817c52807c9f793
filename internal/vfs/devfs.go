package vfs

import (
	"context"

	"github.com/aikernel/core/internal/block"
	"github.com/aikernel/core/internal/kerrors"
)

// CharDevice is the char driver contract special inodes dispatch to
// (§4.8): byte-oriented read/write plus readiness checks.
type CharDevice interface {
	Name() string
	Read(ctx context.Context, buf []byte) (int, error)
	Write(ctx context.Context, buf []byte) (int, error)
	CanRead() bool
	CanWrite() bool
}

// DevFS is the device backend (§4.7): special inodes whose reads and
// writes dispatch to a registered block or char device rather than
// local storage. It implements Ops so inodes it creates route through
// the same Inode/File machinery as any other backend.
type DevFS struct {
	blockDevs map[string]block.Device
	charDevs  map[string]CharDevice
	inodes    map[uint64]*Inode
	byName    map[string]uint64
	nextIno   uint64
}

func NewDevFS() *DevFS {
	return &DevFS{
		blockDevs: make(map[string]block.Device),
		charDevs:  make(map[string]CharDevice),
		inodes:    make(map[uint64]*Inode),
		byName:    make(map[string]uint64),
	}
}

func (d *DevFS) RegisterBlock(dev block.Device) *Inode {
	d.nextIno++
	ino := &Inode{Ino: d.nextIno, Kind: KindBlockDev, Mode: 0o660, ops: d, Major: dev.Major(), Minor: dev.Minor(), linkCnt: 1}
	d.blockDevs[dev.Name()] = dev
	d.inodes[ino.Ino] = ino
	d.byName[dev.Name()] = ino.Ino
	return ino
}

func (d *DevFS) RegisterChar(name string, major, minor uint32, dev CharDevice) *Inode {
	d.nextIno++
	ino := &Inode{Ino: d.nextIno, Kind: KindCharDev, Mode: 0o660, ops: d, Major: major, Minor: minor, linkCnt: 1}
	d.charDevs[name] = dev
	d.inodes[ino.Ino] = ino
	d.byName[name] = ino.Ino
	return ino
}

func (d *DevFS) Lookup(ctx context.Context, dir *Inode, name string) (*Inode, error) {
	ino, ok := d.byName[name]
	if !ok {
		return nil, kerrors.NotFound(kerrors.New("vfs: no such device: " + name))
	}
	return d.inodes[ino], nil
}

func (d *DevFS) Create(ctx context.Context, dir *Inode, name string, kind Kind, mode uint32) (*Inode, error) {
	return nil, kerrors.PermissionDenied(kerrors.New("vfs: devfs is not user-creatable"))
}

func (d *DevFS) Unlink(ctx context.Context, dir *Inode, name string) error {
	return kerrors.PermissionDenied(kerrors.New("vfs: devfs entries cannot be unlinked"))
}

func (d *DevFS) Rename(ctx context.Context, oldDir *Inode, oldName string, newDir *Inode, newName string) error {
	return kerrors.PermissionDenied(kerrors.New("vfs: devfs entries cannot be renamed"))
}

func (d *DevFS) nameFor(ino *Inode) string {
	for name, i := range d.byName {
		if i == ino.Ino {
			return name
		}
	}
	return ""
}

func (d *DevFS) Read(ctx context.Context, ino *Inode, offset int64, buf []byte) (int, error) {
	name := d.nameFor(ino)
	switch ino.Kind {
	case KindBlockDev:
		dev := d.blockDevs[name]
		lba := uint64(offset) / block.SectorSize
		if err := dev.ReadSectors(ctx, lba, buf); err != nil {
			return 0, err
		}
		return len(buf), nil
	case KindCharDev:
		return d.charDevs[name].Read(ctx, buf)
	default:
		return 0, kerrors.InvalidArgument(kerrors.New("vfs: not a device inode"))
	}
}

func (d *DevFS) Write(ctx context.Context, ino *Inode, offset int64, buf []byte) (int, error) {
	name := d.nameFor(ino)
	switch ino.Kind {
	case KindBlockDev:
		dev := d.blockDevs[name]
		lba := uint64(offset) / block.SectorSize
		if err := dev.WriteSectors(ctx, lba, buf); err != nil {
			return 0, err
		}
		return len(buf), nil
	case KindCharDev:
		return d.charDevs[name].Write(ctx, buf)
	default:
		return 0, kerrors.InvalidArgument(kerrors.New("vfs: not a device inode"))
	}
}

func (d *DevFS) GetAttr(ctx context.Context, ino *Inode) (Attr, error) {
	return Attr{Mode: ino.Mode, LinkCnt: 1}, nil
}

func (d *DevFS) SetAttr(ctx context.Context, ino *Inode, attr Attr) error { return nil }
func (d *DevFS) Sync(ctx context.Context, ino *Inode) error               { return nil }
