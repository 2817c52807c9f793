package vfs

import (
	"context"
	"encoding/binary"
	"math/bits"
	"sync"

	"github.com/aikernel/core/internal/block"
	"github.com/aikernel/core/internal/kerrors"
)

// Ext2Params are the handful of superblock fields the backend needs
// (§3.4 "classic superblock/group-descriptor/bitmap/inode/data-block
// layout"). A single group is modeled; multi-group scaling is
// out of scope for the hosted kernel's current callers.
type Ext2Params struct {
	BlockSize  uint32
	TotalBlocks uint64
	TotalInodes uint64
}

// Ext2FS is a classic single-group ext2 layout over a block.Device:
// a superblock, an inode bitmap, a block bitmap, an inode table, and a
// data-block region, with an optional Journal layered on top for the
// ext4/JBD2 variant (§3.4, §4.7).
type Ext2FS struct {
	mu      sync.Mutex
	dev     block.Device
	params  Ext2Params
	inodeBitmap []uint64
	blockBitmap []uint64
	inodes      map[uint64]*Inode
	dirs        map[uint64]map[string]uint64
	nextIno     uint64

	// dataBlocks maps an inode to its ordered direct block list: byte
	// range [i*BlockSize, (i+1)*BlockSize) of the inode's content lives
	// in the device block dataBlocks[ino][i] (§3.4, §4.7 read/write).
	dataBlocks map[uint64][]uint64

	Journal *Journal // non-nil enables the ext4/JBD2 metadata-journaling path

	Root *Inode
}

// NewExt2FS formats a fresh ext2 (or, with a non-nil journal, ext4)
// filesystem over dev.
func NewExt2FS(dev block.Device, params Ext2Params, journal *Journal) *Ext2FS {
	fs := &Ext2FS{
		dev:         dev,
		params:      params,
		inodeBitmap: make([]uint64, (params.TotalInodes+63)/64),
		blockBitmap: make([]uint64, (params.TotalBlocks+63)/64),
		inodes:      make(map[uint64]*Inode),
		dirs:        make(map[uint64]map[string]uint64),
		dataBlocks:  make(map[uint64][]uint64),
		Journal:     journal,
	}
	root := fs.allocInode(KindDirectory, 0o755)
	fs.dirs[root.Ino] = make(map[string]uint64)
	fs.Root = root
	return fs
}

func (fs *Ext2FS) allocInode(kind Kind, mode uint32) *Inode {
	fs.nextIno++
	setBit(fs.inodeBitmap, fs.nextIno)
	i := &Inode{Ino: fs.nextIno, Kind: kind, Mode: mode, ops: fs, linkCnt: 1}
	fs.inodes[i.Ino] = i
	return i
}

func (fs *Ext2FS) allocBlock() (uint64, error) {
	for w, word := range fs.blockBitmap {
		if word == ^uint64(0) {
			continue
		}
		bit := bits.TrailingZeros64(^word)
		idx := uint64(w*64 + bit)
		if idx >= fs.params.TotalBlocks {
			break
		}
		fs.blockBitmap[w] |= 1 << uint(bit)
		return idx, nil
	}
	return 0, kerrors.ResourceExhausted(kerrors.New("vfs: ext2: no free data blocks"))
}

func setBit(bitmap []uint64, idx uint64) {
	bitmap[idx/64] |= 1 << (idx % 64)
}

// writeMetadataBlock routes a metadata write through the journal when
// one is attached (the ext4/JBD2 path), committing it as a standalone
// single-block transaction, or writes directly to the device otherwise
// (the plain ext2 path).
func (fs *Ext2FS) writeMetadataBlock(ctx context.Context, blockNum uint64, data []byte) error {
	if fs.Journal == nil {
		return fs.writeBlockToDevice(ctx, blockNum, data)
	}
	tx, err := fs.Journal.Begin()
	if err != nil {
		return err
	}
	if err := fs.Journal.Write(tx.ID, blockNum, data); err != nil {
		fs.Journal.Abort(tx.ID)
		return err
	}
	if err := fs.Journal.Commit(tx.ID); err != nil {
		return err
	}
	return fs.writeBlockToDevice(ctx, blockNum, data)
}

func (fs *Ext2FS) writeBlockToDevice(ctx context.Context, blockNum uint64, data []byte) error {
	sectorsPerBlock := uint64(fs.params.BlockSize) / block.SectorSize
	return fs.dev.WriteSectors(ctx, blockNum*sectorsPerBlock, data)
}

func (fs *Ext2FS) readBlockFromDevice(ctx context.Context, blockNum uint64, data []byte) error {
	sectorsPerBlock := uint64(fs.params.BlockSize) / block.SectorSize
	return fs.dev.ReadSectors(ctx, blockNum*sectorsPerBlock, data)
}

// blockForWriteLocked returns the device block backing ino's blockIdx'th
// BlockSize-sized chunk, allocating direct blocks (and any intervening
// holes) as needed. Caller holds fs.mu.
func (fs *Ext2FS) blockForWriteLocked(ino uint64, blockIdx uint64) (uint64, error) {
	blocks := fs.dataBlocks[ino]
	for uint64(len(blocks)) <= blockIdx {
		blockNum, err := fs.allocBlock()
		if err != nil {
			return 0, err
		}
		blocks = append(blocks, blockNum)
	}
	fs.dataBlocks[ino] = blocks
	return blocks[blockIdx], nil
}

func (fs *Ext2FS) Lookup(ctx context.Context, dir *Inode, name string) (*Inode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	entries, ok := fs.dirs[dir.Ino]
	if !ok {
		return nil, kerrors.InvalidArgument(kerrors.New("vfs: ext2: not a directory"))
	}
	ino, ok := entries[name]
	if !ok {
		return nil, kerrors.NotFound(kerrors.New("vfs: ext2: no such entry: " + name))
	}
	return fs.inodes[ino], nil
}

func (fs *Ext2FS) Create(ctx context.Context, dir *Inode, name string, kind Kind, mode uint32) (*Inode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	entries, ok := fs.dirs[dir.Ino]
	if !ok {
		return nil, kerrors.InvalidArgument(kerrors.New("vfs: ext2: not a directory"))
	}
	if _, exists := entries[name]; exists {
		return nil, kerrors.InvalidArgument(kerrors.New("vfs: ext2: entry exists: " + name))
	}
	child := fs.allocInode(kind, mode)
	entries[name] = child.Ino
	if kind == KindDirectory {
		fs.dirs[child.Ino] = make(map[string]uint64)
	}

	meta := make([]byte, fs.params.BlockSize)
	binary.LittleEndian.PutUint64(meta[0:], child.Ino)
	blockNum, err := fs.allocBlock()
	if err != nil {
		return nil, err
	}
	if err := fs.writeMetadataBlock(ctx, blockNum, meta); err != nil {
		return nil, err
	}
	return child, nil
}

func (fs *Ext2FS) Unlink(ctx context.Context, dir *Inode, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	entries, ok := fs.dirs[dir.Ino]
	if !ok {
		return kerrors.InvalidArgument(kerrors.New("vfs: ext2: not a directory"))
	}
	ino, ok := entries[name]
	if !ok {
		return kerrors.NotFound(kerrors.New("vfs: ext2: no such entry: " + name))
	}
	delete(entries, name)
	delete(fs.inodes, ino)
	delete(fs.dirs, ino)
	return nil
}

func (fs *Ext2FS) Rename(ctx context.Context, oldDir *Inode, oldName string, newDir *Inode, newName string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	oldEntries, ok := fs.dirs[oldDir.Ino]
	if !ok {
		return kerrors.InvalidArgument(kerrors.New("vfs: ext2: not a directory"))
	}
	newEntries, ok := fs.dirs[newDir.Ino]
	if !ok {
		return kerrors.InvalidArgument(kerrors.New("vfs: ext2: not a directory"))
	}
	ino, ok := oldEntries[oldName]
	if !ok {
		return kerrors.NotFound(kerrors.New("vfs: ext2: no such entry: " + oldName))
	}
	delete(oldEntries, oldName)
	newEntries[newName] = ino
	return nil
}

// Read serves buf from the device blocks recorded for ino by Write,
// clamping to the inode's current size and zero-filling any block
// index past what Write has allocated (a hole) (§4.7).
func (fs *Ext2FS) Read(ctx context.Context, ino *Inode, offset int64, buf []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	size := ino.Size()
	if offset < 0 || uint64(offset) >= size {
		return 0, nil
	}
	if max := size - uint64(offset); uint64(len(buf)) > max {
		buf = buf[:max]
	}

	blockSize := uint64(fs.params.BlockSize)
	blocks := fs.dataBlocks[ino.Ino]
	read := 0
	for read < len(buf) {
		pos := uint64(offset) + uint64(read)
		blockIdx := pos / blockSize
		blockOff := pos % blockSize

		n := blockSize - blockOff
		if remaining := uint64(len(buf) - read); n > remaining {
			n = remaining
		}
		chunk := buf[read : read+int(n)]

		if blockIdx >= uint64(len(blocks)) {
			for i := range chunk {
				chunk[i] = 0
			}
			read += int(n)
			continue
		}

		block := make([]byte, blockSize)
		if err := fs.readBlockFromDevice(ctx, blocks[blockIdx], block); err != nil {
			return read, err
		}
		copy(chunk, block[blockOff:])
		read += int(n)
	}
	return read, nil
}

// Write performs read-modify-write over BlockSize-sized device blocks,
// allocating direct blocks for any offset past the inode's current
// block list and recording them in fs.dataBlocks so a later Read can
// find them (§4.7).
func (fs *Ext2FS) Write(ctx context.Context, ino *Inode, offset int64, buf []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	blockSize := uint64(fs.params.BlockSize)
	written := 0
	for written < len(buf) {
		pos := uint64(offset) + uint64(written)
		blockIdx := pos / blockSize
		blockOff := pos % blockSize

		blockNum, err := fs.blockForWriteLocked(ino.Ino, blockIdx)
		if err != nil {
			return written, err
		}

		n := blockSize - blockOff
		if remaining := uint64(len(buf) - written); n > remaining {
			n = remaining
		}

		block := make([]byte, blockSize)
		if err := fs.readBlockFromDevice(ctx, blockNum, block); err != nil {
			return written, err
		}
		copy(block[blockOff:], buf[written:written+int(n)])
		if err := fs.writeMetadataBlock(ctx, blockNum, block); err != nil {
			return written, err
		}
		written += int(n)
	}

	if uint64(offset)+uint64(written) > ino.Size() {
		ino.setSize(uint64(offset) + uint64(written))
	}
	return written, nil
}

func (fs *Ext2FS) GetAttr(ctx context.Context, ino *Inode) (Attr, error) {
	return Attr{Mode: ino.Mode, Size: ino.Size(), LinkCnt: ino.LinkCount()}, nil
}
func (fs *Ext2FS) SetAttr(ctx context.Context, ino *Inode, attr Attr) error {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	ino.Mode = attr.Mode
	return nil
}
func (fs *Ext2FS) Sync(ctx context.Context, ino *Inode) error { return fs.dev.Flush(ctx) }
