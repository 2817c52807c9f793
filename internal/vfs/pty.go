package vfs

import (
	"context"
	"strconv"
	"sync"

	"github.com/aikernel/core/internal/kerrors"
)

const ptyBufferSize = 4096

// ptyPair is a master/slave pair with bounded FIFO buffers in each
// direction (§4.7).
type ptyPair struct {
	mu          sync.Mutex
	toSlave     []byte // written by master, read by slave
	toMaster    []byte
}

func (p *ptyPair) writeToSlave(buf []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	room := ptyBufferSize - len(p.toSlave)
	n := len(buf)
	if n > room {
		n = room
	}
	p.toSlave = append(p.toSlave, buf[:n]...)
	return n
}

func (p *ptyPair) readFromSlaveQueue() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.toSlave
	p.toSlave = nil
	return out
}

// PTYFS is the pseudo-terminal backend (§3.4, §4.7): opening the
// multiplexer inode allocates a new pair and the resulting slave is
// looked up by index in this filesystem.
type PTYFS struct {
	mu      sync.Mutex
	pairs   map[int]*ptyPair
	inodes  map[uint64]*Inode
	slaveOf map[uint64]int
	nextID  int
	nextIno uint64
}

func NewPTYFS() *PTYFS {
	return &PTYFS{pairs: make(map[int]*ptyPair), inodes: make(map[uint64]*Inode), slaveOf: make(map[uint64]int)}
}

// OpenMultiplexer allocates a new pty pair and returns its slave
// inode's name (the conventional "ptyN" lookup key in this fs).
func (p *PTYFS) OpenMultiplexer() (slaveName string, master *ptyPair) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	pair := &ptyPair{}
	p.pairs[id] = pair

	p.nextIno++
	ino := &Inode{Ino: p.nextIno, Kind: KindPTY, Mode: 0o620, ops: p, linkCnt: 1}
	p.inodes[ino.Ino] = ino
	p.slaveOf[ino.Ino] = id

	return "pty" + strconv.Itoa(id), pair
}

func (p *PTYFS) Lookup(ctx context.Context, dir *Inode, name string) (*Inode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ino, i := range p.inodes {
		if name == "pty"+strconv.Itoa(p.slaveOf[ino]) {
			return i, nil
		}
	}
	return nil, kerrors.NotFound(kerrors.New("vfs: no such pty: " + name))
}

func (p *PTYFS) Create(ctx context.Context, dir *Inode, name string, kind Kind, mode uint32) (*Inode, error) {
	return nil, kerrors.PermissionDenied(kerrors.New("vfs: ptyfs entries are allocated via the multiplexer"))
}
func (p *PTYFS) Unlink(ctx context.Context, dir *Inode, name string) error {
	return kerrors.PermissionDenied(kerrors.New("vfs: ptyfs entries cannot be unlinked"))
}
func (p *PTYFS) Rename(ctx context.Context, oldDir *Inode, oldName string, newDir *Inode, newName string) error {
	return kerrors.PermissionDenied(kerrors.New("vfs: ptyfs entries cannot be renamed"))
}

func (p *PTYFS) Read(ctx context.Context, ino *Inode, offset int64, buf []byte) (int, error) {
	p.mu.Lock()
	id := p.slaveOf[ino.Ino]
	pair := p.pairs[id]
	p.mu.Unlock()
	data := pair.readFromSlaveQueue()
	n := copy(buf, data)
	if n < len(data) {
		pair.mu.Lock()
		pair.toSlave = append(data[n:], pair.toSlave...)
		pair.mu.Unlock()
	}
	return n, nil
}

func (p *PTYFS) Write(ctx context.Context, ino *Inode, offset int64, buf []byte) (int, error) {
	p.mu.Lock()
	id := p.slaveOf[ino.Ino]
	pair := p.pairs[id]
	p.mu.Unlock()
	pair.mu.Lock()
	defer pair.mu.Unlock()
	room := ptyBufferSize - len(pair.toMaster)
	n := len(buf)
	if n > room {
		n = room
	}
	pair.toMaster = append(pair.toMaster, buf[:n]...)
	return n, nil
}

func (p *PTYFS) GetAttr(ctx context.Context, ino *Inode) (Attr, error) { return Attr{Mode: ino.Mode}, nil }
func (p *PTYFS) SetAttr(ctx context.Context, ino *Inode, attr Attr) error { return nil }
func (p *PTYFS) Sync(ctx context.Context, ino *Inode) error               { return nil }
