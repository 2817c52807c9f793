package vfs

import (
	"context"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/aikernel/core/internal/kerrors"
)

// MemFS is the in-memory backend (§4.7): directory entries held in
// maps, regular-file data held in contiguous owned byte buffers backed
// by an afero in-memory filesystem (one afero file per inode, named by
// inode number, so the buffer-growth/truncate semantics come from a
// real implementation rather than a hand-rolled byte-slice manager).
type MemFS struct {
	mu      sync.RWMutex
	fs      afero.Fs
	inodes  map[uint64]*Inode
	dirs    map[uint64]map[string]uint64 // dir ino -> name -> child ino
	nextIno uint64

	Root *Inode
}

func NewMemFS() *MemFS {
	m := &MemFS{
		fs:     afero.NewMemMapFs(),
		inodes: make(map[uint64]*Inode),
		dirs:   make(map[uint64]map[string]uint64),
	}
	root := m.newInode(KindDirectory, 0o755)
	m.dirs[root.Ino] = make(map[string]uint64)
	m.Root = root
	return m
}

func (m *MemFS) newInode(kind Kind, mode uint32) *Inode {
	ino := atomic.AddUint64(&m.nextIno, 1)
	i := &Inode{Ino: ino, Kind: kind, Mode: mode, ops: m, linkCnt: 1}
	m.inodes[ino] = i
	return i
}

func (m *MemFS) dataPath(ino uint64) string {
	return "/" + strconv.FormatUint(ino, 10)
}

func (m *MemFS) Lookup(ctx context.Context, dir *Inode, name string) (*Inode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries, ok := m.dirs[dir.Ino]
	if !ok {
		return nil, kerrors.InvalidArgument(kerrors.New("vfs: not a directory"))
	}
	childIno, ok := entries[name]
	if !ok {
		return nil, kerrors.NotFound(kerrors.New("vfs: no such entry: " + name))
	}
	return m.inodes[childIno], nil
}

func (m *MemFS) Create(ctx context.Context, dir *Inode, name string, kind Kind, mode uint32) (*Inode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.dirs[dir.Ino]
	if !ok {
		return nil, kerrors.InvalidArgument(kerrors.New("vfs: not a directory"))
	}
	if _, exists := entries[name]; exists {
		return nil, kerrors.InvalidArgument(kerrors.New("vfs: entry already exists: " + name))
	}

	child := m.newInode(kind, mode)
	entries[name] = child.Ino
	if kind == KindDirectory {
		m.dirs[child.Ino] = make(map[string]uint64)
	}
	if kind == KindRegular {
		f, err := m.fs.Create(m.dataPath(child.Ino))
		if err != nil {
			return nil, kerrors.Unavailable(err)
		}
		f.Close()
	}
	return child, nil
}

func (m *MemFS) Unlink(ctx context.Context, dir *Inode, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.dirs[dir.Ino]
	if !ok {
		return kerrors.InvalidArgument(kerrors.New("vfs: not a directory"))
	}
	childIno, ok := entries[name]
	if !ok {
		return kerrors.NotFound(kerrors.New("vfs: no such entry: " + name))
	}
	delete(entries, name)

	child := m.inodes[childIno]
	child.mu.Lock()
	child.linkCnt--
	remaining := child.linkCnt
	child.mu.Unlock()

	if remaining == 0 {
		delete(m.inodes, childIno)
		delete(m.dirs, childIno)
		m.fs.Remove(m.dataPath(childIno))
	}
	return nil
}

func (m *MemFS) Rename(ctx context.Context, oldDir *Inode, oldName string, newDir *Inode, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	oldEntries, ok := m.dirs[oldDir.Ino]
	if !ok {
		return kerrors.InvalidArgument(kerrors.New("vfs: not a directory"))
	}
	newEntries, ok := m.dirs[newDir.Ino]
	if !ok {
		return kerrors.InvalidArgument(kerrors.New("vfs: not a directory"))
	}
	childIno, ok := oldEntries[oldName]
	if !ok {
		return kerrors.NotFound(kerrors.New("vfs: no such entry: " + oldName))
	}
	delete(oldEntries, oldName)
	newEntries[newName] = childIno
	return nil
}

func (m *MemFS) Read(ctx context.Context, ino *Inode, offset int64, buf []byte) (int, error) {
	f, err := m.fs.Open(m.dataPath(ino.Ino))
	if err != nil {
		return 0, kerrors.NotFound(err)
	}
	defer f.Close()
	n, err := f.ReadAt(buf, offset)
	if n > 0 {
		err = nil
	}
	return n, err
}

func (m *MemFS) Write(ctx context.Context, ino *Inode, offset int64, buf []byte) (int, error) {
	f, err := m.fs.OpenFile(m.dataPath(ino.Ino), os.O_RDWR, 0o644)
	if err != nil {
		return 0, kerrors.Unavailable(err)
	}
	defer f.Close()
	n, err := f.WriteAt(buf, offset)
	if err != nil {
		return n, kerrors.Unavailable(err)
	}
	if uint64(offset)+uint64(n) > ino.Size() {
		ino.setSize(uint64(offset) + uint64(n))
	}
	return n, nil
}

func (m *MemFS) GetAttr(ctx context.Context, ino *Inode) (Attr, error) {
	return Attr{Mode: ino.Mode, UID: ino.UID, GID: ino.GID, Size: ino.Size(), MTime: time.Now(), LinkCnt: ino.LinkCount()}, nil
}

func (m *MemFS) SetAttr(ctx context.Context, ino *Inode, attr Attr) error {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	ino.Mode = attr.Mode
	ino.UID = attr.UID
	ino.GID = attr.GID
	return nil
}

func (m *MemFS) Sync(ctx context.Context, ino *Inode) error { return nil }
