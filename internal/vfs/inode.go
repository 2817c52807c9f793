// Package vfs implements the pluggable virtual filesystem layer:
// inodes with a backend operation table, files, mounts, path
// resolution, and the in-memory, device, pty, and journaled-ext
// backends (§3.4, §4.7).
package vfs

import (
	"context"
	"sync"
	"time"
)

// Kind is an inode's file type (§3.4).
type Kind int

const (
	KindRegular Kind = iota
	KindDirectory
	KindCharDev
	KindBlockDev
	KindSymlink
	KindPipe
	KindPTY
)

// Attr is the subset of inode metadata getattr/setattr exchange.
type Attr struct {
	Mode    uint32
	UID     uint32
	GID     uint32
	Size    uint64
	MTime   time.Time
	LinkCnt uint32
}

// Ops is the operation table every backend implements and every inode
// forwards through (§4.7).
type Ops interface {
	Lookup(ctx context.Context, dir *Inode, name string) (*Inode, error)
	Create(ctx context.Context, dir *Inode, name string, kind Kind, mode uint32) (*Inode, error)
	Unlink(ctx context.Context, dir *Inode, name string) error
	Rename(ctx context.Context, oldDir *Inode, oldName string, newDir *Inode, newName string) error
	Read(ctx context.Context, ino *Inode, offset int64, buf []byte) (int, error)
	Write(ctx context.Context, ino *Inode, offset int64, buf []byte) (int, error)
	GetAttr(ctx context.Context, ino *Inode) (Attr, error)
	SetAttr(ctx context.Context, ino *Inode, attr Attr) error
	Sync(ctx context.Context, ino *Inode) error
}

// Inode identifies one filesystem object and carries a pointer back to
// the backend operation table that serves it (§3.4).
type Inode struct {
	mu sync.RWMutex

	Ino     uint64
	Kind    Kind
	Mode    uint32
	UID     uint32
	GID     uint32
	size    uint64
	linkCnt uint32
	ops     Ops

	// Device-file fields: major/minor for KindCharDev/KindBlockDev.
	Major, Minor uint32
}

func (i *Inode) Size() uint64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.size
}

func (i *Inode) setSize(n uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.size = n
}

func (i *Inode) LinkCount() uint32 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.linkCnt
}
