package vfs

import (
	"context"

	"github.com/aikernel/core/internal/kerrors"
)

// OpenFlags mirror the conventional POSIX open(2) bitset.
type OpenFlags uint32

const (
	ORdOnly OpenFlags = 0
	OWrOnly OpenFlags = 1 << iota
	ORdWr
	OCreate
	OAppend
	OTrunc
)

// Whence selects the reference point for Seek, including SEEK_END,
// added per the resolved open question on VFS op completeness.
type Whence int

const (
	SeekSet Whence = iota
	SeekCur
	SeekEnd
)

// Variant distinguishes special-file File handles from ordinary ones
// (§3.4 "variant indicator").
type Variant int

const (
	VariantNone Variant = iota
	VariantPipeRead
	VariantPipeWrite
	VariantPTYMaster
	VariantPTYSlave
)

// File is an open reference to an inode plus an offset and flags
// (§3.4).
type File struct {
	Inode   *Inode
	Offset  int64
	Flags   OpenFlags
	Variant Variant
}

func (f *File) Read(ctx context.Context, buf []byte) (int, error) {
	n, err := f.Inode.ops.Read(ctx, f.Inode, f.Offset, buf)
	f.Offset += int64(n)
	return n, err
}

func (f *File) Write(ctx context.Context, buf []byte) (int, error) {
	if f.Flags&OAppend != 0 {
		f.Offset = int64(f.Inode.Size())
	}
	n, err := f.Inode.ops.Write(ctx, f.Inode, f.Offset, buf)
	f.Offset += int64(n)
	return n, err
}

// Seek repositions the file offset per whence, rejecting a negative
// result.
func (f *File) Seek(offset int64, whence Whence) (int64, error) {
	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = f.Offset
	case SeekEnd:
		base = int64(f.Inode.Size())
	default:
		return 0, kerrors.InvalidArgument(kerrors.New("vfs: invalid whence"))
	}
	next := base + offset
	if next < 0 {
		return 0, kerrors.InvalidArgument(kerrors.New("vfs: negative seek result"))
	}
	f.Offset = next
	return next, nil
}
