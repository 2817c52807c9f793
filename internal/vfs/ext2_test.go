package vfs_test

import (
	"context"
	"testing"

	"github.com/aikernel/core/internal/block"
	"github.com/aikernel/core/internal/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExt2CreateAndWriteGoThroughJournalWhenPresent(t *testing.T) {
	ctx := context.Background()
	dev := block.NewMemDevice("disk0", 8, 0, 2048, false)
	journal := vfs.NewJournal(16)
	fs := vfs.NewExt2FS(dev, vfs.Ext2Params{BlockSize: 1024, TotalBlocks: 1024, TotalInodes: 256}, journal)

	child, err := fs.Create(ctx, fs.Root, "file.dat", vfs.KindRegular, 0o644)
	require.NoError(t, err)

	n, err := fs.Write(ctx, child, 0, []byte("ext4-journaled-write"))
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	replayed := journal.Recover(func(blockNum uint64, data []byte) {})
	assert.GreaterOrEqual(t, replayed, 2, "both the create and the write must have gone through the journal")
}

func TestExt2ReadReturnsBytesWrittenAtSameOffset(t *testing.T) {
	ctx := context.Background()
	dev := block.NewMemDevice("disk0", 8, 0, 2048, false)
	fs := vfs.NewExt2FS(dev, vfs.Ext2Params{BlockSize: 1024, TotalBlocks: 1024, TotalInodes: 256}, nil)

	child, err := fs.Create(ctx, fs.Root, "file.dat", vfs.KindRegular, 0o644)
	require.NoError(t, err)

	n, err := fs.Write(ctx, child, 0, []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	buf := make([]byte, 11)
	n, err = fs.Read(ctx, child, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "hello world", string(buf))
}

func TestExt2ReadSpansMultipleBlocks(t *testing.T) {
	ctx := context.Background()
	dev := block.NewMemDevice("disk0", 8, 0, 2048, false)
	fs := vfs.NewExt2FS(dev, vfs.Ext2Params{BlockSize: 8, TotalBlocks: 1024, TotalInodes: 256}, nil)

	child, err := fs.Create(ctx, fs.Root, "file.dat", vfs.KindRegular, 0o644)
	require.NoError(t, err)

	data := []byte("0123456789abcdef")
	n, err := fs.Write(ctx, child, 0, data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	buf := make([]byte, len(data))
	n, err = fs.Read(ctx, child, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, string(data), string(buf))
}

func TestExt2ReadClampsToInodeSize(t *testing.T) {
	ctx := context.Background()
	dev := block.NewMemDevice("disk0", 8, 0, 2048, false)
	fs := vfs.NewExt2FS(dev, vfs.Ext2Params{BlockSize: 1024, TotalBlocks: 1024, TotalInodes: 256}, nil)

	child, err := fs.Create(ctx, fs.Root, "file.dat", vfs.KindRegular, 0o644)
	require.NoError(t, err)

	_, err = fs.Write(ctx, child, 0, []byte("short"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := fs.Read(ctx, child, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "short", string(buf[:n]))
}

func TestExt2WriteAtOffsetPreservesPriorBytes(t *testing.T) {
	ctx := context.Background()
	dev := block.NewMemDevice("disk0", 8, 0, 2048, false)
	fs := vfs.NewExt2FS(dev, vfs.Ext2Params{BlockSize: 1024, TotalBlocks: 1024, TotalInodes: 256}, nil)

	child, err := fs.Create(ctx, fs.Root, "file.dat", vfs.KindRegular, 0o644)
	require.NoError(t, err)

	_, err = fs.Write(ctx, child, 0, []byte("AAAAAAAAAA"))
	require.NoError(t, err)
	_, err = fs.Write(ctx, child, 2, []byte("BB"))
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := fs.Read(ctx, child, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "AABBAAAAAA", string(buf))
}

func TestExt2PlainModeSkipsJournal(t *testing.T) {
	ctx := context.Background()
	dev := block.NewMemDevice("disk0", 8, 0, 2048, false)
	fs := vfs.NewExt2FS(dev, vfs.Ext2Params{BlockSize: 1024, TotalBlocks: 1024, TotalInodes: 256}, nil)

	_, err := fs.Create(ctx, fs.Root, "file.dat", vfs.KindRegular, 0o644)
	require.NoError(t, err)
	assert.Nil(t, fs.Journal)
}
