package vfs

import (
	"context"
	"strings"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/aikernel/core/internal/kerrors"
)

// Mount overlays a filesystem's root inode at an absolute path on
// another filesystem (§3.4).
type Mount struct {
	Path       string
	MountPoint *Inode
	Root       *Inode
	FSName     string
}

// VFS is the top-level namespace: the root mount plus every mount
// layered on top of it, indexed by mount path in an immutable radix
// tree so path resolution can find the deepest mount covering a given
// path with a single longest-prefix lookup instead of walking every
// mount (§4.7).
type VFS struct {
	mountsByIno map[uint64]*Mount // keyed by mount-point inode number, for nested-mount checks mid-walk
	mountTree   *iradix.Tree      // keyed by mount path, for resolving the starting mount of a lookup
}

func NewVFS(root *Inode, fsName string) *VFS {
	m := &Mount{Path: "/", MountPoint: root, Root: root, FSName: fsName}
	tree, _, _ := iradix.New().Insert([]byte("/"), m)
	return &VFS{mountsByIno: map[uint64]*Mount{root.Ino: m}, mountTree: tree}
}

// Mount attaches fsRoot at the absolute path (directory) mountPoint,
// indexing it by both its inode (mid-walk crossing) and its path
// (longest-prefix resolution start).
func (v *VFS) Mount(path string, mountPoint *Inode, fsRoot *Inode, fsName string) {
	path = normalizeMountPath(path)
	m := &Mount{Path: path, MountPoint: mountPoint, Root: fsRoot, FSName: fsName}
	v.mountsByIno[mountPoint.Ino] = m
	v.mountTree, _, _ = v.mountTree.Insert([]byte(path), m)
}

func normalizeMountPath(path string) string {
	if path == "" {
		return "/"
	}
	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		return "/"
	}
	return trimmed
}

// resolveMount returns the inode a directory inode should be treated
// as for lookup purposes: its mounted-over root, if a filesystem is
// mounted there, otherwise itself.
func (v *VFS) resolveMount(dir *Inode) *Inode {
	if m, ok := v.mountsByIno[dir.Ino]; ok && m.MountPoint == dir && m.Root != dir {
		return m.Root
	}
	return dir
}

// startingMount returns the deepest mount whose path is a prefix of
// path, via the radix tree's longest-prefix match, and the unresolved
// remainder of path below that mount. "/" is always present in the
// tree (inserted by NewVFS), so the lookup always succeeds. A
// byte-prefix match that doesn't land on a path-component boundary
// (e.g. mount "/mnt" against path "/mnt2/x") falls back to "/".
func (v *VFS) startingMount(path string) (*Mount, string) {
	key, val, _ := v.mountTree.Root().LongestPrefix([]byte(path))
	if len(key) > 1 && len(path) > len(key) && path[len(key)] != '/' {
		root, _, _ := v.mountTree.Root().Get([]byte("/"))
		return root.(*Mount), strings.TrimPrefix(path, "/")
	}
	m := val.(*Mount)
	rest := strings.TrimPrefix(path, string(key))
	return m, rest
}

// Resolve walks path component by component, starting from the
// deepest mount whose path prefixes it and crossing further mount
// boundaries as the walk descends. `.` and `..` components are both
// skipped: parent pointers are not tracked in the minimal variant, so
// the walk never moves up a level. Lookups otherwise delegate to each
// inode's own backend.
func (v *VFS) Resolve(ctx context.Context, path string) (*Inode, error) {
	mount, rest := v.startingMount(normalizeMountPath(path))
	cur := v.resolveMount(mount.Root)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return cur, nil
	}
	for _, comp := range strings.Split(rest, "/") {
		if comp == "" || comp == "." {
			continue
		}
		if comp == ".." {
			// Minimal variant: no parent traversal above the mount root.
			continue
		}
		next, err := cur.ops.Lookup(ctx, cur, comp)
		if err != nil {
			return nil, err
		}
		cur = v.resolveMount(next)
	}
	return cur, nil
}

// ResolveParentAndName splits path into the parent directory inode and
// the final component, for create/unlink/rename.
func (v *VFS) ResolveParentAndName(ctx context.Context, path string) (*Inode, string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, "", kerrors.InvalidArgument(kerrors.New("vfs: empty path"))
	}
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		parent, err := v.Resolve(ctx, "/")
		return parent, trimmed, err
	}
	parent, err := v.Resolve(ctx, "/"+trimmed[:idx])
	return parent, trimmed[idx+1:], err
}
