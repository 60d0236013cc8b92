// Package chainfs binds the dispatcher to the kernel through go-fuse.
package chainfs

import (
	"context"
	"syscall"

	"github.com/csweichel/chainfs/pkg/adapter"
	"github.com/csweichel/chainfs/pkg/fdtable"
	"github.com/csweichel/chainfs/pkg/pathenc"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// New produces the root of a filesystem whose callbacks are served by d.
func New(d *adapter.Dispatcher) fs.InodeEmbedder {
	return &node{d: d}
}

// node is a path in the remote tree. It holds no entry state: every call
// asks the dispatcher, and the path is recomputed from the inode tree so
// renames are picked up.
type node struct {
	fs.Inode

	d *adapter.Dispatcher
}

func (n *node) path() string {
	return "/" + n.Path(nil)
}

func (n *node) child(name string) string {
	return pathenc.Join(n.path(), name)
}

// do serves op and returns the errno the dispatcher completed it with.
func (n *node) do(ctx context.Context, op adapter.Op) syscall.Errno {
	var res syscall.Errno
	n.d.Serve(ctx, op, func(_ adapter.Op, errno syscall.Errno) {
		res = errno
	})
	return res
}

// entry looks up the attributes of path and produces a new child inode.
func (n *node) entry(ctx context.Context, path string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	op := &adapter.GetattrOp{Path: path}
	if errno := n.do(ctx, op); errno != 0 {
		return nil, errno
	}
	out.Attr = op.Attr

	ch := n.NewInode(ctx, &node{d: n.d}, fs.StableAttr{Mode: op.Attr.Mode & syscall.S_IFMT})
	return ch, fs.OK
}

var _ fs.NodeGetattrer = (*node)(nil)

func (n *node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if h, ok := f.(*handle); ok {
		op := &adapter.FgetattrOp{FD: h.fd, Path: n.path()}
		errno := n.do(ctx, op)
		out.Attr = op.Attr
		return errno
	}

	op := &adapter.GetattrOp{Path: n.path()}
	errno := n.do(ctx, op)
	out.Attr = op.Attr
	return errno
}

var _ fs.NodeSetattrer = (*node)(nil)

// Setattr applies size, mode and ownership changes. Timestamps are kept by
// the remote store and cannot be set.
func (n *node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	path := n.path()

	if size, ok := in.GetSize(); ok {
		var op adapter.Op = &adapter.TruncateOp{Path: path, Size: size}
		if h, ok := f.(*handle); ok {
			op = &adapter.FtruncateOp{FD: h.fd, Path: path, Size: size}
		}
		if errno := n.do(ctx, op); errno != 0 {
			return errno
		}
	}
	if mode, ok := in.GetMode(); ok {
		if errno := n.do(ctx, &adapter.ChmodOp{Path: path, Mode: mode}); errno != 0 {
			return errno
		}
	}
	uid, uok := in.GetUID()
	gid, gok := in.GetGID()
	if uok || gok {
		op := &adapter.ChownOp{Path: path, Uid: -1, Gid: -1}
		if uok {
			op.Uid = int64(uid)
		}
		if gok {
			op.Gid = int64(gid)
		}
		if errno := n.do(ctx, op); errno != 0 {
			return errno
		}
	}

	return n.Getattr(ctx, f, out)
}

var _ fs.NodeLookuper = (*node)(nil)

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return n.entry(ctx, n.child(name), out)
}

var _ fs.NodeReaddirer = (*node)(nil)

func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	op := &adapter.ReaddirOp{Path: n.path()}
	if errno := n.do(ctx, op); errno != 0 {
		return nil, errno
	}

	entries := make([]fuse.DirEntry, 0, len(op.Names))
	for _, name := range op.Names {
		entries = append(entries, fuse.DirEntry{Name: name})
	}
	return fs.NewListDirStream(entries), fs.OK
}

var _ fs.NodeOpener = (*node)(nil)

func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	op := &adapter.OpenOp{Path: n.path(), Flags: flags}
	if errno := n.do(ctx, op); errno != 0 {
		return nil, 0, errno
	}
	return &handle{node: n, fd: op.FD}, fuse.FOPEN_DIRECT_IO, fs.OK
}

var _ fs.NodeCreater = (*node)(nil)

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	path := n.child(name)
	op := &adapter.CreateOp{Path: path, Mode: mode}
	if errno := n.do(ctx, op); errno != 0 {
		return nil, nil, 0, errno
	}

	ch, errno := n.entry(ctx, path, out)
	if errno != 0 {
		n.do(ctx, &adapter.ReleaseOp{FD: op.FD})
		return nil, nil, 0, errno
	}
	return ch, &handle{node: ch.Operations().(*node), fd: op.FD}, fuse.FOPEN_DIRECT_IO, fs.OK
}

var _ fs.NodeMkdirer = (*node)(nil)

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	path := n.child(name)
	if errno := n.do(ctx, &adapter.MkdirOp{Path: path, Mode: mode}); errno != 0 {
		return nil, errno
	}
	return n.entry(ctx, path, out)
}

var _ fs.NodeRmdirer = (*node)(nil)

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.do(ctx, &adapter.RmdirOp{Path: n.child(name)})
}

var _ fs.NodeUnlinker = (*node)(nil)

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.do(ctx, &adapter.UnlinkOp{Path: n.child(name)})
}

var _ fs.NodeRenamer = (*node)(nil)

func (n *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if flags != 0 {
		return syscall.EINVAL
	}
	target := pathenc.Join("/"+newParent.EmbeddedInode().Path(nil), newName)
	return n.do(ctx, &adapter.RenameOp{Source: n.child(name), Target: target})
}

var _ fs.NodeLinker = (*node)(nil)

func (n *node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	path := n.child(name)
	source := "/" + target.EmbeddedInode().Path(nil)
	if errno := n.do(ctx, &adapter.LinkOp{Source: source, Target: path}); errno != 0 {
		return nil, errno
	}
	return n.entry(ctx, path, out)
}

var _ fs.NodeSymlinker = (*node)(nil)

func (n *node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	path := n.child(name)
	if errno := n.do(ctx, &adapter.SymlinkOp{Target: target, Path: path}); errno != 0 {
		return nil, errno
	}
	return n.entry(ctx, path, out)
}

var _ fs.NodeReadlinker = (*node)(nil)

func (n *node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	op := &adapter.ReadlinkOp{Path: n.path()}
	if errno := n.do(ctx, op); errno != 0 {
		return nil, errno
	}
	return []byte(op.Target), fs.OK
}

// handle is an open file. The kernel serializes calls per handle.
type handle struct {
	node *node
	fd   fdtable.FD
}

var _ fs.FileReader = (*handle)(nil)

func (h *handle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	op := &adapter.ReadOp{FD: h.fd, Path: h.node.path(), Offset: off, Size: len(dest)}
	if errno := h.node.do(ctx, op); errno != 0 {
		return nil, errno
	}
	return fuse.ReadResultData(op.Data), fs.OK
}

var _ fs.FileWriter = (*handle)(nil)

// Write reports a short write when part of data reached the store before
// a failure.
func (h *handle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	op := &adapter.WriteOp{FD: h.fd, Offset: off, Data: data}
	errno := h.node.do(ctx, op)
	if errno != 0 && op.Written == 0 {
		return 0, errno
	}
	return uint32(op.Written), fs.OK
}

var _ fs.FileFlusher = (*handle)(nil)

// Flush has nothing to do: mutations settle before the write returns.
func (h *handle) Flush(ctx context.Context) syscall.Errno {
	return fs.OK
}

var _ fs.FileFsyncer = (*handle)(nil)

func (h *handle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return fs.OK
}

var _ fs.FileReleaser = (*handle)(nil)

func (h *handle) Release(ctx context.Context) syscall.Errno {
	return h.node.do(ctx, &adapter.ReleaseOp{FD: h.fd})
}
