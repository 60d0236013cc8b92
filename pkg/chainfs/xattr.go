package chainfs

import (
	"context"
	"syscall"

	"github.com/csweichel/chainfs/pkg/adapter"
	"github.com/hanwen/go-fuse/v2/fs"
	"golang.org/x/sys/unix"
)

// fit copies value into dest following the xattr size probe protocol: an
// empty dest asks for the size, a short one fails with ERANGE.
func fit(dest, value []byte) (uint32, syscall.Errno) {
	if len(dest) == 0 {
		return uint32(len(value)), fs.OK
	}
	if len(dest) < len(value) {
		return 0, unix.ERANGE
	}
	return uint32(copy(dest, value)), fs.OK
}

// nameList packs names as a sequence of NUL terminated strings.
func nameList(names []string) []byte {
	var res []byte
	for _, n := range names {
		res = append(res, n...)
		res = append(res, 0)
	}
	return res
}

var _ fs.NodeGetxattrer = (*node)(nil)

func (n *node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	op := &adapter.GetxattrOp{Path: n.path(), Name: attr}
	if errno := n.do(ctx, op); errno != 0 {
		return 0, errno
	}
	return fit(dest, op.Value)
}

var _ fs.NodeSetxattrer = (*node)(nil)

func (n *node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	return n.do(ctx, &adapter.SetxattrOp{Path: n.path(), Name: attr, Value: data, Flags: flags})
}

var _ fs.NodeListxattrer = (*node)(nil)

func (n *node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	op := &adapter.ListxattrOp{Path: n.path()}
	if errno := n.do(ctx, op); errno != 0 {
		return 0, errno
	}
	return fit(dest, nameList(op.Names))
}

var _ fs.NodeRemovexattrer = (*node)(nil)

func (n *node) Removexattr(ctx context.Context, attr string) syscall.Errno {
	return n.do(ctx, &adapter.RemovexattrOp{Path: n.path(), Name: attr})
}
