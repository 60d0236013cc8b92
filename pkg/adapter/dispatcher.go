// Package adapter implements filesystem callbacks in terms of the remote
// store API.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"syscall"

	"github.com/csweichel/chainfs/pkg/attr"
	"github.com/csweichel/chainfs/pkg/chunkio"
	"github.com/csweichel/chainfs/pkg/fdtable"
	"github.com/csweichel/chainfs/pkg/fserr"
	"github.com/csweichel/chainfs/pkg/pathenc"
	"github.com/csweichel/chainfs/pkg/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"
)

// Identities translates between local ids and remote identities.
type Identities interface {
	attr.Identities
	Owner(uid uint32) (common.Address, bool)
	Group(gid uint32) (common.Address, bool)
}

// Options configure a Dispatcher.
type Options struct {
	// ChunkSize bounds the payload of a single remote write call.
	// Zero selects chunkio.DefaultChunkSize.
	ChunkSize int
}

// Dispatcher serves filesystem callbacks. It holds no state besides the
// open file table and is safe for concurrent use; calls on unrelated
// handles never wait for each other.
type Dispatcher struct {
	store  store.Store
	ids    Identities
	fds    *fdtable.Table
	writer *chunkio.Writer
}

// New produces a dispatcher on top of s.
func New(s store.Store, ids Identities, opts Options) *Dispatcher {
	return &Dispatcher{
		store:  s,
		ids:    ids,
		fds:    fdtable.New(),
		writer: chunkio.NewWriter(s, opts.ChunkSize),
	}
}

// OpenFiles returns the number of handles not yet released.
func (d *Dispatcher) OpenFiles() int {
	return d.fds.Len()
}

// Handle executes op. Failures are returned as *fserr.Error.
func (d *Dispatcher) Handle(ctx context.Context, op Op) error {
	var err error
	switch o := op.(type) {
	case *GetattrOp:
		err = d.getattr(ctx, o)
	case *FgetattrOp:
		err = d.fgetattr(ctx, o)
	case *ReaddirOp:
		err = d.readdir(ctx, o)
	case *OpenOp:
		err = d.open(ctx, o)
	case *CreateOp:
		err = d.create(ctx, o)
	case *ReadOp:
		err = d.read(ctx, o)
	case *WriteOp:
		err = d.write(ctx, o)
	case *TruncateOp:
		err = d.truncate(ctx, o)
	case *FtruncateOp:
		err = d.ftruncate(ctx, o)
	case *ReleaseOp:
		err = d.release(ctx, o)
	case *ChmodOp:
		err = d.chmod(ctx, o)
	case *ChownOp:
		err = d.chown(ctx, o)
	case *SetxattrOp:
		err = d.setxattr(ctx, o)
	case *GetxattrOp:
		err = d.getxattr(ctx, o)
	case *ListxattrOp:
		err = d.listxattr(ctx, o)
	case *RemovexattrOp:
		err = d.removexattr(ctx, o)
	case *LinkOp:
		err = d.link(ctx, o)
	case *UnlinkOp:
		err = d.unlink(ctx, o)
	case *SymlinkOp:
		err = d.symlink(ctx, o)
	case *ReadlinkOp:
		err = d.readlink(ctx, o)
	case *RenameOp:
		err = d.rename(ctx, o)
	case *MkdirOp:
		err = d.mkdir(ctx, o)
	case *RmdirOp:
		err = d.rmdir(ctx, o)
	default:
		return fserr.New(fmt.Sprintf("%T", op), "", fserr.KindUnsupported)
	}
	if err == nil {
		return nil
	}

	name, path := describe(op)
	res := fserr.Translate(name, path, err)
	logrus.WithField("op", res.Op).WithField("path", res.Path).WithField("reason", res.Reason).WithError(err).Debug("operation failed")
	return res
}

// Serve executes op and reports its outcome to done. done is called exactly
// once, also when a handler panics.
func (d *Dispatcher) Serve(ctx context.Context, op Op, done func(op Op, errno syscall.Errno)) {
	errno := syscall.EIO
	defer func() {
		if r := recover(); r != nil {
			name, path := describe(op)
			logrus.WithField("op", name).WithField("path", path).WithField("panic", r).WithField("stack", string(debug.Stack())).Error("handler panicked")
		}
		done(op, errno)
	}()
	errno = fserr.Errno(d.Handle(ctx, op))
}

// describe tolerates nil ops, including typed nil pointers.
func describe(op Op) (name, path string) {
	if op == nil {
		return "", ""
	}
	defer func() {
		if recover() != nil {
			name, path = fmt.Sprintf("%T", op), ""
		}
	}()
	return op.describe()
}

func encode(p string) (store.Path, error) {
	return pathenc.EncodePath(p)
}

// file returns the open file behind fd.
func (d *Dispatcher) file(fd fdtable.FD) (fdtable.Entry, error) {
	e, ok := d.fds.Get(fd)
	if !ok {
		return fdtable.Entry{}, fserr.New("", "", fserr.KindBadHandle)
	}
	return e, nil
}

// pathLength reads the length of the default slot by path.
func (d *Dispatcher) pathLength(ctx context.Context, p store.Path) attr.SizeFunc {
	return func() (uint64, error) {
		return slotLength(d.store.ReadPath(ctx, p, store.DefaultKey))
	}
}

// handleLength reads the length of the default slot through an open handle,
// which stays valid when the file is renamed or unlinked.
func (d *Dispatcher) handleLength(ctx context.Context, h store.Handle) attr.SizeFunc {
	return func() (uint64, error) {
		return slotLength(d.store.Read(ctx, h, store.DefaultKey))
	}
}

// slotLength treats a missing default slot as empty content.
func slotLength(b []byte, err error) (uint64, error) {
	if err != nil {
		if isReason(err, store.ReasonNoSuchKey) {
			return 0, nil
		}
		return 0, err
	}
	return uint64(len(b)), nil
}

func isReason(err error, reason string) bool {
	var re *store.RemoteError
	return errors.As(err, &re) && re.Reason == reason
}

// synthesize fills out from e, querying the size when e does not carry it.
// content measures a regular file.
func (d *Dispatcher) synthesize(ctx context.Context, p store.Path, e store.Entry, content attr.SizeFunc, out *fuse.Attr) error {
	var size attr.SizeFunc
	switch e.Kind {
	case store.KindRegular:
		size = content
	case store.KindSymlink:
		size = func() (uint64, error) {
			target, err := d.store.Readlink(ctx, p)
			return uint64(len(target)), err
		}
	case store.KindProgram:
		if cs, ok := d.store.(store.CodeSizer); ok {
			size = func() (uint64, error) { return cs.CodeSize(ctx, e.Owner) }
		}
	}
	return attr.Synthesize(e, d.ids, size, out)
}
