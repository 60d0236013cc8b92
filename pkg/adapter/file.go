package adapter

import (
	"context"
	"syscall"

	"github.com/csweichel/chainfs/pkg/chunkio"
	"github.com/csweichel/chainfs/pkg/fdtable"
	"github.com/csweichel/chainfs/pkg/fserr"
	"github.com/csweichel/chainfs/pkg/store"
	"github.com/sirupsen/logrus"
)

// maxGap bounds the zero fill a write past the end of a file may add.
const maxGap = 64 << 20

// remoteFlags translates POSIX open flags. ok is false for read-only opens,
// which need no remote handle.
func remoteFlags(flags uint32) (res store.Flags, ok bool) {
	switch flags & syscall.O_ACCMODE {
	case syscall.O_WRONLY:
		res = store.FlagWrite
	case syscall.O_RDWR:
		res = store.FlagRead | store.FlagWrite
	default:
		return 0, false
	}
	if flags&syscall.O_CREAT != 0 {
		res |= store.FlagCreate
	}
	return res, true
}

func (d *Dispatcher) open(ctx context.Context, op *OpenOp) error {
	flags, ok := remoteFlags(op.Flags)
	if !ok {
		op.FD = d.fds.Insert(fdtable.Entry{Path: op.Path, Remote: fdtable.Direct})
		return nil
	}

	p, err := encode(op.Path)
	if err != nil {
		return err
	}
	h, err := d.store.Open(ctx, p, flags)
	if err != nil {
		return err
	}
	if op.Flags&syscall.O_TRUNC != 0 {
		err = d.store.Truncate(ctx, h, store.DefaultKey, 0)
		if err != nil {
			d.closeRemote(ctx, op.Path, h)
			return err
		}
	}

	op.FD = d.fds.Insert(fdtable.Entry{Path: op.Path, Remote: h, Flags: flags})
	return nil
}

// create opens the file for writing, creating it, and then applies the
// mode. If the mode cannot be applied the file stays created but the
// handle is closed again.
func (d *Dispatcher) create(ctx context.Context, op *CreateOp) error {
	p, err := encode(op.Path)
	if err != nil {
		return err
	}
	flags := store.FlagWrite | store.FlagCreate
	h, err := d.store.Open(ctx, p, flags)
	if err != nil {
		return err
	}
	err = d.store.Chmod(ctx, p, op.Mode&0o7777)
	if err != nil {
		d.closeRemote(ctx, op.Path, h)
		return err
	}

	op.FD = d.fds.Insert(fdtable.Entry{Path: op.Path, Remote: h, Flags: flags})
	return nil
}

// closeRemote closes a handle that never made it into the table.
func (d *Dispatcher) closeRemote(ctx context.Context, path string, h store.Handle) {
	err := d.store.Close(ctx, h)
	if err != nil {
		logrus.WithField("path", path).WithField("handle", h).WithError(err).Warn("cannot close remote handle")
	}
}

func (d *Dispatcher) read(ctx context.Context, op *ReadOp) error {
	f, err := d.file(op.FD)
	if err != nil {
		return err
	}

	var data []byte
	if f.IsDirect() {
		var p store.Path
		p, err = encode(f.CurrentPath(op.Path))
		if err != nil {
			return err
		}
		data, err = d.store.ReadPath(ctx, p, store.DefaultKey)
	} else {
		data, err = d.store.Read(ctx, f.Remote, store.DefaultKey)
	}
	if err != nil {
		return fserr.Translate("read", f.Path, err)
	}

	op.Data = chunkio.Slice(data, op.Offset, op.Size)
	return nil
}

// size returns the current length of the file's primary content.
func (d *Dispatcher) size(ctx context.Context, f fdtable.Entry) (uint64, error) {
	e, err := d.store.Fstat(ctx, f.Remote)
	if err != nil {
		return 0, err
	}
	if e.SizeKnown {
		return e.Size, nil
	}
	return d.handleLength(ctx, f.Remote)()
}

// write overwrites by truncating to the offset and appending. Offsets past
// the end of the file are zero filled.
func (d *Dispatcher) write(ctx context.Context, op *WriteOp) error {
	f, err := d.file(op.FD)
	if err != nil {
		return err
	}
	if f.IsDirect() || f.Flags&store.FlagWrite == 0 {
		return fserr.New("write", f.Path, fserr.KindBadHandle)
	}
	if op.Offset < 0 {
		return fserr.New("write", f.Path, fserr.KindInvalid)
	}

	size, err := d.size(ctx, f)
	if err != nil {
		return fserr.Translate("write", f.Path, err)
	}

	off := uint64(op.Offset)
	payload := op.Data
	switch {
	case off < size:
		err = d.store.Truncate(ctx, f.Remote, store.DefaultKey, off)
		if err != nil {
			return fserr.Translate("write", f.Path, err)
		}
	case off > size:
		if off-size > maxGap {
			return fserr.New("write", f.Path, fserr.KindTooLarge)
		}
		payload = make([]byte, off-size+uint64(len(op.Data)))
		copy(payload[off-size:], op.Data)
	}

	n, err := d.writer.WriteAll(ctx, f.Remote, store.DefaultKey, payload)
	written := n - (len(payload) - len(op.Data))
	if written < 0 {
		written = 0
	}
	op.Written = written
	if err != nil {
		return fserr.Translate("write", f.Path, err)
	}
	return nil
}

// truncate opens a transient handle for the path.
func (d *Dispatcher) truncate(ctx context.Context, op *TruncateOp) error {
	p, err := encode(op.Path)
	if err != nil {
		return err
	}
	return d.withHandle(ctx, p, func(h store.Handle) error {
		return d.store.Truncate(ctx, h, store.DefaultKey, op.Size)
	})
}

func (d *Dispatcher) ftruncate(ctx context.Context, op *FtruncateOp) error {
	f, err := d.file(op.FD)
	if err != nil {
		return err
	}
	if f.IsDirect() {
		return d.truncate(ctx, &TruncateOp{Path: f.CurrentPath(op.Path), Size: op.Size})
	}

	err = d.store.Truncate(ctx, f.Remote, store.DefaultKey, op.Size)
	if err != nil {
		return fserr.Translate("ftruncate", f.Path, err)
	}
	return nil
}

// release drops the handle locally even when the remote close fails.
func (d *Dispatcher) release(ctx context.Context, op *ReleaseOp) error {
	f, ok := d.fds.Remove(op.FD)
	if !ok {
		return fserr.New("release", "", fserr.KindBadHandle)
	}
	if f.IsDirect() {
		return nil
	}

	err := d.store.Close(ctx, f.Remote)
	if err != nil {
		return fserr.Translate("release", f.Path, err)
	}
	return nil
}
