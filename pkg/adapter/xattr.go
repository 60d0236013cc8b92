package adapter

import (
	"context"

	"github.com/csweichel/chainfs/pkg/fserr"
	"github.com/csweichel/chainfs/pkg/pathenc"
	"github.com/csweichel/chainfs/pkg/store"
	"golang.org/x/sys/unix"
)

// Extended attributes live in the named slots of a file. The default slot
// holds the content and is never exposed as an attribute.

func xattrKey(op, path, name string) ([]byte, error) {
	if name == "" {
		return nil, fserr.New(op, path, fserr.KindInvalid)
	}
	return pathenc.EncodeKey(name)
}

// withHandle runs fn on a transient write handle for p.
func (d *Dispatcher) withHandle(ctx context.Context, p store.Path, fn func(h store.Handle) error) (err error) {
	h, err := d.store.Open(ctx, p, store.FlagWrite)
	if err != nil {
		return err
	}
	defer func() {
		cerr := d.store.Close(ctx, h)
		if err == nil {
			err = cerr
		}
	}()
	return fn(h)
}

func (d *Dispatcher) setxattr(ctx context.Context, op *SetxattrOp) error {
	key, err := xattrKey("setxattr", op.Path, op.Name)
	if err != nil {
		return err
	}
	p, err := encode(op.Path)
	if err != nil {
		return err
	}

	if op.Flags&(unix.XATTR_CREATE|unix.XATTR_REPLACE) != 0 {
		_, err := d.store.ReadPath(ctx, p, key)
		exists := err == nil
		if err != nil && !isReason(err, store.ReasonNoSuchKey) {
			return err
		}
		if op.Flags&unix.XATTR_CREATE != 0 && exists {
			return fserr.New("setxattr", op.Path, fserr.KindExists)
		}
		if op.Flags&unix.XATTR_REPLACE != 0 && !exists {
			return fserr.New("setxattr", op.Path, fserr.KindNoAttr)
		}
	}

	return d.withHandle(ctx, p, func(h store.Handle) error {
		err := d.store.Truncate(ctx, h, key, 0)
		if err != nil {
			return err
		}
		_, err = d.writer.WriteAll(ctx, h, key, op.Value)
		return err
	})
}

func (d *Dispatcher) getxattr(ctx context.Context, op *GetxattrOp) error {
	key, err := xattrKey("getxattr", op.Path, op.Name)
	if err != nil {
		return err
	}
	p, err := encode(op.Path)
	if err != nil {
		return err
	}
	v, err := d.store.ReadPath(ctx, p, key)
	if err != nil {
		// only regular files carry slots, like listxattr reports
		e, serr := d.store.Stat(ctx, p)
		if serr == nil && e.Kind != store.KindRegular {
			return fserr.New("getxattr", op.Path, fserr.KindNoAttr)
		}
		return err
	}
	op.Value = v
	return nil
}

// listxattr enumerates the named slots of a file. Other kinds carry no
// slots.
func (d *Dispatcher) listxattr(ctx context.Context, op *ListxattrOp) error {
	p, err := encode(op.Path)
	if err != nil {
		return err
	}
	e, err := d.store.Stat(ctx, p)
	if err != nil {
		return err
	}

	names := []string{}
	if e.Kind == store.KindRegular {
		for i := uint64(0); i < e.Entries; i++ {
			k, err := d.store.ReadKeyPath(ctx, p, i)
			if err != nil {
				return err
			}
			name := pathenc.Decode(k)
			if name == "" {
				continue
			}
			names = append(names, name)
		}
	}
	op.Names = names
	return nil
}

func (d *Dispatcher) removexattr(ctx context.Context, op *RemovexattrOp) error {
	key, err := xattrKey("removexattr", op.Path, op.Name)
	if err != nil {
		return err
	}
	p, err := encode(op.Path)
	if err != nil {
		return err
	}
	return d.withHandle(ctx, p, func(h store.Handle) error {
		return d.store.Clear(ctx, h, key)
	})
}
