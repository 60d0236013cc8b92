package adapter

import (
	"context"

	"github.com/csweichel/chainfs/pkg/fserr"
	"github.com/csweichel/chainfs/pkg/pathenc"
	"github.com/csweichel/chainfs/pkg/store"
)

func (d *Dispatcher) getattr(ctx context.Context, op *GetattrOp) error {
	p, err := encode(op.Path)
	if err != nil {
		return err
	}
	e, err := d.store.Lstat(ctx, p)
	if err != nil {
		return err
	}
	return d.synthesize(ctx, p, e, d.pathLength(ctx, p), &op.Attr)
}

// fgetattr prefers the handle's view of the entry. Files opened without a
// remote handle are looked up by path.
func (d *Dispatcher) fgetattr(ctx context.Context, op *FgetattrOp) error {
	f, err := d.file(op.FD)
	if err != nil {
		return err
	}
	path := f.CurrentPath(op.Path)

	if f.IsDirect() {
		p, err := encode(path)
		if err != nil {
			return err
		}
		e, err := d.store.Stat(ctx, p)
		if err != nil {
			return fserr.Translate("fgetattr", path, err)
		}
		return d.synthesize(ctx, p, e, d.pathLength(ctx, p), &op.Attr)
	}

	e, err := d.store.Fstat(ctx, f.Remote)
	if err != nil {
		return fserr.Translate("fgetattr", path, err)
	}
	// the path only measures symlinks, an unlinked file may have none
	p, _ := encode(path)
	return d.synthesize(ctx, p, e, d.handleLength(ctx, f.Remote), &op.Attr)
}

func (d *Dispatcher) readdir(ctx context.Context, op *ReaddirOp) error {
	p, err := encode(op.Path)
	if err != nil {
		return err
	}
	e, err := d.store.Stat(ctx, p)
	if err != nil {
		return err
	}
	if e.Kind != store.KindDirectory {
		return fserr.New("readdir", op.Path, fserr.KindNotDir)
	}

	names := make([]string, 0, e.Entries)
	for i := uint64(0); i < e.Entries; i++ {
		k, err := d.store.ReadKeyPath(ctx, p, i)
		if err != nil {
			return err
		}
		names = append(names, pathenc.Decode(k))
	}
	op.Names = names
	return nil
}

// mkdir ignores the requested mode: the remote store applies its own
// directory permissions.
func (d *Dispatcher) mkdir(ctx context.Context, op *MkdirOp) error {
	p, err := encode(op.Path)
	if err != nil {
		return err
	}
	return d.store.Mkdir(ctx, p)
}

func (d *Dispatcher) rmdir(ctx context.Context, op *RmdirOp) error {
	p, err := encode(op.Path)
	if err != nil {
		return err
	}
	return d.store.Rmdir(ctx, p)
}

func (d *Dispatcher) unlink(ctx context.Context, op *UnlinkOp) error {
	p, err := encode(op.Path)
	if err != nil {
		return err
	}
	return d.store.Unlink(ctx, p)
}

func (d *Dispatcher) link(ctx context.Context, op *LinkOp) error {
	src, err := encode(op.Source)
	if err != nil {
		return err
	}
	dst, err := encode(op.Target)
	if err != nil {
		return err
	}
	return d.store.Link(ctx, src, dst)
}

func (d *Dispatcher) symlink(ctx context.Context, op *SymlinkOp) error {
	p, err := encode(op.Path)
	if err != nil {
		return err
	}
	return d.store.Symlink(ctx, pathenc.Encode(op.Target), p)
}

func (d *Dispatcher) readlink(ctx context.Context, op *ReadlinkOp) error {
	p, err := encode(op.Path)
	if err != nil {
		return err
	}
	target, err := d.store.Readlink(ctx, p)
	if err != nil {
		return err
	}
	op.Target = pathenc.Decode(target)
	return nil
}

func (d *Dispatcher) rename(ctx context.Context, op *RenameOp) error {
	src, err := encode(op.Source)
	if err != nil {
		return err
	}
	dst, err := encode(op.Target)
	if err != nil {
		return err
	}
	return d.store.Rename(ctx, src, dst)
}

func (d *Dispatcher) chmod(ctx context.Context, op *ChmodOp) error {
	p, err := encode(op.Path)
	if err != nil {
		return err
	}
	return d.store.Chmod(ctx, p, op.Mode&0o7777)
}

// chown maps local ids to remote identities. Ids without a mapping are
// rejected.
func (d *Dispatcher) chown(ctx context.Context, op *ChownOp) error {
	p, err := encode(op.Path)
	if err != nil {
		return err
	}

	var cur store.Entry
	if op.Uid < 0 || op.Gid < 0 {
		cur, err = d.store.Stat(ctx, p)
		if err != nil {
			return err
		}
	}

	owner, group := cur.Owner, cur.Group
	if op.Uid >= 0 {
		a, ok := d.ids.Owner(uint32(op.Uid))
		if !ok {
			return fserr.New("chown", op.Path, fserr.KindInvalid)
		}
		owner = a
	}
	if op.Gid >= 0 {
		a, ok := d.ids.Group(uint32(op.Gid))
		if !ok {
			return fserr.New("chown", op.Path, fserr.KindInvalid)
		}
		group = a
	}
	return d.store.Chown(ctx, p, owner, group)
}
