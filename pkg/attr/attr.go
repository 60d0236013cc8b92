// Package attr derives POSIX attributes from remote entries.
package attr

import (
	"fmt"
	"syscall"

	"github.com/csweichel/chainfs/pkg/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Permission templates per kind. They apply when an entry carries no
// permission bits of its own.
const (
	DirectoryPerm = 0o755
	RegularPerm   = 0o644
	ProgramPerm   = 0o755
	SymlinkPerm   = 0o777
)

// Identities resolves remote identities to local ids.
type Identities interface {
	UID(owner common.Address) (uint32, bool)
	GID(group common.Address) (uint32, bool)
	Fallback() (uid, gid uint32)
}

// SizeFunc is called when the entry record does not carry the content
// length and the kind needs one.
type SizeFunc func() (uint64, error)

// Synthesize fills out from e. size may be nil if e.SizeKnown is set or the
// entry is a directory.
func Synthesize(e store.Entry, ids Identities, size SizeFunc, out *fuse.Attr) error {
	var typ, perm uint32
	switch e.Kind {
	case store.KindDirectory:
		typ, perm = syscall.S_IFDIR, DirectoryPerm
	case store.KindRegular:
		typ, perm = syscall.S_IFREG, RegularPerm
	case store.KindProgram:
		typ, perm = syscall.S_IFREG, ProgramPerm
	case store.KindSymlink:
		typ, perm = syscall.S_IFLNK, SymlinkPerm
	default:
		return fmt.Errorf("cannot synthesize attributes for %v", e.Kind)
	}
	if p := e.Mode & 0o7777; p != 0 {
		perm = p
	}
	out.Mode = typ | perm

	switch e.Kind {
	case store.KindDirectory:
		out.Size = e.Entries
		out.Nlink = uint32(e.Entries)
	default:
		out.Nlink = uint32(e.Links)
		if out.Nlink == 0 {
			out.Nlink = 1
		}
		if e.SizeKnown {
			out.Size = e.Size
		} else if size != nil {
			sz, err := size()
			if err != nil {
				return err
			}
			out.Size = sz
		}
	}
	out.Blocks = (out.Size + 511) / 512

	mtime := uint64(0)
	if e.LastModified > 0 {
		mtime = uint64(e.LastModified)
	}
	out.Mtime = mtime
	out.Atime = mtime
	out.Ctime = mtime

	uid, gid := ids.Fallback()
	if id, ok := ids.UID(e.Owner); ok {
		uid = id
	}
	if id, ok := ids.GID(e.Group); ok {
		gid = id
	}
	out.Owner = fuse.Owner{Uid: uid, Gid: gid}

	return nil
}
