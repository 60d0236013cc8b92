package adapter

import (
	"github.com/csweichel/chainfs/pkg/fdtable"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Op is a filesystem callback. The set of operations is closed: every
// implementation lives in this file and Dispatcher.Handle covers each one.
// Fields above the blank line of a struct are inputs, the ones below are
// filled in by the dispatcher.
type Op interface {
	describe() (name, path string)
}

type GetattrOp struct {
	Path string

	Attr fuse.Attr
}

// FgetattrOp reports attributes through an open handle. Path is the
// file's current path if known; handles without a remote handle use it
// instead of the path they were opened with.
type FgetattrOp struct {
	FD   fdtable.FD
	Path string

	Attr fuse.Attr
}

type ReaddirOp struct {
	Path string

	// Names are in remote iteration order.
	Names []string
}

type OpenOp struct {
	Path  string
	Flags uint32

	FD fdtable.FD
}

type CreateOp struct {
	Path string
	Mode uint32

	FD fdtable.FD
}

type ReadOp struct {
	FD     fdtable.FD
	Path   string
	Offset int64
	Size   int

	Data []byte
}

type WriteOp struct {
	FD     fdtable.FD
	Offset int64
	Data   []byte

	// Written counts the bytes of Data the store accepted. It can be
	// non-zero when the op fails.
	Written int
}

type TruncateOp struct {
	Path string
	Size uint64
}

type FtruncateOp struct {
	FD   fdtable.FD
	Path string
	Size uint64
}

type ReleaseOp struct {
	FD fdtable.FD
}

type ChmodOp struct {
	Path string
	Mode uint32
}

// ChownOp changes ownership. A negative Uid or Gid leaves that part
// unchanged.
type ChownOp struct {
	Path string
	Uid  int64
	Gid  int64
}

type SetxattrOp struct {
	Path  string
	Name  string
	Value []byte
	// Flags takes XATTR_CREATE or XATTR_REPLACE.
	Flags uint32
}

type GetxattrOp struct {
	Path string
	Name string

	Value []byte
}

type ListxattrOp struct {
	Path string

	Names []string
}

type RemovexattrOp struct {
	Path string
	Name string
}

// LinkOp creates Target as a hard link to Source.
type LinkOp struct {
	Source string
	Target string
}

type UnlinkOp struct {
	Path string
}

// SymlinkOp creates a symlink at Path pointing to Target.
type SymlinkOp struct {
	Target string
	Path   string
}

type ReadlinkOp struct {
	Path string

	Target string
}

type RenameOp struct {
	Source string
	Target string
}

type MkdirOp struct {
	Path string
	Mode uint32
}

type RmdirOp struct {
	Path string
}

func (o *GetattrOp) describe() (string, string)     { return "getattr", o.Path }
func (o *FgetattrOp) describe() (string, string)    { return "fgetattr", o.Path }
func (o *ReaddirOp) describe() (string, string)     { return "readdir", o.Path }
func (o *OpenOp) describe() (string, string)        { return "open", o.Path }
func (o *CreateOp) describe() (string, string)      { return "create", o.Path }
func (o *ReadOp) describe() (string, string)        { return "read", o.Path }
func (o *WriteOp) describe() (string, string)       { return "write", "" }
func (o *TruncateOp) describe() (string, string)    { return "truncate", o.Path }
func (o *FtruncateOp) describe() (string, string)   { return "ftruncate", o.Path }
func (o *ReleaseOp) describe() (string, string)     { return "release", "" }
func (o *ChmodOp) describe() (string, string)       { return "chmod", o.Path }
func (o *ChownOp) describe() (string, string)       { return "chown", o.Path }
func (o *SetxattrOp) describe() (string, string)    { return "setxattr", o.Path }
func (o *GetxattrOp) describe() (string, string)    { return "getxattr", o.Path }
func (o *ListxattrOp) describe() (string, string)   { return "listxattr", o.Path }
func (o *RemovexattrOp) describe() (string, string) { return "removexattr", o.Path }
func (o *LinkOp) describe() (string, string)        { return "link", o.Target }
func (o *UnlinkOp) describe() (string, string)      { return "unlink", o.Path }
func (o *SymlinkOp) describe() (string, string)     { return "symlink", o.Path }
func (o *ReadlinkOp) describe() (string, string)    { return "readlink", o.Path }
func (o *RenameOp) describe() (string, string)      { return "rename", o.Source }
func (o *MkdirOp) describe() (string, string)       { return "mkdir", o.Path }
func (o *RmdirOp) describe() (string, string)       { return "rmdir", o.Path }
