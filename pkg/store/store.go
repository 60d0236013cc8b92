// Package store describes the remote directory/file store the filesystem is
// backed by. Implementations live in the subpackages.
package store

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Kind is the type of a remote entry.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindProgram is an executable entry whose content is deployed code.
	KindProgram
	KindRegular
	KindDirectory
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindProgram:
		return "program"
	case KindRegular:
		return "regular"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Entry is a remote directory-tree node as returned by stat.
type Entry struct {
	Kind  Kind
	Mode  uint32
	Links uint64
	Owner common.Address
	Group common.Address
	// Entries is the child count of a directory or the slot count of a file.
	Entries uint64
	// Size is only meaningful when SizeKnown is set. Stores that do not
	// carry the content length on the entry record leave it unset.
	Size         uint64
	SizeKnown    bool
	LastModified int64
}

// Handle is a remote open-file handle.
type Handle uint64

// Flags are the open flags understood by the remote store.
type Flags uint32

const (
	FlagWrite  Flags = 0x0001
	FlagRead   Flags = 0x0010
	FlagCreate Flags = 0x0100
)

// Path is a sequence of encoded path segments, see package pathenc.
type Path [][]byte

// DefaultKey addresses the slot holding a file's primary content.
var DefaultKey = []byte{}

// Store is the fixed request/response surface of the remote store. Every
// method is a single remote call; mutations settle before they return.
type Store interface {
	Stat(ctx context.Context, p Path) (Entry, error)
	Lstat(ctx context.Context, p Path) (Entry, error)
	Fstat(ctx context.Context, h Handle) (Entry, error)
	// ReadKeyPath returns the name of the index-th child (directories) or
	// slot (files) of p.
	ReadKeyPath(ctx context.Context, p Path, index uint64) ([]byte, error)

	Open(ctx context.Context, p Path, flags Flags) (Handle, error)
	Read(ctx context.Context, h Handle, key []byte) ([]byte, error)
	ReadPath(ctx context.Context, p Path, key []byte) ([]byte, error)
	// Write appends data to the slot key.
	Write(ctx context.Context, h Handle, key []byte, data []byte) error
	Truncate(ctx context.Context, h Handle, key []byte, size uint64) error
	// Clear removes the slot key altogether.
	Clear(ctx context.Context, h Handle, key []byte) error
	Close(ctx context.Context, h Handle) error

	Mkdir(ctx context.Context, p Path) error
	Rmdir(ctx context.Context, p Path) error
	Unlink(ctx context.Context, p Path) error
	Link(ctx context.Context, src, dst Path) error
	Symlink(ctx context.Context, target []byte, link Path) error
	Readlink(ctx context.Context, p Path) ([]byte, error)
	Rename(ctx context.Context, src, dst Path) error
	Chmod(ctx context.Context, p Path, mode uint32) error
	Chown(ctx context.Context, p Path, owner, group common.Address) error
}

// CodeSizer is implemented by stores that can report the deployed code
// length backing a KindProgram entry.
type CodeSizer interface {
	CodeSize(ctx context.Context, owner common.Address) (uint64, error)
}

// RemoteError is a failure signalled by the remote store. Reason is the
// machine-readable revert reason and may be empty.
type RemoteError struct {
	Method string
	Reason string
	Err    error
}

func (e *RemoteError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "reverted without reason"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Method, reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Method, reason)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Reasons the remote store uses to signal failures.
const (
	ReasonNotFound      = "not found"
	ReasonNotAuthorized = "not authorized"
	ReasonNotPermitted  = "not permitted"
	ReasonExists        = "exists"
	ReasonNotDirectory  = "not a directory"
	ReasonIsDirectory   = "is a directory"
	ReasonNotEmpty      = "not empty"
	ReasonBadHandle     = "bad descriptor"
	ReasonNoSuchKey     = "no such key"
	ReasonInvalid       = "invalid argument"
	ReasonTooLarge      = "payload too large"
	ReasonOutOfRange    = "index out of range"
)
