// Package fserr translates remote-store failures into filesystem errors.
//
// Handlers keep failures as *Error values so callers can inspect the kind
// of failure; only the outermost layer collapses them into an errno.
package fserr

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/csweichel/chainfs/pkg/pathenc"
	"github.com/csweichel/chainfs/pkg/store"
	"golang.org/x/sys/unix"
)

// Kind classifies a failure.
type Kind int

const (
	KindNotFound Kind = iota
	KindPermission
	KindNotPermitted
	KindExists
	KindNotDir
	KindIsDir
	KindNotEmpty
	KindBadHandle
	KindNoAttr
	KindInvalid
	KindNameTooLong
	KindTooLarge
	KindRange
	KindUnsupported
	KindInterrupted
	KindIO
)

var kindNames = map[Kind]string{
	KindNotFound:     "not found",
	KindPermission:   "permission denied",
	KindNotPermitted: "operation not permitted",
	KindExists:       "already exists",
	KindNotDir:       "not a directory",
	KindIsDir:        "is a directory",
	KindNotEmpty:     "directory not empty",
	KindBadHandle:    "bad file handle",
	KindNoAttr:       "no such attribute",
	KindInvalid:      "invalid argument",
	KindNameTooLong:  "name too long",
	KindTooLarge:     "payload too large",
	KindRange:        "result out of range",
	KindUnsupported:  "not supported",
	KindInterrupted:  "interrupted",
	KindIO:           "i/o error",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Errno returns the errno the kind surfaces as.
func (k Kind) Errno() syscall.Errno {
	switch k {
	case KindNotFound:
		return syscall.ENOENT
	case KindPermission:
		return syscall.EACCES
	case KindNotPermitted:
		return syscall.EPERM
	case KindExists:
		return syscall.EEXIST
	case KindNotDir:
		return syscall.ENOTDIR
	case KindIsDir:
		return syscall.EISDIR
	case KindNotEmpty:
		return syscall.ENOTEMPTY
	case KindBadHandle:
		return syscall.EBADF
	case KindNoAttr:
		return unix.ENODATA
	case KindInvalid:
		return syscall.EINVAL
	case KindNameTooLong:
		return syscall.ENAMETOOLONG
	case KindTooLarge:
		return syscall.EFBIG
	case KindRange:
		return unix.ERANGE
	case KindUnsupported:
		return syscall.ENOSYS
	case KindInterrupted:
		return syscall.EINTR
	default:
		return syscall.EIO
	}
}

// reasons maps remote revert reasons to failure kinds. Reasons not listed
// here fall back to KindNotFound.
var reasons = map[string]Kind{
	store.ReasonNotFound:      KindNotFound,
	store.ReasonNotAuthorized: KindPermission,
	store.ReasonNotPermitted:  KindNotPermitted,
	store.ReasonExists:        KindExists,
	store.ReasonNotDirectory:  KindNotDir,
	store.ReasonIsDirectory:   KindIsDir,
	store.ReasonNotEmpty:      KindNotEmpty,
	store.ReasonBadHandle:     KindBadHandle,
	store.ReasonNoSuchKey:     KindNoAttr,
	store.ReasonInvalid:       KindInvalid,
	store.ReasonTooLarge:      KindTooLarge,
}

// Error is a translated failure.
type Error struct {
	Op     string
	Path   string
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errno returns the errno of the error kind.
func (e *Error) Errno() syscall.Errno {
	return e.Kind.Errno()
}

// New produces a local failure that never reached the remote store.
func New(op, path string, kind Kind) *Error {
	return &Error{Op: op, Path: path, Kind: kind}
}

// Lookup returns the kind for a remote reason and whether the reason is known.
func Lookup(reason string) (Kind, bool) {
	k, ok := reasons[reason]
	return k, ok
}

// Translate classifies err. Errors that already are *Error are annotated
// with op/path where missing and returned as is.
func Translate(op, path string, err error) *Error {
	if err == nil {
		return nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		if fe.Op == "" {
			fe.Op = op
		}
		if fe.Path == "" {
			fe.Path = path
		}
		return fe
	}

	res := &Error{Op: op, Path: path, Err: err}
	var re *store.RemoteError
	switch {
	case errors.As(err, &re):
		res.Reason = re.Reason
		if k, ok := Lookup(re.Reason); ok {
			res.Kind = k
		} else {
			res.Kind = KindNotFound
		}
	case errors.Is(err, pathenc.ErrNameTooLong):
		res.Kind = KindNameTooLong
	case errors.Is(err, pathenc.ErrInvalidPath):
		res.Kind = KindInvalid
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		res.Kind = KindInterrupted
	default:
		res.Kind = KindNotFound
	}
	return res
}

// Errno collapses err into the errno reported to the kernel. A nil error
// yields 0.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	return Translate("", "", err).Errno()
}

// Is reports whether err translates to kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return Translate("", "", err).Kind == kind
}
