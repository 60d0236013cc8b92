package adapter_test

import (
	"context"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/csweichel/chainfs/pkg/adapter"
	"github.com/csweichel/chainfs/pkg/fdtable"
	"github.com/csweichel/chainfs/pkg/fserr"
	"github.com/csweichel/chainfs/pkg/store"
	"github.com/csweichel/chainfs/pkg/store/memstore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

var (
	alice = common.HexToAddress("0xa11ce")
	staff = common.HexToAddress("0x57aff")
)

type fakeIdentities struct{}

func (fakeIdentities) UID(a common.Address) (uint32, bool) { return 1000, a == alice }
func (fakeIdentities) GID(a common.Address) (uint32, bool) { return 50, a == staff }
func (fakeIdentities) Fallback() (uint32, uint32)          { return 65534, 65534 }

func (fakeIdentities) Owner(uid uint32) (common.Address, bool) {
	if uid == 1000 {
		return alice, true
	}
	return common.Address{}, false
}

func (fakeIdentities) Group(gid uint32) (common.Address, bool) {
	if gid == 50 {
		return staff, true
	}
	return common.Address{}, false
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	mem   *memstore.Store
	d     *adapter.Dispatcher
	chunk int
}

func newFixture(t *testing.T, opts memstore.Options, chunk int) *fixture {
	mem := memstore.New(opts)
	return &fixture{
		t:     t,
		ctx:   context.Background(),
		mem:   mem,
		d:     adapter.New(mem, fakeIdentities{}, adapter.Options{ChunkSize: chunk}),
		chunk: chunk,
	}
}

func (f *fixture) do(op adapter.Op) {
	f.t.Helper()
	require.NoError(f.t, f.d.Handle(f.ctx, op))
}

func (f *fixture) errno(op adapter.Op) syscall.Errno {
	f.t.Helper()
	return fserr.Errno(f.d.Handle(f.ctx, op))
}

func (f *fixture) create(path string, mode uint32) fdtable.FD {
	f.t.Helper()
	op := &adapter.CreateOp{Path: path, Mode: mode}
	f.do(op)
	return op.FD
}

func (f *fixture) write(fd fdtable.FD, off int64, data string) {
	f.t.Helper()
	op := &adapter.WriteOp{FD: fd, Offset: off, Data: []byte(data)}
	f.do(op)
	require.Equal(f.t, len(data), op.Written)
}

func (f *fixture) read(fd fdtable.FD, off int64, size int) string {
	f.t.Helper()
	op := &adapter.ReadOp{FD: fd, Offset: off, Size: size}
	f.do(op)
	return string(op.Data)
}

func TestMkdirGetattr(t *testing.T) {
	f := newFixture(t, memstore.Options{}, 0)
	f.do(&adapter.MkdirOp{Path: "/d", Mode: 0o700})

	op := &adapter.GetattrOp{Path: "/d"}
	f.do(op)
	require.Equal(t, uint32(syscall.S_IFDIR), op.Attr.Mode&syscall.S_IFMT)
	require.Zero(t, op.Attr.Size)
	require.Zero(t, op.Attr.Nlink)

	require.Equal(t, syscall.EEXIST, f.errno(&adapter.MkdirOp{Path: "/d"}))
	require.Equal(t, syscall.ENOENT, f.errno(&adapter.GetattrOp{Path: "/missing"}))
	require.Equal(t, syscall.ENAMETOOLONG, f.errno(&adapter.MkdirOp{Path: "/0123456789012345678901234567890123456789"}))
}

func TestWriteReadRoundTrip(t *testing.T) {
	tests := []struct {
		Name    string
		Options memstore.Options
		Writes  []struct {
			Offset int64
			Data   string
		}
		Content string
	}{
		{
			Name: "overwrite tail",
			Writes: []struct {
				Offset int64
				Data   string
			}{{0, "hello world"}, {6, "WORLD"}},
			Content: "hello WORLD",
		},
		{
			Name:    "size from content when the entry omits it",
			Options: memstore.Options{OmitSize: true},
			Writes: []struct {
				Offset int64
				Data   string
			}{{0, "hello world"}, {0, "J"}},
			Content: "J",
		},
		{
			Name: "write past end zero fills",
			Writes: []struct {
				Offset int64
				Data   string
			}{{0, "ab"}, {4, "cd"}},
			Content: "ab\x00\x00cd",
		},
		{
			Name: "append",
			Writes: []struct {
				Offset int64
				Data   string
			}{{0, "ab"}, {2, "cd"}},
			Content: "abcd",
		},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			f := newFixture(t, test.Options, 3)
			fd := f.create("/f", 0o644)
			for _, w := range test.Writes {
				f.write(fd, w.Offset, w.Data)

				if got := f.read(fd, w.Offset, len(w.Data)); got != w.Data {
					t.Errorf("read(%d, %d) = %q, want %q", w.Offset, len(w.Data), got, w.Data)
				}
			}
			if diff := cmp.Diff(test.Content, f.read(fd, 0, 1024)); diff != "" {
				t.Errorf("content mismatch (-want +got):\n%s", diff)
			}
			if got := f.read(fd, 1024, 10); got != "" {
				t.Errorf("read past end = %q, want empty", got)
			}

			f.do(&adapter.ReleaseOp{FD: fd})
			require.Zero(t, f.mem.OpenHandles())
		})
	}
}

// failingStore rejects the n-th write call.
type failingStore struct {
	*memstore.Store
	mu     sync.Mutex
	writes int
	failAt int
}

func (s *failingStore) Write(ctx context.Context, h store.Handle, key, data []byte) error {
	s.mu.Lock()
	s.writes++
	fail := s.writes == s.failAt
	s.mu.Unlock()
	if fail {
		return &store.RemoteError{Method: "write", Reason: store.ReasonNotAuthorized}
	}
	return s.Store.Write(ctx, h, key, data)
}

func TestChunkedWrite(t *testing.T) {
	f := newFixture(t, memstore.Options{MaxPayload: 4}, 4)
	fd := f.create("/f", 0o644)
	f.write(fd, 0, "0123456789")
	require.Equal(t, 3, f.mem.Calls("write"))
	require.Equal(t, "0123456789", f.read(fd, 0, 100))

	mem := memstore.New(memstore.Options{})
	fs := &failingStore{Store: mem, failAt: 2}
	d := adapter.New(fs, fakeIdentities{}, adapter.Options{ChunkSize: 4})
	ctx := context.Background()

	create := &adapter.CreateOp{Path: "/f", Mode: 0o644}
	require.NoError(t, d.Handle(ctx, create))
	op := &adapter.WriteOp{FD: create.FD, Data: []byte("0123456789")}
	err := d.Handle(ctx, op)
	require.Error(t, err)
	require.Equal(t, syscall.EACCES, fserr.Errno(err))
	require.Equal(t, 4, op.Written)

	read := &adapter.ReadOp{FD: create.FD, Size: 100}
	require.NoError(t, d.Handle(ctx, read))
	require.Equal(t, "0123", string(read.Data))
}

func TestCreateMode(t *testing.T) {
	f := newFixture(t, memstore.Options{}, 0)
	fd := f.create("/f", 0o600)

	op := &adapter.GetattrOp{Path: "/f"}
	f.do(op)
	require.Equal(t, uint32(syscall.S_IFREG|0o600), op.Attr.Mode)
	require.Equal(t, 1, f.mem.Calls("open"))
	require.Equal(t, 1, f.mem.Calls("chmod"))

	fget := &adapter.FgetattrOp{FD: fd}
	f.do(fget)
	require.Equal(t, op.Attr, fget.Attr)
}

func TestCreateChmodFails(t *testing.T) {
	f := newFixture(t, memstore.Options{}, 0)
	f.mem.Fail("chmod", store.ReasonNotAuthorized)

	require.Equal(t, syscall.EACCES, f.errno(&adapter.CreateOp{Path: "/f", Mode: 0o600}))
	// the file exists, the handle is gone
	f.do(&adapter.GetattrOp{Path: "/f"})
	require.Zero(t, f.mem.OpenHandles())
	require.Zero(t, f.d.OpenFiles())
}

func TestXattr(t *testing.T) {
	f := newFixture(t, memstore.Options{}, 2)
	fd := f.create("/f", 0o644)
	f.write(fd, 0, "content")
	f.do(&adapter.ReleaseOp{FD: fd})

	f.do(&adapter.SetxattrOp{Path: "/f", Name: "user.note", Value: []byte("hello")})
	get := &adapter.GetxattrOp{Path: "/f", Name: "user.note"}
	f.do(get)
	require.Equal(t, "hello", string(get.Value))

	f.do(&adapter.SetxattrOp{Path: "/f", Name: "user.note", Value: []byte("bye"), Flags: unix.XATTR_REPLACE})
	f.do(get)
	require.Equal(t, "bye", string(get.Value))

	list := &adapter.ListxattrOp{Path: "/f"}
	f.do(list)
	require.Equal(t, []string{"user.note"}, list.Names)

	require.Equal(t, syscall.EEXIST, f.errno(&adapter.SetxattrOp{Path: "/f", Name: "user.note", Flags: unix.XATTR_CREATE}))
	require.Equal(t, unix.ENODATA, f.errno(&adapter.SetxattrOp{Path: "/f", Name: "user.other", Flags: unix.XATTR_REPLACE}))
	require.Equal(t, syscall.EINVAL, f.errno(&adapter.SetxattrOp{Path: "/f", Name: ""}))

	f.do(&adapter.RemovexattrOp{Path: "/f", Name: "user.note"})
	require.Equal(t, unix.ENODATA, f.errno(&adapter.GetxattrOp{Path: "/f", Name: "user.note"}))
	f.do(list)
	require.Empty(t, list.Names)

	// content is untouched by attribute writes
	fd = f.open("/f", syscall.O_RDONLY)
	require.Equal(t, "content", f.read(fd, 0, 100))
	require.Zero(t, f.mem.OpenHandles())
}

func (f *fixture) open(path string, flags uint32) fdtable.FD {
	f.t.Helper()
	op := &adapter.OpenOp{Path: path, Flags: flags}
	f.do(op)
	return op.FD
}

func TestDirectOpen(t *testing.T) {
	f := newFixture(t, memstore.Options{}, 0)
	fd := f.create("/f", 0o644)
	f.write(fd, 0, "hello")
	f.do(&adapter.ReleaseOp{FD: fd})
	opens, closes := f.mem.Calls("open"), f.mem.Calls("close")

	fd = f.open("/f", syscall.O_RDONLY)
	require.Equal(t, "ell", f.read(fd, 1, 3))

	attr := &adapter.FgetattrOp{FD: fd}
	f.do(attr)
	require.Equal(t, uint64(5), attr.Attr.Size)

	require.Equal(t, syscall.EBADF, f.errno(&adapter.WriteOp{FD: fd, Data: []byte("x")}))
	f.do(&adapter.ReleaseOp{FD: fd})

	require.Equal(t, opens, f.mem.Calls("open"))
	require.Equal(t, closes, f.mem.Calls("close"))
	require.Equal(t, syscall.EBADF, f.errno(&adapter.ReleaseOp{FD: fd}))
}

func TestOpenTruncate(t *testing.T) {
	f := newFixture(t, memstore.Options{}, 0)
	fd := f.create("/f", 0o644)
	f.write(fd, 0, "hello")
	f.do(&adapter.ReleaseOp{FD: fd})

	fd = f.open("/f", syscall.O_RDWR|syscall.O_TRUNC)
	require.Equal(t, "", f.read(fd, 0, 10))
	f.do(&adapter.ReleaseOp{FD: fd})

	require.Equal(t, syscall.ENOENT, f.errno(&adapter.OpenOp{Path: "/missing", Flags: syscall.O_WRONLY}))
	fd = f.open("/new", syscall.O_WRONLY|syscall.O_CREAT)
	f.do(&adapter.ReleaseOp{FD: fd})
	f.do(&adapter.GetattrOp{Path: "/new"})
}

func TestTruncate(t *testing.T) {
	f := newFixture(t, memstore.Options{}, 0)
	fd := f.create("/f", 0o644)
	f.write(fd, 0, "hello world")

	f.do(&adapter.FtruncateOp{FD: fd, Size: 5})
	require.Equal(t, "hello", f.read(fd, 0, 100))
	f.do(&adapter.ReleaseOp{FD: fd})

	f.do(&adapter.TruncateOp{Path: "/f", Size: 2})
	ro := f.open("/f", syscall.O_RDONLY)
	require.Equal(t, "he", f.read(ro, 0, 100))
	f.do(&adapter.FtruncateOp{FD: ro, Size: 0})
	require.Equal(t, "", f.read(ro, 0, 100))
	f.do(&adapter.ReleaseOp{FD: ro})

	require.Zero(t, f.mem.OpenHandles())
	require.Equal(t, syscall.EISDIR, f.errno(&adapter.TruncateOp{Path: "/"}))
}

func TestReaddir(t *testing.T) {
	f := newFixture(t, memstore.Options{}, 0)
	f.do(&adapter.MkdirOp{Path: "/d"})
	for _, name := range []string{"/d/b", "/d/a"} {
		f.do(&adapter.ReleaseOp{FD: f.create(name, 0o644)})
	}

	op := &adapter.ReaddirOp{Path: "/d"}
	f.do(op)
	if diff := cmp.Diff([]string{"b", "a"}, op.Names); diff != "" {
		t.Errorf("readdir mismatch (-want +got):\n%s", diff)
	}

	dir := &adapter.GetattrOp{Path: "/d"}
	f.do(dir)
	require.Equal(t, uint64(2), dir.Attr.Size)
	require.Equal(t, uint32(2), dir.Attr.Nlink)

	require.Equal(t, syscall.ENOTDIR, f.errno(&adapter.ReaddirOp{Path: "/d/a"}))
	require.Equal(t, syscall.ENOTEMPTY, f.errno(&adapter.RmdirOp{Path: "/d"}))
}

func TestTreeOperations(t *testing.T) {
	f := newFixture(t, memstore.Options{}, 0)
	fd := f.create("/f", 0o644)
	f.write(fd, 0, "data")
	f.do(&adapter.ReleaseOp{FD: fd})

	f.do(&adapter.SymlinkOp{Target: "/f", Path: "/l"})
	link := &adapter.ReadlinkOp{Path: "/l"}
	f.do(link)
	require.Equal(t, "/f", link.Target)

	attr := &adapter.GetattrOp{Path: "/l"}
	f.do(attr)
	require.Equal(t, uint32(syscall.S_IFLNK|0o777), attr.Attr.Mode)
	require.Equal(t, uint64(2), attr.Attr.Size)

	f.do(&adapter.LinkOp{Source: "/f", Target: "/g"})
	f.do(&adapter.RenameOp{Source: "/g", Target: "/h"})
	f.do(&adapter.UnlinkOp{Path: "/f"})
	ro := f.open("/h", syscall.O_RDONLY)
	require.Equal(t, "data", f.read(ro, 0, 10))
	f.do(&adapter.ReleaseOp{FD: ro})

	f.do(&adapter.ChmodOp{Path: "/h", Mode: syscall.S_IFREG | 0o640})
	attr = &adapter.GetattrOp{Path: "/h"}
	f.do(attr)
	require.Equal(t, uint32(syscall.S_IFREG|0o640), attr.Attr.Mode)

	f.do(&adapter.MkdirOp{Path: "/d"})
	f.do(&adapter.RmdirOp{Path: "/d"})
	require.Equal(t, syscall.ENOENT, f.errno(&adapter.RmdirOp{Path: "/d"}))
}

func TestChown(t *testing.T) {
	f := newFixture(t, memstore.Options{}, 0)
	f.do(&adapter.ReleaseOp{FD: f.create("/f", 0o644)})

	attr := &adapter.GetattrOp{Path: "/f"}
	f.do(attr)
	require.Equal(t, uint32(65534), attr.Attr.Uid)

	f.do(&adapter.ChownOp{Path: "/f", Uid: 1000, Gid: -1})
	f.do(attr)
	require.Equal(t, uint32(1000), attr.Attr.Uid)
	require.Equal(t, uint32(65534), attr.Attr.Gid)

	f.do(&adapter.ChownOp{Path: "/f", Uid: -1, Gid: 50})
	f.do(attr)
	require.Equal(t, uint32(1000), attr.Attr.Uid)
	require.Equal(t, uint32(50), attr.Attr.Gid)

	require.Equal(t, syscall.EINVAL, f.errno(&adapter.ChownOp{Path: "/f", Uid: 4242, Gid: -1}))
}

func TestErrorTranslation(t *testing.T) {
	tests := []struct {
		Reason string
		Errno  syscall.Errno
		Kind   fserr.Kind
	}{
		{"something unexpected", syscall.ENOENT, fserr.KindNotFound},
		{"", syscall.ENOENT, fserr.KindNotFound},
		{store.ReasonNotAuthorized, syscall.EACCES, fserr.KindPermission},
		{store.ReasonExists, syscall.EEXIST, fserr.KindExists},
	}
	for _, test := range tests {
		t.Run(test.Reason, func(t *testing.T) {
			f := newFixture(t, memstore.Options{}, 0)
			f.mem.Fail("mkdir", test.Reason)

			err := f.d.Handle(f.ctx, &adapter.MkdirOp{Path: "/d"})
			require.Equal(t, test.Errno, fserr.Errno(err))
			require.True(t, fserr.Is(err, test.Kind))

			fe, ok := err.(*fserr.Error)
			require.True(t, ok)
			require.Equal(t, "mkdir", fe.Op)
			require.Equal(t, "/d", fe.Path)
			require.Equal(t, test.Reason, fe.Reason)
		})
	}
}

// gatedStore blocks the first write until release is closed.
type gatedStore struct {
	*memstore.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Write(ctx context.Context, h store.Handle, key, data []byte) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.Store.Write(ctx, h, key, data)
}

func TestConcurrentWritesDoNotBlock(t *testing.T) {
	gs := &gatedStore{
		Store:   memstore.New(memstore.Options{}),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	d := adapter.New(gs, fakeIdentities{}, adapter.Options{})
	ctx := context.Background()

	a := &adapter.CreateOp{Path: "/a", Mode: 0o644}
	b := &adapter.CreateOp{Path: "/b", Mode: 0o644}
	require.NoError(t, d.Handle(ctx, a))
	require.NoError(t, d.Handle(ctx, b))

	first := make(chan error, 1)
	go func() {
		first <- d.Handle(ctx, &adapter.WriteOp{FD: a.FD, Data: []byte("slow")})
	}()
	<-gs.entered

	second := make(chan error, 1)
	go func() {
		second <- d.Handle(ctx, &adapter.WriteOp{FD: b.FD, Data: []byte("fast")})
	}()
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("write on an unrelated handle was blocked")
	}

	close(gs.release)
	require.NoError(t, <-first)
}

type panickingStore struct {
	*memstore.Store
}

func (panickingStore) Lstat(ctx context.Context, p store.Path) (store.Entry, error) {
	panic("boom")
}

func TestServe(t *testing.T) {
	tests := []struct {
		Name  string
		Store store.Store
		Op    adapter.Op
		Errno syscall.Errno
	}{
		{"success", memstore.New(memstore.Options{}), &adapter.GetattrOp{Path: "/"}, 0},
		{"failure", memstore.New(memstore.Options{}), &adapter.GetattrOp{Path: "/nope"}, syscall.ENOENT},
		{"panic", panickingStore{memstore.New(memstore.Options{})}, &adapter.GetattrOp{Path: "/"}, syscall.EIO},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			d := adapter.New(test.Store, fakeIdentities{}, adapter.Options{})

			var calls []syscall.Errno
			d.Serve(context.Background(), test.Op, func(op adapter.Op, errno syscall.Errno) {
				require.Same(t, test.Op, op)
				calls = append(calls, errno)
			})
			require.Equal(t, []syscall.Errno{test.Errno}, calls)
		})
	}
}

func TestOpenHandleOutlivesPath(t *testing.T) {
	tests := []struct {
		Name   string
		Detach adapter.Op
	}{
		{Name: "rename", Detach: &adapter.RenameOp{Source: "/f", Target: "/g"}},
		{Name: "unlink", Detach: &adapter.UnlinkOp{Path: "/f"}},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			f := newFixture(t, memstore.Options{OmitSize: true}, 0)
			fd := f.create("/f", 0o644)
			f.write(fd, 0, "hello")
			f.do(test.Detach)

			f.write(fd, 5, " world")
			attr := &adapter.FgetattrOp{FD: fd}
			f.do(attr)
			require.Equal(t, uint64(11), attr.Attr.Size)
			require.Equal(t, "hello world", f.read(fd, 0, 100))

			// the kernel may report a placeholder path for an unlinked file
			f.do(&adapter.FgetattrOp{FD: fd, Path: "/" + strings.Repeat("x", 40)})

			f.write(fd, 0, "J")
			f.do(attr)
			require.Equal(t, uint64(1), attr.Attr.Size)
			f.do(&adapter.ReleaseOp{FD: fd})
		})
	}
}

func TestDirectHandleFollowsRename(t *testing.T) {
	f := newFixture(t, memstore.Options{OmitSize: true}, 0)
	fd := f.create("/f", 0o644)
	f.write(fd, 0, "hello")
	f.do(&adapter.ReleaseOp{FD: fd})

	fd = f.open("/f", syscall.O_RDONLY)
	f.do(&adapter.RenameOp{Source: "/f", Target: "/g"})

	read := &adapter.ReadOp{FD: fd, Path: "/g", Size: 100}
	f.do(read)
	require.Equal(t, "hello", string(read.Data))

	attr := &adapter.FgetattrOp{FD: fd, Path: "/g"}
	f.do(attr)
	require.Equal(t, uint64(5), attr.Attr.Size)

	f.do(&adapter.FtruncateOp{FD: fd, Path: "/g", Size: 2})
	require.Equal(t, "he", string(mustRead(t, f, fd, "/g")))

	// without a current path the handle still points at the old one
	require.Equal(t, syscall.ENOENT, f.errno(&adapter.ReadOp{FD: fd, Size: 100}))
	f.do(&adapter.ReleaseOp{FD: fd})
}

func mustRead(t *testing.T, f *fixture, fd fdtable.FD, path string) []byte {
	t.Helper()
	op := &adapter.ReadOp{FD: fd, Path: path, Size: 100}
	f.do(op)
	return op.Data
}

func TestGetxattrOnNonRegular(t *testing.T) {
	f := newFixture(t, memstore.Options{}, 0)
	f.do(&adapter.MkdirOp{Path: "/d", Mode: 0o755})
	f.do(&adapter.SymlinkOp{Target: "d", Path: "/l"})

	for _, p := range []string{"/d", "/", "/l"} {
		list := &adapter.ListxattrOp{Path: p}
		f.do(list)
		require.Empty(t, list.Names, p)
		require.Equal(t, unix.ENODATA, f.errno(&adapter.GetxattrOp{Path: p, Name: "security.selinux"}), p)
	}
	require.Equal(t, syscall.ENOENT, f.errno(&adapter.GetxattrOp{Path: "/missing", Name: "user.x"}))
}

func TestServeNilOp(t *testing.T) {
	tests := []struct {
		Name  string
		Op    adapter.Op
		Errno syscall.Errno
	}{
		{Name: "nil interface", Op: nil, Errno: syscall.ENOSYS},
		{Name: "nil pointer", Op: (*adapter.GetattrOp)(nil), Errno: syscall.EIO},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			d := adapter.New(memstore.New(memstore.Options{}), fakeIdentities{}, adapter.Options{})

			var calls []syscall.Errno
			d.Serve(context.Background(), test.Op, func(op adapter.Op, errno syscall.Errno) {
				calls = append(calls, errno)
			})
			require.Equal(t, []syscall.Errno{test.Errno}, calls)
		})
	}
}
