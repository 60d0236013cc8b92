// Package memstore is an in-process remote store. It reproduces the call
// surface and the revert reasons of the ledger-backed store without a
// ledger, which makes it suitable for tests and scratch mounts.
package memstore

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/csweichel/chainfs/pkg/pathenc"
	"github.com/csweichel/chainfs/pkg/store"
	"github.com/ethereum/go-ethereum/common"
)

const maxSymlinkDepth = 8

// Options configure a Store.
type Options struct {
	// Caller is the remote identity new entries are owned by.
	Caller common.Address
	// MaxPayload rejects writes carrying more bytes. Zero disables the check.
	MaxPayload int
	// OmitSize leaves Entry.Size unset, like stores whose entry record does
	// not carry the content length.
	OmitSize bool
	// Now defaults to time.Now.
	Now func() time.Time
}

type node struct {
	kind  store.Kind
	mode  uint32
	owner common.Address
	group common.Address
	links uint64
	mtime int64

	names    []string
	children map[string]*node

	keys  []string
	slots map[string][]byte

	target []byte
}

type openFile struct {
	node  *node
	flags store.Flags
}

// Store is safe for concurrent use.
type Store struct {
	opts Options

	mu      sync.Mutex
	root    *node
	handles map[store.Handle]*openFile
	next    store.Handle
	calls   map[string]int
	faults  map[string]string
}

var _ store.Store = (*Store)(nil)

// New produces an empty store with a root directory.
func New(opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		opts:    opts,
		handles: make(map[store.Handle]*openFile),
		next:    1,
		calls:   make(map[string]int),
		faults:  make(map[string]string),
	}
	s.root = s.newNode(store.KindDirectory, 0o755)
	return s
}

// Calls returns how often method was invoked.
func (s *Store) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Fail makes the next invocation of method revert with reason.
func (s *Store) Fail(method, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method] = reason
}

// OpenHandles returns the number of remote handles not yet closed.
func (s *Store) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// enter is called with s.mu held.
func (s *Store) enter(method string) error {
	s.calls[method]++
	if reason, ok := s.faults[method]; ok {
		delete(s.faults, method)
		return revert(method, reason)
	}
	return nil
}

func revert(method, reason string) error {
	return &store.RemoteError{Method: method, Reason: reason}
}

func (s *Store) newNode(kind store.Kind, mode uint32) *node {
	n := &node{
		kind:  kind,
		mode:  mode,
		owner: s.opts.Caller,
		group: s.opts.Caller,
		links: 1,
		mtime: s.opts.Now().Unix(),
	}
	switch kind {
	case store.KindDirectory:
		n.children = make(map[string]*node)
	case store.KindRegular:
		n.keys = []string{""}
		n.slots = map[string][]byte{"": {}}
	}
	return n
}

func (s *Store) touch(n *node) {
	n.mtime = s.opts.Now().Unix()
}

func names(p store.Path) []string {
	res := make([]string, len(p))
	for i, seg := range p {
		res[i] = pathenc.Decode(seg)
	}
	return res
}

func (s *Store) resolve(method string, p []string, follow bool, depth int) (*node, error) {
	if depth > maxSymlinkDepth {
		return nil, revert(method, store.ReasonInvalid)
	}

	cur := s.root
	for i, name := range p {
		if cur.kind != store.KindDirectory {
			return nil, revert(method, store.ReasonNotDirectory)
		}
		next, ok := cur.children[name]
		if !ok {
			return nil, revert(method, store.ReasonNotFound)
		}
		if next.kind == store.KindSymlink && (follow || i < len(p)-1) {
			tgt, err := s.resolveLink(method, p[:i], next.target, depth+1)
			if err != nil {
				return nil, err
			}
			next = tgt
		}
		cur = next
	}
	return cur, nil
}

func (s *Store) resolveLink(method string, dir []string, target []byte, depth int) (*node, error) {
	t := string(target)
	var segs []string
	if !strings.HasPrefix(t, "/") {
		segs = append(segs, dir...)
	}
	for _, seg := range strings.Split(strings.Trim(t, "/"), "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(segs) > 0 {
				segs = segs[:len(segs)-1]
			}
		default:
			segs = append(segs, seg)
		}
	}
	return s.resolve(method, segs, true, depth)
}

func (s *Store) parent(method string, p []string) (*node, string, error) {
	if len(p) == 0 {
		return nil, "", revert(method, store.ReasonInvalid)
	}
	dir, err := s.resolve(method, p[:len(p)-1], true, 0)
	if err != nil {
		return nil, "", err
	}
	if dir.kind != store.KindDirectory {
		return nil, "", revert(method, store.ReasonNotDirectory)
	}
	return dir, p[len(p)-1], nil
}

func (d *node) add(name string, n *node) {
	d.names = append(d.names, name)
	d.children[name] = n
}

func (d *node) remove(name string) {
	delete(d.children, name)
	for i, n := range d.names {
		if n == name {
			d.names = append(d.names[:i], d.names[i+1:]...)
			break
		}
	}
}

func (s *Store) entry(n *node) store.Entry {
	e := store.Entry{
		Kind:         n.kind,
		Mode:         n.mode,
		Links:        n.links,
		Owner:        n.owner,
		Group:        n.group,
		LastModified: n.mtime,
	}
	switch n.kind {
	case store.KindDirectory:
		e.Entries = uint64(len(n.names))
	case store.KindRegular:
		e.Entries = uint64(len(n.keys))
		e.Size = uint64(len(n.slots[""]))
	case store.KindSymlink:
		e.Size = uint64(len(n.target))
	}
	e.SizeKnown = !s.opts.OmitSize && n.kind != store.KindDirectory
	if !e.SizeKnown {
		e.Size = 0
	}
	return e
}

func (s *Store) Stat(ctx context.Context, p store.Path) (store.Entry, error) {
	return s.stat("stat", p, true)
}

func (s *Store) Lstat(ctx context.Context, p store.Path) (store.Entry, error) {
	return s.stat("lstat", p, false)
}

func (s *Store) stat(method string, p store.Path, follow bool) (store.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(method); err != nil {
		return store.Entry{}, err
	}

	n, err := s.resolve(method, names(p), follow, 0)
	if err != nil {
		return store.Entry{}, err
	}
	return s.entry(n), nil
}

func (s *Store) Fstat(ctx context.Context, h store.Handle) (store.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("fstat"); err != nil {
		return store.Entry{}, err
	}

	f, ok := s.handles[h]
	if !ok {
		return store.Entry{}, revert("fstat", store.ReasonBadHandle)
	}
	return s.entry(f.node), nil
}

func (s *Store) ReadKeyPath(ctx context.Context, p store.Path, index uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("readkeyPath"); err != nil {
		return nil, err
	}

	n, err := s.resolve("readkeyPath", names(p), true, 0)
	if err != nil {
		return nil, err
	}
	var keys []string
	switch n.kind {
	case store.KindDirectory:
		keys = n.names
	case store.KindRegular:
		keys = n.keys
	}
	if index >= uint64(len(keys)) {
		return nil, revert("readkeyPath", store.ReasonOutOfRange)
	}
	res := pathenc.Fixed(pathenc.Encode(keys[index]))
	return res[:], nil
}

func (s *Store) Open(ctx context.Context, p store.Path, flags store.Flags) (store.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("open"); err != nil {
		return 0, err
	}

	segs := names(p)
	n, err := s.resolve("open", segs, true, 0)
	if err != nil {
		re, ok := err.(*store.RemoteError)
		if !ok || re.Reason != store.ReasonNotFound || flags&store.FlagCreate == 0 {
			return 0, err
		}
		dir, name, err := s.parent("open", segs)
		if err != nil {
			return 0, err
		}
		n = s.newNode(store.KindRegular, 0o644)
		dir.add(name, n)
		s.touch(dir)
	}
	if n.kind == store.KindDirectory && flags&store.FlagWrite != 0 {
		return 0, revert("open", store.ReasonIsDirectory)
	}

	h := s.next
	s.next++
	s.handles[h] = &openFile{node: n, flags: flags}
	return h, nil
}

func (s *Store) writable(method string, h store.Handle) (*node, error) {
	f, ok := s.handles[h]
	if !ok {
		return nil, revert(method, store.ReasonBadHandle)
	}
	if f.flags&store.FlagWrite == 0 {
		return nil, revert(method, store.ReasonNotAuthorized)
	}
	if f.node.kind != store.KindRegular {
		return nil, revert(method, store.ReasonIsDirectory)
	}
	return f.node, nil
}

func slot(method string, n *node, key []byte) ([]byte, error) {
	if n.kind == store.KindDirectory {
		return nil, revert(method, store.ReasonIsDirectory)
	}
	if n.kind != store.KindRegular {
		return nil, revert(method, store.ReasonInvalid)
	}
	v, ok := n.slots[pathenc.Decode(key)]
	if !ok {
		if len(key) == 0 {
			return []byte{}, nil
		}
		return nil, revert(method, store.ReasonNoSuchKey)
	}
	return bytes.Clone(v), nil
}

func (s *Store) Read(ctx context.Context, h store.Handle, key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("read"); err != nil {
		return nil, err
	}

	f, ok := s.handles[h]
	if !ok {
		return nil, revert("read", store.ReasonBadHandle)
	}
	return slot("read", f.node, key)
}

func (s *Store) ReadPath(ctx context.Context, p store.Path, key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("readPath"); err != nil {
		return nil, err
	}

	n, err := s.resolve("readPath", names(p), true, 0)
	if err != nil {
		return nil, err
	}
	return slot("readPath", n, key)
}

func (n *node) setSlot(key string, v []byte) {
	if _, ok := n.slots[key]; !ok {
		n.keys = append(n.keys, key)
	}
	n.slots[key] = v
}

func (s *Store) Write(ctx context.Context, h store.Handle, key []byte, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("write"); err != nil {
		return err
	}

	if s.opts.MaxPayload > 0 && len(data) > s.opts.MaxPayload {
		return revert("write", store.ReasonTooLarge)
	}
	n, err := s.writable("write", h)
	if err != nil {
		return err
	}
	k := pathenc.Decode(key)
	n.setSlot(k, append(n.slots[k], data...))
	s.touch(n)
	return nil
}

func (s *Store) Truncate(ctx context.Context, h store.Handle, key []byte, size uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("truncate"); err != nil {
		return err
	}

	n, err := s.writable("truncate", h)
	if err != nil {
		return err
	}
	k := pathenc.Decode(key)
	v := n.slots[k]
	if uint64(len(v)) >= size {
		v = v[:size]
	} else {
		v = append(v, make([]byte, size-uint64(len(v)))...)
	}
	n.setSlot(k, v)
	s.touch(n)
	return nil
}

func (s *Store) Clear(ctx context.Context, h store.Handle, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("clear"); err != nil {
		return err
	}

	n, err := s.writable("clear", h)
	if err != nil {
		return err
	}
	k := pathenc.Decode(key)
	if _, ok := n.slots[k]; !ok {
		return revert("clear", store.ReasonNoSuchKey)
	}
	delete(n.slots, k)
	for i, existing := range n.keys {
		if existing == k {
			n.keys = append(n.keys[:i], n.keys[i+1:]...)
			break
		}
	}
	s.touch(n)
	return nil
}

func (s *Store) Close(ctx context.Context, h store.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("close"); err != nil {
		return err
	}

	if _, ok := s.handles[h]; !ok {
		return revert("close", store.ReasonBadHandle)
	}
	delete(s.handles, h)
	return nil
}

func (s *Store) Mkdir(ctx context.Context, p store.Path) error {
	return s.create("mkdir", p, func() *node { return s.newNode(store.KindDirectory, 0o755) })
}

func (s *Store) Symlink(ctx context.Context, target []byte, link store.Path) error {
	return s.create("symlink", link, func() *node {
		n := s.newNode(store.KindSymlink, 0o777)
		n.target = bytes.Clone(target)
		return n
	})
}

func (s *Store) create(method string, p store.Path, mk func() *node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(method); err != nil {
		return err
	}

	dir, name, err := s.parent(method, names(p))
	if err != nil {
		return err
	}
	if _, exists := dir.children[name]; exists {
		return revert(method, store.ReasonExists)
	}
	dir.add(name, mk())
	s.touch(dir)
	return nil
}

func (s *Store) Rmdir(ctx context.Context, p store.Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("rmdir"); err != nil {
		return err
	}

	dir, name, err := s.parent("rmdir", names(p))
	if err != nil {
		return err
	}
	n, ok := dir.children[name]
	switch {
	case !ok:
		return revert("rmdir", store.ReasonNotFound)
	case n.kind != store.KindDirectory:
		return revert("rmdir", store.ReasonNotDirectory)
	case len(n.names) > 0:
		return revert("rmdir", store.ReasonNotEmpty)
	}
	dir.remove(name)
	s.touch(dir)
	return nil
}

func (s *Store) Unlink(ctx context.Context, p store.Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("unlink"); err != nil {
		return err
	}

	dir, name, err := s.parent("unlink", names(p))
	if err != nil {
		return err
	}
	n, ok := dir.children[name]
	if !ok {
		return revert("unlink", store.ReasonNotFound)
	}
	if n.kind == store.KindDirectory {
		return revert("unlink", store.ReasonIsDirectory)
	}
	dir.remove(name)
	n.links--
	s.touch(dir)
	return nil
}

func (s *Store) Link(ctx context.Context, src, dst store.Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("link"); err != nil {
		return err
	}

	n, err := s.resolve("link", names(src), false, 0)
	if err != nil {
		return err
	}
	if n.kind == store.KindDirectory {
		return revert("link", store.ReasonNotPermitted)
	}
	dir, name, err := s.parent("link", names(dst))
	if err != nil {
		return err
	}
	if _, exists := dir.children[name]; exists {
		return revert("link", store.ReasonExists)
	}
	dir.add(name, n)
	n.links++
	s.touch(dir)
	return nil
}

func (s *Store) Readlink(ctx context.Context, p store.Path) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("readlink"); err != nil {
		return nil, err
	}

	n, err := s.resolve("readlink", names(p), false, 0)
	if err != nil {
		return nil, err
	}
	if n.kind != store.KindSymlink {
		return nil, revert("readlink", store.ReasonInvalid)
	}
	return bytes.Clone(n.target), nil
}

func (s *Store) Rename(ctx context.Context, src, dst store.Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("rename"); err != nil {
		return err
	}

	srcSegs, dstSegs := names(src), names(dst)
	srcDir, srcName, err := s.parent("rename", srcSegs)
	if err != nil {
		return err
	}
	n, ok := srcDir.children[srcName]
	if !ok {
		return revert("rename", store.ReasonNotFound)
	}
	dstDir, dstName, err := s.parent("rename", dstSegs)
	if err != nil {
		return err
	}
	if n.kind == store.KindDirectory && len(dstSegs) > len(srcSegs) && strings.Join(dstSegs[:len(srcSegs)], "/") == strings.Join(srcSegs, "/") {
		return revert("rename", store.ReasonInvalid)
	}

	if existing, ok := dstDir.children[dstName]; ok {
		if existing == n {
			return nil
		}
		switch {
		case existing.kind == store.KindDirectory && n.kind != store.KindDirectory:
			return revert("rename", store.ReasonIsDirectory)
		case existing.kind != store.KindDirectory && n.kind == store.KindDirectory:
			return revert("rename", store.ReasonNotDirectory)
		case existing.kind == store.KindDirectory && len(existing.names) > 0:
			return revert("rename", store.ReasonNotEmpty)
		}
		dstDir.remove(dstName)
		existing.links--
	}

	srcDir.remove(srcName)
	dstDir.add(dstName, n)
	s.touch(srcDir)
	s.touch(dstDir)
	return nil
}

func (s *Store) Chmod(ctx context.Context, p store.Path, mode uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("chmod"); err != nil {
		return err
	}

	n, err := s.resolve("chmod", names(p), true, 0)
	if err != nil {
		return err
	}
	n.mode = mode & 0o7777
	s.touch(n)
	return nil
}

func (s *Store) Chown(ctx context.Context, p store.Path, owner, group common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("chown"); err != nil {
		return err
	}

	n, err := s.resolve("chown", names(p), true, 0)
	if err != nil {
		return err
	}
	n.owner = owner
	n.group = group
	s.touch(n)
	return nil
}
