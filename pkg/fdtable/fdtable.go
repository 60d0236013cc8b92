// Package fdtable maps locally issued file handles to remote handles.
package fdtable

import (
	"math"
	"sync"

	"github.com/csweichel/chainfs/pkg/store"
)

// FD is a locally issued file handle.
type FD uint64

// Direct is the remote handle value of entries that have no remote open
// handle. Reads on such entries are path-addressed single-shot calls.
const Direct store.Handle = math.MaxUint64

// Entry is an open file.
type Entry struct {
	Path   string
	Remote store.Handle
	Flags  store.Flags
}

// IsDirect reports whether e has no remote handle.
func (e Entry) IsDirect() bool {
	return e.Remote == Direct
}

// CurrentPath returns current when it is set and the path e was opened with
// otherwise. Direct entries follow renames only through current.
func (e Entry) CurrentPath(current string) string {
	if current != "" {
		return current
	}
	return e.Path
}

// Table is safe for concurrent use. Freed handles are reused.
type Table struct {
	mu      sync.Mutex
	entries map[FD]Entry
	free    []FD
	next    FD
}

// New produces an empty table. Handles start at 1.
func New() *Table {
	return &Table{
		entries: make(map[FD]Entry),
		next:    1,
	}
}

// Insert registers e and returns its handle.
func (t *Table) Insert(e Entry) FD {
	t.mu.Lock()
	defer t.mu.Unlock()

	var fd FD
	if n := len(t.free); n > 0 {
		fd = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		fd = t.next
		t.next++
	}
	t.entries[fd] = e
	return fd
}

// Get returns the entry for fd.
func (t *Table) Get(fd FD) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[fd]
	return e, ok
}

// Remove drops fd from the table and returns the entry it referred to.
func (t *Table) Remove(fd FD) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[fd]
	if !ok {
		return Entry{}, false
	}
	delete(t.entries, fd)
	t.free = append(t.free, fd)
	return e, true
}

// Len returns the number of open handles.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
