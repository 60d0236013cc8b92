// Package identity maps local user/group ids to remote owner/group
// identities. The map is for display and chown requests only; the remote
// store makes all authorization decisions.
package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
)

// Class distinguishes user from group mappings.
type Class string

const (
	User  Class = "user"
	Group Class = "group"
)

// Mapping is a single persisted entry.
type Mapping struct {
	Class   Class          `json:"class"`
	ID      uint32         `json:"id"`
	Address common.Address `json:"address"`
}

func (m Mapping) key() []byte {
	return []byte(string(m.Class) + "/" + strconv.FormatUint(uint64(m.ID), 10))
}

// Self describes the process' own local and remote identity. It seeds an
// empty map and is the fallback for unmapped remote identities.
type Self struct {
	UID     uint32
	GID     uint32
	Address common.Address
}

// Map is read-mostly after Open and safe for concurrent use.
type Map struct {
	db   *badger.DB
	self Self

	mu     sync.RWMutex
	uids   map[common.Address]uint32
	gids   map[common.Address]uint32
	owners map[uint32]common.Address
	groups map[uint32]common.Address
}

// Open loads the map persisted in db. If db holds no mappings yet, self is
// written as the initial user and group mapping.
func Open(db *badger.DB, self Self) (*Map, error) {
	m := &Map{
		db:     db,
		self:   self,
		uids:   make(map[common.Address]uint32),
		gids:   make(map[common.Address]uint32),
		owners: make(map[uint32]common.Address),
		groups: make(map[uint32]common.Address),
	}

	entries, err := m.scan()
	if err != nil {
		return nil, fmt.Errorf("cannot load identity map: %w", err)
	}
	if len(entries) == 0 {
		entries = []Mapping{
			{Class: User, ID: self.UID, Address: self.Address},
			{Class: Group, ID: self.GID, Address: self.Address},
		}
		for _, e := range entries {
			if err := m.put(e); err != nil {
				return nil, fmt.Errorf("cannot seed identity map: %w", err)
			}
		}
		log.WithField("uid", self.UID).WithField("gid", self.GID).WithField("address", self.Address.Hex()).Info("seeded identity map")
	}

	for _, e := range entries {
		m.apply(e)
	}
	return m, nil
}

func (m *Map) scan() ([]Mapping, error) {
	var res []Mapping
	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			k := item.Key()
			if !bytes.HasPrefix(k, []byte(User+"/")) && !bytes.HasPrefix(k, []byte(Group+"/")) {
				continue
			}

			var e Mapping
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return fmt.Errorf("corrupt mapping %s: %w", k, err)
			}
			res = append(res, e)
		}
		return nil
	})
	return res, err
}

func (m *Map) put(e Mapping) error {
	val, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(e.key(), val)
	})
}

func (m *Map) apply(e Mapping) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch e.Class {
	case User:
		if prev, ok := m.owners[e.ID]; ok {
			delete(m.uids, prev)
		}
		m.owners[e.ID] = e.Address
		m.uids[e.Address] = e.ID
	case Group:
		if prev, ok := m.groups[e.ID]; ok {
			delete(m.gids, prev)
		}
		m.groups[e.ID] = e.Address
		m.gids[e.Address] = e.ID
	}
}

// Set persists a mapping and makes it visible immediately.
func (m *Map) Set(e Mapping) error {
	if e.Class != User && e.Class != Group {
		return fmt.Errorf("unknown identity class %q", e.Class)
	}
	if err := m.put(e); err != nil {
		return err
	}
	m.apply(e)
	return nil
}

// UID returns the local user id of a remote owner.
func (m *Map) UID(owner common.Address) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.uids[owner]
	return id, ok
}

// GID returns the local group id of a remote group.
func (m *Map) GID(group common.Address) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.gids[group]
	return id, ok
}

// Owner returns the remote owner of a local user id.
func (m *Map) Owner(uid uint32) (common.Address, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.owners[uid]
	return a, ok
}

// Group returns the remote group of a local group id.
func (m *Map) Group(gid uint32) (common.Address, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.groups[gid]
	return a, ok
}

// Fallback returns the local ids used for unmapped remote identities.
func (m *Map) Fallback() (uid, gid uint32) {
	return m.self.UID, m.self.GID
}

// Mappings returns all mappings ordered by class and id.
func (m *Map) Mappings() []Mapping {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make([]Mapping, 0, len(m.owners)+len(m.groups))
	for id, a := range m.owners {
		res = append(res, Mapping{Class: User, ID: id, Address: a})
	}
	for id, a := range m.groups {
		res = append(res, Mapping{Class: Group, ID: id, Address: a})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Class != res[j].Class {
			return res[i].Class == User
		}
		return res[i].ID < res[j].ID
	})
	return res
}
