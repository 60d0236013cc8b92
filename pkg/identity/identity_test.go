package identity_test

import (
	"testing"

	"github.com/csweichel/chainfs/pkg/identity"
	badger "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
)

var (
	selfAddr  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	otherAddr = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func openTestDB(t *testing.T) *badger.DB {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenSeedsEmptyMap(t *testing.T) {
	db := openTestDB(t)
	self := identity.Self{UID: 1000, GID: 100, Address: selfAddr}

	m, err := identity.Open(db, self)
	if err != nil {
		t.Fatal(err)
	}

	want := []identity.Mapping{
		{Class: identity.User, ID: 1000, Address: selfAddr},
		{Class: identity.Group, ID: 100, Address: selfAddr},
	}
	if diff := cmp.Diff(want, m.Mappings()); diff != "" {
		t.Errorf("Mappings() mismatch (-want +got):\n%s", diff)
	}

	if uid, ok := m.UID(selfAddr); !ok || uid != 1000 {
		t.Errorf("UID(self) = %d, %v", uid, ok)
	}
	if gid, ok := m.GID(selfAddr); !ok || gid != 100 {
		t.Errorf("GID(self) = %d, %v", gid, ok)
	}
	if _, ok := m.UID(otherAddr); ok {
		t.Errorf("UID(other) unexpectedly mapped")
	}
}

func TestOpenLoadsPersistedMap(t *testing.T) {
	db := openTestDB(t)

	m, err := identity.Open(db, identity.Self{UID: 1000, GID: 100, Address: selfAddr})
	if err != nil {
		t.Fatal(err)
	}
	err = m.Set(identity.Mapping{Class: identity.User, ID: 1001, Address: otherAddr})
	if err != nil {
		t.Fatal(err)
	}

	// A second open with a different self must not reseed.
	reopened, err := identity.Open(db, identity.Self{UID: 5, GID: 5, Address: otherAddr})
	if err != nil {
		t.Fatal(err)
	}
	if owner, ok := reopened.Owner(1001); !ok || owner != otherAddr {
		t.Errorf("Owner(1001) = %s, %v", owner.Hex(), ok)
	}
	if _, ok := reopened.Owner(5); ok {
		t.Errorf("map was reseeded on reopen")
	}
	if uid, gid := reopened.Fallback(); uid != 5 || gid != 5 {
		t.Errorf("Fallback() = %d, %d", uid, gid)
	}
}

func TestSetReplacesMapping(t *testing.T) {
	m, err := identity.Open(openTestDB(t), identity.Self{UID: 1000, GID: 100, Address: selfAddr})
	if err != nil {
		t.Fatal(err)
	}

	err = m.Set(identity.Mapping{Class: identity.Group, ID: 100, Address: otherAddr})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.GID(selfAddr); ok {
		t.Errorf("stale reverse mapping for replaced group")
	}
	if gid, ok := m.GID(otherAddr); !ok || gid != 100 {
		t.Errorf("GID(other) = %d, %v", gid, ok)
	}

	if err := m.Set(identity.Mapping{Class: "bogus", ID: 1}); err == nil {
		t.Errorf("Set accepted an unknown class")
	}
}
