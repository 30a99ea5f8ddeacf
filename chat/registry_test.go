package chat

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	tab1, tab2 := newFakeConn(), newFakeConn()

	r.Register("alice", tab1)
	r.Register("alice", tab2)
	r.Register("alice", tab1) // idempotent

	if got := len(r.ConnectionsFor("alice")); got != 2 {
		t.Errorf("ConnectionsFor(alice) has %d conns, want 2", got)
	}
	if stats := r.Stats(); stats != (Stats{Users: 1, Connections: 2}) {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestRegistryReRegisterMovesHandle(t *testing.T) {
	r := NewRegistry()
	conn := newFakeConn()

	r.Register("alice", conn)
	r.Register("bob", conn)

	if got := r.ConnectionsFor("alice"); len(got) != 0 {
		t.Errorf("alice still holds %d conns", len(got))
	}
	if got := r.ConnectionsFor("bob"); len(got) != 1 {
		t.Errorf("bob holds %d conns, want 1", len(got))
	}
	if want := []string{"bob"}; !reflect.DeepEqual(r.Users(), want) {
		t.Errorf("Users = %v, want %v", r.Users(), want)
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	tab1, tab2 := newFakeConn(), newFakeConn()
	r.Register("alice", tab1)
	r.Register("alice", tab2)

	r.Unregister(tab1)
	if got := r.ConnectionsFor("alice"); len(got) != 1 || got[0] != tab2 {
		t.Errorf("after unregister alice holds %v", got)
	}

	r.Unregister(tab2)
	if users := r.Users(); len(users) != 0 {
		t.Errorf("Users = %v, want none once the last conn is gone", users)
	}
}

func TestRegistryUnregisterUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", newFakeConn())

	r.Unregister(newFakeConn())
	r.Unregister(newFakeConn())

	if stats := r.Stats(); stats != (Stats{Users: 1, Connections: 1}) {
		t.Errorf("Stats = %+v, want unchanged", stats)
	}
}

func TestRegistryOfflineUser(t *testing.T) {
	r := NewRegistry()
	conns := r.ConnectionsFor("nobody")
	if conns == nil || len(conns) != 0 {
		t.Errorf("ConnectionsFor(nobody) = %#v, want empty slice", conns)
	}
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", newFakeConn())

	snapshot := r.ConnectionsFor("alice")
	r.Register("alice", newFakeConn())

	if len(snapshot) != 1 {
		t.Errorf("snapshot changed after register: %d conns", len(snapshot))
	}
}

func TestRegistryUsersSorted(t *testing.T) {
	r := NewRegistry()
	for _, user := range []string{"carol", "alice", "bob"} {
		r.Register(user, newFakeConn())
	}
	if want := []string{"alice", "bob", "carol"}; !reflect.DeepEqual(r.Users(), want) {
		t.Errorf("Users = %v, want %v", r.Users(), want)
	}
}

func TestRegistryConcurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user := fmt.Sprintf("user%d", i%5)
			conn := newFakeConn()
			r.Register(user, conn)
			r.ConnectionsFor(user)
			r.Users()
			r.Unregister(conn)
		}()
	}
	wg.Wait()

	if stats := r.Stats(); stats != (Stats{}) {
		t.Errorf("Stats = %+v, want empty", stats)
	}
}
