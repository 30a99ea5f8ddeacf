// Package chat is the real-time delivery core: the registry of live
// connections and the router that persists a message and fans it out.
package chat

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"parlor/protocol"
)

// Conn is one live push channel. Push must not block past ctx.
type Conn interface {
	ID() uuid.UUID
	Push(ctx context.Context, ev protocol.MessageEvent) error
}

// Stats is a point-in-time count of the registry.
type Stats struct {
	Users       int
	Connections int
}

// Registry maps usernames to their live connections.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[uuid.UUID]Conn
	owners map[uuid.UUID]string
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[uuid.UUID]Conn),
		owners: make(map[uuid.UUID]string),
	}
}

// Register adds conn under user. Registering the same handle again is a
// no-op, or moves it when user differs.
func (r *Registry) Register(user string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if prev, ok := r.owners[id]; ok {
		if prev == user {
			return
		}
		r.removeLocked(prev, id)
	}

	conns, ok := r.byUser[user]
	if !ok {
		conns = make(map[uuid.UUID]Conn)
		r.byUser[user] = conns
	}
	conns[id] = conn
	r.owners[id] = user
}

// Unregister removes conn from whichever user holds it. Unknown handles are
// ignored.
func (r *Registry) Unregister(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	user, ok := r.owners[id]
	if !ok {
		return
	}
	r.removeLocked(user, id)
}

func (r *Registry) removeLocked(user string, id uuid.UUID) {
	delete(r.owners, id)
	conns := r.byUser[user]
	delete(conns, id)
	if len(conns) == 0 {
		delete(r.byUser, user)
	}
}

// ConnectionsFor returns a snapshot of user's connections. Connections
// registered afterwards are not included.
func (r *Registry) ConnectionsFor(user string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[user]
	out := make([]Conn, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn)
	}
	return out
}

// Users returns the sorted usernames holding at least one connection.
func (r *Registry) Users() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.byUser))
	for user := range r.byUser {
		users = append(users, user)
	}
	r.mu.RUnlock()

	sort.Strings(users)
	return users
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Users: len(r.byUser), Connections: len(r.owners)}
}
