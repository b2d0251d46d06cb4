// Package realtime tracks live push connections per user.
//
// This service only drops connections: logout-all and password reset call
// DisconnectUser. Add, Remove and Lookup are the seam for the push transport
// that owns the sockets and registers them on connect. No such transport
// ships with this service, so in a standalone deployment the registry is
// empty and DisconnectUser reports zero.
package realtime

import "sync"

// Conn is one live connection, typically a websocket.
type Conn interface {
	ID() string
	Close() error
}

// Registry maps users to their live connections. MemoryRegistry serves a
// single instance; a shared pub/sub backed implementation can replace it.
type Registry interface {
	Add(userID uint64, c Conn)
	Remove(userID uint64, c Conn)
	Lookup(userID uint64) []Conn
	DisconnectUser(userID uint64) int
}

// MemoryRegistry is an in-process Registry. A user may hold several
// connections (tabs, devices).
type MemoryRegistry struct {
	mu    sync.RWMutex
	conns map[uint64]map[string]Conn
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{conns: make(map[uint64]map[string]Conn)}
}

func (r *MemoryRegistry) Add(userID uint64, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]Conn)
		r.conns[userID] = set
	}
	set[c.ID()] = c
}

func (r *MemoryRegistry) Remove(userID uint64, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[userID]
	if !ok {
		return
	}
	delete(set, c.ID())
	if len(set) == 0 {
		delete(r.conns, userID)
	}
}

func (r *MemoryRegistry) Lookup(userID uint64) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.conns[userID]))
	for _, c := range r.conns[userID] {
		out = append(out, c)
	}
	return out
}

// DisconnectUser closes and forgets every connection of userID and returns
// how many there were. Close runs outside the lock.
func (r *MemoryRegistry) DisconnectUser(userID uint64) int {
	r.mu.Lock()
	set := r.conns[userID]
	delete(r.conns, userID)
	r.mu.Unlock()

	for _, c := range set {
		_ = c.Close()
	}
	return len(set)
}
