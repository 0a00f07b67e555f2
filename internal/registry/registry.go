// Package registry maps every online user to the single connection currently serving them.
package registry

import "sync"

// Conn is a live endpoint a payload can be pushed to.
// Implementations must be comparable (pointer types) so a stale entry can be recognised.
type Conn interface {
	Send(payload []byte) error
	Close() error
}

// Registry is safe for concurrent use by any number of connection loops
type Registry struct {
	mu    sync.RWMutex
	conns map[int64]Conn
}

func New() *Registry {
	return &Registry{
		conns: make(map[int64]Conn),
	}
}

// Register installs conn as the only endpoint of userID and returns the entry it replaced, if any.
// The replaced connection is not closed here; that is left to the caller.
func (r *Registry) Register(userID int64, conn Conn) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.conns[userID]
	r.conns[userID] = conn
	if ok && prev == conn {
		return nil, false
	}
	return prev, ok
}

// Lookup returns the live connection of userID
func (r *Registry) Lookup(userID int64) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[userID]
	return conn, ok
}

// Deregister removes the entry of userID only while it still points at conn,
// so a superseded connection going away cannot evict its successor.
func (r *Registry) Deregister(userID int64, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.conns[userID]; ok && current == conn {
		delete(r.conns, userID)
		return true
	}
	return false
}

// Len returns the number of online users
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every registered connection and empties the registry
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[int64]Conn)
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
