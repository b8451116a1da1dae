package hub

import "sync"

// Registry maps deviceId to its single live connection. It is the one
// source of truth for "is this device online right now"; all
// room-presence questions resolve through it.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// Insert binds the connection to its device id and returns the
// connection it displaced, if any. The caller closes the displaced
// socket outside the registry lock.
func (r *Registry) Insert(c *Conn) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.conns[c.Device().ID]
	if prev == c {
		return nil
	}
	r.conns[c.Device().ID] = c
	return prev
}

// Remove drops the registration only if it still points at this exact
// connection, so a displaced socket closing late cannot evict its
// replacement.
func (r *Registry) Remove(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := c.Device().ID
	if r.conns[id] != c {
		return false
	}
	delete(r.conns, id)
	return true
}

// Lookup returns the live connection for a device, or nil.
func (r *Registry) Lookup(deviceID string) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[deviceID]
}

// Online reports whether a device currently has a live connection.
func (r *Registry) Online(deviceID string) bool {
	return r.Lookup(deviceID) != nil
}

// Snapshot returns the current connections for iteration outside the lock.
func (r *Registry) Snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
