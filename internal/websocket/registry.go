package websocket

import "sync"

// Registry tracks every open connection and indexes authenticated ones by user.
// One entry per user: a later authentication for the same user takes the slot.
type Registry struct {
	mu     sync.RWMutex
	conns  map[*Connection]struct{}
	byUser map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[*Connection]struct{}),
		byUser: make(map[string]*Connection),
	}
}

// Add tracks an accepted, not yet authenticated connection.
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
}

// Register binds c to userID and returns the connection it displaced, if any.
// The displaced connection is left open.
func (r *Registry) Register(userID string, c *Connection) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.byUser[userID]
	if previous == c {
		previous = nil
	}
	r.byUser[userID] = c
	r.conns[c] = struct{}{}
	c.setUserID(userID)
	return previous
}

// Find returns the user c is registered as. It fails for connections that never
// authenticated or whose slot was taken by a newer connection of the same user.
func (r *Registry) Find(c *Connection) (string, bool) {
	userID := c.UserID()
	if userID == "" {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return userID, r.byUser[userID] == c
}

// Lookup returns the connection registered for userID.
func (r *Registry) Lookup(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[userID]
	return c, ok
}

// Unregister drops the user slot of c if it still points at c.
func (r *Registry) Unregister(c *Connection) bool {
	userID := c.UserID()

	r.mu.Lock()
	defer r.mu.Unlock()
	if userID == "" || r.byUser[userID] != c {
		return false
	}
	delete(r.byUser, userID)
	return true
}

// Remove forgets c entirely. It reports whether c held its user's slot.
func (r *Registry) Remove(c *Connection) bool {
	removed := r.Unregister(c)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
	return removed
}

// Count is the number of authenticated users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Connections snapshots every open connection, authenticated or not.
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}
