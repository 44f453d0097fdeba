package session

import "sync"

// ConnID is the opaque handle of one transport-level connection.
type ConnID string

// Registry keeps the identity <-> connection association in both directions.
// Absence is a normal state, so lookups report it with a bool instead of an error.
type Registry struct {
	mu         sync.RWMutex
	byIdentity map[string]ConnID
	byConn     map[ConnID]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[string]ConnID),
		byConn:     make(map[ConnID]string),
	}
}

// Register binds identity to conn, dropping whatever either side was bound to
// before. It returns the connection the identity previously pointed at, if any.
func (r *Registry) Register(identity string, conn ConnID) (previous ConnID, reassigned bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byIdentity[identity]; ok && old != conn {
		delete(r.byConn, old)
		previous, reassigned = old, true
	}
	if oldIdentity, ok := r.byConn[conn]; ok && oldIdentity != identity {
		if r.byIdentity[oldIdentity] == conn {
			delete(r.byIdentity, oldIdentity)
		}
	}

	r.byIdentity[identity] = conn
	r.byConn[conn] = identity
	return previous, reassigned
}

// LookupConnection returns the connection currently bound to identity.
func (r *Registry) LookupConnection(identity string) (ConnID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byIdentity[identity]
	return conn, ok
}

// LookupIdentity returns the identity currently bound to conn.
func (r *Registry) LookupIdentity(conn ConnID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.byConn[conn]
	return identity, ok
}

// Owns reports whether identity is still bound to conn.
func (r *Registry) Owns(identity string, conn ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byIdentity[identity] == conn && r.byConn[conn] == identity
}

// Remove unbinds conn. The identity side is only cleared while it still points
// at conn, so a stale connection never unbinds an identity that moved on.
func (r *Registry) Remove(conn ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.byConn[conn]
	if !ok {
		return
	}
	delete(r.byConn, conn)
	if r.byIdentity[identity] == conn {
		delete(r.byIdentity, identity)
	}
}

// Len returns the number of bound identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}
