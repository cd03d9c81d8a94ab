package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"sync"

	"github.com/samber/lo"
)

// connSet holds the live connections of one user, keyed by connection id.
type connSet map[domain.ConnID]contract.Connection

// Registry maps every authenticated user to the set of its live connections.
// A connection is owned by exactly one user for its whole lifetime.
type Registry struct {
	mu     sync.RWMutex
	byUser map[domain.UserID]connSet
	owners map[domain.ConnID]domain.UserID

	onFullyDisconnected func(domain.UserID)
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[domain.UserID]connSet),
		owners: make(map[domain.ConnID]domain.UserID),
	}
}

// OnFullyDisconnected installs the hook fired when a user loses its last connection.
// The hook runs outside the registry lock.
func (r *Registry) OnFullyDisconnected(fn func(domain.UserID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFullyDisconnected = fn
}

// Register adds the connection under the user's set.
// Registering the same pair twice is a no-op. A connection previously owned
// by another user is moved, so it never appears under two users.
func (r *Registry) Register(userID domain.UserID, conn contract.Connection) {
	if conn == nil {
		return
	}
	connID := conn.ID()

	r.mu.Lock()
	previous, known := r.owners[connID]
	if known && previous != userID {
		r.removeLocked(previous, connID)
	}
	if _, ok := r.byUser[userID]; !ok {
		r.byUser[userID] = make(connSet)
	}
	r.byUser[userID][connID] = conn
	r.owners[connID] = userID
	orphaned := known && previous != userID && len(r.byUser[previous]) == 0
	hook := r.onFullyDisconnected
	r.mu.Unlock()

	if orphaned && hook != nil {
		hook(previous)
	}
}

// Unregister removes the connection from whichever user owns it.
// Unknown connections are ignored: duplicate disconnect signals are expected.
func (r *Registry) Unregister(connID domain.ConnID) {
	r.mu.Lock()
	userID, ok := r.owners[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	emptied := r.removeLocked(userID, connID)
	hook := r.onFullyDisconnected
	r.mu.Unlock()

	if emptied && hook != nil {
		hook(userID)
	}
}

// removeLocked drops the connection and the user's entry once its set is empty.
// It reports whether the user has no connection left.
func (r *Registry) removeLocked(userID domain.UserID, connID domain.ConnID) bool {
	delete(r.owners, connID)
	conns, ok := r.byUser[userID]
	if !ok {
		return false
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, userID)
		return true
	}
	return false
}

// Resolve returns the union of live connections for the audience.
// Users without a live connection contribute nothing.
func (r *Registry) Resolve(audience domain.Audience) []contract.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []contract.Connection
	for _, userID := range lo.Uniq(audience) {
		for _, conn := range r.byUser[userID] {
			out = append(out, conn)
		}
	}
	return out
}

func (r *Registry) Lookup(connID domain.ConnID) (contract.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.owners[connID]
	if !ok {
		return nil, false
	}
	conn, ok := r.byUser[userID][connID]
	return conn, ok
}

func (r *Registry) All() []contract.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]contract.Connection, 0, len(r.owners))
	for _, conns := range r.byUser {
		out = append(out, lo.Values(conns)...)
	}
	return out
}

func (r *Registry) IsConnected(userID domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// Users lists every user with at least one live connection.
func (r *Registry) Users() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.byUser)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}

func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Close releases every handle and empties the registry.
// The disconnect hook is not fired: presence is torn down by its owner.
func (r *Registry) Close() int {
	r.mu.Lock()
	conns := make([]contract.Connection, 0, len(r.owners))
	for _, set := range r.byUser {
		conns = append(conns, lo.Values(set)...)
	}
	r.byUser = make(map[domain.UserID]connSet)
	r.owners = make(map[domain.ConnID]domain.UserID)
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return len(conns)
}
