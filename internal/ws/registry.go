package ws

import "sync"

// Registry maps each user to at most one live connection and back.
// Both maps change together under one lock, so every forward entry has
// a matching reverse entry.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int]Connection
	byConn map[Connection]int
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[int]Connection),
		byConn: make(map[Connection]int),
	}
}

// Register maps userID to conn, replacing any previous connection for that
// user. The replaced connection is returned so the caller can close it; it no
// longer resolves to userID.
func (r *Registry) Register(userID int, conn Connection) Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prevUser, ok := r.byConn[conn]; ok && prevUser != userID {
		delete(r.byUser, prevUser)
	}

	prev, ok := r.byUser[userID]
	if ok && prev != conn {
		delete(r.byConn, prev)
	} else {
		prev = nil
	}

	r.byUser[userID] = conn
	r.byConn[conn] = userID
	return prev
}

// Lookup returns the user's live connection, if any.
func (r *Registry) Lookup(userID int) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byUser[userID]
	return conn, ok
}

// Unregister removes conn and its user mapping. A connection that was already
// superseded is unknown here and leaves the newer mapping alone.
func (r *Registry) Unregister(conn Connection) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[conn]
	if !ok {
		return 0, false
	}
	delete(r.byConn, conn)
	if r.byUser[userID] == conn {
		delete(r.byUser, userID)
	}
	return userID, true
}

// Connections returns a snapshot of every registered connection.
func (r *Registry) Connections() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]Connection, 0, len(r.byUser))
	for _, conn := range r.byUser {
		conns = append(conns, conn)
	}
	return conns
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
