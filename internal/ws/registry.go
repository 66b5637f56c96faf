package ws

import (
	"log"
	"sync"
)

// PresenceListener is notified when a user transitions between online and
// offline. Online fires only when the user's first connection registers;
// offline fires only when the last one goes away. Listeners run outside the
// registry lock and must not block for long.
type PresenceListener func(userID string, online bool)

// OfflineHook is invoked after a user's last connection has been removed.
// The call signaling engine uses this to force-end the user's active calls.
type OfflineHook func(userID string)

// ConnectionRegistry is the thread-safe hub mapping user IDs to their live
// connections. It supports O(1) lookups by connection ID, file descriptor,
// and user ID. All registry operations are non-blocking: network writes
// happen on snapshots taken outside the lock, so one slow reader cannot
// stall registry mutations for unrelated users.
type ConnectionRegistry struct {
	mu     sync.RWMutex
	byID   map[string]*Connection            // connection_id -> Connection
	byFd   map[int]*Connection               // fd -> Connection
	byUser map[string]map[string]*Connection // user_id -> connection_id -> Connection

	subMu        sync.RWMutex
	presenceSubs []PresenceListener
	offlineHooks []OfflineHook
}

// NewConnectionRegistry creates an empty ConnectionRegistry ready for use.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byID:   make(map[string]*Connection),
		byFd:   make(map[int]*Connection),
		byUser: make(map[string]map[string]*Connection),
	}
}

// SubscribePresence registers a listener for online/offline transitions.
func (r *ConnectionRegistry) SubscribePresence(fn PresenceListener) {
	r.subMu.Lock()
	r.presenceSubs = append(r.presenceSubs, fn)
	r.subMu.Unlock()
}

// OnUserOffline registers a hook fired after a user's last connection closes.
func (r *ConnectionRegistry) OnUserOffline(fn OfflineHook) {
	r.subMu.Lock()
	r.offlineHooks = append(r.offlineHooks, fn)
	r.subMu.Unlock()
}

// Register adds a connection under its owning user. If this is the user's
// first connection, presence listeners are notified of the online transition
// after the lock is released.
func (r *ConnectionRegistry) Register(c *Connection) {
	r.mu.Lock()
	r.byID[c.ID] = c
	r.byFd[c.Fd] = c
	userConns, ok := r.byUser[c.UserID]
	if !ok {
		userConns = make(map[string]*Connection)
		r.byUser[c.UserID] = userConns
	}
	wasOffline := len(userConns) == 0
	userConns[c.ID] = c
	r.mu.Unlock()

	if wasOffline {
		r.notifyPresence(c.UserID, true)
	}
}

// Unregister removes exactly this connection instance (not "a" connection for
// the user — required because multiple devices may be registered), closes the
// underlying network connection, and removes it from all lookup maps. If it
// was the user's last connection, presence listeners and offline hooks fire
// after the lock is released. Returns true if the connection was found and
// removed, false if it was already gone.
func (r *ConnectionRegistry) Unregister(c *Connection) bool {
	r.mu.Lock()
	_, ok := r.byID[c.ID]
	wentOffline := false
	if ok {
		delete(r.byID, c.ID)
		delete(r.byFd, c.Fd)
		if userConns, uok := r.byUser[c.UserID]; uok {
			delete(userConns, c.ID)
			if len(userConns) == 0 {
				delete(r.byUser, c.UserID)
				wentOffline = true
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	c.Close()

	if wentOffline {
		r.notifyPresence(c.UserID, false)
		r.subMu.RLock()
		hooks := r.offlineHooks
		r.subMu.RUnlock()
		for _, hook := range hooks {
			hook(c.UserID)
		}
	}
	return true
}

// RemoveByFd removes a connection by file descriptor with the same semantics
// as Unregister. It returns the removed connection, or nil if no connection
// was registered for that fd.
func (r *ConnectionRegistry) RemoveByFd(fd int) *Connection {
	r.mu.RLock()
	c := r.byFd[fd]
	r.mu.RUnlock()
	if c == nil {
		return nil
	}
	if !r.Unregister(c) {
		return nil
	}
	return c
}

// Send attempts to push frame to every live connection of the given user.
// It returns true if at least one write succeeded. A write failure on one
// connection does not block or fail writes to the user's other connections;
// the broken connection is unregistered as a side effect. Send never returns
// an error to the caller — delivery failure is reported only via the boolean.
func (r *ConnectionRegistry) Send(userID string, frame []byte) bool {
	conns := r.UserConnections(userID)
	if len(conns) == 0 {
		return false
	}

	delivered := false
	for _, c := range conns {
		if err := c.WriteMessage(frame); err != nil {
			log.Printf("ws: stale connection user=%s conn=%s: %v", userID, c.ID, err)
			r.Unregister(c)
			continue
		}
		delivered = true
	}
	return delivered
}

// Broadcast sends a frame to every connected client. Failed connections are
// unregistered as a side effect.
func (r *ConnectionRegistry) Broadcast(frame []byte) {
	for _, c := range r.All() {
		if err := c.WriteMessage(frame); err != nil {
			r.Unregister(c)
		}
	}
}

// Get returns the connection for the given connection ID, or nil if not found.
func (r *ConnectionRegistry) Get(id string) *Connection {
	r.mu.RLock()
	c := r.byID[id]
	r.mu.RUnlock()
	return c
}

// GetByFd returns the connection for the given file descriptor, or nil if
// not found.
func (r *ConnectionRegistry) GetByFd(fd int) *Connection {
	r.mu.RLock()
	c := r.byFd[fd]
	r.mu.RUnlock()
	return c
}

// UserConnections returns a snapshot of the user's live connections. The
// returned slice is safe to iterate without holding the lock.
func (r *ConnectionRegistry) UserConnections(userID string) []*Connection {
	r.mu.RLock()
	userConns := r.byUser[userID]
	conns := make([]*Connection, 0, len(userConns))
	for _, c := range userConns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	return conns
}

// IsOnline reports whether the user currently has at least one live
// connection.
func (r *ConnectionRegistry) IsOnline(userID string) bool {
	r.mu.RLock()
	n := len(r.byUser[userID])
	r.mu.RUnlock()
	return n > 0
}

// Count returns the current number of active connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	n := len(r.byID)
	r.mu.RUnlock()
	return n
}

// OnlineUsers returns the current number of distinct online users.
func (r *ConnectionRegistry) OnlineUsers() int {
	r.mu.RLock()
	n := len(r.byUser)
	r.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (r *ConnectionRegistry) All() []*Connection {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.byID))
	for _, c := range r.byID {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	return conns
}

// notifyPresence fans a transition out to all presence listeners.
func (r *ConnectionRegistry) notifyPresence(userID string, online bool) {
	r.subMu.RLock()
	subs := r.presenceSubs
	r.subMu.RUnlock()
	for _, fn := range subs {
		fn(userID, online)
	}
}
