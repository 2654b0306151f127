package ws

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one WebSocket client bound to a user, with a write mutex
// for serializing outbound frames.
type Connection struct {
	ID         string    // connection id (UUID), for logs
	UserID     int64     // user this socket speaks for
	IP         string    // remote address without port
	Conn       net.Conn  // underlying TCP connection
	Fd         int       // file descriptor, -1 where unavailable
	CreatedAt  time.Time // when the connection was established
	LastPing   time.Time // last frame received from the client
	writeMu    sync.Mutex
	processing int32 // atomic flag: 0 = idle, 1 = being read by handleConn
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager maps users and raw network connections to their
// Connection. A user holds at most one connection; a newer one replaces the
// older.
type ConnectionManager struct {
	mu     sync.RWMutex
	byUser map[int64]*Connection
	byConn map[net.Conn]*Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byUser: make(map[int64]*Connection),
		byConn: make(map[net.Conn]*Connection),
	}
}

// Add registers conn and returns the connection it replaced for the same
// user, or nil. The replaced connection is unregistered but not closed.
func (cm *ConnectionManager) Add(conn *Connection) *Connection {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	prev := cm.byUser[conn.UserID]
	if prev != nil {
		delete(cm.byConn, prev.Conn)
	}
	cm.byUser[conn.UserID] = conn
	cm.byConn[conn.Conn] = conn
	return prev
}

// Remove unregisters conn and closes it. It returns true only if conn was
// still the user's current connection, false if it was already gone or had
// been replaced.
func (cm *ConnectionManager) Remove(conn *Connection) bool {
	cm.mu.Lock()
	current := cm.byUser[conn.UserID] == conn
	if current {
		delete(cm.byUser, conn.UserID)
	}
	delete(cm.byConn, conn.Conn)
	cm.mu.Unlock()

	conn.Close()
	return current
}

// Get returns the user's connection, or nil.
func (cm *ConnectionManager) Get(userID int64) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byUser[userID]
}

// GetByConn returns the Connection wrapping c, or nil.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byConn[c]
}

// Count returns the current number of connected users.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byUser)
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byUser))
	for _, conn := range cm.byUser {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
