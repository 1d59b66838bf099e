// Package fanout implements the connection-lifecycle and buffered-multicast
// core: per-client connection state, the registry that owns it, the
// broadcast router, and inbound command parsing.
package fanout

import (
	"sync"
	"time"

	"github.com/WRAN-OEVSV/IEEE802.22/pkg/buffer"
)

// PermissionLogs marks a connection as eligible to receive log-broadcast
// payloads.
const PermissionLogs = "logs"

// AttributeUser holds the authenticated user name of a connection.
const AttributeUser = "user"

// Connection is the server-side state for one active client socket. The
// registry owns Connections exclusively; other components address them by
// identifier through the registry or router.
type Connection struct {
	id        int
	createdAt time.Time

	// outbound holds payloads pending transmission, FIFO. Appended by
	// Send/Broadcast, drained head-first by Flush after each confirmed
	// write. Bounded: a slow client sheds its oldest payloads.
	outbound buffer.Buffer[string]

	mu          sync.RWMutex
	permissions map[string]struct{}
	attributes  map[string]string
}

func newConnection(id, bufferCapacity int, onDrop buffer.DropCallback[string]) (*Connection, error) {
	outbound, err := buffer.NewRing[string](bufferCapacity,
		buffer.WithOverflowPolicy[string](buffer.DropOldest),
		buffer.WithDropCallback[string](onDrop),
	)
	if err != nil {
		return nil, err
	}
	return &Connection{
		id:          id,
		createdAt:   time.Now(),
		outbound:    outbound,
		permissions: make(map[string]struct{}),
		attributes:  make(map[string]string),
	}, nil
}

// ID returns the transport-assigned client identifier.
func (c *Connection) ID() int {
	return c.id
}

// CreatedAt returns when the connection was registered. Set once, never
// updated.
func (c *Connection) CreatedAt() time.Time {
	return c.createdAt
}

// GrantPermission adds a capability to the connection.
func (c *Connection) GrantPermission(permission string) {
	c.mu.Lock()
	c.permissions[permission] = struct{}{}
	c.mu.Unlock()
}

// HasPermission reports whether the connection holds a capability.
func (c *Connection) HasPermission(permission string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.permissions[permission]
	return ok
}

// SetAttribute stores session-level data on the connection.
func (c *Connection) SetAttribute(key, value string) {
	c.mu.Lock()
	c.attributes[key] = value
	c.mu.Unlock()
}

// GetAttribute returns the value for key, or the empty string if unset.
func (c *Connection) GetAttribute(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attributes[key]
}

// enqueue appends a payload at the tail of the outbound buffer.
func (c *Connection) enqueue(payload string) error {
	return c.outbound.Write(payload)
}

// peekOutbound returns the head payload without removing it.
func (c *Connection) peekOutbound() (string, bool) {
	return c.outbound.Peek()
}

// popOutbound removes the head payload after confirmed transmission.
func (c *Connection) popOutbound() {
	c.outbound.Read()
}

// pendingCount returns the number of payloads awaiting transmission.
func (c *Connection) pendingCount() int {
	return c.outbound.Size()
}

// close releases the outbound buffer, discarding pending payloads.
func (c *Connection) close() int {
	pending := c.outbound.Size()
	c.outbound.Clear()
	_ = c.outbound.Close()
	return pending
}
