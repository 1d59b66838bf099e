// Package transport owns the WebSocket-facing side of the service: the
// HTTP/WebSocket server that accepts clients, and the reactor that
// serializes socket events into application callbacks.
package transport

// ConnectInfo describes a newly accepted client socket.
type ConnectInfo struct {
	// ID is the transport-assigned client identifier, unique for the
	// lifetime of the server.
	ID int

	// RemoteAddr is the client's network address.
	RemoteAddr string

	// Token is the raw bearer token supplied with the upgrade request,
	// empty when none was sent.
	Token string
}

// Handler receives transport events. The reactor invokes callbacks one at
// a time from a single goroutine, so implementations need no internal
// serialization against each other.
type Handler interface {
	// OnConnect is called when a client socket is accepted. Returning a
	// non-nil error rejects the client and closes the socket.
	OnConnect(info ConnectInfo) error

	// OnMessage is called with each inbound text message.
	OnMessage(id int, message string)

	// OnWritable is called when a client socket can accept output.
	OnWritable(id int)

	// OnDisconnect is called after an orderly client close.
	OnDisconnect(id int)

	// OnError is called after a transport-level failure on one client.
	// The socket is already closed when it fires.
	OnError(id int, err error)
}
