package fanout

import (
	"fmt"
	"log/slog"

	"github.com/WRAN-OEVSV/IEEE802.22/errors"
	"github.com/WRAN-OEVSV/IEEE802.22/metric"
)

// Writer transmits one payload to one client. The transport implements it;
// the router never touches sockets directly. A nil error with n shorter
// than the payload signals a partial write.
type Writer interface {
	Write(id int, payload string) (n int, err error)
}

// Router fans payloads out to connection buffers and drains them when the
// transport signals a client is writable. Producers (spectrum pipeline,
// log bridge, command handlers) only ever see the router, never sockets.
type Router struct {
	registry  *Registry
	transport Writer
	logger    *slog.Logger
	metrics   *metric.Core
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterMetrics attaches core metrics to the router.
func WithRouterMetrics(core *metric.Core) RouterOption {
	return func(rt *Router) {
		rt.metrics = core
	}
}

// NewRouter creates a router over the given registry and transport writer.
func NewRouter(registry *Registry, transport Writer, logger *slog.Logger, options ...RouterOption) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Router{
		registry:  registry,
		transport: transport,
		logger:    logger.With("component", "fanout.router"),
	}
	for _, opt := range options {
		opt(rt)
	}
	return rt
}

// Send appends a payload to one client's outbound buffer. Unknown
// identifiers are a silent no-op: the client may have disconnected
// between snapshot and enqueue.
func (rt *Router) Send(id int, payload string) {
	conn, ok := rt.registry.Get(id)
	if !ok {
		return
	}
	if err := conn.enqueue(payload); err != nil {
		return
	}
	if rt.metrics != nil {
		rt.metrics.MessagesQueued.Inc()
	}
}

// Broadcast appends a payload to every active connection's buffer. The
// recipient set is a snapshot; clients joining mid-broadcast are skipped.
func (rt *Router) Broadcast(payload string) int {
	ids := rt.registry.IDs()
	for _, id := range ids {
		rt.Send(id, payload)
	}
	return len(ids)
}

// BroadcastToPermission appends a payload to every connection holding the
// given permission.
//
// This path must never log: the log bridge delivers every record through
// it, and a log call here would re-enter the bridge.
func (rt *Router) BroadcastToPermission(payload, permission string) int {
	sent := 0
	for _, id := range rt.registry.IDs() {
		conn, ok := rt.registry.Get(id)
		if !ok || !conn.HasPermission(permission) {
			continue
		}
		if err := conn.enqueue(payload); err != nil {
			continue
		}
		if rt.metrics != nil {
			rt.metrics.MessagesQueued.Inc()
		}
		sent++
	}
	return sent
}

// Flush drains one client's outbound buffer head-first. Each payload is
// removed only after the transport confirms a complete write. A failed or
// partial write is fatal for the connection: it is removed and the rest
// of its buffered payloads are dropped.
func (rt *Router) Flush(id int) error {
	conn, ok := rt.registry.Get(id)
	if !ok {
		return nil
	}
	for {
		payload, ok := conn.peekOutbound()
		if !ok {
			return nil
		}
		n, err := rt.transport.Write(id, payload)
		if err == nil && n < len(payload) {
			err = fmt.Errorf("%w: wrote %d of %d bytes", errors.ErrWriteFailed, n, len(payload))
		}
		if err != nil {
			if rt.metrics != nil {
				rt.metrics.WriteFailures.Inc()
			}
			rt.registry.OnError(id, err.Error())
			return errors.WrapTransient(err, "router", "Flush",
				fmt.Sprintf("write to client %d", id))
		}
		conn.popOutbound()
		if rt.metrics != nil {
			rt.metrics.MessagesSent.Inc()
			rt.metrics.BytesSent.Add(float64(len(payload)))
		}
	}
}

// Pending returns the number of payloads buffered for one client.
func (rt *Router) Pending(id int) int {
	conn, ok := rt.registry.Get(id)
	if !ok {
		return 0
	}
	return conn.pendingCount()
}

// ConnectionCount returns the number of active connections.
func (rt *Router) ConnectionCount() int {
	return rt.registry.Count()
}

// SetAttribute stores session data on one client's connection.
func (rt *Router) SetAttribute(id int, key, value string) {
	if conn, ok := rt.registry.Get(id); ok {
		conn.SetAttribute(key, value)
	}
}

// GetAttribute returns session data for one client, or the empty string.
func (rt *Router) GetAttribute(id int, key string) string {
	conn, ok := rt.registry.Get(id)
	if !ok {
		return ""
	}
	return conn.GetAttribute(key)
}
