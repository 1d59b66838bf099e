package fanout

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/WRAN-OEVSV/IEEE802.22/errors"
	"github.com/WRAN-OEVSV/IEEE802.22/metric"
	"github.com/WRAN-OEVSV/IEEE802.22/pkg/buffer"
)

// DefaultBufferCapacity bounds each connection's outbound payload queue.
const DefaultBufferCapacity = 64

// Registry owns the set of active connections. The transport drives it
// from connection-lifecycle events; the router reads it when fanning out
// payloads.
type Registry struct {
	mu    sync.RWMutex
	conns map[int]*Connection

	bufferCapacity int
	logger         *slog.Logger
	metrics        *metric.Core

	// onRemove fires exactly once per removed connection, after it has
	// left the map.
	onRemove func(id int, reason string)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithBufferCapacity overrides the per-connection outbound queue size.
func WithBufferCapacity(capacity int) RegistryOption {
	return func(r *Registry) {
		if capacity > 0 {
			r.bufferCapacity = capacity
		}
	}
}

// WithRemovalListener registers a callback fired once per removed
// connection, whatever the removal path.
func WithRemovalListener(fn func(id int, reason string)) RegistryOption {
	return func(r *Registry) {
		r.onRemove = fn
	}
}

// WithRegistryMetrics attaches core metrics to the registry.
func WithRegistryMetrics(core *metric.Core) RegistryOption {
	return func(r *Registry) {
		r.metrics = core
	}
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *slog.Logger, options ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		conns:          make(map[int]*Connection),
		bufferCapacity: DefaultBufferCapacity,
		logger:         logger.With("component", "fanout.registry"),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// OnConnect registers a new client under the given identifier. If the
// identifier is already registered the existing connection is kept and the
// new registration is rejected with ErrDuplicateConnection.
func (r *Registry) OnConnect(id int) (*Connection, error) {
	r.mu.Lock()
	if _, exists := r.conns[id]; exists {
		r.mu.Unlock()
		return nil, errors.WrapInvalid(errors.ErrDuplicateConnection,
			"registry", "OnConnect", fmt.Sprintf("register client %d", id))
	}

	var onDrop buffer.DropCallback[string]
	if r.metrics != nil {
		onDrop = func(string) { r.metrics.MessagesDropped.Inc() }
	}
	conn, err := newConnection(id, r.bufferCapacity, onDrop)
	if err != nil {
		r.mu.Unlock()
		return nil, errors.Wrap(err, "registry", "OnConnect", fmt.Sprintf("create connection %d", id))
	}
	r.conns[id] = conn
	active := len(r.conns)
	// Log only after releasing the lock: the log bridge re-enters the
	// registry through the router's permission broadcast.
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ConnectionsActive.Set(float64(active))
		r.metrics.ConnectionsTotal.Inc()
	}
	r.logger.Info("client connected", "client_id", id, "active", active)
	return conn, nil
}

// OnDisconnect removes a client after an orderly close. Unknown
// identifiers are ignored, so transport close and error paths may both
// fire without coordination.
func (r *Registry) OnDisconnect(id int) {
	r.remove(id, "close", "")
}

// OnError removes a client after a transport-level failure.
func (r *Registry) OnError(id int, message string) {
	r.remove(id, "error", message)
}

func (r *Registry) remove(id int, reason, message string) {
	r.mu.Lock()
	conn, exists := r.conns[id]
	if exists {
		delete(r.conns, id)
	}
	active := len(r.conns)
	r.mu.Unlock()

	if !exists {
		return
	}
	pending := conn.close()

	if r.metrics != nil {
		r.metrics.ConnectionsActive.Set(float64(active))
		r.metrics.DisconnectsTotal.WithLabelValues(reason).Inc()
	}
	if reason == "error" {
		r.logger.Error("client removed after transport failure",
			"client_id", id, "error", message, "dropped", pending, "active", active)
	} else {
		r.logger.Info("client disconnected", "client_id", id, "dropped", pending, "active", active)
	}
	if r.onRemove != nil {
		r.onRemove(id, reason)
	}
}

// Get returns the connection registered under id.
func (r *Registry) Get(id int) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Count returns the number of active connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// IDs returns a snapshot of the registered client identifiers. Clients
// that connect or disconnect after the snapshot is taken are not
// reflected in it.
func (r *Registry) IDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// Close removes every connection, dropping any buffered payloads.
func (r *Registry) Close() {
	for _, id := range r.IDs() {
		r.remove(id, "shutdown", "")
	}
}
