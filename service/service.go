// Package service wires the transport, fan-out core, spectral pipeline
// and authentication together. It is the transport's event handler:
// every socket event lands here and is turned into registry, router and
// pipeline calls.
package service

import (
	"log/slog"

	"github.com/WRAN-OEVSV/IEEE802.22/auth"
	"github.com/WRAN-OEVSV/IEEE802.22/fanout"
	"github.com/WRAN-OEVSV/IEEE802.22/metric"
	"github.com/WRAN-OEVSV/IEEE802.22/transport"
)

// Pipeline is the service's view of the spectrum worker.
type Pipeline interface {
	AddSubscriber()
	RemoveSubscriber()
	SetCenter(hz float64)
	SetSpan(hz float64)
}

// SocketCloser force-closes one client socket. The transport server
// implements it.
type SocketCloser interface {
	CloseClient(id int)
}

// Service implements transport.Handler over the fan-out core.
type Service struct {
	registry   *fanout.Registry
	router     *fanout.Router
	dispatcher *fanout.Dispatcher
	pipeline   Pipeline
	verifier   *auth.Verifier
	closer     SocketCloser
	logger     *slog.Logger
}

var _ transport.Handler = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithVerifier enables token authentication. Without it every client is
// unprivileged.
func WithVerifier(v *auth.Verifier) Option {
	return func(s *Service) {
		s.verifier = v
	}
}

// New creates the service glue. The registry is built here so its
// removal hook can keep the pipeline's subscriber count honest; fetch it
// with Registry() to build the router.
func New(pipeline Pipeline, logger *slog.Logger, metrics *metric.Core, options ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		pipeline:   pipeline,
		logger:     logger.With("component", "service"),
		dispatcher: fanout.NewDispatcher(logger, metrics),
	}
	for _, opt := range options {
		opt(s)
	}

	s.registry = fanout.NewRegistry(logger,
		fanout.WithRegistryMetrics(metrics),
		fanout.WithRemovalListener(s.onRemoved),
	)

	s.dispatcher.Register("tune", func(_, param int) {
		s.pipeline.SetCenter(float64(param))
	})
	s.dispatcher.Register("span", func(_, param int) {
		s.pipeline.SetSpan(float64(param))
	})
	return s
}

// Registry returns the connection registry owned by the service.
func (s *Service) Registry() *fanout.Registry {
	return s.registry
}

// Dispatcher returns the inbound command dispatcher for extension.
func (s *Service) Dispatcher() *fanout.Dispatcher {
	return s.dispatcher
}

// AttachRouter hands the service the router built over its registry.
// Must happen before the transport starts delivering events.
func (s *Service) AttachRouter(router *fanout.Router) {
	s.router = router
}

// AttachCloser hands the service the transport's socket closer.
func (s *Service) AttachCloser(closer SocketCloser) {
	s.closer = closer
}

// OnConnect registers the client and applies its token claims. A client
// with no token, or a bad one, is still admitted; it just holds no
// permissions.
func (s *Service) OnConnect(info transport.ConnectInfo) error {
	conn, err := s.registry.OnConnect(info.ID)
	if err != nil {
		return err
	}

	if s.verifier != nil && info.Token != "" {
		claims, err := s.verifier.VerifyToken(info.Token)
		if err != nil {
			s.logger.Warn("token rejected, client admitted unprivileged",
				"client_id", info.ID, "remote", info.RemoteAddr, "error", err)
		} else {
			conn.SetAttribute(fanout.AttributeUser, claims.User)
			for _, permission := range claims.Permissions {
				conn.GrantPermission(permission)
			}
			s.logger.Info("client authenticated",
				"client_id", info.ID, "user", claims.User, "permissions", len(claims.Permissions))
		}
	}

	s.pipeline.AddSubscriber()
	return nil
}

// OnMessage feeds one inbound message through the command dispatcher.
func (s *Service) OnMessage(id int, message string) {
	// parse errors are already counted and logged by the dispatcher
	_ = s.dispatcher.Dispatch(id, message)
}

// OnWritable drains the client's outbound buffer.
func (s *Service) OnWritable(id int) {
	if s.router == nil {
		return
	}
	// a failed flush has already removed the connection
	_ = s.router.Flush(id)
}

// OnDisconnect removes the client after an orderly close.
func (s *Service) OnDisconnect(id int) {
	s.registry.OnDisconnect(id)
}

// OnError removes the client after a transport failure.
func (s *Service) OnError(id int, err error) {
	s.registry.OnError(id, err.Error())
}

// onRemoved is the registry's removal hook. It runs exactly once per
// removed connection, so the subscriber count stays paired with
// registrations even when several removal paths race.
func (s *Service) onRemoved(id int, reason string) {
	s.pipeline.RemoveSubscriber()
	if s.closer != nil && reason != "close" {
		s.closer.CloseClient(id)
	}
}

// ClientSummary describes one active client for diagnostics.
type ClientSummary struct {
	ID   int    `json:"id"`
	User string `json:"user,omitempty"`
	Logs bool   `json:"logs"`
}

// Clients returns a snapshot of the active clients.
func (s *Service) Clients() []ClientSummary {
	ids := s.registry.IDs()
	out := make([]ClientSummary, 0, len(ids))
	for _, id := range ids {
		conn, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		out = append(out, ClientSummary{
			ID:   id,
			User: conn.GetAttribute(fanout.AttributeUser),
			Logs: conn.HasPermission(fanout.PermissionLogs),
		})
	}
	return out
}
