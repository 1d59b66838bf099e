package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/WRAN-OEVSV/IEEE802.22/errors"
)

// Config holds the WebSocket server settings.
type Config struct {
	// Port is the TCP port the server listens on.
	Port int `json:"port"`

	// Path is the WebSocket endpoint path.
	Path string `json:"path"`

	// PollInterval paces writable notifications per client. Each tick the
	// reactor is told every connected client can accept output.
	PollInterval time.Duration `json:"poll_interval"`

	// PingInterval paces keepalive pings. Zero disables them.
	PingInterval time.Duration `json:"ping_interval"`

	// WriteTimeout bounds each outbound write.
	WriteTimeout time.Duration `json:"write_timeout"`

	// ReadLimit bounds inbound message size in bytes.
	ReadLimit int64 `json:"read_limit"`
}

// DefaultConfig returns the default server settings.
func DefaultConfig() Config {
	return Config{
		Port:         8090,
		Path:         "/ws",
		PollInterval: 50 * time.Millisecond,
		PingInterval: 30 * time.Second,
		WriteTimeout: 5 * time.Second,
		ReadLimit:    4096,
	}
}

type client struct {
	id         int
	conn       *websocket.Conn
	remoteAddr string
}

// Server accepts WebSocket clients and feeds their lifecycle into a
// Reactor. Outbound data flows the other way: the router calls Write with
// a client identifier, never touching the socket map directly.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	reactor  *Reactor
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[int]*client
	nextID    atomic.Int64

	lifecycleMu sync.Mutex
	running     bool
	httpServer  *http.Server
	listener    net.Listener
	stop        context.CancelFunc
	wg          *sync.WaitGroup
}

// NewServer creates a WebSocket server dispatching to the given handler.
func NewServer(cfg Config, handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "transport.server")
	return &Server{
		cfg:     cfg,
		logger:  logger,
		reactor: NewReactor(handler, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from the local control UI; origin
			// enforcement happens at the token layer.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		clients: make(map[int]*client),
	}
}

// Initialize validates the configuration.
func (s *Server) Initialize() error {
	// port 0 selects an ephemeral port
	if s.cfg.Port < 0 || s.cfg.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "server", "Initialize",
			fmt.Sprintf("port %d out of range", s.cfg.Port))
	}
	if s.cfg.Path == "" || !strings.HasPrefix(s.cfg.Path, "/") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "server", "Initialize",
			fmt.Sprintf("invalid endpoint path %q", s.cfg.Path))
	}
	if s.cfg.PollInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "server", "Initialize",
			"poll interval must be positive")
	}
	if s.cfg.WriteTimeout <= 0 {
		s.cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return nil
}

// Start binds the listen port and starts the accept loop, the reactor and
// client maintenance. A bind failure is fatal: without the listener the
// service has no reason to run.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "server", "Start", "start websocket server")
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "server", "Start", "context cannot be nil")
	}

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrTransportInit, err),
			"server", "Start", fmt.Sprintf("bind %s", addr))
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.wg = &sync.WaitGroup{}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.reactor.Run(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.maintainClients(runCtx)
	}()
	go s.serve(listener)

	s.running = true
	s.logger.Info("websocket server listening", "addr", addr, "path", s.cfg.Path)
	return nil
}

func (s *Server) serve(listener net.Listener) {
	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		s.logger.Error("http server exited", "error", err)
	}
}

// Stop shuts the server down: stop accepting, close client sockets, then
// wait for the reactor and maintenance goroutines up to the timeout.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown incomplete", "error", err)
	}

	s.closeAllClients()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("transport goroutines did not exit within timeout")
		return errors.WrapTransient(fmt.Errorf("shutdown timeout after %s", timeout),
			"server", "Stop", "wait for goroutines")
	}
	return nil
}

// Write transmits one payload to one client. Returns the number of
// payload bytes confirmed written. Unknown identifiers fail: the caller
// treats any error as grounds to remove the connection.
func (s *Server) Write(id int, payload string) (int, error) {
	s.clientsMu.RLock()
	c, ok := s.clients[id]
	s.clientsMu.RUnlock()
	if !ok {
		return 0, errors.WrapTransient(errors.ErrConnectionNotFound, "server", "Write",
			fmt.Sprintf("client %d", id))
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return 0, errors.WrapTransient(err, "server", "Write", fmt.Sprintf("set deadline for client %d", id))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		return 0, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrWriteFailed, err),
			"server", "Write", fmt.Sprintf("client %d", id))
	}
	return len(payload), nil
}

// Addr returns the bound listen address, empty before Start.
func (s *Server) Addr() string {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// CloseClient force-closes one client socket. The read pump observes the
// close and reports it through the reactor.
func (s *Server) CloseClient(id int) {
	s.dropClient(id)
}

// ClientCount returns the number of open sockets.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// handleUpgrade runs on the HTTP handler goroutine for each client and
// stays there as the client's read pump.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id := int(s.nextID.Add(1))
	c := &client{id: id, conn: conn, remoteAddr: r.RemoteAddr}

	s.clientsMu.Lock()
	s.clients[id] = c
	s.clientsMu.Unlock()

	info := ConnectInfo{ID: id, RemoteAddr: r.RemoteAddr, Token: token}
	if err := s.reactor.Connect(info); err != nil {
		s.logger.Warn("client rejected", "client_id", id, "remote", r.RemoteAddr, "error", err)
		s.dropClient(id)
		return
	}

	s.readPump(c)
}

// bearerToken extracts the client's token from the query string or the
// Authorization header.
func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// readPump consumes inbound frames until the socket closes, then reports
// the close as either an orderly disconnect or a transport error.
func (s *Server) readPump(c *client) {
	c.conn.SetReadLimit(s.cfg.ReadLimit)
	if s.cfg.PingInterval > 0 {
		deadline := 2 * s.cfg.PingInterval
		_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(deadline))
		})
	}

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			s.dropClient(c.id)
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.reactor.Disconnect(c.id)
			} else {
				s.reactor.Error(c.id, err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		s.reactor.Message(c.id, string(data))
	}
}

// maintainClients drives the writable poll and keepalive pings.
func (s *Server) maintainClients(ctx context.Context) {
	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()

	var ping <-chan time.Time
	if s.cfg.PingInterval > 0 {
		pingTicker := time.NewTicker(s.cfg.PingInterval)
		defer pingTicker.Stop()
		ping = pingTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			for _, id := range s.clientIDs() {
				s.reactor.Writable(id)
			}
		case <-ping:
			s.pingClients()
		}
	}
}

func (s *Server) clientIDs() []int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	ids := make([]int, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	return ids
}

// pingClients sends a keepalive ping to every client. A failed ping
// closes the socket, which surfaces through the read pump.
func (s *Server) pingClients() {
	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	deadline := time.Now().Add(s.cfg.WriteTimeout)
	for _, c := range clients {
		if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			s.logger.Debug("keepalive ping failed", "client_id", c.id, "error", err)
			_ = c.conn.Close()
		}
	}
}

// dropClient removes a client from the socket map and closes its socket.
// Safe to call more than once per client.
func (s *Server) dropClient(id int) {
	s.clientsMu.Lock()
	c, ok := s.clients[id]
	if ok {
		delete(s.clients, id)
	}
	s.clientsMu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

func (s *Server) closeAllClients() {
	s.clientsMu.Lock()
	clients := s.clients
	s.clients = make(map[int]*client)
	s.clientsMu.Unlock()

	for _, c := range clients {
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), deadline)
		_ = c.conn.Close()
	}
}
