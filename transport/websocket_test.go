package transport

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serverHandler bridges transport events into channels the test can
// select on.
type serverHandler struct {
	mu        sync.Mutex
	rejectAll bool

	connects    chan ConnectInfo
	messages    chan string
	disconnects chan int
	errs        chan int
}

func newServerHandler() *serverHandler {
	return &serverHandler{
		connects:    make(chan ConnectInfo, 8),
		messages:    make(chan string, 8),
		disconnects: make(chan int, 8),
		errs:        make(chan int, 8),
	}
}

func (h *serverHandler) OnConnect(info ConnectInfo) error {
	h.connects <- info
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rejectAll {
		return fmt.Errorf("not authorized")
	}
	return nil
}

func (h *serverHandler) OnMessage(id int, message string) {
	h.messages <- fmt.Sprintf("%d:%s", id, message)
}

func (h *serverHandler) OnWritable(int) {}

func (h *serverHandler) OnDisconnect(id int) {
	h.disconnects <- id
}

func (h *serverHandler) OnError(id int, _ error) {
	h.errs <- id
}

func startTestServer(t *testing.T, handler Handler) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Port = 0
	cfg.PollInterval = 10 * time.Millisecond
	cfg.PingInterval = 0

	srv := NewServer(cfg, handler, discardLogger())
	require.NoError(t, srv.Initialize())
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop(2 * time.Second) })
	return srv
}

func dial(t *testing.T, srv *Server, query string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s/ws%s", srv.Addr(), query)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitConnect(t *testing.T, h *serverHandler) ConnectInfo {
	t.Helper()
	select {
	case info := <-h.connects:
		return info
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connect")
		return ConnectInfo{}
	}
}

func TestServerConnectCarriesToken(t *testing.T) {
	handler := newServerHandler()
	srv := startTestServer(t, handler)

	dial(t, srv, "?token=abc123")

	info := waitConnect(t, handler)
	assert.Greater(t, info.ID, 0)
	assert.Equal(t, "abc123", info.Token)
	assert.NotEmpty(t, info.RemoteAddr)
	assert.Equal(t, 1, srv.ClientCount())
}

func TestServerAssignsDistinctIDs(t *testing.T) {
	handler := newServerHandler()
	srv := startTestServer(t, handler)

	dial(t, srv, "")
	dial(t, srv, "")

	first := waitConnect(t, handler)
	second := waitConnect(t, handler)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, srv.ClientCount())
}

func TestServerDeliversInboundMessages(t *testing.T) {
	handler := newServerHandler()
	srv := startTestServer(t, handler)

	conn := dial(t, srv, "")
	info := waitConnect(t, handler)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("span:200000")))

	select {
	case got := <-handler.messages:
		assert.Equal(t, fmt.Sprintf("%d:span:200000", info.ID), got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestServerWriteReachesClient(t *testing.T) {
	handler := newServerHandler()
	srv := startTestServer(t, handler)

	conn := dial(t, srv, "")
	info := waitConnect(t, handler)

	n, err := srv.Write(info.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Equal(t, "hello", string(data))
}

func TestServerWriteUnknownClient(t *testing.T) {
	handler := newServerHandler()
	srv := startTestServer(t, handler)

	_, err := srv.Write(999, "payload")
	require.Error(t, err)
}

func TestServerOrderlyCloseReportsDisconnect(t *testing.T) {
	handler := newServerHandler()
	srv := startTestServer(t, handler)

	conn := dial(t, srv, "")
	info := waitConnect(t, handler)

	deadline := time.Now().Add(time.Second)
	require.NoError(t, conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline))
	_ = conn.Close()

	select {
	case id := <-handler.disconnects:
		assert.Equal(t, info.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect")
	}

	assert.Eventually(t, func() bool { return srv.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestServerRejectedClientIsClosed(t *testing.T) {
	handler := newServerHandler()
	handler.rejectAll = true
	srv := startTestServer(t, handler)

	conn := dial(t, srv, "")
	waitConnect(t, handler)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "rejected client should see its socket closed")
	assert.Eventually(t, func() bool { return srv.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestServerStopClosesClients(t *testing.T) {
	handler := newServerHandler()
	srv := startTestServer(t, handler)

	conn := dial(t, srv, "")
	waitConnect(t, handler)

	require.NoError(t, srv.Stop(2*time.Second))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestServerInitializeValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 70000
	srv := NewServer(cfg, newServerHandler(), discardLogger())
	assert.Error(t, srv.Initialize())

	cfg = DefaultConfig()
	cfg.Path = "ws"
	srv = NewServer(cfg, newServerHandler(), discardLogger())
	assert.Error(t, srv.Initialize())

	cfg = DefaultConfig()
	cfg.PollInterval = 0
	srv = NewServer(cfg, newServerHandler(), discardLogger())
	assert.Error(t, srv.Initialize())
}
