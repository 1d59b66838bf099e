package service

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WRAN-OEVSV/IEEE802.22/auth"
	"github.com/WRAN-OEVSV/IEEE802.22/fanout"
	"github.com/WRAN-OEVSV/IEEE802.22/transport"
)

type fakePipeline struct {
	mu       sync.Mutex
	subs     int
	adds     int
	removes  int
	centerHz float64
	spanHz   float64
}

func (p *fakePipeline) AddSubscriber() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs++
	p.adds++
}

func (p *fakePipeline) RemoveSubscriber() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subs > 0 {
		p.subs--
	}
	p.removes++
}

func (p *fakePipeline) SetCenter(hz float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.centerHz = hz
}

func (p *fakePipeline) SetSpan(hz float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spanHz = hz
}

func (p *fakePipeline) snapshot() fakePipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fakePipeline{subs: p.subs, adds: p.adds, removes: p.removes,
		centerHz: p.centerHz, spanHz: p.spanHz}
}

type fakeCloser struct {
	closed []int
}

func (c *fakeCloser) CloseClient(id int) {
	c.closed = append(c.closed, id)
}

type okWriter struct{}

func (okWriter) Write(_ int, payload string) (int, error) { return len(payload), nil }

type failWriter struct{}

func (failWriter) Write(int, string) (int, error) { return 0, fmt.Errorf("broken pipe") }

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, writer fanout.Writer, options ...Option) (*Service, *fakePipeline) {
	t.Helper()
	pipeline := &fakePipeline{}
	svc := New(pipeline, quiet(), nil, options...)
	svc.AttachRouter(fanout.NewRouter(svc.Registry(), writer, quiet()))
	return svc, pipeline
}

func TestServiceConnectTracksSubscribers(t *testing.T) {
	svc, pipeline := newTestService(t, okWriter{})

	require.NoError(t, svc.OnConnect(transport.ConnectInfo{ID: 1}))
	require.NoError(t, svc.OnConnect(transport.ConnectInfo{ID: 2}))
	assert.Equal(t, 2, pipeline.snapshot().subs)

	svc.OnDisconnect(1)
	assert.Equal(t, 1, pipeline.snapshot().subs)

	// a second removal of the same client must not decrement again
	svc.OnDisconnect(1)
	svc.OnError(1, fmt.Errorf("late error"))
	got := pipeline.snapshot()
	assert.Equal(t, 1, got.subs)
	assert.Equal(t, 1, got.removes)
}

func TestServiceDuplicateConnectRejected(t *testing.T) {
	svc, pipeline := newTestService(t, okWriter{})

	require.NoError(t, svc.OnConnect(transport.ConnectInfo{ID: 1}))
	err := svc.OnConnect(transport.ConnectInfo{ID: 1})
	require.Error(t, err)
	assert.Equal(t, 1, pipeline.snapshot().adds, "rejected connect must not subscribe")
}

func TestServiceTokenGrantsPermissions(t *testing.T) {
	verifier, err := auth.NewVerifier("test-secret")
	require.NoError(t, err)
	token, err := verifier.MintToken("oe1abc", []string{fanout.PermissionLogs}, time.Hour)
	require.NoError(t, err)

	svc, _ := newTestService(t, okWriter{}, WithVerifier(verifier))
	require.NoError(t, svc.OnConnect(transport.ConnectInfo{ID: 1, Token: token}))

	conn, ok := svc.Registry().Get(1)
	require.True(t, ok)
	assert.True(t, conn.HasPermission(fanout.PermissionLogs))
	assert.Equal(t, "oe1abc", conn.GetAttribute(fanout.AttributeUser))
}

func TestServiceBadTokenAdmitsUnprivileged(t *testing.T) {
	verifier, err := auth.NewVerifier("test-secret")
	require.NoError(t, err)

	svc, _ := newTestService(t, okWriter{}, WithVerifier(verifier))
	require.NoError(t, svc.OnConnect(transport.ConnectInfo{ID: 1, Token: "garbage"}))

	conn, ok := svc.Registry().Get(1)
	require.True(t, ok)
	assert.False(t, conn.HasPermission(fanout.PermissionLogs))
	assert.Equal(t, "", conn.GetAttribute(fanout.AttributeUser))
}

func TestServiceCommandsDrivePipeline(t *testing.T) {
	svc, pipeline := newTestService(t, okWriter{})
	require.NoError(t, svc.OnConnect(transport.ConnectInfo{ID: 1}))

	svc.OnMessage(1, "tune:7100000")
	svc.OnMessage(1, "span:200000")

	got := pipeline.snapshot()
	assert.Equal(t, 7_100_000.0, got.centerHz)
	assert.Equal(t, 200_000.0, got.spanHz)
}

func TestServiceMalformedCommandKeepsConnection(t *testing.T) {
	svc, _ := newTestService(t, okWriter{})
	require.NoError(t, svc.OnConnect(transport.ConnectInfo{ID: 1}))

	svc.OnMessage(1, "tune:notanumber")

	_, ok := svc.Registry().Get(1)
	assert.True(t, ok, "parse failures must not remove the client")
}

func TestServiceFlushFailureCleansUp(t *testing.T) {
	svc, pipeline := newTestService(t, failWriter{})
	closer := &fakeCloser{}
	svc.AttachCloser(closer)

	require.NoError(t, svc.OnConnect(transport.ConnectInfo{ID: 1}))

	// queue something, then let the writable path hit the failing writer
	router := fanout.NewRouter(svc.Registry(), failWriter{}, quiet())
	svc.AttachRouter(router)
	router.Send(1, "payload")
	svc.OnWritable(1)

	_, ok := svc.Registry().Get(1)
	assert.False(t, ok, "failed write must remove the client")
	assert.Equal(t, []int{1}, closer.closed)
	assert.Equal(t, 1, pipeline.snapshot().removes)
}

func TestServiceClientsSnapshot(t *testing.T) {
	verifier, err := auth.NewVerifier("test-secret")
	require.NoError(t, err)
	token, err := verifier.MintToken("oe1abc", []string{fanout.PermissionLogs}, time.Hour)
	require.NoError(t, err)

	svc, _ := newTestService(t, okWriter{}, WithVerifier(verifier))
	require.NoError(t, svc.OnConnect(transport.ConnectInfo{ID: 1, Token: token}))
	require.NoError(t, svc.OnConnect(transport.ConnectInfo{ID: 2}))

	clients := svc.Clients()
	require.Len(t, clients, 2)

	byID := map[int]ClientSummary{}
	for _, c := range clients {
		byID[c.ID] = c
	}
	assert.Equal(t, "oe1abc", byID[1].User)
	assert.True(t, byID[1].Logs)
	assert.False(t, byID[2].Logs)
}
