package spectrum

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureCaster struct {
	mu       sync.Mutex
	payloads []string
}

func (c *captureCaster) Broadcast(payload string) int {
	c.mu.Lock()
	c.payloads = append(c.payloads, payload)
	c.mu.Unlock()
	return 1
}

func (c *captureCaster) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func (c *captureCaster) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.payloads) == 0 {
		return ""
	}
	return c.payloads[len(c.payloads)-1]
}

// countingEstimator wraps the periodogram and counts invocations.
type countingEstimator struct {
	calls atomic.Int64
	inner Estimator
}

func (e *countingEstimator) Estimate(samples []complex64, out []float64) error {
	e.calls.Add(1)
	return e.inner.Estimate(samples, out)
}

type panicEstimator struct{}

func (panicEstimator) Estimate([]complex64, []float64) error {
	panic("estimator blew up")
}

// failingEstimator models an unavailable transform backend.
type failingEstimator struct{}

func (failingEstimator) Estimate([]complex64, []float64) error {
	return errors.New("transform backend unavailable")
}

func testWorkerConfig() WorkerConfig {
	cfg := DefaultWorkerConfig()
	cfg.Bins = 8
	cfg.QueueLowWater = 2
	cfg.QueueCapacity = 16
	cfg.WaitTimeout = 5 * time.Millisecond
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startWorker(t *testing.T, cfg WorkerConfig, caster Broadcaster, options ...WorkerOption) *Worker {
	t.Helper()
	w, err := NewWorker(cfg, caster, quietLogger(), options...)
	require.NoError(t, err)
	require.NoError(t, w.Initialize())
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop(time.Second) })
	return w
}

func fillQueue(w *Worker, batches, samples int) {
	for i := 0; i < batches; i++ {
		w.Push(make(SampleBatch, samples))
	}
}

func TestWorkerBroadcastsFrames(t *testing.T) {
	caster := &captureCaster{}
	w := startWorker(t, testWorkerConfig(), caster)

	w.AddSubscriber()
	fillQueue(w, 6, 8)

	require.Eventually(t, func() bool { return caster.count() > 0 },
		time.Second, 5*time.Millisecond)

	var frame struct {
		Center []float64 `json:"center"`
		Span   []float64 `json:"span"`
		S      []int     `json:"s"`
	}
	require.NoError(t, json.Unmarshal([]byte(caster.last()), &frame))
	assert.Equal(t, []float64{w.Center()}, frame.Center)
	assert.Equal(t, []float64{w.Span()}, frame.Span)
	assert.Len(t, frame.S, 8)
}

func TestWorkerIdlesWithoutSubscribers(t *testing.T) {
	caster := &captureCaster{}
	counting := &countingEstimator{inner: NewPeriodogram()}
	w := startWorker(t, testWorkerConfig(), caster, WithEstimator(counting))

	fillQueue(w, 10, 8)
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, counting.calls.Load(), "pipeline must not compute without subscribers")
	assert.Zero(t, caster.count())
}

func TestWorkerHoldsBelowLowWater(t *testing.T) {
	caster := &captureCaster{}
	w := startWorker(t, testWorkerConfig(), caster)

	w.AddSubscriber()
	// exactly at the low-water mark, never above it
	fillQueue(w, 2, 8)
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, caster.count(), "queue at low water must not be drained")
}

func TestWorkerSkipsShortBatches(t *testing.T) {
	caster := &captureCaster{}
	w := startWorker(t, testWorkerConfig(), caster)

	w.AddSubscriber()
	fillQueue(w, 6, 3)
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, caster.count())
}

func TestWorkerSubscriberRefcount(t *testing.T) {
	caster := &captureCaster{}
	w, err := NewWorker(testWorkerConfig(), caster, quietLogger())
	require.NoError(t, err)

	w.AddSubscriber()
	w.AddSubscriber()
	assert.Equal(t, 2, w.Subscribers())

	w.RemoveSubscriber()
	assert.Equal(t, 1, w.Subscribers())

	// unpaired removes clamp at zero
	w.RemoveSubscriber()
	w.RemoveSubscriber()
	assert.Equal(t, 0, w.Subscribers())
}

func TestWorkerTerminateFlipsBothFlags(t *testing.T) {
	caster := &captureCaster{}
	w := startWorker(t, testWorkerConfig(), caster)

	assert.False(t, w.Stopping())
	assert.False(t, w.Terminated())

	w.Terminate()
	assert.True(t, w.Stopping())

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after Terminate")
	}
	assert.True(t, w.Stopping())
	assert.True(t, w.Terminated())
	assert.Equal(t, StateTerminated, w.State())
}

func TestWorkerPanicStillTerminates(t *testing.T) {
	caster := &captureCaster{}
	w := startWorker(t, testWorkerConfig(), caster, WithEstimator(panicEstimator{}))

	w.AddSubscriber()
	fillQueue(w, 6, 8)

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("panicking loop did not terminate")
	}
	assert.True(t, w.Stopping())
	assert.True(t, w.Terminated())
	assert.Equal(t, StateTerminated, w.State())
}

func TestWorkerEstimatorErrorTerminates(t *testing.T) {
	caster := &captureCaster{}
	w := startWorker(t, testWorkerConfig(), caster, WithEstimator(failingEstimator{}))

	w.AddSubscriber()
	fillQueue(w, 6, 8)

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("failing estimator did not end the loop")
	}
	assert.True(t, w.Stopping())
	assert.True(t, w.Terminated())
	assert.Equal(t, StateTerminated, w.State())
	assert.Zero(t, caster.count())
}

// Push is public API; several producers may feed the queue at once.
func TestWorkerConcurrentPush(t *testing.T) {
	caster := &captureCaster{}
	cfg := testWorkerConfig()
	w, err := NewWorker(cfg, caster, quietLogger())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				w.Push(make(SampleBatch, cfg.Bins))
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, w.queue.Size(), cfg.QueueCapacity)
	assert.GreaterOrEqual(t, w.highWater.Load(), int64(cfg.QueueCapacity))
}

func TestWorkerLifecycle(t *testing.T) {
	caster := &captureCaster{}
	w, err := NewWorker(testWorkerConfig(), caster, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, StateCreated, w.State())
	assert.Error(t, w.Stop(time.Second), "stop before start must fail")

	require.NoError(t, w.Start(context.Background()))
	assert.Equal(t, StateRunning, w.State())
	assert.Error(t, w.Start(context.Background()), "double start must fail")

	require.NoError(t, w.Stop(time.Second))
	assert.Equal(t, StateTerminated, w.State())
	require.NoError(t, w.Stop(time.Second), "stop after terminate is a no-op")
}

func TestWorkerTuningReflectedInFrames(t *testing.T) {
	caster := &captureCaster{}
	w := startWorker(t, testWorkerConfig(), caster)

	w.SetCenter(7_100_000)
	w.SetSpan(200_000)
	assert.Equal(t, 7_100_000.0, w.Center())
	assert.Equal(t, 200_000.0, w.Span())

	w.AddSubscriber()
	fillQueue(w, 6, 8)
	require.Eventually(t, func() bool { return caster.count() > 0 },
		time.Second, 5*time.Millisecond)

	var frame Frame
	require.NoError(t, json.Unmarshal([]byte(caster.last()), &frame))
	assert.Equal(t, []float64{7_100_000}, frame.Center)
	assert.Equal(t, []float64{200_000}, frame.Span)
}

func TestWorkerRejectsNilBroadcaster(t *testing.T) {
	w, err := NewWorker(testWorkerConfig(), nil, quietLogger())
	require.NoError(t, err)
	assert.Error(t, w.Initialize())
}
