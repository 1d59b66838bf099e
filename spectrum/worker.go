package spectrum

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/WRAN-OEVSV/IEEE802.22/errors"
	"github.com/WRAN-OEVSV/IEEE802.22/metric"
	"github.com/WRAN-OEVSV/IEEE802.22/pkg/buffer"
)

const (
	// DefaultBins is the transform size.
	DefaultBins = 512

	// DefaultQueueLowWater is the inbound queue depth that must be
	// exceeded before a batch is dequeued. Keeping a few batches in hand
	// smooths over bursty sample delivery.
	DefaultQueueLowWater = 5

	// DefaultQueueCapacity bounds the inbound sample queue.
	DefaultQueueCapacity = 32

	// DefaultWaitTimeout paces idle pipeline cycles.
	DefaultWaitTimeout = 100 * time.Millisecond
)

// State is the worker lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopping
	StateTerminated
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Broadcaster delivers one encoded frame to every interested client.
type Broadcaster interface {
	Broadcast(payload string) int
}

// WorkerConfig holds the pipeline settings.
type WorkerConfig struct {
	// Bins is the transform size and the frame bin count.
	Bins int `json:"bins"`

	// CenterHz is the initial center frequency reported in frames.
	CenterHz float64 `json:"center_hz"`

	// SpanHz is the initial frequency span reported in frames.
	SpanHz float64 `json:"span_hz"`

	// QueueLowWater is the queue depth that must be exceeded before a
	// batch is dequeued.
	QueueLowWater int `json:"queue_low_water"`

	// QueueCapacity bounds the inbound sample queue.
	QueueCapacity int `json:"queue_capacity"`

	// WaitTimeout paces idle cycles.
	WaitTimeout time.Duration `json:"wait_timeout"`
}

// DefaultWorkerConfig returns the default pipeline settings.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Bins:          DefaultBins,
		CenterHz:      52_000_000,
		SpanHz:        2_000_000,
		QueueLowWater: DefaultQueueLowWater,
		QueueCapacity: DefaultQueueCapacity,
		WaitTimeout:   DefaultWaitTimeout,
	}
}

// Worker runs the spectral pipeline: it drains the inbound sample queue,
// estimates a power spectrum per batch, and broadcasts encoded frames.
// Frames are only computed while at least one subscriber is attached.
type Worker struct {
	cfg       WorkerConfig
	estimator Estimator
	caster    Broadcaster
	logger    *slog.Logger
	metrics   *metric.Core

	queue  buffer.Buffer[SampleBatch]
	notify chan struct{}

	// subscribers counts attached clients. The pipeline idles at zero.
	subscribers atomic.Int64

	state atomic.Int32

	// stopping is the advisory stop request; terminated confirms the
	// loop has exited. Both are always set together when the loop ends,
	// whatever the exit path.
	stopping   atomic.Bool
	terminated atomic.Bool

	// computeMu serializes spectrum estimation with tuning changes.
	computeMu sync.Mutex
	centerHz  float64
	spanHz    float64
	power     []float64

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}

	// highWater tracks the deepest queue depth seen; Push may be called
	// from multiple producers.
	highWater atomic.Int64
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithEstimator replaces the default periodogram estimator.
func WithEstimator(e Estimator) WorkerOption {
	return func(w *Worker) {
		if e != nil {
			w.estimator = e
		}
	}
}

// WithWorkerMetrics attaches core metrics to the worker.
func WithWorkerMetrics(core *metric.Core) WorkerOption {
	return func(w *Worker) {
		w.metrics = core
	}
}

// NewWorker creates a pipeline worker broadcasting through caster.
func NewWorker(cfg WorkerConfig, caster Broadcaster, logger *slog.Logger, options ...WorkerOption) (*Worker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Bins <= 0 {
		cfg.Bins = DefaultBins
	}
	if cfg.QueueLowWater < 0 {
		cfg.QueueLowWater = DefaultQueueLowWater
	}
	if cfg.QueueCapacity <= cfg.QueueLowWater {
		cfg.QueueCapacity = cfg.QueueLowWater + DefaultQueueCapacity
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}

	w := &Worker{
		cfg:       cfg,
		estimator: NewPeriodogram(),
		caster:    caster,
		logger:    logger.With("component", "spectrum.worker"),
		notify:    make(chan struct{}, 1),
		centerHz:  cfg.CenterHz,
		spanHz:    cfg.SpanHz,
		power:     make([]float64, cfg.Bins),
	}
	for _, opt := range options {
		opt(w)
	}

	queue, err := buffer.NewRing[SampleBatch](cfg.QueueCapacity,
		buffer.WithOverflowPolicy[SampleBatch](buffer.DropOldest),
	)
	if err != nil {
		return nil, errors.Wrap(err, "worker", "NewWorker", "create sample queue")
	}
	w.queue = queue
	w.state.Store(int32(StateCreated))
	return w, nil
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Stopping reports whether a stop has been requested.
func (w *Worker) Stopping() bool {
	return w.stopping.Load()
}

// Terminated reports whether the pipeline loop has exited.
func (w *Worker) Terminated() bool {
	return w.terminated.Load()
}

// Subscribers returns the current subscriber count.
func (w *Worker) Subscribers() int {
	return int(w.subscribers.Load())
}

// AddSubscriber attaches one frame consumer, waking the pipeline.
func (w *Worker) AddSubscriber() {
	w.subscribers.Add(1)
	w.wake()
}

// RemoveSubscriber detaches one frame consumer. Extra removes are
// clamped at zero so unpaired disconnect paths cannot go negative.
func (w *Worker) RemoveSubscriber() {
	for {
		n := w.subscribers.Load()
		if n == 0 {
			return
		}
		if w.subscribers.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Push enqueues one sample batch, evicting the oldest when full.
func (w *Worker) Push(batch SampleBatch) {
	if err := w.queue.Write(batch); err != nil {
		return
	}
	depth := int64(w.queue.Size())
	for {
		high := w.highWater.Load()
		if depth <= high {
			break
		}
		if w.highWater.CompareAndSwap(high, depth) {
			if w.metrics != nil {
				w.metrics.SampleQueueHigh.Set(float64(depth))
			}
			break
		}
	}
	w.wake()
}

func (w *Worker) wake() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Wait blocks until new input or a subscriber change arrives, or the pace
// timeout elapses.
func (w *Worker) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.notify:
		return true
	case <-timer.C:
		return false
	}
}

// SetCenter updates the center frequency reported in frames.
func (w *Worker) SetCenter(hz float64) {
	w.computeMu.Lock()
	w.centerHz = hz
	w.computeMu.Unlock()
}

// SetSpan updates the frequency span reported in frames.
func (w *Worker) SetSpan(hz float64) {
	w.computeMu.Lock()
	w.spanHz = hz
	w.computeMu.Unlock()
}

// Center returns the current center frequency.
func (w *Worker) Center() float64 {
	w.computeMu.Lock()
	defer w.computeMu.Unlock()
	return w.centerHz
}

// Span returns the current frequency span.
func (w *Worker) Span() float64 {
	w.computeMu.Lock()
	defer w.computeMu.Unlock()
	return w.spanHz
}

// Terminate requests the pipeline loop to stop. Advisory: the loop
// observes the flag at its next cycle.
func (w *Worker) Terminate() {
	w.stopping.Store(true)
	w.wake()
}

// Initialize validates the configuration.
func (w *Worker) Initialize() error {
	if w.caster == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "worker", "Initialize",
			"broadcaster cannot be nil")
	}
	if w.cfg.Bins <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "worker", "Initialize",
			fmt.Sprintf("invalid transform size %d", w.cfg.Bins))
	}
	return nil
}

// Start launches the pipeline loop.
func (w *Worker) Start(ctx context.Context) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.State() != StateCreated {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "worker", "Start",
			fmt.Sprintf("start from state %s", w.State()))
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "worker", "Start", "context cannot be nil")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	w.state.Store(int32(StateRunning))

	go w.run(runCtx, ctx)
	return nil
}

// Stop requests termination and waits for the loop to exit, up to the
// timeout.
func (w *Worker) Stop(timeout time.Duration) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	switch w.State() {
	case StateCreated:
		return errors.WrapInvalid(errors.ErrNotStarted, "worker", "Stop", "stop unstarted worker")
	case StateTerminated:
		return nil
	}

	w.state.Store(int32(StateStopping))
	w.Terminate()
	w.cancel()

	select {
	case <-w.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("pipeline did not exit within %s", timeout),
			"worker", "Stop", "wait for loop")
	}
}

// Done returns a channel closed once the pipeline loop has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) run(runCtx, parentCtx context.Context) {
	// Whatever ends the loop, panic included, both flags flip together
	// and the state lands on terminated.
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("pipeline loop panicked", "panic", r)
		}
		w.stopping.Store(true)
		w.terminated.Store(true)
		w.state.Store(int32(StateTerminated))
		close(w.done)
		w.logger.Info("pipeline terminated")
	}()

	w.logger.Info("pipeline running",
		"bins", w.cfg.Bins, "low_water", w.cfg.QueueLowWater, "queue_capacity", w.cfg.QueueCapacity)

	for {
		if w.stopping.Load() || runCtx.Err() != nil || parentCtx.Err() != nil {
			return
		}
		produced, err := w.cycle()
		if err != nil {
			// Estimator and encode failures are fatal for the pipeline:
			// the loop exits through the deferred teardown and the
			// supervisor decides whether to restart.
			w.logger.Error("pipeline failed", "error", err)
			return
		}
		if !produced {
			w.Wait(w.cfg.WaitTimeout)
		}
	}
}

// cycle runs one pipeline step. Returns true when a frame was produced,
// false when the step idled, and a non-nil error only for failures that
// must end the loop.
func (w *Worker) cycle() (bool, error) {
	if w.subscribers.Load() == 0 {
		w.skip("no_subscribers")
		return false, nil
	}
	if w.queue.Size() <= w.cfg.QueueLowWater {
		w.skip("queue_low")
		return false, nil
	}

	batch, ok := w.queue.Read()
	if !ok {
		w.skip("queue_low")
		return false, nil
	}
	if len(batch) < w.cfg.Bins {
		w.skip("short_batch")
		w.logger.Debug("batch shorter than transform size",
			"samples", len(batch), "bins", w.cfg.Bins)
		return false, nil
	}

	frame, err := w.compute(batch)
	if err != nil {
		return false, errors.WrapFatal(err, "worker", "cycle", "estimate spectrum")
	}

	payload, err := frame.Encode()
	if err != nil {
		return false, errors.WrapFatal(err, "worker", "cycle", "encode frame")
	}

	w.caster.Broadcast(payload)
	if w.metrics != nil {
		w.metrics.FramesBroadcast.Inc()
	}
	return true, nil
}

// compute estimates one spectrum under the tuning lock.
func (w *Worker) compute(batch SampleBatch) (Frame, error) {
	w.computeMu.Lock()
	defer w.computeMu.Unlock()

	start := time.Now()
	if err := w.estimator.Estimate(batch, w.power); err != nil {
		return Frame{}, err
	}
	if w.metrics != nil {
		w.metrics.FramesComputed.Inc()
		w.metrics.ComputeDuration.Observe(time.Since(start).Seconds())
	}
	return NewFrame(w.centerHz, w.spanHz, w.power), nil
}

func (w *Worker) skip(reason string) {
	if w.metrics != nil {
		w.metrics.BatchesSkipped.WithLabelValues(reason).Inc()
	}
}
