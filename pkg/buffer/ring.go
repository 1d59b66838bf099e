package buffer

import (
	"sync"

	"github.com/WRAN-OEVSV/IEEE802.22/errors"
)

// ring is a fixed-capacity circular buffer guarded by a single mutex.
type ring[T any] struct {
	mu    sync.RWMutex
	items []T
	cap   int
	count int
	head  int // next write position
	tail  int // next read position

	stats   *Statistics
	metrics *ringMetrics
	opts    *options[T]

	notFull *sync.Cond // Block policy only
	closed  bool
}

func newRing[T any](capacity int, opts *options[T]) (*ring[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *ringMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newRingMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newRing", "metrics registration")
		}
	}

	r := &ring[T]{
		items:   make([]T, capacity),
		cap:     capacity,
		stats:   NewStatistics(),
		metrics: metrics,
		opts:    opts,
	}
	r.notFull = sync.NewCond(&r.mu)
	return r, nil
}

// Write appends an item, applying the overflow policy when full. A drop
// callback, when configured, runs after the lock is released so it may
// call back into the buffer.
func (r *ring[T]) Write(item T) error {
	dropped, notify, err := r.writeLocked(item)
	if notify && r.opts.onDrop != nil {
		r.opts.onDrop(dropped)
	}
	return err
}

func (r *ring[T]) writeLocked(item T) (dropped T, notify bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return dropped, false, errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed")
	}

	if r.count == r.cap {
		switch r.opts.policy {
		case DropOldest:
			dropped = r.items[r.tail]
			notify = true
			r.tail = (r.tail + 1) % r.cap
			r.count--
			r.recordDrop()

		case DropNewest:
			r.recordDrop()
			return item, true, nil

		case Block:
			for r.count == r.cap && !r.closed {
				r.notFull.Wait()
			}
			if r.closed {
				return dropped, notify, errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write",
					"buffer closed during blocking wait")
			}
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.cap
	r.count++

	r.stats.Write()
	r.stats.UpdateSize(int64(r.count))
	if r.metrics != nil {
		r.metrics.recordWrite(r.count, r.cap)
	}
	return dropped, notify, nil
}

// Read removes and returns the head item.
func (r *ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.count == 0 {
		return zero, false
	}

	item := r.items[r.tail]
	r.items[r.tail] = zero // release reference for GC
	r.tail = (r.tail + 1) % r.cap
	r.count--

	r.stats.Read()
	r.stats.UpdateSize(int64(r.count))
	if r.metrics != nil {
		r.metrics.recordRead(r.count, r.cap)
	}
	r.notFull.Signal()
	return item, true
}

// Peek returns the head item without removing it.
func (r *ring[T]) Peek() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if r.count == 0 {
		return zero, false
	}
	r.stats.Peek()
	return r.items[r.tail], true
}

// Size returns the current number of items.
func (r *ring[T]) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Capacity returns the fixed capacity; no lock needed, it is immutable.
func (r *ring[T]) Capacity() int {
	return r.cap
}

// IsEmpty reports whether the buffer holds no items.
func (r *ring[T]) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count == 0
}

// Clear removes all items, delivering drop callbacks for each once the
// lock has been released.
func (r *ring[T]) Clear() {
	dropped := r.clearLocked()
	if r.opts.onDrop != nil {
		for _, item := range dropped {
			r.opts.onDrop(item)
		}
	}
}

func (r *ring[T]) clearLocked() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []T
	if r.opts.onDrop != nil && r.count > 0 {
		dropped = make([]T, r.count)
		for i := 0; i < r.count; i++ {
			dropped[i] = r.items[(r.tail+i)%r.cap]
		}
	}

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.tail = 0
	r.count = 0

	r.stats.UpdateSize(0)
	if r.metrics != nil {
		r.metrics.updateSize(0, r.cap)
	}
	r.notFull.Broadcast()
	return dropped
}

// Stats returns the buffer's statistics tracker.
func (r *ring[T]) Stats() *Statistics {
	return r.stats
}

// Close marks the buffer closed and releases blocked writers.
func (r *ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.notFull.Broadcast()
	return nil
}

// recordDrop tracks an overflow eviction in stats and metrics.
// Caller holds r.mu.
func (r *ring[T]) recordDrop() {
	r.stats.Overflow()
	r.stats.Drop()
	if r.metrics != nil {
		r.metrics.recordOverflow()
		r.metrics.recordDrop()
	}
}
