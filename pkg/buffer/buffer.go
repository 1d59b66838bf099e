// Package buffer provides a generic, thread-safe ring buffer with
// configurable overflow policies.
//
// Two spots in the service sit on one of these rings: the per-connection
// outbound payload queue (DropOldest, so a slow client sheds its oldest
// frames instead of growing without bound) and the spectrum pipeline's
// inbound sample queue. Statistics are always collected; Prometheus export
// is optional via WithMetrics().
package buffer

// Buffer is a generic FIFO buffer. Implementations are safe for concurrent
// use from multiple goroutines.
type Buffer[T any] interface {
	// Write appends an item at the tail. Behavior when the buffer is full
	// depends on the overflow policy.
	Write(item T) error

	// Read removes and returns the item at the head.
	// Returns the zero value and false if the buffer is empty.
	Read() (T, bool)

	// Peek returns the item at the head without removing it.
	// Returns the zero value and false if the buffer is empty.
	Peek() (T, bool)

	// Size returns the current number of buffered items.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// IsEmpty reports whether the buffer holds no items.
	IsEmpty() bool

	// Clear removes all items.
	Clear()

	// Stats returns the buffer's operation statistics.
	Stats() *Statistics

	// Close shuts the buffer down; subsequent writes fail and blocked
	// writers are released.
	Close() error
}

// OverflowPolicy defines how Write behaves when the buffer is full.
type OverflowPolicy int

const (
	// DropOldest evicts the head item to make room for the new one.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the incoming item.
	DropNewest

	// Block makes Write wait until space is available.
	Block
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// DropCallback is invoked with each item discarded by an overflow policy
// or by Clear.
type DropCallback[T any] func(item T)

// NewRing creates a ring buffer with the given capacity. Statistics are
// always collected; everything else is configured via functional options.
// Returns an error only if Prometheus metric registration fails.
func NewRing[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newRing(capacity, opts)
}
