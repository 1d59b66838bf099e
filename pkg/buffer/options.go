package buffer

import (
	"github.com/WRAN-OEVSV/IEEE802.22/metric"
)

// Option configures buffer behavior using the functional options pattern.
type Option[T any] func(*options[T])

// options holds internal configuration for buffer instances.
type options[T any] struct {
	policy OverflowPolicy
	onDrop DropCallback[T]

	// metricsReg is optional; when set, buffer stats are also exposed as
	// Prometheus metrics labeled with metricsPrefix.
	metricsReg    *metric.Registry
	metricsPrefix string
}

// WithOverflowPolicy sets the overflow behavior for the buffer.
// Defaults to DropOldest if not specified.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *options[T]) {
		o.policy = policy
	}
}

// WithMetrics enables Prometheus metrics export for buffer statistics.
// A nil registry or empty prefix disables the option.
func WithMetrics[T any](registry *metric.Registry, prefix string) Option[T] {
	return func(o *options[T]) {
		if registry != nil && prefix != "" {
			o.metricsReg = registry
			o.metricsPrefix = prefix
		}
	}
}

// WithDropCallback sets a callback invoked with each dropped item.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(o *options[T]) {
		o.onDrop = callback
	}
}

func applyOptions[T any](opts ...Option[T]) *options[T] {
	o := &options[T]{
		policy: DropOldest,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
