// Package metric manages Prometheus metrics for the telemetry fan-out
// service: a private registry with core service metrics, per-component
// registration, and the /metrics HTTP endpoint.
package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/WRAN-OEVSV/IEEE802.22/errors"
)

// Registry manages the registration and lifecycle of metrics.
type Registry struct {
	promRegistry *prometheus.Registry
	Core         *Core
	registered   map[string]prometheus.Collector
	mu           sync.Mutex
}

// NewRegistry creates a metrics registry with core service metrics and
// Go runtime collectors pre-registered.
func NewRegistry() *Registry {
	promRegistry := prometheus.NewRegistry()

	r := &Registry{
		promRegistry: promRegistry,
		Core:         NewCore(),
		registered:   make(map[string]prometheus.Collector),
	}
	r.Core.register(promRegistry)

	r.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.promRegistry
}

// register adds a collector under component.name, rejecting duplicates.
func (r *Registry) register(component, name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)
	if _, exists := r.registered[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for component %s", name, component),
			"Registry", "register", "duplicate metric registration")
	}

	if err := r.promRegistry.Register(c); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "Registry", "register",
				fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return errors.WrapFatal(err, "Registry", "register",
			"register collector with prometheus")
	}

	r.registered[key] = c
	return nil
}

// RegisterCounter registers a counter metric for a component.
func (r *Registry) RegisterCounter(component, name string, counter prometheus.Counter) error {
	return r.register(component, name, counter)
}

// RegisterGauge registers a gauge metric for a component.
func (r *Registry) RegisterGauge(component, name string, gauge prometheus.Gauge) error {
	return r.register(component, name, gauge)
}

// RegisterHistogram registers a histogram metric for a component.
func (r *Registry) RegisterHistogram(component, name string, histogram prometheus.Histogram) error {
	return r.register(component, name, histogram)
}

// RegisterCounterVec registers a counter vector metric for a component.
func (r *Registry) RegisterCounterVec(component, name string, vec *prometheus.CounterVec) error {
	return r.register(component, name, vec)
}

// RegisterGaugeVec registers a gauge vector metric for a component.
func (r *Registry) RegisterGaugeVec(component, name string, vec *prometheus.GaugeVec) error {
	return r.register(component, name, vec)
}

// Unregister removes a metric from the registry.
func (r *Registry) Unregister(component, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)
	c, exists := r.registered[key]
	if !exists {
		return false
	}

	ok := r.promRegistry.Unregister(c)
	if ok {
		delete(r.registered, key)
	}
	return ok
}
