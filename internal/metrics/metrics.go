// Package metrics exposes Prometheus collectors for provider calls and store writes.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "scene"

// Metrics groups the collectors shared by the provider gateway and the state layer.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	providerRequests *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	imageFallbacks   prometheus.Counter
	storeWrites      *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the instance registered with the global Prometheus registry.
// Collectors are created once so repeated wiring does not panic on duplicate registration.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew registers a fresh set of collectors with reg and panics on failure.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		providerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "requests_total",
				Help:      "Outbound provider calls by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "request_duration_seconds",
				Help:      "Latency of outbound provider calls until response headers.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		imageFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "image",
				Name:      "fallbacks_total",
				Help:      "Image requests that were retried against the fallback provider.",
			},
		),
		storeWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "writes_total",
				Help:      "Document saves by outcome.",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(m.providerRequests, m.providerDuration, m.imageFallbacks, m.storeWrites)
	return m
}

// ObserveProvider records one provider call.
func (m *Metrics) ObserveProvider(provider string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(provider, outcome(err)).Inc()
	m.providerDuration.WithLabelValues(provider).Observe(time.Since(started).Seconds())
}

// IncImageFallback records a switch to the fallback image provider.
func (m *Metrics) IncImageFallback() {
	if m == nil {
		return
	}
	m.imageFallbacks.Inc()
}

// ObserveStoreWrite records one document save.
func (m *Metrics) ObserveStoreWrite(err error) {
	if m == nil {
		return
	}
	m.storeWrites.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
