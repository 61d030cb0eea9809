// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics defines the Prometheus collectors described in
// SPEC_FULL.md §4.12. [EXPANSION] Non-goals exclude discovery and
// clustering but not observability, so this is carried as ambient
// infrastructure.
//
// Grounded on the nil-receiver-safe collector struct of
// marmos91-dittofs's internal/adapter/nlm/metrics.go: every method is
// a no-op on a nil *Collectors, so callers can pass NullCollectors()
// (or simply a nil pointer obtained from New(nil)) to disable
// collection entirely without branching at every call site.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles the runtime's Prometheus instrumentation. All methods
// are safe to call on a nil *Collectors.
type Collectors struct {
	RegistryInflight        prometheus.Gauge
	RegistryRegisteredTotal prometheus.Counter
	RegistryTimeoutsTotal   prometheus.Counter
	RequestDuration         *prometheus.HistogramVec
}

// New constructs and registers Collectors against reg. A nil reg disables
// collection: New returns nil, and every Collectors method tolerates a nil
// receiver.
func New(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		return nil
	}
	c := &Collectors{
		RegistryInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshrpc_registry_inflight",
			Help: "Number of requests currently awaiting a reply in the registry.",
		}),
		RegistryRegisteredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshrpc_registry_registered_total",
			Help: "Total number of contexts registered for a reply.",
		}),
		RegistryTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshrpc_registry_timeouts_total",
			Help: "Total number of registered calls that timed out awaiting a reply.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meshrpc_request_duration_seconds",
			Help:    "Client transport request/oneway call duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"transport", "outcome"}),
	}
	reg.MustRegister(
		c.RegistryInflight,
		c.RegistryRegisteredTotal,
		c.RegistryTimeoutsTotal,
		c.RequestDuration,
	)
	return c
}

// NullCollectors returns nil, which every Collectors method treats as a
// no-op. Spelled out for call sites that want an explicit name rather than a
// bare nil literal.
func NullCollectors() *Collectors { return nil }

func (c *Collectors) IncInflight() {
	if c == nil {
		return
	}
	c.RegistryInflight.Inc()
}

func (c *Collectors) DecInflight() {
	if c == nil {
		return
	}
	c.RegistryInflight.Dec()
}

func (c *Collectors) IncRegistered() {
	if c == nil {
		return
	}
	c.RegistryRegisteredTotal.Inc()
}

func (c *Collectors) IncTimeouts() {
	if c == nil {
		return
	}
	c.RegistryTimeoutsTotal.Inc()
}

func (c *Collectors) ObserveRequestDuration(transport, outcome string, seconds float64) {
	if c == nil {
		return
	}
	c.RequestDuration.WithLabelValues(transport, outcome).Observe(seconds)
}
