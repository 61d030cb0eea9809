// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transport provides the shared client transport contract described
// in spec.md §4.7: is_open/open/close/oneway/request/preflight_check. Base
// implements the parts common to every concrete transport (open/closed
// state, capacity limits, metrics, logging); natsrequest, httptransport, and
// natsscope each embed Base and add their own send/receive machinery.
//
// The functional-options construction pattern is grounded on
// hayabusa-cloud-framer's options.go (WithXxx constructors mutating an
// Options struct captured by a closure).
package transport

import (
	"sync"

	"go.uber.org/zap"

	"code.hybscloud.com/meshrpc"
	"code.hybscloud.com/meshrpc/log"
	"code.hybscloud.com/meshrpc/metrics"
)

// Base holds the state and configuration common to every client transport
// (§4.7). It is not itself a usable transport: concrete transports embed it
// and implement Open/Close/Oneway/Request against their own broker or HTTP
// client.
type Base struct {
	mu   sync.Mutex
	open bool

	requestCapacity  int
	responseCapacity int

	metrics *metrics.Collectors
	logger  *zap.Logger
}

// Option configures a Base at construction time.
type Option func(*Base)

// WithRequestCapacity bounds outgoing payload size; PreflightCheck fails
// with ErrMessageTooLarge above this many bytes. Zero (the default) means
// unlimited (§4.7).
func WithRequestCapacity(n int) Option {
	return func(b *Base) { b.requestCapacity = n }
}

// WithResponseCapacity sets the reply size limit a transport advertises,
// used by httptransport's x-frugal-payload-limit header. Zero means
// unlimited.
func WithResponseCapacity(n int) Option {
	return func(b *Base) { b.responseCapacity = n }
}

// WithMetrics attaches Prometheus collectors. A nil value (the default)
// disables collection.
func WithMetrics(c *metrics.Collectors) Option {
	return func(b *Base) { b.metrics = c }
}

// WithLogger attaches a structured logger. A nil value (the default) is
// replaced by log.Nop.
func WithLogger(l *zap.Logger) Option {
	return func(b *Base) { b.logger = l }
}

// NewBase constructs a Base with the given options applied over sensible
// defaults (unlimited capacities, nil metrics, a no-op logger).
func NewBase(opts ...Option) *Base {
	b := &Base{logger: log.Nop}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = log.Nop
	}
	return b
}

// IsOpen reports whether the transport has been successfully opened and not
// yet closed (§4.7).
func (b *Base) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// SetOpen updates the open/closed flag. Concrete transports call this from
// their own Open/Close after performing the broker- or HTTP-specific work.
func (b *Base) SetOpen(v bool) {
	b.mu.Lock()
	b.open = v
	b.mu.Unlock()
}

// RequestCapacity returns the configured outgoing size limit (0 = unlimited).
func (b *Base) RequestCapacity() int { return b.requestCapacity }

// ResponseCapacity returns the configured reply size limit (0 = unlimited).
func (b *Base) ResponseCapacity() int { return b.responseCapacity }

// Metrics returns the attached collectors, possibly nil.
func (b *Base) Metrics() *metrics.Collectors { return b.metrics }

// Logger returns the attached logger, never nil.
func (b *Base) Logger() *zap.Logger { return b.logger }

// PreflightCheck fails with ErrMessageTooLarge if a request capacity is
// configured and payload exceeds it (§4.7).
func (b *Base) PreflightCheck(payload []byte) error {
	if b.requestCapacity > 0 && len(payload) > b.requestCapacity {
		return meshrpc.ErrMessageTooLarge
	}
	return nil
}
