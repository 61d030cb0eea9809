// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package meshrpc

import (
	"encoding/hex"
	"strconv"

	"github.com/google/uuid"
)

// Reserved header keys. Writes to these through the public setters are
// silently ignored (§3, §8 invariant 8); they are set by the constructor, the
// registry, SetTimeoutMillis, and the header-decoding paths
// (DecodeContextFrame and the protocol wrapper's header readers).
const (
	headerCorrelationID = "_cid"
	headerOpID          = "_opid"
	headerTimeout       = "_timeout"
)

// DefaultTimeoutMillis is the per-call timeout a freshly constructed Context
// carries absent an explicit override (§3, §9 Open Question: the source
// carries three inconsistent defaults; 5000ms is the one spec.md adopts).
const DefaultTimeoutMillis = 5000

// Context is the mutable per-request metadata carrier described in §3. A
// Context may be reused sequentially but is not safe for concurrent use by
// two in-flight calls — reusing it for a new call reassigns its op id (§5,
// §9).
type Context struct {
	correlationID string
	opID          uint64

	requestHeaders  Headers
	responseHeaders Headers
}

// NewContext constructs a Context. An empty correlationID generates a fresh
// 128-bit identifier rendered as 32 lowercase hex characters (§3). The
// constructor stamps "_cid", "_timeout" (decimal string,
// DefaultTimeoutMillis), and an initial "_opid" of "0" into request headers.
func NewContext(correlationID string) *Context {
	if correlationID == "" {
		correlationID = newCorrelationID()
	}
	ctx := &Context{
		correlationID:   correlationID,
		opID:            0,
		requestHeaders:  make(Headers),
		responseHeaders: make(Headers),
	}
	ctx.requestHeaders[headerCorrelationID] = correlationID
	ctx.requestHeaders[headerTimeout] = strconv.Itoa(DefaultTimeoutMillis)
	ctx.requestHeaders[headerOpID] = "0"
	return ctx
}

// newCorrelationID renders a fresh random 128-bit identifier as 32 lowercase
// hex characters — not the dashed canonical UUID string form.
func newCorrelationID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// CorrelationID returns the context's correlation id. It is read-only after
// construction (§4.2).
func (c *Context) CorrelationID() string { return c.correlationID }

// OpID returns the op id currently assigned to this context. Zero until the
// registry assigns one via register.
func (c *Context) OpID() uint64 { return c.opID }

// setOpID is called only by the registry on (re-)registration (§4.5).
func (c *Context) setOpID(id uint64) {
	c.opID = id
	c.requestHeaders[headerOpID] = strconv.FormatUint(id, 10)
}

// TimeoutMillis returns the per-call timeout in milliseconds.
func (c *Context) TimeoutMillis() int64 {
	v, err := strconv.ParseInt(c.requestHeaders[headerTimeout], 10, 64)
	if err != nil {
		return DefaultTimeoutMillis
	}
	return v
}

// SetTimeoutMillis sets the per-call timeout. Zero is only meaningful to the
// publisher path ("no per-call timeout"); the request path requires a
// positive timeout (§3).
func (c *Context) SetTimeoutMillis(ms int64) {
	c.requestHeaders[headerTimeout] = strconv.FormatInt(ms, 10)
}

// RequestHeader returns a request header value and whether it was set.
func (c *Context) RequestHeader(key string) (string, bool) {
	v, ok := c.requestHeaders[key]
	return v, ok
}

// SetRequestHeader sets a request header. Writes to reserved keys ("_cid",
// "_opid", "_timeout") are silently ignored (§3, §8 invariant 8).
func (c *Context) SetRequestHeader(key, value string) {
	if isReservedHeader(key) {
		return
	}
	c.requestHeaders[key] = value
}

// RequestHeaders returns a copy of all request headers.
func (c *Context) RequestHeaders() Headers { return cloneHeaders(c.requestHeaders) }

// ResponseHeader returns a response header value and whether it was set.
func (c *Context) ResponseHeader(key string) (string, bool) {
	v, ok := c.responseHeaders[key]
	return v, ok
}

// SetResponseHeader sets a response header. Writes to reserved keys are
// silently ignored.
func (c *Context) SetResponseHeader(key, value string) {
	if isReservedHeader(key) {
		return
	}
	c.responseHeaders[key] = value
}

// ResponseHeaders returns a copy of all response headers.
func (c *Context) ResponseHeaders() Headers { return cloneHeaders(c.responseHeaders) }

func isReservedHeader(key string) bool {
	switch key {
	case headerCorrelationID, headerOpID, headerTimeout:
		return true
	default:
		return false
	}
}

func cloneHeaders(h Headers) Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// DecodeContextFrame decodes a header frame from the start of frame and
// constructs a Context from it, mirroring Wrapper.ReadRequestHeaders but
// operating on an already-buffered byte slice rather than an io.ReadWriter.
// Used by transports that receive a whole message at once (e.g.
// meshrpc/transport/natsscope, reconstructing the publisher's context for
// each delivered event per §4.7.3). Returns the decoded Context and the
// bytes of frame following the header block.
func DecodeContextFrame(frame []byte) (ctx *Context, rest []byte, err error) {
	headers, consumed, err := decodeHeaders(frame, 0)
	if err != nil {
		return nil, nil, err
	}
	ctx = NewContext(headers[headerCorrelationID])
	for k, v := range headers {
		ctx.requestHeaders[k] = v
	}
	return ctx, frame[consumed:], nil
}

// Clone allocates a fresh Context carrying the same correlation id, request
// headers (sans "_opid", which the registry will reassign), timeout, and an
// empty set of response headers. Implementations may use this to reuse a
// logical call across retries without fighting the "not safe for concurrent
// reuse" invariant (§9 design note on context reuse).
func (c *Context) Clone() *Context {
	clone := NewContext(c.correlationID)
	for k, v := range c.requestHeaders {
		if !isReservedHeader(k) {
			clone.requestHeaders[k] = v
		}
	}
	clone.SetTimeoutMillis(c.TimeoutMillis())
	return clone
}
