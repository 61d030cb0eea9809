// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package httptransport implements the stateless HTTP unary transport of
// spec.md §4.7.2: POST a base64-encoded frame, enforce a hard cancellation
// deadline, and decode the response per the same 4-byte length-prefix /
// empty-reply-sentinel convention every other transport uses.
//
// Built on net/http directly: a single POST-with-base64-body call does not
// warrant a third-party HTTP client framework (see DESIGN.md for the stdlib
// justification).
package httptransport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"code.hybscloud.com/meshrpc"
	"code.hybscloud.com/meshrpc/transport"
)

const (
	contentTypeHeader             = "content-type"
	contentTransferEncodingHeader = "content-transfer-encoding"
	acceptHeader                  = "accept"
	payloadLimitHeader            = "x-frugal-payload-limit"

	meshrpcMediaType = "application/x-frugal"
)

var errInvalidFrame = errors.New("httptransport: response body shorter than the 4-byte length prefix")

func httpStatusError(code int) error {
	return fmt.Errorf("httptransport: unexpected status %d", code)
}

// Transport is a stateless client transport that POSTs to a single URL.
// is_open always reports true; open/close are no-ops (§4.7.2).
type Transport struct {
	*transport.Base

	client *http.Client
	url    string
}

// New constructs a Transport posting to url. client may be nil, in which
// case http.DefaultClient is used.
func New(url string, client *http.Client, opts ...transport.Option) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	return &Transport{Base: transport.NewBase(opts...), client: client, url: url}
}

// IsOpen always returns true: the HTTP transport holds no persistent
// connection state (§4.7.2).
func (t *Transport) IsOpen() bool { return true }

// Open is a no-op.
func (t *Transport) Open() error { return nil }

// Close is a no-op.
func (t *Transport) Close() error { return nil }

// Oneway POSTs frame and discards the response body, still surfacing
// transport-layer failures (§4.7).
func (t *Transport) Oneway(goCtx context.Context, ctx *meshrpc.Context, frame []byte) error {
	_, err := t.roundTrip(goCtx, ctx, frame)
	return err
}

// Request POSTs frame and returns the decoded reply frame, enforcing
// ctx.TimeoutMillis as a hard cancellation deadline (§4.7.2).
func (t *Transport) Request(goCtx context.Context, ctx *meshrpc.Context, frame []byte) ([]byte, error) {
	return t.roundTrip(goCtx, ctx, frame)
}

func (t *Transport) roundTrip(goCtx context.Context, ctx *meshrpc.Context, frame []byte) ([]byte, error) {
	if err := t.PreflightCheck(frame); err != nil {
		return nil, err
	}

	deadlineCtx := goCtx
	if ms := ctx.TimeoutMillis(); ms > 0 {
		var cancel context.CancelFunc
		deadlineCtx, cancel = context.WithTimeout(goCtx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}

	encoded := base64.StdEncoding.EncodeToString(frame)
	req, err := http.NewRequestWithContext(deadlineCtx, http.MethodPost, t.url, strings.NewReader(encoded))
	if err != nil {
		return nil, meshrpc.NewTransportException(meshrpc.TransportUnknown, err)
	}
	req.Header.Set(contentTypeHeader, meshrpcMediaType)
	req.Header.Set(contentTransferEncodingHeader, "base64")
	req.Header.Set(acceptHeader, meshrpcMediaType)
	if limit := t.ResponseCapacity(); limit > 0 {
		req.Header.Set(payloadLimitHeader, strconv.Itoa(limit))
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		if deadlineCtx.Err() != nil {
			t.Metrics().ObserveRequestDuration("http", "timeout", time.Since(start).Seconds())
			return nil, meshrpc.NewTransportException(meshrpc.TransportTimedOut, err)
		}
		t.Metrics().ObserveRequestDuration("http", "error", time.Since(start).Seconds())
		return nil, meshrpc.NewTransportException(meshrpc.TransportUnknown, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Metrics().ObserveRequestDuration("http", "error", time.Since(start).Seconds())
		return nil, meshrpc.NewTransportException(meshrpc.TransportUnknown, err)
	}

	if resp.StatusCode == http.StatusRequestEntityTooLarge {
		t.Metrics().ObserveRequestDuration("http", "too_large", time.Since(start).Seconds())
		return nil, meshrpc.NewTransportException(meshrpc.TransportResponseTooLarge, nil)
	}
	if resp.StatusCode >= 300 {
		t.Metrics().ObserveRequestDuration("http", "error", time.Since(start).Seconds())
		return nil, meshrpc.NewTransportException(meshrpc.TransportUnknown, httpStatusError(resp.StatusCode))
	}

	decoded, err := base64.StdEncoding.DecodeString(string(body))
	if err != nil {
		t.Metrics().ObserveRequestDuration("http", "error", time.Since(start).Seconds())
		return nil, meshrpc.NewTransportException(meshrpc.TransportUnknown, err)
	}

	if len(decoded) < 4 {
		t.Metrics().ObserveRequestDuration("http", "error", time.Since(start).Seconds())
		return nil, meshrpc.NewTransportException(meshrpc.TransportUnknown, errInvalidFrame)
	}
	if meshrpc.IsEmptyReplySentinel(decoded) {
		t.Metrics().ObserveRequestDuration("http", "ok", time.Since(start).Seconds())
		return nil, nil
	}

	reply, err := meshrpc.StripLengthPrefix(decoded)
	t.Metrics().ObserveRequestDuration("http", outcomeOf(err), time.Since(start).Seconds())
	return reply, err
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
