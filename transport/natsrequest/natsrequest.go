// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package natsrequest implements the stateless NATS request transport of
// spec.md §4.7.1: a private inbox subscription multiplexes replies back to
// the registry by op id, matching many concurrent requests over one logical
// subscription.
package natsrequest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"code.hybscloud.com/meshrpc"
	"code.hybscloud.com/meshrpc/broker"
	"code.hybscloud.com/meshrpc/transport"
)

// Transport is a client transport over a NATS request/reply subject. One
// Transport instance owns exactly one inbox subscription and one Registry;
// Open must be called before Request/Oneway.
type Transport struct {
	*transport.Base

	conn    broker.Conn
	subject string
	inbox   string
	sid     uint64
	reg     *meshrpc.Registry
}

// New constructs a Transport that will publish to subject and multiplex
// replies through its own Registry.
func New(conn broker.Conn, subject string, opts ...transport.Option) *Transport {
	return &Transport{
		Base:    transport.NewBase(opts...),
		conn:    conn,
		subject: subject,
		reg:     meshrpc.NewRegistry(),
	}
}

// Open subscribes to a freshly generated private inbox and marks the
// transport open. Opening a second time fails with AlreadyOpen; opening
// while the broker is disconnected fails with NotOpen (§4.7.1).
func (t *Transport) Open() error {
	if t.IsOpen() {
		return meshrpc.NewTransportException(meshrpc.TransportAlreadyOpen, nil)
	}
	if !t.conn.IsConnected() {
		return meshrpc.NewTransportException(meshrpc.TransportNotOpen, nil)
	}
	t.inbox = t.conn.NewInbox()
	sid, err := t.conn.Subscribe(t.inbox, "", t.onMessage)
	if err != nil {
		return meshrpc.NewTransportException(meshrpc.TransportUnknown, err)
	}
	t.sid = sid
	t.SetOpen(true)
	return nil
}

// Close unsubscribes from the inbox and flushes the broker (§4.7.1).
func (t *Transport) Close() error {
	if !t.IsOpen() {
		return nil
	}
	t.SetOpen(false)
	if err := t.conn.Unsubscribe(t.sid); err != nil {
		return meshrpc.NewTransportException(meshrpc.TransportUnknown, err)
	}
	if err := t.conn.Flush(); err != nil {
		return meshrpc.NewTransportException(meshrpc.TransportUnknown, err)
	}
	return nil
}

// onMessage strips the incoming frame's 4-byte length prefix and hands the
// remainder to the registry, which routes it to the waiting caller by op id
// (§4.7.1, §4.5).
func (t *Transport) onMessage(m *broker.Message) {
	body, err := meshrpc.StripLengthPrefix(m.Data)
	if err != nil {
		t.Logger().Warn("natsrequest: dropping malformed reply frame", zap.Error(err))
		return
	}
	if err := t.reg.Execute(body); err != nil {
		t.Logger().Warn("natsrequest: registry execute failed", zap.Error(err))
	}
}

// Oneway publishes frame to the configured subject with no reply_to, never
// waiting for or expecting a response (§4.7).
func (t *Transport) Oneway(ctx *meshrpc.Context, frame []byte) error {
	if !t.IsOpen() {
		return meshrpc.NewTransportException(meshrpc.TransportNotOpen, nil)
	}
	if err := t.PreflightCheck(frame); err != nil {
		return err
	}
	start := time.Now()
	err := t.remap(t.conn.Publish(t.subject, frame, ""))
	t.Metrics().ObserveRequestDuration("natsrequest", outcome(err), time.Since(start).Seconds())
	return err
}

// Request publishes frame with reply_to = the transport's inbox, registers
// ctx in the registry, and blocks until a reply arrives, ctx.deadline
// elapses, or ctx.Done fires (§4.7, §4.7.1).
func (t *Transport) Request(goCtx context.Context, ctx *meshrpc.Context, frame []byte) ([]byte, error) {
	if !t.IsOpen() {
		return nil, meshrpc.NewTransportException(meshrpc.TransportNotOpen, nil)
	}
	if err := t.PreflightCheck(frame); err != nil {
		return nil, err
	}

	replyCh := make(chan []byte, 1)
	if err := t.reg.Register(ctx, func(body []byte) { replyCh <- body }); err != nil {
		return nil, err
	}
	t.Metrics().IncRegistered()
	t.Metrics().IncInflight()
	defer t.Metrics().DecInflight()

	start := time.Now()
	if err := t.remap(t.conn.Publish(t.subject, frame, t.inbox)); err != nil {
		t.reg.Unregister(ctx)
		t.Metrics().ObserveRequestDuration("natsrequest", outcome(err), time.Since(start).Seconds())
		return nil, err
	}

	// ctx.TimeoutMillis() <= 0 means no per-call timeout (§4.2): leave the
	// timer channel nil so that select case never fires.
	var timeoutCh <-chan time.Time
	if ms := ctx.TimeoutMillis(); ms > 0 {
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case body := <-replyCh:
		t.Metrics().ObserveRequestDuration("natsrequest", "ok", time.Since(start).Seconds())
		return body, nil
	case <-timeoutCh:
		t.reg.Unregister(ctx)
		t.Metrics().IncTimeouts()
		t.Metrics().ObserveRequestDuration("natsrequest", "timeout", time.Since(start).Seconds())
		return nil, &meshrpc.TimeoutException{OpID: ctx.OpID()}
	case <-goCtx.Done():
		t.reg.Unregister(ctx)
		t.Metrics().ObserveRequestDuration("natsrequest", "cancelled", time.Since(start).Seconds())
		return nil, goCtx.Err()
	}
}

// Registry exposes the transport's multiplexing registry, chiefly for
// tests asserting it returns to empty at quiescence (§8 scenario S1).
func (t *Transport) Registry() *meshrpc.Registry { return t.reg }

// remap wraps a broker error as TransportException(TransportUnknown) with the
// cause preserved (§4.7.1); an error that already is a TransportException is
// returned as it is.
func (t *Transport) remap(err error) error {
	if err == nil {
		return nil
	}
	var te *meshrpc.TransportException
	if errors.As(err, &te) {
		return te
	}
	return meshrpc.NewTransportException(meshrpc.TransportUnknown, err)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
