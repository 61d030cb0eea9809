// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package natsscope implements the NATS publish/subscribe transports of
// spec.md §4.7.3: topics are namespaced under the literal "frugal." subject
// prefix (§6), matching the wire convention the cross-language peers of this
// runtime also use — generated code may further structure topics beneath
// that prefix; the core passes the rest through unchanged.
package natsscope

import (
	"time"

	"go.uber.org/zap"

	"code.hybscloud.com/meshrpc"
	"code.hybscloud.com/meshrpc/broker"
	"code.hybscloud.com/meshrpc/transport"
)

// scopeSubjectPrefix is the literal wire-level subject prefix spec.md §4.7.3
// and §6 specify for every pub/sub topic. It is a protocol constant, not a
// naming choice: every cross-language peer of this runtime must agree on it
// byte for byte.
const scopeSubjectPrefix = "frugal."

// natsMaxPayload is NATS's default maximum message size (1 MiB) minus a
// small allowance for header/subject overhead (§4.7.3).
const natsMaxPayload = 1024*1024 - 256

func subjectFor(topic string) string { return scopeSubjectPrefix + topic }

// Publisher publishes framed events to a scope topic (§4.7.3).
type Publisher struct {
	*transport.Base
	conn broker.Conn
}

// NewPublisher constructs a Publisher over conn.
func NewPublisher(conn broker.Conn, opts ...transport.Option) *Publisher {
	return &Publisher{Base: transport.NewBase(opts...), conn: conn}
}

// Open requires the broker to be connected (§4.7.3).
func (p *Publisher) Open() error {
	if !p.conn.IsConnected() {
		return meshrpc.NewTransportException(meshrpc.TransportNotOpen, nil)
	}
	p.SetOpen(true)
	return nil
}

// Close marks the publisher closed; NATS publishers hold no subscription to
// release.
func (p *Publisher) Close() error {
	p.SetOpen(false)
	return nil
}

// Publish publishes payload to "frugal."+topic, failing with
// ErrMessageTooLarge if payload exceeds NATS's effective max message size
// (§4.7.3).
func (p *Publisher) Publish(topic string, payload []byte) error {
	if !p.IsOpen() {
		return meshrpc.NewTransportException(meshrpc.TransportNotOpen, nil)
	}
	if len(payload) > natsMaxPayload {
		return meshrpc.ErrMessageTooLarge
	}
	start := time.Now()
	err := p.conn.Publish(subjectFor(topic), payload, "")
	p.Metrics().ObserveRequestDuration("natsscope.publisher", outcome(err), time.Since(start).Seconds())
	if err != nil {
		return meshrpc.NewTransportException(meshrpc.TransportUnknown, err)
	}
	return nil
}

// EventHandler receives a reconstructed context and the codec body following
// the header block (§4.7.3).
type EventHandler func(ctx *meshrpc.Context, body []byte)

// Subscriber subscribes to a scope topic and reconstructs a Context from
// each incoming message's header block before delivering it (§4.7.3).
type Subscriber struct {
	*transport.Base
	conn  broker.Conn
	sid   uint64
	topic string
}

// NewSubscriber constructs a Subscriber over conn.
func NewSubscriber(conn broker.Conn, opts ...transport.Option) *Subscriber {
	return &Subscriber{Base: transport.NewBase(opts...), conn: conn}
}

// Subscribe subscribes to "frugal."+topic with the given queue group (empty
// string = no group), flushes the broker so the subscription is guaranteed
// active before returning, and delivers handler(ctx, body) for each message,
// where ctx is reconstructed from the message's leading header block
// (§4.7.3).
func (s *Subscriber) Subscribe(topic, queue string, handler EventHandler) error {
	subject := subjectFor(topic)
	sid, err := s.conn.Subscribe(subject, queue, func(m *broker.Message) {
		ctx, body, err := decodeEvent(m.Data)
		if err != nil {
			s.Logger().Warn("natsscope: dropping malformed event", zap.Error(err))
			return
		}
		handler(ctx, body)
	})
	if err != nil {
		return meshrpc.NewTransportException(meshrpc.TransportUnknown, err)
	}
	if err := s.conn.Flush(); err != nil {
		_ = s.conn.Unsubscribe(sid)
		return meshrpc.NewTransportException(meshrpc.TransportUnknown, err)
	}
	s.sid = sid
	s.topic = topic
	s.SetOpen(true)
	return nil
}

// Unsubscribe releases the subject subscription.
func (s *Subscriber) Unsubscribe() error {
	if !s.IsOpen() {
		return nil
	}
	s.SetOpen(false)
	return s.conn.Unsubscribe(s.sid)
}

// decodeEvent strips the message frame's 4-byte length prefix and decodes
// the header block, returning the reconstructed Context and the codec body
// following it (§3, §4.7.3).
func decodeEvent(data []byte) (*meshrpc.Context, []byte, error) {
	stripped, err := meshrpc.StripLengthPrefix(data)
	if err != nil {
		return nil, nil, err
	}
	return meshrpc.DecodeContextFrame(stripped)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
