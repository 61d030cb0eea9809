// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package broker defines the minimal broker contract the transports and
// server depend on (spec.md §6), and a concrete adapter over
// github.com/nats-io/nats.go. Depending on the interface rather than
// *nats.Conn directly lets meshrpc/internal/broker supply an in-memory fake
// for deterministic tests without a live NATS server.
package broker

import (
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
)

// Message is a single inbound delivery handed to a subscription's Handler.
type Message struct {
	Subject string
	Reply   string
	Data    []byte
}

// Handler processes one inbound Message.
type Handler func(msg *Message)

// Conn is the broker contract of spec.md §6: connect, is_connected,
// subscribe(subject, queue, callback) -> sid, unsubscribe(sid),
// publish(subject, data, reply=?), flush, close, new_inbox().
type Conn interface {
	Connect() error
	IsConnected() bool
	Subscribe(subject, queue string, handler Handler) (sid uint64, err error)
	Unsubscribe(sid uint64) error
	Publish(subject string, data []byte, reply string) error
	Flush() error
	Close() error
	NewInbox() string
}

// NATS adapts a *nats.Conn, dialed separately via nats.Connect, to the Conn
// contract above.
type NATS struct {
	conn *nats.Conn

	mu   sync.Mutex
	next atomic.Uint64
	subs map[uint64]*nats.Subscription
}

// NewNATS wraps an already-dialed *nats.Conn. The adapter's Connect is a
// no-op (dialing happens via nats.Connect before construction, matching how
// nats.go itself separates "connect" from "use"); Connect exists only to
// satisfy Conn and to surface ErrConnectionClosed if the wrapped connection
// was never established.
func NewNATS(conn *nats.Conn) *NATS {
	return &NATS{conn: conn, subs: make(map[uint64]*nats.Subscription)}
}

func (n *NATS) Connect() error {
	if n.conn == nil || n.conn.IsClosed() {
		return nats.ErrConnectionClosed
	}
	return nil
}

func (n *NATS) IsConnected() bool {
	return n.conn != nil && n.conn.IsConnected()
}

func (n *NATS) Subscribe(subject, queue string, handler Handler) (uint64, error) {
	cb := func(m *nats.Msg) {
		handler(&Message{Subject: m.Subject, Reply: m.Reply, Data: m.Data})
	}
	var sub *nats.Subscription
	var err error
	if queue != "" {
		sub, err = n.conn.QueueSubscribe(subject, queue, cb)
	} else {
		sub, err = n.conn.Subscribe(subject, cb)
	}
	if err != nil {
		return 0, err
	}
	sid := n.next.Add(1)
	n.mu.Lock()
	n.subs[sid] = sub
	n.mu.Unlock()
	return sid, nil
}

func (n *NATS) Unsubscribe(sid uint64) error {
	n.mu.Lock()
	sub, ok := n.subs[sid]
	if ok {
		delete(n.subs, sid)
	}
	n.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

func (n *NATS) Publish(subject string, data []byte, reply string) error {
	if reply == "" {
		return n.conn.Publish(subject, data)
	}
	return n.conn.PublishRequest(subject, reply, data)
}

func (n *NATS) Flush() error { return n.conn.Flush() }

func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}

func (n *NATS) NewInbox() string { return nats.NewInbox() }
