// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package broker provides an in-memory implementation of
// code.hybscloud.com/meshrpc/broker.Conn for deterministic tests, standing
// in for a live NATS server (spec.md §8 scenarios S1, S2, S5, S6). [EXPANSION]
//
// Grounded on the broker.Conn contract itself (spec.md §6); this is not
// adapted from any one teacher file since hayabusa-cloud-framer has no
// broker of its own, but its synchronous, single-process design mirrors the
// fake-dependency style used throughout the example pack's own unit tests
// (construct an in-memory stand-in for an external system rather than a
// mock library).
package broker

import (
	"strconv"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/meshrpc/broker"
)

type subscription struct {
	subject string
	queue   string
	handler broker.Handler
}

// Fake is a single-process, synchronous broker.Conn: Publish dispatches to
// every matching subscription's handler on the calling goroutine before
// returning. Subject matching is exact (no NATS wildcard tokens) — sufficient
// for the fixed subjects meshrpc's own tests use.
type Fake struct {
	connected atomic.Bool

	mu      sync.Mutex
	next    uint64
	subs    map[uint64]*subscription
	inboxes uint64
}

// New constructs a Fake in the connected state.
func New() *Fake {
	f := &Fake{subs: make(map[uint64]*subscription)}
	f.connected.Store(true)
	return f
}

func (f *Fake) Connect() error {
	f.connected.Store(true)
	return nil
}

func (f *Fake) IsConnected() bool { return f.connected.Load() }

// Disconnect simulates the broker going away, used to exercise NotOpen
// error paths.
func (f *Fake) Disconnect() { f.connected.Store(false) }

func (f *Fake) Subscribe(subject, queue string, handler broker.Handler) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	sid := f.next
	f.subs[sid] = &subscription{subject: subject, queue: queue, handler: handler}
	return sid, nil
}

func (f *Fake) Unsubscribe(sid uint64) error {
	f.mu.Lock()
	delete(f.subs, sid)
	f.mu.Unlock()
	return nil
}

// Publish dispatches data to every subscription whose subject matches
// exactly. Only one member of each queue group receives the message, as with
// NATS queue subscriptions; which member that is follows map iteration order
// and is not rotated between publishes.
func (f *Fake) Publish(subject string, data []byte, reply string) error {
	f.mu.Lock()
	var direct []*subscription
	byQueue := make(map[string][]*subscription)
	for _, s := range f.subs {
		if s.subject != subject {
			continue
		}
		if s.queue == "" {
			direct = append(direct, s)
		} else {
			byQueue[s.queue] = append(byQueue[s.queue], s)
		}
	}
	f.mu.Unlock()

	msg := &broker.Message{Subject: subject, Reply: reply, Data: data}
	for _, s := range direct {
		s.handler(msg)
	}
	for _, group := range byQueue {
		group[0].handler(msg)
	}
	return nil
}

func (f *Fake) Flush() error { return nil }

func (f *Fake) Close() error {
	f.connected.Store(false)
	return nil
}

func (f *Fake) NewInbox() string {
	id := atomic.AddUint64(&f.inboxes, 1)
	return "_INBOX.fake." + strconv.FormatUint(id, 10)
}
