// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package natsserver implements the NATS-subscribed server of spec.md §4.8:
// subscribe one or more subjects, dispatch each inbound message to a
// processor, and publish the reply unless it is the oneway sentinel.
package natsserver

import (
	"encoding/binary"
	"sync"

	"go.uber.org/zap"

	"code.hybscloud.com/meshrpc"
	"code.hybscloud.com/meshrpc/broker"
	"code.hybscloud.com/meshrpc/log"
	"code.hybscloud.com/meshrpc/processor"
)

// natsMaxMessageSize is NATS's default maximum message size (1 MiB); used to
// bound both the accepted request size and the constructed reply buffer
// (§4.8 step 1-2).
const natsMaxMessageSize = 1024 * 1024

// Server subscribes to one or more subjects on a broker connection and
// dispatches each message to a processor (§4.8).
type Server struct {
	conn      broker.Conn
	subjects  []string
	queue     string
	proc      *processor.Base
	logger    *zap.Logger
	sids      []uint64
	stopOnce  sync.Once
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// New constructs a Server. queue may be empty for no queue group.
func New(conn broker.Conn, proc *processor.Base, queue string, logger *zap.Logger, subjects ...string) *Server {
	if logger == nil {
		logger = log.Nop
	}
	return &Server{
		conn:     conn,
		subjects: subjects,
		queue:    queue,
		proc:     proc,
		logger:   log.WithComponent(logger, "natsserver"),
	}
}

// Serve subscribes every configured subject (with the queue group) and
// blocks until Stop releases it (§4.8).
func (s *Server) Serve() error {
	s.stopCh = make(chan struct{})
	s.stoppedCh = make(chan struct{})
	for _, subject := range s.subjects {
		sid, err := s.conn.Subscribe(subject, s.queue, s.onMessage)
		if err != nil {
			for _, prior := range s.sids {
				_ = s.conn.Unsubscribe(prior)
			}
			close(s.stoppedCh)
			return meshrpc.NewTransportException(meshrpc.TransportUnknown, err)
		}
		s.sids = append(s.sids, sid)
	}
	<-s.stopCh
	close(s.stoppedCh)
	return nil
}

// Stop unsubscribes every subject and releases the goroutine blocked in
// Serve (§4.8). Safe to call more than once; only the first call acts.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		for _, sid := range s.sids {
			_ = s.conn.Unsubscribe(sid)
		}
		s.sids = nil
		if s.stopCh != nil {
			close(s.stopCh)
			<-s.stoppedCh
		}
	})
}

// onMessage implements the per-message handling of §4.8:
//  1. reject (log, drop) if there is no reply subject, or the declared
//     length exceeds NATS_MAX_MESSAGE_SIZE-4;
//  2. strip the length prefix;
//  3. hand the remaining bytes to the processor;
//  4. publish the processor's reply unless it is exactly the oneway
//     sentinel.
func (s *Server) onMessage(m *broker.Message) {
	if m.Reply == "" {
		s.logger.Warn("dropping message with no reply subject", zap.String("subject", m.Subject))
		return
	}
	if len(m.Data) < 4 {
		s.logger.Warn("dropping undersized message", zap.String("subject", m.Subject))
		return
	}
	declared := binary.BigEndian.Uint32(m.Data[0:4])
	if declared > natsMaxMessageSize-4 {
		s.logger.Warn("dropping oversized message", zap.String("subject", m.Subject), zap.Uint32("declared_len", declared))
		return
	}

	body, err := meshrpc.StripLengthPrefix(m.Data)
	if err != nil {
		s.logger.Warn("dropping malformed message", zap.String("subject", m.Subject), zap.Error(err))
		return
	}

	reply, err := s.proc.Process(body, natsMaxMessageSize)
	if err != nil {
		s.logger.Warn("processor dropped response", zap.String("subject", m.Subject), zap.Error(err))
		return
	}
	if meshrpc.IsEmptyReplySentinel(reply) {
		return
	}
	if err := s.conn.Publish(m.Reply, reply, ""); err != nil {
		s.logger.Warn("failed to publish reply", zap.String("reply_subject", m.Reply), zap.Error(err))
	}
}
