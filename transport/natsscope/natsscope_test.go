// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package natsscope

import (
	"errors"
	"testing"
	"time"

	"code.hybscloud.com/meshrpc"
	fakebroker "code.hybscloud.com/meshrpc/internal/broker"
)

// TestPubSubEcho implements spec.md §8 scenario S5: a subscriber on topic
// "test" receives an event published under the same correlation id, and the
// reconstructed context's correlation id matches the publisher's.
func TestPubSubEcho(t *testing.T) {
	conn := fakebroker.New()

	pub := NewPublisher(conn)
	if err := pub.Open(); err != nil {
		t.Fatalf("Publisher.Open: %v", err)
	}

	sub := NewSubscriber(conn)
	type delivery struct {
		ctx  *meshrpc.Context
		body []byte
	}
	received := make(chan delivery, 1)
	if err := sub.Subscribe("test", "", func(ctx *meshrpc.Context, body []byte) {
		received <- delivery{ctx, body}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ctx := meshrpc.NewContext("")
	frame := buildEventFrame(ctx, "Event(42, \"hi\")")
	if err := pub.Publish("test", frame); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case d := <-received:
		if d.ctx.CorrelationID() != ctx.CorrelationID() {
			t.Fatalf("delivered correlation id = %q, want %q", d.ctx.CorrelationID(), ctx.CorrelationID())
		}
		if string(d.body) != "Event(42, \"hi\")" {
			t.Fatalf("delivered body = %q, want %q", d.body, "Event(42, \"hi\")")
		}
	case <-time.After(time.Second):
		t.Fatal("event was never delivered")
	}
}

func TestPublisherRejectsOversizedPayload(t *testing.T) {
	conn := fakebroker.New()
	pub := NewPublisher(conn)
	if err := pub.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	oversized := make([]byte, natsMaxPayload+1)
	if err := pub.Publish("test", oversized); !errors.Is(err, meshrpc.ErrMessageTooLarge) {
		t.Fatalf("Publish(oversized) = %v, want ErrMessageTooLarge", err)
	}
}

func TestPublisherOpenRequiresConnectedBroker(t *testing.T) {
	conn := fakebroker.New()
	conn.Disconnect()
	pub := NewPublisher(conn)

	var te *meshrpc.TransportException
	if err := pub.Open(); !errors.As(err, &te) || te.Kind != meshrpc.TransportNotOpen {
		t.Fatalf("Open() on disconnected broker = %v, want TransportException(NotOpen)", err)
	}
}

func TestSubscriberUnsubscribeStopsDelivery(t *testing.T) {
	conn := fakebroker.New()
	sub := NewSubscriber(conn)
	var count int
	if err := sub.Subscribe("topic", "", func(ctx *meshrpc.Context, body []byte) { count++ }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	pub := NewPublisher(conn)
	_ = pub.Open()
	frame := buildEventFrame(meshrpc.NewContext(""), "x")
	if err := pub.Publish("topic", frame); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if count != 0 {
		t.Fatalf("delivered %d events after Unsubscribe, want 0", count)
	}
}

func buildEventFrame(ctx *meshrpc.Context, body string) []byte {
	out := meshrpc.NewOutputBuffer(0)
	_, _ = out.Write(encodeHeaderFrame(ctx.RequestHeaders()))
	_, _ = out.Write([]byte(body))
	return out.Finish()
}

func encodeHeaderFrame(headers map[string]string) []byte {
	var body []byte
	put32 := func(n int) {
		body = append(body, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
	for k, v := range headers {
		put32(len(k))
		body = append(body, k...)
		put32(len(v))
		body = append(body, v...)
	}
	out := make([]byte, 5+len(body))
	out[1], out[2], out[3], out[4] = byte(len(body)>>24), byte(len(body)>>16), byte(len(body)>>8), byte(len(body))
	copy(out[5:], body)
	return out
}
