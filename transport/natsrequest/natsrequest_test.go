// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package natsrequest

import (
	"context"
	"errors"
	"testing"
	"time"

	"code.hybscloud.com/meshrpc"
	"code.hybscloud.com/meshrpc/broker"
	fakebroker "code.hybscloud.com/meshrpc/internal/broker"
)

// serveEcho subscribes to subject on conn and replies to every request with
// a frame carrying the same _opid and a fixed body, simulating a minimal
// server without going through the full processor stack.
func serveEcho(t *testing.T, conn broker.Conn, subject, replyBody string) {
	t.Helper()
	_, err := conn.Subscribe(subject, "", func(m *broker.Message) {
		stripped, err := meshrpc.StripLengthPrefix(m.Data)
		if err != nil {
			t.Errorf("server: StripLengthPrefix: %v", err)
			return
		}
		ctx, _, err := meshrpc.DecodeContextFrame(stripped)
		if err != nil {
			t.Errorf("server: DecodeContextFrame: %v", err)
			return
		}
		opID, _ := ctx.RequestHeader("_opid")

		out := meshrpc.NewOutputBuffer(0)
		headerBytes := encodeHeaderFrame(map[string]string{"_opid": opID})
		if _, err := out.Write(headerBytes); err != nil {
			t.Errorf("server: Write headers: %v", err)
			return
		}
		if _, err := out.Write([]byte(replyBody)); err != nil {
			t.Errorf("server: Write body: %v", err)
			return
		}
		if err := conn.Publish(m.Reply, out.Finish(), ""); err != nil {
			t.Errorf("server: Publish reply: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("server Subscribe: %v", err)
	}
}

func buildRequestFrame(ctx *meshrpc.Context, body string) []byte {
	out := meshrpc.NewOutputBuffer(0)
	_, _ = out.Write(encodeHeaderFrame(ctx.RequestHeaders()))
	_, _ = out.Write([]byte(body))
	return out.Finish()
}

// encodeHeaderFrame hand-builds a header frame from a plain map, matching
// the wire format header.go's unexported encodeHeaders produces — needed
// here because these tests play the role of a bare wire peer outside
// package meshrpc.
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

func TestNatsRequestOpenCloseLifecycle(t *testing.T) {
	conn := fakebroker.New()
	tr := New(conn, "svc")

	if tr.IsOpen() {
		t.Fatal("fresh transport should not be open")
	}
	if err := tr.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !tr.IsOpen() {
		t.Fatal("IsOpen() false after Open")
	}

	var ae *meshrpc.TransportException
	if err := tr.Open(); !errors.As(err, &ae) || ae.Kind != meshrpc.TransportAlreadyOpen {
		t.Fatalf("second Open() = %v, want TransportException(AlreadyOpen)", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if tr.IsOpen() {
		t.Fatal("IsOpen() true after Close")
	}
}

func TestNatsRequestOpenFailsWhenDisconnected(t *testing.T) {
	conn := fakebroker.New()
	conn.Disconnect()
	tr := New(conn, "svc")

	var te *meshrpc.TransportException
	if err := tr.Open(); !errors.As(err, &te) || te.Kind != meshrpc.TransportNotOpen {
		t.Fatalf("Open() on disconnected broker = %v, want TransportException(NotOpen)", err)
	}
}

func TestNatsRequestRoundTripAndRegistryDrainsAfter(t *testing.T) {
	conn := fakebroker.New()
	serveEcho(t, conn, "foo", "pong")

	tr := New(conn, "foo")
	if err := tr.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	ctx := meshrpc.NewContext("")
	ctx.SetTimeoutMillis(5000)
	frame := buildRequestFrame(ctx, "ping")

	reply, err := tr.Request(context.Background(), ctx, frame)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(reply) != "pong" {
		t.Fatalf("reply = %q, want %q", reply, "pong")
	}
	if tr.Registry().Len() != 0 {
		t.Fatalf("registry not empty after successful round trip: %d pending", tr.Registry().Len())
	}
}

func TestNatsRequestTimeoutUnregisters(t *testing.T) {
	conn := fakebroker.New()
	// No subscriber on "silent": the request will never receive a reply.

	tr := New(conn, "silent")
	if err := tr.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	ctx := meshrpc.NewContext("")
	ctx.SetTimeoutMillis(50)
	frame := buildRequestFrame(ctx, "ping")

	_, err := tr.Request(context.Background(), ctx, frame)
	var te *meshrpc.TimeoutException
	if !errors.As(err, &te) {
		t.Fatalf("Request() = %v, want TimeoutException", err)
	}
	if tr.Registry().Len() != 0 {
		t.Fatalf("registry not empty after timeout: %d pending", tr.Registry().Len())
	}
}

func TestNatsRequestOnewayDoesNotWaitForReply(t *testing.T) {
	conn := fakebroker.New()
	delivered := make(chan struct{}, 1)
	if _, err := conn.Subscribe("fireforget", "", func(m *broker.Message) {
		delivered <- struct{}{}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	tr := New(conn, "fireforget")
	if err := tr.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	ctx := meshrpc.NewContext("")
	frame := buildRequestFrame(ctx, "x")
	if err := tr.Oneway(ctx, frame); err != nil {
		t.Fatalf("Oneway: %v", err)
	}

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("oneway message was never delivered")
	}
}
