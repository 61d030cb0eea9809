// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package processor_test

import (
	"bytes"
	"errors"
	"testing"

	"code.hybscloud.com/meshrpc"
	"code.hybscloud.com/meshrpc/codec/binary"
	"code.hybscloud.com/meshrpc/examples/pingservice"
	"code.hybscloud.com/meshrpc/processor"
)

func buildPingRequest(t *testing.T, name string, msgType meshrpc.MessageType, message string) []byte {
	t.Helper()
	out := meshrpc.NewOutputBuffer(0)
	w := meshrpc.NewWrapper(binary.Factory{}.GetProtocol(rawWriter{out}))
	ctx := meshrpc.NewContext("")
	if err := w.WriteRequestHeaders(ctx); err != nil {
		t.Fatalf("WriteRequestHeaders: %v", err)
	}
	if err := w.WriteMessageBegin(name, msgType, 1); err != nil {
		t.Fatalf("WriteMessageBegin: %v", err)
	}
	if err := w.WriteStructBegin("ping_args"); err != nil {
		t.Fatalf("WriteStructBegin: %v", err)
	}
	if err := w.WriteFieldBegin("message", meshrpc.FieldString, 1); err != nil {
		t.Fatalf("WriteFieldBegin: %v", err)
	}
	if err := w.WriteString(message); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := w.WriteFieldEnd(); err != nil {
		t.Fatalf("WriteFieldEnd: %v", err)
	}
	if err := w.WriteStructEnd(); err != nil {
		t.Fatalf("WriteStructEnd: %v", err)
	}
	if err := w.WriteMessageEnd(); err != nil {
		t.Fatalf("WriteMessageEnd: %v", err)
	}
	frame := out.Finish()
	stripped, err := meshrpc.StripLengthPrefix(frame)
	if err != nil {
		t.Fatalf("StripLengthPrefix: %v", err)
	}
	return stripped
}

func readPingReply(t *testing.T, reply []byte) (string, *meshrpc.ApplicationException) {
	t.Helper()
	in := meshrpc.NewWrapper(binary.Factory{}.GetProtocol(readOnly{bytes.NewReader(reply)}))
	ctx := meshrpc.NewContext("")
	if err := in.ReadResponseHeaders(ctx); err != nil {
		t.Fatalf("ReadResponseHeaders: %v", err)
	}
	_, msgType, _, err := in.ReadMessageBegin()
	if err != nil {
		t.Fatalf("ReadMessageBegin: %v", err)
	}
	if _, err := in.ReadStructBegin(); err != nil {
		t.Fatalf("ReadStructBegin: %v", err)
	}
	var str string
	var ae *meshrpc.ApplicationException
	var kind meshrpc.ApplicationExceptionKind
	var msg string
	for {
		_, fieldType, fieldID, err := in.ReadFieldBegin()
		if err != nil {
			t.Fatalf("ReadFieldBegin: %v", err)
		}
		if fieldType == meshrpc.FieldStop {
			break
		}
		if msgType == meshrpc.MessageException {
			switch fieldID {
			case 1:
				v, err := in.ReadI32()
				if err != nil {
					t.Fatalf("ReadI32: %v", err)
				}
				kind = meshrpc.ApplicationExceptionKind(v)
			case 2:
				v, err := in.ReadString()
				if err != nil {
					t.Fatalf("ReadString: %v", err)
				}
				msg = v
			}
		} else {
			v, err := in.ReadString()
			if err != nil {
				t.Fatalf("ReadString: %v", err)
			}
			str = v
		}
		if err := in.ReadFieldEnd(); err != nil {
			t.Fatalf("ReadFieldEnd: %v", err)
		}
	}
	if err := in.ReadStructEnd(); err != nil {
		t.Fatalf("ReadStructEnd: %v", err)
	}
	if msgType == meshrpc.MessageException {
		ae = meshrpc.NewApplicationException(kind, msg)
	}
	return str, ae
}

func TestProcessSuccessfulReply(t *testing.T) {
	proc := processor.New(binary.Factory{}, nil)
	pingservice.RegisterServer(proc, func(ctx *meshrpc.Context, message string) (string, error) {
		return "pong: " + message, nil
	})

	req := buildPingRequest(t, pingservice.MethodPing, meshrpc.MessageCall, "hi")
	reply, err := proc.Process(req, 0)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	result, ae := readPingReply(t, reply)
	if ae != nil {
		t.Fatalf("unexpected exception reply: %+v", ae)
	}
	if result != "pong: hi" {
		t.Fatalf("result = %q, want %q", result, "pong: hi")
	}
}

func TestProcessUnknownMethod(t *testing.T) {
	proc := processor.New(binary.Factory{}, nil)
	req := buildPingRequest(t, "does_not_exist", meshrpc.MessageCall, "hi")
	reply, err := proc.Process(req, 0)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	_, ae := readPingReply(t, reply)
	if ae == nil || ae.Kind != meshrpc.AppUnknownMethod {
		t.Fatalf("reply exception = %+v, want AppUnknownMethod", ae)
	}
}

func TestProcessOnewayProducesSentinelOnly(t *testing.T) {
	proc := processor.New(binary.Factory{}, nil)
	called := make(chan struct{}, 1)
	pingservice.RegisterServer(proc, func(ctx *meshrpc.Context, message string) (string, error) {
		called <- struct{}{}
		return "ignored", nil
	})

	req := buildPingRequest(t, pingservice.MethodPing, meshrpc.MessageOneway, "hi")
	reply, err := proc.Process(req, 0)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !meshrpc.IsEmptyReplySentinel(reply) {
		t.Fatalf("reply = %x, want the 4-byte oneway sentinel", reply)
	}
	select {
	case <-called:
	default:
		t.Fatal("oneway handler was never invoked")
	}
}

func TestProcessHandlerErrorTranslatesToApplicationException(t *testing.T) {
	proc := processor.New(binary.Factory{}, nil)
	pingservice.RegisterServer(proc, func(ctx *meshrpc.Context, message string) (string, error) {
		return "", errors.New("boom")
	})

	req := buildPingRequest(t, pingservice.MethodPing, meshrpc.MessageCall, "hi")
	reply, err := proc.Process(req, 0)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	_, ae := readPingReply(t, reply)
	if ae == nil || ae.Kind != meshrpc.AppUnknown {
		t.Fatalf("reply exception = %+v, want AppUnknown", ae)
	}
}

func TestProcessRateLimitErrorTranslatesToApplicationException(t *testing.T) {
	proc := processor.New(binary.Factory{}, nil)
	pingservice.RegisterServer(proc, func(ctx *meshrpc.Context, message string) (string, error) {
		return "", &meshrpc.RateLimitException{Message: "too fast"}
	})

	req := buildPingRequest(t, pingservice.MethodPing, meshrpc.MessageCall, "hi")
	reply, err := proc.Process(req, 0)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	_, ae := readPingReply(t, reply)
	if ae == nil || ae.Kind != meshrpc.AppRateLimitExceeded {
		t.Fatalf("reply exception = %+v, want AppRateLimitExceeded", ae)
	}
}

// rawWriter/readOnly adapt OutputBuffer/bytes.Reader to io.ReadWriter for
// direct use of the binary codec factory from outside package meshrpc.

type rawWriter struct{ *meshrpc.OutputBuffer }

func (rawWriter) Read(p []byte) (int, error) { return 0, errors.New("write-only") }

type readOnly struct{ *bytes.Reader }

func (readOnly) Write(p []byte) (int, error) { return 0, errors.New("read-only") }
