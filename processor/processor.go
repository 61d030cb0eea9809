// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package processor implements the method dispatch table of spec.md §4.9:
// FBaseProcessor's method-name-to-handler map, unknown-method handling, and
// the exception-translation rules that keep every processor error a framed
// reply rather than a dropped connection.
package processor

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"

	"code.hybscloud.com/meshrpc"
	"code.hybscloud.com/meshrpc/log"
	"code.hybscloud.com/meshrpc/middleware"
)

// ArgsReader decodes a method's argument struct from in, positioned just
// past ReadMessageBegin, returning it as a positional slice generated code
// would otherwise type strongly.
type ArgsReader func(in *meshrpc.Wrapper) (args []any, err error)

// ResultWriter encodes a method's successful result onto out as the single
// result-struct field generated code expects.
type ResultWriter func(out *meshrpc.Wrapper, result any) error

// Method bundles one RPC method's args decoder, result encoder, and
// middleware-wrapped handler.
type Method struct {
	ReadArgs    ArgsReader
	WriteResult ResultWriter
	Handler     middleware.Invoker
}

// Base is FBaseProcessor: a method-name-to-Method map guarded by a mutex
// (§4.9). Each Process call writes its reply into an OutputBuffer of its own,
// so concurrently dispatched calls never share an output.
type Base struct {
	factory meshrpc.ProtocolFactory
	logger  *zap.Logger

	mu      sync.Mutex
	methods map[string]Method
}

// New constructs a Base that decodes/encodes bodies with factory.
func New(factory meshrpc.ProtocolFactory, logger *zap.Logger) *Base {
	if logger == nil {
		logger = log.Nop
	}
	return &Base{factory: factory, logger: log.WithComponent(logger, "processor"), methods: make(map[string]Method)}
}

// AddMethod registers a method's dispatch table entry (§4.9).
func (b *Base) AddMethod(name string, m Method) {
	b.mu.Lock()
	b.methods[name] = m
	b.mu.Unlock()
}

// Process implements process(in, out) (§4.9):
//  1. read request headers -> ctx (failure propagates as a dropped response);
//  2. read message-begin, extract the method name;
//  3. unknown name -> skip the struct, write ApplicationException(UNKNOWN_METHOD);
//  4. known name -> decode args, invoke the middleware-wrapped handler,
//     translate RateLimitException/MessageTooLarge/any other error into the
//     matching ApplicationException, and log it locally;
//  5. a oneway call (MessageOneway) produces no reply content at all, so the
//     caller's output buffer stays exactly the 4-byte sentinel.
//
// reqBody is the codec+header bytes following the transport's length prefix.
// responseCapacity bounds the reply (0 = unlimited). Process returns the
// framed reply (ready to publish, or the 4-byte oneway sentinel) and an
// error only when nothing should be sent back at all (a header or
// message-begin decode failure).
func (b *Base) Process(reqBody []byte, responseCapacity int) ([]byte, error) {
	in := b.factory.GetProtocol(inputReadWriter(bytes.NewReader(reqBody)))
	inWrap := meshrpc.NewWrapper(in)

	ctx, err := inWrap.ReadRequestHeaders()
	if err != nil {
		return nil, err
	}

	name, msgType, seqID, err := inWrap.ReadMessageBegin()
	if err != nil {
		return nil, err
	}

	outBuf := meshrpc.NewOutputBuffer(responseCapacity)
	out := b.factory.GetProtocol(outputReadWriter(outBuf))
	outWrap := meshrpc.NewWrapper(out)

	b.mu.Lock()
	method, ok := b.methods[name]
	b.mu.Unlock()

	if !ok {
		if err := inWrap.Skip(meshrpc.FieldStruct); err != nil {
			return nil, err
		}
		if err := inWrap.ReadMessageEnd(); err != nil {
			return nil, err
		}
		b.logger.Warn("unknown method", zap.String("method", name))
		if err := b.writeException(outWrap, ctx, name, seqID,
			meshrpc.NewApplicationException(meshrpc.AppUnknownMethod, "Unknown function: "+name)); err != nil {
			return nil, err
		}
		return outBuf.Finish(), nil
	}

	args, err := method.ReadArgs(inWrap)
	if err != nil {
		return nil, err
	}
	if err := inWrap.ReadMessageEnd(); err != nil {
		return nil, err
	}

	if msgType == meshrpc.MessageOneway {
		if _, err := method.Handler(ctx, args); err != nil {
			b.logger.Warn("oneway handler error", zap.String("method", name), zap.Error(err))
		}
		return outBuf.Finish(), nil
	}

	result, handlerErr := method.Handler(ctx, args)
	if handlerErr != nil {
		b.logger.Warn("handler error", zap.String("method", name), zap.Error(handlerErr))
		ae := meshrpc.AsApplicationException(handlerErr)
		if err := b.writeException(outWrap, ctx, name, seqID, ae); err != nil {
			return nil, err
		}
		return outBuf.Finish(), nil
	}

	if err := outWrap.WriteResponseHeaders(ctx); err != nil {
		return nil, err
	}
	if err := outWrap.WriteMessageBegin(name, meshrpc.MessageReply, seqID); err != nil {
		return nil, err
	}
	if err := method.WriteResult(outWrap, result); err != nil {
		var ae *meshrpc.ApplicationException
		if errors.Is(err, meshrpc.ErrMessageTooLarge) {
			ae = meshrpc.NewApplicationException(meshrpc.AppResponseTooLarge, err.Error())
		} else {
			ae = meshrpc.AsApplicationException(err)
		}
		b.logger.Warn("result write error", zap.String("method", name), zap.Error(err))
		freshOut := meshrpc.NewOutputBuffer(responseCapacity)
		freshWrap := meshrpc.NewWrapper(b.factory.GetProtocol(outputReadWriter(freshOut)))
		if err := b.writeException(freshWrap, ctx, name, seqID, ae); err != nil {
			return nil, err
		}
		return freshOut.Finish(), nil
	}
	if err := outWrap.WriteMessageEnd(); err != nil {
		return nil, err
	}
	return outBuf.Finish(), nil
}

func (b *Base) writeException(out *meshrpc.Wrapper, ctx *meshrpc.Context, name string, seqID int32, ae *meshrpc.ApplicationException) error {
	if err := out.WriteResponseHeaders(ctx); err != nil {
		return err
	}
	if err := out.WriteMessageBegin(name, meshrpc.MessageException, seqID); err != nil {
		return err
	}
	if err := out.WriteStructBegin(name + "_exception"); err != nil {
		return err
	}
	if err := out.WriteFieldBegin("kind", meshrpc.FieldI32, 1); err != nil {
		return err
	}
	if err := out.WriteI32(int32(ae.Kind)); err != nil {
		return err
	}
	if err := out.WriteFieldEnd(); err != nil {
		return err
	}
	if err := out.WriteFieldBegin("message", meshrpc.FieldString, 2); err != nil {
		return err
	}
	if err := out.WriteString(ae.Message); err != nil {
		return err
	}
	if err := out.WriteFieldEnd(); err != nil {
		return err
	}
	if err := out.WriteStructEnd(); err != nil {
		return err
	}
	return out.WriteMessageEnd()
}

// inputReadWriter adapts an io.Reader to io.ReadWriter for Protocol
// implementations that only read (server-side input), failing any Write.
func inputReadWriter(r io.Reader) io.ReadWriter { return readOnly{r} }

type readOnly struct{ io.Reader }

func (readOnly) Write(p []byte) (int, error) {
	return 0, errors.New("processor: input protocol is read-only")
}

// outputReadWriter adapts an *meshrpc.OutputBuffer to io.ReadWriter for
// Protocol implementations that only write (server-side output), failing any
// Read.
func outputReadWriter(b *meshrpc.OutputBuffer) io.ReadWriter { return writeOnly{b} }

type writeOnly struct{ *meshrpc.OutputBuffer }

func (writeOnly) Read(p []byte) (int, error) {
	return 0, errors.New("processor: output protocol is write-only")
}
