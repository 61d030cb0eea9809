// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package meshrpc

import "io"

// MessageType distinguishes the four kinds of codec message boundaries.
type MessageType byte

const (
	MessageCall MessageType = iota + 1
	MessageReply
	MessageException
	MessageOneway
)

// FieldType enumerates the primitive/collection type tags a Protocol's
// skip operation needs to recognize (§6). This is intentionally small: the
// core never interprets field contents itself, it only needs to be able to
// skip over an unknown struct.
type FieldType byte

const (
	FieldStop FieldType = iota
	FieldBool
	FieldByte
	FieldI16
	FieldI32
	FieldI64
	FieldDouble
	FieldString
	FieldBinary
	FieldStruct
	FieldList
	FieldSet
	FieldMap
)

// Protocol is the codec contract consumed by the core (§6). It is produced
// by a ProtocolFactory over an underlying byte source/sink and provides
// message/struct/field boundaries plus primitive read/write. The concrete
// wire format of struct bodies is entirely up to the Protocol implementation
// — the core only ever calls these methods, never assumes a particular
// encoding. See meshrpc/codec/binary for a reference implementation.
type Protocol interface {
	WriteMessageBegin(name string, typeID MessageType, seqID int32) error
	WriteMessageEnd() error
	WriteStructBegin(name string) error
	WriteStructEnd() error
	WriteFieldBegin(name string, typeID FieldType, id int16) error
	WriteFieldEnd() error
	WriteFieldStop() error
	WriteBool(v bool) error
	WriteByte(v int8) error
	WriteI16(v int16) error
	WriteI32(v int32) error
	WriteI64(v int64) error
	WriteDouble(v float64) error
	WriteString(v string) error
	WriteBinary(v []byte) error

	ReadMessageBegin() (name string, typeID MessageType, seqID int32, err error)
	ReadMessageEnd() error
	ReadStructBegin() (name string, err error)
	ReadStructEnd() error
	ReadFieldBegin() (name string, typeID FieldType, id int16, err error)
	ReadFieldEnd() error
	ReadBool() (bool, error)
	ReadByte() (int8, error)
	ReadI16() (int16, error)
	ReadI32() (int32, error)
	ReadI64() (int64, error)
	ReadDouble() (float64, error)
	ReadString() (string, error)
	ReadBinary() ([]byte, error)

	Skip(typeID FieldType) error

	// Transport exposes the underlying byte sink/source so the protocol
	// wrapper (below) can interleave raw header-frame bytes with codec
	// output on the same stream.
	Transport() io.ReadWriter
}

// ProtocolFactory produces a Protocol bound to an underlying byte
// source/sink (§6).
type ProtocolFactory interface {
	GetProtocol(rw io.ReadWriter) Protocol
}

// Wrapper wraps a Protocol's read/write message-begin/end, struct, field,
// and scalar operations verbatim, and adds request/response header framing
// on top (§4.4).
type Wrapper struct {
	Protocol
}

// NewWrapper wraps p, adding the header operations below. All other
// Protocol methods are forwarded unchanged via embedding.
func NewWrapper(p Protocol) *Wrapper {
	return &Wrapper{Protocol: p}
}

// WriteRequestHeaders emits encode(ctx.RequestHeaders()) to the underlying
// transport (§4.4).
func (w *Wrapper) WriteRequestHeaders(ctx *Context) error {
	_, err := w.Transport().Write(encodeHeaders(ctx.RequestHeaders()))
	return err
}

// WriteResponseHeaders emits encode(ctx.ResponseHeaders()) to the underlying
// transport (§4.4).
func (w *Wrapper) WriteResponseHeaders(ctx *Context) error {
	_, err := w.Transport().Write(encodeHeaders(ctx.ResponseHeaders()))
	return err
}

// ReadRequestHeaders decodes a header frame from the underlying transport,
// constructs a fresh Context, copies all decoded key/value pairs into its
// request headers, then copies the decoded "_opid" into the new context's
// response headers so the eventual reply echoes the op id (§4.4).
func (w *Wrapper) ReadRequestHeaders() (*Context, error) {
	headers, err := readFullHeaderFrame(w.Transport())
	if err != nil {
		return nil, err
	}
	ctx := NewContext(headers[headerCorrelationID])
	for k, v := range headers {
		ctx.requestHeaders[k] = v
	}
	if opID, ok := headers[headerOpID]; ok {
		ctx.responseHeaders[headerOpID] = opID
	}
	return ctx, nil
}

// ReadResponseHeaders decodes a header frame from the underlying transport
// and updates ctx's response headers in place (§4.4).
func (w *Wrapper) ReadResponseHeaders(ctx *Context) error {
	headers, err := readFullHeaderFrame(w.Transport())
	if err != nil {
		return err
	}
	for k, v := range headers {
		ctx.responseHeaders[k] = v
	}
	return nil
}

// readFullHeaderFrame reads exactly one header frame (version + size +
// body) from rw, without assuming anything about what follows it on the
// stream.
func readFullHeaderFrame(rw io.ReadWriter) (Headers, error) {
	prefix := make([]byte, 5)
	if _, err := io.ReadFull(rw, prefix); err != nil {
		return nil, newProtocolException(HeaderInvalidData, "short read on header prefix: "+err.Error())
	}
	if prefix[0] != headerVersion {
		return nil, newProtocolException(HeaderBadVersion, "unsupported header version")
	}
	n := int(uint32(prefix[1])<<24 | uint32(prefix[2])<<16 | uint32(prefix[3])<<8 | uint32(prefix[4]))
	if n < 0 || n > maxHeaderFrameSize {
		return nil, newProtocolException(HeaderInvalidData, "declared header body size exceeds the maximum allowed")
	}
	body := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(rw, body); err != nil {
			return nil, newProtocolException(HeaderInvalidData, "short read on header body: "+err.Error())
		}
	}
	frame := append(prefix, body...)
	headers, _, err := decodeHeaders(frame, 0)
	return headers, err
}
