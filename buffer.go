// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package meshrpc

import "encoding/binary"

// lengthPrefixSize is the width of the reserved length-prefix slot every
// OutputBuffer reserves at construction.
const lengthPrefixSize = 4

// OutputBuffer is a write-only, size-bounded buffer that accumulates a
// message body and prepends its big-endian length on Finish (§4.3).
//
// Construction reserves 4 bytes at offset 0 for the eventual length prefix;
// Write appends only past that reservation. If Finish is called without any
// intervening Write, the reserved slot is patched with uint32_be(0) and the
// returned slice is exactly 4 zero bytes — the oneway/empty-reply sentinel
// used by the NATS server (§4.8) and the HTTP transport (§4.7.2). See
// SPEC_FULL.md §3 and DESIGN.md Open Question resolution 3.
type OutputBuffer struct {
	limit int // 0 means unlimited
	buf   []byte
}

// NewOutputBuffer constructs a buffer bounded by limit bytes of body content
// (excluding the reserved length prefix). limit == 0 means unlimited.
func NewOutputBuffer(limit int) *OutputBuffer {
	return &OutputBuffer{limit: limit, buf: make([]byte, lengthPrefixSize, lengthPrefixSize+64)}
}

// Len reports the number of body bytes written so far (excluding the
// reserved length prefix).
func (b *OutputBuffer) Len() int { return len(b.buf) - lengthPrefixSize }

// Write appends chunk to the body. It fails with ErrMessageTooLarge if doing
// so would exceed the configured limit; on failure no bytes are committed.
func (b *OutputBuffer) Write(chunk []byte) (int, error) {
	if b.limit > 0 && b.Len()+len(chunk) > b.limit {
		return 0, ErrMessageTooLarge
	}
	b.buf = append(b.buf, chunk...)
	return len(chunk), nil
}

// Finish patches the reserved length-prefix slot with the big-endian length
// of everything written via Write, and returns the whole backing slice:
// uint32_be(len(body)) || body.
func (b *OutputBuffer) Finish() []byte {
	binary.BigEndian.PutUint32(b.buf[0:lengthPrefixSize], uint32(b.Len()))
	return b.buf
}

// IsEmptyReplySentinel reports whether frame is exactly the 4-byte all-zero
// oneway/empty-reply sentinel (§3, §4.8).
func IsEmptyReplySentinel(frame []byte) bool {
	if len(frame) != lengthPrefixSize {
		return false
	}
	for _, b := range frame {
		if b != 0 {
			return false
		}
	}
	return true
}

// StripLengthPrefix validates and removes the leading 4-byte big-endian
// length prefix from a message frame (§3), returning the bytes that follow
// it. It fails with ProtocolException(InvalidData) if frame
// is shorter than 4 bytes or the declared length does not match what
// follows.
func StripLengthPrefix(frame []byte) (body []byte, err error) {
	if len(frame) < lengthPrefixSize {
		return nil, newProtocolException(HeaderInvalidData, "frame shorter than length prefix")
	}
	n := binary.BigEndian.Uint32(frame[0:lengthPrefixSize])
	rest := frame[lengthPrefixSize:]
	if uint32(len(rest)) != n {
		return nil, newProtocolException(HeaderInvalidData, "length prefix does not match frame size")
	}
	return rest, nil
}
