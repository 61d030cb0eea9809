// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package meshrpc

import "encoding/binary"

// headerVersion is the one and only supported header frame version. It is
// the integer value 0, never the ASCII digit '0' (0x30) — see spec.md §9.
const headerVersion byte = 0x00

// maxHeaderFrameSize bounds a single header frame's declared body size
// (§4.1). It guards readFullHeaderFrame's stream-based decode, which has no
// slice length to validate the declared size against before allocating.
const maxHeaderFrameSize = 1 << 20

// Headers is a string-to-string mapping carried in a header frame
// (§3). Encoding order follows Go's map iteration (unordered); decoding
// preserves last-write-wins on duplicate keys, matching the wire contract.
type Headers map[string]string

// encodeHeaders implements the §4.1 header codec's encode operation:
//
//	offset 0       : uint8  version = 0x00
//	offset 1..4    : uint32 big-endian total size N of the header body
//	offset 5..5+N-1: N bytes of header body
//
// where the body is a concatenation of (u32 keylen, key, u32 vallen, value)
// tuples, big-endian, UTF-8, with no padding or terminator.
func encodeHeaders(h Headers) []byte {
	n := 0
	for k, v := range h {
		n += 8 + len(k) + len(v)
	}
	out := make([]byte, 5+n)
	out[0] = headerVersion
	binary.BigEndian.PutUint32(out[1:5], uint32(n))

	off := 5
	for k, v := range h {
		binary.BigEndian.PutUint32(out[off:off+4], uint32(len(k)))
		off += 4
		off += copy(out[off:], k)
		binary.BigEndian.PutUint32(out[off:off+4], uint32(len(v)))
		off += 4
		off += copy(out[off:], v)
	}
	return out
}

// decodeHeaders implements the §4.1 header codec's decode operation,
// returning the decoded headers and the number of bytes consumed from
// frame[offset:] (i.e. 5+N). It fails with ProtocolException(BadVersion) if
// the version byte is not 0, and ProtocolException(InvalidData) if any
// length field would read past the stated body end.
func decodeHeaders(frame []byte, offset int) (Headers, int, error) {
	if offset < 0 || offset+5 > len(frame) {
		return nil, 0, newProtocolException(HeaderInvalidData, "header frame truncated before size field")
	}
	if frame[offset] != headerVersion {
		return nil, 0, newProtocolException(HeaderBadVersion, "unsupported header version")
	}
	n := int(binary.BigEndian.Uint32(frame[offset+1 : offset+5]))
	bodyStart := offset + 5
	bodyEnd := bodyStart + n
	if n < 0 || bodyEnd > len(frame) {
		return nil, 0, newProtocolException(HeaderInvalidData, "header body size exceeds frame")
	}

	h := make(Headers)
	pos := bodyStart
	for pos < bodyEnd {
		if pos+4 > bodyEnd {
			return nil, 0, newProtocolException(HeaderInvalidData, "truncated key length")
		}
		klen := int(binary.BigEndian.Uint32(frame[pos : pos+4]))
		pos += 4
		if klen < 0 || pos+klen > bodyEnd {
			return nil, 0, newProtocolException(HeaderInvalidData, "truncated key")
		}
		key := string(frame[pos : pos+klen])
		pos += klen

		if pos+4 > bodyEnd {
			return nil, 0, newProtocolException(HeaderInvalidData, "truncated value length")
		}
		vlen := int(binary.BigEndian.Uint32(frame[pos : pos+4]))
		pos += 4
		if vlen < 0 || pos+vlen > bodyEnd {
			return nil, 0, newProtocolException(HeaderInvalidData, "truncated value")
		}
		value := string(frame[pos : pos+vlen])
		pos += vlen

		// Last write wins on duplicate keys.
		h[key] = value
	}
	return h, bodyEnd - offset, nil
}
