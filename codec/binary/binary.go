// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package binary is a reference meshrpc.Protocol implementation: a compact
// big-endian, length-prefixed binary codec. It stands in for the generated
// struct-marshalling code the core specification treats as an external
// collaborator (spec.md §1, §6) — it exists so the test suite and the
// examples/pingservice demo have a concrete codec to marshal through.
//
// Wire shape, grounded on the fixed-header-then-body framing used by
// other_examples/06c1601b_BX-D-mini-RPC__protocol-protocol.go.go and the
// length-prefixed primitives of
// other_examples/51ca0343_l3dlp-sandbox-goridge__pkg-rpc-codec.go.go:
// primitives are written in their big-endian encoding with no type tag of
// their own; strings and binary values are length-prefixed (uint32) followed
// by raw bytes. WriteMessageBegin writes a 1-byte message type, the name and
// the sequence id; WriteFieldBegin writes a 1-byte field type and the i16
// field id; WriteStructEnd writes a 1-byte FieldStop. The other boundary
// methods write nothing.
package binary

import (
	"encoding/binary"
	"errors"
	"io"
	"math"

	"code.hybscloud.com/meshrpc"
)

// Protocol implements meshrpc.Protocol over an io.ReadWriter.
type Protocol struct {
	rw io.ReadWriter
}

// Factory implements meshrpc.ProtocolFactory, producing Protocol values.
type Factory struct{}

func (Factory) GetProtocol(rw io.ReadWriter) meshrpc.Protocol {
	return &Protocol{rw: rw}
}

func (p *Protocol) Transport() io.ReadWriter { return p.rw }

func (p *Protocol) writeByte(b byte) error {
	_, err := p.rw.Write([]byte{b})
	return err
}

func (p *Protocol) readByteRaw() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(p.rw, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (p *Protocol) writeUint32(v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := p.rw.Write(b[:])
	return err
}

func (p *Protocol) readUint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(p.rw, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// --- message / struct / field boundaries ---

func (p *Protocol) WriteMessageBegin(name string, typeID meshrpc.MessageType, seqID int32) error {
	if err := p.writeByte(byte(typeID)); err != nil {
		return err
	}
	if err := p.WriteString(name); err != nil {
		return err
	}
	return p.WriteI32(seqID)
}

func (p *Protocol) WriteMessageEnd() error { return nil }

func (p *Protocol) WriteStructBegin(name string) error { return nil }
func (p *Protocol) WriteStructEnd() error              { return p.WriteFieldStop() }

func (p *Protocol) WriteFieldBegin(name string, typeID meshrpc.FieldType, id int16) error {
	if err := p.writeByte(byte(typeID)); err != nil {
		return err
	}
	return p.WriteI16(id)
}

func (p *Protocol) WriteFieldEnd() error { return nil }
func (p *Protocol) WriteFieldStop() error {
	return p.writeByte(byte(meshrpc.FieldStop))
}

func (p *Protocol) WriteBool(v bool) error {
	if v {
		return p.writeByte(1)
	}
	return p.writeByte(0)
}

func (p *Protocol) WriteByte(v int8) error { return p.writeByte(byte(v)) }

func (p *Protocol) WriteI16(v int16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	_, err := p.rw.Write(b[:])
	return err
}

func (p *Protocol) WriteI32(v int32) error { return p.writeUint32(uint32(v)) }

func (p *Protocol) WriteI64(v int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	_, err := p.rw.Write(b[:])
	return err
}

func (p *Protocol) WriteDouble(v float64) error {
	return p.WriteI64(int64(math.Float64bits(v)))
}

func (p *Protocol) WriteString(v string) error {
	return p.WriteBinary([]byte(v))
}

func (p *Protocol) WriteBinary(v []byte) error {
	if err := p.writeUint32(uint32(len(v))); err != nil {
		return err
	}
	_, err := p.rw.Write(v)
	return err
}

func (p *Protocol) ReadMessageBegin() (name string, typeID meshrpc.MessageType, seqID int32, err error) {
	b, err := p.readByteRaw()
	if err != nil {
		return "", 0, 0, err
	}
	typeID = meshrpc.MessageType(b)
	name, err = p.ReadString()
	if err != nil {
		return "", 0, 0, err
	}
	seqID, err = p.ReadI32()
	return name, typeID, seqID, err
}

func (p *Protocol) ReadMessageEnd() error { return nil }

func (p *Protocol) ReadStructBegin() (string, error) { return "", nil }
func (p *Protocol) ReadStructEnd() error             { return nil }

func (p *Protocol) ReadFieldBegin() (name string, typeID meshrpc.FieldType, id int16, err error) {
	b, err := p.readByteRaw()
	if err != nil {
		return "", 0, 0, err
	}
	typeID = meshrpc.FieldType(b)
	if typeID == meshrpc.FieldStop {
		return "", typeID, 0, nil
	}
	id, err = p.ReadI16()
	return "", typeID, id, err
}

func (p *Protocol) ReadFieldEnd() error { return nil }

func (p *Protocol) ReadBool() (bool, error) {
	b, err := p.readByteRaw()
	return b != 0, err
}

func (p *Protocol) ReadByte() (int8, error) {
	b, err := p.readByteRaw()
	return int8(b), err
}

func (p *Protocol) ReadI16() (int16, error) {
	var b [2]byte
	if _, err := io.ReadFull(p.rw, b[:]); err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b[:])), nil
}

func (p *Protocol) ReadI32() (int32, error) {
	v, err := p.readUint32()
	return int32(v), err
}

func (p *Protocol) ReadI64() (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(p.rw, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func (p *Protocol) ReadDouble() (float64, error) {
	v, err := p.ReadI64()
	return math.Float64frombits(uint64(v)), err
}

func (p *Protocol) ReadString() (string, error) {
	v, err := p.ReadBinary()
	return string(v), err
}

func (p *Protocol) ReadBinary() ([]byte, error) {
	n, err := p.readUint32()
	if err != nil {
		return nil, err
	}
	v := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(p.rw, v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Skip consumes and discards one value of the given type, recursing into
// structs/lists/sets/maps as needed so an unknown field (or an unknown
// method's whole argument struct, per §4.9 step 3) can be safely skipped.
func (p *Protocol) Skip(typeID meshrpc.FieldType) error {
	switch typeID {
	case meshrpc.FieldBool, meshrpc.FieldByte:
		_, err := p.readByteRaw()
		return err
	case meshrpc.FieldI16:
		_, err := p.ReadI16()
		return err
	case meshrpc.FieldI32:
		_, err := p.ReadI32()
		return err
	case meshrpc.FieldI64, meshrpc.FieldDouble:
		_, err := p.ReadI64()
		return err
	case meshrpc.FieldString, meshrpc.FieldBinary:
		_, err := p.ReadBinary()
		return err
	case meshrpc.FieldStruct:
		for {
			_, ft, _, err := p.ReadFieldBegin()
			if err != nil {
				return err
			}
			if ft == meshrpc.FieldStop {
				return nil
			}
			if err := p.Skip(ft); err != nil {
				return err
			}
		}
	case meshrpc.FieldList, meshrpc.FieldSet:
		elemType, err := p.readByteRaw()
		if err != nil {
			return err
		}
		n, err := p.readUint32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			if err := p.Skip(meshrpc.FieldType(elemType)); err != nil {
				return err
			}
		}
		return nil
	case meshrpc.FieldMap:
		keyType, err := p.readByteRaw()
		if err != nil {
			return err
		}
		valType, err := p.readByteRaw()
		if err != nil {
			return err
		}
		n, err := p.readUint32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			if err := p.Skip(meshrpc.FieldType(keyType)); err != nil {
				return err
			}
			if err := p.Skip(meshrpc.FieldType(valType)); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.New("binary: cannot skip unknown field type")
	}
}
