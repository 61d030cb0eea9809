// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package binary

import (
	"bytes"
	"testing"

	"code.hybscloud.com/meshrpc"
)

func TestProtocolScalarRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	p := Factory{}.GetProtocol(buf)

	if err := p.WriteBool(true); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteI32(42); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteString("hello"); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteDouble(3.5); err != nil {
		t.Fatal(err)
	}

	p2 := Factory{}.GetProtocol(buf)
	b, err := p2.ReadBool()
	if err != nil || !b {
		t.Fatalf("ReadBool() = (%v, %v), want (true, nil)", b, err)
	}
	i, err := p2.ReadI32()
	if err != nil || i != 42 {
		t.Fatalf("ReadI32() = (%v, %v), want (42, nil)", i, err)
	}
	s, err := p2.ReadString()
	if err != nil || s != "hello" {
		t.Fatalf("ReadString() = (%q, %v), want (\"hello\", nil)", s, err)
	}
	d, err := p2.ReadDouble()
	if err != nil || d != 3.5 {
		t.Fatalf("ReadDouble() = (%v, %v), want (3.5, nil)", d, err)
	}
}

func TestProtocolStructFieldsAndStop(t *testing.T) {
	buf := &bytes.Buffer{}
	p := Factory{}.GetProtocol(buf)

	if err := p.WriteStructBegin("s"); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteFieldBegin("a", meshrpc.FieldI32, 1); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteI32(7); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteFieldEnd(); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteStructEnd(); err != nil {
		t.Fatal(err)
	}

	if _, err := p.ReadStructBegin(); err != nil {
		t.Fatal(err)
	}
	_, typeID, id, err := p.ReadFieldBegin()
	if err != nil {
		t.Fatal(err)
	}
	if typeID != meshrpc.FieldI32 || id != 1 {
		t.Fatalf("ReadFieldBegin() = (%v, %v), want (FieldI32, 1)", typeID, id)
	}
	v, err := p.ReadI32()
	if err != nil || v != 7 {
		t.Fatalf("ReadI32() = (%v, %v), want (7, nil)", v, err)
	}
	if err := p.ReadFieldEnd(); err != nil {
		t.Fatal(err)
	}
	_, stopType, _, err := p.ReadFieldBegin()
	if err != nil {
		t.Fatal(err)
	}
	if stopType != meshrpc.FieldStop {
		t.Fatalf("expected FieldStop after last field, got %v", stopType)
	}
}

func TestSkipStruct(t *testing.T) {
	buf := &bytes.Buffer{}
	p := Factory{}.GetProtocol(buf)

	if err := p.WriteStructBegin("unused"); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteFieldBegin("a", meshrpc.FieldString, 1); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteString("ignored"); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteFieldEnd(); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteFieldBegin("b", meshrpc.FieldI64, 2); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteI64(99); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteFieldEnd(); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteStructEnd(); err != nil {
		t.Fatal(err)
	}
	if err := p.WriteString("after"); err != nil {
		t.Fatal(err)
	}

	if err := p.Skip(meshrpc.FieldStruct); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	s, err := p.ReadString()
	if err != nil || s != "after" {
		t.Fatalf("ReadString() after Skip = (%q, %v), want (\"after\", nil)", s, err)
	}
}
