// Package proto defines the commands exchanged between channel peers and
// their wire encoding
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package proto_test

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/chanlab/remoting/proto"
)

func TestCommandRoundTrip(t *testing.T) {
	cmds := []proto.Command{
		&proto.UserRequest{ReqID: 1, OID: 1, Payload: []byte("payload")},
		&proto.UserRequest{ReqID: 1<<40 + 7, OID: 42, Payload: []byte{}},
		&proto.Response{ReqID: 1, OK: true, Value: []byte{1, 2, 3}},
		&proto.Response{ReqID: 2, OK: false, Err: "boom", Stack: "goroutine 1 [running]"},
		&proto.Close{},
		&proto.Close{Cause: "going down"},
		&proto.GC{},
		&proto.Unexport{OID: 17, IOID: 3},
		&proto.Chunk{OID: 5, IOID: 9, Data: bytes.Repeat([]byte{0xab}, 1000)},
		&proto.Flush{OID: 5, IOID: 10},
		&proto.EOF{OID: 5, IOID: 11, Err: "consumer failed"},
		&proto.Ack{OID: 5, Size: 65536},
		&proto.NotifyDead{OID: 5, Cause: "reader gone"},
	}
	for _, cmd := range cmds {
		b := proto.Marshal(cmd)
		out, err := proto.Unmarshal(b)
		if err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
		if !reflect.DeepEqual(normalize(cmd), normalize(out)) {
			t.Fatalf("%s: round-trip mismatch: %#v != %#v", cmd, cmd, out)
		}
	}
}

// msgp decodes empty bins as empty (non-nil) slices
func normalize(cmd proto.Command) proto.Command {
	switch x := cmd.(type) {
	case *proto.UserRequest:
		if len(x.Payload) == 0 {
			x.Payload = nil
		}
	case *proto.Response:
		if len(x.Value) == 0 {
			x.Value = nil
		}
	case *proto.Chunk:
		if len(x.Data) == 0 {
			x.Data = nil
		}
	}
	return cmd
}

func TestUnmarshalRejects(t *testing.T) {
	if _, err := proto.Unmarshal([]byte{0xc0}); err == nil { // nil where an opcode belongs... decodes to 0
		t.Fatal("expected error for nil opcode")
	}
	b := proto.Marshal(&proto.GC{})
	if _, err := proto.Unmarshal(append(b, 0x01)); err == nil {
		t.Fatal("expected error for trailing bytes")
	}
	if _, err := proto.Unmarshal(proto.Marshal(opc99{&proto.GC{}})); err == nil {
		t.Fatal("expected error for unknown opcode")
	}
}

type opc99 struct{ *proto.GC }

func (opc99) Opcode() int { return 99 }

func TestCapsToken(t *testing.T) {
	for _, caps := range []proto.Caps{0, proto.DefaultCaps, proto.CapLZ4Compression | proto.CapChunkedEncoding, 1 << 63} {
		tok := caps.Token()
		if len(tok) != proto.TokenLen {
			t.Fatalf("token length %d != %d", len(tok), proto.TokenLen)
		}
		got, err := proto.ParseCapsToken(tok)
		if err != nil {
			t.Fatal(err)
		}
		if got != caps {
			t.Fatalf("caps %x != %x", got, caps)
		}
	}
	if _, err := proto.ParseCapsToken([]byte("REMCAP[not-hex-not-hex]")); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := proto.ParseCapsToken([]byte("short")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCapsAnd(t *testing.T) {
	a := proto.CapChunkedEncoding | proto.CapPipeThrottling
	b := proto.CapChunkedEncoding | proto.CapLZ4Compression
	eff := a.And(b)
	if !eff.Has(proto.CapChunkedEncoding) || eff.Has(proto.CapPipeThrottling) || eff.Has(proto.CapLZ4Compression) {
		t.Fatalf("effective %s", eff)
	}
}

func TestValueRoundTrip(t *testing.T) {
	values := []any{
		nil,
		true,
		int64(-7),
		int64(1) << 50,
		3.14,
		"hello",
		[]byte{0, 1, 2},
		[]any{int64(1), "two", []any{false}},
		&proto.Ref{Token: "Wq3kZpL9f", OID: 7, Selectors: []string{"get", "put"}},
	}
	for _, v := range values {
		b, err := proto.PackValue(nil, v)
		if err != nil {
			t.Fatalf("%v: %v", v, err)
		}
		out, rest, err := proto.UnpackValue(b)
		if err != nil {
			t.Fatalf("%v: %v", v, err)
		}
		if len(rest) != 0 {
			t.Fatalf("%v: %d trailing bytes", v, len(rest))
		}
		if !reflect.DeepEqual(v, out) {
			t.Fatalf("round-trip mismatch: %#v != %#v", v, out)
		}
	}
}

func TestRefSelectorsEmpty(t *testing.T) {
	ref := &proto.Ref{Token: "AqqZk7w9x", OID: 1}
	b, err := proto.PackValue(nil, ref)
	if err != nil {
		t.Fatal(err)
	}
	v, _, err := proto.UnpackValue(b)
	if err != nil {
		t.Fatal(err)
	}
	out := v.(*proto.Ref)
	if out.Token != ref.Token || out.OID != ref.OID || len(out.Selectors) != 0 {
		t.Fatalf("mismatch: %#v", out)
	}
}

func TestCallRoundTrip(t *testing.T) {
	b, err := proto.PackCall("echo", []any{"hello", int64(5)})
	if err != nil {
		t.Fatal(err)
	}
	method, args, err := proto.UnpackCall(b)
	if err != nil {
		t.Fatal(err)
	}
	if method != "echo" || len(args) != 2 || args[0] != "hello" || args[1] != int64(5) {
		t.Fatalf("mismatch: %s %v", method, args)
	}
}
