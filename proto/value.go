// Package proto defines the commands exchanged between channel peers and
// their wire encoding
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package proto

import (
	"encoding/binary"
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

// Ref is the wire form of a remote handle: (origin token, oid, selector
// set). On decode the receiving channel resolves a Ref whose token matches
// its own back to the original local object; any other token produces a
// proxy restricted to the listed selectors.
type Ref struct {
	Token     string
	Selectors []string
	OID       uint32
}

// msgp extension type carrying Ref
const refExtension = 0x52

// interface guard
var _ msgp.Extension = (*Ref)(nil)

func (*Ref) ExtensionType() int8 { return refExtension }

func (r *Ref) Len() int {
	l := 1 + len(r.Token) + 4 + 1
	for _, s := range r.Selectors {
		l += 1 + len(s)
	}
	return l
}

func (r *Ref) MarshalBinaryTo(b []byte) error {
	if len(r.Token) > 255 || len(r.Selectors) > 255 {
		return fmt.Errorf("oversized ref: token %d, selectors %d", len(r.Token), len(r.Selectors))
	}
	b[0] = byte(len(r.Token))
	off := 1 + copy(b[1:], r.Token)
	binary.BigEndian.PutUint32(b[off:], r.OID)
	off += 4
	b[off] = byte(len(r.Selectors))
	off++
	for _, s := range r.Selectors {
		if len(s) > 255 {
			return fmt.Errorf("oversized selector %q", s)
		}
		b[off] = byte(len(s))
		off += 1 + copy(b[off+1:], s)
	}
	return nil
}

func (r *Ref) UnmarshalBinary(b []byte) error {
	short := func() error { return fmt.Errorf("short ref extension: %d", len(b)) }
	if len(b) < 1 {
		return short()
	}
	l := int(b[0])
	if len(b) < 1+l+4+1 {
		return short()
	}
	r.Token = string(b[1 : 1+l])
	r.OID = binary.BigEndian.Uint32(b[1+l:])
	off := 1 + l + 4
	n := int(b[off])
	off++
	r.Selectors = make([]string, 0, n)
	for i := 0; i < n; i++ {
		if off >= len(b) {
			return short()
		}
		sl := int(b[off])
		off++
		if off+sl > len(b) {
			return short()
		}
		r.Selectors = append(r.Selectors, string(b[off:off+sl]))
		off += sl
	}
	if off != len(b) {
		return fmt.Errorf("invalid ref extension length %d", len(b))
	}
	return nil
}

func (r *Ref) String() string { return fmt.Sprintf("ref[%s/%d]", r.Token, r.OID) }

//
// user-value codec: nil, bool, int64, float64, string, []byte, nested
// sequences, and remote handle references
//

func PackValue(b []byte, v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return msgp.AppendNil(b), nil
	case bool:
		return msgp.AppendBool(b, x), nil
	case int:
		return msgp.AppendInt64(b, int64(x)), nil
	case int32:
		return msgp.AppendInt64(b, int64(x)), nil
	case int64:
		return msgp.AppendInt64(b, x), nil
	case uint32:
		return msgp.AppendInt64(b, int64(x)), nil
	case float64:
		return msgp.AppendFloat64(b, x), nil
	case string:
		return msgp.AppendString(b, x), nil
	case []byte:
		return msgp.AppendBytes(b, x), nil
	case *Ref:
		return msgp.AppendExtension(b, x)
	case []any:
		b = msgp.AppendArrayHeader(b, uint32(len(x)))
		var err error
		for _, el := range x {
			if b, err = PackValue(b, el); err != nil {
				return b, err
			}
		}
		return b, nil
	default:
		return b, fmt.Errorf("unsupported value type %T", v)
	}
}

func UnpackValue(b []byte) (v any, o []byte, err error) {
	switch t := msgp.NextType(b); t {
	case msgp.NilType:
		o, err = msgp.ReadNilBytes(b)
		return nil, o, err
	case msgp.BoolType:
		return readBool(b)
	case msgp.IntType, msgp.UintType:
		var i int64
		i, o, err = msgp.ReadInt64Bytes(b)
		return i, o, err
	case msgp.Float64Type, msgp.Float32Type:
		var f float64
		f, o, err = msgp.ReadFloat64Bytes(b)
		return f, o, err
	case msgp.StrType:
		var s string
		s, o, err = msgp.ReadStringBytes(b)
		return s, o, err
	case msgp.BinType:
		var raw []byte
		raw, o, err = msgp.ReadBytesBytes(b, nil)
		return raw, o, err
	case msgp.ExtensionType:
		ref := &Ref{}
		o, err = msgp.ReadExtensionBytes(b, ref)
		return ref, o, err
	case msgp.ArrayType:
		var n uint32
		if n, b, err = msgp.ReadArrayHeaderBytes(b); err != nil {
			return nil, b, err
		}
		arr := make([]any, n)
		for i := range arr {
			if arr[i], b, err = UnpackValue(b); err != nil {
				return nil, b, err
			}
		}
		return arr, b, nil
	default:
		return nil, b, fmt.Errorf("unsupported wire value type %v", t)
	}
}

func readBool(b []byte) (any, []byte, error) {
	v, o, err := msgp.ReadBoolBytes(b)
	return v, o, err
}

//
// call payloads: method selector + argument list
//

// PackCall packs a tagged method selector with its arguments; used by the
// invocation proxy to form UserRequest payloads
func PackCall(method string, args []any) ([]byte, error) {
	b := msgp.AppendString(nil, method)
	return PackValue(b, args)
}

func UnpackCall(b []byte) (method string, args []any, err error) {
	if method, b, err = msgp.ReadStringBytes(b); err != nil {
		return
	}
	v, rest, err := UnpackValue(b)
	if err != nil {
		return
	}
	if len(rest) != 0 {
		return "", nil, fmt.Errorf("%d trailing bytes in call payload", len(rest))
	}
	args, ok := v.([]any)
	if !ok && v != nil {
		return "", nil, fmt.Errorf("malformed call payload: args %T", v)
	}
	return method, args, nil
}

// PackResult packs a single return value
func PackResult(v any) ([]byte, error) { return PackValue(nil, v) }

func UnpackResult(b []byte) (v any, err error) {
	if len(b) == 0 {
		return nil, nil
	}
	v, rest, err := UnpackValue(b)
	if err == nil && len(rest) != 0 {
		err = fmt.Errorf("%d trailing bytes in result payload", len(rest))
	}
	return
}
