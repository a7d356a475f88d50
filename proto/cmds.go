// Package proto defines the commands exchanged between channel peers and
// their wire encoding
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package proto

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

type (
	// UserRequest invokes a method (or a callable payload) on the peer;
	// ReqID is monotone and unique within the sender's outbound stream
	UserRequest struct {
		Payload []byte // packed selector + args (see value.go)
		ReqID   uint64
		OID     uint32 // target exported object
	}

	// Response answers a UserRequest; at most one per ReqID
	Response struct {
		Value []byte // packed return value (when OK)
		Err   string // remote error rendering (when !OK)
		Stack string // remote stack, best-effort
		ReqID uint64
		OK    bool
	}

	// Close is the last command ever sent on a channel
	Close struct {
		Cause string // empty for clean close
	}

	// GC is a compatibility prod for peers that reclaim unreferenced
	// proxies out of band; receivers treat it as a no-op
	GC struct{}

	// Unexport drops one reference from the peer's export entry
	Unexport struct {
		IOID int64
		OID  uint32
	}

	// Chunk appends bytes to the remote output stream OID
	Chunk struct {
		Data []byte
		IOID int64
		OID  uint32
	}

	// Flush flushes the remote output stream OID
	Flush struct {
		IOID int64
		OID  uint32
	}

	// EOF closes the remote output stream OID
	EOF struct {
		Err  string // propagated when the stream supports it
		IOID int64
		OID  uint32
	}

	// Ack returns Size bytes of pipe-window budget to the writer
	Ack struct {
		Size int64
		OID  uint32
	}

	// NotifyDead poisons the writer's pipe window for OID
	NotifyDead struct {
		Cause string
		OID   uint32
	}
)

/////////////////
// UserRequest //
/////////////////

func (*UserRequest) Opcode() int { return OpcUserRequest }

func (r *UserRequest) Pack(b []byte) []byte {
	b = msgp.AppendUint64(b, r.ReqID)
	b = msgp.AppendUint32(b, r.OID)
	return msgp.AppendBytes(b, r.Payload)
}

func (r *UserRequest) unpack(b []byte) (o []byte, err error) {
	if r.ReqID, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return
	}
	if r.OID, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return
	}
	r.Payload, o, err = msgp.ReadBytesBytes(b, nil)
	return
}

func (r *UserRequest) Execute(h Handler) error { return h.HandleRequest(r) }

func (r *UserRequest) String() string {
	return fmt.Sprintf("req[%d=>oid %d, %dB]", r.ReqID, r.OID, len(r.Payload))
}

//////////////
// Response //
//////////////

func (*Response) Opcode() int { return OpcResponse }

func (r *Response) Pack(b []byte) []byte {
	b = msgp.AppendUint64(b, r.ReqID)
	b = msgp.AppendBool(b, r.OK)
	b = msgp.AppendBytes(b, r.Value)
	b = msgp.AppendString(b, r.Err)
	return msgp.AppendString(b, r.Stack)
}

func (r *Response) unpack(b []byte) (o []byte, err error) {
	if r.ReqID, b, err = msgp.ReadUint64Bytes(b); err != nil {
		return
	}
	if r.OK, b, err = msgp.ReadBoolBytes(b); err != nil {
		return
	}
	if r.Value, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
		return
	}
	if r.Err, b, err = msgp.ReadStringBytes(b); err != nil {
		return
	}
	r.Stack, o, err = msgp.ReadStringBytes(b)
	return
}

func (r *Response) Execute(h Handler) error { return h.HandleResponse(r) }

func (r *Response) String() string {
	if r.OK {
		return fmt.Sprintf("rsp[%d ok, %dB]", r.ReqID, len(r.Value))
	}
	return fmt.Sprintf("rsp[%d err: %s]", r.ReqID, r.Err)
}

///////////
// Close //
///////////

func (*Close) Opcode() int { return OpcClose }

func (c *Close) Pack(b []byte) []byte { return msgp.AppendString(b, c.Cause) }

func (c *Close) unpack(b []byte) (o []byte, err error) {
	c.Cause, o, err = msgp.ReadStringBytes(b)
	return
}

func (c *Close) Execute(h Handler) error { return h.HandleClose(c) }

func (c *Close) String() string {
	if c.Cause == "" {
		return "close"
	}
	return "close[" + c.Cause + "]"
}

////////
// GC //
////////

func (*GC) Opcode() int { return OpcGC }

func (*GC) Pack(b []byte) []byte { return b }

func (*GC) unpack(b []byte) ([]byte, error) { return b, nil }

func (g *GC) Execute(h Handler) error { return h.HandleGC(g) }

func (*GC) String() string { return "gc" }

//////////////
// Unexport //
//////////////

func (*Unexport) Opcode() int { return OpcUnexport }

func (u *Unexport) Pack(b []byte) []byte {
	b = msgp.AppendUint32(b, u.OID)
	return msgp.AppendInt64(b, u.IOID)
}

func (u *Unexport) unpack(b []byte) (o []byte, err error) {
	if u.OID, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return
	}
	u.IOID, o, err = msgp.ReadInt64Bytes(b)
	return
}

func (u *Unexport) Execute(h Handler) error { return h.HandleUnexport(u) }

func (u *Unexport) String() string { return fmt.Sprintf("unexport[oid %d]", u.OID) }

///////////
// Chunk //
///////////

func (*Chunk) Opcode() int { return OpcChunk }

func (c *Chunk) Pack(b []byte) []byte {
	b = msgp.AppendUint32(b, c.OID)
	b = msgp.AppendInt64(b, c.IOID)
	return msgp.AppendBytes(b, c.Data)
}

func (c *Chunk) unpack(b []byte) (o []byte, err error) {
	if c.OID, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return
	}
	if c.IOID, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return
	}
	c.Data, o, err = msgp.ReadBytesBytes(b, nil)
	return
}

func (c *Chunk) Execute(h Handler) error { return h.HandleChunk(c) }

func (c *Chunk) String() string { return fmt.Sprintf("chunk[oid %d, %dB]", c.OID, len(c.Data)) }

///////////
// Flush //
///////////

func (*Flush) Opcode() int { return OpcFlush }

func (f *Flush) Pack(b []byte) []byte {
	b = msgp.AppendUint32(b, f.OID)
	return msgp.AppendInt64(b, f.IOID)
}

func (f *Flush) unpack(b []byte) (o []byte, err error) {
	if f.OID, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return
	}
	f.IOID, o, err = msgp.ReadInt64Bytes(b)
	return
}

func (f *Flush) Execute(h Handler) error { return h.HandleFlush(f) }

func (f *Flush) String() string { return fmt.Sprintf("flush[oid %d]", f.OID) }

/////////
// EOF //
/////////

func (*EOF) Opcode() int { return OpcEOF }

func (e *EOF) Pack(b []byte) []byte {
	b = msgp.AppendUint32(b, e.OID)
	b = msgp.AppendInt64(b, e.IOID)
	return msgp.AppendString(b, e.Err)
}

func (e *EOF) unpack(b []byte) (o []byte, err error) {
	if e.OID, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return
	}
	if e.IOID, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return
	}
	e.Err, o, err = msgp.ReadStringBytes(b)
	return
}

func (e *EOF) Execute(h Handler) error { return h.HandleEOF(e) }

func (e *EOF) String() string { return fmt.Sprintf("eof[oid %d]", e.OID) }

/////////
// Ack //
/////////

func (*Ack) Opcode() int { return OpcAck }

func (a *Ack) Pack(b []byte) []byte {
	b = msgp.AppendUint32(b, a.OID)
	return msgp.AppendInt64(b, a.Size)
}

func (a *Ack) unpack(b []byte) (o []byte, err error) {
	if a.OID, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return
	}
	a.Size, o, err = msgp.ReadInt64Bytes(b)
	return
}

func (a *Ack) Execute(h Handler) error { return h.HandleAck(a) }

func (a *Ack) String() string { return fmt.Sprintf("ack[oid %d, %dB]", a.OID, a.Size) }

////////////////
// NotifyDead //
////////////////

func (*NotifyDead) Opcode() int { return OpcNotifyDead }

func (nd *NotifyDead) Pack(b []byte) []byte {
	b = msgp.AppendUint32(b, nd.OID)
	return msgp.AppendString(b, nd.Cause)
}

func (nd *NotifyDead) unpack(b []byte) (o []byte, err error) {
	if nd.OID, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return
	}
	nd.Cause, o, err = msgp.ReadStringBytes(b)
	return
}

func (nd *NotifyDead) Execute(h Handler) error { return h.HandleNotifyDead(nd) }

func (nd *NotifyDead) String() string { return fmt.Sprintf("notify-dead[oid %d: %s]", nd.OID, nd.Cause) }
