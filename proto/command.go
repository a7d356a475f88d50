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

// command opcodes (wire-stable, do not renumber)
const (
	OpcUserRequest = iota + 1
	OpcResponse
	OpcClose
	OpcGC
	OpcUnexport
	OpcChunk
	OpcFlush
	OpcEOF
	OpcAck
	OpcNotifyDead
)

type (
	// Command is the unit of wire traffic. Pack appends the command's
	// payload (not including the opcode) to b; unpack is the inverse.
	// Execute runs the command on the receiving channel via the Handler
	// double-dispatch interface.
	Command interface {
		Opcode() int
		Pack(b []byte) []byte
		Execute(h Handler) error
		fmt.Stringer
	}

	// Handler is the receive side of the command catalog (implemented by
	// the channel core); one method per inbound command kind
	Handler interface {
		HandleRequest(req *UserRequest) error
		HandleResponse(rsp *Response) error
		HandleClose(c *Close) error
		HandleGC(gc *GC) error
		HandleUnexport(u *Unexport) error
		HandleChunk(c *Chunk) error
		HandleFlush(f *Flush) error
		HandleEOF(e *EOF) error
		HandleAck(a *Ack) error
		HandleNotifyDead(nd *NotifyDead) error
	}
)

// Marshal renders cmd as a self-delimiting byte slice: opcode followed by
// the msgp-packed payload fields
func Marshal(cmd Command) []byte {
	b := make([]byte, 0, 64)
	b = msgp.AppendInt(b, cmd.Opcode())
	return cmd.Pack(b)
}

// Unmarshal is the inverse of Marshal; trailing garbage is an error (frames
// delimit commands exactly)
func Unmarshal(b []byte) (Command, error) {
	opc, rest, err := msgp.ReadIntBytes(b)
	if err != nil {
		return nil, fmt.Errorf("unreadable command opcode: %v", err)
	}
	var cmd Command
	switch opc {
	case OpcUserRequest:
		cmd = &UserRequest{}
	case OpcResponse:
		cmd = &Response{}
	case OpcClose:
		cmd = &Close{}
	case OpcGC:
		cmd = &GC{}
	case OpcUnexport:
		cmd = &Unexport{}
	case OpcChunk:
		cmd = &Chunk{}
	case OpcFlush:
		cmd = &Flush{}
	case OpcEOF:
		cmd = &EOF{}
	case OpcAck:
		cmd = &Ack{}
	case OpcNotifyDead:
		cmd = &NotifyDead{}
	default:
		return nil, fmt.Errorf("unknown command opcode %d", opc)
	}
	rest, err = cmd.(unpacker).unpack(rest)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %T: %v", cmd, err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after %T", len(rest), cmd)
	}
	return cmd, nil
}

type unpacker interface {
	unpack(b []byte) ([]byte, error)
}
