// Package transport delivers deserialized commands from the framed wire to
// a receiver, and accepts commands for write (one command transport per
// channel endpoint)
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package transport

import (
	"sync"

	"github.com/chanlab/remoting/cmn"
	"github.com/chanlab/remoting/cmn/atomic"
	"github.com/chanlab/remoting/cmn/cos"
	"github.com/chanlab/remoting/cmn/nlog"
	"github.com/chanlab/remoting/frame"
	"github.com/chanlab/remoting/memsys"
	"github.com/chanlab/remoting/proto"
)

type (
	// Receiver is the inbound dispatcher: Handle is called with every
	// deserialized command in exact wire order; Terminate is called once
	// when the read side fails or ends
	Receiver interface {
		Handle(cmd proto.Command, wireSize int) error
		Terminate(err error)
	}

	// CommandTransport pairs the framed connection with a write lock and
	// the read-loop driver
	CommandTransport struct {
		conn     *frame.Conn
		receiver Receiver
		mm       *memsys.MMSA
		wmu      sync.Mutex
		wclosed  atomic.Bool
		rclosed  atomic.Bool
	}
)

func New(conn *frame.Conn) *CommandTransport {
	return &CommandTransport{conn: conn, mm: memsys.PageMM()}
}

func (t *CommandTransport) Caps() proto.Caps { return t.conn.Effective }

// Write serializes and writes one command; isClose flushes and closes the
// writer half so that no later command can ever follow
func (t *CommandTransport) Write(cmd proto.Command, isClose bool) (n int, err error) {
	payload := proto.Marshal(cmd)
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if t.wclosed.Load() {
		return 0, cmn.NewErrChannelClosed(nil)
	}
	if err = t.conn.W.WriteCommand(payload); err == nil {
		err = t.conn.W.Flush()
	}
	if err != nil {
		return 0, cmn.NewErrConnectionLost(err)
	}
	if isClose {
		t.wclosed.Store(true)
		if err := t.conn.CloseWrite(); err != nil {
			nlog.Warningf("close-write: %v", err)
		}
	}
	return len(payload), nil
}

// Setup registers the receiver and starts the read loop
func (t *CommandTransport) Setup(r Receiver) {
	t.receiver = r
	go t.readLoop()
}

func (t *CommandTransport) CloseWrite() {
	t.wmu.Lock()
	if t.wclosed.CAS(false, true) {
		t.conn.CloseWrite()
	}
	t.wmu.Unlock()
}

func (t *CommandTransport) CloseRead() {
	if t.rclosed.CAS(false, true) {
		t.conn.CloseRead()
	}
}

func (t *CommandTransport) Close() error { return t.conn.Close() }

func (t *CommandTransport) readLoop() {
	for {
		payload, err := t.conn.R.ReadCommand()
		if err != nil {
			if t.rclosed.Load() || cos.IsEOF(err) || cos.IsErrConnectionReset(err) {
				t.receiver.Terminate(cmn.NewErrConnectionLost(err))
			} else {
				t.receiver.Terminate(t.corruption(err))
			}
			return
		}
		cmd, err := proto.Unmarshal(payload)
		size := len(payload)
		t.mm.Free(payload)
		if err != nil {
			// the codec never silently drops a failed frame
			t.receiver.Terminate(t.corruption(err))
			return
		}
		if err := t.receiver.Handle(cmd, size); err != nil {
			t.receiver.Terminate(err)
			return
		}
	}
}

// corruption builds the stream-corruption diagnostic: recorded bytes plus a
// bounded, best-effort read-ahead
func (t *CommandTransport) corruption(cause error) error {
	rec := t.conn.R.Recorder()
	ahead := rec.ReadAhead(cmn.Rom.ReadAhead(), int(cmn.Rom.SizeRecorder()))
	return cmn.NewErrStreamCorruption(cause, rec.Dump(), ahead)
}
