// Package channel implements one endpoint of a symmetric, full-duplex
// remoting session: export table, request dispatcher, invocation proxies,
// flow-controlled pipes, and the channel lifecycle
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package channel

import (
	"io"

	"github.com/chanlab/remoting/cmn/atomic"
	"github.com/chanlab/remoting/cmn/debug"
	"github.com/chanlab/remoting/proto"
)

// the selector marking an exported byte sink (pipe output stream)
const SelWrite = "write"

var selStream = []string{SelWrite}

type (
	// RemoteWriter streams bytes to an output stream exported by the peer,
	// throttled by the per-oid pipe window
	RemoteWriter struct {
		ch     *Channel
		win    *window
		oid    uint32
		closed atomic.Bool
	}

	errCloser interface {
		CloseWithError(error) error
	}
	flusher interface {
		Flush() error
	}
)

// interface guard
var _ io.WriteCloser = (*RemoteWriter)(nil)

// ExportWriter makes a local byte sink available to the peer; the returned
// ref travels inside ordinary call payloads
func (ch *Channel) ExportWriter(w io.Writer) *proto.Ref {
	oid := ch.export(selStream, w, false)
	return &proto.Ref{Token: ch.token, OID: oid, Selectors: selStream}
}

// NewInputPipe returns a local reader fed by the peer, plus the ref the
// peer uses to construct the writing end
func (ch *Channel) NewInputPipe() (io.Reader, *proto.Ref) {
	pr, pw := io.Pipe()
	return pr, ch.ExportWriter(pw)
}

// NewRemoteWriter builds the writing end over a peer ref obtained from
// ExportWriter/NewInputPipe on the other side
func (ch *Channel) NewRemoteWriter(ref *proto.Ref) *RemoteWriter {
	debug.Assert(ref.Token != ch.token, "remote writer over a local stream")
	fake := !ch.transport.Caps().Has(proto.CapPipeThrottling)
	win := ch.windows.register(ref.OID, ch.winMax, fake)
	return &RemoteWriter{ch: ch, oid: ref.OID, win: win}
}

// Write sends p as one or more Chunk commands, never exceeding the window:
// ask for at least min(max/10, len) to avoid fragmentation under a full
// window, clamp a chunk that does not finish p to max/2 so a chunk and its
// ack can pipeline (a remainder that fits the usable window goes as one chunk)
func (rw *RemoteWriter) Write(p []byte) (n int, err error) {
	max := rw.win.max
	for len(p) > 0 {
		atLeast := min(max/10, int64(len(p)))
		if atLeast == 0 {
			atLeast = 1
		}
		usable, err := rw.win.Get(atLeast)
		if err != nil {
			return n, err
		}
		c := min(usable, int64(len(p)))
		if c > max/2 && c < int64(len(p)) {
			c = max / 2
		}
		chunk := &proto.Chunk{OID: rw.oid, IOID: rw.ch.nextIOID(), Data: p[:c]}
		if err := rw.ch.send(chunk); err != nil {
			return n, err
		}
		rw.win.Decrease(c)
		n += int(c)
		p = p[c:]
	}
	return n, nil
}

// Flush flushes the remote stream
func (rw *RemoteWriter) Flush() error {
	return rw.ch.send(&proto.Flush{OID: rw.oid, IOID: rw.ch.nextIOID()})
}

// Close sends EOF and releases the window
func (rw *RemoteWriter) Close() error { return rw.CloseWithError(nil) }

func (rw *RemoteWriter) CloseWithError(cause error) error {
	if !rw.closed.CAS(false, true) {
		return nil
	}
	eof := &proto.EOF{OID: rw.oid, IOID: rw.ch.nextIOID()}
	if cause != nil {
		eof.Err = cause.Error()
	}
	err := rw.ch.send(eof)
	rw.ch.windows.release(rw.oid)
	return err
}

//
// receive side (all side effects run on the single-lane executor)
//

func (ch *Channel) pipeChunk(c *proto.Chunk) {
	obj, err := ch.exports.Get(c.OID)
	if err != nil {
		// the entry may have just been unexported: warn and drop
		ch.warnf("dropping %s: %v", c, err)
		return
	}
	w, ok := obj.(io.Writer)
	if !ok {
		ch.warnf("dropping %s: oid is %T, not a stream", c, obj)
		return
	}
	if _, err := w.Write(c.Data); err != nil {
		ch.warnf("%s: write failed: %v", c, err)
		ch.notifyDead(c.OID, err)
		return
	}
	if ch.transport.Caps().Has(proto.CapPipeThrottling) {
		if err := ch.send(&proto.Ack{OID: c.OID, Size: int64(len(c.Data))}); err != nil {
			ch.warnf("%s: ack failed: %v", c, err)
		}
	}
}

func (ch *Channel) pipeFlush(f *proto.Flush) {
	obj, err := ch.exports.Get(f.OID)
	if err != nil {
		ch.warnf("dropping %s: %v", f, err)
		return
	}
	if fl, ok := obj.(flusher); ok {
		if err := fl.Flush(); err != nil {
			ch.warnf("%s: %v", f, err)
		}
	}
}

func (ch *Channel) pipeEOF(e *proto.EOF) {
	obj, err := ch.exports.Get(e.OID)
	if err != nil {
		ch.warnf("dropping %s: %v", e, err)
		return
	}
	switch w := obj.(type) {
	case errCloser:
		var cause error
		if e.Err != "" {
			cause = remoteErr(e.Err)
		}
		w.CloseWithError(cause)
	case io.Closer:
		w.Close()
	}
	// the stream is done; its export entry goes with it
	ch.exports.UnexportByOID(e.OID, nil, false)
}

// notifyDead poisons the peer's window when the local consumer failed
func (ch *Channel) notifyDead(oid uint32, cause error) {
	if !ch.transport.Caps().Has(proto.CapPipeThrottling) {
		return
	}
	if err := ch.send(&proto.NotifyDead{OID: oid, Cause: cause.Error()}); err != nil {
		ch.warnf("notify-dead oid %d: %v", oid, err)
	}
}

type remoteErr string

func (e remoteErr) Error() string { return string(e) }
