// Package frame implements the layered wire framing that carries serialized
// commands: chunked and legacy modes, setup sentinels, capability preamble,
// optional lz4 compression, and the corruption flight recorder
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package frame

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/chanlab/remoting/cmn/nlog"
	"github.com/chanlab/remoting/proto"
	"github.com/pierrec/lz4/v3"
)

// Mode selects the wire rendering each side announces via its sentinel;
// the sentinel read from the peer configures the local read half, so the
// two directions may legally run different modes
type Mode int

const (
	ModeBinary    Mode = iota // zero value
	ModeText                  // base64 line encoding, for transports that mangle binary
	ModeNegotiate             // adopt whatever the peer announces first
)

var binarySentinel = []byte{0, 0, 0, 0}

const textBanner = "<[RMTXT]>\n"

const negotiateDeadline = 30 * time.Second

type (
	// Conn is the framed, capability-negotiated view of a raw duplex stream
	Conn struct {
		rwc io.ReadWriteCloser
		R   *Reader
		W   *Writer

		PeerID string // peer's channel token, from its preamble

		LocalCaps proto.Caps
		PeerCaps  proto.Caps
		Effective proto.Caps
	}

	deadliner interface {
		SetReadDeadline(time.Time) error
	}
	closeWriter interface {
		CloseWrite() error
	}
	closeReader interface {
		CloseRead() error
	}
)

// Setup performs the wire handshake: sentinel, capability preamble, then
// assembles the framed reader/writer stacks per the effective capability
// set. The write half of the handshake runs concurrently with the reads:
// both peers handshake simultaneously, and the transport may be completely
// unbuffered.
func Setup(rwc io.ReadWriteCloser, mode Mode, caps proto.Caps, localID string, sizeChunk, sizeRecorder int32) (*Conn, error) {
	var (
		c        = &Conn{rwc: rwc, LocalCaps: caps}
		wrErrCh  = make(chan error, 1)
		peerMode Mode
		err      error
	)
	if mode != ModeNegotiate {
		go func() { wrErrCh <- c.writePreamble(mode, caps, localID) }()
		peerMode, err = c.readSentinel(0)
	} else {
		// whoever transmits a non-negotiate sentinel first decides
		if peerMode, err = c.readSentinel(negotiateDeadline); err != nil {
			return nil, fmt.Errorf("mode negotiation failed (both sides negotiating?): %v", err)
		}
		go func() { wrErrCh <- c.writePreamble(peerMode, caps, localID) }()
	}
	if err != nil {
		return nil, err
	}

	// capability preamble: plain ASCII in both modes, precedes all chunks
	tok := make([]byte, proto.TokenLen)
	if _, err := io.ReadFull(rwc, tok); err != nil {
		return nil, fmt.Errorf("failed to read capability preamble: %v", err)
	}
	c.PeerCaps, err = proto.ParseCapsToken(tok)
	if err != nil {
		// readers that cannot parse a preamble fall back to legacy framing
		nlog.Warningf("unparsable capability preamble, falling back to legacy: %v", err)
		c.PeerCaps = 0
	} else if c.PeerID, err = c.readIDLine(); err != nil {
		return nil, fmt.Errorf("failed to read peer id: %v", err)
	}
	if err := <-wrErrCh; err != nil {
		return nil, fmt.Errorf("failed to write preamble: %v", err)
	}
	c.Effective = c.LocalCaps.And(c.PeerCaps)

	chunked := c.Effective.Has(proto.CapChunkedEncoding)
	compressed := c.Effective.Has(proto.CapLZ4Compression)

	// read half
	var r io.Reader = NewRecorder(rwc, sizeRecorder)
	rec := r.(*Recorder)
	if peerMode == ModeText {
		r = newTextReader(r)
	}
	if compressed {
		r = lz4.NewReader(r)
	}
	c.R = NewReader(r, rec, chunked)

	// write half, rendered in the mode this side announced (a negotiating
	// side announced the peer's mode when it echoed the sentinel)
	wmode := mode
	if mode == ModeNegotiate {
		wmode = peerMode
	}
	var (
		w  io.Writer = rwc
		tw *textWriter
	)
	if wmode == ModeText {
		tw = newTextWriter(w)
		w = tw
	}
	if compressed {
		w = lz4.NewWriter(w)
	}
	c.W = NewWriter(w, chunked, sizeChunk)
	if tw != nil && compressed {
		c.W.AddFlusher(tw) // after lz4, per wrapping order
	}
	return c, nil
}

func (c *Conn) writePreamble(mode Mode, caps proto.Caps, localID string) (err error) {
	switch mode {
	case ModeBinary:
		_, err = c.rwc.Write(binarySentinel)
	case ModeText:
		_, err = io.WriteString(c.rwc, textBanner)
	}
	if err != nil {
		return
	}
	if _, err = c.rwc.Write(caps.Token()); err != nil {
		return
	}
	_, err = io.WriteString(c.rwc, idPrefix+localID+idSuffix)
	return
}

const (
	idPrefix  = "REMID["
	idSuffix  = "]\n"
	maxIDLine = 256
)

// readIDLine consumes the peer's identity line byte by byte (never reading
// past the newline into chunk traffic)
func (c *Conn) readIDLine() (string, error) {
	var (
		line = make([]byte, 0, 32)
		b    [1]byte
	)
	for len(line) < maxIDLine {
		if _, err := io.ReadFull(c.rwc, b[:]); err != nil {
			return "", err
		}
		line = append(line, b[0])
		if b[0] == '\n' {
			s := string(line)
			if len(s) <= len(idPrefix)+len(idSuffix) || s[:len(idPrefix)] != idPrefix || s[len(s)-len(idSuffix):] != idSuffix {
				return "", fmt.Errorf("malformed id line %q", s)
			}
			return s[len(idPrefix) : len(s)-len(idSuffix)], nil
		}
	}
	return "", fmt.Errorf("oversized id line")
}

func (c *Conn) readSentinel(deadline time.Duration) (Mode, error) {
	if deadline > 0 {
		if d, ok := c.rwc.(deadliner); ok {
			d.SetReadDeadline(time.Now().Add(deadline))
			defer d.SetReadDeadline(time.Time{})
		}
	}
	first := make([]byte, len(binarySentinel))
	if _, err := io.ReadFull(c.rwc, first); err != nil {
		return 0, err
	}
	if bytes.Equal(first, binarySentinel) {
		return ModeBinary, nil
	}
	if bytes.Equal(first, []byte(textBanner)[:len(binarySentinel)]) {
		rest := make([]byte, len(textBanner)-len(binarySentinel))
		if _, err := io.ReadFull(c.rwc, rest); err != nil {
			return 0, err
		}
		if string(rest) == textBanner[len(binarySentinel):] {
			return ModeText, nil
		}
	}
	return 0, fmt.Errorf("unrecognized mode sentinel % x", first)
}

func (c *Conn) Close() error { return c.rwc.Close() }

// CloseWrite shuts the write half when the transport supports it
func (c *Conn) CloseWrite() error {
	if cw, ok := c.rwc.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}

// CloseRead shuts the read half when the transport supports it
func (c *Conn) CloseRead() error {
	if cr, ok := c.rwc.(closeReader); ok {
		return cr.CloseRead()
	}
	return nil
}
