// Package frame implements the layered wire framing that carries serialized
// commands: chunked and legacy modes, setup sentinels, capability preamble,
// optional lz4 compression, and the corruption flight recorder
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package frame

import (
	"encoding/binary"
	"io"

	"github.com/chanlab/remoting/cmn"
	"github.com/chanlab/remoting/cmn/debug"
)

const (
	// chunked-mode header: low 15 bits = payload length, top bit = final
	finalBit = 0x8000
	lenMask  = 0x7fff

	// MaxChunk is the largest single-chunk payload
	MaxChunk = lenMask

	sizeChunkHdr  = 2
	sizeLegacyHdr = 4

	// legacy (length-prefixed) commands are bounded to keep a corrupted
	// length prefix from looking like a multi-gigabyte allocation
	maxLegacyCommand = 64 * cmn.DfltWindowMax
)

type (
	// Writer emits logical command payloads in the negotiated framing
	Writer struct {
		w         io.Writer
		flushers  []flusher // outermost first
		hdr       [sizeLegacyHdr]byte
		sizeChunk int
		chunked   bool
	}
)

func NewWriter(w io.Writer, chunked bool, sizeChunk int32) *Writer {
	debug.Assert(sizeChunk > 0 && sizeChunk <= MaxChunk)
	fw := &Writer{w: w, chunked: chunked, sizeChunk: int(sizeChunk)}
	if f, ok := w.(flusher); ok {
		fw.flushers = append(fw.flushers, f)
	}
	return fw
}

// AddFlusher appends a downstream flusher (invoked after the ones already
// registered; order must follow the wrapping, outermost first)
func (fw *Writer) AddFlusher(f flusher) { fw.flushers = append(fw.flushers, f) }

// WriteCommand writes one logical payload; chunked mode splits it into
// bounded chunks with the final bit set on (only) the last one
func (fw *Writer) WriteCommand(payload []byte) error {
	if !fw.chunked {
		binary.BigEndian.PutUint32(fw.hdr[:], uint32(len(payload)))
		if _, err := fw.w.Write(fw.hdr[:sizeLegacyHdr]); err != nil {
			return err
		}
		if len(payload) == 0 {
			return nil // an empty write can block forever on an unbuffered pipe
		}
		_, err := fw.w.Write(payload)
		return err
	}
	for {
		n := min(len(payload), fw.sizeChunk)
		h := uint16(n)
		last := n == len(payload)
		if last {
			h |= finalBit
		}
		binary.BigEndian.PutUint16(fw.hdr[:sizeChunkHdr], h)
		if _, err := fw.w.Write(fw.hdr[:sizeChunkHdr]); err != nil {
			return err
		}
		if n > 0 {
			if _, err := fw.w.Write(payload[:n]); err != nil {
				return err
			}
		}
		if last {
			return nil
		}
		payload = payload[n:]
	}
}

// Flush propagates through the flushable downstream layers (lz4, text-mode
// wrapper), outermost first
func (fw *Writer) Flush() error {
	for _, f := range fw.flushers {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	return nil
}

type flusher interface{ Flush() error }
