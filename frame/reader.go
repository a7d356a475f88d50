// Package frame implements the layered wire framing that carries serialized
// commands: chunked and legacy modes, setup sentinels, capability preamble,
// optional lz4 compression, and the corruption flight recorder
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/chanlab/remoting/memsys"
)

type (
	// Reader reassembles logical command payloads from the wire
	Reader struct {
		r       io.Reader
		rec     *Recorder // underlying tap, for corruption diagnostics
		mm      *memsys.MMSA
		hdr     [sizeLegacyHdr]byte
		chunked bool
	}
)

func NewReader(r io.Reader, rec *Recorder, chunked bool) *Reader {
	return &Reader{r: r, rec: rec, chunked: chunked, mm: memsys.PageMM()}
}

func (fr *Reader) Recorder() *Recorder { return fr.rec }

// ReadCommand returns the next logical payload; the returned buffer is
// owned by the caller (free via memsys when done)
func (fr *Reader) ReadCommand() ([]byte, error) {
	if fr.chunked {
		return fr.readChunked()
	}
	return fr.readLegacy()
}

func (fr *Reader) readLegacy() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.hdr[:sizeLegacyHdr]); err != nil {
		return nil, err
	}
	l := int64(binary.BigEndian.Uint32(fr.hdr[:sizeLegacyHdr]))
	if l > maxLegacyCommand {
		return nil, fmt.Errorf("oversized legacy command: %d", l)
	}
	buf, _ := fr.mm.AllocSize(l)
	if _, err := io.ReadFull(fr.r, buf); err != nil {
		fr.mm.Free(buf)
		return nil, err
	}
	return buf, nil
}

// chunked mode: read chunks until the final bit, concatenating payloads;
// zero-length chunks (incl. a zero-length final terminator) are legal
func (fr *Reader) readChunked() (payload []byte, _ error) {
	for {
		if _, err := io.ReadFull(fr.r, fr.hdr[:sizeChunkHdr]); err != nil {
			if payload != nil {
				fr.mm.Free(payload)
			}
			return nil, err
		}
		h := binary.BigEndian.Uint16(fr.hdr[:sizeChunkHdr])
		n := int(h & lenMask)
		if payload == nil {
			payload, _ = fr.mm.AllocSize(int64(n))
			payload = payload[:0]
		}
		off := len(payload)
		payload = append(payload, make([]byte, n)...)
		if _, err := io.ReadFull(fr.r, payload[off:off+n]); err != nil {
			fr.mm.Free(payload)
			return nil, err
		}
		if h&finalBit != 0 {
			return payload, nil
		}
	}
}
