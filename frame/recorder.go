// Package frame implements the layered wire framing that carries serialized
// commands: chunked and legacy modes, setup sentinels, capability preamble,
// optional lz4 compression, and the corruption flight recorder
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package frame

import (
	"io"
	"sync"
	"time"
)

// Recorder is a pass-through reader retaining the last N bytes read, for
// stream-corruption diagnostics
type Recorder struct {
	r     io.Reader
	ring  []byte
	woff  int64 // total bytes ever read
	mu    sync.Mutex
}

func NewRecorder(r io.Reader, size int32) *Recorder {
	return &Recorder{r: r, ring: make([]byte, size)}
}

func (rec *Recorder) Read(b []byte) (n int, err error) {
	n, err = rec.r.Read(b)
	if n > 0 {
		rec.record(b[:n])
	}
	return
}

func (rec *Recorder) record(b []byte) {
	rec.mu.Lock()
	for _, c := range b {
		rec.ring[rec.woff%int64(len(rec.ring))] = c
		rec.woff++
	}
	rec.mu.Unlock()
}

// Dump returns the retained bytes in read order
func (rec *Recorder) Dump() []byte {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	size := int64(len(rec.ring))
	if rec.woff <= size {
		out := make([]byte, rec.woff)
		copy(out, rec.ring[:rec.woff])
		return out
	}
	out := make([]byte, size)
	pos := rec.woff % size
	copy(out, rec.ring[pos:])
	copy(out[size-pos:], rec.ring[:pos])
	return out
}

// ReadAhead drains up to limit additional bytes for at most d, best-effort;
// the caller is never blocked past the deadline (the draining goroutine is
// abandoned if the underlying read hangs)
func (rec *Recorder) ReadAhead(d time.Duration, limit int) []byte {
	var (
		mu    sync.Mutex
		ahead []byte
		done  = make(chan struct{})
	)
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			mu.Lock()
			full := len(ahead) >= limit
			mu.Unlock()
			if full {
				return
			}
			n, err := rec.r.Read(buf)
			if n > 0 {
				mu.Lock()
				ahead = append(ahead, buf[:n]...)
				mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(d):
	}
	mu.Lock()
	out := make([]byte, len(ahead))
	copy(out, ahead)
	mu.Unlock()
	return out
}
