// Package channel implements one endpoint of a symmetric, full-duplex
// remoting session: export table, request dispatcher, invocation proxies,
// flow-controlled pipes, and the channel lifecycle
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package channel

import (
	"sync"

	"github.com/chanlab/remoting/cmn/debug"
)

// pipe window: per remote-output-stream in-flight byte budget. A fake
// (unbounded) window stands in when pipe throttling is not negotiated.
type window struct {
	err   error // poisoned by Dead
	cond  *sync.Cond
	mu    sync.Mutex
	avail int64
	max   int64
	fake  bool
}

func newWindow(max int64, fake bool) *window {
	w := &window{avail: max, max: max, fake: fake}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Get blocks until at least atLeast bytes are available (or the window is
// dead), returning how many bytes the caller may send
func (w *window) Get(atLeast int64) (int64, error) {
	debug.Assert(atLeast > 0 && atLeast <= w.max)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fake {
		return w.max, w.err
	}
	for w.avail < atLeast && w.err == nil {
		w.cond.Wait()
	}
	if w.err != nil {
		return 0, w.err
	}
	return w.avail, nil
}

func (w *window) Decrease(n int64) {
	if w.fake {
		return
	}
	w.mu.Lock()
	w.avail -= n
	debug.Assert(w.avail >= 0)
	w.mu.Unlock()
}

func (w *window) Increase(n int64) {
	if w.fake {
		return
	}
	w.mu.Lock()
	w.avail += n
	debug.Assert(w.avail <= w.max)
	w.cond.Broadcast()
	w.mu.Unlock()
}

// Dead poisons the window; all waiters and future callers fail with cause
func (w *window) Dead(cause error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = cause
	}
	w.cond.Broadcast()
	w.mu.Unlock()
}

//
// windows registry: writer-driven register/release (no finalization)
//

type windows struct {
	m  map[uint32]*window
	mu sync.Mutex
}

func newWindows() *windows { return &windows{m: make(map[uint32]*window, 4)} }

func (ws *windows) register(oid uint32, max int64, fake bool) *window {
	ws.mu.Lock()
	w, ok := ws.m[oid]
	if !ok {
		w = newWindow(max, fake)
		ws.m[oid] = w
	}
	ws.mu.Unlock()
	return w
}

func (ws *windows) lookup(oid uint32) *window {
	ws.mu.Lock()
	w := ws.m[oid]
	ws.mu.Unlock()
	return w
}

func (ws *windows) release(oid uint32) {
	ws.mu.Lock()
	delete(ws.m, oid)
	ws.mu.Unlock()
}

func (ws *windows) abort(cause error) {
	ws.mu.Lock()
	for _, w := range ws.m {
		w.Dead(cause)
	}
	ws.m = make(map[uint32]*window)
	ws.mu.Unlock()
}
