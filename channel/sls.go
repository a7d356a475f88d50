// Package channel implements one endpoint of a symmetric, full-duplex
// remoting session: export table, request dispatcher, invocation proxies,
// flow-controlled pipes, and the channel lifecycle
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package channel

import (
	"sync"

	"github.com/chanlab/remoting/cmn/atomic"
	"github.com/chanlab/remoting/cmn/nlog"
)

// singleLane is the per-channel FIFO executor for pipe I/O side effects:
// at most one operation runs at a time, in submission order, so that
// Chunk/Flush/EOF for any stream execute exactly as they arrived
type (
	laneItem struct {
		f  func()
		id int64
	}
	singleLane struct {
		workCh   chan laneItem
		stopOnce sync.Once
		stopCh   chan struct{}
		cond     *sync.Cond
		mu       sync.Mutex
		lastSub  atomic.Int64 // last submitted io-id
		lastDone int64        // under mu
	}
)

const laneBurst = 128

func newSingleLane() *singleLane {
	l := &singleLane{
		workCh: make(chan laneItem, laneBurst),
		stopCh: make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Submit enqueues f and returns its io-id (monotone per channel)
func (l *singleLane) Submit(f func()) int64 {
	id := l.lastSub.Inc()
	select {
	case l.workCh <- laneItem{f: f, id: id}:
	case <-l.stopCh:
		// terminated channel: complete the id so SyncIO waiters make progress
		l.complete(id)
	}
	return id
}

// LastSubmitted returns the io-id of the most recent submission
func (l *singleLane) LastSubmitted() int64 { return l.lastSub.Load() }

// SyncIO blocks until all submissions up to and including upTo have run
func (l *singleLane) SyncIO(upTo int64) {
	l.mu.Lock()
	for l.lastDone < upTo {
		select {
		case <-l.stopCh:
			l.mu.Unlock()
			return
		default:
		}
		l.cond.Wait()
	}
	l.mu.Unlock()
}

func (l *singleLane) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.cond.Broadcast()
	})
}

func (l *singleLane) run() {
	for {
		select {
		case item := <-l.workCh:
			l.exec(item)
		case <-l.stopCh:
			// drain what is already enqueued, then quit
			for {
				select {
				case item := <-l.workCh:
					l.complete(item.id)
				default:
					l.mu.Lock()
					l.cond.Broadcast()
					l.mu.Unlock()
					return
				}
			}
		}
	}
}

func (l *singleLane) exec(item laneItem) {
	defer func() {
		if r := recover(); r != nil {
			nlog.Errorf("pipe I/O panic: %v", r)
		}
		l.complete(item.id)
	}()
	item.f()
}

func (l *singleLane) complete(id int64) {
	l.mu.Lock()
	if id > l.lastDone {
		l.lastDone = id
	}
	l.cond.Broadcast()
	l.mu.Unlock()
}
