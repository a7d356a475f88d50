// Package channel implements one endpoint of a symmetric, full-duplex
// remoting session: export table, request dispatcher, invocation proxies,
// flow-controlled pipes, and the channel lifecycle
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package channel

import (
	"sync"

	"github.com/chanlab/remoting/cmn/nlog"
	"github.com/chanlab/remoting/proto"
)

type (
	// Listener observes channel shutdown; cause is nil for a clean close
	Listener interface {
		OnClosed(ch *Channel, cause error)
	}

	// TrafficListener additionally observes per-command completions with
	// serialized sizes
	TrafficListener interface {
		Listener
		OnRead(ch *Channel, cmd proto.Command, size int)
		OnWrite(ch *Channel, cmd proto.Command, size int)
	}

	listeners struct {
		all []Listener
		mu  sync.Mutex
	}
)

func newListeners() *listeners { return &listeners{} }

func (ls *listeners) add(l Listener) {
	ls.mu.Lock()
	ls.all = append(ls.all, l)
	ls.mu.Unlock()
}

func (ls *listeners) remove(l Listener) {
	ls.mu.Lock()
	for i, have := range ls.all {
		if have == l {
			ls.all = append(ls.all[:i], ls.all[i+1:]...)
			break
		}
	}
	ls.mu.Unlock()
}

func (ls *listeners) snapshot() []Listener {
	ls.mu.Lock()
	out := make([]Listener, len(ls.all))
	copy(out, ls.all)
	ls.mu.Unlock()
	return out
}

// listener failures are logged, never re-raised into the channel
func guard(what string) {
	if r := recover(); r != nil {
		nlog.Errorf("listener panic (%s): %v", what, r)
	}
}

func (ls *listeners) notifyClosed(ch *Channel, cause error) {
	for _, l := range ls.snapshot() {
		func() {
			defer guard("closed")
			l.OnClosed(ch, cause)
		}()
	}
}

func (ls *listeners) notifyRead(ch *Channel, cmd proto.Command, size int) {
	for _, l := range ls.snapshot() {
		if tl, ok := l.(TrafficListener); ok {
			func() {
				defer guard("read")
				tl.OnRead(ch, cmd, size)
			}()
		}
	}
}

func (ls *listeners) notifyWrite(ch *Channel, cmd proto.Command, size int) {
	for _, l := range ls.snapshot() {
		if tl, ok := l.(TrafficListener); ok {
			func() {
				defer guard("write")
				tl.OnWrite(ch, cmd, size)
			}()
		}
	}
}

//
// channel surface
//

func (ch *Channel) AddListener(l Listener) { ch.listeners.add(l) }
func (ch *Channel) RemoveListener(l Listener) { ch.listeners.remove(l) }
