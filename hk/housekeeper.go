// Package hk provides mechanism for registering cleanup
// functions which are invoked at specified intervals.
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package hk

import (
	"container/heap"
	"sync"
	"time"

	"github.com/chanlab/remoting/cmn/cos"
	"github.com/chanlab/remoting/cmn/debug"
	"github.com/chanlab/remoting/cmn/mono"
	"github.com/chanlab/remoting/cmn/nlog"
)

const NameSuffix = ".gc" // reg name suffix

const (
	DayInterval   = 24 * time.Hour
	UnregInterval = DayInterval + DayInterval // to unregister upon return

	minInterval = time.Second
)

type (
	// CleanupFunc is called by the housekeeper at (self-reported) intervals;
	// the returned duration schedules the next call
	CleanupFunc func() time.Duration

	request struct {
		f        CleanupFunc
		name     string
		interval time.Duration
		reg      bool
	}
	timedAction struct {
		f          CleanupFunc
		name       string
		updateTime int64 // mono nanos
	}
	timedActions []timedAction

	housekeeper struct {
		stopCh  *cos.StopCh
		sigCh   chan struct{}
		actions *timedActions
		timer   *time.Timer
		mu      sync.Mutex
		running sync.WaitGroup
	}
)

var DefaultHK *housekeeper

// interface guard
var _ cos.Runner = (*housekeeper)(nil)

func init() {
	DefaultHK = &housekeeper{
		stopCh:  cos.NewStopCh(),
		sigCh:   make(chan struct{}, 1),
		actions: &timedActions{},
	}
	heap.Init(DefaultHK.actions)
	DefaultHK.running.Add(1)
}

func TestInit() {
	DefaultHK.stopCh = cos.NewStopCh()
}

func WaitStarted() { DefaultHK.running.Wait() }

func Reg(name string, f CleanupFunc, interval time.Duration) {
	debug.Assert(nonZeroInterval(interval))
	DefaultHK.updating(request{reg: true, name: name, f: f, interval: interval})
}

func Unreg(name string) {
	DefaultHK.updating(request{reg: false, name: name})
}

func (hk *housekeeper) Name() string { return "housekeeper" }

func (hk *housekeeper) Run() (err error) {
	hk.timer = time.NewTimer(time.Hour)
	defer hk.timer.Stop()
	hk.running.Done()
	for {
		select {
		case <-hk.stopCh.Listen():
			return nil
		case <-hk.timer.C:
			hk.do()
		case <-hk.sigCh:
			hk.mu.Lock()
			hk.rearm()
			hk.mu.Unlock()
		}
	}
}

func (hk *housekeeper) Stop(err error) {
	if err != nil {
		nlog.Infof("Stopping %s, err: %v", hk.Name(), err)
	}
	hk.stopCh.Close()
}

func (hk *housekeeper) updating(req request) {
	hk.mu.Lock()
	if req.reg {
		now := mono.NanoTime()
		heap.Push(hk.actions, timedAction{name: req.name, f: req.f, updateTime: now + req.interval.Nanoseconds()})
	} else {
		for i, tk := range *hk.actions {
			if tk.name == req.name {
				heap.Remove(hk.actions, i)
				break
			}
		}
	}
	hk.mu.Unlock()
	// wake up the runner to re-arm its timer
	select {
	case hk.sigCh <- struct{}{}:
	default:
	}
}

func (hk *housekeeper) do() {
	hk.mu.Lock()
	now := mono.NanoTime()
	for hk.actions.Len() > 0 {
		next := (*hk.actions)[0]
		if next.updateTime > now {
			break
		}
		heap.Pop(hk.actions)
		hk.mu.Unlock()
		interval := next.f()
		hk.mu.Lock()
		if interval != UnregInterval {
			next.updateTime = now + interval.Nanoseconds()
			heap.Push(hk.actions, next)
		}
	}
	hk.rearm()
	hk.mu.Unlock()
}

// under lock
func (hk *housekeeper) rearm() {
	if hk.actions.Len() == 0 {
		hk.timer.Reset(time.Hour)
		return
	}
	d := time.Duration((*hk.actions)[0].updateTime - mono.NanoTime())
	if d < minInterval {
		d = minInterval
	}
	hk.timer.Reset(d)
}

func nonZeroInterval(interval time.Duration) bool { return interval > 0 }

//
// as min-heap
//

func (tk timedActions) Len() int { return len(tk) }
func (tk timedActions) Less(i, j int) bool { return tk[i].updateTime < tk[j].updateTime }
func (tk timedActions) Swap(i, j int) { tk[i], tk[j] = tk[j], tk[i] }
func (tk timedActions) Peek() *timedAction { return &tk[0] }
func (tk *timedActions) Push(x any) { *tk = append(*tk, x.(timedAction)) }
func (tk *timedActions) Pop() any {
	old := *tk
	n := len(old)
	item := old[n-1]
	*tk = old[:n-1]
	return item
}
