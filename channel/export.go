// Package channel implements one endpoint of a symmetric, full-duplex
// remoting session: export table, request dispatcher, invocation proxies,
// flow-controlled pipes, and the channel lifecycle
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package channel

import (
	"reflect"
	"runtime"
	"sync"

	"github.com/chanlab/remoting/cmn"
	"github.com/chanlab/remoting/cmn/atomic"
	"github.com/chanlab/remoting/cmn/debug"
	"github.com/chanlab/remoting/cmn/nlog"
)

const (
	// OID of the channel itself, exported at setup
	ChannelOID = 1

	// pin addend: large enough to never drain via unexports
	pinned = int64(1) << 40
)

type (
	// Invokable is the capability through which remote peers call into an
	// exported object: one explicit dispatch point keyed by selector
	// (no reflection)
	Invokable interface {
		Invoke(ch *Channel, method string, args []any) (any, error)
	}

	export struct {
		obj       any // Invokable, or io.Writer for pipe output streams
		createdAt string
		selectors []string
		refcnt    int64
		auto      bool
	}

	// ExportTable maps oids to objects visible to the peer. An entry
	// exists iff its refcount is >= 1; oids are monotone, never reused.
	// byObj reverse-maps comparable objects so that re-exporting returns
	// the existing oid (stable identity across the wire).
	ExportTable struct {
		entries   map[uint32]*export
		byObj     map[any]uint32
		recording []*recording
		next      uint32
		total     atomic.Int64 // exports ever (drives the compat GC cadence)
		mu        sync.Mutex
	}

	// recording accumulates the oids exported within a scope so that they
	// can be released together when the scope ends
	recording struct {
		tbl  *ExportTable
		oids []uint32
	}
)

func newExportTable() *ExportTable {
	return &ExportTable{
		entries: make(map[uint32]*export, 8),
		byObj:   make(map[any]uint32, 8),
	}
}

// Export allocates a fresh oid with refcount 1; exporting an object that
// is already in the table adds a reference to the existing entry instead
func (tbl *ExportTable) Export(selectors []string, obj any, auto bool) (oid uint32) {
	keyed := obj != nil && reflect.TypeOf(obj).Comparable()
	tbl.mu.Lock()
	if keyed {
		if oid, ok := tbl.byObj[obj]; ok {
			tbl.entries[oid].refcnt++
			tbl.mu.Unlock()
			return oid
		}
	}
	ent := &export{obj: obj, selectors: selectors, refcnt: 1, auto: auto}
	if debug.ON() {
		buf := make([]byte, 2048)
		ent.createdAt = string(buf[:runtime.Stack(buf, false)])
	}
	tbl.next++
	oid = tbl.next
	tbl.entries[oid] = ent
	if keyed {
		tbl.byObj[obj] = oid
	}
	for _, rec := range tbl.recording {
		rec.oids = append(rec.oids, oid)
	}
	tbl.mu.Unlock()
	tbl.total.Inc()
	return
}

func (tbl *ExportTable) Get(oid uint32) (any, error) {
	tbl.mu.Lock()
	ent, ok := tbl.entries[oid]
	tbl.mu.Unlock()
	if !ok {
		return nil, cmn.NewErrNoSuchObject(oid)
	}
	return ent.obj, nil
}

func (tbl *ExportTable) Selectors(oid uint32) []string {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	if ent, ok := tbl.entries[oid]; ok {
		return ent.selectors
	}
	return nil
}

// Pin effectively disables reclamation of the entry
func (tbl *ExportTable) Pin(oid uint32) {
	tbl.mu.Lock()
	if ent, ok := tbl.entries[oid]; ok {
		ent.refcnt += pinned
	}
	tbl.mu.Unlock()
}

// AddRef is taken whenever the local side hands out one more reference
func (tbl *ExportTable) AddRef(oid uint32) {
	tbl.mu.Lock()
	if ent, ok := tbl.entries[oid]; ok {
		ent.refcnt++
	}
	tbl.mu.Unlock()
}

// UnexportByOID drops one reference, removing the entry at zero; a missing
// oid is an error only when severeIfMissing
func (tbl *ExportTable) UnexportByOID(oid uint32, cause error, severeIfMissing bool) {
	tbl.mu.Lock()
	ent, ok := tbl.entries[oid]
	if ok {
		ent.refcnt--
		if ent.refcnt <= 0 {
			delete(tbl.entries, oid)
			if ent.obj != nil && reflect.TypeOf(ent.obj).Comparable() {
				delete(tbl.byObj, ent.obj)
			}
		}
	}
	tbl.mu.Unlock()
	if !ok {
		if severeIfMissing {
			nlog.Errorf("attempt to unexport missing oid %d (cause: %v)", oid, cause)
		} else {
			nlog.Warningf("unexport: oid %d already gone (cause: %v)", oid, cause)
		}
	}
}

// StartRecording opens a scope that accumulates all exports until stopped
func (tbl *ExportTable) StartRecording() *recording {
	rec := &recording{tbl: tbl}
	tbl.mu.Lock()
	tbl.recording = append(tbl.recording, rec)
	tbl.mu.Unlock()
	return rec
}

// StopAndRelease closes the scope and unexports what it recorded; when
// autoOnly, entries exported without the auto-unexport flag survive the
// scope (they are owned by explicit references)
func (rec *recording) StopAndRelease(cause error, autoOnly bool) {
	tbl := rec.tbl
	tbl.mu.Lock()
	for i, r := range tbl.recording {
		if r == rec {
			tbl.recording = append(tbl.recording[:i], tbl.recording[i+1:]...)
			break
		}
	}
	oids := rec.oids[:0]
	for _, oid := range rec.oids {
		if ent, ok := tbl.entries[oid]; ok && (!autoOnly || ent.auto) {
			oids = append(oids, oid)
		}
	}
	tbl.mu.Unlock()
	for _, oid := range oids {
		tbl.UnexportByOID(oid, cause, false)
	}
}

// Abort drops all entries (channel termination; breaks reference cycles)
func (tbl *ExportTable) Abort(cause error) {
	tbl.mu.Lock()
	n := len(tbl.entries)
	tbl.entries = make(map[uint32]*export)
	tbl.byObj = make(map[any]uint32)
	tbl.recording = nil
	tbl.mu.Unlock()
	if n > 0 {
		nlog.Infof("export table aborted: dropped %d entr%s (cause: %v)", n, iesOrY(n), cause)
	}
}

func (tbl *ExportTable) Len() int {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	return len(tbl.entries)
}

func (tbl *ExportTable) Total() int64 { return tbl.total.Load() }

func iesOrY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
