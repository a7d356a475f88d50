// Package channel implements one endpoint of a symmetric, full-duplex
// remoting session
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package channel

import (
	"errors"
	"testing"

	"github.com/chanlab/remoting/cmn"
)

type dummy struct{ id int }

func (*dummy) Selectors() []string { return []string{"noop"} }
func (*dummy) Invoke(*Channel, string, []any) (any, error) {
	return nil, nil
}

func TestExportTableBasics(t *testing.T) {
	tbl := newExportTable()
	d1, d2 := &dummy{1}, &dummy{2}

	oid1 := tbl.Export(d1.Selectors(), d1, false)
	oid2 := tbl.Export(d2.Selectors(), d2, false)
	if oid1 != 1 || oid2 != 2 {
		t.Fatalf("oids %d, %d: must be monotone from 1", oid1, oid2)
	}

	// stable: same object for the table's lifetime
	for i := 0; i < 3; i++ {
		obj, err := tbl.Get(oid1)
		if err != nil {
			t.Fatal(err)
		}
		if obj != d1 {
			t.Fatalf("got %v", obj)
		}
	}

	// re-export returns the existing oid
	if again := tbl.Export(d1.Selectors(), d1, false); again != oid1 {
		t.Fatalf("re-export: %d != %d", again, oid1)
	}
	// two refs now: one unexport keeps the entry
	tbl.UnexportByOID(oid1, nil, false)
	if _, err := tbl.Get(oid1); err != nil {
		t.Fatal(err)
	}
	tbl.UnexportByOID(oid1, nil, false)
	if _, err := tbl.Get(oid1); !cmn.IsErrNoSuchObject(err) {
		t.Fatalf("expected NoSuchObject, got %v", err)
	}
	// unexport of a missing oid with severe=false is a logged no-op
	tbl.UnexportByOID(oid1, errors.New("double"), false)

	// oids never reused
	d3 := &dummy{3}
	if oid3 := tbl.Export(d3.Selectors(), d3, false); oid3 != 3 {
		t.Fatalf("oid %d reused", oid3)
	}
}

func TestExportTablePin(t *testing.T) {
	tbl := newExportTable()
	d := &dummy{}
	oid := tbl.Export(d.Selectors(), d, false)
	tbl.Pin(oid)
	for i := 0; i < 100; i++ {
		tbl.UnexportByOID(oid, nil, false)
	}
	if _, err := tbl.Get(oid); err != nil {
		t.Fatalf("pinned entry reclaimed: %v", err)
	}
}

func TestExportTableRecording(t *testing.T) {
	tbl := newExportTable()
	keep := &dummy{1}
	kept := tbl.Export(keep.Selectors(), keep, false)

	rec := tbl.StartRecording()
	auto := &dummy{2}
	explicit := &dummy{3}
	aOid := tbl.Export(auto.Selectors(), auto, true)
	eOid := tbl.Export(explicit.Selectors(), explicit, false)
	rec.StopAndRelease(nil, true /*autoOnly*/)

	if _, err := tbl.Get(aOid); !cmn.IsErrNoSuchObject(err) {
		t.Fatal("auto-export must release with its scope")
	}
	if _, err := tbl.Get(eOid); err != nil {
		t.Fatal("explicit export must survive the scope")
	}
	if _, err := tbl.Get(kept); err != nil {
		t.Fatal("pre-scope export must survive")
	}
}

func TestExportTableAbort(t *testing.T) {
	tbl := newExportTable()
	for i := 0; i < 10; i++ {
		d := &dummy{i}
		tbl.Export(d.Selectors(), d, false)
	}
	if tbl.Len() != 10 {
		t.Fatalf("len %d", tbl.Len())
	}
	tbl.Abort(errors.New("terminated"))
	if tbl.Len() != 0 {
		t.Fatalf("len %d after abort", tbl.Len())
	}
	if n := tbl.Total(); n != 10 {
		t.Fatalf("total %d", n)
	}
}

func TestWindowBudget(t *testing.T) {
	w := newWindow(1000, false)
	usable, err := w.Get(100)
	if err != nil || usable != 1000 {
		t.Fatalf("%d, %v", usable, err)
	}
	w.Decrease(900)
	usable, err = w.Get(50)
	if err != nil || usable != 100 {
		t.Fatalf("%d, %v", usable, err)
	}

	// a blocked Get wakes on Increase
	done := make(chan struct{})
	go func() {
		defer close(done)
		if usable, err := w.Get(500); err != nil || usable < 500 {
			t.Errorf("%d, %v", usable, err)
		}
	}()
	w.Increase(900)
	<-done

	// and fails once dead
	w.Decrease(1000)
	w.Dead(errors.New("consumer gone"))
	if _, err := w.Get(1); err == nil {
		t.Fatal("dead window must fail")
	}
}

func TestFakeWindow(t *testing.T) {
	w := newWindow(1000, true)
	for i := 0; i < 10; i++ {
		usable, err := w.Get(1000)
		if err != nil || usable != 1000 {
			t.Fatalf("%d, %v", usable, err)
		}
		w.Decrease(1000) // no-op on a fake window
	}
}
