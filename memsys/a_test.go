// Package memsys provides pooled byte buffers (slabs) for the frame codec
// and the pipe subsystem
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package memsys_test

import (
	"testing"

	"github.com/chanlab/remoting/cmn/cos"
	"github.com/chanlab/remoting/memsys"
)

func TestAllocSize(t *testing.T) {
	mm := memsys.PageMM()
	for _, size := range []int64{0, 1, memsys.PageSize, memsys.PageSize + 1, memsys.DefaultBufSize, memsys.MaxPageSlabSize} {
		buf, slab := mm.AllocSize(size)
		if int64(len(buf)) != size {
			t.Fatalf("len %d, want %d", len(buf), size)
		}
		if slab == nil {
			t.Fatalf("size %d: expected a slab", size)
		}
		if int64(cap(buf)) < size || int64(cap(buf)) != slab.Size() {
			t.Fatalf("cap %d, slab %d", cap(buf), slab.Size())
		}
		slab.Free(buf)
	}
}

func TestAllocOversize(t *testing.T) {
	mm := memsys.PageMM()
	buf, slab := mm.AllocSize(cos.MiB)
	if slab != nil {
		t.Fatal("oversize allocations bypass the slabs")
	}
	if len(buf) != cos.MiB {
		t.Fatalf("len %d", len(buf))
	}
	mm.Free(buf) // no-op, must not panic
}

func TestReuse(t *testing.T) {
	mm := memsys.PageMM()
	buf, _ := mm.AllocSize(memsys.PageSize)
	buf[0] = 0xee
	mm.Free(buf)
	again, _ := mm.AllocSize(memsys.PageSize)
	if cap(again) != cap(buf) {
		t.Fatalf("cap %d != %d", cap(again), cap(buf))
	}
	mm.Free(again)
}
