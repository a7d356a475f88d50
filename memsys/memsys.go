// Package memsys provides pooled byte buffers (slabs) for the frame codec
// and the pipe subsystem
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package memsys

import (
	"sync"

	"github.com/chanlab/remoting/cmn/cos"
	"github.com/chanlab/remoting/cmn/debug"
)

const (
	PageSize        = 4 * cos.KiB
	DefaultBufSize  = 32 * cos.KiB
	MaxPageSlabSize = 128 * cos.KiB

	numSlabs = MaxPageSlabSize / PageSize // 4K, 8K, ..., 128K
)

type (
	Slab struct {
		pool sync.Pool
		size int64
	}
	// MMSA is a memory manager: a fixed ring of page-multiple slabs
	MMSA struct {
		name  string
		rings [numSlabs]*Slab
	}
)

var (
	pageMM   *MMSA
	oncePage sync.Once
)

// PageMM returns the process-wide page-based memory manager
func PageMM() *MMSA {
	oncePage.Do(func() {
		pageMM = newMMSA("pagemm")
	})
	return pageMM
}

func newMMSA(name string) *MMSA {
	mm := &MMSA{name: name}
	for i := range mm.rings {
		size := int64(i+1) * PageSize
		slab := &Slab{size: size}
		slab.pool.New = func() any {
			b := make([]byte, size)
			return &b
		}
		mm.rings[i] = slab
	}
	return mm
}

//////////
// MMSA //
//////////

// Alloc returns a default-size buffer
func (mm *MMSA) Alloc() (buf []byte, slab *Slab) { return mm.AllocSize(DefaultBufSize) }

// AllocSize returns a buffer of len(buf) == size, drawn from the smallest
// fitting slab; sizes beyond the largest slab fall through to plain make
func (mm *MMSA) AllocSize(size int64) (buf []byte, slab *Slab) {
	debug.Assert(size >= 0)
	if size > MaxPageSlabSize {
		return make([]byte, size), nil
	}
	slab = mm.slabForSize(size)
	buf = (*slab.pool.Get().(*[]byte))[:size]
	return
}

// Free returns the buffer to its owning slab (by capacity); no-op when the
// buffer did not come from a slab
func (mm *MMSA) Free(buf []byte) {
	c := int64(cap(buf))
	if c > MaxPageSlabSize || c < PageSize || c%PageSize != 0 {
		return
	}
	mm.rings[c/PageSize-1].free(buf)
}

func (mm *MMSA) slabForSize(size int64) *Slab {
	i := (size + PageSize - 1) / PageSize
	if i == 0 {
		i = 1
	}
	return mm.rings[i-1]
}

//////////
// Slab //
//////////

func (s *Slab) Size() int64 { return s.size }

func (s *Slab) Alloc() []byte { return (*s.pool.Get().(*[]byte))[:s.size] }

func (s *Slab) Free(buf []byte) {
	debug.Assert(int64(cap(buf)) == s.size)
	s.free(buf)
}

func (s *Slab) free(buf []byte) {
	b := buf[:cap(buf)]
	s.pool.Put(&b)
}
