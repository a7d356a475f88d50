// Package atomic provides simple wrappers around numerics to enforce atomic access
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package atomic

import (
	"sync/atomic"
	"time"
)

type (
	Bool   struct{ v atomic.Bool }
	Int32  struct{ v atomic.Int32 }
	Uint32 struct{ v atomic.Uint32 }
	Int64  struct{ v atomic.Int64 }
	Uint64 struct{ v atomic.Uint64 }

	// wall-clock time with atomic access, unix-nano internally
	Time struct{ v atomic.Int64 }
)

func NewBool(b bool) *Bool { a := &Bool{}; a.Store(b); return a }
func NewInt32(i int32) *Int32 { a := &Int32{}; a.Store(i); return a }
func NewInt64(i int64) *Int64 { a := &Int64{}; a.Store(i); return a }
func NewUint32(u uint32) *Uint32 { a := &Uint32{}; a.Store(u); return a }
func NewUint64(u uint64) *Uint64 { a := &Uint64{}; a.Store(u); return a }

func (a *Bool) Load() bool { return a.v.Load() }
func (a *Bool) Store(b bool) { a.v.Store(b) }
func (a *Bool) CAS(o, n bool) bool { return a.v.CompareAndSwap(o, n) }
func (a *Bool) Swap(n bool) bool { return a.v.Swap(n) }
func (a *Bool) Toggle() (prev bool) { return a.v.Swap(true) }

func (a *Int32) Load() int32 { return a.v.Load() }
func (a *Int32) Store(n int32) { a.v.Store(n) }
func (a *Int32) Add(n int32) int32 { return a.v.Add(n) }
func (a *Int32) Inc() int32 { return a.v.Add(1) }
func (a *Int32) Dec() int32 { return a.v.Add(-1) }
func (a *Int32) CAS(o, n int32) bool { return a.v.CompareAndSwap(o, n) }

func (a *Uint32) Load() uint32 { return a.v.Load() }
func (a *Uint32) Store(n uint32) { a.v.Store(n) }
func (a *Uint32) Add(n uint32) uint32 { return a.v.Add(n) }
func (a *Uint32) Inc() uint32 { return a.v.Add(1) }
func (a *Uint32) CAS(o, n uint32) bool { return a.v.CompareAndSwap(o, n) }

func (a *Int64) Load() int64 { return a.v.Load() }
func (a *Int64) Store(n int64) { a.v.Store(n) }
func (a *Int64) Add(n int64) int64 { return a.v.Add(n) }
func (a *Int64) Inc() int64 { return a.v.Add(1) }
func (a *Int64) Dec() int64 { return a.v.Add(-1) }
func (a *Int64) Swap(n int64) int64 { return a.v.Swap(n) }
func (a *Int64) CAS(o, n int64) bool { return a.v.CompareAndSwap(o, n) }

func (a *Uint64) Load() uint64 { return a.v.Load() }
func (a *Uint64) Store(n uint64) { a.v.Store(n) }
func (a *Uint64) Add(n uint64) uint64 { return a.v.Add(n) }
func (a *Uint64) Inc() uint64 { return a.v.Add(1) }
func (a *Uint64) CAS(o, n uint64) bool { return a.v.CompareAndSwap(o, n) }

func (a *Time) Load() time.Time { return time.Unix(0, a.v.Load()) }
func (a *Time) LoadNano() int64 { return a.v.Load() }
func (a *Time) Store(t time.Time) { a.v.Store(t.UnixNano()) }
func (a *Time) StoreNow() { a.v.Store(time.Now().UnixNano()) }
func (a *Time) IsZero() bool { return a.v.Load() == 0 }
