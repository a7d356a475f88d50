//go:build debug

// Package debug provides debug utilities
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package debug

import (
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/chanlab/remoting/cmn/nlog"
)

func ON() bool { return true }

func Infof(format string, a ...any) {
	nlog.InfoDepth(1, fmt.Sprintf("[DEBUG] "+format, a...))
}

func Func(f func()) { f() }

func Assert(cond bool, a ...any) {
	if cond {
		return
	}
	msg := "DEBUG PANIC"
	if len(a) > 0 {
		msg += ": " + fmt.Sprint(a...)
	}
	die(msg)
}

func AssertFunc(f func() bool, a ...any) { Assert(f(), a...) }

func AssertNoErr(err error) {
	if err != nil {
		die("DEBUG PANIC: " + err.Error())
	}
}

func Assertf(cond bool, format string, a ...any) {
	if !cond {
		die("DEBUG PANIC: " + fmt.Sprintf(format, a...))
	}
}

func FailTypeCast(v any) {
	die("DEBUG PANIC: unexpected type: " + reflect.TypeOf(v).String())
}

func AssertMutexLocked(mtx *sync.Mutex) {
	if mtx.TryLock() {
		mtx.Unlock()
		die("DEBUG PANIC: Mutex not locked")
	}
}

func AssertRWMutexLocked(mtx *sync.RWMutex) {
	if mtx.TryLock() {
		mtx.Unlock()
		die("DEBUG PANIC: RWMutex not locked")
	}
}

func die(msg string) {
	nlog.ErrorDepth(2, msg)
	nlog.Flush(true)
	os.Stderr.WriteString(msg + "\n")
	panic(msg)
}
