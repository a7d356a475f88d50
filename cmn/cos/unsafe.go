// Package cos provides common low-level types and utilities for the remoting engine
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package cos

import (
	"unsafe"
)

// UnsafeS casts bytes to an immutable string (no allocation)
func UnsafeS(b []byte) string { return *(*string)(unsafe.Pointer(&b)) }

// UnsafeB casts an immutable string to bytes (no allocation)
func UnsafeB(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
