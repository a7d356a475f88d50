// Package cmn provides common constants, types, and utilities for the
// remoting engine and its clients
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package cmn

import (
	"time"
)

// read-mostly and most often used knobs: assigned at startup (and on config
// reload) to avoid config pointer-chasing on hot paths

type readMostly struct {
	windowMax    int64
	sizeChunk    int32
	sizeRecorder int32
	joinWatchdog time.Duration
	readAhead    time.Duration
	verbose      bool
}

var Rom readMostly

func init() {
	Rom.Set(DefaultConfig())
}

func (rom *readMostly) Set(cfg *Config) {
	rom.windowMax = cfg.Window.Max
	rom.sizeChunk = cfg.Frame.SizeChunk
	rom.sizeRecorder = cfg.Frame.SizeRecorder
	rom.joinWatchdog = cfg.Timeout.JoinWatchdog.D()
	rom.readAhead = cfg.Timeout.ReadAhead.D()
	rom.verbose = cfg.Log.Verbose
}

func (rom *readMostly) WindowMax() int64 { return rom.windowMax }
func (rom *readMostly) SizeChunk() int32 { return rom.sizeChunk }
func (rom *readMostly) SizeRecorder() int32 { return rom.sizeRecorder }
func (rom *readMostly) JoinWatchdog() time.Duration { return rom.joinWatchdog }
func (rom *readMostly) ReadAhead() time.Duration { return rom.readAhead }
func (rom *readMostly) Verbose() bool { return rom.verbose }
