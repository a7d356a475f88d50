// Package cmn provides common constants, types, and utilities for the
// remoting engine and its clients
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package cmn_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/chanlab/remoting/cmn"
)

func TestDefaults(t *testing.T) {
	cfg := cmn.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Window.Max != cmn.DfltWindowMax || cfg.Frame.SizeChunk != cmn.DfltSizeChunk {
		t.Fatalf("%+v", cfg)
	}
	if cfg.Timeout.JoinWatchdog.D() != 30*time.Second {
		t.Fatalf("watchdog %v", cfg.Timeout.JoinWatchdog.D())
	}
}

func TestValidate(t *testing.T) {
	bad := []func(*cmn.Config){
		func(c *cmn.Config) { c.Frame.SizeChunk = cmn.MaxSizeChunk + 1 },
		func(c *cmn.Config) { c.Frame.SizeChunk = -1 },
		func(c *cmn.Config) { c.Window.Max = 16 },
		func(c *cmn.Config) { c.Frame.Compression = "sometimes" },
	}
	for i, mutate := range bad {
		cfg := cmn.DefaultConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	fqn := filepath.Join(t.TempDir(), "config.json")
	cfg := cmn.DefaultConfig()
	cfg.Window.Max = 123456
	cfg.Timeout.ReadAhead = cmn.Duration(250 * time.Millisecond)
	cfg.Log.Verbose = true
	if err := cmn.SaveConfig(fqn, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := cmn.LoadConfig(fqn)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Window.Max != 123456 || loaded.Timeout.ReadAhead.D() != 250*time.Millisecond || !loaded.Log.Verbose {
		t.Fatalf("%+v", loaded)
	}
}
