// Package cmn provides common constants, types, and utilities for the
// remoting engine and its clients
/*
 * Copyright (c) 2024, chanlab authors. All rights reserved.
 */
package cmn

import (
	"fmt"
	"os"
	"time"

	"github.com/chanlab/remoting/cmn/cos"
	jsoniter "github.com/json-iterator/go"
)

const (
	// compression enum: validated and persisted with the config; neither the
	// frame codec (lz4 follows the negotiated capability) nor the content
	// store (compression is a constructor argument) reads it
	CompressNever  = "never"
	CompressAlways = "always"
)

const (
	DfltWindowMax    = cos.MiB      // pipe in-flight budget
	DfltSizeRecorder = 64 * cos.KiB // flight recorder retention

	MaxSizeChunk  = 32767        // 15-bit chunk length limit
	DfltSizeChunk = MaxSizeChunk // frame chunk ceiling
)

type (
	Duration time.Duration

	WindowConf struct {
		Max int64 `json:"max"` // max in-flight unacked bytes per pipe
	}
	FrameConf struct {
		SizeChunk    int32  `json:"chunk_size"`
		SizeRecorder int32  `json:"recorder_size"`
		Compression  string `json:"compression"` // enum { CompressNever, ... }
	}
	TimeoutConf struct {
		JoinWatchdog Duration `json:"join_watchdog"` // periodic wakeup while joined waiters block
		ReadAhead    Duration `json:"read_ahead"`    // corruption diagnostics read-ahead bound
		Flush        Duration `json:"flush"`
	}
	HKConf struct {
		Interval  Duration `json:"interval"`
		GCExports int64    `json:"gc_exports"` // emit compat GC command every so many exports
	}
	LogConf struct {
		Dir     string `json:"dir"`
		Verbose bool   `json:"verbose"`
	}

	Config struct {
		Window  WindowConf  `json:"window"`
		Frame   FrameConf   `json:"frame"`
		Timeout TimeoutConf `json:"timeout"`
		HK      HKConf      `json:"hk"`
		Log     LogConf     `json:"log"`
	}
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

////////////////
// Duration   //
////////////////

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.D().String()) }

func (d *Duration) UnmarshalJSON(b []byte) (err error) {
	var s string
	if err = json.Unmarshal(b, &s); err != nil {
		return
	}
	v, err := time.ParseDuration(s)
	*d = Duration(v)
	return
}

////////////
// Config //
////////////

func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

func (c *Config) SetDefaults() {
	if c.Window.Max == 0 {
		c.Window.Max = DfltWindowMax
	}
	if c.Frame.SizeChunk == 0 {
		c.Frame.SizeChunk = DfltSizeChunk
	}
	if c.Frame.SizeRecorder == 0 {
		c.Frame.SizeRecorder = DfltSizeRecorder
	}
	if c.Frame.Compression == "" {
		c.Frame.Compression = CompressNever
	}
	if c.Timeout.JoinWatchdog == 0 {
		c.Timeout.JoinWatchdog = Duration(30 * time.Second)
	}
	if c.Timeout.ReadAhead == 0 {
		c.Timeout.ReadAhead = Duration(time.Second)
	}
	if c.Timeout.Flush == 0 {
		c.Timeout.Flush = Duration(10 * time.Second)
	}
	if c.HK.Interval == 0 {
		c.HK.Interval = Duration(time.Minute)
	}
	if c.HK.GCExports == 0 {
		c.HK.GCExports = 10000
	}
}

func (c *Config) Validate() error {
	if c.Frame.SizeChunk <= 0 || c.Frame.SizeChunk > MaxSizeChunk {
		return fmt.Errorf("invalid chunk size %d (must be in (0, %d])", c.Frame.SizeChunk, MaxSizeChunk)
	}
	if c.Window.Max < int64(c.Frame.SizeChunk) {
		return fmt.Errorf("window max %d smaller than chunk size %d", c.Window.Max, c.Frame.SizeChunk)
	}
	if c.Frame.SizeRecorder < 0 {
		return fmt.Errorf("invalid recorder size %d", c.Frame.SizeRecorder)
	}
	switch c.Frame.Compression {
	case CompressNever, CompressAlways:
	default:
		return fmt.Errorf("invalid compression mode %q", c.Frame.Compression)
	}
	return nil
}

func LoadConfig(fqn string) (*Config, error) {
	b, err := os.ReadFile(fqn)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %v", fqn, err)
	}
	cfg.SetDefaults()
	return cfg, cfg.Validate()
}

func SaveConfig(fqn string, c *Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fqn, b, 0o644)
}
