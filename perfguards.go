// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucore

import (
	"sync"
	"sync/atomic"
	"time"
)

// PerfGuardsConfig is the recognized option set from spec.md §4.3.
type PerfGuardsConfig struct {
	AllowGPUReadback bool
	TrackSubmitCount bool
	TrackAllocations bool
	LogExpensiveOps  bool
	StrictMode       bool
}

// ProductionPreset disables readback entirely and all tracking; strict.
func ProductionPreset() PerfGuardsConfig {
	return PerfGuardsConfig{StrictMode: true}
}

// DebugPreset enables every tracking knob and readback; non-strict.
func DebugPreset() PerfGuardsConfig {
	return PerfGuardsConfig{
		AllowGPUReadback: true,
		TrackSubmitCount: true,
		TrackAllocations: true,
		LogExpensiveOps:  true,
	}
}

// BenchmarkPreset enables tracking (for statistics) without the logging
// overhead, and allows readback; non-strict.
func BenchmarkPreset() PerfGuardsConfig {
	return PerfGuardsConfig{
		AllowGPUReadback: true,
		TrackSubmitCount: true,
		TrackAllocations: true,
	}
}

// SilentPreset returns the same configuration as ProductionPreset. The
// preset value itself does not touch the package logger; EnableSilentMode
// applies it and also mutes the logger, for hosts that manage their own
// logging (spec.md SPEC_FULL §6).
func SilentPreset() PerfGuardsConfig {
	return ProductionPreset()
}

// PerfGuardsStats is a plain-data snapshot of the tracked counters.
type PerfGuardsStats struct {
	Submits      uint64
	Allocations  uint64
	Readbacks    uint64
	SessionStart time.Time
}

// PerfGuards gates readbacks and tracks allocation/submission counters
// (spec.md §4.3). Unlike the teacher's package-level mutable scalars, this
// is an explicit value a Context owns, per the redesign note in spec.md §9.
type PerfGuards struct {
	mu  sync.Mutex
	cfg PerfGuardsConfig

	submits      atomic.Uint64
	allocations  atomic.Uint64
	readbacks    atomic.Uint64
	sessionStart time.Time
}

// NewPerfGuards creates guards with the given configuration.
func NewPerfGuards(cfg PerfGuardsConfig) *PerfGuards {
	return &PerfGuards{cfg: cfg, sessionStart: time.Now()}
}

// Config returns a copy of the current configuration.
func (g *PerfGuards) Config() PerfGuardsConfig {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}

// EnableProductionMode replaces the configuration with ProductionPreset().
func (g *PerfGuards) EnableProductionMode() {
	g.mu.Lock()
	g.cfg = ProductionPreset()
	g.mu.Unlock()
}

// EnableDebugMode replaces the configuration with DebugPreset().
func (g *PerfGuards) EnableDebugMode() {
	g.mu.Lock()
	g.cfg = DebugPreset()
	g.mu.Unlock()
}

// EnableBenchmarkMode replaces the configuration with BenchmarkPreset().
func (g *PerfGuards) EnableBenchmarkMode() {
	g.mu.Lock()
	g.cfg = BenchmarkPreset()
	g.mu.Unlock()
}

// EnableSilentMode replaces the configuration with SilentPreset() and
// additionally mutes the package logger.
func (g *PerfGuards) EnableSilentMode() {
	g.mu.Lock()
	g.cfg = SilentPreset()
	g.mu.Unlock()
	SetLogger(nil)
}

// AllowReadback reports whether a readback may proceed. When
// AllowGPUReadback is false, it returns (false, nil) unless StrictMode is
// set, in which case it returns (false, ErrReadbackBlocked).
func (g *PerfGuards) AllowReadback() (bool, error) {
	cfg := g.Config()
	if cfg.AllowGPUReadback {
		return true, nil
	}
	if cfg.StrictMode {
		return false, ErrReadbackBlocked
	}
	return false, nil
}

// TrackSubmit increments the submission counter if TrackSubmitCount is set.
func (g *PerfGuards) TrackSubmit() {
	cfg := g.Config()
	if !cfg.TrackSubmitCount {
		return
	}
	g.submits.Add(1)
	if cfg.LogExpensiveOps {
		Logger().Debug("gpucore: submit tracked", "total", g.submits.Load())
	}
}

// TrackAllocation increments the allocation counter if TrackAllocations is
// set.
func (g *PerfGuards) TrackAllocation() {
	cfg := g.Config()
	if !cfg.TrackAllocations {
		return
	}
	g.allocations.Add(1)
	if cfg.LogExpensiveOps {
		Logger().Debug("gpucore: allocation tracked", "total", g.allocations.Load())
	}
}

// TrackReadback increments the readback counter unconditionally: called
// only after AllowReadback has already gated the operation.
func (g *PerfGuards) TrackReadback() {
	g.readbacks.Add(1)
	cfg := g.Config()
	if cfg.LogExpensiveOps {
		Logger().Debug("gpucore: readback tracked", "total", g.readbacks.Load())
	}
}

// Stats returns a snapshot of the tracked counters.
func (g *PerfGuards) Stats() PerfGuardsStats {
	g.mu.Lock()
	start := g.sessionStart
	g.mu.Unlock()
	return PerfGuardsStats{
		Submits:      g.submits.Load(),
		Allocations:  g.allocations.Load(),
		Readbacks:    g.readbacks.Load(),
		SessionStart: start,
	}
}

// ResetCounters zeroes the tracked counters and restarts the session clock.
// Configuration is left untouched.
func (g *PerfGuards) ResetCounters() {
	g.submits.Store(0)
	g.allocations.Store(0)
	g.readbacks.Store(0)
	g.mu.Lock()
	g.sessionStart = time.Now()
	g.mu.Unlock()
}
