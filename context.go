// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucore

import (
	"github.com/webforge-ai/gpucore/gpudevice"
)

// ContextConfig bundles the per-component configuration used to build a
// Context in one call.
type ContextConfig struct {
	PerfGuards   PerfGuardsConfig
	BufferPool   BufferPoolConfig
	UniformCache UniformCacheConfig
	Profiler     ProfilerConfig
}

// Context wires a DeviceContext, PerfGuards, default BufferPool, a global
// UniformCache, and a SubmissionTracker as one explicit value a caller
// constructs and threads through its call sites — the redesign spec.md §9
// calls for in place of the teacher's process-wide singletons.
type Context struct {
	Device *DeviceContext
	Guards *PerfGuards
	Pool   *BufferPool
	Cache  *UniformCache

	tracker     *SubmissionTracker
	profiler    *GPUProfiler
	profilerCfg ProfilerConfig
}

// NewContext constructs a Context bound to instance, with every component
// built from cfg (zero values fall back to their withDefaults()).
func NewContext(instance gpudevice.Instance, cfg ContextConfig) *Context {
	guards := NewPerfGuards(cfg.PerfGuards)
	return &Context{
		Device: NewDeviceContext(instance),
		Guards: guards,
		Pool:   NewBufferPool(nil, guards, cfg.BufferPool),
		Cache:  NewUniformCache(nil, guards, cfg.UniformCache),

		profilerCfg: cfg.Profiler,
	}
}

// Init initializes the device context and attaches the resulting device
// to the pool, cache, submission tracker, and profiler in one step.
func (c *Context) Init(label string) (gpudevice.Device, error) {
	device, err := c.Device.Init(label)
	if err != nil {
		return nil, err
	}
	c.attach(device)
	return device, nil
}

// SetDevice mirrors DeviceContext.SetDevice and performs the same
// component attachment as Init.
func (c *Context) SetDevice(device gpudevice.Device, info gpudevice.AdapterInfo) {
	c.Device.SetDevice(device, info)
	c.attach(device)
}

func (c *Context) attach(device gpudevice.Device) {
	c.Pool.SetDevice(device)
	c.Cache.SetDevice(device)
	c.tracker = NewSubmissionTracker(device.Queue(), c.Guards, 0)
	c.profiler = NewGPUProfiler(device, c.Guards, c.profilerCfg)
}

// Tracker returns the active SubmissionTracker, or nil before Init.
func (c *Context) Tracker() *SubmissionTracker { return c.tracker }

// Profiler returns the active GPUProfiler, or nil before Init.
func (c *Context) Profiler() *GPUProfiler { return c.profiler }

// NewRecorder constructs a CommandRecorder wired to this context's pool,
// cache, guards, and submission tracker.
func (c *Context) NewRecorder(label string, cfg RecorderConfig) (*CommandRecorder, error) {
	return NewCommandRecorder(c.Device.Device(), c.Pool, c.Cache, c.Guards, c.tracker, label, cfg)
}

// Destroy tears down the profiler, uniform cache, buffer pool, and device
// context, in that order (consumers of the device before the device
// itself).
func (c *Context) Destroy() {
	if c.profiler != nil {
		c.profiler.Destroy()
	}
	c.Cache.Clear()
	c.Pool.Destroy()
	c.Device.Destroy()
}
