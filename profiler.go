// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucore

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/webforge-ai/gpucore/gpudevice"
	"github.com/webforge-ai/gpucore/internal/rollingstats"
)

// ProfilerConfig configures a GPUProfiler's query capacity and outlier
// guard (spec.md §6).
type ProfilerConfig struct {
	QueryCapacity  uint32
	MaxSamples     int
	MaxDurationMS  float64
}

func (c ProfilerConfig) withDefaults() ProfilerConfig {
	if c.QueryCapacity == 0 {
		c.QueryCapacity = 128
	}
	if c.MaxSamples == 0 {
		c.MaxSamples = 256
	}
	if c.MaxDurationMS == 0 {
		c.MaxDurationMS = 60_000
	}
	return c
}

type pendingGPUMeasurement struct {
	label      string
	startIndex uint32
	endIndex   uint32
}

// ProfilerResult is a plain-data snapshot of one label's accumulated
// timing statistics.
type ProfilerResult struct {
	Average float64
	Min     float64
	Max     float64
	Count   uint64
	Total   float64
}

// GPUProfiler layers a labeled begin/end API over GPU timestamp queries,
// falling back to a CPU wall-clock bracket when the measured GPU duration
// falls outside the outlier guard (spec.md §4.9). Unlike the Command
// Recorder's one-shot per-batch profiling, a GPUProfiler accumulates
// rolling statistics across many resolve cycles for the lifetime of a
// session.
type GPUProfiler struct {
	device gpudevice.Device
	guards *PerfGuards
	cfg    ProfilerConfig

	mu           sync.Mutex
	windows      map[string]*rollingstats.Window
	cpuStarts    map[string]time.Time
	pending      []pendingGPUMeasurement
	querySet     gpudevice.QuerySet
	nextQueryIdx uint32
}

// NewGPUProfiler creates a profiler. If device supports timestamp-query,
// a query set of cfg.QueryCapacity slots is provisioned; otherwise
// WriteTimestamp silently no-ops and only the CPU bracket API is usable.
func NewGPUProfiler(device gpudevice.Device, guards *PerfGuards, cfg ProfilerConfig) *GPUProfiler {
	cfg = cfg.withDefaults()
	p := &GPUProfiler{
		device:    device,
		guards:    guards,
		cfg:       cfg,
		windows:   make(map[string]*rollingstats.Window),
		cpuStarts: make(map[string]time.Time),
	}
	if device != nil && device.Features().Has(gpudevice.FeatureTimestampQuery) {
		qs, err := device.CreateQuerySet(gpudevice.QuerySetDescriptor{
			Label: "gpu_profiler_queries",
			Type:  gpudevice.QueryTypeTimestamp,
			Count: cfg.QueryCapacity,
		})
		if err == nil {
			p.querySet = qs
		}
	}
	return p
}

func (p *GPUProfiler) windowFor(label string) *rollingstats.Window {
	w, ok := p.windows[label]
	if !ok {
		w = rollingstats.NewWindow(p.cfg.MaxSamples)
		p.windows[label] = w
	}
	return w
}

// Begin starts a CPU-side wall-clock bracket for label.
func (p *GPUProfiler) Begin(label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cpuStarts[label] = time.Now()
}

// End closes label's CPU-side bracket and records its duration.
func (p *GPUProfiler) End(label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	start, ok := p.cpuStarts[label]
	if !ok {
		return
	}
	delete(p.cpuStarts, label)
	ms := float64(time.Since(start)) / float64(time.Millisecond)
	p.windowFor(label).Add(ms)
}

// WriteTimestamp reserves a begin/end pair of slots in the profiler's own
// query set for label and returns the PassTimestampWrites to set on the
// ComputePassDescriptor of the pass being measured. encoder and isEnd are
// not used: each call covers both ends of one pass. Returns nil if the
// device has no timestamp-query feature or the query set is exhausted.
func (p *GPUProfiler) WriteTimestamp(encoder gpudevice.CommandEncoder, label string, isEnd bool) *gpudevice.PassTimestampWrites {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.querySet == nil || p.nextQueryIdx+1 >= p.cfg.QueryCapacity {
		return nil
	}
	begin := p.nextQueryIdx
	end := p.nextQueryIdx + 1
	p.nextQueryIdx += 2
	p.pending = append(p.pending, pendingGPUMeasurement{label: label, startIndex: begin, endIndex: end})
	_ = isEnd // the caller supplies begin/end indices together; isEnd only documents intent
	return &gpudevice.PassTimestampWrites{QuerySet: p.querySet, BeginningOfPassWriteIndex: begin, EndOfPassWriteIndex: end}
}

// Resolve drains pending GPU-side measurements: submits a resolve/copy
// encoder, awaits completion, reads the 64-bit nanosecond counters, and
// records each duration in its label's window. A measurement outside
// [0, MaxDurationMS] is replaced by the time elapsed since a still-open
// Begin(label) bracket, if there is one; otherwise it is dropped.
func (p *GPUProfiler) Resolve(pool *BufferPool) error {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	count := p.nextQueryIdx
	p.nextQueryIdx = 0
	p.mu.Unlock()

	if len(pending) == 0 || p.querySet == nil {
		return nil
	}

	resolveBuf, err := pool.Acquire(uint64(count)*8, gpudevice.BufferUsageQueryResolve|gpudevice.BufferUsageCopySrc, "profiler_resolve")
	if err != nil {
		return err
	}
	defer pool.Release(resolveBuf)
	readbackBuf, err := pool.Acquire(uint64(count)*8, gpudevice.BufferUsageMapRead|gpudevice.BufferUsageCopyDst, "profiler_readback")
	if err != nil {
		return err
	}
	defer pool.Release(readbackBuf)

	encoder, err := p.device.CreateCommandEncoder(gpudevice.CommandEncoderDescriptor{Label: "profiler_resolve"})
	if err != nil {
		return err
	}
	encoder.ResolveQuerySet(p.querySet, 0, count, resolveBuf, 0)
	encoder.CopyBufferToBuffer(resolveBuf, 0, readbackBuf, 0, uint64(count)*8)
	cmd, err := encoder.Finish()
	if err != nil {
		return err
	}
	sig, err := p.device.Queue().Submit([]gpudevice.CommandBuffer{cmd})
	if err != nil {
		return err
	}
	<-sig.Done()
	if err := sig.Err(); err != nil {
		return err
	}

	allowed, err := p.guards.AllowReadback()
	if err != nil {
		return err
	}
	if !allowed {
		return nil
	}

	if err := readbackBuf.MapAsync(gpudevice.MapModeRead); err != nil {
		return err
	}
	mapped := readbackBuf.MappedRange()
	timestamps := make([]uint64, count)
	for i := range timestamps {
		timestamps[i] = binary.LittleEndian.Uint64(mapped[i*8:])
	}
	readbackBuf.Unmap()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range pending {
		if int(m.endIndex) >= len(timestamps) || int(m.startIndex) >= len(timestamps) {
			continue
		}
		deltaNS := int64(timestamps[m.endIndex]) - int64(timestamps[m.startIndex])
		ms := float64(deltaNS) / 1e6
		if ms < 0 || ms > p.cfg.MaxDurationMS {
			if start, ok := p.cpuStarts[m.label]; ok {
				ms = float64(time.Since(start)) / float64(time.Millisecond)
			} else {
				continue
			}
		}
		p.windowFor(m.label).Add(ms)
	}
	return nil
}

// GetResults returns {avg, min, max, count, total} per label.
func (p *GPUProfiler) GetResults() map[string]ProfilerResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]ProfilerResult, len(p.windows))
	for label, w := range p.windows {
		out[label] = ProfilerResult{Average: w.Average(), Min: w.Min(), Max: w.Max(), Count: w.Count(), Total: w.Total()}
	}
	return out
}

// GetReport formats GetResults as an aligned text table, sorted
// descending by total time.
func (p *GPUProfiler) GetReport() string {
	results := p.GetResults()
	if len(results) == 0 {
		return "(no profiling data)"
	}

	type row struct {
		label string
		r     ProfilerResult
	}
	rows := make([]row, 0, len(results))
	for label, r := range results {
		rows = append(rows, row{label: label, r: r})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].r.Total > rows[j].r.Total })

	maxLabel := 0
	for _, rr := range rows {
		if len(rr.label) > maxLabel {
			maxLabel = len(rr.label)
		}
	}

	var b strings.Builder
	for _, rr := range rows {
		fmt.Fprintf(&b, "%-*s  avg %8.3fms  min %8.3fms  max %8.3fms  n=%-6d  total %10.3fms\n",
			maxLabel, rr.label, rr.r.Average, rr.r.Min, rr.r.Max, rr.r.Count, rr.r.Total)
	}
	return b.String()
}

// Reset clears every label's accumulated window and any in-flight CPU
// brackets.
func (p *GPUProfiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.windows = make(map[string]*rollingstats.Window)
	p.cpuStarts = make(map[string]time.Time)
	p.pending = nil
	p.nextQueryIdx = 0
}

// Destroy releases the profiler's query set.
func (p *GPUProfiler) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.querySet != nil {
		p.querySet.Destroy()
		p.querySet = nil
	}
}
