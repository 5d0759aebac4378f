// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucore

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/webforge-ai/gpucore/gpudevice"
)

// BufferPoolConfig configures a BufferPool's bucketing and capacity
// policy (spec.md §4.4, §6 configuration schema).
type BufferPoolConfig struct {
	AlignmentBytes            uint64
	MinBucketSizeBytes        uint64
	LargeBufferThresholdBytes uint64
	LargeBufferStepBytes      uint64
	MaxBuffersPerBucket       int
	MaxTotalPooledBuffers     int

	// PoolingDisabled forces every release to go through deferred
	// destruction instead of returning to a free stack.
	PoolingDisabled bool

	// DebugMode enables leak-detection metadata (acquisition stack trace)
	// at the cost of a runtime.Callers capture on every acquire.
	DebugMode bool
}

func (c BufferPoolConfig) withDefaults() BufferPoolConfig {
	if c.AlignmentBytes == 0 {
		c.AlignmentBytes = 256
	}
	if c.MinBucketSizeBytes == 0 {
		c.MinBucketSizeBytes = 4096
	}
	if c.LargeBufferThresholdBytes == 0 {
		c.LargeBufferThresholdBytes = 64 << 20
	}
	if c.LargeBufferStepBytes == 0 {
		c.LargeBufferStepBytes = 16 << 20
	}
	if c.MaxBuffersPerBucket == 0 {
		c.MaxBuffersPerBucket = 4
	}
	if c.MaxTotalPooledBuffers == 0 {
		c.MaxTotalPooledBuffers = 256
	}
	return c
}

// BufferPoolStats is a plain-data snapshot of a BufferPool's counters.
type BufferPoolStats struct {
	Allocations         uint64
	Reuses              uint64
	TotalBytesAllocated uint64
	CurrentBytesAllocated uint64
	PeakBytesAllocated  uint64
	ActiveCount         int
	PooledCount         int
}

// HitRate renders reuses/(allocations+reuses) as a percentage string.
func (s BufferPoolStats) HitRate() string {
	total := s.Allocations + s.Reuses
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(s.Reuses)/float64(total)*100)
}

// LeakInfo describes one active buffer whose age exceeds a detect_leaks
// threshold.
type LeakInfo struct {
	Size       uint64
	Usage      gpudevice.BufferUsage
	Label      string
	AgeMS      float64
	StackTrace string
}

type bufferMeta struct {
	size       uint64
	usage      gpudevice.BufferUsage
	label      string
	acquiredAt time.Time
	stack      string
}

// BufferPool is a bucketed allocator for storage/uniform/staging buffers
// with free-stack reuse, deferred destruction, and leak detection
// (spec.md §4.4). It is an explicit value rather than a process-wide
// singleton, per the redesign note in spec.md §9.
type BufferPool struct {
	device gpudevice.Device
	guards *PerfGuards
	cfg    BufferPoolConfig

	mu          sync.Mutex
	free        map[gpudevice.BufferUsage]map[uint64][]gpudevice.Buffer
	active      map[gpudevice.Buffer]*bufferMeta
	pooledCount int

	deferred          []gpudevice.Buffer
	deferredScheduled bool

	allocations uint64
	reuses      uint64
	totalBytes  uint64
	currentBytes uint64
	peakBytes   uint64
}

// NewBufferPool creates a pool that allocates through device (which may be
// nil until a DeviceContext finishes Init; Acquire fails with
// ErrDeviceUnavailable until a device is attached via SetDevice).
func NewBufferPool(device gpudevice.Device, guards *PerfGuards, cfg BufferPoolConfig) *BufferPool {
	return &BufferPool{
		device: device,
		guards: guards,
		cfg:    cfg.withDefaults(),
		free:   make(map[gpudevice.BufferUsage]map[uint64][]gpudevice.Buffer),
		active: make(map[gpudevice.Buffer]*bufferMeta),
	}
}

// SetDevice attaches (or replaces) the device a pool allocates through.
// Existing free/active/deferred buffers are untouched; callers that just
// observed a device-lost epoch bump should Destroy the old pool rather
// than reuse it across epochs (spec.md §3 device-epoch invariant).
func (p *BufferPool) SetDevice(device gpudevice.Device) {
	p.mu.Lock()
	p.device = device
	p.mu.Unlock()
}

func alignUp(size, alignment uint64) uint64 {
	if alignment == 0 {
		return size
	}
	return (size + alignment - 1) / alignment * alignment
}

// nextPowerOfTwo returns the smallest power of two >= v, computed without
// 32-bit overflow (spec.md §4.4). A v large enough that doubling would
// overflow uint64 returns 0, signaling the caller to fall back to v itself.
func nextPowerOfTwo(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	if v > 1<<63 {
		return 0
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}

func maxForUsage(limits gpudevice.Limits, usage gpudevice.BufferUsage) uint64 {
	if usage.Has(gpudevice.BufferUsageStorage) {
		return limits.MaxStorageBufferBindingSize
	}
	return limits.MaxBufferSize
}

// computeBucket implements the §4.4 bucketing rule: small requests round up
// to the floor, large requests step coarsely to avoid power-of-two
// blow-up near the device maximum, and mid-range requests round to the
// next power of two. Any rounded bucket that would exceed the device
// maximum for usage falls back to the aligned size itself.
func (p *BufferPool) computeBucket(aligned uint64, usage gpudevice.BufferUsage, limits gpudevice.Limits) uint64 {
	if aligned <= p.cfg.MinBucketSizeBytes {
		return p.cfg.MinBucketSizeBytes
	}

	limit := maxForUsage(limits, usage)

	if aligned >= p.cfg.LargeBufferThresholdBytes {
		step := p.cfg.LargeBufferStepBytes
		bucket := (aligned + step - 1) / step * step
		if bucket > limit {
			return aligned
		}
		return bucket
	}

	bucket := nextPowerOfTwo(aligned)
	if bucket == 0 || bucket > limit {
		return aligned
	}
	return bucket
}

func (p *BufferPool) captureStack() string {
	if !p.cfg.DebugMode {
		return ""
	}
	var pcs [32]uintptr
	n := runtime.Callers(4, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	out := ""
	for {
		fr, more := frames.Next()
		out += fmt.Sprintf("%s:%d %s\n", fr.File, fr.Line, fr.Function)
		if !more {
			break
		}
	}
	return out
}

// Acquire returns a buffer of at least size bytes usable as usage, reusing
// a pooled buffer on a bucket match or creating a new one (spec.md §4.4).
func (p *BufferPool) Acquire(size uint64, usage gpudevice.BufferUsage, label string) (gpudevice.Buffer, error) {
	p.mu.Lock()
	device := p.device
	p.mu.Unlock()
	if device == nil {
		return nil, ErrDeviceUnavailable
	}

	aligned := alignUp(size, p.cfg.AlignmentBytes)
	limits := device.Limits()
	bucket := p.computeBucket(aligned, usage, limits)
	limit := maxForUsage(limits, usage)
	if bucket > limit {
		return nil, &BufferTooLargeError{
			RequestedSize: size,
			Bucket:        bucket,
			Max:           limit,
			Storage:       usage.Has(gpudevice.BufferUsageStorage),
		}
	}

	p.mu.Lock()
	if stacks, ok := p.free[usage]; ok {
		if stack := stacks[bucket]; len(stack) > 0 {
			buf := stack[len(stack)-1]
			stacks[bucket] = stack[:len(stack)-1]
			p.pooledCount--
			p.active[buf] = &bufferMeta{size: bucket, usage: usage, label: label, acquiredAt: time.Now(), stack: p.captureStack()}
			p.reuses++
			p.currentBytes += bucket
			if p.currentBytes > p.peakBytes {
				p.peakBytes = p.currentBytes
			}
			p.mu.Unlock()
			p.guards.TrackAllocation()
			return buf, nil
		}
	}
	p.mu.Unlock()

	buf, err := device.CreateBuffer(gpudevice.BufferDescriptor{
		Label: fmt.Sprintf("%s_%d", label, bucket),
		Size:  bucket,
		Usage: usage,
	})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.active[buf] = &bufferMeta{size: bucket, usage: usage, label: label, acquiredAt: time.Now(), stack: p.captureStack()}
	p.allocations++
	p.totalBytes += bucket
	p.currentBytes += bucket
	if p.currentBytes > p.peakBytes {
		p.peakBytes = p.currentBytes
	}
	p.mu.Unlock()

	p.guards.TrackAllocation()
	return buf, nil
}

// Release returns buffer to the pool, or schedules it for deferred
// destruction when pooling is disabled or the relevant caps are full
// (spec.md §4.4). Releasing a buffer not acquired from this pool is a
// silent no-op.
func (p *BufferPool) Release(buffer gpudevice.Buffer) {
	p.mu.Lock()
	meta, ok := p.active[buffer]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.active, buffer)
	p.currentBytes -= meta.size

	overCapacity := false
	if !p.cfg.PoolingDisabled {
		stacks, ok := p.free[meta.usage]
		if !ok {
			stacks = make(map[uint64][]gpudevice.Buffer)
			p.free[meta.usage] = stacks
		}
		if len(stacks[meta.size]) < p.cfg.MaxBuffersPerBucket && p.pooledCount < p.cfg.MaxTotalPooledBuffers {
			stacks[meta.size] = append(stacks[meta.size], buffer)
			p.pooledCount++
			p.mu.Unlock()
			return
		}
		overCapacity = true
	}
	p.mu.Unlock()
	if overCapacity {
		Logger().Info("gpucore: buffer pool over capacity, deferring destruction", "bucket", meta.size, "label", meta.label)
	}
	p.deferDestroy(buffer)
}

func (p *BufferPool) deferDestroy(buffer gpudevice.Buffer) {
	p.mu.Lock()
	p.deferred = append(p.deferred, buffer)
	p.mu.Unlock()
}

// ScheduleDeferredFlush arranges for the pending deferred-destruction set
// to be destroyed once sig fires. At most one flush is in flight at a
// time; redundant calls while one is already scheduled (or while there is
// nothing pending) are no-ops. Passing a nil signal (no device available)
// flushes immediately, per the §4.4 teardown fallback.
func (p *BufferPool) ScheduleDeferredFlush(sig gpudevice.CompletionSignal) {
	if sig == nil {
		p.flushDeferredNow()
		return
	}

	p.mu.Lock()
	if p.deferredScheduled || len(p.deferred) == 0 {
		p.mu.Unlock()
		return
	}
	p.deferredScheduled = true
	p.mu.Unlock()

	go func() {
		<-sig.Done()
		p.flushDeferredNow()
		p.mu.Lock()
		p.deferredScheduled = false
		p.mu.Unlock()
	}()
}

func (p *BufferPool) flushDeferredNow() {
	p.mu.Lock()
	pending := p.deferred
	p.deferred = nil
	p.mu.Unlock()
	for _, b := range pending {
		b.Destroy()
	}
}

// CreateStagingRead acquires a buffer usable as a readback staging target.
func (p *BufferPool) CreateStagingRead(size uint64, label string) (gpudevice.Buffer, error) {
	return p.Acquire(size, gpudevice.BufferUsageMapRead|gpudevice.BufferUsageCopyDst, label)
}

// CreateUpload acquires a storage buffer intended to be written via the
// queue and then bound as a kernel input.
func (p *BufferPool) CreateUpload(size uint64, label string) (gpudevice.Buffer, error) {
	return p.Acquire(size, gpudevice.BufferUsageStorage|gpudevice.BufferUsageCopyDst, label)
}

// CreateUniform acquires a uniform buffer, aligning size up to 256 bytes
// (the WebGPU uniform binding alignment) before bucketing.
func (p *BufferPool) CreateUniform(size uint64, label string) (gpudevice.Buffer, error) {
	aligned := alignUp(size, 256)
	return p.Acquire(aligned, gpudevice.BufferUsageUniform|gpudevice.BufferUsageCopyDst, label)
}

// Upload writes bytes to buffer at offset via the device queue.
func (p *BufferPool) Upload(buffer gpudevice.Buffer, bytes []byte, offset uint64) error {
	p.mu.Lock()
	device := p.device
	p.mu.Unlock()
	if device == nil {
		return ErrDeviceUnavailable
	}
	return device.Queue().WriteBuffer(buffer, offset, bytes)
}

// ReadBuffer copies size bytes out of buffer, gated by PerfGuards. A
// denied-but-not-strict readback returns (nil, nil) rather than an error
// (spec.md §4.4, §7).
func (p *BufferPool) ReadBuffer(buffer gpudevice.Buffer, size uint64) ([]byte, error) {
	allowed, err := p.guards.AllowReadback()
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, nil
	}

	p.mu.Lock()
	device := p.device
	p.mu.Unlock()
	if device == nil {
		return nil, ErrDeviceUnavailable
	}

	staging, err := p.CreateStagingRead(size, "readback_staging")
	if err != nil {
		return nil, err
	}
	defer p.Release(staging)

	encoder, err := device.CreateCommandEncoder(gpudevice.CommandEncoderDescriptor{Label: "readback"})
	if err != nil {
		return nil, err
	}
	encoder.CopyBufferToBuffer(buffer, 0, staging, 0, size)
	cmd, err := encoder.Finish()
	if err != nil {
		return nil, err
	}

	sig, err := device.Queue().Submit([]gpudevice.CommandBuffer{cmd})
	if err != nil {
		return nil, err
	}
	<-sig.Done()
	if err := sig.Err(); err != nil {
		return nil, err
	}

	if err := staging.MapAsync(gpudevice.MapModeRead); err != nil {
		return nil, err
	}
	mapped := staging.MappedRange()
	if uint64(len(mapped)) > size {
		mapped = mapped[:size]
	}
	out := make([]byte, len(mapped))
	copy(out, mapped)
	staging.Unmap()

	p.guards.TrackReadback()
	return out, nil
}

// DetectLeaks returns metadata for every active buffer whose age exceeds
// thresholdMS. Debug-only: stack traces are populated only when the pool
// was constructed with DebugMode.
func (p *BufferPool) DetectLeaks(thresholdMS float64) []LeakInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	var leaks []LeakInfo
	for buf, meta := range p.active {
		age := float64(now.Sub(meta.acquiredAt)) / float64(time.Millisecond)
		if age < thresholdMS {
			continue
		}
		_ = buf
		leaks = append(leaks, LeakInfo{Size: meta.size, Usage: meta.usage, Label: meta.label, AgeMS: age, StackTrace: meta.stack})
	}
	return leaks
}

// ClearPool destroys every free (not active, not deferred) buffer.
func (p *BufferPool) ClearPool() {
	p.mu.Lock()
	stacksByUsage := p.free
	p.free = make(map[gpudevice.BufferUsage]map[uint64][]gpudevice.Buffer)
	p.pooledCount = 0
	p.mu.Unlock()

	for _, stacks := range stacksByUsage {
		for _, stack := range stacks {
			for _, b := range stack {
				b.Destroy()
			}
		}
	}
}

// Destroy destroys every active, free, and deferred buffer, and detaches
// the pool's device.
func (p *BufferPool) Destroy() {
	p.mu.Lock()
	active := p.active
	p.active = make(map[gpudevice.Buffer]*bufferMeta)
	stacksByUsage := p.free
	p.free = make(map[gpudevice.BufferUsage]map[uint64][]gpudevice.Buffer)
	p.pooledCount = 0
	deferred := p.deferred
	p.deferred = nil
	p.device = nil
	p.mu.Unlock()

	for b := range active {
		b.Destroy()
	}
	for _, stacks := range stacksByUsage {
		for _, stack := range stacks {
			for _, b := range stack {
				b.Destroy()
			}
		}
	}
	for _, b := range deferred {
		b.Destroy()
	}
}

// GetStats returns a snapshot of the pool's allocation counters.
func (p *BufferPool) GetStats() BufferPoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return BufferPoolStats{
		Allocations:           p.allocations,
		Reuses:                p.reuses,
		TotalBytesAllocated:   p.totalBytes,
		CurrentBytesAllocated: p.currentBytes,
		PeakBytesAllocated:    p.peakBytes,
		ActiveCount:           len(p.active),
		PooledCount:           p.pooledCount,
	}
}

// WithBuffer acquires a scoped buffer, guaranteeing Release on every exit
// path of fn (including panics and errors), the way a defer-based RAII
// helper would in a garbage-collected host language (spec.md §4.4).
func (p *BufferPool) WithBuffer(size uint64, usage gpudevice.BufferUsage, label string, fn func(gpudevice.Buffer) error) error {
	buf, err := p.Acquire(size, usage, label)
	if err != nil {
		return err
	}
	defer p.Release(buf)
	return fn(buf)
}
