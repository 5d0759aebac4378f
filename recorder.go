// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucore

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/webforge-ai/gpucore/gpudevice"
)

// RecorderState is the Command Recorder state machine (spec.md §3): Open
// while accepting new work, Submitted once submit/abort has run, Cleaned
// once the completion signal has fired and cleanup has run.
type RecorderState int

const (
	RecorderOpen RecorderState = iota
	RecorderSubmitted
	RecorderCleaned
)

func (s RecorderState) String() string {
	switch s {
	case RecorderOpen:
		return "open"
	case RecorderSubmitted:
		return "submitted"
	default:
		return "cleaned"
	}
}

// RecorderConfig configures optional profiling provisioning for a
// CommandRecorder (spec.md §4.8, §6).
type RecorderConfig struct {
	Profile           bool
	MaxQueries        uint32
	DefaultQueryLimit uint32
}

func (c RecorderConfig) withDefaults() RecorderConfig {
	if c.MaxQueries == 0 {
		c.MaxQueries = 256
	}
	if c.DefaultQueryLimit == 0 {
		c.DefaultQueryLimit = 64
	}
	return c
}

var profilingClampLogOnce sync.Once

type profileEntry struct {
	label      string
	startIndex uint32
	endIndex   uint32
}

// RecorderStats is a plain-data snapshot of a CommandRecorder's progress.
type RecorderStats struct {
	Operations   int
	TempBuffers  int
	PooledBuffers int
	Submitted    bool
}

// CommandRecorder accumulates encoded compute passes, owns temp/pooled
// buffers for one batch, optionally writes GPU timestamps, and submits
// once (spec.md §4.8). It adopts the unified form from spec.md §9's open
// question: both temp-buffer ownership and pooled-buffer tracking live on
// the same recorder.
type CommandRecorder struct {
	device gpudevice.Device
	pool   *BufferPool
	cache  *UniformCache
	guards *PerfGuards
	tracker *SubmissionTracker

	label string
	state RecorderState

	encoder gpudevice.CommandEncoder

	mu            sync.Mutex
	tempBuffers   []gpudevice.Buffer
	pooledBuffers []gpudevice.Buffer
	opCount       int

	profilingRequested bool
	profiling     bool
	querySet      gpudevice.QuerySet
	resolveBuffer gpudevice.Buffer
	readbackBuffer gpudevice.Buffer
	queryCapacity uint32
	nextQueryIdx  uint32
	entries       []profileEntry

	completion    gpudevice.CompletionSignal
	cleanupOnce   sync.Once
	cleanupTemp   []gpudevice.Buffer
	cleanupPooled []gpudevice.Buffer
}

// NewCommandRecorder constructs a recorder against device, provisioning
// profiling resources if cfg.Profile is set and the device supports
// timestamp queries. Any provisioning failure disables profiling rather
// than failing construction (spec.md §4.8).
func NewCommandRecorder(device gpudevice.Device, pool *BufferPool, cache *UniformCache, guards *PerfGuards, tracker *SubmissionTracker, label string, cfg RecorderConfig) (*CommandRecorder, error) {
	cfg = cfg.withDefaults()

	encoder, err := device.CreateCommandEncoder(gpudevice.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, err
	}

	r := &CommandRecorder{
		device:             device,
		pool:               pool,
		cache:              cache,
		guards:             guards,
		tracker:            tracker,
		label:              label,
		state:              RecorderOpen,
		encoder:            encoder,
		profilingRequested: cfg.Profile,
	}

	if cfg.Profile && device.Features().Has(gpudevice.FeatureTimestampQuery) {
		r.provisionProfiling(device, cfg)
	}

	return r, nil
}

// provisionProfiling tries the configured max-queries capacity first and
// falls back to default-query-limit if the device rejects it (no
// gpudevice.Limits field reports a query-set-size maximum directly, so a
// trial allocation is how that ceiling is actually discovered).
func (r *CommandRecorder) provisionProfiling(device gpudevice.Device, cfg RecorderConfig) {
	capacity := cfg.MaxQueries
	qs, err := device.CreateQuerySet(gpudevice.QuerySetDescriptor{
		Label: r.label + "_queries",
		Type:  gpudevice.QueryTypeTimestamp,
		Count: capacity,
	})
	if err != nil {
		capacity = cfg.DefaultQueryLimit
		profilingClampLogOnce.Do(func() {
			Logger().Warn("gpucore: configured max-queries rejected by device, using default-query-limit", "default_query_limit", cfg.DefaultQueryLimit)
		})
		qs, err = device.CreateQuerySet(gpudevice.QuerySetDescriptor{
			Label: r.label + "_queries",
			Type:  gpudevice.QueryTypeTimestamp,
			Count: capacity,
		})
		if err != nil {
			return
		}
	}

	resolve, err := r.pool.Acquire(uint64(capacity)*8, gpudevice.BufferUsageQueryResolve|gpudevice.BufferUsageCopySrc, r.label+"_resolve")
	if err != nil {
		qs.Destroy()
		return
	}
	readback, err := r.pool.Acquire(uint64(capacity)*8, gpudevice.BufferUsageMapRead|gpudevice.BufferUsageCopyDst, r.label+"_readback")
	if err != nil {
		qs.Destroy()
		r.pool.Release(resolve)
		return
	}

	r.profiling = true
	r.querySet = qs
	r.resolveBuffer = resolve
	r.readbackBuffer = readback
	r.queryCapacity = capacity
}

func (r *CommandRecorder) guardOpen(op string) error {
	if r.getState() != RecorderOpen {
		return &AfterSubmitError{Operation: op}
	}
	return nil
}

// getState and setState serialize access to state: it is read on the
// owning goroutine (guardOpen) and written from the background goroutine
// that watches a submission's completion signal (spec.md §9 "async
// completion callbacks -> task + channel").
func (r *CommandRecorder) getState() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *CommandRecorder) setState(s RecorderState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// CreateTempBuffer allocates a directly-owned buffer, tracked for
// destruction on completion.
func (r *CommandRecorder) CreateTempBuffer(size uint64, usage gpudevice.BufferUsage, label string) (gpudevice.Buffer, error) {
	if err := r.guardOpen("create_temp_buffer"); err != nil {
		return nil, err
	}
	buf, err := r.device.CreateBuffer(gpudevice.BufferDescriptor{Label: label, Size: size, Usage: usage})
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.tempBuffers = append(r.tempBuffers, buf)
	r.mu.Unlock()
	return buf, nil
}

// CreateIndirectDispatchBuffer creates a >=12-byte temp buffer with
// indirect+storage+copy-dst usage and writes the workgroup counts.
func (r *CommandRecorder) CreateIndirectDispatchBuffer(workgroups [3]uint32, label string) (gpudevice.Buffer, error) {
	if err := r.guardOpen("create_indirect_dispatch_buffer"); err != nil {
		return nil, err
	}
	buf, err := r.CreateTempBuffer(12, gpudevice.BufferUsageIndirect|gpudevice.BufferUsageStorage|gpudevice.BufferUsageCopyDst, label)
	if err != nil {
		return nil, err
	}
	if err := r.WriteIndirectDispatchBuffer(buf, workgroups, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteIndirectDispatchBuffer writes three little-endian uint32 workgroup
// counts at offset.
func (r *CommandRecorder) WriteIndirectDispatchBuffer(buffer gpudevice.Buffer, workgroups [3]uint32, offset uint64) error {
	if err := r.guardOpen("write_indirect_dispatch_buffer"); err != nil {
		return err
	}
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:], workgroups[0])
	binary.LittleEndian.PutUint32(data[4:], workgroups[1])
	binary.LittleEndian.PutUint32(data[8:], workgroups[2])
	return r.device.Queue().WriteBuffer(buffer, offset, data)
}

// CreateUniformBuffer delegates to the Uniform Cache. The returned buffer
// is not tracked for recorder cleanup: the cache's own lifetime (refcount
// plus deferred destruction) governs it independently.
func (r *CommandRecorder) CreateUniformBuffer(payload []byte, label string) (gpudevice.Buffer, error) {
	if err := r.guardOpen("create_uniform_buffer"); err != nil {
		return nil, err
	}
	return r.cache.GetOrCreate(payload, label)
}

// BeginComputePass opens a pass. When profiling is enabled and at least
// two query slots remain, the pass is bound to begin/end timestamp writes
// and a profile entry is recorded; otherwise the pass is untimed.
func (r *CommandRecorder) BeginComputePass(label string) (gpudevice.ComputePassEncoder, error) {
	if err := r.guardOpen("begin_compute_pass"); err != nil {
		return nil, err
	}

	desc := &gpudevice.ComputePassDescriptor{Label: label}

	r.mu.Lock()
	if r.profiling && r.nextQueryIdx+1 < r.queryCapacity {
		begin := r.nextQueryIdx
		end := r.nextQueryIdx + 1
		r.nextQueryIdx += 2
		desc.TimestampWrites = &gpudevice.PassTimestampWrites{
			QuerySet:                  r.querySet,
			BeginningOfPassWriteIndex: begin,
			EndOfPassWriteIndex:       end,
		}
		r.entries = append(r.entries, profileEntry{label: label, startIndex: begin, endIndex: end})
	}
	r.opCount++
	r.mu.Unlock()

	return r.encoder.BeginComputePass(desc), nil
}

// TrackTemporaryBuffer registers an externally-acquired pooled buffer to
// be released back to its pool on completion.
func (r *CommandRecorder) TrackTemporaryBuffer(buffer gpudevice.Buffer) error {
	if err := r.guardOpen("track_temporary_buffer"); err != nil {
		return err
	}
	r.mu.Lock()
	r.pooledBuffers = append(r.pooledBuffers, buffer)
	r.mu.Unlock()
	return nil
}

// GetEncoder is an escape hatch for kernel modules that need direct
// encoder access beyond compute-pass lifecycle (spec.md §6 kernel
// dispatch surface).
func (r *CommandRecorder) GetEncoder() (gpudevice.CommandEncoder, error) {
	if err := r.guardOpen("get_encoder"); err != nil {
		return nil, err
	}
	return r.encoder, nil
}

// GetStats returns a snapshot of the recorder's progress.
func (r *CommandRecorder) GetStats() RecorderStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RecorderStats{
		Operations:    r.opCount,
		TempBuffers:   len(r.tempBuffers),
		PooledBuffers: len(r.pooledBuffers),
		Submitted:     r.state != RecorderOpen,
	}
}

func (r *CommandRecorder) teardownProfiling() {
	if !r.profiling {
		return
	}
	r.profiling = false
	if r.querySet != nil {
		r.querySet.Destroy()
	}
	if r.resolveBuffer != nil {
		r.pool.Release(r.resolveBuffer)
	}
	if r.readbackBuffer != nil {
		r.pool.Release(r.readbackBuffer)
	}
}

// Abort destroys tracked temp buffers, releases tracked pooled buffers,
// tears down profiling resources, and marks the recorder Submitted
// without ever submitting the encoder. A no-op once already not Open.
func (r *CommandRecorder) Abort() {
	if r.getState() != RecorderOpen {
		return
	}
	r.setState(RecorderSubmitted)

	r.mu.Lock()
	temp := r.tempBuffers
	pooled := r.pooledBuffers
	r.tempBuffers = nil
	r.pooledBuffers = nil
	r.mu.Unlock()

	for _, b := range temp {
		b.Destroy()
	}
	for _, b := range pooled {
		r.pool.Release(b)
	}
	r.teardownProfiling()
}

// Submit finishes the encoder, submits it, and installs a completion
// callback that destroys temp buffers, returns pooled buffers, and
// flushes the uniform cache's pending destruction. Cleanup-callback
// failures are logged and swallowed; they never surface to the caller
// (spec.md §4.8, §7).
func (r *CommandRecorder) Submit(source string) (gpudevice.CompletionSignal, error) {
	if r.getState() != RecorderOpen {
		return nil, ErrAlreadySubmitted
	}

	cmd, err := r.encoder.Finish()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	temp := r.tempBuffers
	pooled := r.pooledBuffers
	r.tempBuffers = nil
	r.pooledBuffers = nil
	r.mu.Unlock()

	var sig gpudevice.CompletionSignal
	if r.tracker != nil {
		sig, err = r.tracker.Submit([]gpudevice.CommandBuffer{cmd}, source)
	} else {
		sig, err = r.device.Queue().Submit([]gpudevice.CommandBuffer{cmd})
	}
	if err != nil {
		return nil, err
	}
	r.setState(RecorderSubmitted)
	r.mu.Lock()
	r.completion = sig
	r.cleanupTemp = temp
	r.cleanupPooled = pooled
	r.mu.Unlock()

	r.pool.ScheduleDeferredFlush(sig)

	go func() {
		<-sig.Done()
		r.runCompletionCleanupOnce()
	}()

	return sig, nil
}

// runCompletionCleanupOnce destroys temp buffers, releases pooled buffers,
// and flushes the uniform cache exactly once per submission: both the
// background completion goroutine spawned by Submit and a synchronous
// caller of SubmitAndWait race to run it, and sync.Once guarantees
// whichever loses blocks until the other's run has finished, rather than
// running cleanup twice or letting SubmitAndWait return before it's done.
func (r *CommandRecorder) runCompletionCleanupOnce() {
	r.cleanupOnce.Do(func() {
		r.mu.Lock()
		temp := r.cleanupTemp
		pooled := r.cleanupPooled
		r.mu.Unlock()

		func() {
			defer func() {
				if rec := recover(); rec != nil {
					Logger().Error("gpucore: recorder completion cleanup panicked", "label", r.label, "recover", rec)
				}
			}()
			for _, b := range temp {
				b.Destroy()
			}
			for _, b := range pooled {
				r.pool.Release(b)
			}
			r.cache.FlushPendingDestruction()
		}()
		r.setState(RecorderCleaned)
	})
}

// SubmitAndWait submits, blocks until the completion signal fires, and
// deterministically runs completion cleanup (temp/pooled buffer release,
// uniform cache flush) before returning, per spec.md §4.8.
func (r *CommandRecorder) SubmitAndWait(source string) error {
	sig, err := r.Submit(source)
	if err != nil {
		return err
	}
	<-sig.Done()
	r.runCompletionCleanupOnce()
	return sig.Err()
}

// ResolveProfileTimings is only legal after Submit. It awaits completion,
// records and submits a second command buffer resolving the query set
// into the readback buffer, consults PerfGuards, maps and interprets the
// readback as 64-bit nanosecond timestamps, and produces label->ms
// totals. Fails with ErrMissingTimestampResources if the recorder was
// constructed without profiling requested at all. Returns (nil, nil) if
// profiling was requested but silently disabled by a provisioning
// failure; returns an empty, non-nil map if profiling ran but no passes
// were recorded.
func (r *CommandRecorder) ResolveProfileTimings() (map[string]float64, error) {
	if r.getState() == RecorderOpen {
		return nil, ErrNotSubmitted
	}
	if !r.profilingRequested {
		return nil, ErrMissingTimestampResources
	}
	if !r.profiling {
		return nil, nil
	}
	if len(r.entries) == 0 {
		return map[string]float64{}, nil
	}

	if r.completion != nil {
		<-r.completion.Done()
	}

	encoder, err := r.device.CreateCommandEncoder(gpudevice.CommandEncoderDescriptor{Label: r.label + "_resolve"})
	if err != nil {
		return nil, err
	}
	encoder.ResolveQuerySet(r.querySet, 0, r.nextQueryIdx, r.resolveBuffer, 0)
	encoder.CopyBufferToBuffer(r.resolveBuffer, 0, r.readbackBuffer, 0, uint64(r.nextQueryIdx)*8)
	cmd, err := encoder.Finish()
	if err != nil {
		return nil, err
	}

	var sig gpudevice.CompletionSignal
	if r.tracker != nil {
		sig, err = r.tracker.Submit([]gpudevice.CommandBuffer{cmd}, r.label+"_resolve")
	} else {
		sig, err = r.device.Queue().Submit([]gpudevice.CommandBuffer{cmd})
	}
	if err != nil {
		return nil, err
	}
	<-sig.Done()
	if err := sig.Err(); err != nil {
		return nil, err
	}

	allowed, err := r.guards.AllowReadback()
	if err != nil {
		r.teardownProfiling()
		return nil, err
	}
	if !allowed {
		r.teardownProfiling()
		return map[string]float64{}, nil
	}

	if err := r.readbackBuffer.MapAsync(gpudevice.MapModeRead); err != nil {
		return nil, err
	}
	mapped := r.readbackBuffer.MappedRange()
	timestamps := make([]uint64, r.nextQueryIdx)
	for i := range timestamps {
		timestamps[i] = binary.LittleEndian.Uint64(mapped[i*8:])
	}
	r.readbackBuffer.Unmap()

	out := make(map[string]float64)
	for _, e := range r.entries {
		if int(e.endIndex) >= len(timestamps) || int(e.startIndex) >= len(timestamps) {
			continue
		}
		deltaNS := int64(timestamps[e.endIndex]) - int64(timestamps[e.startIndex])
		ms := float64(deltaNS) / 1e6
		if ms < 0 || ms > 60_000 {
			continue
		}
		out[e.label] += ms
	}

	r.teardownProfiling()
	return out, nil
}

// profileLine is one row of a formatted report.
type profileLine struct {
	label   string
	ms      float64
	percent float64
}

// FormatProfileReport is a pure formatter: sorts timings descending,
// computes each entry's percentage of the total, and renders an aligned
// text table.
func FormatProfileReport(timings map[string]float64) string {
	if len(timings) == 0 {
		return "(no profiling data)"
	}

	total := 0.0
	lines := make([]profileLine, 0, len(timings))
	for label, ms := range timings {
		total += ms
		lines = append(lines, profileLine{label: label, ms: ms})
	}
	for i := range lines {
		if total > 0 {
			lines[i].percent = lines[i].ms / total * 100
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ms > lines[j].ms })

	maxLabel := 0
	for _, l := range lines {
		if len(l.label) > maxLabel {
			maxLabel = len(l.label)
		}
	}

	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%-*s  %10.3f ms  %6.2f%%\n", maxLabel, l.label, l.ms, l.percent)
	}
	fmt.Fprintf(&b, "%-*s  %10.3f ms  %6.2f%%\n", maxLabel, "total", total, 100.0)
	return b.String()
}
