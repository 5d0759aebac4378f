// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucore_test

import (
	"errors"
	"testing"

	"github.com/webforge-ai/gpucore"
	"github.com/webforge-ai/gpucore/gpudevice"
	"github.com/webforge-ai/gpucore/gpudevice/noop"
)

func newTestDevice(t *testing.T, opts noop.Options) gpudevice.Device {
	t.Helper()
	inst := noop.NewInstance(opts)
	adapter, err := inst.RequestAdapter(gpudevice.PowerPreferenceHighPerformance)
	if err != nil {
		t.Fatalf("RequestAdapter: %v", err)
	}
	device, err := adapter.RequestDevice(gpudevice.DeviceDescriptor{Label: "test", RequiredLimits: adapter.Limits()})
	if err != nil {
		t.Fatalf("RequestDevice: %v", err)
	}
	return device
}

func TestBufferPool_ReuseScenario(t *testing.T) {
	device := newTestDevice(t, noop.Options{})
	guards := gpucore.NewPerfGuards(gpucore.DebugPreset())
	pool := gpucore.NewBufferPool(device, guards, gpucore.BufferPoolConfig{
		AlignmentBytes:     256,
		MinBucketSizeBytes: 1024,
	})

	buf1, err := pool.Acquire(500, gpudevice.BufferUsageStorage, "a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if buf1.Size() != 1024 {
		t.Fatalf("expected bucket 1024, got %d", buf1.Size())
	}
	pool.Release(buf1)

	buf2, err := pool.Acquire(800, gpudevice.BufferUsageStorage, "b")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if buf2 != buf1 {
		t.Fatalf("expected reuse of the same buffer")
	}

	stats := pool.GetStats()
	if stats.Allocations != 1 || stats.Reuses != 1 {
		t.Fatalf("expected allocations=1 reuses=1, got %+v", stats)
	}
}

func TestBufferPool_LargeBucketAvoidance(t *testing.T) {
	device := newTestDevice(t, noop.Options{
		Limits: gpudevice.Limits{
			MaxBufferSize:               2<<30 - 1,
			MaxStorageBufferBindingSize: 2<<30 - 1,
		},
	})
	guards := gpucore.NewPerfGuards(gpucore.ProductionPreset())
	pool := gpucore.NewBufferPool(device, guards, gpucore.BufferPoolConfig{
		AlignmentBytes:            256,
		MinBucketSizeBytes:        4096,
		LargeBufferThresholdBytes: 256 << 20,
		LargeBufferStepBytes:      64 << 20,
	})

	buf, err := pool.Acquire(600<<20, gpudevice.BufferUsageStorage, "weights")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	wantBucket := uint64(640 << 20)
	if buf.Size() != wantBucket {
		t.Fatalf("expected bucket %d, got %d", wantBucket, buf.Size())
	}

	stats := pool.GetStats()
	if stats.CurrentBytesAllocated != wantBucket {
		t.Fatalf("expected current bytes %d, got %d", wantBucket, stats.CurrentBytesAllocated)
	}
}

func TestBufferPool_ZeroSizeRoundsToFloor(t *testing.T) {
	device := newTestDevice(t, noop.Options{})
	guards := gpucore.NewPerfGuards(gpucore.ProductionPreset())
	pool := gpucore.NewBufferPool(device, guards, gpucore.BufferPoolConfig{MinBucketSizeBytes: 4096})

	buf, err := pool.Acquire(0, gpudevice.BufferUsageStorage, "zero")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if buf.Size() != 4096 {
		t.Fatalf("expected floor 4096, got %d", buf.Size())
	}
}

func TestBufferPool_SizeAtDeviceMaxRoundsToItself(t *testing.T) {
	limits := gpudevice.Limits{MaxBufferSize: 8192, MaxStorageBufferBindingSize: 8192}
	device := newTestDevice(t, noop.Options{Limits: limits})
	guards := gpucore.NewPerfGuards(gpucore.ProductionPreset())
	pool := gpucore.NewBufferPool(device, guards, gpucore.BufferPoolConfig{AlignmentBytes: 1, MinBucketSizeBytes: 1})

	buf, err := pool.Acquire(8192, gpudevice.BufferUsageStorage, "max")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if buf.Size() != 8192 {
		t.Fatalf("expected exactly device max 8192, got %d", buf.Size())
	}
}

func TestBufferPool_SizeOverDeviceMaxFails(t *testing.T) {
	limits := gpudevice.Limits{MaxBufferSize: 8192, MaxStorageBufferBindingSize: 8192}
	device := newTestDevice(t, noop.Options{Limits: limits})
	guards := gpucore.NewPerfGuards(gpucore.ProductionPreset())
	pool := gpucore.NewBufferPool(device, guards, gpucore.BufferPoolConfig{AlignmentBytes: 1, MinBucketSizeBytes: 1})

	_, err := pool.Acquire(8193, gpudevice.BufferUsageStorage, "toobig")
	var tooLarge *gpucore.BufferTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected *BufferTooLargeError, got %T: %v", err, err)
	}
}

func TestBufferPool_WithBufferReleasesOnError(t *testing.T) {
	device := newTestDevice(t, noop.Options{})
	guards := gpucore.NewPerfGuards(gpucore.ProductionPreset())
	pool := gpucore.NewBufferPool(device, guards, gpucore.BufferPoolConfig{MaxBuffersPerBucket: 1, MaxTotalPooledBuffers: 1})

	wantErr := errFake
	err := pool.WithBuffer(128, gpudevice.BufferUsageStorage, "scoped", func(b gpudevice.Buffer) error {
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected propagated error, got %v", err)
	}

	stats := pool.GetStats()
	if stats.ActiveCount != 0 {
		t.Fatalf("expected buffer released on error path, active=%d", stats.ActiveCount)
	}
	if stats.PooledCount != 1 {
		t.Fatalf("expected buffer returned to pool, pooled=%d", stats.PooledCount)
	}
}

var errFake = fakeErr("boom")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func TestBufferPool_ReleaseWithPoolingDisabledDefersDestruction(t *testing.T) {
	device := newTestDevice(t, noop.Options{})
	guards := gpucore.NewPerfGuards(gpucore.ProductionPreset())
	pool := gpucore.NewBufferPool(device, guards, gpucore.BufferPoolConfig{PoolingDisabled: true})

	buf, err := pool.Acquire(256, gpudevice.BufferUsageStorage, "x")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	pool.Release(buf)

	// No device submission occurred, so calling ScheduleDeferredFlush with a
	// nil signal exercises the teardown fallback: immediate destruction.
	pool.ScheduleDeferredFlush(nil)

	stats := pool.GetStats()
	if stats.PooledCount != 0 {
		t.Fatalf("pooling disabled: expected nothing pooled, got %d", stats.PooledCount)
	}
}
