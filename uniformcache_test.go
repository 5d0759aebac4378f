// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucore_test

import (
	"testing"

	"github.com/webforge-ai/gpucore"
	"github.com/webforge-ai/gpucore/gpudevice/noop"
)

func TestUniformCache_Identity(t *testing.T) {
	device := newTestDevice(t, noop.Options{})
	guards := gpucore.NewPerfGuards(gpucore.ProductionPreset())
	cache := gpucore.NewUniformCache(device, guards, gpucore.UniformCacheConfig{})

	b1, err := cache.GetOrCreate([]byte{0, 1, 2, 3}, "u")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	b1Again, err := cache.GetOrCreate([]byte{0, 1, 2, 3}, "u")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if b1 != b1Again {
		t.Fatal("expected the same buffer for identical content")
	}

	stats := cache.GetStats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("expected hits=1 misses=1, got %+v", stats)
	}

	b2, err := cache.GetOrCreate([]byte{0, 1, 2, 4}, "u")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if b2 == b1 {
		t.Fatal("expected a distinct buffer for distinct content")
	}
}

func TestUniformCache_DeferredDestructionOnEviction(t *testing.T) {
	device := newTestDevice(t, noop.Options{})
	guards := gpucore.NewPerfGuards(gpucore.ProductionPreset())
	cache := gpucore.NewUniformCache(device, guards, gpucore.UniformCacheConfig{MaxEntries: 2})

	bufA, err := cache.GetOrCreate([]byte{1}, "a")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	bufB, err := cache.GetOrCreate([]byte{2}, "b")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	// Both entries were left at refcount 1 by GetOrCreate; release them so
	// the next insertion's eviction has a refcount-0 candidate.
	cache.Release(bufA)
	cache.Release(bufB)

	if _, err := cache.GetOrCreate([]byte{3}, "c"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	stats := cache.GetStats()
	if stats.Evictions != 1 {
		t.Fatalf("expected 1 eviction, got %d", stats.Evictions)
	}
	if stats.PendingDestruction != 1 {
		t.Fatalf("expected evicted buffer queued for deferred destruction, got %d pending", stats.PendingDestruction)
	}

	n := cache.FlushPendingDestruction()
	if n != 1 {
		t.Fatalf("expected FlushPendingDestruction to report 1, got %d", n)
	}
}

func TestUniformCache_EvictStaleEmptyCache(t *testing.T) {
	device := newTestDevice(t, noop.Options{})
	guards := gpucore.NewPerfGuards(gpucore.ProductionPreset())
	cache := gpucore.NewUniformCache(device, guards, gpucore.UniformCacheConfig{})

	n := cache.EvictStale()
	if n != 0 {
		t.Fatalf("expected 0 on empty cache, got %d", n)
	}
	if cache.GetStats().PendingDestruction != 0 {
		t.Fatal("expected pending queue unchanged")
	}
}
