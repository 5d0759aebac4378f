// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucore

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/webforge-ai/gpucore/gpudevice"
)

// UniformCacheConfig configures a UniformCache (spec.md §6).
type UniformCacheConfig struct {
	MaxEntries int
	MaxAgeMS   float64
}

func (c UniformCacheConfig) withDefaults() UniformCacheConfig {
	if c.MaxEntries == 0 {
		c.MaxEntries = 128
	}
	if c.MaxAgeMS == 0 {
		c.MaxAgeMS = 30_000
	}
	return c
}

// UniformCacheStats is a plain-data snapshot of a UniformCache's counters.
type UniformCacheStats struct {
	Hits               uint64
	Misses             uint64
	Evictions          uint64
	CurrentSize        int
	PendingDestruction int
}

type uniformEntry struct {
	buffer   gpudevice.Buffer
	lastUsed time.Time
	refcount int
}

// UniformCache is a content-addressed cache for small read-only buffers,
// keyed by an 8-character hex digest of the payload's FNV-1a-32 hash, with
// LRU eviction and deferred destruction (spec.md §4.6). Lookup is by the
// hash alone; payload bytes are not compared. Two different payloads with
// the same FNV-1a-32 hash share one entry, and the later caller receives
// the buffer holding the earlier payload.
type UniformCache struct {
	device gpudevice.Device
	guards *PerfGuards
	cfg    UniformCacheConfig

	mu      sync.Mutex
	entries map[string]*uniformEntry

	pending           []gpudevice.Buffer
	hits              uint64
	misses            uint64
	evictions         uint64
}

// NewUniformCache creates a cache that allocates buffers through device.
func NewUniformCache(device gpudevice.Device, guards *PerfGuards, cfg UniformCacheConfig) *UniformCache {
	return &UniformCache{
		device:  device,
		guards:  guards,
		cfg:     cfg.withDefaults(),
		entries: make(map[string]*uniformEntry),
	}
}

// SetDevice attaches (or replaces) the device the cache allocates through.
func (c *UniformCache) SetDevice(device gpudevice.Device) {
	c.mu.Lock()
	c.device = device
	c.mu.Unlock()
}

func hashKey(payload []byte) string {
	h := fnv.New32a()
	h.Write(payload)
	return fmt.Sprintf("%08x", h.Sum32())
}

// GetOrCreate returns the buffer for payload's content, creating and
// uploading a new uniform buffer on a miss. label is only used for the
// buffer's debug label on a miss.
func (c *UniformCache) GetOrCreate(payload []byte, label string) (gpudevice.Buffer, error) {
	key := hashKey(payload)

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		entry.lastUsed = time.Now()
		entry.refcount++
		c.hits++
		buf := entry.buffer
		c.mu.Unlock()
		return buf, nil
	}
	c.misses++
	device := c.device
	needsEviction := len(c.entries) >= c.cfg.MaxEntries
	c.mu.Unlock()

	if device == nil {
		return nil, ErrDeviceUnavailable
	}
	if needsEviction {
		c.evictOne()
	}

	buf, err := device.CreateBuffer(gpudevice.BufferDescriptor{
		Label: label,
		Size:  uint64(len(payload)),
		Usage: gpudevice.BufferUsageUniform | gpudevice.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	if err := device.Queue().WriteBuffer(buf, 0, payload); err != nil {
		buf.Destroy()
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = &uniformEntry{buffer: buf, lastUsed: time.Now(), refcount: 1}
	c.mu.Unlock()

	return buf, nil
}

// Release decrements the refcount of the entry matching buffer, clamped
// at 0. Unknown buffers (caller-owned, never cached) are silently
// ignored.
func (c *UniformCache) Release(buffer gpudevice.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.buffer == buffer {
			if entry.refcount > 0 {
				entry.refcount--
			}
			return
		}
	}
}

// evictOne removes the entry with the oldest last-used time among
// refcount-0 entries, falling back to the oldest entry overall if every
// entry is referenced. The removed entry's buffer is queued for deferred
// destruction, never destroyed immediately: a command buffer encoded
// before eviction may still be submitted after it (spec.md §4.6).
func (c *UniformCache) evictOne() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked()
}

func (c *UniformCache) evictLocked() {
	if len(c.entries) == 0 {
		return
	}

	var bestKey string
	var bestZero *uniformEntry
	var bestAny string
	var bestAnyEntry *uniformEntry

	for key, entry := range c.entries {
		if bestAnyEntry == nil || entry.lastUsed.Before(bestAnyEntry.lastUsed) {
			bestAny = key
			bestAnyEntry = entry
		}
		if entry.refcount == 0 {
			if bestZero == nil || entry.lastUsed.Before(bestZero.lastUsed) {
				bestKey = key
				bestZero = entry
			}
		}
	}

	victimKey := bestKey
	victim := bestZero
	if victim == nil {
		victimKey = bestAny
		victim = bestAnyEntry
	}
	if victim == nil {
		return
	}

	delete(c.entries, victimKey)
	c.pending = append(c.pending, victim.buffer)
	c.evictions++
}

// EvictStale removes every refcount-0 entry older than MaxAgeMS, queuing
// their buffers for deferred destruction. Returns the count removed.
func (c *UniformCache) EvictStale() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range c.entries {
		if entry.refcount != 0 {
			continue
		}
		ageMS := float64(now.Sub(entry.lastUsed)) / float64(time.Millisecond)
		if ageMS <= c.cfg.MaxAgeMS {
			continue
		}
		delete(c.entries, key)
		c.pending = append(c.pending, entry.buffer)
		c.evictions++
		removed++
	}
	return removed
}

// FlushPendingDestruction destroys every buffer queued by eviction and
// returns the count destroyed. Must only be called after all in-flight
// work referencing those buffers has completed — the Command Recorder
// calls this from its submission-completion callback.
func (c *UniformCache) FlushPendingDestruction() int {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, b := range pending {
		b.Destroy()
	}
	return len(pending)
}

// Clear flushes pending destruction then destroys every live entry.
func (c *UniformCache) Clear() {
	c.FlushPendingDestruction()

	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*uniformEntry)
	c.mu.Unlock()

	for _, entry := range entries {
		entry.buffer.Destroy()
	}
}

// IsCached reports whether buffer is a live entry's buffer (linear scan,
// per the §9 design note accepting this as an acceptable simplicity
// trade-off absent a reverse index).
func (c *UniformCache) IsCached(buffer gpudevice.Buffer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.buffer == buffer {
			return true
		}
	}
	return false
}

// ReleaseUniform routes to Release if buffer is cached, else destroys it
// directly (the caller-owned path).
func (c *UniformCache) ReleaseUniform(buffer gpudevice.Buffer) {
	if c.IsCached(buffer) {
		c.Release(buffer)
		return
	}
	buffer.Destroy()
}

// GetStats returns a snapshot of the cache's counters.
func (c *UniformCache) GetStats() UniformCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return UniformCacheStats{
		Hits:               c.hits,
		Misses:             c.misses,
		Evictions:          c.evictions,
		CurrentSize:        len(c.entries),
		PendingDestruction: len(c.pending),
	}
}
