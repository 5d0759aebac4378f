// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucore

import (
	"github.com/webforge-ai/gpucore/gpudevice"
)

// PartitionedBufferPool routes acquire/release to a per-partition
// BufferPool, falling back to a shared pool for unregistered partition
// IDs (spec.md §4.5) — e.g. one partition per mixture-of-experts weight
// group, with shared activation/workspace buffers falling back to the
// shared pool.
type PartitionedBufferPool struct {
	device gpudevice.Device
	guards *PerfGuards
	cfg    BufferPoolConfig

	shared     *BufferPool
	partitions map[string]*BufferPool
}

// NewPartitionedBufferPool creates one BufferPool per id in partitionIDs
// plus a shared pool, all sharing cfg and guards.
func NewPartitionedBufferPool(device gpudevice.Device, guards *PerfGuards, cfg BufferPoolConfig, partitionIDs []string) *PartitionedBufferPool {
	pp := &PartitionedBufferPool{
		device:     device,
		guards:     guards,
		cfg:        cfg,
		shared:     NewBufferPool(device, guards, cfg),
		partitions: make(map[string]*BufferPool, len(partitionIDs)),
	}
	for _, id := range partitionIDs {
		pp.partitions[id] = NewBufferPool(device, guards, cfg)
	}
	return pp
}

func (pp *PartitionedBufferPool) poolFor(partitionID string) *BufferPool {
	if pool, ok := pp.partitions[partitionID]; ok {
		return pool
	}
	return pp.shared
}

// Acquire routes to partitionID's pool if registered, else the shared
// pool.
func (pp *PartitionedBufferPool) Acquire(partitionID string, size uint64, usage gpudevice.BufferUsage, label string) (gpudevice.Buffer, error) {
	return pp.poolFor(partitionID).Acquire(size, usage, label)
}

// Release follows the same routing as Acquire. A buffer acquired from
// partition P is only legal to release via partition P: releasing it
// through a different partition ID is a silent no-op there, since that
// pool never tracked it as active (spec.md §4.5 invariant).
func (pp *PartitionedBufferPool) Release(partitionID string, buffer gpudevice.Buffer) {
	pp.poolFor(partitionID).Release(buffer)
}

// GetSharedPool exposes the shared fallback pool for advanced consumers.
func (pp *PartitionedBufferPool) GetSharedPool() *BufferPool {
	return pp.shared
}

// GetExpertPool exposes a registered partition's pool, or nil if id was
// never registered.
func (pp *PartitionedBufferPool) GetExpertPool(id string) *BufferPool {
	return pp.partitions[id]
}

// Resize adds newly-registered partition IDs at runtime, each getting a
// fresh BufferPool sharing this facade's device/guards/config. Already
// registered IDs are left untouched. Supplements the original partition
// set, which is otherwise fixed at construction — useful when a model's
// active-expert set is only known after the loader inspects the weight
// manifest.
func (pp *PartitionedBufferPool) Resize(partitionIDs []string) {
	for _, id := range partitionIDs {
		if _, ok := pp.partitions[id]; ok {
			continue
		}
		pp.partitions[id] = NewBufferPool(pp.device, pp.guards, pp.cfg)
	}
}

// SetDevice propagates a new device to the shared pool and every
// partition pool, e.g. after a DeviceContext re-initializes past a
// device-lost epoch bump.
func (pp *PartitionedBufferPool) SetDevice(device gpudevice.Device) {
	pp.device = device
	pp.shared.SetDevice(device)
	for _, pool := range pp.partitions {
		pool.SetDevice(device)
	}
}

// Destroy tears down the shared pool and every partition pool.
func (pp *PartitionedBufferPool) Destroy() {
	pp.shared.Destroy()
	for _, pool := range pp.partitions {
		pool.Destroy()
	}
}
