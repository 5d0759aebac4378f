// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package noop

import (
	"sync"

	"github.com/webforge-ai/gpucore/gpudevice"
)

// Buffer is the noop gpudevice.Buffer: a plain byte slice.
type Buffer struct {
	id    uint64
	size  uint64
	usage gpudevice.BufferUsage
	label string

	mu        sync.Mutex
	data      []byte
	mapped    bool
	mapMode   gpudevice.MapMode
	destroyed bool
}

// ID exposes the noop buffer's identity for tests that need to assert two
// handles refer to the same underlying allocation.
func (b *Buffer) ID() uint64 { return b.id }

func (b *Buffer) Size() uint64               { return b.size }
func (b *Buffer) Usage() gpudevice.BufferUsage { return b.usage }
func (b *Buffer) Label() string               { return b.label }

// MapAsync resolves synchronously: the noop backend has no real
// asynchronous map round-trip.
func (b *Buffer) MapAsync(mode gpudevice.MapMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return gpudevice.ErrMapFailed
	}
	b.mapped = true
	b.mapMode = mode
	return nil
}

// MappedRange returns the live backing slice while mapped.
func (b *Buffer) MappedRange() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.mapped {
		return nil
	}
	return b.data
}

// Unmap ends the mapping.
func (b *Buffer) Unmap() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mapped = false
}

// Destroy releases the backing storage.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.destroyed = true
	b.data = nil
}

// write copies src into the buffer at offset. Used internally by WriteBuffer
// and CopyBufferToBuffer playback.
func (b *Buffer) write(offset uint64, src []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	copy(b.data[offset:], src)
}

// read returns a copy of size bytes starting at offset.
func (b *Buffer) read(offset, size uint64) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, size)
	copy(out, b.data[offset:offset+size])
	return out
}
