// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpudevice

// BufferUsage is a bitmask of how a buffer may be used, mirroring the
// WebGPU usage flags relevant to a compute-only pipeline.
type BufferUsage uint32

const (
	BufferUsageMapRead BufferUsage = 1 << iota
	BufferUsageMapWrite
	BufferUsageCopySrc
	BufferUsageCopyDst
	BufferUsageStorage
	BufferUsageUniform
	BufferUsageIndirect
	BufferUsageQueryResolve
)

// Has reports whether all bits in mask are set.
func (u BufferUsage) Has(mask BufferUsage) bool {
	return u&mask == mask
}

// BufferDescriptor configures buffer creation.
type BufferDescriptor struct {
	Label            string
	Size             uint64
	Usage            BufferUsage
	MappedAtCreation bool
}

// MapMode selects the direction of an asynchronous buffer mapping.
type MapMode int

const (
	MapModeRead MapMode = iota
	MapModeWrite
)

// Buffer is a GPU-resident buffer as exposed by the embedder.
type Buffer interface {
	Size() uint64
	Usage() BufferUsage
	Label() string

	// MapAsync blocks the caller until the buffer is mapped in the given
	// mode or the mapping fails. Real backends resolve this against a browser
	// promise or a native map callback; the noop backend resolves it
	// synchronously.
	MapAsync(mode MapMode) error

	// MappedRange returns the mapped byte range. Valid only between a
	// successful MapAsync and the matching Unmap.
	MappedRange() []byte

	Unmap()
	Destroy()
}
