// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package noop

import (
	"sync"
	"sync/atomic"

	"github.com/webforge-ai/gpucore/gpudevice"
)

// Device is the noop gpudevice.Device.
type Device struct {
	label    string
	features gpudevice.FeatureSet
	limits   gpudevice.Limits
	queue    *Queue

	mu        sync.Mutex
	lostFn    func(reason gpudevice.LostReason, message string)
	destroyed bool

	nextBufferID atomic.Uint64
}

// Features returns the device's granted feature set.
func (d *Device) Features() gpudevice.FeatureSet { return d.features }

// Limits returns the device's resource limits.
func (d *Device) Limits() gpudevice.Limits { return d.limits }

// Queue returns the device's single queue.
func (d *Device) Queue() gpudevice.Queue { return d.queue }

// CreateBuffer allocates an in-memory buffer of the requested size.
func (d *Device) CreateBuffer(desc gpudevice.BufferDescriptor) (gpudevice.Buffer, error) {
	if desc.Size > d.limits.MaxBufferSize {
		return nil, gpudevice.ErrBufferTooLarge
	}
	b := &Buffer{
		id:    d.nextBufferID.Add(1),
		size:  desc.Size,
		usage: desc.Usage,
		label: desc.Label,
		data:  make([]byte, desc.Size),
	}
	if desc.MappedAtCreation {
		b.mapped = true
		b.mapMode = gpudevice.MapModeWrite
	}
	return b, nil
}

// CreateCommandEncoder creates a new recording encoder.
func (d *Device) CreateCommandEncoder(desc gpudevice.CommandEncoderDescriptor) (gpudevice.CommandEncoder, error) {
	return &Encoder{label: desc.Label}, nil
}

// CreateQuerySet creates an in-memory timestamp query set.
func (d *Device) CreateQuerySet(desc gpudevice.QuerySetDescriptor) (gpudevice.QuerySet, error) {
	return &QuerySet{count: desc.Count, timestamps: make([]int64, desc.Count)}, nil
}

// OnLost registers the device-lost callback.
func (d *Device) OnLost(fn func(reason gpudevice.LostReason, message string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lostFn = fn
}

// Destroy marks the device destroyed and fires any registered lost
// callback, matching a real backend's behavior on explicit teardown.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	fn := d.lostFn
	d.mu.Unlock()

	if fn != nil {
		fn(gpudevice.LostReasonDestroyed, "device destroyed")
	}
}
