// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package noop

import "github.com/webforge-ai/gpucore/gpudevice"

// Adapter is the noop gpudevice.Adapter.
type Adapter struct {
	opts Options
}

// Info returns placeholder adapter metadata.
func (a *Adapter) Info() gpudevice.AdapterInfo {
	return gpudevice.AdapterInfo{
		Vendor:       "gpucore",
		Architecture: "noop",
		Device:       "In-Memory Reference Device",
		Description:  "deterministic in-memory device for tests and embedding before a backend is wired in",
	}
}

// Features returns the adapter's advertised feature set.
func (a *Adapter) Features() gpudevice.FeatureSet {
	return gpudevice.NewFeatureSet(a.opts.Features...)
}

// Limits returns the adapter's resource limits.
func (a *Adapter) Limits() gpudevice.Limits {
	return a.opts.Limits
}

// RequestDevice opens a logical device granting the intersection of
// RequiredFeatures with the adapter's advertised set. An empty
// RequiredFeatures grants the full advertised set. It never fails.
func (a *Adapter) RequestDevice(desc gpudevice.DeviceDescriptor) (gpudevice.Device, error) {
	granted := gpudevice.NewFeatureSet(a.opts.Features...).Intersect(gpudevice.NewFeatureSet(desc.RequiredFeatures...))
	if len(desc.RequiredFeatures) == 0 {
		granted = gpudevice.NewFeatureSet(a.opts.Features...)
	}

	limits := a.opts.Limits
	d := &Device{
		label:    desc.Label,
		features: granted,
		limits:   limits,
	}
	d.queue = &Queue{device: d, manual: a.opts.Manual}
	return d, nil
}
