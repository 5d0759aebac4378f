// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package noop

import "github.com/webforge-ai/gpucore/gpudevice"

// Options configures the single adapter/device the noop Instance exposes.
type Options struct {
	// Manual, when true, makes Queue.Submit return an unresolved
	// CompletionSignal that the test must resolve via Queue.Flush.
	Manual bool

	// Limits overrides gpudevice.DefaultLimits() when non-zero fields are
	// set; zero-valued fields fall back to the default.
	Limits gpudevice.Limits

	// Features overrides the adapter's advertised feature set. Defaults to
	// gpudevice.PreferredFeatures (all features supported).
	Features []string
}

// Instance is the noop gpudevice.Instance: it always exposes exactly one
// adapter, regardless of power preference.
type Instance struct {
	opts Options
}

// NewInstance creates a noop instance with the given options.
func NewInstance(opts Options) *Instance {
	if len(opts.Features) == 0 {
		opts.Features = gpudevice.PreferredFeatures
	}
	limits := gpudevice.DefaultLimits()
	mergeLimits(&limits, opts.Limits)
	opts.Limits = limits
	return &Instance{opts: opts}
}

func mergeLimits(base *gpudevice.Limits, override gpudevice.Limits) {
	if override.MaxBufferSize != 0 {
		base.MaxBufferSize = override.MaxBufferSize
	}
	if override.MaxStorageBufferBindingSize != 0 {
		base.MaxStorageBufferBindingSize = override.MaxStorageBufferBindingSize
	}
	if override.MaxUniformBufferBindingSize != 0 {
		base.MaxUniformBufferBindingSize = override.MaxUniformBufferBindingSize
	}
	if override.MaxComputeWorkgroupSizeX != 0 {
		base.MaxComputeWorkgroupSizeX = override.MaxComputeWorkgroupSizeX
	}
	if override.MaxComputeWorkgroupSizeY != 0 {
		base.MaxComputeWorkgroupSizeY = override.MaxComputeWorkgroupSizeY
	}
	if override.MaxComputeWorkgroupSizeZ != 0 {
		base.MaxComputeWorkgroupSizeZ = override.MaxComputeWorkgroupSizeZ
	}
	if override.MaxComputeInvocationsPerWorkgroup != 0 {
		base.MaxComputeInvocationsPerWorkgroup = override.MaxComputeInvocationsPerWorkgroup
	}
	if override.MaxComputeWorkgroupStorageSize != 0 {
		base.MaxComputeWorkgroupStorageSize = override.MaxComputeWorkgroupStorageSize
	}
	if override.MaxComputeWorkgroupsPerDimension != 0 {
		base.MaxComputeWorkgroupsPerDimension = override.MaxComputeWorkgroupsPerDimension
	}
}

// RequestAdapter returns the instance's single adapter. pref is accepted
// for interface conformance but does not change which adapter is returned.
func (i *Instance) RequestAdapter(_ gpudevice.PowerPreference) (gpudevice.Adapter, error) {
	return &Adapter{opts: i.opts}, nil
}
