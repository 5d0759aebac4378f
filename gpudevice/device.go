// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpudevice

// DeviceDescriptor configures device creation (§4.1): it is a request, not a
// guarantee — the embedder may grant a subset of RequiredFeatures and must
// reject if it cannot meet RequiredLimits.
type DeviceDescriptor struct {
	Label            string
	RequiredFeatures []string
	RequiredLimits   Limits
}

// LostReason classifies why a device-lost notification fired.
type LostReason int

const (
	LostReasonUnknown LostReason = iota
	LostReasonDestroyed
)

// Device is a logical GPU device: the object the core creates buffers,
// encoders, and query sets from.
type Device interface {
	Features() FeatureSet
	Limits() Limits
	Queue() Queue

	CreateBuffer(desc BufferDescriptor) (Buffer, error)
	CreateCommandEncoder(desc CommandEncoderDescriptor) (CommandEncoder, error)
	CreateQuerySet(desc QuerySetDescriptor) (QuerySet, error)

	// OnLost registers a callback invoked at most once, asynchronously,
	// when the device is lost. Registering a new callback replaces the
	// previous one.
	OnLost(fn func(reason LostReason, message string))

	Destroy()
}

// Adapter represents a physical GPU exposed by an Instance.
type Adapter interface {
	Info() AdapterInfo
	Features() FeatureSet
	Limits() Limits
	RequestDevice(desc DeviceDescriptor) (Device, error)
}

// Instance is the embedder's entry point for adapter enumeration.
type Instance interface {
	RequestAdapter(pref PowerPreference) (Adapter, error)
}
