// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpudevice

import "errors"

// Sentinel errors returned by Instance/Adapter implementations.
var (
	// ErrNoAdapters is returned when an Instance has no adapters matching
	// the requested power preference.
	ErrNoAdapters = errors.New("gpudevice: no adapters available")

	// ErrDeviceInitFailed is returned when RequestDevice fails even after
	// retrying with no optional features.
	ErrDeviceInitFailed = errors.New("gpudevice: device request failed")

	// ErrMapFailed is returned when MapAsync cannot complete.
	ErrMapFailed = errors.New("gpudevice: buffer map failed")

	// ErrBufferTooLarge is returned by CreateBuffer when the requested size
	// exceeds the device's maximum buffer size.
	ErrBufferTooLarge = errors.New("gpudevice: buffer size exceeds device maximum")
)
