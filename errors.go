// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucore

import (
	"errors"
	"fmt"
)

// Sentinel errors, for the cases that carry no extra data.
var (
	// ErrDeviceUnavailable is returned by Init when no WebGPU-class
	// adapter is available at all.
	ErrDeviceUnavailable = errors.New("gpucore: no GPU adapter available")

	// ErrNotInitialized is returned by capability/device queries issued
	// before Init or SetDevice.
	ErrNotInitialized = errors.New("gpucore: device context not initialized")

	// ErrAlreadySubmitted is returned by a second call to Submit or
	// SubmitAndWait on the same CommandRecorder.
	ErrAlreadySubmitted = errors.New("gpucore: command recorder already submitted")

	// ErrMissingTimestampResources is returned by ResolveProfileTimings
	// when the recorder was not constructed with profiling enabled.
	ErrMissingTimestampResources = errors.New("gpucore: recorder has no timestamp query resources")

	// ErrNotSubmitted is returned by ResolveProfileTimings when called
	// before the recorder has been submitted.
	ErrNotSubmitted = errors.New("gpucore: command recorder has not been submitted")

	// ErrReadbackBlocked is returned when PerfGuards denies a readback
	// and strict mode is enabled.
	ErrReadbackBlocked = errors.New("gpucore: readback blocked by perf guards (strict mode)")
)

// DeviceInitError reports that a device could be requested but creation
// failed even after retrying with no optional features.
type DeviceInitError struct {
	Cause error
}

func (e *DeviceInitError) Error() string {
	return fmt.Sprintf("gpucore: device initialization failed: %v", e.Cause)
}

func (e *DeviceInitError) Unwrap() error { return e.Cause }

// BufferTooLargeError reports that a computed allocation bucket exceeds the
// device's maximum buffer size (or storage binding size, for storage
// buffers).
type BufferTooLargeError struct {
	RequestedSize uint64
	Bucket        uint64
	Max           uint64
	Storage       bool
}

func (e *BufferTooLargeError) Error() string {
	kind := "buffer"
	if e.Storage {
		kind = "storage buffer"
	}
	return fmt.Sprintf("gpucore: %s bucket %d (requested %d) exceeds device maximum %d",
		kind, e.Bucket, e.RequestedSize, e.Max)
}

// AfterSubmitError reports a mutation attempted on a CommandRecorder after
// it left the Open state.
type AfterSubmitError struct {
	Operation string
}

func (e *AfterSubmitError) Error() string {
	return fmt.Sprintf("gpucore: %s: command recorder is no longer open", e.Operation)
}

// TypeMismatchError reports a failed Tensor/WeightBuffer dtype assertion.
type TypeMismatchError struct {
	Op       string
	Expected DType
	Actual   DType
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("gpucore: %s: expected dtype %s, got %s", e.Op, e.Expected, e.Actual)
}

// ShapeMismatchError reports a failed Tensor/WeightBuffer shape assertion.
type ShapeMismatchError struct {
	Op       string
	Expected []int64
	Actual   []int64
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("gpucore: %s: expected shape %v, got %v", e.Op, e.Expected, e.Actual)
}
