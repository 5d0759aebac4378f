// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package noop implements gpudevice's interfaces entirely in-memory, with
// no external GPU. It plays the same role the teacher's hal/noop backend
// plays for gogpu/wgpu: a deterministic stand-in used by the core's own
// test suite (and by embedders before a real backend is wired in).
//
// Submission is synchronous by default: CompletionSignal is resolved before
// Queue.Submit returns. Tests that need to observe the "work is still
// in-flight" window construct the Device with Manual: true and drive
// completion explicitly via Queue.Flush.
package noop
