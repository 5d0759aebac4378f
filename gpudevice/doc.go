// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package gpudevice defines the narrow capability set that the orchestration
// core in package gpucore requires from whatever WebGPU-class surface it is
// embedded in: a browser binding, a native wgpu binding, or (for tests) the
// deterministic reference implementation in gpudevice/noop.
//
// The interfaces here are intentionally compute-only: no render pipelines,
// no swapchains, no textures beyond what a kernel needs for staging. Model
// loading, kernel WGSL sources, and dispatch logic are supplied by callers
// and never appear in this package.
package gpudevice
