// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Package gpucore implements the GPU resource orchestration layer that sits
// directly above a gpudevice.Device: buffer pooling, uniform reuse, batched
// command recording, and submission/completion discipline for a kernel
// pipeline that issues many compute dispatches per generated token.
//
// The package deliberately knows nothing about model loading, tokenizers,
// kernel WGSL sources, or dispatch logic — those are external collaborators
// that consume a *Context's CommandRecorder, BufferPool, and Tensor/
// WeightBuffer descriptors (see SPEC_FULL.md §8).
package gpucore
