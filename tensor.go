// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucore

import (
	"fmt"

	"github.com/webforge-ai/gpucore/gpudevice"
)

// DType enumerates the element types Tensor and WeightBuffer can carry.
// Quantized weight formats (4-bit-K-block, 8-bit) are opaque to this core:
// their packing is a model-conversion concern (§1 Non-goals), so DTypeBytes
// only defines a per-element byte size for the dense float formats (half,
// single, brain-float).
type DType int

const (
	DTypeHalf DType = iota
	DTypeSingle
	DTypeBFloat16
	DTypeQ4K
	DTypeQ8
)

// String implements fmt.Stringer.
func (d DType) String() string {
	switch d {
	case DTypeHalf:
		return "half"
	case DTypeSingle:
		return "single"
	case DTypeBFloat16:
		return "brain-float"
	case DTypeQ4K:
		return "4-bit-k-block"
	case DTypeQ8:
		return "8-bit"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// DTypeBytes returns the per-element byte size for the dense float dtypes.
// It returns 0 for block-quantized dtypes, whose size depends on the
// quantization's block layout rather than a fixed per-element width.
func DTypeBytes(d DType) uint64 {
	switch d {
	case DTypeHalf:
		return 2
	case DTypeSingle:
		return 4
	case DTypeBFloat16:
		return 2
	default:
		return 0
	}
}

// TensorBytes returns the product of the shape and DTypeBytes(dtype). It is
// only meaningful for dense float dtypes; callers must not call it for
// block-quantized weight dtypes (DTypeBytes returns 0 for those).
func TensorBytes(shape []int64, dtype DType) uint64 {
	bytes := DTypeBytes(dtype)
	total := bytes
	for _, dim := range shape {
		total *= uint64(dim)
	}
	return total
}

// Layout describes a weight buffer's matrix storage order.
type Layout int

const (
	LayoutRowMajor Layout = iota
	LayoutColumnMajor
)

func (l Layout) String() string {
	if l == LayoutColumnMajor {
		return "column-major"
	}
	return "row-major"
}

// Tensor is an immutable activation descriptor: a buffer handle paired with
// its dtype, shape, and an optional debug label. Shapes are frozen
// (defensively copied) at construction.
type Tensor struct {
	buffer gpudevice.Buffer
	dtype  DType
	shape  []int64
	label  string
}

// NewTensor creates a Tensor, copying shape so later caller-side mutation
// of the slice cannot change the descriptor.
func NewTensor(buffer gpudevice.Buffer, dtype DType, shape []int64, label string) *Tensor {
	frozen := make([]int64, len(shape))
	copy(frozen, shape)
	return &Tensor{buffer: buffer, dtype: dtype, shape: frozen, label: label}
}

func (t *Tensor) Buffer() gpudevice.Buffer { return t.buffer }
func (t *Tensor) DType() DType             { return t.dtype }
func (t *Tensor) Label() string            { return t.label }

// Shape returns a defensive copy of the frozen shape.
func (t *Tensor) Shape() []int64 {
	out := make([]int64, len(t.shape))
	copy(out, t.shape)
	return out
}

// WeightBuffer is an immutable model-weight descriptor: buffer, dtype,
// storage layout, shape, and an optional debug label. dtype is fixed at
// construction and never mutated (spec.md §3 invariant).
type WeightBuffer struct {
	buffer gpudevice.Buffer
	dtype  DType
	layout Layout
	shape  []int64
	label  string
}

// NewWeightBuffer creates a WeightBuffer, copying shape defensively.
func NewWeightBuffer(buffer gpudevice.Buffer, dtype DType, layout Layout, shape []int64, label string) *WeightBuffer {
	frozen := make([]int64, len(shape))
	copy(frozen, shape)
	return &WeightBuffer{buffer: buffer, dtype: dtype, layout: layout, shape: frozen, label: label}
}

func (w *WeightBuffer) Buffer() gpudevice.Buffer { return w.buffer }
func (w *WeightBuffer) DType() DType             { return w.dtype }
func (w *WeightBuffer) Layout() Layout           { return w.layout }
func (w *WeightBuffer) Label() string            { return w.label }

// Shape returns a defensive copy of the frozen shape.
func (w *WeightBuffer) Shape() []int64 {
	out := make([]int64, len(w.shape))
	copy(out, w.shape)
	return out
}

// IsColumnMajor is a structural check: true iff the weight's layout is
// column-major.
func (w *WeightBuffer) IsColumnMajor() bool {
	return w.layout == LayoutColumnMajor
}

// CPUWeightBuffer wraps a single-precision array for weights too large (or
// too rarely used) to keep GPU-resident.
type CPUWeightBuffer struct {
	Data  []float32
	Shape []int64
	Label string
}

// IsWeightBuffer reports whether x is a *WeightBuffer.
func IsWeightBuffer(x any) bool {
	_, ok := x.(*WeightBuffer)
	return ok
}

// IsCPUWeightBuffer reports whether x is a *CPUWeightBuffer.
func IsCPUWeightBuffer(x any) bool {
	_, ok := x.(*CPUWeightBuffer)
	return ok
}

// GetBuffer erases the descriptor for call sites that still want the raw
// buffer handle, regardless of whether x is a *Tensor, *WeightBuffer, or a
// bare gpudevice.Buffer.
func GetBuffer(x any) (gpudevice.Buffer, bool) {
	switch v := x.(type) {
	case *Tensor:
		return v.buffer, true
	case *WeightBuffer:
		return v.buffer, true
	case gpudevice.Buffer:
		return v, true
	default:
		return nil, false
	}
}

// GetLayout returns the layout of a *WeightBuffer, or false for anything
// else (tensors and raw buffers carry no layout).
func GetLayout(x any) (Layout, bool) {
	w, ok := x.(*WeightBuffer)
	if !ok {
		return 0, false
	}
	return w.layout, true
}

// GetWeightDType returns the dtype of a *WeightBuffer or *Tensor.
func GetWeightDType(x any) (DType, bool) {
	switch v := x.(type) {
	case *WeightBuffer:
		return v.dtype, true
	case *Tensor:
		return v.dtype, true
	default:
		return 0, false
	}
}

// InferOutputDType returns DTypeHalf iff both inputs are half, else
// DTypeSingle.
func InferOutputDType(a, b DType) DType {
	if a == DTypeHalf && b == DTypeHalf {
		return DTypeHalf
	}
	return DTypeSingle
}

// AssertDType fails with *TypeMismatchError if t's dtype isn't expected.
func AssertDType(t *Tensor, expected DType, op string) error {
	if t.dtype != expected {
		return &TypeMismatchError{Op: op, Expected: expected, Actual: t.dtype}
	}
	return nil
}

// AssertShape fails with *ShapeMismatchError if t's shape doesn't match
// expected. A -1 entry in expected is a wildcard matching any dimension.
func AssertShape(t *Tensor, expected []int64, op string) error {
	if len(t.shape) != len(expected) {
		return &ShapeMismatchError{Op: op, Expected: expected, Actual: t.shape}
	}
	for i, want := range expected {
		if want == -1 {
			continue
		}
		if t.shape[i] != want {
			return &ShapeMismatchError{Op: op, Expected: expected, Actual: t.shape}
		}
	}
	return nil
}
