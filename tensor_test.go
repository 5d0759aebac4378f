// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucore_test

import (
	"errors"
	"testing"

	"github.com/webforge-ai/gpucore"
)

func TestTensorBytes(t *testing.T) {
	got := gpucore.TensorBytes([]int64{2, 3, 4}, gpucore.DTypeSingle)
	want := uint64(2 * 3 * 4 * 4)
	if got != want {
		t.Fatalf("TensorBytes = %d, want %d", got, want)
	}
}

func TestDTypeBytes_ZeroForBlockQuantized(t *testing.T) {
	if b := gpucore.DTypeBytes(gpucore.DTypeQ4K); b != 0 {
		t.Fatalf("expected 0 for block-quantized dtype, got %d", b)
	}
	if b := gpucore.DTypeBytes(gpucore.DTypeQ8); b != 0 {
		t.Fatalf("expected 0 for block-quantized dtype, got %d", b)
	}
}

func TestInferOutputDType(t *testing.T) {
	if got := gpucore.InferOutputDType(gpucore.DTypeHalf, gpucore.DTypeHalf); got != gpucore.DTypeHalf {
		t.Fatalf("expected half+half=half, got %v", got)
	}
	if got := gpucore.InferOutputDType(gpucore.DTypeHalf, gpucore.DTypeSingle); got != gpucore.DTypeSingle {
		t.Fatalf("expected half+single=single, got %v", got)
	}
	if got := gpucore.InferOutputDType(gpucore.DTypeSingle, gpucore.DTypeSingle); got != gpucore.DTypeSingle {
		t.Fatalf("expected single+single=single, got %v", got)
	}
}

func TestAssertDType(t *testing.T) {
	tensor := gpucore.NewTensor(nil, gpucore.DTypeHalf, []int64{1}, "x")
	if err := gpucore.AssertDType(tensor, gpucore.DTypeHalf, "op"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}

	err := gpucore.AssertDType(tensor, gpucore.DTypeSingle, "op")
	var mismatch *gpucore.TypeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected *TypeMismatchError, got %T: %v", err, err)
	}
}

func TestAssertShape_WildcardDimension(t *testing.T) {
	tensor := gpucore.NewTensor(nil, gpucore.DTypeSingle, []int64{4, 128, 64}, "x")

	if err := gpucore.AssertShape(tensor, []int64{-1, 128, 64}, "op"); err != nil {
		t.Fatalf("expected wildcard-matched shape, got %v", err)
	}

	err := gpucore.AssertShape(tensor, []int64{4, 128, 32}, "op")
	var mismatch *gpucore.ShapeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected *ShapeMismatchError, got %T: %v", err, err)
	}

	err = gpucore.AssertShape(tensor, []int64{4, 128}, "op")
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected rank mismatch to produce *ShapeMismatchError, got %T: %v", err, err)
	}
}

func TestTensor_ShapeIsDefensivelyCopied(t *testing.T) {
	shape := []int64{1, 2, 3}
	tensor := gpucore.NewTensor(nil, gpucore.DTypeSingle, shape, "x")
	shape[0] = 999

	got := tensor.Shape()
	if got[0] != 1 {
		t.Fatalf("expected tensor shape unaffected by caller mutation, got %v", got)
	}

	got[1] = 888
	if again := tensor.Shape(); again[1] != 2 {
		t.Fatalf("expected Shape() to return a fresh copy each call, got %v", again)
	}
}

func TestWeightBuffer_IsColumnMajor(t *testing.T) {
	w := gpucore.NewWeightBuffer(nil, gpucore.DTypeSingle, gpucore.LayoutColumnMajor, []int64{4, 4}, "w")
	if !w.IsColumnMajor() {
		t.Fatal("expected column-major layout")
	}
	row := gpucore.NewWeightBuffer(nil, gpucore.DTypeSingle, gpucore.LayoutRowMajor, []int64{4, 4}, "w")
	if row.IsColumnMajor() {
		t.Fatal("expected row-major layout")
	}
}

func TestGetBuffer_AcceptsAllDescriptorKinds(t *testing.T) {
	tensor := gpucore.NewTensor(nil, gpucore.DTypeSingle, []int64{1}, "t")
	if _, ok := gpucore.GetBuffer(tensor); !ok {
		t.Fatal("expected *Tensor to yield a buffer")
	}
	weight := gpucore.NewWeightBuffer(nil, gpucore.DTypeSingle, gpucore.LayoutRowMajor, []int64{1}, "w")
	if _, ok := gpucore.GetBuffer(weight); !ok {
		t.Fatal("expected *WeightBuffer to yield a buffer")
	}
	if _, ok := gpucore.GetBuffer("not a buffer"); ok {
		t.Fatal("expected non-descriptor type to fail")
	}
}

func TestGetLayout_OnlyWeightBuffersHaveOne(t *testing.T) {
	weight := gpucore.NewWeightBuffer(nil, gpucore.DTypeSingle, gpucore.LayoutColumnMajor, []int64{1}, "w")
	layout, ok := gpucore.GetLayout(weight)
	if !ok || layout != gpucore.LayoutColumnMajor {
		t.Fatalf("expected column-major layout, got (%v, %v)", layout, ok)
	}

	tensor := gpucore.NewTensor(nil, gpucore.DTypeSingle, []int64{1}, "t")
	if _, ok := gpucore.GetLayout(tensor); ok {
		t.Fatal("expected tensors to carry no layout")
	}
}

func TestIsWeightBuffer_IsCPUWeightBuffer(t *testing.T) {
	weight := gpucore.NewWeightBuffer(nil, gpucore.DTypeSingle, gpucore.LayoutRowMajor, []int64{1}, "w")
	if !gpucore.IsWeightBuffer(weight) {
		t.Fatal("expected IsWeightBuffer true")
	}
	cpu := &gpucore.CPUWeightBuffer{Data: []float32{1, 2}, Shape: []int64{2}, Label: "cpu"}
	if !gpucore.IsCPUWeightBuffer(cpu) {
		t.Fatal("expected IsCPUWeightBuffer true")
	}
	if gpucore.IsWeightBuffer(cpu) {
		t.Fatal("expected CPUWeightBuffer to not also be a WeightBuffer")
	}
}
