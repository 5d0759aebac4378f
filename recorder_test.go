// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucore_test

import (
	"errors"
	"testing"

	"github.com/webforge-ai/gpucore"
	"github.com/webforge-ai/gpucore/gpudevice"
	"github.com/webforge-ai/gpucore/gpudevice/noop"
)

func newTestContext(t *testing.T, guardsCfg gpucore.PerfGuardsConfig) (*gpucore.Context, gpudevice.Device) {
	t.Helper()
	ctx := gpucore.NewContext(noop.NewInstance(noop.Options{}), gpucore.ContextConfig{PerfGuards: guardsCfg})
	device, err := ctx.Init("test")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return ctx, device
}

func TestCommandRecorder_BatchedProfiling(t *testing.T) {
	ctx, _ := newTestContext(t, gpucore.DebugPreset())

	rec, err := ctx.NewRecorder("batch", gpucore.RecorderConfig{Profile: true})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	labels := []string{"qkv", "attn", "mlp", "norm"}
	for _, label := range labels {
		pass, err := rec.BeginComputePass(label)
		if err != nil {
			t.Fatalf("BeginComputePass(%s): %v", label, err)
		}
		pass.End()
	}

	if err := rec.SubmitAndWait("test"); err != nil {
		t.Fatalf("SubmitAndWait: %v", err)
	}

	timings, err := rec.ResolveProfileTimings()
	if err != nil {
		t.Fatalf("ResolveProfileTimings: %v", err)
	}
	if len(timings) != len(labels) {
		t.Fatalf("expected %d labels, got %d: %+v", len(labels), len(timings), timings)
	}
	for _, label := range labels {
		if _, ok := timings[label]; !ok {
			t.Errorf("missing timing for label %q", label)
		}
	}

	report := gpucore.FormatProfileReport(timings)
	if report == "" {
		t.Error("expected a non-empty formatted report")
	}
}

func TestCommandRecorder_AfterSubmitGuard(t *testing.T) {
	ctx, _ := newTestContext(t, gpucore.ProductionPreset())

	rec, err := ctx.NewRecorder("guarded", gpucore.RecorderConfig{})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	if err := rec.SubmitAndWait(""); err != nil {
		t.Fatalf("SubmitAndWait: %v", err)
	}

	_, err = rec.CreateTempBuffer(64, gpudevice.BufferUsageStorage, "late")
	var afterSubmit *gpucore.AfterSubmitError
	if !errors.As(err, &afterSubmit) {
		t.Fatalf("expected *AfterSubmitError, got %T: %v", err, err)
	}

	// Abort after submit is documented as a no-op.
	rec.Abort()
}

func TestCommandRecorder_DoubleSubmitFails(t *testing.T) {
	ctx, _ := newTestContext(t, gpucore.ProductionPreset())

	rec, err := ctx.NewRecorder("double", gpucore.RecorderConfig{})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	if _, err := rec.Submit(""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := rec.Submit(""); !errors.Is(err, gpucore.ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
}

func TestCommandRecorder_TempBufferDestroyedOnCompletion(t *testing.T) {
	ctx, _ := newTestContext(t, gpucore.ProductionPreset())

	rec, err := ctx.NewRecorder("temp", gpucore.RecorderConfig{})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	buf, err := rec.CreateTempBuffer(256, gpudevice.BufferUsageStorage, "scratch")
	if err != nil {
		t.Fatalf("CreateTempBuffer: %v", err)
	}

	if err := rec.SubmitAndWait(""); err != nil {
		t.Fatalf("SubmitAndWait: %v", err)
	}

	// SubmitAndWait runs completion cleanup deterministically before
	// returning, so the temp buffer is already destroyed here.
	if err := buf.MapAsync(gpudevice.MapModeRead); !errors.Is(err, gpudevice.ErrMapFailed) {
		t.Fatalf("expected destroyed buffer to reject mapping, got %v", err)
	}
}
