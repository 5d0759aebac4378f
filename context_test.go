// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucore_test

import (
	"testing"

	"github.com/webforge-ai/gpucore"
	"github.com/webforge-ai/gpucore/gpudevice"
	"github.com/webforge-ai/gpucore/gpudevice/noop"
)

func TestContext_InitWiresEveryComponent(t *testing.T) {
	ctx := gpucore.NewContext(noop.NewInstance(noop.Options{}), gpucore.ContextConfig{
		PerfGuards: gpucore.DebugPreset(),
	})

	device, err := ctx.Init("test")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if device == nil {
		t.Fatal("expected a device")
	}
	if ctx.Tracker() == nil {
		t.Fatal("expected a submission tracker after Init")
	}
	if ctx.Profiler() == nil {
		t.Fatal("expected a profiler after Init")
	}

	buf, err := ctx.Pool.Acquire(256, gpudevice.BufferUsageStorage, "x")
	if err != nil {
		t.Fatalf("Pool.Acquire: %v", err)
	}
	ctx.Pool.Release(buf)

	rec, err := ctx.NewRecorder("smoke", gpucore.RecorderConfig{})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if err := rec.SubmitAndWait(""); err != nil {
		t.Fatalf("SubmitAndWait: %v", err)
	}

	ctx.Destroy()
}

func TestContext_DestroyTearsDownInDependencyOrder(t *testing.T) {
	ctx := gpucore.NewContext(noop.NewInstance(noop.Options{}), gpucore.ContextConfig{})
	if _, err := ctx.Init("test"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// Destroy must not panic even with live pool/cache state outstanding.
	ctx.Destroy()
	if ctx.Device.Device() != nil {
		t.Fatal("expected device cleared after Destroy")
	}
}
