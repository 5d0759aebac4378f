// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucore_test

import (
	"strings"
	"testing"
	"time"

	"github.com/webforge-ai/gpucore"
	"github.com/webforge-ai/gpucore/gpudevice/noop"
)

func TestGPUProfiler_CPUBracket(t *testing.T) {
	device := newTestDevice(t, noop.Options{})
	guards := gpucore.NewPerfGuards(gpucore.DebugPreset())
	profiler := gpucore.NewGPUProfiler(device, guards, gpucore.ProfilerConfig{})

	profiler.Begin("matmul")
	time.Sleep(time.Millisecond)
	profiler.End("matmul")

	results := profiler.GetResults()
	r, ok := results["matmul"]
	if !ok {
		t.Fatal("expected a recorded result for label matmul")
	}
	if r.Count != 1 {
		t.Fatalf("expected count 1, got %d", r.Count)
	}
	if r.Average <= 0 {
		t.Fatalf("expected a positive average duration, got %f", r.Average)
	}

	report := profiler.GetReport()
	if report == "" {
		t.Fatal("expected a non-empty report")
	}
}

func TestGPUProfiler_EndWithoutBeginIsNoop(t *testing.T) {
	device := newTestDevice(t, noop.Options{})
	guards := gpucore.NewPerfGuards(gpucore.ProductionPreset())
	profiler := gpucore.NewGPUProfiler(device, guards, gpucore.ProfilerConfig{})

	profiler.End("never-started")

	if results := profiler.GetResults(); len(results) != 0 {
		t.Fatalf("expected no recorded results, got %+v", results)
	}
}

func TestGPUProfiler_ReportOnEmptyProfiler(t *testing.T) {
	device := newTestDevice(t, noop.Options{})
	guards := gpucore.NewPerfGuards(gpucore.ProductionPreset())
	profiler := gpucore.NewGPUProfiler(device, guards, gpucore.ProfilerConfig{})

	if report := profiler.GetReport(); report != "(no profiling data)" {
		t.Fatalf("expected placeholder report, got %q", report)
	}
}

func TestGPUProfiler_Reset(t *testing.T) {
	device := newTestDevice(t, noop.Options{})
	guards := gpucore.NewPerfGuards(gpucore.ProductionPreset())
	profiler := gpucore.NewGPUProfiler(device, guards, gpucore.ProfilerConfig{})

	profiler.Begin("op")
	profiler.End("op")
	profiler.Reset()

	if results := profiler.GetResults(); len(results) != 0 {
		t.Fatalf("expected cleared results after Reset, got %+v", results)
	}
}

func TestFormatProfileReport_PercentOfTotal(t *testing.T) {
	timings := map[string]float64{"a": 75, "b": 25}
	report := gpucore.FormatProfileReport(timings)
	if report == "" {
		t.Fatal("expected a non-empty report")
	}
	if !strings.Contains(report, "75.00%") || !strings.Contains(report, "25.00%") {
		t.Fatalf("expected 75%%/25%% shares of the total, got %q", report)
	}
}

func TestFormatProfileReport_Empty(t *testing.T) {
	if report := gpucore.FormatProfileReport(nil); report != "(no profiling data)" {
		t.Fatalf("expected placeholder for empty timings, got %q", report)
	}
}
