// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucore_test

import (
	"testing"

	"github.com/webforge-ai/gpucore"
	"github.com/webforge-ai/gpucore/gpudevice/noop"
)

func TestSubmissionTracker_TracksPerPhaseAndGlobal(t *testing.T) {
	device := newTestDevice(t, noop.Options{})
	guards := gpucore.NewPerfGuards(gpucore.DebugPreset())
	tracker := gpucore.NewSubmissionTracker(device.Queue(), guards, 0)
	tracker.SetEnabled(true)

	tracker.SetPhase(gpucore.PhasePrefill)
	if _, err := tracker.Submit(nil, "prefill-step"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	tracker.SetPhase(gpucore.PhaseDecode)
	if _, err := tracker.Submit(nil, "decode-step"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := tracker.Submit(nil, "decode-step"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	global := tracker.GlobalStats()
	if global.Count != 3 {
		t.Fatalf("expected global count 3, got %d", global.Count)
	}

	prefill := tracker.PhaseStats(gpucore.PhasePrefill)
	if prefill.Count != 1 {
		t.Fatalf("expected prefill count 1, got %d", prefill.Count)
	}
	decode := tracker.PhaseStats(gpucore.PhaseDecode)
	if decode.Count != 2 {
		t.Fatalf("expected decode count 2, got %d", decode.Count)
	}
	if decode.Histogram["decode-step"] != 2 {
		t.Fatalf("expected histogram to track source tag twice, got %+v", decode.Histogram)
	}

	guardStats := guards.Stats()
	if guardStats.Submits != 3 {
		t.Fatalf("expected PerfGuards submit counter 3, got %d", guardStats.Submits)
	}
}

func TestSubmissionTracker_DisabledSkipsDurationTrackingButStillCountsGuards(t *testing.T) {
	device := newTestDevice(t, noop.Options{})
	guards := gpucore.NewPerfGuards(gpucore.DebugPreset())
	tracker := gpucore.NewSubmissionTracker(device.Queue(), guards, 0)

	if _, err := tracker.Submit(nil, "x"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if stats := tracker.GlobalStats(); stats.Count != 0 {
		t.Fatalf("expected no duration tracking while disabled, got %+v", stats)
	}
	if guards.Stats().Submits != 1 {
		t.Fatalf("expected PerfGuards submit counter to still increment")
	}
}

func TestSubmissionTracker_Reset(t *testing.T) {
	device := newTestDevice(t, noop.Options{})
	guards := gpucore.NewPerfGuards(gpucore.DebugPreset())
	tracker := gpucore.NewSubmissionTracker(device.Queue(), guards, 0)
	tracker.SetEnabled(true)

	if _, err := tracker.Submit(nil, "a"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	tracker.Reset()

	if stats := tracker.GlobalStats(); stats.Count != 0 {
		t.Fatalf("expected stats cleared after Reset, got %+v", stats)
	}
}

func TestPhase_String(t *testing.T) {
	cases := map[gpucore.Phase]string{
		gpucore.PhaseOther:   "other",
		gpucore.PhasePrefill: "prefill",
		gpucore.PhaseDecode:  "decode",
	}
	for phase, want := range cases {
		if got := phase.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", phase, got, want)
		}
	}
}
