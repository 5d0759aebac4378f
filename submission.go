// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpucore

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/webforge-ai/gpucore/internal/rollingstats"

	"github.com/webforge-ai/gpucore/gpudevice"
)

// Phase is the coarse decode-loop state a submission is attributed to.
type Phase int

const (
	PhaseOther Phase = iota
	PhasePrefill
	PhaseDecode
)

func (p Phase) String() string {
	switch p {
	case PhasePrefill:
		return "prefill"
	case PhaseDecode:
		return "decode"
	default:
		return "other"
	}
}

// phaseStats accumulates count/total/avg/min/max plus a latency window for
// percentile queries, and a histogram of inferred source tags.
type phaseStats struct {
	count     uint64
	total     float64
	min       float64
	max       float64
	window    *rollingstats.Window
	histogram map[string]uint64
}

func newPhaseStats(windowCap int) *phaseStats {
	return &phaseStats{window: rollingstats.NewWindow(windowCap), histogram: make(map[string]uint64)}
}

func (s *phaseStats) record(durationMS float64, source string) {
	if s.count == 0 {
		s.min, s.max = durationMS, durationMS
	} else {
		if durationMS < s.min {
			s.min = durationMS
		}
		if durationMS > s.max {
			s.max = durationMS
		}
	}
	s.count++
	s.total += durationMS
	s.window.Add(durationMS)
	if source != "" {
		s.histogram[source]++
	}
}

// SubmissionStats is a plain-data snapshot of one phase's (or the global)
// accumulated submission statistics.
type SubmissionStats struct {
	Count     uint64
	Total     float64
	Average   float64
	Min       float64
	Max       float64
	P50       float64
	P95       float64
	Histogram map[string]uint64
}

func (s *phaseStats) snapshot() SubmissionStats {
	avg := 0.0
	if s.count > 0 {
		avg = s.total / float64(s.count)
	}
	hist := make(map[string]uint64, len(s.histogram))
	for k, v := range s.histogram {
		hist[k] = v
	}
	return SubmissionStats{
		Count:     s.count,
		Total:     s.total,
		Average:   avg,
		Min:       s.min,
		Max:       s.max,
		P50:       s.window.Percentile(50),
		P95:       s.window.Percentile(95),
		Histogram: hist,
	}
}

// SubmissionTracker wraps a gpudevice.Queue's Submit, counting every
// outbound submission via PerfGuards and, when tracking is enabled,
// recording per-submission duration and an optional caller-supplied source
// tag against the current phase (spec.md §4.2).
//
// Phase and the tracking-enabled flag are the two deliberately mutable
// scalars a caller flips around a prefill/decode boundary; everything else
// is accumulate-only.
type SubmissionTracker struct {
	queue  gpudevice.Queue
	guards *PerfGuards

	mu      sync.Mutex
	enabled bool
	phase   Phase

	global   *phaseStats
	byPhase  map[Phase]*phaseStats
	windowCP int
}

// NewSubmissionTracker wraps queue, attributing tracked submissions to
// guards' counters. windowCapacity bounds the percentile sample window per
// phase (0 defaults to 256, matching rollingstats.NewWindow).
func NewSubmissionTracker(queue gpudevice.Queue, guards *PerfGuards, windowCapacity int) *SubmissionTracker {
	t := &SubmissionTracker{
		queue:    queue,
		guards:   guards,
		global:   newPhaseStats(windowCapacity),
		byPhase:  make(map[Phase]*phaseStats),
		windowCP: windowCapacity,
	}
	for _, p := range []Phase{PhaseOther, PhasePrefill, PhaseDecode} {
		t.byPhase[p] = newPhaseStats(windowCapacity)
	}
	return t
}

// SetEnabled toggles per-submission duration/source recording. The
// submission counter in PerfGuards is independent and gated by its own
// TrackSubmitCount option.
func (t *SubmissionTracker) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

// SetPhase changes the phase attributed to subsequent submissions.
func (t *SubmissionTracker) SetPhase(p Phase) {
	t.mu.Lock()
	t.phase = p
	t.mu.Unlock()
}

// Phase returns the currently attributed phase.
func (t *SubmissionTracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Submit wraps queue.Submit, timing it when tracking is enabled and
// incrementing PerfGuards' submit counter (subject to its own gate) only
// on success. source, if empty, is inferred heuristically from the
// caller's frame; the heuristic carries no correctness contract (spec.md
// §4.2, §9).
func (t *SubmissionTracker) Submit(buffers []gpudevice.CommandBuffer, source string) (gpudevice.CompletionSignal, error) {
	start := time.Now()
	sig, err := t.queue.Submit(buffers)
	elapsedMS := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		return sig, err
	}
	t.guards.TrackSubmit()

	t.mu.Lock()
	enabled := t.enabled
	phase := t.phase
	t.mu.Unlock()
	if !enabled {
		return sig, err
	}
	if source == "" {
		source = inferSource()
	}

	t.mu.Lock()
	t.global.record(elapsedMS, source)
	t.byPhase[phase].record(elapsedMS, source)
	t.mu.Unlock()

	return sig, err
}

// GlobalStats returns the accumulated statistics across all phases.
func (t *SubmissionTracker) GlobalStats() SubmissionStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.global.snapshot()
}

// PhaseStats returns the accumulated statistics for a single phase.
func (t *SubmissionTracker) PhaseStats(p Phase) SubmissionStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byPhase[p].snapshot()
}

// Reset clears every phase's accumulated statistics.
func (t *SubmissionTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.global = newPhaseStats(t.windowCP)
	for p := range t.byPhase {
		t.byPhase[p] = newPhaseStats(t.windowCP)
	}
}

// inferSource derives a "file:line" tag from the call stack two frames
// above Submit (the caller of whoever called SubmissionTracker.Submit, e.g.
// the caller of CommandRecorder.Submit). No correctness
// contract: callers wanting reliable attribution should pass an explicit
// source tag to Submit instead.
func inferSource() string {
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", file, line)
}
