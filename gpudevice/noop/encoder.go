// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package noop

import (
	"errors"

	"github.com/webforge-ai/gpucore/gpudevice"
)

var errEncoderFinished = errors.New("gpudevice/noop: encoder already finished")

// Encoder is the noop gpudevice.CommandEncoder. Every recorded operation is
// a closure appended to ops and replayed, in order, when the resulting
// CommandBuffer is submitted — mirroring how a real GPU only executes
// recorded work at submission time, not at record time.
type Encoder struct {
	label    string
	ops      []func()
	finished bool
}

// BeginComputePass opens a pass. If desc requests timestamp writes, the
// begin/end timestamps are recorded as part of the command stream, not
// immediately, matching GPU execution order.
func (e *Encoder) BeginComputePass(desc *gpudevice.ComputePassDescriptor) gpudevice.ComputePassEncoder {
	pass := &ComputePass{encoder: e}
	if desc != nil && desc.TimestampWrites != nil {
		qs := desc.TimestampWrites.QuerySet.(*QuerySet)
		beginIdx := desc.TimestampWrites.BeginningOfPassWriteIndex
		endIdx := desc.TimestampWrites.EndOfPassWriteIndex
		e.ops = append(e.ops, func() { qs.writeTimestamp(beginIdx) })
		pass.endTimestamp = func() { qs.writeTimestamp(endIdx) }
	}
	return pass
}

// CopyBufferToBuffer records a buffer-to-buffer copy.
func (e *Encoder) CopyBufferToBuffer(src gpudevice.Buffer, srcOffset uint64, dst gpudevice.Buffer, dstOffset uint64, size uint64) {
	s := src.(*Buffer)
	d := dst.(*Buffer)
	e.ops = append(e.ops, func() {
		d.write(dstOffset, s.read(srcOffset, size))
	})
}

// ResolveQuerySet records a query-set resolve into dst.
func (e *Encoder) ResolveQuerySet(qs gpudevice.QuerySet, firstQuery, queryCount uint32, dst gpudevice.Buffer, dstOffset uint64) {
	q := qs.(*QuerySet)
	d := dst.(*Buffer)
	e.ops = append(e.ops, func() {
		q.resolveInto(d, dstOffset, firstQuery, queryCount)
	})
}

// Finish closes recording and returns the replayable command buffer.
func (e *Encoder) Finish() (gpudevice.CommandBuffer, error) {
	if e.finished {
		return nil, errEncoderFinished
	}
	e.finished = true
	return &CommandBuffer{ops: e.ops}, nil
}

// ComputePass is the noop gpudevice.ComputePassEncoder.
type ComputePass struct {
	encoder      *Encoder
	endTimestamp func()
	ended        bool
}

// End closes the pass, appending the end-of-pass timestamp write (if any)
// to the owning encoder's command stream.
func (p *ComputePass) End() {
	if p.ended {
		return
	}
	p.ended = true
	if p.endTimestamp != nil {
		fn := p.endTimestamp
		p.encoder.ops = append(p.encoder.ops, fn)
	}
}

// CommandBuffer is the noop gpudevice.CommandBuffer: a replayable op list.
type CommandBuffer struct {
	ops []func()
}
