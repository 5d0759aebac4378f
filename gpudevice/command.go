// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package gpudevice

// QueryType names the kind of query a QuerySet records.
type QueryType int

const (
	QueryTypeTimestamp QueryType = iota
)

// QuerySetDescriptor configures query set creation.
type QuerySetDescriptor struct {
	Label string
	Type  QueryType
	Count uint32
}

// QuerySet is a fixed-size array of GPU queries (timestamps, for this core).
type QuerySet interface {
	Count() uint32
	Destroy()
}

// PassTimestampWrites binds a compute pass's begin/end boundaries to two
// slots of a query set.
type PassTimestampWrites struct {
	QuerySet                  QuerySet
	BeginningOfPassWriteIndex uint32
	EndOfPassWriteIndex       uint32
}

// ComputePassDescriptor configures a compute pass.
type ComputePassDescriptor struct {
	Label           string
	TimestampWrites *PassTimestampWrites
}

// ComputePassEncoder records compute dispatches. This core never calls
// dispatch/bind methods itself (kernel dispatch logic is out of scope,
// §1) — it only opens and closes passes around caller-issued work, so the
// interface exposes only pass lifecycle.
type ComputePassEncoder interface {
	End()
}

// CommandBuffer is an opaque, finished recording ready for submission.
type CommandBuffer interface{}

// CommandEncoderDescriptor configures command encoder creation.
type CommandEncoderDescriptor struct {
	Label string
}

// CommandEncoder records a batch of GPU commands.
type CommandEncoder interface {
	BeginComputePass(desc *ComputePassDescriptor) ComputePassEncoder
	CopyBufferToBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset uint64, size uint64)
	ResolveQuerySet(qs QuerySet, firstQuery, queryCount uint32, dst Buffer, dstOffset uint64)
	Finish() (CommandBuffer, error)
}

// CompletionSignal is the single-shot signal fired when a submission's GPU
// work has completed. It is the concrete form of design note §9's
// "async completion callbacks -> task + channel".
type CompletionSignal interface {
	// Done returns a channel that is closed exactly once, when the
	// submitted work completes (successfully or not).
	Done() <-chan struct{}
	// Err returns the completion error, valid only after Done is closed.
	Err() error
}

// Queue submits recorded command buffers and performs direct writes.
type Queue interface {
	Submit(buffers []CommandBuffer) (CompletionSignal, error)
	WriteBuffer(buf Buffer, offset uint64, data []byte) error
	Label() string
}
