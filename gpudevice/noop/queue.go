// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package noop

import (
	"fmt"
	"sync"

	"github.com/webforge-ai/gpucore/gpudevice"
)

// Queue is the noop gpudevice.Queue.
type Queue struct {
	device *Device
	manual bool

	mu      sync.Mutex
	pending []*signal
}

func (q *Queue) Label() string { return q.device.label + " queue" }

// WriteBuffer copies data directly into the destination buffer.
func (q *Queue) WriteBuffer(buf gpudevice.Buffer, offset uint64, data []byte) error {
	b, ok := buf.(*Buffer)
	if !ok {
		return fmt.Errorf("gpudevice/noop: WriteBuffer: not a noop buffer")
	}
	b.write(offset, data)
	return nil
}

// Submit replays every recorded command buffer's ops, then resolves (or, in
// Manual mode, queues) the resulting CompletionSignal.
func (q *Queue) Submit(buffers []gpudevice.CommandBuffer) (gpudevice.CompletionSignal, error) {
	for _, raw := range buffers {
		cb, ok := raw.(*CommandBuffer)
		if !ok {
			return nil, fmt.Errorf("gpudevice/noop: Submit: not a noop command buffer")
		}
		for _, op := range cb.ops {
			op()
		}
	}

	s := newSignal()
	if !q.manual {
		s.resolve(nil)
		return s, nil
	}

	q.mu.Lock()
	q.pending = append(q.pending, s)
	q.mu.Unlock()
	return s, nil
}

// Flush resolves the oldest still-pending CompletionSignal. It is a no-op
// if there is nothing pending. Only meaningful when the device was created
// with Options.Manual.
func (q *Queue) Flush() {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	s := q.pending[0]
	q.pending = q.pending[1:]
	q.mu.Unlock()

	s.resolve(nil)
}

// FlushAll resolves every pending CompletionSignal, in submission order.
func (q *Queue) FlushAll() {
	for {
		q.mu.Lock()
		n := len(q.pending)
		q.mu.Unlock()
		if n == 0 {
			return
		}
		q.Flush()
	}
}
