// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package noop

import (
	"encoding/binary"
	"sync"
	"time"
)

// QuerySet is the noop gpudevice.QuerySet: a slice of nanosecond timestamps
// recorded with the wall clock. Real backends record GPU-clock ticks; the
// noop backend's CPU-clock substitute is good enough for exercising the
// resolve/outlier-guard/resolve-to-milliseconds plumbing in the core.
type QuerySet struct {
	mu         sync.Mutex
	count      uint32
	timestamps []int64
	destroyed  bool
}

func (q *QuerySet) Count() uint32 { return q.count }

func (q *QuerySet) Destroy() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.destroyed = true
}

// writeTimestamp records the current time at index i.
func (q *QuerySet) writeTimestamp(i uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if int(i) < len(q.timestamps) {
		q.timestamps[i] = time.Now().UnixNano()
	}
}

// resolveInto writes [first, first+count) timestamps as little-endian
// uint64 nanosecond counters into dst, starting at dstOffset, matching the
// byte layout a real ResolveQuerySet produces.
func (q *QuerySet) resolveInto(dst *Buffer, dstOffset uint64, first, count uint32) {
	q.mu.Lock()
	vals := make([]int64, count)
	copy(vals, q.timestamps[first:first+count])
	q.mu.Unlock()

	buf := make([]byte, 8*count)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	dst.write(dstOffset, buf)
}
