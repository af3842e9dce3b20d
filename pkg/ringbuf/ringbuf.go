// Package ringbuf implements a fixed-capacity circular buffer for
// interleaved I/Q float32 samples. It is written by exactly one
// ingest goroutine per session; readers get a consistent snapshot
// copy and may observe stale data when racing a write, which is
// acceptable for the display path.
package ringbuf

import "fmt"

// RangeError reports an out-of-bounds read request.
type RangeError struct {
	Start    int
	Length   int
	Capacity int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("ringbuf: invalid range start=%d length=%d capacity=%d", e.Start, e.Length, e.Capacity)
}

// Stats is a snapshot of buffer occupancy and overflow accounting.
type Stats struct {
	Capacity           int     `json:"capacity"`
	Used               int     `json:"used"`
	UtilizationPercent float64 `json:"utilization_percent"`
	OverflowCount      uint64  `json:"overflow_count"`
	SampleRate         float64 `json:"sample_rate"`
	RetentionSeconds   float64 `json:"retention_seconds"`
	MemoryBytes        int     `json:"memory_bytes"`
}

// Buffer is a circular store sized to hold retentionSeconds worth of
// interleaved (I, Q) pairs at the configured sample rate.
type Buffer struct {
	data             []float32
	writeCursor      int
	totalWritten     uint64
	overflowCount    uint64
	sampleRate       float64
	retentionSeconds float64
}

// New creates a buffer with capacity floor(sampleRate * retentionSeconds * 2).
func New(sampleRate, retentionSeconds float64) (*Buffer, error) {
	return newBuffer(sampleRate, retentionSeconds)
}

// NewDecimated divides the sample rate by factor before sizing, trading
// memory for retention. Read and write semantics are unchanged.
func NewDecimated(sampleRate, retentionSeconds float64, factor int) (*Buffer, error) {
	if factor < 1 {
		return nil, fmt.Errorf("ringbuf: decimation factor must be >= 1, got %d", factor)
	}
	return newBuffer(sampleRate/float64(factor), retentionSeconds)
}

func newBuffer(effectiveRate, retentionSeconds float64) (*Buffer, error) {
	capacity := int(effectiveRate * retentionSeconds * 2)
	if capacity <= 0 {
		return nil, fmt.Errorf("ringbuf: non-positive capacity from rate=%f retention=%f", effectiveRate, retentionSeconds)
	}
	return &Buffer{
		data:             make([]float32, capacity),
		sampleRate:       effectiveRate,
		retentionSeconds: retentionSeconds,
	}, nil
}

// Write copies samples into the buffer at the write cursor, wrapping
// transparently. A call larger than the whole buffer is truncated to the
// most recent capacity samples and counted as exactly one overflow.
// Returns the number of samples actually written.
func (b *Buffer) Write(samples []float32) int {
	if len(samples) == 0 {
		return 0
	}

	capacity := len(b.data)
	if len(samples) > capacity {
		// Keep the tail: recent data wins over old data.
		samples = samples[len(samples)-capacity:]
		b.overflowCount++
	}

	n := len(samples)
	firstPart := capacity - b.writeCursor
	if n <= firstPart {
		copy(b.data[b.writeCursor:], samples)
	} else {
		copy(b.data[b.writeCursor:], samples[:firstPart])
		copy(b.data[0:], samples[firstPart:])
	}

	b.writeCursor = (b.writeCursor + n) % capacity
	b.totalWritten += uint64(n)
	return n
}

// Read returns length samples starting at absolute-within-capacity index
// start, wrapping past the end of storage. The result is a copy. Start
// must lie in [0, capacity) and length in (0, capacity].
func (b *Buffer) Read(start, length int) ([]float32, error) {
	capacity := len(b.data)
	if start < 0 || start >= capacity || length <= 0 || length > capacity {
		return nil, &RangeError{Start: start, Length: length, Capacity: capacity}
	}

	out := make([]float32, length)
	firstPart := capacity - start
	if length <= firstPart {
		copy(out, b.data[start:start+length])
	} else {
		copy(out, b.data[start:])
		copy(out[firstPart:], b.data[:length-firstPart])
	}
	return out, nil
}

// ReadRecent returns the most recent length samples, ending at the
// current write cursor.
func (b *Buffer) ReadRecent(length int) ([]float32, error) {
	capacity := len(b.data)
	if length <= 0 || length > capacity {
		return nil, &RangeError{Start: 0, Length: length, Capacity: capacity}
	}

	start := (b.writeCursor - length) % capacity
	if start < 0 {
		start += capacity
	}
	return b.Read(start, length)
}

// Capacity returns the fixed buffer capacity in samples (I and Q counted
// separately).
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// TotalWritten returns the monotonic count of samples ever written; it may
// exceed capacity.
func (b *Buffer) TotalWritten() uint64 {
	return b.totalWritten
}

// OverflowCount returns the number of write calls that exceeded capacity.
func (b *Buffer) OverflowCount() uint64 {
	return b.overflowCount
}

// Stats returns a snapshot of buffer state.
func (b *Buffer) Stats() Stats {
	capacity := len(b.data)
	used := capacity
	if b.totalWritten < uint64(capacity) {
		used = int(b.totalWritten)
	}
	return Stats{
		Capacity:           capacity,
		Used:               used,
		UtilizationPercent: 100 * float64(used) / float64(capacity),
		OverflowCount:      b.overflowCount,
		SampleRate:         b.sampleRate,
		RetentionSeconds:   b.retentionSeconds,
		MemoryBytes:        capacity * 4,
	}
}

// Clear zeroes storage and resets the cursor and counters. Capacity and
// configuration are unchanged.
func (b *Buffer) Clear() {
	for i := range b.data {
		b.data[i] = 0
	}
	b.writeCursor = 0
	b.totalWritten = 0
	b.overflowCount = 0
}
