// Package ringbuf keeps the most recent raw samples of one channel.
package ringbuf

import "fmt"

// Buffer is a fixed-capacity FIFO of raw ADC counts. Ingesting past
// capacity evicts the oldest samples. It is owned by the display consumer
// and is not safe for concurrent use.
type Buffer struct {
	data  []uint16
	start int // index of the oldest sample
	n     int
}

// New returns an empty buffer. Capacity must be positive.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic(fmt.Sprintf("ringbuf: invalid capacity %d", capacity))
	}
	return &Buffer{data: make([]uint16, capacity)}
}

// NewFilled returns a full buffer where every slot holds v.
func NewFilled(capacity int, v uint16) *Buffer {
	b := New(capacity)
	for i := range b.data {
		b.data[i] = v
	}
	b.n = capacity
	return b
}

// Ingest appends samples in order.
func (b *Buffer) Ingest(samples []uint16) {
	c := len(b.data)
	if len(samples) >= c {
		copy(b.data, samples[len(samples)-c:])
		b.start = 0
		b.n = c
		return
	}
	for _, v := range samples {
		end := (b.start + b.n) % c
		b.data[end] = v
		if b.n < c {
			b.n++
		} else {
			b.start = (b.start + 1) % c
		}
	}
}

// Snapshot returns a copy of the contents, oldest first.
func (b *Buffer) Snapshot() []uint16 {
	out := make([]uint16, b.n)
	first := copy(out, b.data[b.start:min(b.start+b.n, len(b.data))])
	copy(out[first:], b.data[:b.n-first])
	return out
}

func (b *Buffer) Len() int { return b.n }
func (b *Buffer) Cap() int { return len(b.data) }
