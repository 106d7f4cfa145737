package acquisition

import (
	"sync/atomic"

	"miniscope/internal/frame"
	"miniscope/internal/metrics"
)

// Handoff is the bounded queue between the acquisition goroutine and the
// display consumer. Push never blocks: when the queue is full the oldest batch
// is evicted so the newest one is always admitted. The consumer drains to the
// newest batch and discards the rest.
type Handoff struct {
	ch      chan frame.SampleBatch
	drops   atomic.Uint64
	skipped atomic.Uint64
}

// NewHandoff creates a queue holding at most capacity batches.
func NewHandoff(capacity int) *Handoff {
	if capacity <= 0 {
		capacity = 1
	}
	return &Handoff{ch: make(chan frame.SampleBatch, capacity)}
}

// Push enqueues b, evicting the oldest queued batch if the queue is full.
// It reports whether an eviction happened.
func (h *Handoff) Push(b frame.SampleBatch) bool {
	dropped := false
	for {
		select {
		case h.ch <- b:
			return dropped
		default:
		}

		select {
		case <-h.ch:
			dropped = true
			h.drops.Add(1)
			metrics.QueueDroppedTotal.Inc()
		default:
		}
	}
}

// Latest drains the queue and returns the newest batch. Older batches are
// discarded. It returns false when the queue was empty.
func (h *Handoff) Latest() (frame.SampleBatch, bool) {
	var latest frame.SampleBatch
	got := 0
	for {
		select {
		case b := <-h.ch:
			latest = b
			got++
		default:
			if got > 1 {
				h.skipped.Add(uint64(got - 1))
				metrics.QueueSkippedTotal.Add(float64(got - 1))
			}
			return latest, got > 0
		}
	}
}

// Clear discards everything queued.
func (h *Handoff) Clear() {
	for {
		select {
		case <-h.ch:
		default:
			return
		}
	}
}

// Len returns the number of queued batches.
func (h *Handoff) Len() int { return len(h.ch) }

// Cap returns the queue capacity.
func (h *Handoff) Cap() int { return cap(h.ch) }

// Drops returns how many batches were evicted to admit newer ones.
func (h *Handoff) Drops() uint64 { return h.drops.Load() }

// Skipped returns how many batches the consumer discarded while draining.
func (h *Handoff) Skipped() uint64 { return h.skipped.Load() }
