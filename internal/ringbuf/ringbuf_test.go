package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIngestBelowCapacity(t *testing.T) {
	b := New(5)
	b.Ingest([]uint16{1, 2, 3})

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 5, b.Cap())
	assert.Equal(t, []uint16{1, 2, 3}, b.Snapshot())
}

func TestIngestEvictsOldest(t *testing.T) {
	b := New(4)
	b.Ingest([]uint16{1, 2, 3})
	b.Ingest([]uint16{4, 5, 6})

	assert.Equal(t, 4, b.Len())
	assert.Equal(t, []uint16{3, 4, 5, 6}, b.Snapshot())

	b.Ingest([]uint16{7})
	assert.Equal(t, []uint16{4, 5, 6, 7}, b.Snapshot())
}

func TestIngestLargerThanCapacity(t *testing.T) {
	b := New(3)
	b.Ingest([]uint16{9})
	b.Ingest([]uint16{1, 2, 3, 4, 5})

	assert.Equal(t, []uint16{3, 4, 5}, b.Snapshot())
}

func TestMatchesSliceModel(t *testing.T) {
	const capacity = 7
	b := New(capacity)
	var model []uint16

	next := uint16(0)
	for round := 1; round <= 20; round++ {
		chunk := make([]uint16, round%9)
		for i := range chunk {
			chunk[i] = next
			next++
		}
		b.Ingest(chunk)

		model = append(model, chunk...)
		if len(model) > capacity {
			model = model[len(model)-capacity:]
		}
		assert.Equal(t, model, b.Snapshot(), "round %d", round)
	}
}

func TestNewFilled(t *testing.T) {
	b := NewFilled(4, 0)
	assert.Equal(t, 4, b.Len())
	assert.Equal(t, []uint16{0, 0, 0, 0}, b.Snapshot())

	b.Ingest([]uint16{8})
	assert.Equal(t, []uint16{0, 0, 0, 8}, b.Snapshot())
}

func TestSnapshotIsACopy(t *testing.T) {
	b := New(2)
	b.Ingest([]uint16{1, 2})

	s := b.Snapshot()
	s[0] = 99

	assert.Equal(t, []uint16{1, 2}, b.Snapshot())
}

func TestNewPanicsOnInvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { New(0) })
}
