package display

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miniscope/internal/trigger"
)

func ramp(n int) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = uint16(i)
	}
	return out
}

func at(p int) trigger.Result {
	return trigger.Result{Indices: []trigger.RawIndex{trigger.RawIndex(p)}}
}

func TestSamplesToShow(t *testing.T) {
	tests := []struct {
		name      string
		perDiv    time.Duration
		bufferLen int
		want      int
	}{
		{"default 1ms at 50kHz", time.Millisecond, 8000, 500},
		{"clamped to buffer", 20 * time.Millisecond, 8000, 8000},
		{"clamped to minimum", 20 * time.Microsecond, 8000, 100},
		{"minimum wins over short buffer", time.Millisecond, 40, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SamplesToShow(tt.perDiv, 50000, 10, tt.bufferLen))
		})
	}
}

func TestExtractWithTrigger(t *testing.T) {
	buf := ramp(1000)

	got := Extract(buf, at(200), 100, Auto)

	require.Len(t, got, 100)
	assert.Equal(t, uint16(200), got[0])
	assert.Equal(t, uint16(299), got[99])
}

func TestExtractTriggerTooLateFallsBackToNewest(t *testing.T) {
	buf := ramp(1000)

	for _, mode := range []Mode{Auto, Normal} {
		got := Extract(buf, at(950), 100, mode)
		require.Len(t, got, 100)
		assert.Equal(t, uint16(900), got[0], mode.String())
	}
}

func TestExtractWithoutTrigger(t *testing.T) {
	buf := ramp(1000)

	got := Extract(buf, trigger.Result{}, 100, Auto)
	require.Len(t, got, 100)
	assert.Equal(t, uint16(999), got[99])

	assert.Empty(t, Extract(buf, trigger.Result{}, 100, Normal))
}

func TestExtractShortBufferReturnsAll(t *testing.T) {
	buf := ramp(40)

	got := Extract(buf, trigger.Result{}, 100, Auto)
	assert.Equal(t, buf, got)
}

func TestExtractReturnsCopy(t *testing.T) {
	buf := ramp(200)
	got := Extract(buf, at(0), 100, Auto)
	got[0] = 4000

	assert.Equal(t, uint16(0), buf[0])
}

func TestSelectPairNormalSuppression(t *testing.T) {
	buf := ramp(500)

	_, _, ok := SelectPair(buf, buf, at(10), trigger.Result{}, 100, Normal)
	assert.False(t, ok)

	_, _, ok = SelectPair(buf, buf, trigger.Result{}, trigger.Result{}, 100, Normal)
	assert.False(t, ok)

	ch1, ch2, ok := SelectPair(buf, buf, at(10), at(20), 100, Normal)
	require.True(t, ok)
	assert.Equal(t, uint16(10), ch1[0])
	assert.Equal(t, uint16(20), ch2[0])

	ch1, ch2, ok = SelectPair(buf, buf, trigger.Result{}, at(20), 100, Auto)
	require.True(t, ok)
	assert.Equal(t, uint16(400), ch1[0])
	assert.Equal(t, uint16(20), ch2[0])
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("normal")
	require.NoError(t, err)
	assert.Equal(t, Normal, m)

	_, err = ParseMode("single")
	assert.Error(t, err)

	var u Mode
	require.NoError(t, u.UnmarshalText([]byte("NORMAL")))
	assert.Equal(t, Normal, u)
}
