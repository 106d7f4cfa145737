// Package trigger locates stable threshold crossings in a channel's sample
// history.
//
// Crossings found on a smoothed series are in a shorter coordinate space than
// the raw buffer. The two spaces have distinct index types so a filtered
// index cannot be used to slice raw samples without an explicit conversion.
package trigger

// RawIndex addresses a sample in the raw ring buffer snapshot.
type RawIndex int

// FilteredIndex addresses a sample in a moving-average output series.
type FilteredIndex int

// Raw maps a filtered index back onto the raw buffer. window is the moving
// average width that produced the series; widths of one or less mean no
// smoothing was applied.
func (i FilteredIndex) Raw(window int) RawIndex {
	if window <= 1 {
		return RawIndex(i)
	}
	return RawIndex(int(i) + window - 1)
}

// Config holds one channel's trigger settings.
type Config struct {
	Threshold     float64 // ADC counts
	Rising        bool
	MinWidth      int // samples that must stay past the threshold after the crossing
	FilterEnabled bool
	FilterWindow  int
	MaxFound      int
}

// Result lists accepted crossings in raw-buffer coordinates, left to right.
type Result struct {
	Indices []RawIndex
}

// First returns the earliest crossing.
func (r Result) First() (RawIndex, bool) {
	if len(r.Indices) == 0 {
		return 0, false
	}
	return r.Indices[0], true
}

// MovingAverage returns the means of every full window of width w over data,
// computed from prefix sums. Input shorter than w, or w of one or less, is
// returned as an unchanged copy.
func MovingAverage(data []float64, w int) []float64 {
	if w <= 1 || len(data) < w {
		out := make([]float64, len(data))
		copy(out, data)
		return out
	}

	prefix := make([]float64, len(data)+1)
	for i, v := range data {
		prefix[i+1] = prefix[i] + v
	}

	out := make([]float64, len(data)-w+1)
	fw := float64(w)
	for i := range out {
		out[i] = (prefix[i+w] - prefix[i]) / fw
	}
	return out
}

// Find scans data left to right for threshold crossings in the requested
// direction. A crossing at i is accepted only when the next minWidth samples
// all stay on the triggered side, which rejects single-sample glitches.
// Scanning stops after maxFound accepted crossings.
func Find(data []float64, threshold float64, rising bool, maxFound, minWidth int) []FilteredIndex {
	var found []FilteredIndex
	if maxFound <= 0 {
		return found
	}

	for i := 0; i < len(data)-minWidth; i++ {
		if i+1 >= len(data) {
			break
		}
		if !crosses(data[i], data[i+1], threshold, rising) {
			continue
		}
		if !holds(data, i, threshold, rising, minWidth) {
			continue
		}
		found = append(found, FilteredIndex(i))
		if len(found) >= maxFound {
			break
		}
	}
	return found
}

func crosses(prev, next, threshold float64, rising bool) bool {
	if rising {
		return prev < threshold && threshold <= next
	}
	return prev > threshold && threshold >= next
}

func holds(data []float64, i int, threshold float64, rising bool, minWidth int) bool {
	for k := 1; k <= minWidth; k++ {
		if i+k >= len(data) {
			return false
		}
		v := data[i+k]
		if rising && v < threshold {
			return false
		}
		if !rising && v > threshold {
			return false
		}
	}
	return true
}

// Detector runs trigger detection for one channel. Each channel owns its
// own Detector; they never share state.
type Detector struct {
	Config Config
}

// Detect finds crossings in raw and returns them in raw-buffer coordinates.
func (d Detector) Detect(raw []uint16) Result {
	series := make([]float64, len(raw))
	for i, v := range raw {
		series[i] = float64(v)
	}

	window := 1
	if d.Config.FilterEnabled && d.Config.FilterWindow > 1 && len(series) >= d.Config.FilterWindow {
		window = d.Config.FilterWindow
		series = MovingAverage(series, window)
	}

	found := Find(series, d.Config.Threshold, d.Config.Rising, d.Config.MaxFound, d.Config.MinWidth)
	res := Result{Indices: make([]RawIndex, len(found))}
	for i, f := range found {
		res.Indices[i] = f.Raw(window)
	}
	return res
}
