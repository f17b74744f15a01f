package timeseries

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseFrequency converts a pandas-style frequency string ("1min", "30s",
// "2h", "1D") into a duration. A missing count defaults to 1.
func ParseFrequency(s string) (time.Duration, error) {
	raw := strings.TrimSpace(s)
	i := 0
	for i < len(raw) && (raw[i] >= '0' && raw[i] <= '9') {
		i++
	}
	count := 1
	if i > 0 {
		n, err := strconv.Atoi(raw[:i])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid frequency %q", s)
		}
		count = n
	}
	var unit time.Duration
	switch strings.ToLower(raw[i:]) {
	case "s", "sec":
		unit = time.Second
	case "min", "t":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid frequency %q", s)
	}
	return time.Duration(count) * unit, nil
}

// Resample averages each column over fixed bins of the given interval. Bins
// are aligned to whole multiples of the interval and labeled by their start
// time. NaN samples
// are excluded from the mean; a bin whose samples are all NaN yields NaN.
// Bins containing no rows at all do not appear in the output. The frame must
// be sorted.
func (f *Frame) Resample(interval time.Duration) (*Frame, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("resample interval must be positive, got %v", interval)
	}
	out := New()
	sums := make(map[string][]float64, len(f.order))
	counts := make(map[string][]int, len(f.order))
	for _, name := range f.order {
		out.order = append(out.order, name)
	}

	var binStart time.Time
	open := false
	for i, t := range f.index {
		bs := t.Truncate(interval)
		if !open || !bs.Equal(binStart) {
			out.index = append(out.index, bs)
			for _, name := range f.order {
				sums[name] = append(sums[name], 0)
				counts[name] = append(counts[name], 0)
			}
			binStart = bs
			open = true
		}
		last := len(out.index) - 1
		for _, name := range f.order {
			v := f.cols[name][i]
			if !math.IsNaN(v) {
				sums[name][last] += v
				counts[name][last]++
			}
		}
	}

	for _, name := range f.order {
		col := make([]float64, len(out.index))
		for i := range col {
			if counts[name][i] > 0 {
				col[i] = sums[name][i] / float64(counts[name][i])
			} else {
				col[i] = math.NaN()
			}
		}
		out.cols[name] = col
	}
	return out, nil
}
