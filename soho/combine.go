package soho

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/heliolab/sohodata/timeseries"
)

// speciesPrefix maps a species spelling to the ERNE column prefix letter.
func speciesPrefix(species string) (string, error) {
	switch strings.ToLower(species) {
	case "p", "i", "h":
		return "P", nil
	case "he", "a", "alpha":
		return "A", nil
	default:
		return "", fmt.Errorf("%w: unknown species %q", ErrInvalidOption, species)
	}
}

// CombineFluxERNE averages the flux of adjacent ERNE energy channels
// low..high (inclusive) for the given species and sensor, returning one
// combined series and a display label for the synthesized energy bin.
//
// The mean at each timestamp covers only the channels with a valid value
// there; a timestamp where every selected channel is missing stays missing.
// The label is built from the recorded lower bound of channel low and upper
// bound of channel high, e.g. "13 - 98 MeV". Inputs are not modified.
func CombineFluxERNE(fr *timeseries.Frame, channels *ChannelTable, low, high int, species, sensor string) (*timeseries.Series, string, error) {
	if channels == nil {
		return nil, "", fmt.Errorf("%w: nil channel table", ErrInvalidRange)
	}
	if low > high {
		return nil, "", fmt.Errorf("%w: low %d > high %d", ErrInvalidRange, low, high)
	}
	chLow, ok := channels.Channel(low)
	if !ok {
		return nil, "", fmt.Errorf("%w: no channel %d", ErrInvalidRange, low)
	}
	chHigh, ok := channels.Channel(high)
	if !ok {
		return nil, "", fmt.Errorf("%w: no channel %d", ErrInvalidRange, high)
	}
	prefix, err := speciesPrefix(species)
	if err != nil {
		return nil, "", err
	}
	if sensor == "" {
		return nil, "", fmt.Errorf("%w: empty sensor", ErrInvalidOption)
	}
	head := strings.ToUpper(sensor)[:1]

	cols := make([][]float64, 0, high-low+1)
	for ch := low; ch <= high; ch++ {
		name := fmt.Sprintf("%s%s_%d", prefix, head, ch)
		vals, ok := fr.Column(name)
		if !ok {
			return nil, "", fmt.Errorf("%w: table has no column %q", ErrInvalidRange, name)
		}
		cols = append(cols, vals)
	}

	label := fmt.Sprintf("%s - %s %s", formatEnergy(chLow.Lower), formatEnergy(chHigh.Upper), channels.Unit)

	index := fr.Index()
	out := &timeseries.Series{
		Name:   label,
		Index:  make([]time.Time, len(index)),
		Values: make([]float64, len(index)),
	}
	copy(out.Index, index)
	for i := range index {
		sum, n := 0.0, 0
		for _, col := range cols {
			if !math.IsNaN(col[i]) {
				sum += col[i]
				n++
			}
		}
		if n > 0 {
			out.Values[i] = sum / float64(n)
		} else {
			out.Values[i] = math.NaN()
		}
	}
	return out, label, nil
}

// formatEnergy renders an energy bound without a trailing ".0".
func formatEnergy(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
