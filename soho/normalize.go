package soho

import (
	"fmt"
	"log"
	"math"
	"path/filepath"
	"time"

	"github.com/heliolab/sohodata/cdf"
	"github.com/heliolab/sohodata/timeseries"
)

// Global fill sentinels converted to NaN in every CDF dataset: the CDAWeb
// flux fill and the ERNE count-rate fill.
const (
	fluxFill  = -1e31
	countFill = -2147483648
)

// normalizeFiles folds a set of per-day (or per-year) source files into one
// merged, time-sorted frame truncated to [start, end), plus the channel
// metadata taken from the first readable file. A file that fails to parse is
// logged and skipped; if every file fails the result is empty.
func normalizeFiles(desc Descriptor, paths []string, start, end time.Time) (*timeseries.Frame, Metadata, error) {
	var frames []*timeseries.Frame
	meta := Metadata{}

	for _, path := range paths {
		var (
			fr  *timeseries.Frame
			m   Metadata
			err error
		)
		switch desc.Format {
		case FormatCDF:
			fr, m, err = readCDFFile(desc, path)
		case FormatText:
			fr, err = readTextFile(desc, path)
		default:
			return nil, Metadata{}, fmt.Errorf("dataset %s: unknown source format", desc.ID)
		}
		if err != nil {
			log.Printf("skipping %s: %v", filepath.Base(path), err)
			continue
		}
		frames = append(frames, fr)
		if meta.IsEmpty() && !m.IsEmpty() {
			meta = m
		}
	}
	if len(frames) == 0 {
		return timeseries.New(), Metadata{}, nil
	}

	out := timeseries.Concat(frames...)
	out.Sort()
	out.Dedup()
	out.Truncate(start, end)

	if desc.Format == FormatText {
		meta = normalizeEphin(out, desc)
	}
	return out, meta, nil
}

// readCDFFile parses one daily CDF into a frame keyed on the file's epoch
// variable, applying the descriptor's column relabeling and converting fill
// sentinels to NaN.
func readCDFFile(desc Descriptor, path string) (*timeseries.Frame, Metadata, error) {
	f, err := cdf.Open(path)
	if err != nil {
		return nil, Metadata{}, err
	}

	epochVar := desc.EpochVar
	if !f.HasVariable(epochVar) {
		// Some archive revisions rename the time variable.
		for _, alt := range []string{"Epoch", "EPOCH", "epoch"} {
			if f.HasVariable(alt) {
				epochVar = alt
				break
			}
		}
	}
	index, err := f.Times(epochVar)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("time variable %q: %w", epochVar, err)
	}

	meta := newMetadata()
	frCols := make(map[string][]float64)
	var order []string

	for _, field := range desc.Fields {
		recs, err := f.Values(field.Var)
		if err != nil {
			return nil, Metadata{}, err
		}
		if len(recs) != len(index) {
			return nil, Metadata{}, fmt.Errorf("variable %q has %d records, epoch has %d", field.Var, len(recs), len(index))
		}

		attrs, err := f.VarAttributes(field.Var)
		if err != nil {
			return nil, Metadata{}, err
		}
		fill := math.NaN()
		if v, ok := attrs["FILLVAL"].(float64); ok {
			fill = v
			meta.Fills[field.Column] = v
		}
		if u, ok := attrs["UNITS"].(string); ok {
			meta.Units[field.Column] = u
		}
		if l, ok := attrs["LABLAXIS"].(string); ok {
			meta.Labels[field.Column] = l
		}

		width := 1
		if field.Vector && len(recs) > 0 {
			width = len(recs[0])
		}
		for j := 0; j < width; j++ {
			name := field.Column
			if field.Vector {
				name = fmt.Sprintf("%s_%d", field.Column, j)
			}
			col := make([]float64, len(recs))
			for i, rec := range recs {
				v := rec[j]
				if v == fill || v == fluxFill || v == countFill {
					v = math.NaN()
				}
				col[i] = v
			}
			frCols[name] = col
			order = append(order, name)
		}
	}

	fr, err := timeseries.FromColumns(index, order, frCols)
	if err != nil {
		return nil, Metadata{}, err
	}

	for _, spec := range desc.Channels {
		table, err := readChannelTable(f, desc, spec)
		if err != nil {
			return nil, Metadata{}, err
		}
		meta.Channels[spec.Key] = table
	}
	return fr, meta, nil
}

// readChannelTable builds a channel energy table from the non-record-varying
// energy, delta and label variables of one CDF.
func readChannelTable(f *cdf.File, desc Descriptor, spec channelSpec) (*ChannelTable, error) {
	energy, err := f.Values(spec.EnergyVar)
	if err != nil {
		return nil, err
	}
	delta, err := f.Values(spec.DeltaVar)
	if err != nil {
		return nil, err
	}
	labels, err := f.Strings(spec.LabelVar)
	if err != nil {
		return nil, err
	}
	if len(energy) == 0 || len(delta) == 0 || len(labels) == 0 {
		return nil, fmt.Errorf("channel table %s has empty variables", spec.Key)
	}
	e, d, l := energy[0], delta[0], labels[0]
	if len(d) != len(e) || len(l) != len(e) {
		return nil, fmt.Errorf("channel table %s: %d energies, %d deltas, %d labels", spec.Key, len(e), len(d), len(l))
	}

	table := &ChannelTable{Species: spec.Species, Sensor: desc.Sensor, Unit: spec.Unit}
	for i := range e {
		table.Channels = append(table.Channels, Channel{
			Index: i,
			Lower: e[i] - d[i],
			Upper: e[i] + d[i],
			Width: d[i],
			Mean:  e[i],
			Label: l[i],
		})
	}
	return table, nil
}

// readTextFile parses one yearly delimited-text file.
func readTextFile(desc Descriptor, path string) (*timeseries.Frame, error) {
	year, err := yearFromPath(path)
	if err != nil && desc.Text.YearField == "" {
		return nil, err
	}
	return parseTextFile(path, year, desc.Text)
}
