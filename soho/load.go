package soho

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/heliolab/sohodata/timeseries"
)

// Options tune a Load call. The zero value requests the native cadence with
// timestamps left where the archive puts them.
type Options struct {
	// Path overrides the local file cache directory.
	Path string
	// Resample is a pandas-style frequency ("1min", "1h"); empty disables
	// resampling. Numeric columns are averaged over each bin.
	Resample string
	// PosTimestamp places timestamps at the "start" or "center" of the
	// accumulation interval. Empty leaves them untouched.
	PosTimestamp string
	// MaxConn bounds the provider's parallel downloads. Defaults to 5.
	MaxConn int
	// Provider overrides the default CDAWeb HTTP provider.
	Provider Provider
}

var acceptedDateFormats = []string{
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006/01/02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC3339,
}

// toTime normalizes a date given as time.Time or as a recognized string.
func toTime(v any) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return d.UTC(), nil
	case string:
		for _, layout := range acceptedDateFormats {
			if t, err := time.Parse(layout, d); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: unparseable date %q", ErrInvalidDate, d)
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported date type %T", ErrInvalidDate, v)
	}
}

// Load retrieves one SOHO dataset over [startdate, enddate) and returns the
// normalized observation table with its channel metadata. startdate and
// enddate accept time.Time values or date strings such as "2021/04/15".
//
// Data unavailability is not an error: when the provider cannot deliver any
// file for the period, or every delivered file fails to parse, Load returns
// an empty table and empty metadata. Errors are reserved for invalid
// arguments.
func Load(ctx context.Context, dataset string, startdate, enddate any, opts *Options) (*timeseries.Frame, Metadata, error) {
	if opts == nil {
		opts = &Options{}
	}
	switch opts.PosTimestamp {
	case "", "start", "center":
	default:
		return nil, Metadata{}, fmt.Errorf("%w: pos_timestamp must be \"center\" or \"start\", got %q", ErrInvalidOption, opts.PosTimestamp)
	}

	desc, ok := Lookup(dataset)
	if !ok {
		return nil, Metadata{}, fmt.Errorf("%w: unknown dataset %q", ErrInvalidOption, dataset)
	}

	start, err := toTime(startdate)
	if err != nil {
		return nil, Metadata{}, err
	}
	end, err := toTime(enddate)
	if err != nil {
		return nil, Metadata{}, err
	}
	if !end.After(start) {
		return nil, Metadata{}, fmt.Errorf("%w: enddate %s not after startdate %s", ErrInvalidDate, end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	var resample time.Duration
	if opts.Resample != "" {
		resample, err = timeseries.ParseFrequency(opts.Resample)
		if err != nil {
			return nil, Metadata{}, fmt.Errorf("%w: %v", ErrInvalidOption, err)
		}
	}

	maxConn := opts.MaxConn
	if maxConn <= 0 {
		maxConn = 5
	}
	provider := opts.Provider
	if provider == nil {
		provider = NewHTTPProvider()
	}

	fr, meta, err := loadNormalized(ctx, provider, desc, start, end, opts.Path, maxConn)
	if err != nil {
		log.Printf("unable to obtain %q data: %v", desc.ID, err)
		return timeseries.New(), Metadata{}, nil
	}
	if fr.Len() == 0 {
		return timeseries.New(), Metadata{}, nil
	}

	if resample > 0 {
		fr, err = fr.Resample(resample)
		if err != nil {
			return nil, Metadata{}, fmt.Errorf("%w: %v", ErrInvalidOption, err)
		}
		if opts.PosTimestamp == "center" {
			fr.Shift(resample / 2)
		}
		return fr, meta, nil
	}

	// No resampling: reconcile the requested stamp position with where the
	// archive natively places it.
	switch opts.PosTimestamp {
	case "center":
		if !desc.StampAtCenter {
			fr.Shift(desc.Cadence / 2)
		}
	case "start":
		if desc.StampAtCenter {
			fr.Shift(-desc.Cadence / 2)
		}
	}
	return fr, meta, nil
}

// loadNormalized fetches and normalizes a dataset, handling the multi-head
// merge for combined instruments.
func loadNormalized(ctx context.Context, provider Provider, desc Descriptor, start, end time.Time, path string, maxConn int) (*timeseries.Frame, Metadata, error) {
	if len(desc.Heads) == 0 {
		paths, err := provider.Fetch(ctx, desc, start, end, path, maxConn)
		if err != nil {
			return nil, Metadata{}, err
		}
		return normalizeFiles(desc, paths, start, end)
	}

	merged := timeseries.New()
	meta := newMetadata()
	loaded := 0
	for _, headID := range desc.Heads {
		head, ok := Lookup(headID)
		if !ok {
			return nil, Metadata{}, fmt.Errorf("dataset %s references unknown head %q", desc.ID, headID)
		}
		paths, err := provider.Fetch(ctx, head, start, end, path, maxConn)
		if err != nil {
			log.Printf("head %s unavailable: %v", head.Sensor, err)
			continue
		}
		fr, m, err := normalizeFiles(head, paths, start, end)
		if err != nil {
			return nil, Metadata{}, err
		}
		if fr.Len() == 0 {
			continue
		}
		if loaded == 0 {
			merged = fr
		} else {
			merged, err = timeseries.OuterJoin(merged, fr)
			if err != nil {
				return nil, Metadata{}, err
			}
		}
		meta.mergeFrom(m, head.Sensor)
		loaded++
	}
	if loaded == 0 {
		return timeseries.New(), Metadata{}, nil
	}
	return merged, meta, nil
}
