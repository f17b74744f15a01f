// Package timeseries provides the time-indexed observation table shared by
// all SOHO datasets: a sorted timestamp index with named float64 columns,
// NaN as the missing-value marker, and the merge/resample operations the
// dataset normalizer is built on.
package timeseries

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Frame is a time-indexed table. The index holds one UTC timestamp per row;
// columns are named float64 slices aligned with the index. Missing values
// are math.NaN().
type Frame struct {
	index []time.Time
	order []string
	cols  map[string][]float64
}

// New returns an empty Frame.
func New() *Frame {
	return &Frame{cols: make(map[string][]float64)}
}

// FromColumns builds a Frame from an index and a set of equally sized columns.
// The names slice fixes column order.
func FromColumns(index []time.Time, names []string, cols map[string][]float64) (*Frame, error) {
	f := New()
	f.index = append(f.index, index...)
	for _, name := range names {
		vals, ok := cols[name]
		if !ok {
			return nil, fmt.Errorf("column %q missing from data", name)
		}
		if err := f.AddColumn(name, vals); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.index) }

// IsEmpty reports whether the frame has no rows and no columns.
func (f *Frame) IsEmpty() bool { return len(f.index) == 0 && len(f.order) == 0 }

// Index returns the timestamp index. The returned slice is shared; callers
// must not modify it.
func (f *Frame) Index() []time.Time { return f.index }

// Columns returns column names in their fixed order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// HasColumn reports whether the named column exists.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.cols[name]
	return ok
}

// Column returns the values of the named column.
func (f *Frame) Column(name string) ([]float64, bool) {
	vals, ok := f.cols[name]
	return vals, ok
}

// AddColumn appends a new column. The value slice must match the index length.
func (f *Frame) AddColumn(name string, values []float64) error {
	if _, exists := f.cols[name]; exists {
		return fmt.Errorf("column %q already exists", name)
	}
	if len(values) != len(f.index) {
		return fmt.Errorf("column %q has %d values, index has %d rows", name, len(values), len(f.index))
	}
	f.order = append(f.order, name)
	f.cols[name] = values
	return nil
}

// Rename maps column names to new names. Every key must name an existing
// column and no two columns may end up with the same name, so each renamed
// column is traceable back to exactly one source column.
func (f *Frame) Rename(mapping map[string]string) error {
	for old := range mapping {
		if _, ok := f.cols[old]; !ok {
			return fmt.Errorf("rename source column %q does not exist", old)
		}
	}
	seen := make(map[string]bool, len(f.order))
	for _, name := range f.order {
		target := name
		if t, ok := mapping[name]; ok {
			target = t
		}
		if seen[target] {
			return fmt.Errorf("rename would duplicate column %q", target)
		}
		seen[target] = true
	}
	for i, name := range f.order {
		if target, ok := mapping[name]; ok {
			f.cols[target] = f.cols[name]
			delete(f.cols, name)
			f.order[i] = target
		}
	}
	return nil
}

// Drop removes the named columns. Names without a matching column are
// ignored.
func (f *Frame) Drop(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := f.order[:0]
	for _, name := range f.order {
		if drop[name] {
			delete(f.cols, name)
		} else {
			kept = append(kept, name)
		}
	}
	f.order = kept
}

// Series extracts one column with its index.
func (f *Frame) Series(name string) (*Series, error) {
	vals, ok := f.cols[name]
	if !ok {
		return nil, fmt.Errorf("no column %q", name)
	}
	s := &Series{Name: name, Index: make([]time.Time, len(f.index)), Values: make([]float64, len(vals))}
	copy(s.Index, f.index)
	copy(s.Values, vals)
	return s, nil
}

// Series is a single named column with its timestamp index.
type Series struct {
	Name   string
	Index  []time.Time
	Values []float64
}

// Sort orders rows ascending by timestamp. The sort is stable: rows with
// equal timestamps keep their input order.
func (f *Frame) Sort() {
	if sort.SliceIsSorted(f.index, func(i, j int) bool { return f.index[i].Before(f.index[j]) }) {
		return
	}
	perm := make([]int, len(f.index))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool { return f.index[perm[i]].Before(f.index[perm[j]]) })
	f.index = reorderTimes(f.index, perm)
	for name, vals := range f.cols {
		f.cols[name] = reorderFloats(vals, perm)
	}
}

// Dedup removes rows with duplicate timestamps, keeping the first occurrence.
// The frame must already be sorted.
func (f *Frame) Dedup() {
	if len(f.index) < 2 {
		return
	}
	keep := make([]int, 0, len(f.index))
	keep = append(keep, 0)
	for i := 1; i < len(f.index); i++ {
		if !f.index[i].Equal(f.index[i-1]) {
			keep = append(keep, i)
		}
	}
	if len(keep) == len(f.index) {
		return
	}
	f.index = reorderTimes(f.index, keep)
	for name, vals := range f.cols {
		f.cols[name] = reorderFloats(vals, keep)
	}
}

// Truncate keeps rows with start <= t < end. A zero start or end leaves that
// side unbounded.
func (f *Frame) Truncate(start, end time.Time) {
	lo, hi := 0, len(f.index)
	if !start.IsZero() {
		lo = sort.Search(len(f.index), func(i int) bool { return !f.index[i].Before(start) })
	}
	if !end.IsZero() {
		hi = sort.Search(len(f.index), func(i int) bool { return !f.index[i].Before(end) })
	}
	if lo > hi {
		lo = hi
	}
	f.index = f.index[lo:hi]
	for name, vals := range f.cols {
		f.cols[name] = vals[lo:hi]
	}
}

// Shift adds d to every index entry. Data columns are untouched.
func (f *Frame) Shift(d time.Duration) {
	for i := range f.index {
		f.index[i] = f.index[i].Add(d)
	}
}

// Concat appends frames row-wise over the union of their columns. Columns a
// contributor lacks are NaN-filled for its rows. Column order follows first
// appearance. The result is not sorted; callers sort and dedup afterwards.
func Concat(frames ...*Frame) *Frame {
	out := New()
	total := 0
	for _, f := range frames {
		total += f.Len()
	}
	out.index = make([]time.Time, 0, total)
	for _, f := range frames {
		for _, name := range f.order {
			if _, ok := out.cols[name]; !ok {
				col := make([]float64, len(out.index), total)
				fillNaN(col)
				out.order = append(out.order, name)
				out.cols[name] = col
			}
		}
		n := f.Len()
		out.index = append(out.index, f.index...)
		for name, vals := range out.cols {
			if src, ok := f.cols[name]; ok {
				out.cols[name] = append(vals, src...)
			} else {
				pad := make([]float64, n)
				fillNaN(pad)
				out.cols[name] = append(vals, pad...)
			}
		}
	}
	return out
}

// OuterJoin aligns two frames on the union of their timestamps. Timestamps
// present in only one frame yield NaN in the other frame's columns. Both
// inputs must be sorted with unique indexes. Column names may not collide.
func OuterJoin(a, b *Frame) (*Frame, error) {
	for _, name := range b.order {
		if _, ok := a.cols[name]; ok {
			return nil, fmt.Errorf("outer join: column %q present on both sides", name)
		}
	}

	union := make([]time.Time, 0, a.Len()+b.Len())
	ai, bi := 0, 0
	for ai < a.Len() || bi < b.Len() {
		switch {
		case ai == a.Len():
			union = append(union, b.index[bi])
			bi++
		case bi == b.Len():
			union = append(union, a.index[ai])
			ai++
		case a.index[ai].Before(b.index[bi]):
			union = append(union, a.index[ai])
			ai++
		case b.index[bi].Before(a.index[ai]):
			union = append(union, b.index[bi])
			bi++
		default:
			union = append(union, a.index[ai])
			ai++
			bi++
		}
	}

	out := New()
	out.index = union
	align := func(src *Frame) {
		pos := make([]int, len(union)) // row in src, or -1
		si := 0
		for i, t := range union {
			if si < src.Len() && src.index[si].Equal(t) {
				pos[i] = si
				si++
			} else {
				pos[i] = -1
			}
		}
		for _, name := range src.order {
			vals := src.cols[name]
			col := make([]float64, len(union))
			for i, p := range pos {
				if p >= 0 {
					col[i] = vals[p]
				} else {
					col[i] = math.NaN()
				}
			}
			out.order = append(out.order, name)
			out.cols[name] = col
		}
	}
	align(a)
	align(b)
	return out, nil
}

func reorderTimes(src []time.Time, perm []int) []time.Time {
	out := make([]time.Time, len(perm))
	for i, p := range perm {
		out[i] = src[p]
	}
	return out
}

func reorderFloats(src []float64, perm []int) []float64 {
	out := make([]float64, len(perm))
	for i, p := range perm {
		out[i] = src[p]
	}
	return out
}

func fillNaN(s []float64) {
	nan := math.NaN()
	for i := range s {
		s[i] = nan
	}
}
