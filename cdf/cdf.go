// Package cdf implements a reader for version 3 Common Data Format files as
// served by NASA CDAWeb. It covers the subset the SOHO daily science files
// use: r- and z-variables, variable and global attributes, gzip compression
// at file and variable-record level, and the CDF epoch time types.
//
// Internal record fields (sizes, types, offsets) are always big-endian;
// only variable data and attribute entry values use the file's declared
// data encoding.
package cdf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// =============================================================================
// Record and data type constants
// =============================================================================

const (
	magicV3           = 0xCDF30001
	magicUncompressed = 0x0000FFFF
	magicCompressed   = 0xCCCC0001
)

const (
	recCDR  = 1
	recGDR  = 2
	recRVDR = 3
	recADR  = 4
	recAgrEDR = 5
	recVXR  = 6
	recVVR  = 7
	recZVDR = 8
	recAzEDR = 9
	recCCR  = 10
	recCPR  = 11
	recCVVR = 13
)

// DataType identifies a CDF variable or attribute-entry data type.
type DataType int32

// CDF data types (subset).
const (
	Int1     DataType = 1
	Int2     DataType = 2
	Int4     DataType = 4
	Int8     DataType = 8
	UInt1    DataType = 11
	UInt2    DataType = 12
	UInt4    DataType = 14
	Real4    DataType = 21
	Real8    DataType = 22
	Epoch    DataType = 31
	Epoch16  DataType = 32
	TT2000   DataType = 33
	Byte     DataType = 41
	Float    DataType = 44
	Double   DataType = 45
	Char     DataType = 51
	UChar    DataType = 52
)

func typeSize(dt DataType) (int, error) {
	switch dt {
	case Int1, UInt1, Byte, Char, UChar:
		return 1, nil
	case Int2, UInt2:
		return 2, nil
	case Int4, UInt4, Real4, Float:
		return 4, nil
	case Int8, Real8, Double, Epoch, TT2000:
		return 8, nil
	case Epoch16:
		return 16, nil
	default:
		return 0, fmt.Errorf("cdf: unsupported data type %d", dt)
	}
}

func isCharType(dt DataType) bool { return dt == Char || dt == UChar }

const gzipCompression = 5 // CPR cType for GZIP

// =============================================================================
// File
// =============================================================================

// Variable describes one CDF variable and where its records live.
type Variable struct {
	Name     string
	DataType DataType
	NumElems int
	DimSizes []int // varying dimensions only
	MaxRec   int   // last record number, -1 when empty

	num      int
	zVar     bool
	vxrHead  int64
	flags    int32
	cprOff   int64
}

// NumRecords returns the record count.
func (v *Variable) NumRecords() int { return v.MaxRec + 1 }

func (v *Variable) valuesPerRecord() int {
	n := 1
	for _, d := range v.DimSizes {
		n *= d
	}
	return n
}

func (v *Variable) bytesPerRecord() (int, error) {
	sz, err := typeSize(v.DataType)
	if err != nil {
		return 0, err
	}
	return v.valuesPerRecord() * v.NumElems * sz, nil
}

type attrEntry struct {
	dataType DataType
	numElems int
	value    []byte
}

type attribute struct {
	name    string
	global  bool
	entries map[int]attrEntry // entry number -> value
}

// File is a fully parsed CDF. The raw byte image is retained for lazy
// variable-record reads.
type File struct {
	data         []byte
	littleEndian bool
	rowMajor     bool

	varOrder []string
	vars     map[string]*Variable
	attrs    []*attribute
}

// Open reads and parses the CDF at path. A ".gz" suffix is transparently
// decompressed before parsing.
func Open(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".gz") {
		raw, err = gunzip(raw)
		if err != nil {
			return nil, fmt.Errorf("cdf: decompress %s: %w", path, err)
		}
	}
	f, err := FromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("cdf: parse %s: %w", path, err)
	}
	return f, nil
}

// FromBytes parses a CDF from an in-memory byte image.
func FromBytes(data []byte) (*File, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("cdf: file too short (%d bytes)", len(data))
	}
	m1 := binary.BigEndian.Uint32(data[0:4])
	m2 := binary.BigEndian.Uint32(data[4:8])
	if m1 != magicV3 {
		return nil, fmt.Errorf("cdf: bad magic 0x%08X (only CDF v3 supported)", m1)
	}
	if m2 == magicCompressed {
		plain, err := inflateFile(data)
		if err != nil {
			return nil, err
		}
		data = plain
	} else if m2 != magicUncompressed {
		return nil, fmt.Errorf("cdf: bad magic word 0x%08X", m2)
	}

	f := &File{data: data, vars: make(map[string]*Variable)}
	if err := f.parse(); err != nil {
		return nil, err
	}
	return f, nil
}

// inflateFile reconstructs the uncompressed byte image from a whole-file
// compressed CDF (magic 0xCCCC0001): magic + CCR holding a gzip stream.
func inflateFile(data []byte) ([]byte, error) {
	rs, rt, err := recordHeader(data, 8)
	if err != nil {
		return nil, err
	}
	if rt != recCCR {
		return nil, fmt.Errorf("cdf: expected CCR after compressed magic, got record type %d", rt)
	}
	cprOff := int64(binary.BigEndian.Uint64(data[20:28]))
	// CCR fields: CPRoffset(8), uSize(8), rfuA(4), then compressed stream.
	body := data[8+32 : 8+rs]

	if cprOff > 0 && int(cprOff)+24 <= len(data) {
		_, cprType, err := recordHeader(data, cprOff)
		if err == nil && cprType == recCPR {
			cType := int32(binary.BigEndian.Uint32(data[cprOff+12 : cprOff+16]))
			if cType != gzipCompression {
				return nil, fmt.Errorf("cdf: unsupported file compression %d (only gzip)", cType)
			}
		}
	}

	plain, err := gunzip(body)
	if err != nil {
		return nil, fmt.Errorf("cdf: inflate file: %w", err)
	}
	out := make([]byte, 0, 8+len(plain))
	out = append(out, data[0:4]...)
	out = append(out, 0x00, 0x00, 0xFF, 0xFF)
	out = append(out, plain...)
	return out, nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// recordHeader returns the size and type of the internal record at off.
func recordHeader(data []byte, off int64) (size int64, rtype int32, err error) {
	if off < 0 || off+12 > int64(len(data)) {
		return 0, 0, fmt.Errorf("cdf: record offset %d out of range", off)
	}
	size = int64(binary.BigEndian.Uint64(data[off : off+8]))
	rtype = int32(binary.BigEndian.Uint32(data[off+8 : off+12]))
	if size < 12 || off+size > int64(len(data)) {
		return 0, 0, fmt.Errorf("cdf: truncated record at offset %d", off)
	}
	return size, rtype, nil
}

func (f *File) u32(off int64) uint32  { return binary.BigEndian.Uint32(f.data[off : off+4]) }
func (f *File) i32(off int64) int32   { return int32(f.u32(off)) }
func (f *File) i64(off int64) int64   { return int64(binary.BigEndian.Uint64(f.data[off : off+8])) }

func (f *File) check(off, n int64) error {
	if off < 0 || off+n > int64(len(f.data)) {
		return fmt.Errorf("cdf: read of %d bytes at offset %d past end of file", n, off)
	}
	return nil
}

// =============================================================================
// Structure parsing: CDR -> GDR -> VDRs, ADRs
// =============================================================================

func (f *File) parse() error {
	cdrOff := int64(8)
	_, rt, err := recordHeader(f.data, cdrOff)
	if err != nil {
		return err
	}
	if rt != recCDR {
		return fmt.Errorf("cdf: first record is type %d, want CDR", rt)
	}
	gdrOff := f.i64(cdrOff + 12)
	encoding := f.i32(cdrOff + 28)
	flags := f.i32(cdrOff + 32)
	f.rowMajor = flags&1 != 0

	switch encoding {
	case 1, 2, 5, 7, 9, 11, 12, 18:
		f.littleEndian = false
	case 4, 6, 13, 16, 17:
		f.littleEndian = true
	default:
		return fmt.Errorf("cdf: unsupported data encoding %d", encoding)
	}

	_, rt, err = recordHeader(f.data, gdrOff)
	if err != nil {
		return err
	}
	if rt != recGDR {
		return fmt.Errorf("cdf: GDR offset points at record type %d", rt)
	}
	rVDRhead := f.i64(gdrOff + 12)
	zVDRhead := f.i64(gdrOff + 20)
	adrHead := f.i64(gdrOff + 28)
	rNumDims := int(f.i32(gdrOff + 56))
	if err := f.check(gdrOff+84, int64(rNumDims)*4); err != nil {
		return err
	}
	rDimSizes := make([]int, rNumDims)
	for i := 0; i < rNumDims; i++ {
		rDimSizes[i] = int(f.i32(gdrOff + 84 + int64(i)*4))
	}

	if err := f.parseVDRChain(rVDRhead, false, rDimSizes); err != nil {
		return err
	}
	if err := f.parseVDRChain(zVDRhead, true, nil); err != nil {
		return err
	}
	return f.parseADRChain(adrHead)
}

func (f *File) parseVDRChain(off int64, zVar bool, rDimSizes []int) error {
	want := int32(recRVDR)
	if zVar {
		want = recZVDR
	}
	for off != 0 {
		_, rt, err := recordHeader(f.data, off)
		if err != nil {
			return err
		}
		if rt != want {
			return fmt.Errorf("cdf: VDR chain hit record type %d at offset %d", rt, off)
		}
		v := &Variable{
			DataType: DataType(f.i32(off + 20)),
			MaxRec:   int(f.i32(off + 24)),
			vxrHead:  f.i64(off + 28),
			flags:    f.i32(off + 44),
			NumElems: int(f.i32(off + 64)),
			num:      int(f.i32(off + 68)),
			cprOff:   f.i64(off + 72),
			zVar:     zVar,
		}
		if err := f.check(off+84, 256); err != nil {
			return err
		}
		v.Name = cString(f.data[off+84 : off+84+256])

		var dims []int
		var varys []int32
		if zVar {
			zNumDims := int(f.i32(off + 340))
			base := off + 344
			if err := f.check(base, int64(zNumDims)*8); err != nil {
				return err
			}
			for i := 0; i < zNumDims; i++ {
				dims = append(dims, int(f.i32(base+int64(i)*4)))
			}
			for i := 0; i < zNumDims; i++ {
				varys = append(varys, f.i32(base+int64(zNumDims)*4+int64(i)*4))
			}
		} else {
			dims = rDimSizes
			base := off + 340
			if err := f.check(base, int64(len(dims))*4); err != nil {
				return err
			}
			for i := range dims {
				varys = append(varys, f.i32(base+int64(i)*4))
			}
		}
		for i, d := range dims {
			if varys[i] != 0 {
				v.DimSizes = append(v.DimSizes, d)
			}
		}

		if _, err := v.bytesPerRecord(); err != nil {
			return fmt.Errorf("cdf: variable %q: %w", v.Name, err)
		}
		f.varOrder = append(f.varOrder, v.Name)
		f.vars[v.Name] = v

		next := f.i64(off + 12)
		if next == off {
			return fmt.Errorf("cdf: VDR chain loop at offset %d", off)
		}
		off = next
	}
	return nil
}

func (f *File) parseADRChain(off int64) error {
	for off != 0 {
		_, rt, err := recordHeader(f.data, off)
		if err != nil {
			return err
		}
		if rt != recADR {
			return fmt.Errorf("cdf: ADR chain hit record type %d at offset %d", rt, off)
		}
		a := &attribute{entries: make(map[int]attrEntry)}
		a.global = f.i32(off+28) == 1 // Scope: 1 global, 2 variable
		grHead := f.i64(off + 20)
		azHead := f.i64(off + 48)
		if err := f.check(off+68, 256); err != nil {
			return err
		}
		a.name = cString(f.data[off+68 : off+68+256])

		if err := f.parseAEDRChain(grHead, a); err != nil {
			return err
		}
		if err := f.parseAEDRChain(azHead, a); err != nil {
			return err
		}
		f.attrs = append(f.attrs, a)

		next := f.i64(off + 12)
		if next == off {
			return fmt.Errorf("cdf: ADR chain loop at offset %d", off)
		}
		off = next
	}
	return nil
}

func (f *File) parseAEDRChain(off int64, a *attribute) error {
	for off != 0 {
		size, rt, err := recordHeader(f.data, off)
		if err != nil {
			return err
		}
		if rt != recAgrEDR && rt != recAzEDR {
			return fmt.Errorf("cdf: AEDR chain hit record type %d at offset %d", rt, off)
		}
		e := attrEntry{
			dataType: DataType(f.i32(off + 24)),
			numElems: int(f.i32(off + 32)),
		}
		num := int(f.i32(off + 28))
		valOff := off + 56
		sz, err := typeSize(e.dataType)
		if err != nil {
			return fmt.Errorf("cdf: attribute %q: %w", a.name, err)
		}
		n := int64(e.numElems * sz)
		if valOff+n > off+size {
			return fmt.Errorf("cdf: attribute %q entry value overruns record", a.name)
		}
		e.value = f.data[valOff : valOff+n]
		a.entries[num] = e

		next := f.i64(off + 12)
		if next == off {
			return fmt.Errorf("cdf: AEDR chain loop at offset %d", off)
		}
		off = next
	}
	return nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimRight(string(b), " ")
}

// =============================================================================
// Public accessors
// =============================================================================

// Variables lists variable names in file order.
func (f *File) Variables() []string {
	out := make([]string, len(f.varOrder))
	copy(out, f.varOrder)
	return out
}

// Variable looks up a variable by name.
func (f *File) Variable(name string) (*Variable, bool) {
	v, ok := f.vars[name]
	return v, ok
}

// HasVariable reports whether the named variable exists.
func (f *File) HasVariable(name string) bool {
	_, ok := f.vars[name]
	return ok
}

// VarAttributes returns the variable-scope attribute values attached to the
// named variable. Character entries decode to string, scalar numeric entries
// to float64, multi-valued numeric entries to []float64.
func (f *File) VarAttributes(name string) (map[string]any, error) {
	v, ok := f.vars[name]
	if !ok {
		return nil, fmt.Errorf("cdf: no variable %q", name)
	}
	out := make(map[string]any)
	for _, a := range f.attrs {
		if a.global {
			continue
		}
		e, ok := a.entries[v.num]
		if !ok {
			continue
		}
		val, err := f.decodeEntry(e)
		if err != nil {
			return nil, fmt.Errorf("cdf: attribute %q of %q: %w", a.name, name, err)
		}
		out[a.name] = val
	}
	return out, nil
}

// GlobalAttribute returns the first entry of the named global attribute.
func (f *File) GlobalAttribute(name string) (any, bool) {
	for _, a := range f.attrs {
		if !a.global || a.name != name {
			continue
		}
		for i := 0; ; i++ {
			e, ok := a.entries[i]
			if !ok {
				break
			}
			val, err := f.decodeEntry(e)
			if err != nil {
				return nil, false
			}
			return val, true
		}
	}
	return nil, false
}

func (f *File) decodeEntry(e attrEntry) (any, error) {
	if isCharType(e.dataType) {
		return cString(e.value), nil
	}
	vals, err := f.decodeNumeric(e.value, e.dataType)
	if err != nil {
		return nil, err
	}
	if len(vals) == 1 {
		return vals[0], nil
	}
	return vals, nil
}

// =============================================================================
// Variable record data
// =============================================================================

// recordBytes walks the VXR chain and concatenates the raw bytes of all
// records, NaN-padding (zero-padding at byte level is resolved later) any
// record numbers the chain does not cover.
func (f *File) recordBytes(v *Variable) ([]byte, []bool, error) {
	bpr, err := v.bytesPerRecord()
	if err != nil {
		return nil, nil, err
	}
	n := v.NumRecords()
	if n <= 0 {
		return nil, nil, nil
	}
	buf := make([]byte, n*bpr)
	present := make([]bool, n)
	if err := f.walkVXR(v, v.vxrHead, buf, present, bpr); err != nil {
		return nil, nil, err
	}
	return buf, present, nil
}

func (f *File) walkVXR(v *Variable, off int64, buf []byte, present []bool, bpr int) error {
	for off != 0 {
		size, rt, err := recordHeader(f.data, off)
		if err != nil {
			return err
		}
		if rt != recVXR {
			return fmt.Errorf("cdf: VXR chain hit record type %d at offset %d", rt, off)
		}
		nUsed := int(f.i32(off + 24))
		nEntries := int(f.i32(off + 20))
		if nUsed > nEntries {
			return fmt.Errorf("cdf: VXR at %d has %d used of %d entries", off, nUsed, nEntries)
		}
		firstBase := off + 28
		lastBase := firstBase + int64(nEntries)*4
		offBase := lastBase + int64(nEntries)*4
		if offBase+int64(nEntries)*8 > off+size {
			return fmt.Errorf("cdf: VXR at %d overruns its record", off)
		}
		for i := 0; i < nUsed; i++ {
			first := int(f.i32(firstBase + int64(i)*4))
			last := int(f.i32(lastBase + int64(i)*4))
			target := f.i64(offBase + int64(i)*8)
			if err := f.readVXREntry(v, first, last, target, buf, present, bpr); err != nil {
				return err
			}
		}
		next := f.i64(off + 12)
		if next == off {
			return fmt.Errorf("cdf: VXR chain loop at offset %d", off)
		}
		off = next
	}
	return nil
}

func (f *File) readVXREntry(v *Variable, first, last int, target int64, buf []byte, present []bool, bpr int) error {
	size, rt, err := recordHeader(f.data, target)
	if err != nil {
		return err
	}
	switch rt {
	case recVXR:
		return f.walkVXR(v, target, buf, present, bpr)
	case recVVR:
		data := f.data[target+12 : target+size]
		return scatterRecords(data, first, last, buf, present, bpr, v.Name)
	case recCVVR:
		// CVVR fields: rfuA(4), cSize(8), compressed bytes.
		cSize := f.i64(target + 16)
		if target+24+cSize > target+size {
			return fmt.Errorf("cdf: CVVR at %d overruns its record", target)
		}
		if v.cprOff != 0 {
			_, cprType, err := recordHeader(f.data, v.cprOff)
			if err == nil && cprType == recCPR {
				if cType := f.i32(v.cprOff + 12); cType != gzipCompression {
					return fmt.Errorf("cdf: variable %q uses unsupported compression %d", v.Name, cType)
				}
			}
		}
		plain, err := gunzip(f.data[target+24 : target+24+cSize])
		if err != nil {
			return fmt.Errorf("cdf: variable %q: inflate records %d-%d: %w", v.Name, first, last, err)
		}
		return scatterRecords(plain, first, last, buf, present, bpr, v.Name)
	default:
		return fmt.Errorf("cdf: VXR entry points at record type %d", rt)
	}
}

func scatterRecords(data []byte, first, last int, buf []byte, present []bool, bpr int, name string) error {
	want := (last - first + 1) * bpr
	if len(data) < want {
		return fmt.Errorf("cdf: variable %q: records %d-%d hold %d bytes, want %d", name, first, last, len(data), want)
	}
	if first < 0 || (last+1)*bpr > len(buf) {
		return fmt.Errorf("cdf: variable %q: record range %d-%d out of bounds", name, first, last)
	}
	copy(buf[first*bpr:(last+1)*bpr], data[:want])
	for r := first; r <= last; r++ {
		present[r] = true
	}
	return nil
}

func (f *File) byteOrder() binary.ByteOrder {
	if f.littleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func (f *File) decodeNumeric(data []byte, dt DataType) ([]float64, error) {
	sz, err := typeSize(dt)
	if err != nil {
		return nil, err
	}
	if len(data)%sz != 0 {
		return nil, fmt.Errorf("cdf: %d data bytes not a multiple of element size %d", len(data), sz)
	}
	bo := f.byteOrder()
	out := make([]float64, len(data)/sz)
	for i := range out {
		b := data[i*sz : (i+1)*sz]
		switch dt {
		case Int1, Byte:
			out[i] = float64(int8(b[0]))
		case UInt1:
			out[i] = float64(b[0])
		case Int2:
			out[i] = float64(int16(bo.Uint16(b)))
		case UInt2:
			out[i] = float64(bo.Uint16(b))
		case Int4:
			out[i] = float64(int32(bo.Uint32(b)))
		case UInt4:
			out[i] = float64(bo.Uint32(b))
		case Int8, TT2000:
			out[i] = float64(int64(bo.Uint64(b)))
		case Real4, Float:
			out[i] = float64(math.Float32frombits(bo.Uint32(b)))
		case Real8, Double, Epoch:
			out[i] = math.Float64frombits(bo.Uint64(b))
		default:
			return nil, fmt.Errorf("cdf: cannot decode data type %d as numeric", dt)
		}
	}
	return out, nil
}

// Values reads all records of a numeric variable as float64, one inner slice
// per record, flattened over the varying dimensions. Records absent from the
// file are NaN-filled.
func (f *File) Values(name string) ([][]float64, error) {
	v, ok := f.vars[name]
	if !ok {
		return nil, fmt.Errorf("cdf: no variable %q", name)
	}
	if isCharType(v.DataType) {
		return nil, fmt.Errorf("cdf: variable %q is character data", name)
	}
	raw, present, err := f.recordBytes(v)
	if err != nil {
		return nil, err
	}
	flat, err := f.decodeNumeric(raw, v.DataType)
	if err != nil {
		return nil, fmt.Errorf("cdf: variable %q: %w", name, err)
	}
	vpr := v.valuesPerRecord() * v.NumElems
	out := make([][]float64, v.NumRecords())
	for r := range out {
		rec := flat[r*vpr : (r+1)*vpr]
		if !present[r] {
			for i := range rec {
				rec[i] = math.NaN()
			}
		}
		out[r] = rec
	}
	return out, nil
}

// Strings reads all records of a character variable, one string per element.
func (f *File) Strings(name string) ([][]string, error) {
	v, ok := f.vars[name]
	if !ok {
		return nil, fmt.Errorf("cdf: no variable %q", name)
	}
	if !isCharType(v.DataType) {
		return nil, fmt.Errorf("cdf: variable %q is not character data", name)
	}
	raw, _, err := f.recordBytes(v)
	if err != nil {
		return nil, err
	}
	epr := v.valuesPerRecord()
	out := make([][]string, v.NumRecords())
	for r := range out {
		rec := make([]string, epr)
		base := r * epr * v.NumElems
		for i := 0; i < epr; i++ {
			rec[i] = cString(raw[base+i*v.NumElems : base+(i+1)*v.NumElems])
		}
		out[r] = rec
	}
	return out, nil
}

// Times reads an epoch variable (CDF_EPOCH, CDF_EPOCH16 or CDF_TIME_TT2000)
// as UTC timestamps, one per record, without loss of sub-second precision.
func (f *File) Times(name string) ([]time.Time, error) {
	v, ok := f.vars[name]
	if !ok {
		return nil, fmt.Errorf("cdf: no variable %q", name)
	}
	raw, _, err := f.recordBytes(v)
	if err != nil {
		return nil, err
	}
	bo := f.byteOrder()
	n := v.NumRecords()
	out := make([]time.Time, n)
	switch v.DataType {
	case Epoch:
		for r := 0; r < n; r++ {
			ms := math.Float64frombits(bo.Uint64(raw[r*8 : r*8+8]))
			out[r] = epochToTime(ms)
		}
	case Epoch16:
		for r := 0; r < n; r++ {
			sec := math.Float64frombits(bo.Uint64(raw[r*16 : r*16+8]))
			ps := math.Float64frombits(bo.Uint64(raw[r*16+8 : r*16+16]))
			out[r] = epoch16ToTime(sec, ps)
		}
	case TT2000:
		for r := 0; r < n; r++ {
			out[r] = tt2000ToTime(int64(bo.Uint64(raw[r*8 : r*8+8])))
		}
	default:
		return nil, fmt.Errorf("cdf: variable %q has non-epoch type %d", name, v.DataType)
	}
	return out, nil
}
