package cdf

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Synthetic CDF image builder
// =============================================================================

// builder assembles a CDF v3 byte image record by record. Internal record
// fields are big-endian; variable data in these fixtures uses encoding 6
// (IBM PC, little-endian).
type builder struct {
	data []byte
}

func newBuilder() *builder {
	b := &builder{}
	var magic [8]byte
	binary.BigEndian.PutUint32(magic[0:4], magicV3)
	binary.BigEndian.PutUint32(magic[4:8], magicUncompressed)
	b.data = append(b.data, magic[:]...)
	return b
}

// record appends one internal record and returns its offset.
func (b *builder) record(rtype int32, body []byte) int64 {
	off := int64(len(b.data))
	var hdr [12]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(12+len(body)))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(rtype))
	b.data = append(b.data, hdr[:]...)
	b.data = append(b.data, body...)
	return off
}

func (b *builder) patch64(off, v int64) {
	binary.BigEndian.PutUint64(b.data[off:off+8], uint64(v))
}

func put32(body []byte, off int, v int32) {
	binary.BigEndian.PutUint32(body[off:off+4], uint32(v))
}

func put64(body []byte, off int, v int64) {
	binary.BigEndian.PutUint64(body[off:off+8], uint64(v))
}

func putName(body []byte, off int, name string) {
	copy(body[off:off+256], name)
}

// Body offsets below are the record-relative offsets the parser reads,
// minus the 12-byte record header.

func cdrBody(encoding, flags int32) []byte {
	body := make([]byte, 48)
	// GDR offset patched in after the GDR is written.
	put32(body, 16, encoding)
	put32(body, 20, flags)
	return body
}

func gdrBody(rVDRhead, zVDRhead, adrHead int64) []byte {
	body := make([]byte, 72) // rNumDims = 0
	put64(body, 0, rVDRhead)
	put64(body, 8, zVDRhead)
	put64(body, 16, adrHead)
	return body
}

func zvdrBody(next int64, dt DataType, maxRec int32, vxrHead int64, numElems, num int32, cprOff int64, name string, dims []int32) []byte {
	body := make([]byte, 332+len(dims)*8)
	put64(body, 0, next)
	put32(body, 8, int32(dt))
	put32(body, 12, maxRec)
	put64(body, 16, vxrHead)
	put32(body, 32, 3) // flags: record variance + pad value, unused by reads
	put32(body, 52, numElems)
	put32(body, 56, num)
	put64(body, 60, cprOff)
	putName(body, 72, name)
	put32(body, 328, int32(len(dims)))
	for i, d := range dims {
		put32(body, 332+i*4, d)
		put32(body, 332+len(dims)*4+i*4, 1) // DimVarys: all varying
	}
	return body
}

func vxrBody(next int64, first, last []int32, offsets []int64) []byte {
	n := len(first)
	body := make([]byte, 16+16*n)
	put64(body, 0, next)
	put32(body, 8, int32(n))
	put32(body, 12, int32(n))
	for i := 0; i < n; i++ {
		put32(body, 16+i*4, first[i])
		put32(body, 16+n*4+i*4, last[i])
		put64(body, 16+n*8+i*8, offsets[i])
	}
	return body
}

func adrBody(next, agrHead, azHead int64, scope, num int32, name string) []byte {
	body := make([]byte, 312)
	put64(body, 0, next)
	put64(body, 8, agrHead)
	put32(body, 16, scope)
	put32(body, 20, num)
	put64(body, 36, azHead)
	putName(body, 56, name)
	return body
}

func aedrBody(attrNum int32, dt DataType, entryNum, numElems int32, value []byte) []byte {
	body := make([]byte, 44+len(value))
	put32(body, 8, attrNum)
	put32(body, 12, int32(dt))
	put32(body, 16, entryNum)
	put32(body, 20, numElems)
	copy(body[44:], value)
	return body
}

func cprBody(cType int32) []byte {
	body := make([]byte, 16)
	put32(body, 0, cType)
	put32(body, 8, 1) // pCount
	return body
}

func cvvrBody(compressed []byte) []byte {
	body := make([]byte, 12+len(compressed))
	put64(body, 4, int64(len(compressed)))
	copy(body[12:], compressed)
	return body
}

// Little-endian variable payload helpers (encoding 6).

func leFloat64s(vals ...float64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

func leFloat32s(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func epochMs(ts time.Time) float64 {
	return float64(ts.UnixMilli()) + epochUnixOffsetMs
}

var fixtureTimes = []time.Time{
	time.Date(2021, 4, 16, 0, 0, 0, 0, time.UTC),
	time.Date(2021, 4, 16, 0, 1, 0, 0, time.UTC),
	time.Date(2021, 4, 16, 0, 2, 0, 0, time.UTC),
}

// buildFixture assembles an image with five z-variables:
//
//	Epoch      CDF_EPOCH, scalar, 3 records
//	PH         Real4, dims [2], 3 records
//	P_E_label  Char, NumElems 9, dims [2], 1 record
//	Sparse     Real4, scalar, MaxRec 2 but only records 0-1 on disk
//	CH1        Real4, scalar, 2 records, gzip-compressed (CVVR)
//
// plus variable attributes UNITS and FILLVAL on PH and a global Project
// attribute.
func buildFixture(t *testing.T) []byte {
	t.Helper()
	b := newBuilder()
	cdrOff := b.record(recCDR, cdrBody(6, 1))

	epochVVR := b.record(recVVR, leFloat64s(
		epochMs(fixtureTimes[0]), epochMs(fixtureTimes[1]), epochMs(fixtureTimes[2])))
	epochVXR := b.record(recVXR, vxrBody(0, []int32{0}, []int32{2}, []int64{epochVVR}))

	phVVR := b.record(recVVR, leFloat32s(1, 2, 3, 4, 5, 6))
	phVXR := b.record(recVXR, vxrBody(0, []int32{0}, []int32{2}, []int64{phVVR}))

	labels := make([]byte, 18)
	copy(labels[0:9], "13 - 16")
	copy(labels[9:18], "16 - 20")
	lblVVR := b.record(recVVR, labels)
	lblVXR := b.record(recVXR, vxrBody(0, []int32{0}, []int32{0}, []int64{lblVVR}))

	spVVR := b.record(recVVR, leFloat32s(7, 8))
	spVXR := b.record(recVXR, vxrBody(0, []int32{0}, []int32{1}, []int64{spVVR}))

	cprOff := b.record(recCPR, cprBody(gzipCompression))
	cvvr := b.record(recCVVR, cvvrBody(gzipBytes(t, leFloat32s(11, 12))))
	ch1VXR := b.record(recVXR, vxrBody(0, []int32{0}, []int32{1}, []int64{cvvr}))

	units := "1/(cm^2 s sr MeV)"
	unitsAEDR := b.record(recAzEDR, aedrBody(0, Char, 1, int32(len(units)), []byte(units)))
	fillAEDR := b.record(recAzEDR, aedrBody(1, Real4, 1, 1, leFloat32s(-1e31)))
	projAEDR := b.record(recAgrEDR, aedrBody(2, Char, 0, 4, []byte("SOHO")))

	// ADR chain, written tail first.
	projADR := b.record(recADR, adrBody(0, projAEDR, 0, 1, 2, "Project"))
	fillADR := b.record(recADR, adrBody(projADR, 0, fillAEDR, 2, 1, "FILLVAL"))
	unitsADR := b.record(recADR, adrBody(fillADR, 0, unitsAEDR, 2, 0, "UNITS"))

	// zVDR chain, written tail first.
	ch1VDR := b.record(recZVDR, zvdrBody(0, Real4, 1, ch1VXR, 1, 4, cprOff, "CH1", nil))
	spVDR := b.record(recZVDR, zvdrBody(ch1VDR, Real4, 2, spVXR, 1, 3, 0, "Sparse", nil))
	lblVDR := b.record(recZVDR, zvdrBody(spVDR, Char, 0, lblVXR, 9, 2, 0, "P_E_label", []int32{2}))
	phVDR := b.record(recZVDR, zvdrBody(lblVDR, Real4, 2, phVXR, 1, 1, 0, "PH", []int32{2}))
	epochVDR := b.record(recZVDR, zvdrBody(phVDR, Epoch, 2, epochVXR, 1, 0, 0, "Epoch", nil))

	gdrOff := b.record(recGDR, gdrBody(0, epochVDR, unitsADR))
	b.patch64(cdrOff+12, gdrOff)
	return b.data
}

// =============================================================================
// Tests
// =============================================================================

func TestFromBytesStructure(t *testing.T) {
	f, err := FromBytes(buildFixture(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"Epoch", "PH", "P_E_label", "Sparse", "CH1"}, f.Variables())

	v, ok := f.Variable("PH")
	require.True(t, ok)
	assert.Equal(t, Real4, v.DataType)
	assert.Equal(t, []int{2}, v.DimSizes)
	assert.Equal(t, 3, v.NumRecords())

	assert.True(t, f.HasVariable("Epoch"))
	assert.False(t, f.HasVariable("AH"))
}

func TestValues(t *testing.T) {
	f, err := FromBytes(buildFixture(t))
	require.NoError(t, err)

	recs, err := f.Values("PH")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []float64{1, 2}, recs[0])
	assert.Equal(t, []float64{3, 4}, recs[1])
	assert.Equal(t, []float64{5, 6}, recs[2])
}

func TestValuesMissingRecordsAreNaN(t *testing.T) {
	f, err := FromBytes(buildFixture(t))
	require.NoError(t, err)

	recs, err := f.Values("Sparse")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []float64{7}, recs[0])
	assert.Equal(t, []float64{8}, recs[1])
	assert.True(t, math.IsNaN(recs[2][0]), "record absent from the VXR chain")
}

func TestValuesCompressedVariable(t *testing.T) {
	f, err := FromBytes(buildFixture(t))
	require.NoError(t, err)

	recs, err := f.Values("CH1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []float64{11}, recs[0])
	assert.Equal(t, []float64{12}, recs[1])
}

func TestValuesRejectsCharData(t *testing.T) {
	f, err := FromBytes(buildFixture(t))
	require.NoError(t, err)

	_, err = f.Values("P_E_label")
	assert.Error(t, err)
	_, err = f.Values("nope")
	assert.Error(t, err)
}

func TestStrings(t *testing.T) {
	f, err := FromBytes(buildFixture(t))
	require.NoError(t, err)

	recs, err := f.Strings("P_E_label")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"13 - 16", "16 - 20"}, recs[0])

	_, err = f.Strings("PH")
	assert.Error(t, err, "numeric variable is not character data")
}

func TestTimes(t *testing.T) {
	f, err := FromBytes(buildFixture(t))
	require.NoError(t, err)

	times, err := f.Times("Epoch")
	require.NoError(t, err)
	require.Len(t, times, 3)
	for i, want := range fixtureTimes {
		assert.True(t, times[i].Equal(want), "record %d: got %v want %v", i, times[i], want)
	}

	_, err = f.Times("PH")
	assert.Error(t, err, "non-epoch variable")
}

func TestVarAttributes(t *testing.T) {
	f, err := FromBytes(buildFixture(t))
	require.NoError(t, err)

	attrs, err := f.VarAttributes("PH")
	require.NoError(t, err)

	assert.Equal(t, "1/(cm^2 s sr MeV)", attrs["UNITS"])
	fill, ok := attrs["FILLVAL"].(float64)
	require.True(t, ok)
	assert.InDelta(t, -1e31, fill, 1e25)

	// Epoch has no variable attributes in the fixture.
	attrs, err = f.VarAttributes("Epoch")
	require.NoError(t, err)
	assert.Empty(t, attrs)
}

func TestGlobalAttribute(t *testing.T) {
	f, err := FromBytes(buildFixture(t))
	require.NoError(t, err)

	val, ok := f.GlobalAttribute("Project")
	require.True(t, ok)
	assert.Equal(t, "SOHO", val)

	_, ok = f.GlobalAttribute("UNITS")
	assert.False(t, ok, "variable-scope attribute is not global")
}

func TestWholeFileCompression(t *testing.T) {
	plain := buildFixture(t)

	// Rebuild as magic + CCR(gzip of everything past the magic) + CPR.
	compressed := gzipBytes(t, plain[8:])
	b := &builder{}
	var magic [8]byte
	binary.BigEndian.PutUint32(magic[0:4], magicV3)
	binary.BigEndian.PutUint32(magic[4:8], magicCompressed)
	b.data = append(b.data, magic[:]...)

	ccrBody := make([]byte, 20+len(compressed))
	put64(ccrBody, 8, int64(len(plain)-8)) // uSize
	copy(ccrBody[20:], compressed)
	ccrOff := b.record(recCCR, ccrBody)
	cprOff := b.record(recCPR, cprBody(gzipCompression))
	b.patch64(ccrOff+12, cprOff)

	f, err := FromBytes(b.data)
	require.NoError(t, err)
	assert.Equal(t, []string{"Epoch", "PH", "P_E_label", "Sparse", "CH1"}, f.Variables())

	recs, err := f.Values("PH")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, recs[0])
}

func TestOpenGzipFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "soho_erne-hed_l2-1min_20210416_v01.cdf.gz")
	require.NoError(t, os.WriteFile(path, gzipBytes(t, buildFixture(t)), 0644))

	f, err := Open(path)
	require.NoError(t, err)
	assert.True(t, f.HasVariable("Epoch"))
}

func TestFromBytesRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte{0xCD, 0xF3}},
		{"bad magic", bytes.Repeat([]byte{0xAB}, 32)},
		{"truncated records", buildFixture(t)[:40]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromBytes(tt.data)
			assert.Error(t, err)
		})
	}
}
