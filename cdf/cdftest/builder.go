// Package cdftest assembles small synthetic CDF v3 files for tests:
// little-endian encoding, one uncompressed VVR per variable, z-variables
// only. It deliberately does not depend on the reader it exists to feed.
package cdftest

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"time"
)

const (
	typeEpoch  = 31
	typeDouble = 45
	typeChar   = 51

	recCDR   = 1
	recGDR   = 2
	recADR   = 4
	recAgrEDR = 5
	recVXR   = 6
	recVVR   = 7
	recZVDR  = 8
	recAzEDR = 9
)

const epochOffsetMs = 719528 * 86400 * 1000

type varDef struct {
	name     string
	dtype    int32
	numElems int
	dims     []int
	numRecs  int
	data     []byte // little-endian records, concatenated
}

type entryDef struct {
	entryNum int32
	dtype    int32
	numElems int32
	value    []byte
}

type attrDef struct {
	name    string
	global  bool
	entries []entryDef
}

// Builder accumulates variables and attributes, then renders the byte image.
type Builder struct {
	vars  []*varDef
	attrs []*attrDef
}

func New() *Builder { return &Builder{} }

// AddEpoch appends a CDF_EPOCH variable with one record per timestamp.
func (b *Builder) AddEpoch(name string, times []time.Time) {
	data := make([]byte, 8*len(times))
	for i, t := range times {
		ms := float64(t.UnixMilli()) + epochOffsetMs
		binary.LittleEndian.PutUint64(data[i*8:], math.Float64bits(ms))
	}
	b.vars = append(b.vars, &varDef{
		name: name, dtype: typeEpoch, numElems: 1, numRecs: len(times), data: data,
	})
}

// AddDoubles appends a CDF_DOUBLE variable. Every record must hold exactly
// the product of dims values (1 for a scalar).
func (b *Builder) AddDoubles(name string, dims []int, records [][]float64) {
	per := 1
	for _, d := range dims {
		per *= d
	}
	data := make([]byte, 0, 8*per*len(records))
	for _, rec := range records {
		if len(rec) != per {
			panic(fmt.Sprintf("cdftest: record for %s has %d values, want %d", name, len(rec), per))
		}
		for _, v := range rec {
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			data = append(data, buf[:]...)
		}
	}
	b.vars = append(b.vars, &varDef{
		name: name, dtype: typeDouble, numElems: 1, dims: dims, numRecs: len(records), data: data,
	})
}

// AddStrings appends a one-record CDF_CHAR variable holding the given
// labels, each padded to numElems bytes.
func (b *Builder) AddStrings(name string, numElems int, labels []string) {
	data := make([]byte, numElems*len(labels))
	for i, l := range labels {
		copy(data[i*numElems:(i+1)*numElems], l)
	}
	var dims []int
	if len(labels) > 1 {
		dims = []int{len(labels)}
	}
	b.vars = append(b.vars, &varDef{
		name: name, dtype: typeChar, numElems: numElems, dims: dims, numRecs: 1, data: data,
	})
}

// SetAttr attaches a variable-scope attribute entry to the named variable.
// Values may be string or float64.
func (b *Builder) SetAttr(varName, attr string, value any) {
	idx := -1
	for i, v := range b.vars {
		if v.name == varName {
			idx = i
			break
		}
	}
	if idx < 0 {
		panic(fmt.Sprintf("cdftest: attribute %s targets unknown variable %s", attr, varName))
	}
	e := entryDef{entryNum: int32(idx)}
	switch v := value.(type) {
	case string:
		e.dtype = typeChar
		e.numElems = int32(len(v))
		e.value = []byte(v)
	case float64:
		e.dtype = typeDouble
		e.numElems = 1
		e.value = make([]byte, 8)
		binary.LittleEndian.PutUint64(e.value, math.Float64bits(v))
	default:
		panic(fmt.Sprintf("cdftest: unsupported attribute value %T", value))
	}
	b.attr(attr, false).entries = append(b.attr(attr, false).entries, e)
}

// SetGlobal attaches entry 0 of a global character attribute.
func (b *Builder) SetGlobal(attr, value string) {
	b.attr(attr, true).entries = append(b.attr(attr, true).entries, entryDef{
		dtype: typeChar, numElems: int32(len(value)), value: []byte(value),
	})
}

func (b *Builder) attr(name string, global bool) *attrDef {
	for _, a := range b.attrs {
		if a.name == name && a.global == global {
			return a
		}
	}
	a := &attrDef{name: name, global: global}
	b.attrs = append(b.attrs, a)
	return a
}

// WriteFile renders the image to path.
func (b *Builder) WriteFile(path string) error {
	return os.WriteFile(path, b.Bytes(), 0644)
}

// =============================================================================
// Image assembly
// =============================================================================

type image struct {
	data []byte
}

func (im *image) record(rtype int32, body []byte) int64 {
	off := int64(len(im.data))
	var hdr [12]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(12+len(body)))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(rtype))
	im.data = append(im.data, hdr[:]...)
	im.data = append(im.data, body...)
	return off
}

func put32(body []byte, off int, v int32) {
	binary.BigEndian.PutUint32(body[off:off+4], uint32(v))
}

func put64(body []byte, off int, v int64) {
	binary.BigEndian.PutUint64(body[off:off+8], uint64(v))
}

// Bytes renders the accumulated definitions as an uncompressed CDF v3 image.
func (b *Builder) Bytes() []byte {
	im := &image{}
	im.data = append(im.data,
		0xCD, 0xF3, 0x00, 0x01, // CDF v3 magic
		0x00, 0x00, 0xFF, 0xFF, // uncompressed
	)

	// CDR: GDR offset patched at the end; encoding 6 (little), row-major.
	cdrBody := make([]byte, 48)
	put32(cdrBody, 16, 6)
	put32(cdrBody, 20, 1)
	cdrOff := im.record(recCDR, cdrBody)

	// Data records first so VDRs can point at finished VXRs.
	vxrHeads := make([]int64, len(b.vars))
	for i, v := range b.vars {
		vvr := im.record(recVVR, v.data)
		vxr := make([]byte, 32)
		put32(vxr, 8, 1)  // Nentries
		put32(vxr, 12, 1) // NusedEntries
		put32(vxr, 16, 0) // First
		put32(vxr, 20, int32(v.numRecs-1))
		put64(vxr, 24, vvr)
		vxrHeads[i] = im.record(recVXR, vxr)
	}

	// AEDR chains per attribute, then the ADR chain written tail first.
	adrHead := int64(0)
	for i := len(b.attrs) - 1; i >= 0; i-- {
		a := b.attrs[i]
		head := int64(0)
		rt := int32(recAzEDR)
		if a.global {
			rt = recAgrEDR
		}
		for j := len(a.entries) - 1; j >= 0; j-- {
			e := a.entries[j]
			body := make([]byte, 44+len(e.value))
			put64(body, 0, head)
			put32(body, 8, int32(i))
			put32(body, 12, e.dtype)
			put32(body, 16, e.entryNum)
			put32(body, 20, e.numElems)
			copy(body[44:], e.value)
			head = im.record(rt, body)
		}

		body := make([]byte, 312)
		put64(body, 0, adrHead)
		put32(body, 20, int32(i))
		put32(body, 44, int32(len(a.entries)))
		copy(body[56:], a.name)
		if a.global {
			put32(body, 16, 1)
			put64(body, 8, head)
		} else {
			put32(body, 16, 2)
			put64(body, 36, head)
		}
		adrHead = im.record(recADR, body)
	}

	// zVDR chain, tail first so the head ends up being variable 0.
	vdrHead := int64(0)
	for i := len(b.vars) - 1; i >= 0; i-- {
		v := b.vars[i]
		nd := len(v.dims)
		body := make([]byte, 332+nd*8)
		put64(body, 0, vdrHead)
		put32(body, 8, v.dtype)
		put32(body, 12, int32(v.numRecs-1)) // MaxRec
		put64(body, 16, vxrHeads[i])
		put32(body, 32, 1) // record variance
		put32(body, 52, int32(v.numElems))
		put32(body, 56, int32(i))
		copy(body[72:72+256], v.name)
		put32(body, 328, int32(nd))
		for j, d := range v.dims {
			put32(body, 332+j*4, int32(d))
			put32(body, 332+nd*4+j*4, 1)
		}
		vdrHead = im.record(recZVDR, body)
	}

	gdr := make([]byte, 72)
	put64(gdr, 8, vdrHead)
	put64(gdr, 16, adrHead)
	gdrOff := im.record(recGDR, gdr)

	put64(im.data, int(cdrOff)+12, gdrOff)
	return im.data
}
