package soho

import (
	"log"
	"math"

	"github.com/heliolab/sohodata/timeseries"
)

// EPHIN status-flag failure modes. After the instrument entered failure
// mode E the e1300/e3000, p25/p41 and he25/he41 channel pairs are combined
// on board, widening the surviving channel's energy window.
const (
	ephinNominal  = 0
	ephinFailureE = 1
	ephinRingOff  = 2
)

// ephinFailureMode decodes one status word: bit 0 set marks a failure-mode
// record, bit 2 distinguishes mode E from ring-off operation.
func ephinFailureMode(status float64) int {
	if math.IsNaN(status) {
		return ephinNominal
	}
	s := int(status)
	if s&0x1 == 0 {
		return ephinNominal
	}
	if s&0x4 != 0 {
		return ephinFailureE
	}
	return ephinRingOff
}

// ephinRingOffAt reports whether the ring detector was off for one record.
func ephinRingOffAt(status float64) bool {
	if math.IsNaN(status) {
		return false
	}
	return int(status)&0x2 != 0
}

// normalizeEphin derives the channel-label metadata for the EPHIN level-2
// text dataset from the instrument status column, then drops the
// housekeeping columns from the output table.
func normalizeEphin(fr *timeseries.Frame, desc Descriptor) Metadata {
	maxMode := ephinNominal
	ringOff := 0
	if status, ok := fr.Column("Status Flag"); ok {
		for _, s := range status {
			if m := ephinFailureMode(s); m > maxMode {
				maxMode = m
			}
			if ephinRingOffAt(s) {
				ringOff++
			}
		}
	}
	if ringOff > 0 {
		log.Printf("EPHIN ring detector off for %d of %d records", ringOff, fr.Len())
	}

	e1300 := "2.64 - 6.18 MeV"
	p25 := "25 - 41 MeV"
	he25 := "25 - 41 MeV/n"
	switch maxMode {
	case ephinFailureE:
		e1300 = "2.64 - 10.4 MeV"
		p25 = "25 - 53 MeV"
		he25 = "25 - 53 MeV/n"
	case ephinRingOff:
		log.Printf("EPHIN ring off during requested period; sectored rates unreliable")
	}

	meta := newMetadata()
	meta.Labels["E150"] = "0.25 - 0.7 MeV"
	meta.Labels["E300"] = "0.67 - 3.0 MeV"
	meta.Labels["E1300"] = e1300
	meta.Labels["E3000"] = "4.8 - 10.4 MeV"
	meta.Labels["P4"] = "4.3 - 7.8 MeV"
	meta.Labels["P8"] = "7.8 - 25 MeV"
	meta.Labels["P25"] = p25
	meta.Labels["P41"] = "41 - 53 MeV"
	meta.Labels["H4"] = "4.3 - 7.8 MeV/n"
	meta.Labels["H8"] = "7.8 - 25.0 MeV/n"
	meta.Labels["H25"] = he25
	meta.Labels["H41"] = "40.9 - 53.0 MeV/n"
	meta.Labels["INT"] = ">25 MeV integral"

	fr.Drop(desc.Text.Drop...)
	return meta
}
