// Package soho loads charged-particle measurements from SOHO instrument
// archives (CELIAS, COSTEP-EPHIN, ERNE) into a time-indexed table plus a
// channel-metadata mapping. Datasets are registered in a closed dispatch
// table mapping identifier to source format, file cadence, column layout
// and relabeling rules.
package soho

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Format selects the on-disk source format of a dataset.
type Format int

const (
	// FormatCDF marks self-describing binary CDF science files.
	FormatCDF Format = iota
	// FormatText marks fixed-layout whitespace-delimited text files.
	FormatText
)

// FileCadence is the granularity of one source artifact.
type FileCadence int

const (
	// Daily datasets ship one file per UTC calendar day.
	Daily FileCadence = iota
	// Yearly datasets ship one file per calendar year.
	Yearly
)

// cdfField maps one CDF variable to its semantic column name. Vector
// variables expand to one column per channel index: Column_0, Column_1, ...
type cdfField struct {
	Var    string // CDF variable name
	Column string // semantic column name (or prefix for vectors)
	Vector bool
}

// channelSpec declares where a dataset's channel energy table lives inside
// its CDF files.
type channelSpec struct {
	Key       string // metadata key, e.g. "channels_dict_df_p"
	Species   string
	EnergyVar string // nominal channel energies
	DeltaVar  string // channel half-widths
	LabelVar  string // display strings
	Unit      string
}

// TextLayout declares the fixed column layout of a delimited-text dataset.
type TextLayout struct {
	HeaderLines int
	Fields      []string // whitespace-separated fields, in file order
	YearField   string   // field holding the calendar year, "" = from filename
	DOYField    string   // day-of-year field
	MSField     string   // milliseconds-of-day field
	Drop        []string // fields parsed but excluded from the output table
	Fills       map[string]float64
}

// Descriptor is the static, immutable configuration record for one dataset
// identifier. It fixes the parser kind, file cadence, remote location,
// column relabeling and (for multi-head instruments) the member heads.
type Descriptor struct {
	ID            string
	Format        Format
	Files         FileCadence
	Cadence       time.Duration // native sampling interval
	Sensor        string        // sensor head name, e.g. "HED"
	StampAtCenter bool          // native timestamps mark bin centers
	EpochVar      string
	Fields        []cdfField
	Channels      []channelSpec
	Text          *TextLayout
	Heads         []string // member dataset IDs of a multi-head merge

	baseURL     string // overrides the provider base URL when set
	dirPattern  string // fmt pattern taking the year
	filePattern string // fmt pattern taking year, month, day (daily) or year (yearly)
	versioned   bool   // filePattern carries a trailing %s version slot
}

// remoteDir returns the archive directory for the given year.
func (d Descriptor) remoteDir(year int) string {
	if d.dirPattern == "" {
		return ""
	}
	return fmt.Sprintf(d.dirPattern, year)
}

// fileNames returns the candidate file names for one day (or year), most
// recent archive version first.
func (d Descriptor) fileNames(t time.Time) []string {
	var base []string
	if d.Files == Yearly {
		base = append(base, fmt.Sprintf(d.filePattern, t.Year()))
	} else {
		base = append(base, fmt.Sprintf(d.filePattern, t.Year(), int(t.Month()), t.Day()))
	}
	if !d.versioned {
		return base
	}
	names := make([]string, 0, len(versionCandidates))
	for _, v := range versionCandidates {
		names = append(names, fmt.Sprintf(base[0], v))
	}
	return names
}

// versionCandidates are the CDAWeb archive versions tried in order.
var versionCandidates = []string{"v01", "v02", "v03"}

// ephinLevel2Fields is the COSTEP-EPHIN level-2 line layout: spacecraft
// clock and status words, electron/proton/helium fluxes, sectored and
// coincidence rates.
var ephinLevel2Fields = []string{
	"Year", "DOY", "MS", "S/C Epoch", "Status Word part 1", "Status Word part 2",
	"E150", "E300", "E1300", "E3000", "P4", "P8", "P25", "P41",
	"H4", "H8", "H25", "H41", "INT",
	"P4 GM", "P4 GR", "P4 S", "P8 GM", "P8 GR", "P8 S",
	"P25 GM", "P25 GR", "P25 S", "P41 GM", "P41 GR", "P41 S",
	"H4 GM", "H4 GR", "H4 S1", "H4 S23", "H8 GM", "H8 GR", "H8 S1", "H8 S23",
	"H25 GM", "H25 GR", "H25 S1", "H25 S23", "H41 GM", "H41 GR", "H41 S1", "H41 S23",
	"Status Flag", "Spare 1", "Spare 2", "Spare 3",
}

var datasets = map[string]Descriptor{
	"SOHO_ERNE-HED_L2-1MIN": {
		ID:      "SOHO_ERNE-HED_L2-1MIN",
		Format:  FormatCDF,
		Files:   Daily,
		Cadence: time.Minute,
		Sensor:  "HED",
		EpochVar: "Epoch",
		Fields: []cdfField{
			{Var: "PH", Column: "PH", Vector: true},
			{Var: "AH", Column: "AH", Vector: true},
		},
		Channels: []channelSpec{
			{Key: "channels_dict_df_p", Species: "p", EnergyVar: "P_energy", DeltaVar: "P_energy_delta", LabelVar: "P_E_label", Unit: "MeV"},
			{Key: "channels_dict_df_He", Species: "He", EnergyVar: "He_energy", DeltaVar: "He_energy_delta", LabelVar: "He_E_label", Unit: "MeV/n"},
		},
		dirPattern:  "erne/hed_l2-1min/%04d",
		filePattern: "soho_erne-hed_l2-1min_%04d%02d%02d_%%s.cdf",
		versioned:   true,
	},
	"SOHO_ERNE-LED_L2-1MIN": {
		ID:      "SOHO_ERNE-LED_L2-1MIN",
		Format:  FormatCDF,
		Files:   Daily,
		Cadence: time.Minute,
		Sensor:  "LED",
		EpochVar: "Epoch",
		Fields: []cdfField{
			{Var: "PL", Column: "PL", Vector: true},
			{Var: "AL", Column: "AL", Vector: true},
		},
		Channels: []channelSpec{
			{Key: "channels_dict_df_p", Species: "p", EnergyVar: "P_energy", DeltaVar: "P_energy_delta", LabelVar: "P_E_label", Unit: "MeV"},
			{Key: "channels_dict_df_He", Species: "He", EnergyVar: "He_energy", DeltaVar: "He_energy_delta", LabelVar: "He_E_label", Unit: "MeV/n"},
		},
		dirPattern:  "erne/led_l2-1min/%04d",
		filePattern: "soho_erne-led_l2-1min_%04d%02d%02d_%%s.cdf",
		versioned:   true,
	},
	// Combined low- and high-energy detector view: both heads are loaded
	// independently, outer-joined on timestamp, and their channel tables
	// merged under head-qualified keys.
	"SOHO_ERNE_L2-1MIN": {
		ID:      "SOHO_ERNE_L2-1MIN",
		Format:  FormatCDF,
		Files:   Daily,
		Cadence: time.Minute,
		Heads:   []string{"SOHO_ERNE-LED_L2-1MIN", "SOHO_ERNE-HED_L2-1MIN"},
	},
	"SOHO_COSTEP-EPHIN_L3I-1MIN": {
		ID:      "SOHO_COSTEP-EPHIN_L3I-1MIN",
		Format:  FormatCDF,
		Files:   Daily,
		Cadence: time.Minute,
		Sensor:  "EPHIN",
		EpochVar: "Epoch",
		Fields: []cdfField{
			{Var: "E150", Column: "E150"},
			{Var: "E300", Column: "E300"},
			{Var: "E1300", Column: "E1300"},
			{Var: "E3000", Column: "E3000"},
			{Var: "P4", Column: "P4"},
			{Var: "P8", Column: "P8"},
			{Var: "P25", Column: "P25"},
			{Var: "P41", Column: "P41"},
			{Var: "H4", Column: "H4"},
			{Var: "H8", Column: "H8"},
			{Var: "H25", Column: "H25"},
			{Var: "H41", Column: "H41"},
			{Var: "INT", Column: "INT"},
		},
		dirPattern:  "costep/ephin_l3i-1min/%04d",
		filePattern: "soho_costep-ephin_l3i-1min_%04d%02d%02d_%%s.cdf",
		versioned:   true,
	},
	"SOHO_CELIAS-PM_30S": {
		ID:      "SOHO_CELIAS-PM_30S",
		Format:  FormatCDF,
		Files:   Daily,
		Cadence: 30 * time.Second,
		Sensor:  "PM",
		EpochVar: "Epoch",
		Fields: []cdfField{
			{Var: "N_p", Column: "proton_density"},
			{Var: "V_p", Column: "proton_speed"},
			{Var: "Vth_p", Column: "proton_thermal_speed"},
		},
		dirPattern:  "celias/pm_30s/%04d",
		filePattern: "soho_celias-pm_30s_%04d%02d%02d_%%s.cdf",
		versioned:   true,
	},
	"SOHO_CELIAS-SEM_15S": {
		ID:            "SOHO_CELIAS-SEM_15S",
		Format:        FormatCDF,
		Files:         Daily,
		Cadence:       15 * time.Second,
		Sensor:        "SEM",
		StampAtCenter: true,
		EpochVar:      "Epoch",
		Fields: []cdfField{
			{Var: "CH1", Column: "SEM_CH1"},
			{Var: "CH2", Column: "SEM_CH2"},
		},
		dirPattern:  "celias/sem_15s/%04d",
		filePattern: "soho_celias-sem_15s_%04d%02d%02d_%%s.cdf",
		versioned:   true,
	},
	"SOHO_COSTEP-EPHIN_L2": {
		ID:      "SOHO_COSTEP-EPHIN_L2",
		Format:  FormatText,
		Files:   Yearly,
		Cadence: time.Minute,
		Sensor:  "EPHIN",
		Text: &TextLayout{
			HeaderLines: 3,
			Fields:      ephinLevel2Fields,
			YearField:   "Year",
			DOYField:    "DOY",
			MSField:     "MS",
			Drop: []string{
				"Year", "DOY", "MS", "S/C Epoch",
				"Status Word part 1", "Status Word part 2",
				"Spare 1", "Spare 2", "Spare 3",
			},
			Fills: ephinFills(),
		},
		baseURL:     "https://ulysses.physik.uni-kiel.de/costep/level2/rl2",
		filePattern: "ephin%04d.rl2",
	},
}

// ephinFills declares the per-field fill sentinel for every EPHIN flux and
// rate column.
func ephinFills() map[string]float64 {
	fills := make(map[string]float64)
	for _, f := range ephinLevel2Fields {
		switch f {
		case "Year", "DOY", "MS", "S/C Epoch", "Status Word part 1",
			"Status Word part 2", "Status Flag", "Spare 1", "Spare 2", "Spare 3":
		default:
			fills[f] = -9999.9
		}
	}
	return fills
}

// Lookup resolves a dataset identifier (case-insensitive) to its descriptor.
func Lookup(id string) (Descriptor, bool) {
	d, ok := datasets[strings.ToUpper(id)]
	return d, ok
}

// Datasets lists all registered dataset identifiers, sorted.
func Datasets() []string {
	out := make([]string, 0, len(datasets))
	for id := range datasets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
