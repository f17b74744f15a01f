package soho

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliolab/sohodata/cdf/cdftest"
)

// stubProvider serves pre-built local files keyed by dataset identifier.
type stubProvider struct {
	paths map[string][]string
	err   error
}

func (s *stubProvider) Fetch(ctx context.Context, desc Descriptor, start, end time.Time, path string, maxConn int) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.paths[desc.ID], nil
}

var fixtureEpochs = []time.Time{
	time.Date(2021, 4, 16, 0, 0, 0, 0, time.UTC),
	time.Date(2021, 4, 16, 0, 1, 0, 0, time.UTC),
	time.Date(2021, 4, 16, 0, 2, 0, 0, time.UTC),
}

// writeHEDFile builds a three-record high-energy-detector day file with a
// fill value in the first proton channel of the second record.
func writeHEDFile(t *testing.T, dir string) string {
	t.Helper()
	b := cdftest.New()
	b.AddEpoch("Epoch", fixtureEpochs)
	b.AddDoubles("PH", []int{2}, [][]float64{{10, 20}, {-1e31, 40}, {30, 60}})
	b.AddDoubles("AH", []int{1}, [][]float64{{1}, {2}, {3}})
	b.AddDoubles("P_energy", []int{2}, [][]float64{{14.5, 61.5}})
	b.AddDoubles("P_energy_delta", []int{2}, [][]float64{{1.5, 36.5}})
	b.AddStrings("P_E_label", 10, []string{"13 - 16", "25 - 98"})
	b.AddDoubles("He_energy", []int{1}, [][]float64{{18}})
	b.AddDoubles("He_energy_delta", []int{1}, [][]float64{{2}})
	b.AddStrings("He_E_label", 10, []string{"16 - 20"})
	b.SetAttr("PH", "FILLVAL", -1e31)
	b.SetAttr("PH", "UNITS", "1/(cm^2 s sr MeV)")
	b.SetAttr("PH", "LABLAXIS", "Proton flux")
	path := filepath.Join(dir, "soho_erne-hed_l2-1min_20210416_v01.cdf")
	require.NoError(t, b.WriteFile(path))
	return path
}

// writeLEDFile covers only the first two epochs, so the multi-head merge
// has a one-sided timestamp.
func writeLEDFile(t *testing.T, dir string) string {
	t.Helper()
	b := cdftest.New()
	b.AddEpoch("Epoch", fixtureEpochs[:2])
	b.AddDoubles("PL", []int{1}, [][]float64{{100}, {200}})
	b.AddDoubles("AL", []int{1}, [][]float64{{5}, {6}})
	b.AddDoubles("P_energy", []int{1}, [][]float64{{2.4}})
	b.AddDoubles("P_energy_delta", []int{1}, [][]float64{{1.1}})
	b.AddStrings("P_E_label", 10, []string{"1.3 - 3.5"})
	b.AddDoubles("He_energy", []int{1}, [][]float64{{2.8}})
	b.AddDoubles("He_energy_delta", []int{1}, [][]float64{{1.2}})
	b.AddStrings("He_E_label", 10, []string{"1.6 - 4.0"})
	path := filepath.Join(dir, "soho_erne-led_l2-1min_20210416_v01.cdf")
	require.NoError(t, b.WriteFile(path))
	return path
}

func TestLoadInvalidArguments(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name       string
		dataset    string
		start, end any
		opts       *Options
		want       error
	}{
		{"unknown dataset", "SOHO_NOPE", "2021/04/16", "2021/04/17", nil, ErrInvalidOption},
		{"bad pos", "SOHO_ERNE-HED_L2-1MIN", "2021/04/16", "2021/04/17", &Options{PosTimestamp: "middle"}, ErrInvalidOption},
		{"bad resample", "SOHO_ERNE-HED_L2-1MIN", "2021/04/16", "2021/04/17", &Options{Resample: "1fortnight"}, ErrInvalidOption},
		{"garbage start", "SOHO_ERNE-HED_L2-1MIN", "yesterday", "2021/04/17", nil, ErrInvalidDate},
		{"unsupported date type", "SOHO_ERNE-HED_L2-1MIN", 20210416, "2021/04/17", nil, ErrInvalidDate},
		{"end equals start", "SOHO_ERNE-HED_L2-1MIN", "2021/04/16", "2021/04/16", nil, ErrInvalidDate},
		{"end before start", "SOHO_ERNE-HED_L2-1MIN", "2021/04/17", "2021/04/16", nil, ErrInvalidDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Load(ctx, tt.dataset, tt.start, tt.end, tt.opts)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadProviderFailureReturnsEmpty(t *testing.T) {
	provider := &stubProvider{err: fmt.Errorf("network down")}
	fr, meta, err := Load(context.Background(), "SOHO_ERNE-HED_L2-1MIN", "2021/04/16", "2021/04/17", &Options{Provider: provider})
	require.NoError(t, err, "data unavailability is not an error")
	assert.Equal(t, 0, fr.Len())
	assert.True(t, meta.IsEmpty())
}

func TestLoadNoFilesReturnsEmpty(t *testing.T) {
	provider := &stubProvider{paths: map[string][]string{}}
	fr, meta, err := Load(context.Background(), "SOHO_ERNE-HED_L2-1MIN", "2021/04/16", "2021/04/17", &Options{Provider: provider})
	require.NoError(t, err)
	assert.Equal(t, 0, fr.Len())
	assert.True(t, meta.IsEmpty())
}

func TestLoadERNEHED(t *testing.T) {
	dir := t.TempDir()
	provider := &stubProvider{paths: map[string][]string{
		"SOHO_ERNE-HED_L2-1MIN": {writeHEDFile(t, dir)},
	}}

	fr, meta, err := Load(context.Background(), "SOHO_ERNE-HED_L2-1MIN", "2021/04/16", "2021/04/17", &Options{Provider: provider})
	require.NoError(t, err)
	require.Equal(t, 3, fr.Len())

	assert.Equal(t, []string{"PH_0", "PH_1", "AH_0"}, fr.Columns())

	ph0, _ := fr.Column("PH_0")
	assert.Equal(t, 10.0, ph0[0])
	assert.True(t, math.IsNaN(ph0[1]), "declared fill value becomes NaN")
	assert.Equal(t, 30.0, ph0[2])

	assert.Equal(t, "1/(cm^2 s sr MeV)", meta.Units["PH"])
	assert.Equal(t, "Proton flux", meta.Labels["PH"])
	assert.Equal(t, -1e31, meta.Fills["PH"])

	table, ok := meta.Channels["channels_dict_df_p"]
	require.True(t, ok)
	require.Len(t, table.Channels, 2)
	assert.Equal(t, 13.0, table.Channels[0].Lower)
	assert.Equal(t, 16.0, table.Channels[0].Upper)
	assert.Equal(t, "13 - 16", table.Channels[0].Label)
	assert.Equal(t, 98.0, table.Channels[1].Upper)

	// The combined-channel series over both proton channels.
	series, label, err := CombineFluxERNE(fr, table, 0, 1, "p", "HED")
	require.NoError(t, err)
	assert.Equal(t, "13 - 98 MeV", label)
	assert.Equal(t, 15.0, series.Values[0], "mean of 10 and 20")
	assert.Equal(t, 40.0, series.Values[1], "fill excluded from the mean")
}

func TestLoadTruncatesToWindow(t *testing.T) {
	dir := t.TempDir()
	provider := &stubProvider{paths: map[string][]string{
		"SOHO_ERNE-HED_L2-1MIN": {writeHEDFile(t, dir)},
	}}

	fr, _, err := Load(context.Background(), "SOHO_ERNE-HED_L2-1MIN",
		"2021/04/16 00:01", "2021/04/16 00:02", &Options{Provider: provider})
	require.NoError(t, err)
	require.Equal(t, 1, fr.Len())
	assert.True(t, fr.Index()[0].Equal(fixtureEpochs[1]))
}

func TestLoadAcceptsTimeValues(t *testing.T) {
	dir := t.TempDir()
	provider := &stubProvider{paths: map[string][]string{
		"SOHO_ERNE-HED_L2-1MIN": {writeHEDFile(t, dir)},
	}}

	fr, _, err := Load(context.Background(), "SOHO_ERNE-HED_L2-1MIN",
		fixtureEpochs[0], fixtureEpochs[0].AddDate(0, 0, 1), &Options{Provider: provider})
	require.NoError(t, err)
	assert.Equal(t, 3, fr.Len())
}

func TestLoadResampleCenter(t *testing.T) {
	dir := t.TempDir()
	provider := &stubProvider{paths: map[string][]string{
		"SOHO_ERNE-HED_L2-1MIN": {writeHEDFile(t, dir)},
	}}

	fr, _, err := Load(context.Background(), "SOHO_ERNE-HED_L2-1MIN", "2021/04/16", "2021/04/17", &Options{
		Provider:     provider,
		Resample:     "2min",
		PosTimestamp: "center",
	})
	require.NoError(t, err)
	require.Equal(t, 2, fr.Len())

	// Two-minute bins starting at 00:00 and 00:02, stamped at bin center.
	assert.True(t, fr.Index()[0].Equal(fixtureEpochs[0].Add(time.Minute)))
	assert.True(t, fr.Index()[1].Equal(fixtureEpochs[2].Add(time.Minute)))

	ph1, _ := fr.Column("PH_1")
	assert.Equal(t, 30.0, ph1[0], "mean of 20 and 40")
	assert.Equal(t, 60.0, ph1[1])
}

func TestLoadCenterAtNativeCadence(t *testing.T) {
	dir := t.TempDir()
	provider := &stubProvider{paths: map[string][]string{
		"SOHO_ERNE-HED_L2-1MIN": {writeHEDFile(t, dir)},
	}}

	fr, _, err := Load(context.Background(), "SOHO_ERNE-HED_L2-1MIN", "2021/04/16", "2021/04/17", &Options{
		Provider:     provider,
		PosTimestamp: "center",
	})
	require.NoError(t, err)
	require.Equal(t, 3, fr.Len())
	assert.True(t, fr.Index()[0].Equal(fixtureEpochs[0].Add(30*time.Second)),
		"archive stamps bin starts, center requested: shift by half the cadence")
}

func TestLoadSkipsUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "soho_erne-hed_l2-1min_20210415_v01.cdf")
	require.NoError(t, os.WriteFile(bad, []byte("not a cdf"), 0644))

	provider := &stubProvider{paths: map[string][]string{
		"SOHO_ERNE-HED_L2-1MIN": {bad, writeHEDFile(t, dir)},
	}}

	fr, _, err := Load(context.Background(), "SOHO_ERNE-HED_L2-1MIN", "2021/04/15", "2021/04/17", &Options{Provider: provider})
	require.NoError(t, err)
	assert.Equal(t, 3, fr.Len(), "unreadable file is skipped, readable one survives")
}

func TestLoadMultiHead(t *testing.T) {
	dir := t.TempDir()
	provider := &stubProvider{paths: map[string][]string{
		"SOHO_ERNE-HED_L2-1MIN": {writeHEDFile(t, dir)},
		"SOHO_ERNE-LED_L2-1MIN": {writeLEDFile(t, dir)},
	}}

	fr, meta, err := Load(context.Background(), "SOHO_ERNE_L2-1MIN", "2021/04/16", "2021/04/17", &Options{Provider: provider})
	require.NoError(t, err)
	require.Equal(t, 3, fr.Len(), "outer join over the union of head timestamps")

	cols := fr.Columns()
	assert.Contains(t, cols, "PL_0")
	assert.Contains(t, cols, "AL_0")
	assert.Contains(t, cols, "PH_0")
	assert.Contains(t, cols, "AH_0")

	// The LED head has no record at the third epoch.
	pl0, _ := fr.Column("PL_0")
	assert.Equal(t, 100.0, pl0[0])
	assert.True(t, math.IsNaN(pl0[2]))
	ph1, _ := fr.Column("PH_1")
	assert.Equal(t, 60.0, ph1[2])

	_, plain := meta.Channels["channels_dict_df_p"]
	assert.False(t, plain, "merged metadata must be head-qualified")
	led, ok := meta.Channels["channels_dict_df_p_LED"]
	require.True(t, ok)
	assert.Equal(t, "LED", led.Sensor)
	hed, ok := meta.Channels["channels_dict_df_p_HED"]
	require.True(t, ok)
	assert.Equal(t, "HED", hed.Sensor)
}

// =============================================================================
// EPHIN level-2 text dataset
// =============================================================================

func ephinLine(doy, msOfDay int, e150, status float64) string {
	vals := make([]string, 0, len(ephinLevel2Fields))
	for _, f := range ephinLevel2Fields {
		switch f {
		case "Year":
			vals = append(vals, "2021")
		case "DOY":
			vals = append(vals, strconv.Itoa(doy))
		case "MS":
			vals = append(vals, strconv.Itoa(msOfDay))
		case "E150":
			vals = append(vals, fmt.Sprintf("%g", e150))
		case "Status Flag":
			vals = append(vals, fmt.Sprintf("%.0f", status))
		default:
			vals = append(vals, "1.0")
		}
	}
	return strings.Join(vals, " ")
}

func writeEphinFile(t *testing.T, dir string) string {
	t.Helper()
	lines := []string{
		"COSTEP/EPHIN level 2 data",
		"University of Kiel",
		"year doy ms ...",
		ephinLine(106, 0, 1.25, 0),
		ephinLine(106, 60000, -9999.9, 0),
		ephinLine(106, 120000, 2.5, 5),
	}
	path := filepath.Join(dir, "ephin2021.rl2")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func TestLoadEphinText(t *testing.T) {
	dir := t.TempDir()
	provider := &stubProvider{paths: map[string][]string{
		"SOHO_COSTEP-EPHIN_L2": {writeEphinFile(t, dir)},
	}}

	fr, meta, err := Load(context.Background(), "SOHO_COSTEP-EPHIN_L2", "2021/04/16", "2021/04/17", &Options{Provider: provider})
	require.NoError(t, err)
	require.Equal(t, 3, fr.Len())

	assert.True(t, fr.Index()[0].Equal(fixtureEpochs[0]))
	assert.True(t, fr.Index()[1].Equal(fixtureEpochs[1]))

	// Bookkeeping columns dropped, science columns kept.
	assert.False(t, fr.HasColumn("Year"))
	assert.False(t, fr.HasColumn("S/C Epoch"))
	assert.False(t, fr.HasColumn("Spare 1"))
	assert.True(t, fr.HasColumn("E150"))
	assert.True(t, fr.HasColumn("P4 GM"))

	e150, _ := fr.Column("E150")
	assert.Equal(t, 1.25, e150[0])
	assert.True(t, math.IsNaN(e150[1]), "-9999.9 fill becomes NaN")
	assert.Equal(t, 2.5, e150[2])

	// Failure mode E appears in the period, so the combined channels carry
	// widened energy windows.
	assert.Equal(t, "2.64 - 10.4 MeV", meta.Labels["E1300"])
	assert.Equal(t, "25 - 53 MeV", meta.Labels["P25"])
	assert.Equal(t, "0.25 - 0.7 MeV", meta.Labels["E150"])
}
