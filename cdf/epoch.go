package cdf

import (
	"math"
	"time"
)

// Milliseconds from 0000-01-01T00:00 (CDF_EPOCH zero) to 1970-01-01T00:00
// in the proleptic Gregorian calendar: 719528 days.
const epochUnixOffsetMs = 719528 * 86400 * 1000

// epochToTime converts a CDF_EPOCH value (fractional milliseconds since
// year 0) to UTC. Sub-millisecond fractions are preserved.
func epochToTime(ms float64) time.Time {
	if math.IsNaN(ms) || ms == -1e31 || ms == 0 {
		return time.Time{}
	}
	u := ms - epochUnixOffsetMs
	sec := math.Floor(u / 1000)
	ns := math.Round((u - sec*1000) * 1e6)
	return time.Unix(int64(sec), int64(ns)).UTC()
}

// epoch16ToTime converts a CDF_EPOCH16 pair (seconds since year 0,
// picoseconds within the second) to UTC, truncated to nanoseconds.
func epoch16ToTime(sec, ps float64) time.Time {
	if sec == -1e31 || sec == 0 {
		return time.Time{}
	}
	u := sec - epochUnixOffsetMs/1000
	return time.Unix(int64(u), int64(ps/1000)).UTC()
}

// Unix nanoseconds of 2000-01-01T12:00:00 TT expressed in UTC
// (11:58:55.816 UTC: TT led UTC by 64.184 s, with 32 leap seconds in force).
const j2000UnixNs = 946727935_816000000

// leapSeconds lists TAI-UTC (effective date as Unix seconds, offset),
// newest first, from the 1972 baseline through 2017-01-01.
var leapSeconds = []struct {
	unix int64
	tai  int64
}{
	{1483228800, 37}, // 2017-01-01
	{1435708800, 36}, // 2015-07-01
	{1341100800, 35}, // 2012-07-01
	{1230768000, 34}, // 2009-01-01
	{1136073600, 33}, // 2006-01-01
	{915148800, 32},  // 1999-01-01
	{867715200, 31},  // 1997-07-01
	{820454400, 30},  // 1996-01-01
	{773020800, 29},  // 1994-07-01
	{741484800, 28},  // 1993-07-01
	{709948800, 27},  // 1992-07-01
	{662688000, 26},  // 1991-01-01
	{631152000, 25},  // 1990-01-01
	{567993600, 24},  // 1988-01-01
	{489024000, 23},  // 1985-07-01
	{425865600, 22},  // 1983-07-01
	{394329600, 21},  // 1982-07-01
	{362793600, 20},  // 1981-07-01
	{315532800, 19},  // 1980-01-01
	{283996800, 18},  // 1979-01-01
	{252460800, 17},  // 1978-01-01
	{220924800, 16},  // 1977-01-01
	{189302400, 15},  // 1976-01-01
	{157766400, 14},  // 1975-01-01
	{126230400, 13},  // 1974-01-01
	{94694400, 12},   // 1973-01-01
	{78796800, 11},   // 1972-07-01
	{63072000, 10},   // 1972-01-01
}

func taiUTCOffset(unixSec int64) int64 {
	for _, ls := range leapSeconds {
		if unixSec >= ls.unix {
			return ls.tai
		}
	}
	return 10
}

// tt2000ToTime converts a CDF_TIME_TT2000 value (nanoseconds since J2000 on
// the Terrestrial Time scale) to UTC. Resolution is exact to the nanosecond;
// times falling inside a positive leap second collapse onto its start.
func tt2000ToTime(ns int64) time.Time {
	if ns == math.MinInt64 {
		return time.Time{}
	}
	const nsPerSec = int64(1_000_000_000)
	approx := ns/nsPerSec + j2000UnixNs/nsPerSec
	leap := taiUTCOffset(approx)
	unixNs := ns + j2000UnixNs - (leap-32)*nsPerSec
	return time.Unix(unixNs/nsPerSec, unixNs%nsPerSec).UTC()
}
