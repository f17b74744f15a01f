package soho

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/pgzip"

	"github.com/heliolab/sohodata/timeseries"
)

// maxErrorsToLog throttles per-line parse error logging.
const maxErrorsToLog = 10

var yearRe = regexp.MustCompile(`(19|20)\d\d`)

// yearFromPath extracts the calendar year embedded in a source file name.
func yearFromPath(path string) (int, error) {
	m := yearRe.FindString(filepath.Base(path))
	if m == "" {
		return 0, fmt.Errorf("no year in file name %q", filepath.Base(path))
	}
	return strconv.Atoi(m)
}

// parseTextFile reads one fixed-layout delimited text file covering the
// given calendar year. The first layout.HeaderLines lines are discarded;
// every following line is whitespace-split into layout.Fields. Timestamps
// are derived from the year, day-of-year and milliseconds-of-day fields,
// exact to one millisecond. Declared fill sentinels become NaN per field.
// Files with a ".gz" suffix are decompressed on the fly.
func parseTextFile(path string, year int, layout *TextLayout) (*timeseries.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReaderN(f, 256*1024, runtime.NumCPU())
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", filepath.Base(path), err)
		}
		defer gz.Close()
		reader = gz
	}

	yearIdx := fieldIndex(layout.Fields, layout.YearField)
	doyIdx := fieldIndex(layout.Fields, layout.DOYField)
	msIdx := fieldIndex(layout.Fields, layout.MSField)
	if doyIdx < 0 || msIdx < 0 {
		return nil, fmt.Errorf("layout lacks day-of-year or time-of-day field")
	}

	var (
		index      []time.Time
		cols       = make([][]float64, len(layout.Fields))
		errorCount int
		lineNo     int
	)

	sc := bufio.NewScanner(reader)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lineNo++
		if lineNo <= layout.HeaderLines {
			continue
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < len(layout.Fields) {
			errorCount++
			if errorCount <= maxErrorsToLog {
				log.Printf("%s:%d: %d fields, want %d", filepath.Base(path), lineNo, len(fields), len(layout.Fields))
			}
			continue
		}

		rowYear := year
		if yearIdx >= 0 {
			if y, err := strconv.Atoi(fields[yearIdx]); err == nil {
				rowYear = y
			}
		}
		doy, err := strconv.Atoi(fields[doyIdx])
		if err != nil || doy < 1 || doy > 366 {
			errorCount++
			if errorCount <= maxErrorsToLog {
				log.Printf("%s:%d: bad day-of-year %q", filepath.Base(path), lineNo, fields[doyIdx])
			}
			continue
		}
		ms, err := strconv.ParseFloat(fields[msIdx], 64)
		if err != nil {
			errorCount++
			if errorCount <= maxErrorsToLog {
				log.Printf("%s:%d: bad time-of-day %q", filepath.Base(path), lineNo, fields[msIdx])
			}
			continue
		}

		ts := time.Date(rowYear, 1, 1, 0, 0, 0, 0, time.UTC).
			AddDate(0, 0, doy-1).
			Add(time.Duration(math.Round(ms)) * time.Millisecond)
		index = append(index, ts)

		for i, name := range layout.Fields {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				v = math.NaN()
			} else if fill, ok := layout.Fills[name]; ok && v == fill {
				v = math.NaN()
			}
			cols[i] = append(cols[i], v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if errorCount > maxErrorsToLog {
		log.Printf("%s: ... and %d more parse errors (suppressed)", filepath.Base(path), errorCount-maxErrorsToLog)
	}

	colMap := make(map[string][]float64, len(layout.Fields))
	for i, name := range layout.Fields {
		colMap[name] = cols[i]
	}
	return timeseries.FromColumns(index, layout.Fields, colMap)
}

func fieldIndex(fields []string, name string) int {
	if name == "" {
		return -1
	}
	for i, f := range fields {
		if f == name {
			return i
		}
	}
	return -1
}
