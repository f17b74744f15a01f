// soho-parquet - Export normalized SOHO observations to Parquet
//
// Loads a dataset over a date range, flattens the observation table into
// long-format rows (timestamp, dataset, channel, flux) and writes a single
// Parquet file suitable for ClickHouse file() ingestion or offline analysis.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/soho-parquet ./cmd/soho-parquet

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/heliolab/sohodata/internal/common"
	"github.com/heliolab/sohodata/soho"
	"github.com/heliolab/sohodata/timeseries"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

const writeBatch = 100_000

// Observation is one measurement in long format, matching the Parquet schema.
type Observation struct {
	Timestamp int64   `parquet:"timestamp"` // Unix nanoseconds UTC
	Dataset   string  `parquet:"dataset"`
	Channel   string  `parquet:"channel"`
	Flux      float64 `parquet:"flux"`
	Valid     bool    `parquet:"valid"` // false where the instrument reported a fill value
}

func main() {
	cfg := common.DefaultConfig()

	dataset := flag.String("dataset", "SOHO_ERNE-HED_L2-1MIN", "Dataset identifier")
	start := flag.String("start", "", "Start date (YYYY/MM/DD), inclusive")
	end := flag.String("end", "", "End date (YYYY/MM/DD), exclusive")
	dataDir := flag.String("data", cfg.DataDir, "Local directory for downloaded files")
	out := flag.String("out", "", "Output Parquet file (default <dataset>_<start>_<end>.parquet)")
	resample := flag.String("resample", "", "Resample frequency before export, e.g. 1min")
	workers := flag.Int("workers", cfg.MaxConn, "Parallel download connections")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "soho-parquet v%s - SOHO Observations Parquet Exporter\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *start == "" || *end == "" {
		fmt.Fprintf(os.Stderr, "Error: -start and -end are required\n")
		os.Exit(1)
	}

	frame, _, err := soho.Load(context.Background(), *dataset, *start, *end, &soho.Options{
		Path:     *dataDir,
		Resample: *resample,
		MaxConn:  *workers,
	})
	if err != nil {
		log.Fatalf("load failed: %v", err)
	}
	if frame.Len() == 0 {
		log.Printf("no data available for %s %s - %s, nothing to export", *dataset, *start, *end)
		return
	}

	dest := *out
	if dest == "" {
		dest = fmt.Sprintf("%s_%s_%s.parquet", *dataset, dateToken(*start), dateToken(*end))
	}

	startTime := time.Now()
	rows, err := writeParquet(dest, *dataset, frame)
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}

	log.Printf("wrote %d rows (%d timestamps x %d channels) to %s in %v",
		rows, frame.Len(), len(frame.Columns()), dest, time.Since(startTime).Round(time.Millisecond))
}

func writeParquet(dest, dataset string, frame *timeseries.Frame) (int, error) {
	f, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	writer := parquet.NewGenericWriter[Observation](f)

	index := frame.Index()
	batch := make([]Observation, 0, writeBatch)
	total := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := writer.Write(batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, name := range frame.Columns() {
		vals, _ := frame.Column(name)
		for i, t := range index {
			obs := Observation{
				Timestamp: t.UnixNano(),
				Dataset:   dataset,
				Channel:   name,
				Flux:      vals[i],
				Valid:     !math.IsNaN(vals[i]),
			}
			if !obs.Valid {
				obs.Flux = 0
			}
			batch = append(batch, obs)
			if len(batch) == writeBatch {
				if err := flush(); err != nil {
					return total, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}
	if err := writer.Close(); err != nil {
		return total, err
	}
	return total, nil
}

// dateToken compacts a date argument into a file-name-safe token.
func dateToken(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
