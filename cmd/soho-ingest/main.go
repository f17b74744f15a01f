// soho-ingest - SOHO charged-particle observations ingestion into ClickHouse
//
// Loads a dataset over a date range, flattens the observation table into
// long-format rows (timestamp, dataset, channel, flux) and inserts them
// into ClickHouse. Two insert paths are available:
//   - native: ch-go columnar protocol (default, fastest)
//   - sql:    clickhouse-go batch API
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/soho-ingest ./cmd/soho-ingest

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/proto"
	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/heliolab/sohodata/internal/common"
	"github.com/heliolab/sohodata/soho"
	"github.com/heliolab/sohodata/timeseries"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

const flushThreshold = 500_000

const createTableDDL = `
CREATE TABLE IF NOT EXISTS %s (
    timestamp DateTime64(9, 'UTC'),
    dataset   LowCardinality(String),
    channel   LowCardinality(String),
    flux      Float64,
    valid     UInt8
) ENGINE = MergeTree()
ORDER BY (dataset, channel, timestamp)`

// ObservationBatch holds column data for native insert
type ObservationBatch struct {
	Timestamp *proto.ColDateTime64
	Dataset   *proto.ColStr
	Channel   *proto.ColStr
	Flux      *proto.ColFloat64
	Valid     *proto.ColUInt8
}

func NewObservationBatch() *ObservationBatch {
	ts := new(proto.ColDateTime64)
	ts.WithPrecision(proto.PrecisionNano)
	return &ObservationBatch{
		Timestamp: ts,
		Dataset:   new(proto.ColStr),
		Channel:   new(proto.ColStr),
		Flux:      new(proto.ColFloat64),
		Valid:     new(proto.ColUInt8),
	}
}

func (b *ObservationBatch) Reset() {
	b.Timestamp.Reset()
	b.Dataset.Reset()
	b.Channel.Reset()
	b.Flux.Reset()
	b.Valid.Reset()
}

func (b *ObservationBatch) Len() int {
	return b.Timestamp.Rows()
}

func (b *ObservationBatch) Input() proto.Input {
	return proto.Input{
		{Name: "timestamp", Data: b.Timestamp},
		{Name: "dataset", Data: b.Dataset},
		{Name: "channel", Data: b.Channel},
		{Name: "flux", Data: b.Flux},
		{Name: "valid", Data: b.Valid},
	}
}

func (b *ObservationBatch) AddRecord(ts time.Time, dataset, channel string, flux float64) {
	valid := uint8(1)
	if math.IsNaN(flux) {
		flux = 0
		valid = 0
	}
	b.Timestamp.Append(ts)
	b.Dataset.Append(dataset)
	b.Channel.Append(channel)
	b.Flux.Append(flux)
	b.Valid.Append(valid)
}

// ingestNative streams the frame through the ch-go columnar protocol.
func ingestNative(ctx context.Context, cfg *common.Config, tableFQN, dataset string, frame *timeseries.Frame) (int, error) {
	conn, err := ch.Dial(ctx, ch.Options{
		Address:     cfg.ClickHouseAddr(),
		Database:    cfg.ClickHouseDatabase,
		User:        cfg.ClickHouseUser,
		Password:    cfg.ClickHousePassword,
		Compression: ch.CompressionLZ4,
	})
	if err != nil {
		return 0, fmt.Errorf("clickhouse connection failed: %w", err)
	}
	defer conn.Close()

	if err := conn.Do(ctx, ch.Query{Body: fmt.Sprintf(createTableDDL, tableFQN)}); err != nil {
		return 0, fmt.Errorf("create table: %w", err)
	}

	batch := NewObservationBatch()
	total := 0

	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		query := fmt.Sprintf("INSERT INTO %s (timestamp, dataset, channel, flux, valid) VALUES", tableFQN)
		if err := conn.Do(ctx, ch.Query{Body: query, Input: batch.Input()}); err != nil {
			return err
		}
		total += batch.Len()
		batch.Reset()
		return nil
	}

	index := frame.Index()
	for _, name := range frame.Columns() {
		vals, _ := frame.Column(name)
		for i, t := range index {
			batch.AddRecord(t, dataset, name, vals[i])
			if batch.Len() >= flushThreshold {
				if err := flush(); err != nil {
					return total, err
				}
			}
		}
	}
	return total, flush()
}

// ingestSQL inserts through the clickhouse-go batch API.
func ingestSQL(ctx context.Context, cfg *common.Config, tableFQN, dataset string, frame *timeseries.Frame) (int, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.ClickHouseAddr()},
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 300,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("clickhouse connection failed: %w", err)
	}
	defer conn.Close()

	if err := conn.Ping(ctx); err != nil {
		return 0, fmt.Errorf("clickhouse ping failed: %w", err)
	}

	if err := conn.Exec(ctx, fmt.Sprintf(createTableDDL, tableFQN)); err != nil {
		return 0, fmt.Errorf("create table: %w", err)
	}

	batch, err := conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", tableFQN))
	if err != nil {
		return 0, fmt.Errorf("prepare batch: %w", err)
	}

	index := frame.Index()
	total := 0
	for _, name := range frame.Columns() {
		vals, _ := frame.Column(name)
		for i, t := range index {
			flux := vals[i]
			valid := uint8(1)
			if math.IsNaN(flux) {
				flux = 0
				valid = 0
			}
			if err := batch.Append(t, dataset, name, flux, valid); err != nil {
				return total, fmt.Errorf("append: %w", err)
			}
			total++
		}
	}
	if err := batch.Send(); err != nil {
		return total, fmt.Errorf("send: %w", err)
	}
	return total, nil
}

func main() {
	cfg := common.DefaultConfig()

	dataset := flag.String("dataset", "SOHO_ERNE-HED_L2-1MIN", "Dataset identifier")
	start := flag.String("start", "", "Start date (YYYY/MM/DD), inclusive")
	end := flag.String("end", "", "End date (YYYY/MM/DD), exclusive")
	dataDir := flag.String("data", cfg.DataDir, "Local directory for downloaded files")
	resample := flag.String("resample", "", "Resample frequency before insert, e.g. 1min")
	workers := flag.Int("workers", cfg.MaxConn, "Parallel download connections")
	driver := flag.String("driver", "native", "Insert driver: native (ch-go) or sql (clickhouse-go)")
	configFile := flag.String("config", "", "Optional YAML config file")
	chTable := flag.String("ch-table", "observations", "ClickHouse table")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "soho-ingest v%s - SOHO Observations ClickHouse Ingester\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Connection settings come from CLICKHOUSE_* environment variables\n")
		fmt.Fprintf(os.Stderr, "or a YAML file given with -config.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *start == "" || *end == "" {
		fmt.Fprintf(os.Stderr, "Error: -start and -end are required\n")
		os.Exit(1)
	}
	if *driver != "native" && *driver != "sql" {
		fmt.Fprintf(os.Stderr, "Error: -driver must be native or sql\n")
		os.Exit(1)
	}

	if *configFile != "" {
		loaded, err := common.LoadFile(*configFile)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
		cfg = loaded
	}

	log.Println("=========================================================")
	log.Printf("SOHO Ingest v%s", Version)
	log.Println("=========================================================")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("\nShutdown requested...")
		cancel()
	}()

	frame, _, err := soho.Load(ctx, *dataset, *start, *end, &soho.Options{
		Path:     *dataDir,
		Resample: *resample,
		MaxConn:  *workers,
	})
	if err != nil {
		log.Fatalf("load failed: %v", err)
	}
	if frame.Len() == 0 {
		log.Printf("no data available for %s %s - %s, nothing to ingest", *dataset, *start, *end)
		return
	}

	tableFQN := fmt.Sprintf("%s.%s", cfg.ClickHouseDatabase, *chTable)
	log.Printf("Table:  %s", tableFQN)
	log.Printf("Driver: %s", *driver)

	startTime := time.Now()
	var total int
	switch *driver {
	case "native":
		total, err = ingestNative(ctx, cfg, tableFQN, *dataset, frame)
	case "sql":
		total, err = ingestSQL(ctx, cfg, tableFQN, *dataset, frame)
	}
	if err != nil {
		log.Fatalf("Insert error: %v", err)
	}

	elapsed := time.Since(startTime)

	log.Println()
	log.Println("=========================================================")
	log.Println("Final Statistics")
	log.Println("=========================================================")
	log.Printf("Total Records: %d", total)
	log.Printf("Elapsed:       %v", elapsed.Round(time.Millisecond))
	log.Printf("Rate:          %.0f records/sec", float64(total)/elapsed.Seconds())
	log.Println("=========================================================")
}
