package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"rainguard/ml"
)

// ErrMalformedDataset is returned when the rainfall CSV cannot be parsed.
var ErrMalformedDataset = errors.New("malformed rainfall dataset")

// RequiredColumns lists the CSV headers a rainfall dataset must carry.
// Other columns (for example Oct-Dec) are ignored.
func RequiredColumns() []string {
	cols := []string{ml.RegionColumn, ml.YearColumn}
	cols = append(cols, ml.MonthColumns[:]...)
	cols = append(cols, ml.AnnualColumn)
	cols = append(cols, ml.SeasonColumns[:]...)
	return cols
}

// LoadRainfallFile reads every record of the CSV at path.
func LoadRainfallFile(path string) ([]ml.RainfallRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadRainfallCSV(f)
}

// ReadRainfallCSV parses a rainfall table. Columns are located by header
// name; a UTF-8 or UTF-16 byte order mark is honoured. Any missing column or
// unparsable cell fails the whole read.
func ReadRainfallCSV(r io.Reader) ([]ml.RainfallRecord, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file", ErrMalformedDataset)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrMalformedDataset, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	var missing []string
	for _, col := range RequiredColumns() {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", ErrMalformedDataset, strings.Join(missing, ", "))
	}

	var records []ml.RainfallRecord
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedDataset, line, err)
		}
		rec, err := parseRow(row, index)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedDataset, line, err)
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no data rows", ErrMalformedDataset)
	}
	return records, nil
}

func parseRow(row []string, index map[string]int) (ml.RainfallRecord, error) {
	rec := ml.RainfallRecord{Region: strings.TrimSpace(row[index[ml.RegionColumn]])}

	yearCell := strings.TrimSpace(row[index[ml.YearColumn]])
	year, err := strconv.Atoi(yearCell)
	if err != nil {
		return rec, fmt.Errorf("column %s: invalid year %q", ml.YearColumn, yearCell)
	}
	rec.Year = year

	number := func(col string) (float64, error) {
		cell := strings.TrimSpace(row[index[col]])
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return 0, fmt.Errorf("column %s: invalid number %q", col, cell)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("column %s: non-finite value %q", col, cell)
		}
		return v, nil
	}
	for i, col := range ml.MonthColumns {
		if rec.Months[i], err = number(col); err != nil {
			return rec, err
		}
	}
	if rec.JanFeb, err = number(ml.JanFebColumn); err != nil {
		return rec, err
	}
	if rec.MarMay, err = number(ml.MarMayColumn); err != nil {
		return rec, err
	}
	if rec.JunSep, err = number(ml.JunSepColumn); err != nil {
		return rec, err
	}
	if rec.Annual, err = number(ml.AnnualColumn); err != nil {
		return rec, err
	}
	return rec, nil
}

// RecordStore persists rainfall records.
type RecordStore interface {
	SaveRecords(ctx context.Context, records []ml.RainfallRecord) error
	CountRecords(ctx context.Context) (int, error)
}

// IngestionConfig controls how records are written to a RecordStore.
type IngestionConfig struct {
	BatchSize  int
	MaxRetries int
	RetryDelay time.Duration
}

// IngestionStats summarises the ingester's work so far.
type IngestionStats struct {
	TotalRecords     int64     `json:"total_records"`
	FailedRecords    int64     `json:"failed_records"`
	BatchesProcessed int64     `json:"batches_processed"`
	QualityIssues    int64     `json:"quality_issues"`
	LastIngestion    time.Time `json:"last_ingestion"`
}

// DataIngester loads rainfall CSVs, runs them through the cleaner and writes
// them to the store in batches.
type DataIngester struct {
	config  IngestionConfig
	store   RecordStore
	cleaner *DataCleaner
	logger  *zap.Logger
	clock   clockwork.Clock

	statsLock sync.RWMutex
	stats     IngestionStats
}

func NewDataIngester(config IngestionConfig, store RecordStore, cleaner *DataCleaner, logger *zap.Logger, clock clockwork.Clock) *DataIngester {
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &DataIngester{
		config:  config,
		store:   store,
		cleaner: cleaner,
		logger:  logger,
		clock:   clock,
	}
}

// ImportIfEmpty ingests path only when the store holds no records yet. It
// returns the number of records written.
func (di *DataIngester) ImportIfEmpty(ctx context.Context, path string) (int, error) {
	n, err := di.store.CountRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	if n > 0 {
		di.logger.Debug("rainfall records already imported", zap.Int("records", n))
		return 0, nil
	}
	return di.IngestFile(ctx, path)
}

// IngestFile reads, inspects and stores every record in path.
func (di *DataIngester) IngestFile(ctx context.Context, path string) (int, error) {
	records, err := LoadRainfallFile(path)
	if err != nil {
		return 0, err
	}
	if err := di.Ingest(ctx, records); err != nil {
		return 0, err
	}
	di.logger.Info("rainfall dataset imported", zap.String("path", path), zap.Int("records", len(records)))
	return len(records), nil
}

// Ingest inspects records with the cleaner, if any, and saves them in
// batches. A batch that still fails after MaxRetries aborts the run.
func (di *DataIngester) Ingest(ctx context.Context, records []ml.RainfallRecord) error {
	if di.cleaner != nil {
		report := di.cleaner.Inspect(records)
		di.addIssues(len(report.Issues))
		if len(report.Issues) > 0 {
			di.logger.Warn("rainfall data quality issues",
				zap.Int("issues", len(report.Issues)),
				zap.Any("by_rule", report.ByRule),
			)
		}
	}

	for start := 0; start < len(records); start += di.config.BatchSize {
		end := min(start+di.config.BatchSize, len(records))
		if err := di.saveBatch(ctx, records[start:end]); err != nil {
			return err
		}
	}

	di.statsLock.Lock()
	di.stats.LastIngestion = di.clock.Now()
	di.statsLock.Unlock()
	return nil
}

func (di *DataIngester) saveBatch(ctx context.Context, batch []ml.RainfallRecord) error {
	var err error
	for attempt := 1; attempt <= di.config.MaxRetries; attempt++ {
		if err = di.store.SaveRecords(ctx, batch); err == nil {
			di.statsLock.Lock()
			di.stats.TotalRecords += int64(len(batch))
			di.stats.BatchesProcessed++
			di.statsLock.Unlock()
			return nil
		}
		if attempt == di.config.MaxRetries {
			break
		}
		di.logger.Warn("save batch failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-di.clock.After(time.Duration(attempt) * di.config.RetryDelay):
		}
	}

	di.statsLock.Lock()
	di.stats.FailedRecords += int64(len(batch))
	di.statsLock.Unlock()
	return fmt.Errorf("save batch of %d records: %w", len(batch), err)
}

func (di *DataIngester) addIssues(n int) {
	di.statsLock.Lock()
	di.stats.QualityIssues += int64(n)
	di.statsLock.Unlock()
}

// Stats returns a snapshot of the ingestion counters.
func (di *DataIngester) Stats() IngestionStats {
	di.statsLock.RLock()
	defer di.statsLock.RUnlock()
	return di.stats
}
