package ml

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// syntheticRecords returns rows whose annual totals step from 400 to 2000mm
// in 10mm increments with an even monthly split.
func syntheticRecords() []RainfallRecord {
	var records []RainfallRecord
	year := 1901
	for annual := 400.0; annual <= 2000; annual += 10 {
		records = append(records, evenRecord(fmt.Sprintf("REGION-%d", year%3), year, annual))
		year++
	}
	return records
}

func evenRecord(region string, year int, annual float64) RainfallRecord {
	avg := annual / 12
	rec := RainfallRecord{Region: region, Year: year, Annual: annual}
	for i := range rec.Months {
		rec.Months[i] = avg
	}
	rec.JanFeb = avg * 2
	rec.MarMay = avg * 3
	rec.JunSep = avg * 4
	return rec
}

func fastTrainerConfig() TrainerConfig {
	cfg := DefaultTrainerConfig()
	cfg.NEstimators = 15
	return cfg
}

var (
	sharedOnce   sync.Once
	sharedResult *TrainingResult
	sharedErr    error
)

// trainedResult trains one small forest per test binary.
func trainedResult(t *testing.T) *TrainingResult {
	t.Helper()
	sharedOnce.Do(func() {
		trainer := NewTrainer(fastTrainerConfig(), nil, clockwork.NewFakeClock())
		sharedResult, sharedErr = trainer.Train(context.Background(), syntheticRecords())
	})
	require.NoError(t, sharedErr)
	return sharedResult
}
