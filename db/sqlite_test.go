package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rainguard/ml"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "data", "rainguard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func record(region string, year int, annual float64) ml.RainfallRecord {
	r := ml.RainfallRecord{Region: region, Year: year, Annual: annual}
	for i := range r.Months {
		r.Months[i] = annual / 12
	}
	r.JanFeb, r.MarMay, r.JunSep = annual/6, annual/4, annual/3
	return r
}

func TestStoreRecords(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	n, err := store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	records := []ml.RainfallRecord{
		record("KERALA", 1999, 3000),
		record("KERALA", 2000, 2800),
		record("PUNJAB", 2000, 600),
		record("PUNJAB", 2001, 500),
	}
	require.NoError(t, store.SaveRecords(ctx, records))
	// upsert on region and year
	require.NoError(t, store.SaveRecords(ctx, []ml.RainfallRecord{record("PUNJAB", 2001, 550)}))

	n, err = store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	loaded, err := store.LoadRecords(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 4)
	assert.Equal(t, records[0], loaded[0])
	assert.Equal(t, 550.0, loaded[3].Annual)

	regions, err := store.Regions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"KERALA", "PUNJAB"}, regions)
}

func TestStoreAnnualSeries(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRecords(ctx, []ml.RainfallRecord{
		record("KERALA", 1999, 3000),
		record("KERALA", 2000, 2800),
		record("PUNJAB", 2000, 600),
		record("PUNJAB", 2001, 500),
	}))

	all, err := store.AnnualSeries(ctx, "", 2000)
	require.NoError(t, err)
	assert.Equal(t, []AnnualPoint{{Year: 2000, Annual: 1700}, {Year: 2001, Annual: 500}}, all)

	kerala, err := store.AnnualSeries(ctx, "KERALA", 0)
	require.NoError(t, err)
	assert.Equal(t, []AnnualPoint{{Year: 1999, Annual: 3000}, {Year: 2000, Annual: 2800}}, kerala)

	none, err := store.AnnualSeries(ctx, "GOA", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}

func TestStorePredictions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, label := range []string{"Severe Scarcity", "No Scarcity", "Moderate Scarcity"} {
		require.NoError(t, store.SavePrediction(ctx, PredictionRecord{
			ID:         string(rune('a' + i)),
			Mode:       "quick",
			Label:      label,
			ClassIndex: i,
			Confidence: 0.8,
			Annual:     float64(900 + 100*i),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.SavePrediction(ctx, PredictionRecord{
		ID: "d", Mode: "features", Label: "Severe Scarcity", ClassIndex: 2,
		Missing: []string{"NOV", "DEC"}, CreatedAt: base.Add(time.Hour),
	}))

	recent, err := store.RecentPredictions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "d", recent[0].ID)
	assert.Equal(t, []string{"NOV", "DEC"}, recent[0].Missing)
	assert.True(t, recent[0].CreatedAt.Equal(base.Add(time.Hour)))
	assert.Equal(t, "c", recent[1].ID)
	assert.Nil(t, recent[1].Missing)

	assert.Error(t, store.SavePrediction(ctx, PredictionRecord{Mode: "quick"}))
}

func TestStoreTrainingLog(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	trainedAt := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveTrainingLog(ctx, TrainingLog{
		ModelType: "random_forest", Accuracy: 0.91, MacroF1: 0.88,
		TrainRows: 3000, TestRows: 750, ArtifactPath: "models/water_scarcity_model.zst",
		TrainedAt: trainedAt,
	}))
	require.NoError(t, store.SaveTrainingLog(ctx, TrainingLog{
		ModelType: "random_forest", Accuracy: 0.93, TrainedAt: trainedAt.Add(24 * time.Hour),
	}))

	logs, err := store.LoadTrainingLog(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, 0.93, logs[0].Accuracy)
	assert.Equal(t, 3000, logs[1].TrainRows)
	assert.True(t, logs[1].TrainedAt.Equal(trainedAt))
}

func TestStoreClosed(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Close())

	_, err := store.CountRecords(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.Ping(context.Background()), ErrClosed)
	assert.NoError(t, store.Close())
}
