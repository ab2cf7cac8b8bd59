package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rainguard/config"
	"rainguard/db"
	"rainguard/ml"
)

const trainCSV = `REGION,YEAR,JAN,FEB,MAR,APR,MAY,JUN,JUL,AUG,SEP,OCT,NOV,DEC,ANNUAL,Jan-Feb,Mar-May,Jun-Sep
KERALA,1901,100,100,100,100,100,100,100,100,100,100,100,100,1200,200,300,400
`

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Dataset.Path = filepath.Join(dir, "rainfall.csv")
	cfg.Database.Path = filepath.Join(dir, "rainguard.db")
	require.NoError(t, os.WriteFile(cfg.Dataset.Path, []byte(trainCSV), 0o644))
	return cfg
}

func TestLoadRecordsFromCSV(t *testing.T) {
	cfg := testConfig(t)

	records, source, err := loadRecords(context.Background(), cfg, false)
	require.NoError(t, err)
	assert.Equal(t, cfg.Dataset.Path, source)
	require.Len(t, records, 1)
	assert.Equal(t, "KERALA", records[0].Region)
}

func TestLoadRecordsFromDatabase(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	_, _, err := loadRecords(ctx, cfg, true)
	assert.ErrorContains(t, err, "import the dataset first")

	store, err := db.Open(cfg.Database.Path)
	require.NoError(t, err)
	rec := ml.RainfallRecord{Region: "PUNJAB", Year: 2001, Annual: 550}
	require.NoError(t, store.SaveRecords(ctx, []ml.RainfallRecord{rec}))
	require.NoError(t, store.Close())

	records, source, err := loadRecords(ctx, cfg, true)
	require.NoError(t, err)
	assert.Equal(t, cfg.Database.Path, source)
	require.Len(t, records, 1)
	assert.Equal(t, 550.0, records[0].Annual)
}
