package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rainguard/ml"
)

func consistentRecord(region string, year int) ml.RainfallRecord {
	rec := ml.RainfallRecord{Region: region, Year: year}
	for i := range rec.Months {
		rec.Months[i] = 100
	}
	rec.JanFeb, rec.MarMay, rec.JunSep, rec.Annual = 200, 300, 400, 1200
	return rec
}

func TestDataCleanerCleanRecords(t *testing.T) {
	cleaner := NewDataCleaner(nil)
	records := []ml.RainfallRecord{consistentRecord("A", 1901), consistentRecord("A", 1902)}

	report := cleaner.Inspect(records)
	assert.Equal(t, 2, report.Total)
	assert.Zero(t, report.Flagged)
	assert.Empty(t, report.Issues)
}

func TestDataCleanerRules(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*ml.RainfallRecord)
		rule     string
		severity string
	}{
		{"negative month", func(r *ml.RainfallRecord) { r.Months[2] = -5; r.Annual -= 105; r.MarMay -= 105 }, "negative_value", SeverityHigh},
		{"annual mismatch", func(r *ml.RainfallRecord) { r.Annual = 1500 }, "annual_sum", SeverityMedium},
		{"season mismatch", func(r *ml.RainfallRecord) { r.JunSep = 100 }, "seasonal_sum", SeverityMedium},
		{"empty region", func(r *ml.RainfallRecord) { r.Region = "" }, "completeness", SeverityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := consistentRecord("A", 1901)
			tt.mutate(&rec)

			report := NewDataCleaner(nil).Inspect([]ml.RainfallRecord{rec})
			require.Len(t, report.Issues, 1)
			issue := report.Issues[0]
			assert.Equal(t, tt.rule, issue.Rule)
			assert.Equal(t, tt.severity, issue.Severity)
			assert.Equal(t, 1, issue.Row)
			assert.Equal(t, 1, report.ByRule[tt.rule])
		})
	}
}

func TestAnnualSumRuleTolerance(t *testing.T) {
	rule := NewAnnualSumRule(1.0)
	rec := consistentRecord("A", 1901)
	rec.Annual = 1200.8
	assert.NoError(t, rule.Check(rec))
	rec.Annual = 1201.5
	assert.Error(t, rule.Check(rec))
}

func TestDuplicateDetectionResetsPerBatch(t *testing.T) {
	cleaner := NewDataCleaner(nil)
	rec := consistentRecord("A", 1901)

	report := cleaner.Inspect([]ml.RainfallRecord{rec, rec})
	require.Len(t, report.Issues, 1)
	assert.Equal(t, "duplicate", report.Issues[0].Rule)
	assert.Equal(t, 2, report.Issues[0].Row)

	report = cleaner.Inspect([]ml.RainfallRecord{rec})
	assert.Empty(t, report.Issues)

	stats := cleaner.GetStats()
	assert.Equal(t, int64(3), stats.TotalProcessed)
	assert.Equal(t, int64(1), stats.Flagged)
	assert.Equal(t, int64(1), stats.Issues["duplicate"])
}

func TestDataCleanerIssueHistory(t *testing.T) {
	cleaner := NewDataCleaner(nil)
	bad := consistentRecord("A", 1901)
	bad.Annual = 10
	cleaner.Inspect([]ml.RainfallRecord{bad, bad, bad})

	all := cleaner.GetIssues(0)
	assert.Len(t, all, 5) // three annual mismatches, two duplicates
	assert.Len(t, cleaner.GetIssues(2), 2)

	cleaner.ClearIssues()
	assert.Empty(t, cleaner.GetIssues(0))
}
