package pipeline

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"rainguard/ml"
)

// Issue severities.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// CleaningRule checks a single record. A non-nil error is reported as a
// quality issue with the rule's severity.
type CleaningRule interface {
	Name() string
	Severity() string
	Check(rec ml.RainfallRecord) error
}

// QualityIssue is one finding on one record.
type QualityIssue struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Row      int    `json:"row"`
	Region   string `json:"region"`
	Year     int    `json:"year"`
}

// CleaningReport is the result of inspecting one batch of records.
type CleaningReport struct {
	Total   int            `json:"total"`
	Flagged int            `json:"flagged"`
	Issues  []QualityIssue `json:"issues"`
	ByRule  map[string]int `json:"by_rule"`
}

// CleaningStats accumulates over every Inspect call.
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Flagged        int64            `json:"flagged"`
	Issues         map[string]int64 `json:"issues"`
}

// DataCleaner runs quality rules over rainfall records. It only reports:
// records are never modified or dropped, so training sees the dataset as is.
type DataCleaner struct {
	rules  []CleaningRule
	logger *zap.Logger

	mu     sync.Mutex
	issues []QualityIssue
	stats  CleaningStats
}

// NewDataCleaner returns a cleaner with the default rule set.
func NewDataCleaner(logger *zap.Logger) *DataCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaner := &DataCleaner{
		logger: logger,
		stats:  CleaningStats{Issues: make(map[string]int64)},
	}
	cleaner.AddRule(NewCompletenessRule())
	cleaner.AddRule(NewNegativeValueRule())
	cleaner.AddRule(NewAnnualSumRule(1.0))
	cleaner.AddRule(NewSeasonalSumRule(1.0))
	cleaner.AddRule(NewDuplicateDetectionRule())
	return cleaner
}

func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	dc.logger.Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

type resetter interface {
	Reset()
}

// Inspect applies every rule to every record. Row numbers are 1-based data
// rows, matching the CSV line minus the header.
func (dc *DataCleaner) Inspect(records []ml.RainfallRecord) CleaningReport {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	for _, rule := range dc.rules {
		if r, ok := rule.(resetter); ok {
			r.Reset()
		}
	}

	report := CleaningReport{Total: len(records), ByRule: make(map[string]int)}
	for i, rec := range records {
		flagged := false
		for _, rule := range dc.rules {
			if err := rule.Check(rec); err != nil {
				report.Issues = append(report.Issues, QualityIssue{
					Rule:     rule.Name(),
					Severity: rule.Severity(),
					Message:  err.Error(),
					Row:      i + 1,
					Region:   rec.Region,
					Year:     rec.Year,
				})
				report.ByRule[rule.Name()]++
				dc.stats.Issues[rule.Name()]++
				flagged = true
			}
		}
		if flagged {
			report.Flagged++
		}
	}

	dc.stats.TotalProcessed += int64(len(records))
	dc.stats.Flagged += int64(report.Flagged)
	dc.issues = append(dc.issues, report.Issues...)
	return report
}

// GetStats returns a copy of the accumulated counters.
func (dc *DataCleaner) GetStats() CleaningStats {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// GetIssues returns the most recent issues, all of them when limit <= 0.
func (dc *DataCleaner) GetIssues(limit int) []QualityIssue {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if limit <= 0 || limit > len(dc.issues) {
		limit = len(dc.issues)
	}
	issues := make([]QualityIssue, limit)
	copy(issues, dc.issues[len(dc.issues)-limit:])
	return issues
}

func (dc *DataCleaner) ClearIssues() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.issues = nil
}

// ============ rules ============

// CompletenessRule flags records without a region or with a non-positive year.
type CompletenessRule struct{}

func NewCompletenessRule() *CompletenessRule { return &CompletenessRule{} }

func (r *CompletenessRule) Name() string     { return "completeness" }
func (r *CompletenessRule) Severity() string { return SeverityLow }

func (r *CompletenessRule) Check(rec ml.RainfallRecord) error {
	if rec.Region == "" {
		return fmt.Errorf("region is empty")
	}
	if rec.Year <= 0 {
		return fmt.Errorf("year %d is invalid", rec.Year)
	}
	return nil
}

// NegativeValueRule flags any negative rainfall amount.
type NegativeValueRule struct{}

func NewNegativeValueRule() *NegativeValueRule { return &NegativeValueRule{} }

func (r *NegativeValueRule) Name() string     { return "negative_value" }
func (r *NegativeValueRule) Severity() string { return SeverityHigh }

func (r *NegativeValueRule) Check(rec ml.RainfallRecord) error {
	for _, name := range ml.RequestFields() {
		v, _ := rec.Value(name)
		if v < 0 {
			return fmt.Errorf("%s is negative (%.1f)", name, v)
		}
	}
	return nil
}

// AnnualSumRule flags records whose ANNUAL differs from the sum of the
// monthly values by more than Tolerance millimetres.
type AnnualSumRule struct {
	Tolerance float64
}

func NewAnnualSumRule(tolerance float64) *AnnualSumRule {
	return &AnnualSumRule{Tolerance: tolerance}
}

func (r *AnnualSumRule) Name() string     { return "annual_sum" }
func (r *AnnualSumRule) Severity() string { return SeverityMedium }

func (r *AnnualSumRule) Check(rec ml.RainfallRecord) error {
	total := rec.MonthlyTotal()
	if math.Abs(total-rec.Annual) > r.Tolerance {
		return fmt.Errorf("ANNUAL %.1f differs from monthly total %.1f", rec.Annual, total)
	}
	return nil
}

// SeasonalSumRule flags seasonal aggregates that disagree with their months.
type SeasonalSumRule struct {
	Tolerance float64
}

func NewSeasonalSumRule(tolerance float64) *SeasonalSumRule {
	return &SeasonalSumRule{Tolerance: tolerance}
}

func (r *SeasonalSumRule) Name() string     { return "seasonal_sum" }
func (r *SeasonalSumRule) Severity() string { return SeverityMedium }

func (r *SeasonalSumRule) Check(rec ml.RainfallRecord) error {
	req := rec.Request()
	seasons := []struct {
		column string
		months []string
	}{
		{ml.JanFebColumn, []string{"JAN", "FEB"}},
		{ml.MarMayColumn, []string{"MAR", "APR", "MAY"}},
		{ml.JunSepColumn, []string{"JUN", "JUL", "AUG", "SEP"}},
	}
	for _, s := range seasons {
		total := ml.SumMonths(req, s.months...)
		if math.Abs(total-req[s.column]) > r.Tolerance {
			return fmt.Errorf("%s %.1f differs from monthly total %.1f", s.column, req[s.column], total)
		}
	}
	return nil
}

// DuplicateDetectionRule flags a region-year seen earlier in the same batch.
type DuplicateDetectionRule struct {
	seen map[string]struct{}
}

func NewDuplicateDetectionRule() *DuplicateDetectionRule {
	return &DuplicateDetectionRule{seen: make(map[string]struct{})}
}

func (r *DuplicateDetectionRule) Name() string     { return "duplicate" }
func (r *DuplicateDetectionRule) Severity() string { return SeverityHigh }

func (r *DuplicateDetectionRule) Reset() {
	r.seen = make(map[string]struct{})
}

func (r *DuplicateDetectionRule) Check(rec ml.RainfallRecord) error {
	key := fmt.Sprintf("%s_%d", rec.Region, rec.Year)
	if _, exists := r.seen[key]; exists {
		return fmt.Errorf("duplicate record for %s %d", rec.Region, rec.Year)
	}
	r.seen[key] = struct{}{}
	return nil
}
