package ml

import (
	"fmt"
	"math"
)

// Column names shared by the dataset reader, the trainer and every serving path.
const (
	RegionColumn = "REGION"
	YearColumn   = "YEAR"

	JanFebColumn = "Jan-Feb"
	MarMayColumn = "Mar-May"
	JunSepColumn = "Jun-Sep"
	AnnualColumn = "ANNUAL"
)

// MonthColumns lists the monthly rainfall columns in calendar order.
var MonthColumns = [12]string{
	"JAN", "FEB", "MAR", "APR", "MAY", "JUN",
	"JUL", "AUG", "SEP", "OCT", "NOV", "DEC",
}

// SeasonColumns lists the seasonal aggregate columns.
var SeasonColumns = [3]string{JanFebColumn, MarMayColumn, JunSepColumn}

// RainfallRecord is one (region, year) row of the historical rainfall table.
// Annual is expected to equal the sum of Months but that is not enforced.
type RainfallRecord struct {
	Region string      `json:"region"`
	Year   int         `json:"year"`
	Months [12]float64 `json:"months"`
	JanFeb float64     `json:"jan_feb"`
	MarMay float64     `json:"mar_may"`
	JunSep float64     `json:"jun_sep"`
	Annual float64     `json:"annual"`
}

// TrainingFeatures returns the ordered feature columns a model is trained on:
// the twelve months followed by the three seasonal aggregates, and ANNUAL last
// when includeAnnual is set.
func TrainingFeatures(includeAnnual bool) []string {
	names := make([]string, 0, len(MonthColumns)+len(SeasonColumns)+1)
	names = append(names, MonthColumns[:]...)
	names = append(names, SeasonColumns[:]...)
	if includeAnnual {
		names = append(names, AnnualColumn)
	}
	return names
}

// RequestFields returns the 16 fields a prediction request may carry.
func RequestFields() []string {
	return TrainingFeatures(true)
}

// Value returns the record's value for a named column.
func (r RainfallRecord) Value(name string) (float64, bool) {
	for i, m := range MonthColumns {
		if m == name {
			return r.Months[i], true
		}
	}
	switch name {
	case JanFebColumn:
		return r.JanFeb, true
	case MarMayColumn:
		return r.MarMay, true
	case JunSepColumn:
		return r.JunSep, true
	case AnnualColumn:
		return r.Annual, true
	}
	return 0, false
}

// FeatureVector projects the record onto the given feature order.
func (r RainfallRecord) FeatureVector(features []string) ([]float64, error) {
	vector := make([]float64, len(features))
	for i, name := range features {
		v, ok := r.Value(name)
		if !ok {
			return nil, fmt.Errorf("unknown feature %q", name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%s %d: feature %s is not a finite number", r.Region, r.Year, name)
		}
		vector[i] = v
	}
	return vector, nil
}

// Request converts the record into a prediction request carrying all 16 fields.
func (r RainfallRecord) Request() PredictionRequest {
	req := make(PredictionRequest, len(MonthColumns)+len(SeasonColumns)+1)
	for _, name := range RequestFields() {
		v, _ := r.Value(name)
		req[name] = v
	}
	return req
}
