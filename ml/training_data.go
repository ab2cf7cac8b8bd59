package ml

import (
	"errors"
	"fmt"
	"math"
)

// GenerateLabels applies ClassifyAnnual to every record and encodes the result.
func GenerateLabels(records []RainfallRecord) ([]int, error) {
	if len(records) == 0 {
		return nil, errors.New("records is empty")
	}
	labels := make([]int, len(records))
	for i, rec := range records {
		if math.IsNaN(rec.Annual) || math.IsInf(rec.Annual, 0) {
			return nil, fmt.Errorf("row %d: non-finite %s value %v", i, AnnualColumn, rec.Annual)
		}
		idx, err := EncodeLabel(ClassifyAnnual(rec.Annual))
		if err != nil {
			return nil, err
		}
		labels[i] = idx
	}
	return labels, nil
}

// BuildTrainingSet projects records onto the feature order and labels them.
func BuildTrainingSet(records []RainfallRecord, featureNames []string) (features [][]float64, labels []int, err error) {
	if len(featureNames) == 0 {
		return nil, nil, errors.New("feature list is empty")
	}
	labels, err = GenerateLabels(records)
	if err != nil {
		return nil, nil, err
	}

	features = make([][]float64, len(records))
	for i, rec := range records {
		vector, err := rec.FeatureVector(featureNames)
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: %w", i, err)
		}
		features[i] = vector
	}
	return features, labels, nil
}

// ClassCounts counts labels per class index.
func ClassCounts(labels []int) [NumClasses]int {
	var counts [NumClasses]int
	for _, l := range labels {
		if l >= 0 && l < NumClasses {
			counts[l]++
		}
	}
	return counts
}
