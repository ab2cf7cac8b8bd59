package ml

import "sort"

// Alignment is a request reindexed onto a model's feature order.
type Alignment struct {
	Vector  []float64
	Missing []string
	Ignored []string
}

// Align reorders req to match featureNames. Features absent from req are
// filled with zero and listed in Missing; fields the model does not use are
// listed in Ignored.
func Align(req PredictionRequest, featureNames []string) Alignment {
	a := Alignment{Vector: make([]float64, len(featureNames))}
	used := make(map[string]struct{}, len(featureNames))
	for i, name := range featureNames {
		used[name] = struct{}{}
		v, ok := req[name]
		if !ok {
			a.Missing = append(a.Missing, name)
			continue
		}
		a.Vector[i] = v
	}
	for name := range req {
		if _, ok := used[name]; !ok {
			a.Ignored = append(a.Ignored, name)
		}
	}
	sort.Strings(a.Ignored)
	return a
}

// MissingMonths lists the monthly fields absent from req, in calendar order.
func MissingMonths(req PredictionRequest) []string {
	var missing []string
	for _, m := range MonthColumns {
		if _, ok := req[m]; !ok {
			missing = append(missing, m)
		}
	}
	return missing
}
