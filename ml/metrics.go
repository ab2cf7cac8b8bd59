package ml

import (
	"errors"
	"fmt"
	"strings"
)

// ClassMetrics holds precision, recall and F1 for one class.
type ClassMetrics struct {
	Label     ScarcityLabel `json:"label"`
	Precision float64       `json:"precision"`
	Recall    float64       `json:"recall"`
	F1        float64       `json:"f1"`
	Support   int           `json:"support"`
}

// Report is the evaluation of a model on held-out rows.
type Report struct {
	Accuracy    float64                     `json:"accuracy"`
	Classes     []ClassMetrics              `json:"classes"`
	MacroAvg    ClassMetrics                `json:"macro_avg"`
	WeightedAvg ClassMetrics                `json:"weighted_avg"`
	Confusion   [NumClasses][NumClasses]int `json:"confusion"`
	Total       int                         `json:"total"`
}

// Evaluate compares true and predicted class indices. Confusion rows are
// true classes and columns predicted classes. Undefined ratios are 0.
func Evaluate(yTrue, yPred []int) (*Report, error) {
	if len(yTrue) == 0 {
		return nil, errors.New("no samples to evaluate")
	}
	if len(yTrue) != len(yPred) {
		return nil, errors.New("true and predicted size mismatch")
	}

	report := &Report{Total: len(yTrue)}
	correct := 0
	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		if t < 0 || t >= NumClasses || p < 0 || p >= NumClasses {
			return nil, ErrUnknownLabel
		}
		report.Confusion[t][p]++
		if t == p {
			correct++
		}
	}
	report.Accuracy = float64(correct) / float64(len(yTrue))

	report.Classes = make([]ClassMetrics, NumClasses)
	for c := 0; c < NumClasses; c++ {
		tp := report.Confusion[c][c]
		predicted, actual := 0, 0
		for k := 0; k < NumClasses; k++ {
			predicted += report.Confusion[k][c]
			actual += report.Confusion[c][k]
		}
		m := ClassMetrics{Label: ClassOrder[c], Support: actual}
		m.Precision = ratio(tp, predicted)
		m.Recall = ratio(tp, actual)
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		report.Classes[c] = m
	}

	report.MacroAvg = ClassMetrics{Label: "macro avg", Support: report.Total}
	report.WeightedAvg = ClassMetrics{Label: "weighted avg", Support: report.Total}
	for _, m := range report.Classes {
		report.MacroAvg.Precision += m.Precision / float64(NumClasses)
		report.MacroAvg.Recall += m.Recall / float64(NumClasses)
		report.MacroAvg.F1 += m.F1 / float64(NumClasses)

		share := float64(m.Support) / float64(report.Total)
		report.WeightedAvg.Precision += m.Precision * share
		report.WeightedAvg.Recall += m.Recall * share
		report.WeightedAvg.F1 += m.F1 * share
	}
	return report, nil
}

// String renders the report as a classification table followed by the
// confusion matrix.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Model Accuracy: %.4f\n\n", r.Accuracy)
	fmt.Fprintf(&b, "%20s %10s %10s %10s %10s\n", "", "precision", "recall", "f1-score", "support")
	for _, m := range r.Classes {
		writeMetricsRow(&b, m)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%20s %10s %10s %10.2f %10d\n", "accuracy", "", "", r.Accuracy, r.Total)
	writeMetricsRow(&b, r.MacroAvg)
	writeMetricsRow(&b, r.WeightedAvg)

	b.WriteString("\nConfusion Matrix:\n")
	for _, row := range r.Confusion {
		b.WriteString(" [")
		for i, v := range row {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%4d", v)
		}
		b.WriteString("]\n")
	}
	return b.String()
}

func writeMetricsRow(b *strings.Builder, m ClassMetrics) {
	fmt.Fprintf(b, "%20s %10.2f %10.2f %10.2f %10d\n", m.Label, m.Precision, m.Recall, m.F1, m.Support)
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
