package ml

import (
	"errors"
	"fmt"
)

// ScarcityLabel is the three-level water scarcity category.
type ScarcityLabel string

const (
	SevereScarcity   ScarcityLabel = "Severe Scarcity"
	ModerateScarcity ScarcityLabel = "Moderate Scarcity"
	NoScarcity       ScarcityLabel = "No Scarcity"
)

// Annual rainfall thresholds in millimetres. Intervals are half-open:
// [0, SevereBelow) severe, [SevereBelow, ModerateBelow) moderate, the rest none.
const (
	SevereBelow   = 1000.0
	ModerateBelow = 1150.0
)

// ClassOrder maps class indices to labels. Index order is the lexicographic
// order of the label strings and must never change once models are trained.
var ClassOrder = [3]ScarcityLabel{ModerateScarcity, NoScarcity, SevereScarcity}

// NumClasses is the number of scarcity classes.
const NumClasses = len(ClassOrder)

// ErrUnknownLabel is returned when a label or class index is outside ClassOrder.
var ErrUnknownLabel = errors.New("unknown scarcity label")

// ClassifyAnnual derives the ground-truth label from annual rainfall.
func ClassifyAnnual(annual float64) ScarcityLabel {
	switch {
	case annual < SevereBelow:
		return SevereScarcity
	case annual < ModerateBelow:
		return ModerateScarcity
	default:
		return NoScarcity
	}
}

// EncodeLabel returns the class index of a label.
func EncodeLabel(label ScarcityLabel) (int, error) {
	for i, l := range ClassOrder {
		if l == label {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrUnknownLabel, string(label))
}

// DecodeLabel returns the label for a class index.
func DecodeLabel(index int) (ScarcityLabel, error) {
	if index < 0 || index >= NumClasses {
		return "", fmt.Errorf("%w: class index %d", ErrUnknownLabel, index)
	}
	return ClassOrder[index], nil
}

// ClassNames returns the label strings in class index order.
func ClassNames() []string {
	names := make([]string, NumClasses)
	for i, l := range ClassOrder {
		names[i] = string(l)
	}
	return names
}

func (l ScarcityLabel) String() string {
	return string(l)
}
