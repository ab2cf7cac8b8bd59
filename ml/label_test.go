package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyAnnual(t *testing.T) {
	tests := []struct {
		annual float64
		want   ScarcityLabel
	}{
		{0, SevereScarcity},
		{999.99, SevereScarcity},
		{1000, ModerateScarcity},
		{1100, ModerateScarcity},
		{1149.99, ModerateScarcity},
		{1150, NoScarcity},
		{1200, NoScarcity},
		{4000, NoScarcity},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyAnnual(tt.annual), "annual=%v", tt.annual)
	}
}

func TestClassOrderIsLexicographic(t *testing.T) {
	assert.Equal(t, []string{"Moderate Scarcity", "No Scarcity", "Severe Scarcity"}, ClassNames())
}

func TestLabelRoundTrip(t *testing.T) {
	for i, label := range ClassOrder {
		idx, err := EncodeLabel(label)
		require.NoError(t, err)
		assert.Equal(t, i, idx)

		decoded, err := DecodeLabel(idx)
		require.NoError(t, err)
		assert.Equal(t, label, decoded)
	}
}

func TestDecodeLabelOutOfRange(t *testing.T) {
	_, err := DecodeLabel(3)
	assert.ErrorIs(t, err, ErrUnknownLabel)
	_, err = DecodeLabel(-1)
	assert.ErrorIs(t, err, ErrUnknownLabel)
	_, err = EncodeLabel("Extreme Scarcity")
	assert.ErrorIs(t, err, ErrUnknownLabel)
}
