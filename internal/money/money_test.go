package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		pct    int64
		want   int64
	}{
		{"five percent of 500 dollars", 50000, 5, 2500},
		{"fifteen percent", 50000, 15, 7500},
		{"rounds half up", 150, 1, 2},
		{"rounds down below half", 149, 1, 1},
		{"zero amount", 0, 10, 0},
		{"zero percent", 1000, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Percent(tt.amount, tt.pct))
		})
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, int64(15), Clamp(20, 1, 15))
	assert.Equal(t, int64(1), Clamp(0, 1, 15))
	assert.Equal(t, int64(5), Clamp(5, 1, 15))
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 0.0, Ratio(3, 0))
	assert.Equal(t, 0.25, Ratio(1, 4))
	assert.Equal(t, 0.3333, Ratio(1, 3))
}
