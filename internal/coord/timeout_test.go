// ABOUTME: Tests for millisecond timeout conversion
// ABOUTME: Covers saturation, fractional values and non-positive inputs

package coord

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMillisToDuration(t *testing.T) {
	tests := []struct {
		name string
		ms   float64
		want time.Duration
	}{
		{"zero", 0, 0},
		{"negative", -5, 0},
		{"nan", math.NaN(), 0},
		{"whole", 1500, 1500 * time.Millisecond},
		{"fraction", 0.5, 500 * time.Microsecond},
		{"huge", 1e13, time.Duration(math.MaxInt64)},
		{"inf", math.Inf(1), time.Duration(math.MaxInt64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MillisToDuration(tt.ms))
		})
	}
}
