package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMicroUSDFromUSD(t *testing.T) {
	assert.Equal(t, MicroUSD(1_000_000), MicroUSDFromUSD(1.0))
	assert.Equal(t, MicroUSD(10_000_000), MicroUSDFromUSD(10.0))
	assert.Equal(t, MicroUSD(150), MicroUSDFromUSD(0.00015))
	assert.Equal(t, MicroUSD(0), MicroUSDFromUSD(0))
}

func TestMicroUSDRoundTrip(t *testing.T) {
	assert.InDelta(t, 2.5, MicroUSDFromUSD(2.5).USD(), 1e-9)
	assert.InDelta(t, 0.0006, MicroUSDFromUSD(0.0006).USD(), 1e-9)
}

func TestMicroUSDString(t *testing.T) {
	assert.Equal(t, "$1.500000", MicroUSD(1_500_000).String())
}

func TestPerThousandTokens(t *testing.T) {
	tests := []struct {
		name   string
		tokens int
		rate   MicroUSD
		want   MicroUSD
	}{
		{"exact thousand", 1000, 2000, 2000},
		{"half thousand", 500, 2000, 1000},
		{"rounds half up", 1, 1500, 2},  // 1.5 -> 2
		{"rounds down", 1, 1400, 1},     // 1.4 -> 1
		{"zero tokens", 0, 2000, 0},
		{"negative tokens", -5, 2000, 0},
		{"zero rate", 1000, 0, 0},
		{"large counts stay exact", 1_000_000, 600, 600_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PerThousandTokens(tt.tokens, tt.rate))
		})
	}
}

// Repeated add/subtract of the same amounts must return to zero exactly.
// This is the property the integer representation exists for.
func TestMicroUSDNoDrift(t *testing.T) {
	var total MicroUSD
	amount := MicroUSDFromUSD(0.0001)
	for i := 0; i < 10000; i++ {
		total += amount
	}
	for i := 0; i < 10000; i++ {
		total -= amount
	}
	assert.Equal(t, MicroUSD(0), total)
}
