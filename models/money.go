package models

import (
	"fmt"
	"math"
)

// MicroUSD is a monetary amount in millionths of a US dollar.
// All budget limits and costs are tracked as integers internally so that
// repeated reservations and refunds never accumulate floating-point drift.
type MicroUSD int64

// MicroUSDFromUSD converts a dollar amount to MicroUSD, rounding to the
// nearest micro-dollar.
func MicroUSDFromUSD(v float64) MicroUSD {
	return MicroUSD(math.Round(v * 1e6))
}

// USD returns the amount as a float dollar value for display and JSON.
func (m MicroUSD) USD() float64 {
	return float64(m) / 1e6
}

// String formats the amount as a dollar string.
func (m MicroUSD) String() string {
	return fmt.Sprintf("$%.6f", m.USD())
}

// PerThousandTokens computes the cost of tokenCount tokens at a rate
// expressed in MicroUSD per 1K tokens, rounding half up.
func PerThousandTokens(tokenCount int, rate MicroUSD) MicroUSD {
	if tokenCount <= 0 || rate <= 0 {
		return 0
	}
	return MicroUSD((int64(tokenCount)*int64(rate) + 500) / 1000)
}
