// Package pricing holds the static per-provider cost table every budget
// computation consults. Rates are fixed at process start from configuration;
// hot reload is out of scope.
package pricing

import (
	"github.com/wanderplan/orchestrator/config"
	"github.com/wanderplan/orchestrator/models"
)

// Rate is the cost of one provider per 1K tokens, split by direction.
type Rate struct {
	InputPer1K  models.MicroUSD
	OutputPer1K models.MicroUSD
}

// Table maps provider ids to their published rates.
type Table struct {
	rates map[string]Rate
}

// NewTable builds the pricing table from the configured provider list.
func NewTable(providers []config.ProviderConfig) *Table {
	rates := make(map[string]Rate, len(providers))
	for _, p := range providers {
		rates[p.ID] = Rate{
			InputPer1K:  p.InputRate,
			OutputPer1K: p.OutputRate,
		}
	}
	return &Table{rates: rates}
}

// Rate returns the rate for a provider id.
func (t *Table) Rate(providerID string) (Rate, bool) {
	r, ok := t.rates[providerID]
	return r, ok
}

// ActualCost computes the exact cost of a completed call from real token
// counts: (input/1000 x input rate) + (output/1000 x output rate).
func ActualCost(inputTokens, outputTokens int, rate Rate) models.MicroUSD {
	return models.PerThousandTokens(inputTokens, rate.InputPer1K) +
		models.PerThousandTokens(outputTokens, rate.OutputPer1K)
}

// EstimateCost computes the worst-case cost of a request against one
// provider, assuming the full requested max tokens are generated.
func EstimateCost(promptTokens, maxTokens int, rate Rate) models.MicroUSD {
	return ActualCost(promptTokens, maxTokens, rate)
}

// WorstCase returns the highest estimated cost across the given candidate
// providers. Budget admission uses this so a request is checked once, up
// front, against the most expensive plausible candidate.
func (t *Table) WorstCase(promptTokens, maxTokens int, providerIDs []string) models.MicroUSD {
	var worst models.MicroUSD
	for _, id := range providerIDs {
		rate, ok := t.rates[id]
		if !ok {
			continue
		}
		if est := EstimateCost(promptTokens, maxTokens, rate); est > worst {
			worst = est
		}
	}
	return worst
}

// EstimatePromptTokens gives a rough prompt token count (~4 characters per
// token) for pre-call estimation. The real count comes back from the
// provider and is reconciled afterwards.
func EstimatePromptTokens(prompt string) int {
	return len(prompt) / 4
}
