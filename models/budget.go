package models

import "time"

// BudgetStatus is the point-in-time spend snapshot exposed to the web layer.
type BudgetStatus struct {
	UserID     string  `json:"user_id"`
	DailySpent float64 `json:"daily_spent_usd"`
	DailyLimit float64 `json:"daily_limit_usd"`
	UserSpent  float64 `json:"user_spent_usd"`
	UserLimit  float64 `json:"user_limit_usd"`
}

// ProviderAggregate is the per-provider slice of a usage rollup.
type ProviderAggregate struct {
	ProviderID   string  `json:"provider_id"`
	Requests     int     `json:"requests"`
	Failures     int     `json:"failures"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalCost    float64 `json:"total_cost_usd"`
}

// UsageAggregate is the rollup returned by the usage analytics endpoint.
type UsageAggregate struct {
	WindowStart   time.Time           `json:"window_start"`
	WindowEnd     time.Time           `json:"window_end"`
	TotalRequests int                 `json:"total_requests"`
	Served        int                 `json:"served"`
	CacheHits     int                 `json:"cache_hits"`
	Degraded      int                 `json:"degraded"`
	Denied        int                 `json:"denied"`
	InputTokens   int64               `json:"input_tokens"`
	OutputTokens  int64               `json:"output_tokens"`
	TotalCost     float64             `json:"total_cost_usd"`
	ByProvider    []ProviderAggregate `json:"by_provider"`
}
