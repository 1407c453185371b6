package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenerationRequest is one inbound AI-generation call after validation.
// It is created per call and never persisted beyond the cache entry it may
// produce.
type GenerationRequest struct {
	Prompt            string
	UserID            string
	FamilyID          string // optional tenant identifier
	MaxTokens         int
	Temperature       float64
	PreferredProvider string // optional explicit provider preference
	ArrivedAt         time.Time
	Fingerprint       string
}

// ComputeFingerprint derives the deterministic cache/dedup key from the
// semantically relevant request fields. Identical (prompt, parameters, user)
// tuples always produce the same fingerprint.
func ComputeFingerprint(prompt, userID string, maxTokens int, temperature float64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%.4f", prompt, userID, maxTokens, temperature)
	return hex.EncodeToString(h.Sum(nil))
}

// GenerationResult is the provider-agnostic output of a completed generation.
type GenerationResult struct {
	Text         string
	ProviderID   string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
}
