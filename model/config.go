package model

import (
	"math"
	"time"

	"github.com/siherrmann/mailrank/helper"
)

// SignalWeights controls how the independent scoring signals are
// combined. Weights must sum to 1.
type SignalWeights struct {
	ContextRelevance float64 `json:"context_relevance"`
	EntityOverlap    float64 `json:"entity_overlap"`
	Urgency          float64 `json:"urgency"`
	Recency          float64 `json:"recency"`
}

// Sum returns the total of all weights
func (w SignalWeights) Sum() float64 {
	return w.ContextRelevance + w.EntityOverlap + w.Urgency + w.Recency
}

// ScoringConfig is the configuration surface of the prioritization
// scorer. Defaults are documented and overridable, the exact weighting
// is not an algorithmic constant.
type ScoringConfig struct {
	Weights SignalWeights `json:"weights"`

	// Retrieval
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`

	// Urgency markers. Each present marker contributes a fixed
	// increment, capped at 1.0.
	UrgencyKeywords  []string `json:"urgency_keywords"`
	SeniorSenders    []string `json:"senior_senders"`
	UrgencyIncrement float64  `json:"urgency_increment"`
	ActiveThreadSize int      `json:"active_thread_size"`

	// Entity overlap saturation: corroboration by more than
	// MentionCap distinct chunks does not grow the signal further.
	MentionCap int `json:"mention_cap"`

	// Reasons below this contribution are not reported
	MinReportedContribution float64 `json:"min_reported_contribution"`

	// Timeout per blocking collaborator call (similarity search,
	// entity lookup, embedding generation)
	SignalTimeout time.Duration `json:"signal_timeout"`

	RetryAttempts uint64 `json:"retry_attempts"`
}

// DefaultSignalTimeout bounds a single collaborator call during
// scoring when no timeout is configured.
const DefaultSignalTimeout = 5 * time.Second

// DefaultScoringConfig returns the documented default configuration:
// an even weight split, the original urgency keyword set and a small
// retrieval context.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights: SignalWeights{
			ContextRelevance: 0.25,
			EntityOverlap:    0.25,
			Urgency:          0.25,
			Recency:          0.25,
		},
		TopK:                    5,
		SimilarityThreshold:     0.0,
		UrgencyKeywords:         []string{"urgent", "asap", "immediately", "critical", "important", "deadline"},
		UrgencyIncrement:        0.25,
		ActiveThreadSize:        3,
		MentionCap:              5,
		MinReportedContribution: 0.01,
		SignalTimeout:           DefaultSignalTimeout,
		RetryAttempts:           helper.DefaultRetryAttempts,
	}
}

// Validate checks that the weights form a convex combination and
// fills in defaults for unset operational limits. A zero signal
// timeout would expire every collaborator call immediately, so it
// falls back to DefaultSignalTimeout instead.
func (c *ScoringConfig) Validate() error {
	if math.Abs(c.Weights.Sum()-1.0) > 1e-6 {
		return helper.NewValidationError("validate scoring config", "signal weights must sum to 1")
	}
	if c.TopK <= 0 {
		return helper.NewValidationError("validate scoring config", "top_k must be positive")
	}
	if c.SignalTimeout <= 0 {
		c.SignalTimeout = DefaultSignalTimeout
	}
	return nil
}

// RankRequest is the filter set accepted by the query facade
type RankRequest struct {
	Window      time.Duration `json:"window"`
	Folder      string        `json:"folder"`
	Top         int           `json:"top"`
	MinPriority float64       `json:"min_priority"`
	Search      string        `json:"search,omitempty"`
}

// RankResponse is the ordered outcome of a ranking query. Individual
// message failures never fail the request, they are counted instead.
type RankResponse struct {
	Results        []*PriorityResult `json:"results"`
	Count          int               `json:"count"`
	Failed         int               `json:"failed"`
	FailedMessages []string          `json:"failed_messages,omitempty"`
	ProcessingTime time.Duration     `json:"processing_time"`
}
