package model

// ScoringStatus tracks a message through the scoring state machine
type ScoringStatus string

const (
	StatusPending   ScoringStatus = "pending"
	StatusRetrieved ScoringStatus = "retrieved"
	StatusScored    ScoringStatus = "scored"
	StatusFailed    ScoringStatus = "failed"
)

// Reason is a single explainable contributor to a priority score
type Reason struct {
	Signal        string   `json:"signal"`
	Contribution  float64  `json:"contribution"`
	Explanation   string   `json:"explanation"`
	SupportingIDs []string `json:"supporting_ids,omitempty"`
}

// PriorityResult is the scored outcome for a single message. It is
// produced fresh per query and never persisted by the engine.
type PriorityResult struct {
	MessageID       string        `json:"message_id"`
	Score           float64       `json:"score"`
	Status          ScoringStatus `json:"status"`
	Reasons         []Reason      `json:"reasons"`
	MatchedEntities []*Entity     `json:"matched_entities,omitempty"`
	MatchedChunks   []string      `json:"matched_chunks,omitempty"`
}

// RetrievalResult represents a chunk retrieved by a query together
// with the entities whose mention sets include it
type RetrievalResult struct {
	Chunk      *Chunk    `json:"chunk"`
	Similarity float64   `json:"similarity"`
	Entities   []*Entity `json:"entities,omitempty"`
}
