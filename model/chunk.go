package model

import (
	"time"

	"github.com/siherrmann/mailrank/helper"
)

// Chunk represents a unit of retrievable knowledge distilled from an
// organizational document. ChunkID is the upsert key: re-ingesting the
// same id replaces the stored chunk entirely.
type Chunk struct {
	ChunkID      string    `json:"chunk_id"`
	DocumentPath string    `json:"document_path"`
	EventID      string    `json:"event_id"`
	ProcessedAt  time.Time `json:"processed_at"`
	Text         string    `json:"text"`
	Embedding    []float32 `json:"embedding,omitempty"`
	Metadata     Metadata  `json:"metadata,omitempty"`
	Questions    []string  `json:"questions,omitempty"`
	Answers      []string  `json:"answers,omitempty"`
	Category     string    `json:"category,omitempty"`
	Keywords     []string  `json:"keywords,omitempty"`
	// Results
	Similarity float64 `json:"similarity,omitempty"`
}

// ChunkFilters restricts a similarity search before ranking, so top-k
// always returns the best matches among the filtered set.
type ChunkFilters struct {
	Category string     `json:"category,omitempty"`
	Keyword  string     `json:"keyword,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
	Until    *time.Time `json:"until,omitempty"`
}

// Validate checks the chunk against the configured embedding
// dimensionality before it is written to the store.
func (c *Chunk) Validate(embeddingDim int) error {
	if c.ChunkID == "" {
		return helper.NewValidationError("validate chunk", "chunk_id is required")
	}
	if c.Text == "" {
		return helper.NewValidationError("validate chunk", "text is required")
	}
	if len(c.Embedding) == 0 {
		return helper.NewValidationError("validate chunk", "embedding is required")
	}
	if embeddingDim > 0 && len(c.Embedding) != embeddingDim {
		return helper.NewValidationError("validate chunk", "embedding dimensionality mismatch")
	}
	return nil
}
