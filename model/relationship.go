package model

import (
	"time"

	"github.com/google/uuid"
)

// Relationship predicates inferred from entity type pairs
const (
	PredicateWorksOn     = "WORKS_ON"
	PredicateExpertiseIn = "EXPERTISE_IN"
	PredicateUses        = "USES"
	PredicateRelatedTo   = "RELATED_TO"
)

// Relationship is a directed, confidence weighted association between
// two entities. The same entity pair may carry multiple relationships
// as long as predicates differ.
type Relationship struct {
	ID               uuid.UUID `json:"id"`
	SourceEntityID   uuid.UUID `json:"source_entity_id"`
	TargetEntityID   uuid.UUID `json:"target_entity_id"`
	Predicate        string    `json:"predicate"`
	Confidence       float64   `json:"confidence"`
	SupportingChunks []string  `json:"supporting_chunks,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// InferPredicate picks the relationship predicate for a pair of
// entities based on their types, ordering the pair so that the higher
// priority type is the subject. Returns the subject, object and
// predicate.
func InferPredicate(a *Entity, b *Entity) (*Entity, *Entity, string) {
	source, target := a, b
	if entityTypePriority(b.Type) < entityTypePriority(a.Type) {
		source, target = b, a
	}

	switch {
	case source.Type == EntityTypePerson && target.Type == EntityTypeProject:
		return source, target, PredicateWorksOn
	case source.Type == EntityTypePerson && target.Type == EntityTypeTerm:
		return source, target, PredicateExpertiseIn
	case source.Type == EntityTypeProject && target.Type == EntityTypeTerm:
		return source, target, PredicateUses
	default:
		return source, target, PredicateRelatedTo
	}
}
