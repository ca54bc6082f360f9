package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entity types recognized by the extractor
const (
	EntityTypePerson  = "PERSON"
	EntityTypeProject = "PROJECT"
	EntityTypeTerm    = "TERM"
)

// Entity represents a named, typed concept (person, project, technical
// term) recognized across one or more chunks. Entities are deduplicated
// by (type, normalized name); repeated extraction merges mention sets.
type Entity struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"entity_type"`
	Relevance float64   `json:"relevance"`
	Mentions  []string  `json:"mentions,omitempty"` // supporting chunk ids
	Contexts  []string  `json:"contexts,omitempty"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeEntityName case-folds and whitespace-collapses a surface
// form so that repeated mentions of the same entity group together.
func NormalizeEntityName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// EntityID derives the stable identity of an entity from its
// normalized name and type. The same surface form always maps to the
// same id, which is what makes re-extraction idempotent.
func EntityID(name string, entityType string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(fmt.Sprintf("%v-%v", NormalizeEntityName(name), entityType)))
}

// entityTypePriority orders types when inferring relationship
// direction: PERSON before PROJECT before TERM.
func entityTypePriority(entityType string) int {
	switch entityType {
	case EntityTypePerson:
		return 0
	case EntityTypeProject:
		return 1
	case EntityTypeTerm:
		return 2
	default:
		return 99
	}
}
