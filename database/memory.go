package database

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/mailrank/helper"
	"github.com/siherrmann/mailrank/model"
)

// MemoryStore is an in-memory implementation of ChunkStore, EntityStore
// and RelationshipStore. It mirrors the merge semantics of the Postgres
// handlers and is intended for tests and small embedded setups where
// running a database is not worth the overhead.
type MemoryStore struct {
	mu            sync.RWMutex
	embeddingDim  int
	chunks        map[string]*model.Chunk
	entities      map[uuid.UUID]*model.Entity
	relationships map[uuid.UUID]*model.Relationship
}

// NewMemoryStore creates a new in-memory store for the given embedding
// dimension.
func NewMemoryStore(embeddingDim int) *MemoryStore {
	return &MemoryStore{
		embeddingDim:  embeddingDim,
		chunks:        map[string]*model.Chunk{},
		entities:      map[uuid.UUID]*model.Entity{},
		relationships: map[uuid.UUID]*model.Relationship{},
	}
}

// EmbeddingDim returns the embedding dimension the store was created with.
func (s *MemoryStore) EmbeddingDim() int {
	return s.embeddingDim
}

// UpsertChunk inserts or fully replaces a chunk by chunk id.
func (s *MemoryStore) UpsertChunk(ctx context.Context, chunk *model.Chunk) error {
	err := chunk.Validate(s.embeddingDim)
	if err != nil {
		return helper.NewError("validate chunk", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *chunk
	stored.Embedding = append([]float32(nil), chunk.Embedding...)
	s.chunks[chunk.ChunkID] = &stored

	return nil
}

// SelectChunk retrieves a chunk by chunk id.
func (s *MemoryStore) SelectChunk(ctx context.Context, chunkID string) (*model.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunk, ok := s.chunks[chunkID]
	if !ok {
		return nil, helper.NewError("select chunk", fmt.Errorf("chunk %v: %w", chunkID, helper.ErrNotFound))
	}

	copied := *chunk
	return &copied, nil
}

// SelectChunksByDocument retrieves all chunks of a document ordered by
// chunk id.
func (s *MemoryStore) SelectChunksByDocument(ctx context.Context, documentPath string) ([]*model.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chunks []*model.Chunk
	for _, chunk := range s.chunks {
		if chunk.DocumentPath == documentPath {
			copied := *chunk
			chunks = append(chunks, &copied)
		}
	}

	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].ChunkID < chunks[j].ChunkID
	})

	return chunks, nil
}

// SelectChunksBySimilarity retrieves up to limit chunks by cosine
// similarity against the query embedding. Filters are applied before
// ranking. Ties are broken by processed_at descending, then chunk id
// ascending.
func (s *MemoryStore) SelectChunksBySimilarity(ctx context.Context, embedding []float32, limit int, threshold float64, filters *model.ChunkFilters) ([]*model.Chunk, error) {
	if len(embedding) != s.embeddingDim {
		return nil, helper.NewValidationError("select chunks by similarity", fmt.Sprintf("embedding dimension %v does not match store dimension %v", len(embedding), s.embeddingDim))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var chunks []*model.Chunk
	for _, chunk := range s.chunks {
		if !matchesFilters(chunk, filters) {
			continue
		}
		similarity := cosineSimilarity(embedding, chunk.Embedding)
		if similarity < threshold {
			continue
		}
		copied := *chunk
		copied.Similarity = similarity
		chunks = append(chunks, &copied)
	}

	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Similarity != chunks[j].Similarity {
			return chunks[i].Similarity > chunks[j].Similarity
		}
		if !chunks[i].ProcessedAt.Equal(chunks[j].ProcessedAt) {
			return chunks[i].ProcessedAt.After(chunks[j].ProcessedAt)
		}
		return chunks[i].ChunkID < chunks[j].ChunkID
	})

	if limit > 0 && len(chunks) > limit {
		chunks = chunks[:limit]
	}

	return chunks, nil
}

// DeleteChunk deletes a chunk by chunk id.
func (s *MemoryStore) DeleteChunk(ctx context.Context, chunkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.chunks, chunkID)
	return nil
}

// DeleteChunksByDocument deletes all chunks of a document and returns
// the removed chunk ids.
func (s *MemoryStore) DeleteChunksByDocument(ctx context.Context, documentPath string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, chunk := range s.chunks {
		if chunk.DocumentPath == documentPath {
			removed = append(removed, id)
			delete(s.chunks, id)
		}
	}

	sort.Strings(removed)
	return removed, nil
}

// UpsertEntity inserts an entity or merges it into the existing entity
// with the same identity: relevance keeps the maximum, mentions are
// unioned, contexts are unioned and capped, metadata is merged.
func (s *MemoryStore) UpsertEntity(ctx context.Context, entity *model.Entity) error {
	if entity.ID == uuid.Nil {
		entity.ID = model.EntityID(entity.Name, entity.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	existing, ok := s.entities[entity.ID]
	if !ok {
		stored := *entity
		stored.Mentions = uniqueSorted(entity.Mentions)
		stored.Contexts = capSlice(uniqueSorted(entity.Contexts), 5)
		stored.CreatedAt = now
		stored.UpdatedAt = now
		s.entities[entity.ID] = &stored
		*entity = stored
		return nil
	}

	existing.Relevance = math.Max(existing.Relevance, entity.Relevance)
	existing.Mentions = uniqueSorted(append(existing.Mentions, entity.Mentions...))
	existing.Contexts = capSlice(uniqueSorted(append(existing.Contexts, entity.Contexts...)), 5)
	if existing.Metadata == nil {
		existing.Metadata = model.Metadata{}
	}
	for key, value := range entity.Metadata {
		existing.Metadata[key] = value
	}
	existing.UpdatedAt = now

	*entity = *existing
	return nil
}

// SelectEntity retrieves an entity by id.
func (s *MemoryStore) SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, ok := s.entities[id]
	if !ok {
		return nil, helper.NewError("select entity", fmt.Errorf("entity %v: %w", id, helper.ErrNotFound))
	}

	copied := *entity
	return &copied, nil
}

// SelectEntityByName retrieves an entity by case-insensitive name and type.
func (s *MemoryStore) SelectEntityByName(ctx context.Context, name string, entityType string) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entity := range s.entities {
		if strings.EqualFold(entity.Name, name) && entity.Type == entityType {
			copied := *entity
			return &copied, nil
		}
	}

	return nil, helper.NewError("select entity by name", fmt.Errorf("entity %v (%v): %w", name, entityType, helper.ErrNotFound))
}

// SelectEntitiesByType retrieves up to limit entities of a type ordered
// by relevance descending, then name ascending.
func (s *MemoryStore) SelectEntitiesByType(ctx context.Context, entityType string, limit int) ([]*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entities []*model.Entity
	for _, entity := range s.entities {
		if entity.Type == entityType {
			copied := *entity
			entities = append(entities, &copied)
		}
	}

	sortEntities(entities)

	if limit > 0 && len(entities) > limit {
		entities = entities[:limit]
	}

	return entities, nil
}

// SelectEntitiesMentioningChunk retrieves all entities whose mention set
// contains the given chunk id.
func (s *MemoryStore) SelectEntitiesMentioningChunk(ctx context.Context, chunkID string) ([]*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entities []*model.Entity
	for _, entity := range s.entities {
		for _, mention := range entity.Mentions {
			if mention == chunkID {
				copied := *entity
				entities = append(entities, &copied)
				break
			}
		}
	}

	sortEntities(entities)

	return entities, nil
}

// PruneMentions removes the given chunk ids from all entity mention
// sets and returns the number of entities that were updated.
func (s *MemoryStore) PruneMentions(ctx context.Context, chunkIDs []string) (int, error) {
	if len(chunkIDs) == 0 {
		return 0, nil
	}

	stale := map[string]bool{}
	for _, id := range chunkIDs {
		stale[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for _, entity := range s.entities {
		var kept []string
		for _, mention := range entity.Mentions {
			if !stale[mention] {
				kept = append(kept, mention)
			}
		}
		if len(kept) != len(entity.Mentions) {
			entity.Mentions = kept
			entity.UpdatedAt = time.Now()
			updated++
		}
	}

	return updated, nil
}

// CountEntities returns the number of stored entities.
func (s *MemoryStore) CountEntities(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.entities)), nil
}

// DeleteEntity deletes an entity by id.
func (s *MemoryStore) DeleteEntity(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entities, id)
	return nil
}

// UpsertRelationship inserts a relationship or merges it into the
// existing one with the same (source, target, predicate): confidence
// keeps the maximum, supporting chunks are unioned.
func (s *MemoryStore) UpsertRelationship(ctx context.Context, relationship *model.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, existing := range s.relationships {
		if existing.SourceEntityID == relationship.SourceEntityID &&
			existing.TargetEntityID == relationship.TargetEntityID &&
			existing.Predicate == relationship.Predicate {
			existing.Confidence = math.Max(existing.Confidence, relationship.Confidence)
			existing.SupportingChunks = uniqueSorted(append(existing.SupportingChunks, relationship.SupportingChunks...))
			existing.UpdatedAt = now
			*relationship = *existing
			return nil
		}
	}

	stored := *relationship
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	stored.SupportingChunks = uniqueSorted(relationship.SupportingChunks)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.relationships[stored.ID] = &stored

	*relationship = stored
	return nil
}

// SelectRelationshipsForEntity retrieves all relationships a given
// entity participates in, as subject or object.
func (s *MemoryStore) SelectRelationshipsForEntity(ctx context.Context, entityID uuid.UUID) ([]*model.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var relationships []*model.Relationship
	for _, relationship := range s.relationships {
		if relationship.SourceEntityID == entityID || relationship.TargetEntityID == entityID {
			copied := *relationship
			relationships = append(relationships, &copied)
		}
	}

	sort.Slice(relationships, func(i, j int) bool {
		if relationships[i].Confidence != relationships[j].Confidence {
			return relationships[i].Confidence > relationships[j].Confidence
		}
		return relationships[i].ID.String() < relationships[j].ID.String()
	})

	return relationships, nil
}

// DeleteRelationship deletes a relationship by id.
func (s *MemoryStore) DeleteRelationship(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.relationships, id)
	return nil
}

func matchesFilters(chunk *model.Chunk, filters *model.ChunkFilters) bool {
	if filters == nil {
		return true
	}
	if filters.Category != "" && chunk.Category != filters.Category {
		return false
	}
	if filters.Keyword != "" {
		found := false
		for _, keyword := range chunk.Keywords {
			if keyword == filters.Keyword {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filters.Since != nil && chunk.ProcessedAt.Before(*filters.Since) {
		return false
	}
	if filters.Until != nil && chunk.ProcessedAt.After(*filters.Until) {
		return false
	}
	return true
}

func cosineSimilarity(a []float32, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortEntities(entities []*model.Entity) {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Relevance != entities[j].Relevance {
			return entities[i].Relevance > entities[j].Relevance
		}
		return entities[i].Name < entities[j].Name
	})
}

func uniqueSorted(values []string) []string {
	unique := uniqueStable(values)
	sort.Strings(unique)
	return unique
}

func uniqueStable(values []string) []string {
	seen := map[string]bool{}
	var unique []string
	for _, value := range values {
		if !seen[value] {
			seen[value] = true
			unique = append(unique, value)
		}
	}
	return unique
}

func capSlice(values []string, max int) []string {
	if len(values) > max {
		return values[:max]
	}
	return values
}
