package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/siherrmann/mailrank/helper"
	"github.com/siherrmann/mailrank/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The in-memory store must be a drop-in replacement for the Postgres
// handlers.
var (
	_ ChunkStore        = &MemoryStore{}
	_ EntityStore       = &MemoryStore{}
	_ RelationshipStore = &MemoryStore{}
)

func TestMemoryChunks(t *testing.T) {
	store := NewMemoryStore(testEmbeddingDim)
	ctx := context.Background()

	t.Run("Upsert and get", func(t *testing.T) {
		chunk := &model.Chunk{
			ChunkID:      "mem-0",
			DocumentPath: "inbox/mem",
			ProcessedAt:  time.Now(),
			Text:         "Memory chunk",
			Embedding:    testEmbedding(0),
		}
		err := store.UpsertChunk(ctx, chunk)
		assert.NoError(t, err, "Expected UpsertChunk to not return an error")

		retrieved, err := store.SelectChunk(ctx, "mem-0")
		require.NoError(t, err)
		assert.Equal(t, "Memory chunk", retrieved.Text, "Expected chunk text to match")
	})

	t.Run("Upsert replaces by chunk id", func(t *testing.T) {
		chunk := &model.Chunk{
			ChunkID:      "mem-0",
			DocumentPath: "inbox/mem",
			ProcessedAt:  time.Now(),
			Text:         "Replaced chunk",
			Embedding:    testEmbedding(1),
		}
		err := store.UpsertChunk(ctx, chunk)
		require.NoError(t, err)

		retrieved, err := store.SelectChunk(ctx, "mem-0")
		require.NoError(t, err)
		assert.Equal(t, "Replaced chunk", retrieved.Text, "Expected chunk to be replaced entirely")
	})

	t.Run("Validation errors", func(t *testing.T) {
		err := store.UpsertChunk(ctx, &model.Chunk{ChunkID: "mem-bad", Text: "No embedding"})
		assert.ErrorIs(t, err, helper.ErrValidation, "Expected validation error for missing embedding")

		err = store.UpsertChunk(ctx, &model.Chunk{ChunkID: "mem-bad", Text: "Wrong dim", Embedding: make([]float32, testEmbeddingDim+1)})
		assert.ErrorIs(t, err, helper.ErrValidation, "Expected validation error for wrong dimension")
	})

	t.Run("Get missing chunk", func(t *testing.T) {
		_, err := store.SelectChunk(ctx, "missing")
		assert.ErrorIs(t, err, helper.ErrNotFound, "Expected not found error for missing chunk")
	})

	t.Run("Delete by document returns removed ids", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			err := store.UpsertChunk(ctx, &model.Chunk{
				ChunkID:      fmt.Sprintf("mem-doc-%d", i),
				DocumentPath: "inbox/mem-doc",
				ProcessedAt:  time.Now(),
				Text:         "Doc chunk",
				Embedding:    testEmbedding(i),
			})
			require.NoError(t, err)
		}

		removed, err := store.DeleteChunksByDocument(ctx, "inbox/mem-doc")
		assert.NoError(t, err)
		assert.Equal(t, []string{"mem-doc-0", "mem-doc-1", "mem-doc-2"}, removed, "Expected all chunk ids of the document")

		chunks, err := store.SelectChunksByDocument(ctx, "inbox/mem-doc")
		require.NoError(t, err)
		assert.Empty(t, chunks, "Expected no chunks left for the document")
	})
}

func TestMemorySimilaritySearch(t *testing.T) {
	store := NewMemoryStore(testEmbeddingDim)
	ctx := context.Background()

	processedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	chunks := []*model.Chunk{
		{ChunkID: "sim-b", DocumentPath: "d", ProcessedAt: processedAt, Text: "b", Embedding: testEmbedding(0), Category: "planning", Keywords: []string{"orion"}},
		{ChunkID: "sim-a", DocumentPath: "d", ProcessedAt: processedAt, Text: "a", Embedding: testEmbedding(0), Category: "planning", Keywords: []string{"orion"}},
		{ChunkID: "sim-c", DocumentPath: "d", ProcessedAt: processedAt.Add(time.Hour), Text: "c", Embedding: testEmbedding(0), Category: "finance"},
		{ChunkID: "sim-d", DocumentPath: "d", ProcessedAt: processedAt, Text: "d", Embedding: testEmbedding(1), Category: "planning"},
	}
	for _, chunk := range chunks {
		require.NoError(t, store.UpsertChunk(ctx, chunk))
	}

	t.Run("Ordering with tie-breaks", func(t *testing.T) {
		results, err := store.SelectChunksBySimilarity(ctx, testEmbedding(0), 10, 0.0, nil)
		assert.NoError(t, err)
		require.Len(t, results, 4)
		assert.Equal(t, "sim-c", results[0].ChunkID, "Expected newer chunk to win the similarity tie")
		assert.Equal(t, "sim-a", results[1].ChunkID, "Expected chunk id ascending on full tie")
		assert.Equal(t, "sim-b", results[2].ChunkID, "Expected chunk id ascending on full tie")
		assert.Equal(t, "sim-d", results[3].ChunkID, "Expected dissimilar chunk last")
	})

	t.Run("Threshold", func(t *testing.T) {
		results, err := store.SelectChunksBySimilarity(ctx, testEmbedding(0), 10, 0.9, nil)
		assert.NoError(t, err)
		assert.Len(t, results, 3, "Expected only chunks above the threshold")
	})

	t.Run("Limit", func(t *testing.T) {
		results, err := store.SelectChunksBySimilarity(ctx, testEmbedding(0), 2, 0.0, nil)
		assert.NoError(t, err)
		assert.Len(t, results, 2, "Expected at most limit results")
	})

	t.Run("Filters before ranking", func(t *testing.T) {
		results, err := store.SelectChunksBySimilarity(ctx, testEmbedding(0), 10, 0.0, &model.ChunkFilters{Category: "planning"})
		assert.NoError(t, err)
		require.Len(t, results, 3)
		for _, result := range results {
			assert.Equal(t, "planning", result.Category, "Expected only chunks of the filtered category")
		}

		results, err = store.SelectChunksBySimilarity(ctx, testEmbedding(0), 10, 0.0, &model.ChunkFilters{Keyword: "orion"})
		assert.NoError(t, err)
		assert.Len(t, results, 2, "Expected only chunks with the filtered keyword")

		since := processedAt.Add(30 * time.Minute)
		results, err = store.SelectChunksBySimilarity(ctx, testEmbedding(0), 10, 0.0, &model.ChunkFilters{Since: &since})
		assert.NoError(t, err)
		assert.Len(t, results, 1, "Expected only chunks inside the time window")
	})

	t.Run("Query dimension mismatch", func(t *testing.T) {
		_, err := store.SelectChunksBySimilarity(ctx, make([]float32, testEmbeddingDim+1), 10, 0.0, nil)
		assert.ErrorIs(t, err, helper.ErrValidation, "Expected validation error for query dimension mismatch")
	})
}

func TestMemoryEntities(t *testing.T) {
	store := NewMemoryStore(testEmbeddingDim)
	ctx := context.Background()

	t.Run("Upsert merges mentions and relevance", func(t *testing.T) {
		first := &model.Entity{Name: "Orion", Type: model.EntityTypeProject, Relevance: 0.9, Mentions: []string{"c1", "c2"}}
		require.NoError(t, store.UpsertEntity(ctx, first))

		second := &model.Entity{Name: "orion", Type: model.EntityTypeProject, Relevance: 0.5, Mentions: []string{"c2", "c3"}}
		require.NoError(t, store.UpsertEntity(ctx, second))

		assert.Equal(t, first.ID, second.ID, "Expected case variations to merge into one entity")
		assert.Equal(t, 0.9, second.Relevance, "Expected maximum relevance to win")
		assert.Equal(t, []string{"c1", "c2", "c3"}, second.Mentions, "Expected mention union without duplicates")
	})

	t.Run("Contexts are capped", func(t *testing.T) {
		entity := &model.Entity{Name: "Busy", Type: model.EntityTypePerson, Contexts: []string{"a", "b", "c", "d", "e", "f", "g"}}
		require.NoError(t, store.UpsertEntity(ctx, entity))
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, entity.Contexts, "Expected the context cap to keep a stable window")
	})

	t.Run("Context cap ignores merge order", func(t *testing.T) {
		forwards := &model.Entity{Name: "Fwd", Type: model.EntityTypeTerm, Contexts: []string{"a", "b", "c"}}
		require.NoError(t, store.UpsertEntity(ctx, forwards))
		require.NoError(t, store.UpsertEntity(ctx, &model.Entity{Name: "Fwd", Type: model.EntityTypeTerm, Contexts: []string{"d", "e", "f"}}))

		backwards := &model.Entity{Name: "Bwd", Type: model.EntityTypeTerm, Contexts: []string{"d", "e", "f"}}
		require.NoError(t, store.UpsertEntity(ctx, backwards))
		require.NoError(t, store.UpsertEntity(ctx, &model.Entity{Name: "Bwd", Type: model.EntityTypeTerm, Contexts: []string{"a", "b", "c"}}))

		fwd, err := store.SelectEntityByName(ctx, "Fwd", model.EntityTypeTerm)
		require.NoError(t, err)
		bwd, err := store.SelectEntityByName(ctx, "Bwd", model.EntityTypeTerm)
		require.NoError(t, err)
		assert.Equal(t, fwd.Contexts, bwd.Contexts, "Expected the capped context set to not depend on ingestion order")
	})

	t.Run("Mentioning chunk and prune", func(t *testing.T) {
		mentioning, err := store.SelectEntitiesMentioningChunk(ctx, "c2")
		require.NoError(t, err)
		require.Len(t, mentioning, 1)
		assert.Equal(t, "Orion", mentioning[0].Name)

		updated, err := store.PruneMentions(ctx, []string{"c2"})
		assert.NoError(t, err)
		assert.Equal(t, 1, updated, "Expected exactly one entity to be updated")

		mentioning, err = store.SelectEntitiesMentioningChunk(ctx, "c2")
		require.NoError(t, err)
		assert.Empty(t, mentioning, "Expected pruned mention to be gone")
	})

	t.Run("Count and delete", func(t *testing.T) {
		count, err := store.CountEntities(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		err = store.DeleteEntity(ctx, model.EntityID("Busy", model.EntityTypePerson))
		assert.NoError(t, err)

		count, err = store.CountEntities(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}

func TestMemoryRelationships(t *testing.T) {
	store := NewMemoryStore(testEmbeddingDim)
	ctx := context.Background()

	person := model.EntityID("Ada", model.EntityTypePerson)
	project := model.EntityID("Orion", model.EntityTypeProject)

	t.Run("Upsert merges by triple", func(t *testing.T) {
		first := &model.Relationship{SourceEntityID: person, TargetEntityID: project, Predicate: model.PredicateWorksOn, Confidence: 0.6, SupportingChunks: []string{"c1"}}
		require.NoError(t, store.UpsertRelationship(ctx, first))

		second := &model.Relationship{SourceEntityID: person, TargetEntityID: project, Predicate: model.PredicateWorksOn, Confidence: 0.4, SupportingChunks: []string{"c2"}}
		require.NoError(t, store.UpsertRelationship(ctx, second))

		assert.Equal(t, first.ID, second.ID, "Expected same triple to merge into one relationship")
		assert.Equal(t, 0.6, second.Confidence, "Expected maximum confidence to win")
		assert.Equal(t, []string{"c1", "c2"}, second.SupportingChunks, "Expected supporting chunk union")
	})

	t.Run("Select for entity covers both directions", func(t *testing.T) {
		forPerson, err := store.SelectRelationshipsForEntity(ctx, person)
		require.NoError(t, err)
		assert.Len(t, forPerson, 1)

		forProject, err := store.SelectRelationshipsForEntity(ctx, project)
		require.NoError(t, err)
		assert.Len(t, forProject, 1)
	})

	t.Run("Delete", func(t *testing.T) {
		relationships, err := store.SelectRelationshipsForEntity(ctx, person)
		require.NoError(t, err)
		require.Len(t, relationships, 1)

		err = store.DeleteRelationship(ctx, relationships[0].ID)
		assert.NoError(t, err)

		relationships, err = store.SelectRelationshipsForEntity(ctx, person)
		require.NoError(t, err)
		assert.Empty(t, relationships, "Expected relationship to be gone after delete")
	})
}
