package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/siherrmann/mailrank/core/graph"
	"github.com/siherrmann/mailrank/core/pipeline"
	"github.com/siherrmann/mailrank/database"
	"github.com/siherrmann/mailrank/helper"
	"github.com/siherrmann/mailrank/model"
)

// Engine provides similarity retrieval with knowledge graph expansion
type Engine struct {
	chunks        database.ChunkStore
	entities      database.EntityStore
	relationships database.RelationshipStore
	embedder      pipeline.EmbedFunc
}

// NewEngine creates a new retrieval engine. The embedder is only
// required for text queries, pass nil when all queries carry a
// pre-formed embedding.
func NewEngine(chunks database.ChunkStore, entities database.EntityStore, relationships database.RelationshipStore, embedder pipeline.EmbedFunc) *Engine {
	return &Engine{
		chunks:        chunks,
		entities:      entities,
		relationships: relationships,
		embedder:      embedder,
	}
}

// Query is either free text or a pre-formed embedding. When both are
// set the embedding wins and the text is ignored.
type Query struct {
	Text      string
	Embedding []float32
}

// Options bound a single retrieval call
type Options struct {
	TopK                int
	SimilarityThreshold float64
	Filters             *model.ChunkFilters
	// ExpandRelated additionally includes entities one relationship
	// hop away from the directly mentioned ones.
	ExpandRelated        bool
	RelatedMinConfidence float64
}

// DefaultOptions returns retrieval defaults matching the scorer's
// small context window.
func DefaultOptions() Options {
	return Options{
		TopK:                 5,
		SimilarityThreshold:  0.0,
		ExpandRelated:        false,
		RelatedMinConfidence: 0.3,
	}
}

// Retrieve returns the top-K most similar chunks, each expanded with
// the entities whose mention sets include it. Result ordering is
// stable for identical inputs.
func (e *Engine) Retrieve(ctx context.Context, query Query, options Options) ([]*model.RetrievalResult, error) {
	results, err := e.SearchChunks(ctx, query, options)
	if err != nil {
		return nil, err
	}

	err = e.ExpandEntities(ctx, results, options)
	if err != nil {
		return nil, err
	}

	return results, nil
}

// SearchChunks performs the similarity search without entity
// expansion. Filters are applied before ranking, so TopK always
// returns the best matches among the filtered set.
func (e *Engine) SearchChunks(ctx context.Context, query Query, options Options) ([]*model.RetrievalResult, error) {
	if options.TopK <= 0 {
		return nil, helper.NewInvalidArgumentError("search chunks", "k must be positive")
	}

	embedding, err := e.queryEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	chunks, err := e.chunks.SelectChunksBySimilarity(ctx, embedding, options.TopK, options.SimilarityThreshold, options.Filters)
	if err != nil {
		return nil, helper.NewError("search chunks", err)
	}

	results := make([]*model.RetrievalResult, len(chunks))
	for i, chunk := range chunks {
		results[i] = &model.RetrievalResult{
			Chunk:      chunk,
			Similarity: chunk.Similarity,
		}
	}

	return results, nil
}

// ExpandEntities fills in the entities whose mention sets include each
// retrieved chunk. With ExpandRelated set, entities one relationship
// hop away are included as well.
func (e *Engine) ExpandEntities(ctx context.Context, results []*model.RetrievalResult, options Options) error {
	for _, result := range results {
		entities, err := e.entities.SelectEntitiesMentioningChunk(ctx, result.Chunk.ChunkID)
		if err != nil {
			return helper.NewError("expand entities", err)
		}

		if options.ExpandRelated {
			entities, err = e.withRelated(ctx, entities, options.RelatedMinConfidence)
			if err != nil {
				return helper.NewError("expand related entities", err)
			}
		}

		sortEntities(entities)
		result.Entities = entities
	}

	return nil
}

// Entities collects the distinct entities across a result set, most
// relevant first.
func Entities(results []*model.RetrievalResult) []*model.Entity {
	seen := make(map[uuid.UUID]bool)
	var entities []*model.Entity

	for _, result := range results {
		for _, entity := range result.Entities {
			if seen[entity.ID] {
				continue
			}
			seen[entity.ID] = true
			entities = append(entities, entity)
		}
	}

	sortEntities(entities)
	return entities
}

// withRelated widens a set of entities by one relationship hop
func (e *Engine) withRelated(ctx context.Context, entities []*model.Entity, minConfidence float64) ([]*model.Entity, error) {
	store := struct {
		database.EntityStore
		database.RelationshipStore
	}{e.entities, e.relationships}

	seen := make(map[uuid.UUID]bool)
	for _, entity := range entities {
		seen[entity.ID] = true
	}

	widened := entities
	for _, entity := range entities {
		neighbors, err := graph.Neighbors(ctx, store, entity.ID, minConfidence)
		if err != nil {
			return nil, err
		}

		for _, neighbor := range neighbors {
			if seen[neighbor.ID] {
				continue
			}
			seen[neighbor.ID] = true
			widened = append(widened, neighbor)
		}
	}

	return widened, nil
}

func (e *Engine) queryEmbedding(ctx context.Context, query Query) ([]float32, error) {
	if len(query.Embedding) > 0 {
		return query.Embedding, nil
	}
	if query.Text == "" {
		return nil, helper.NewInvalidArgumentError("embed query", "query is empty")
	}
	if e.embedder == nil {
		return nil, helper.NewError("embed query", fmt.Errorf("no embedder configured: %w", helper.ErrUnavailable))
	}

	embedding, err := e.embedder(ctx, query.Text)
	if err != nil {
		return nil, helper.NewError("embed query", err)
	}
	return embedding, nil
}

func sortEntities(entities []*model.Entity) {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Relevance != entities[j].Relevance {
			return entities[i].Relevance > entities[j].Relevance
		}
		return entities[i].Name < entities[j].Name
	})
}
