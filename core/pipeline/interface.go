package pipeline

import (
	"context"
	"time"

	"github.com/siherrmann/mailrank/helper"
	"github.com/siherrmann/mailrank/model"
)

// ChunkFunc splits document text into chunks. Chunk ids are derived
// from the document path plus the chunk index, so re-processing the
// same document yields the same ids and chunks from different
// documents never collide.
type ChunkFunc func(text string, documentPath string) ([]*model.Chunk, error)

// EmbedFunc generates an embedding for text. Implementations may call
// out to a remote provider and must respect the context.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// EnrichFunc annotates a chunk with keywords, a category and synthetic
// question/answer pairs before it is stored.
type EnrichFunc func(chunk *model.Chunk)

// ExtractFunc extracts entities and relationships from a chunk.
// Implementations must be deterministic: identical chunk text yields
// identical entity and relationship sets.
type ExtractFunc func(chunk *model.Chunk) ([]*model.Entity, []*model.Relationship, error)

// Pipeline combines chunking, enrichment, embedding and knowledge
// extraction into a single document processing pass.
type Pipeline struct {
	Chunker   ChunkFunc
	Embedder  EmbedFunc
	Enricher  EnrichFunc // Optional
	Extractor ExtractFunc
}

// NewPipeline creates a new processing pipeline
func NewPipeline(chunker ChunkFunc, embedder EmbedFunc, extractor ExtractFunc) *Pipeline {
	return &Pipeline{
		Chunker:   chunker,
		Embedder:  embedder,
		Enricher:  DefaultEnricher(),
		Extractor: extractor,
	}
}

// ProcessingResult contains the chunks of one document together with
// the extracted entities and relationships. FlaggedChunks lists chunk
// ids whose extraction failed and that should be reviewed later;
// a flagged chunk is still stored and searchable.
type ProcessingResult struct {
	Chunks        []*model.Chunk
	Entities      []*model.Entity
	Relationships []*model.Relationship
	FlaggedChunks []string
}

// Process runs a document through the pipeline: chunking, enrichment,
// embedding and extraction. Extraction failures never fail the
// document, the affected chunk is flagged instead.
func (p *Pipeline) Process(ctx context.Context, document *model.Document) (*ProcessingResult, error) {
	if document == nil || document.Content == "" {
		return nil, helper.NewInvalidArgumentError("process document", "document content is empty")
	}

	chunks, err := p.Chunker(document.Content, document.Path)
	if err != nil {
		return nil, helper.NewError("chunk document", err)
	}

	result := &ProcessingResult{}
	processedAt := time.Now()

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, helper.NewError("process document", err)
		}

		chunk.DocumentPath = document.Path
		chunk.EventID = document.EventID
		chunk.ProcessedAt = processedAt

		if p.Enricher != nil {
			p.Enricher(chunk)
		}

		embedding, err := p.Embedder(ctx, chunk.Text)
		if err != nil {
			return nil, helper.NewError("embed chunk", err)
		}
		chunk.Embedding = embedding

		result.Chunks = append(result.Chunks, chunk)

		if p.Extractor == nil {
			continue
		}
		entities, relationships, err := p.Extractor(chunk)
		if err != nil {
			result.FlaggedChunks = append(result.FlaggedChunks, chunk.ChunkID)
			continue
		}
		result.Entities = append(result.Entities, entities...)
		result.Relationships = append(result.Relationships, relationships...)
	}

	return result, nil
}
