package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/siherrmann/mailrank/core/pipeline"
	"github.com/siherrmann/mailrank/database"
	"github.com/siherrmann/mailrank/helper"
)

// DefaultWorkers bounds the parallel per-document ingestion
const DefaultWorkers = 4

// Ingestor processes documents from a source through the pipeline into
// the chunk store and the knowledge graph. Documents are independent,
// so ingestion runs them in parallel; entity merges are serialized by
// the store.
type Ingestor struct {
	source        DocumentSource
	pipeline      *pipeline.Pipeline
	chunks        database.ChunkStore
	entities      database.EntityStore
	relationships database.RelationshipStore
	workers       int
	logger        *slog.Logger
}

// NewIngestor creates a new batch ingestor
func NewIngestor(source DocumentSource, processing *pipeline.Pipeline, chunks database.ChunkStore, entities database.EntityStore, relationships database.RelationshipStore, workers int, logger *slog.Logger) (*Ingestor, error) {
	if source == nil {
		return nil, helper.NewError("ingestor validation", fmt.Errorf("document source is nil"))
	}
	if processing == nil {
		return nil, helper.NewError("ingestor validation", fmt.Errorf("pipeline is nil"))
	}
	if chunks == nil || entities == nil || relationships == nil {
		return nil, helper.NewError("ingestor validation", fmt.Errorf("stores must not be nil"))
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Ingestor{
		source:        source,
		pipeline:      processing,
		chunks:        chunks,
		entities:      entities,
		relationships: relationships,
		workers:       workers,
		logger:        logger,
	}, nil
}

// Report summarizes one ingestion run. Per-document failures are
// collected here, they never abort the run.
type Report struct {
	EventID       string            `json:"event_id"`
	Documents     int               `json:"documents"`
	Chunks        int               `json:"chunks"`
	Entities      int               `json:"entities"`
	Relationships int               `json:"relationships"`
	FlaggedChunks []string          `json:"flagged_chunks,omitempty"`
	Errors        map[string]string `json:"errors,omitempty"`
}

// IngestPrefix processes all documents under the prefix, idempotently.
// Re-running against already ingested documents re-upserts their
// chunks and merges their entities without creating duplicates; chunks
// that no longer exist in the document are removed and their mentions
// pruned from the graph.
func (i *Ingestor) IngestPrefix(ctx context.Context, prefix string) (*Report, error) {
	paths, err := i.source.ListDocuments(ctx, prefix)
	if err != nil {
		return nil, helper.NewError("list documents", err)
	}

	report := &Report{
		EventID: uuid.New().String(),
		Errors:  map[string]string{},
	}

	i.logger.Info("Starting ingestion run", "eventId", report.EventID, "prefix", prefix, "documents", len(paths))

	var mu sync.Mutex
	var wg sync.WaitGroup
	queue := make(chan string)

	for w := 0; w < i.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range queue {
				err := i.ingestDocument(ctx, path, report.EventID, report, &mu)
				if err != nil {
					mu.Lock()
					report.Errors[path] = err.Error()
					mu.Unlock()
					i.logger.Warn("Document ingestion failed", "path", path, "error", err)
				}
			}
		}()
	}

	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		queue <- path
	}
	close(queue)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return report, helper.NewError("ingest prefix", err)
	}

	i.logger.Info("Finished ingestion run",
		"eventId", report.EventID,
		"documents", report.Documents,
		"chunks", report.Chunks,
		"entities", report.Entities,
		"relationships", report.Relationships,
		"failed", len(report.Errors),
	)

	return report, nil
}

// IngestDocument processes a single document by path
func (i *Ingestor) IngestDocument(ctx context.Context, path string) (*Report, error) {
	report := &Report{
		EventID: uuid.New().String(),
		Errors:  map[string]string{},
	}

	var mu sync.Mutex
	err := i.ingestDocument(ctx, path, report.EventID, report, &mu)
	if err != nil {
		return nil, err
	}

	return report, nil
}

// Extract runs a single document through the pipeline without writing
// anything to the stores.
func (i *Ingestor) Extract(ctx context.Context, path string) (*pipeline.ProcessingResult, error) {
	document, err := i.source.ReadDocument(ctx, path)
	if err != nil {
		return nil, err
	}

	return i.pipeline.Process(ctx, document)
}

func (i *Ingestor) ingestDocument(ctx context.Context, path string, eventID string, report *Report, mu *sync.Mutex) error {
	document, err := i.source.ReadDocument(ctx, path)
	if err != nil {
		return err
	}
	document.EventID = eventID

	result, err := i.pipeline.Process(ctx, document)
	if err != nil {
		return err
	}

	// Chunk ids of the previous ingestion of this document, needed to
	// prune chunks the document no longer produces.
	previous, err := i.chunks.SelectChunksByDocument(ctx, document.Path)
	if err != nil {
		return err
	}

	current := make(map[string]bool, len(result.Chunks))
	for _, chunk := range result.Chunks {
		if err := i.chunks.UpsertChunk(ctx, chunk); err != nil {
			return err
		}
		current[chunk.ChunkID] = true
	}

	var stale []string
	for _, chunk := range previous {
		if !current[chunk.ChunkID] {
			stale = append(stale, chunk.ChunkID)
		}
	}
	if len(stale) > 0 {
		for _, chunkID := range stale {
			if err := i.chunks.DeleteChunk(ctx, chunkID); err != nil {
				return err
			}
		}
		if _, err := i.entities.PruneMentions(ctx, stale); err != nil {
			return err
		}
	}

	for _, entity := range result.Entities {
		if err := i.entities.UpsertEntity(ctx, entity); err != nil {
			return err
		}
	}
	for _, relationship := range result.Relationships {
		if err := i.relationships.UpsertRelationship(ctx, relationship); err != nil {
			return err
		}
	}

	mu.Lock()
	report.Documents++
	report.Chunks += len(result.Chunks)
	report.Entities += len(result.Entities)
	report.Relationships += len(result.Relationships)
	report.FlaggedChunks = append(report.FlaggedChunks, result.FlaggedChunks...)
	mu.Unlock()

	return nil
}
