package mailrank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/siherrmann/mailrank/core/ingest"
	"github.com/siherrmann/mailrank/core/pipeline"
	"github.com/siherrmann/mailrank/core/retrieval"
	"github.com/siherrmann/mailrank/core/scoring"
	"github.com/siherrmann/mailrank/database"
	"github.com/siherrmann/mailrank/helper"
	"github.com/siherrmann/mailrank/model"
	loadSql "github.com/siherrmann/mailrank/sql"
)

// Mailrank provides a unified interface to the knowledge base and the
// prioritization engine
type Mailrank struct {
	DB            *helper.Database // nil when running on in-memory stores
	Chunks        database.ChunkStore
	Entities      database.EntityStore
	Relationships database.RelationshipStore
	Pipeline      *pipeline.Pipeline // Optional processing pipeline
	Engine        *retrieval.Engine
	Scorer        *scoring.Scorer
	Config        model.ScoringConfig
	// Logging
	log *slog.Logger

	chunksDB *database.ChunksDBHandler
}

// NewMailrank creates a new Mailrank instance backed by Postgres with
// all handlers initialized
func NewMailrank(config *helper.DatabaseConfiguration, embeddingDim int, scoringConfig model.ScoringConfig) (*Mailrank, error) {
	// Logger
	opts := helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: slog.LevelInfo,
		},
	}
	logger := slog.New(helper.NewPrettyHandler(os.Stdout, opts))

	// Initialize database
	db := helper.NewDatabase("mailrank", config, logger)
	err := loadSql.Init(db.Instance)
	if err != nil {
		return nil, helper.NewError("initialize database extensions", err)
	}

	// Create all handlers, force=false to not reload SQL functions
	// that already exist
	chunks, err := database.NewChunksDBHandler(db, embeddingDim, false)
	if err != nil {
		return nil, helper.NewError("create chunks handler", err)
	}

	entities, err := database.NewEntitiesDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create entities handler", err)
	}

	relationships, err := database.NewRelationshipsDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create relationships handler", err)
	}

	m := &Mailrank{
		DB:            db,
		Chunks:        chunks,
		Entities:      entities,
		Relationships: relationships,
		Config:        scoringConfig,
		log:           logger,
		chunksDB:      chunks,
	}

	err = m.rebuild(nil)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// NewMailrankWithStores creates a Mailrank instance over explicit
// store implementations, used with the in-memory stores for isolated
// setups and tests.
func NewMailrankWithStores(chunks database.ChunkStore, entities database.EntityStore, relationships database.RelationshipStore, scoringConfig model.ScoringConfig, logger *slog.Logger) (*Mailrank, error) {
	if chunks == nil || entities == nil || relationships == nil {
		return nil, helper.NewError("create mailrank", fmt.Errorf("stores must not be nil"))
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Mailrank{
		Chunks:        chunks,
		Entities:      entities,
		Relationships: relationships,
		Config:        scoringConfig,
		log:           logger,
	}

	err := m.rebuild(nil)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Close closes the database connection
func (m *Mailrank) Close() error {
	if m.DB != nil && m.DB.Instance != nil {
		return m.DB.Instance.Close()
	}
	return nil
}

// SetPipeline sets the processing pipeline and rebuilds the retrieval
// engine and scorer around its embedder
func (m *Mailrank) SetPipeline(processing *pipeline.Pipeline) error {
	return m.rebuild(processing)
}

// UseDefaultPipeline sets up the default processing pipeline: sentence
// chunking, the local all-MiniLM-L6-v2 embedder (384 dimensions) and
// the pattern based knowledge extractor.
func (m *Mailrank) UseDefaultPipeline() error {
	chunker := pipeline.DefaultChunker(500, 5)

	embedder, err := pipeline.DefaultEmbedder()
	if err != nil {
		return helper.NewError("create default embedder", err)
	}

	extractor := pipeline.DefaultExtractor(pipeline.DefaultExtractorConfig())

	return m.SetPipeline(pipeline.NewPipeline(chunker, embedder, extractor))
}

// rebuild wires the engine and the scorer; the scorer needs the
// pipeline's embedder to turn message text into query embeddings.
func (m *Mailrank) rebuild(processing *pipeline.Pipeline) error {
	m.Pipeline = processing

	var embedder pipeline.EmbedFunc
	if processing != nil {
		embedder = processing.Embedder
	}
	m.Engine = retrieval.NewEngine(m.Chunks, m.Entities, m.Relationships, embedder)

	scorer, err := scoring.NewScorer(m.Engine, m.Config, m.log)
	if err != nil {
		return err
	}
	m.Scorer = scorer

	return nil
}

// rankWorkers bounds concurrent message scoring within one query
const rankWorkers = 4

// Rank scores a message set against the knowledge base and returns
// the ordered results. The request is stateless: a time window and
// folder select the candidates, Search optionally replaces per-message
// bodies as the retrieval query, MinPriority drops low results and Top
// truncates. Individual message failures never fail the request.
func (m *Mailrank) Rank(ctx context.Context, messages []*model.Message, request model.RankRequest) (*model.RankResponse, error) {
	if m.Pipeline == nil || m.Pipeline.Embedder == nil {
		return nil, helper.NewError("rank messages", fmt.Errorf("pipeline with embedder not set, use SetPipeline() first"))
	}

	started := time.Now()
	response := &model.RankResponse{}

	candidates := filterMessages(messages, request, started)
	timestamps := make(map[string]time.Time, len(candidates))
	for _, message := range candidates {
		timestamps[message.ID] = message.Timestamp
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	queue := make(chan *model.Message)

	for w := 0; w < rankWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for message := range queue {
				result, err := m.Scorer.Score(ctx, scoring.Input{
					Message: message,
					Query:   request.Search,
					Window:  request.Window,
					Now:     started,
				})

				mu.Lock()
				switch {
				case err != nil:
					response.Failed++
					response.FailedMessages = append(response.FailedMessages, message.ID)
					m.log.Warn("Message scoring failed", slog.String("messageId", message.ID), slog.Any("error", err))
				case result.Status == model.StatusFailed:
					response.Failed++
					response.FailedMessages = append(response.FailedMessages, message.ID)
				case result.Score >= request.MinPriority:
					response.Results = append(response.Results, result)
				}
				mu.Unlock()
			}
		}()
	}

	for _, message := range candidates {
		if ctx.Err() != nil {
			break
		}
		queue <- message
	}
	close(queue)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, helper.NewError("rank messages", err)
	}

	sort.Slice(response.Results, func(i, j int) bool {
		if response.Results[i].Score != response.Results[j].Score {
			return response.Results[i].Score > response.Results[j].Score
		}
		// Ties in score break by message timestamp descending.
		ti := timestamps[response.Results[i].MessageID]
		tj := timestamps[response.Results[j].MessageID]
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return response.Results[i].MessageID < response.Results[j].MessageID
	})
	sort.Strings(response.FailedMessages)

	if request.Top > 0 && len(response.Results) > request.Top {
		response.Results = response.Results[:request.Top]
	}

	response.Count = len(response.Results)
	response.ProcessingTime = time.Since(started)

	return response, nil
}

// filterMessages selects the candidate messages for a ranking query
func filterMessages(messages []*model.Message, request model.RankRequest, now time.Time) []*model.Message {
	var candidates []*model.Message
	for _, message := range messages {
		if message == nil {
			continue
		}
		if request.Folder != "" && message.Folder != request.Folder {
			continue
		}
		if request.Window > 0 && message.Timestamp.Before(now.Add(-request.Window)) {
			continue
		}
		candidates = append(candidates, message)
	}
	return candidates
}

// ingestor builds an Ingestor around the current pipeline and stores
func (m *Mailrank) ingestor(source ingest.DocumentSource) (*ingest.Ingestor, error) {
	if m.Pipeline == nil {
		return nil, helper.NewError("create ingestor", fmt.Errorf("pipeline not set, use SetPipeline() first"))
	}
	return ingest.NewIngestor(source, m.Pipeline, m.Chunks, m.Entities, m.Relationships, 0, m.log)
}

// IngestPrefix processes all documents under the prefix from the
// source into the knowledge base, idempotently
func (m *Mailrank) IngestPrefix(ctx context.Context, source ingest.DocumentSource, prefix string) (*ingest.Report, error) {
	ingestor, err := m.ingestor(source)
	if err != nil {
		return nil, err
	}
	return ingestor.IngestPrefix(ctx, prefix)
}

// IngestDocument processes a single document from the source into the
// knowledge base
func (m *Mailrank) IngestDocument(ctx context.Context, source ingest.DocumentSource, path string) (*ingest.Report, error) {
	ingestor, err := m.ingestor(source)
	if err != nil {
		return nil, err
	}
	return ingestor.IngestDocument(ctx, path)
}

// ExtractDocument runs a single document through the pipeline and
// returns its chunks, entities and relationships without writing
// anything
func (m *Mailrank) ExtractDocument(ctx context.Context, source ingest.DocumentSource, path string) (*pipeline.ProcessingResult, error) {
	ingestor, err := m.ingestor(source)
	if err != nil {
		return nil, err
	}
	return ingestor.Extract(ctx, path)
}

// Search runs a retrieval query against the knowledge base and
// returns the matching chunks with their entities
func (m *Mailrank) Search(ctx context.Context, query string, options retrieval.Options) ([]*model.RetrievalResult, error) {
	if m.Pipeline == nil || m.Pipeline.Embedder == nil {
		return nil, helper.NewError("search", fmt.Errorf("pipeline with embedder not set, use SetPipeline() first"))
	}

	var results []*model.RetrievalResult
	err := helper.Retry(ctx, m.Config.RetryAttempts, func() error {
		var retrieveErr error
		results, retrieveErr = m.Engine.Retrieve(ctx, retrieval.Query{Text: query}, options)
		return retrieveErr
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// ChangeIndexType changes the vector index type between HNSW and
// IVFFlat, only available on Postgres-backed instances
func (m *Mailrank) ChangeIndexType(ctx context.Context, indexType string, params map[string]interface{}) error {
	if m.chunksDB == nil {
		return helper.NewError("change index type", errors.New("not backed by a database"))
	}
	return m.chunksDB.ChangeIndexType(ctx, indexType, params)
}
