package database

import (
	"context"
	dbsql "database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/siherrmann/mailrank/helper"
	"github.com/siherrmann/mailrank/model"
	loadSql "github.com/siherrmann/mailrank/sql"
)

// ChunkStore defines the contract of the chunk store. The Postgres
// handler and the in-memory store both implement it.
type ChunkStore interface {
	UpsertChunk(ctx context.Context, chunk *model.Chunk) error
	SelectChunk(ctx context.Context, chunkID string) (*model.Chunk, error)
	SelectChunksByDocument(ctx context.Context, documentPath string) ([]*model.Chunk, error)
	SelectChunksBySimilarity(ctx context.Context, embedding []float32, limit int, threshold float64, filters *model.ChunkFilters) ([]*model.Chunk, error)
	DeleteChunk(ctx context.Context, chunkID string) error
	DeleteChunksByDocument(ctx context.Context, documentPath string) ([]string, error)
	EmbeddingDim() int
}

// ChunksDBHandler handles chunk-related database operations
type ChunksDBHandler struct {
	db           *helper.Database
	embeddingDim int
}

// NewChunksDBHandler creates a new chunks database handler.
// It initializes the database connection and loads chunk-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewChunksDBHandler(db *helper.Database, embeddingDim int, force bool) (*ChunksDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}
	if embeddingDim <= 0 {
		return nil, helper.NewError("embedding dimension validation", fmt.Errorf("embedding dimension must be positive"))
	}

	chunksDbHandler := &ChunksDBHandler{
		db:           db,
		embeddingDim: embeddingDim,
	}

	err := loadSql.LoadChunksSql(chunksDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load chunks sql", err)
	}

	err = chunksDbHandler.CreateTable(embeddingDim)
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized ChunksDBHandler")

	return chunksDbHandler, nil
}

// EmbeddingDim returns the configured embedding dimensionality
func (h *ChunksDBHandler) EmbeddingDim() int {
	return h.embeddingDim
}

// CreateTable creates the 'chunks' table in the database.
// If the table already exists, it does not create it again.
// It also creates all necessary extensions and indexes.
func (h *ChunksDBHandler) CreateTable(embeddingDim int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_chunks($1);`, embeddingDim)
	if err != nil {
		log.Panicf("error initializing chunks table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table chunks")

	return nil
}

// UpsertChunk inserts a chunk or replaces the existing chunk with the
// same chunk_id entirely. Applying the same chunk twice yields the
// same stored state.
func (h *ChunksDBHandler) UpsertChunk(ctx context.Context, chunk *model.Chunk) error {
	if err := chunk.Validate(h.embeddingDim); err != nil {
		return err
	}

	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM upsert_chunk($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		chunk.ChunkID,
		chunk.DocumentPath,
		chunk.EventID,
		chunk.ProcessedAt,
		chunk.Text,
		pq.Array(chunk.Embedding),
		chunk.Metadata,
		pq.Array(chunk.Questions),
		pq.Array(chunk.Answers),
		chunk.Category,
		pq.Array(chunk.Keywords),
	)

	err := scanChunk(row, chunk)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectChunk retrieves a chunk by its id
func (h *ChunksDBHandler) SelectChunk(ctx context.Context, chunkID string) (*model.Chunk, error) {
	chunk := &model.Chunk{}
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM select_chunk($1)`,
		chunkID,
	)

	err := scanChunk(row, chunk)
	if errors.Is(err, dbsql.ErrNoRows) {
		return nil, helper.NewError("select chunk", fmt.Errorf("chunk %v: %w", chunkID, helper.ErrNotFound))
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return chunk, nil
}

// SelectChunksByDocument retrieves all chunks produced from a document
func (h *ChunksDBHandler) SelectChunksByDocument(ctx context.Context, documentPath string) ([]*model.Chunk, error) {
	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_chunks_by_document($1)`,
		documentPath,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		chunk := &model.Chunk{}
		err := scanChunk(rows, chunk)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		chunks = append(chunks, chunk)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return chunks, nil
}

// SelectChunksBySimilarity returns up to limit chunks ranked by
// descending cosine similarity to the query embedding. Filters are
// applied before ranking.
func (h *ChunksDBHandler) SelectChunksBySimilarity(ctx context.Context, embedding []float32, limit int, threshold float64, filters *model.ChunkFilters) ([]*model.Chunk, error) {
	if len(embedding) != h.embeddingDim {
		return nil, helper.NewValidationError("similarity search", "query embedding dimensionality mismatch")
	}
	if filters == nil {
		filters = &model.ChunkFilters{}
	}

	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_chunks_by_similarity($1, $2, $3, $4, $5, $6, $7)`,
		pgvector.NewVector(embedding),
		limit,
		threshold,
		filters.Category,
		filters.Keyword,
		filters.Since,
		filters.Until,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		chunk := &model.Chunk{}
		err := rows.Scan(
			&chunk.ChunkID,
			&chunk.DocumentPath,
			&chunk.EventID,
			&chunk.ProcessedAt,
			&chunk.Text,
			pq.Array(&chunk.Embedding),
			&chunk.Metadata,
			pq.Array(&chunk.Questions),
			pq.Array(&chunk.Answers),
			&chunk.Category,
			pq.Array(&chunk.Keywords),
			&chunk.Similarity,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		chunks = append(chunks, chunk)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return chunks, nil
}

// DeleteChunk deletes a chunk by its id
func (h *ChunksDBHandler) DeleteChunk(ctx context.Context, chunkID string) error {
	_, err := h.db.Instance.ExecContext(
		ctx,
		`SELECT delete_chunk($1)`,
		chunkID,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

// DeleteChunksByDocument deletes all chunks of a document and returns
// the removed chunk ids so stale entity mentions can be pruned.
func (h *ChunksDBHandler) DeleteChunksByDocument(ctx context.Context, documentPath string) ([]string, error) {
	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM delete_chunks_by_document($1)`,
		documentPath,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var chunkIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, helper.NewError("scan", err)
		}
		chunkIDs = append(chunkIDs, id)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return chunkIDs, nil
}

// scanner covers both sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanChunk(row scanner, chunk *model.Chunk) error {
	return row.Scan(
		&chunk.ChunkID,
		&chunk.DocumentPath,
		&chunk.EventID,
		&chunk.ProcessedAt,
		&chunk.Text,
		pq.Array(&chunk.Embedding),
		&chunk.Metadata,
		pq.Array(&chunk.Questions),
		pq.Array(&chunk.Answers),
		&chunk.Category,
		pq.Array(&chunk.Keywords),
	)
}
