package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/siherrmann/mailrank/helper"
)

// Vector index defaults. HNSW works from the first chunk, IVFFlat
// needs a representative amount of chunks before building, so switch
// to it only after the initial ingestion has finished.
const (
	defaultHnswM              = 16
	defaultHnswEfConstruction = 64
	defaultIvfflatLists       = 100
)

// ChangeIndexType rebuilds the embedding index as the given type.
// Supported types are "hnsw" (params "m", "ef_construction") and
// "ivfflat" (param "lists"); omitted params use the defaults above.
func (h *ChunksDBHandler) ChangeIndexType(ctx context.Context, indexType string, params map[string]interface{}) error {
	statement, err := indexStatement(indexType, params)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	_, err = h.db.Instance.ExecContext(ctx, `DROP INDEX IF EXISTS idx_chunks_embedding;`)
	if err != nil {
		return helper.NewError("drop index", err)
	}

	_, err = h.db.Instance.ExecContext(ctx, statement)
	if err != nil {
		return helper.NewError("create index", err)
	}

	h.db.Logger.Info("Rebuilt vector index", slog.String("type", indexType), slog.Any("params", params))

	return nil
}

func indexStatement(indexType string, params map[string]interface{}) (string, error) {
	switch indexType {
	case "hnsw":
		return fmt.Sprintf(
			`CREATE INDEX idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d);`,
			intParam(params, "m", defaultHnswM),
			intParam(params, "ef_construction", defaultHnswEfConstruction),
		), nil
	case "ivfflat":
		return fmt.Sprintf(
			`CREATE INDEX idx_chunks_embedding ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d);`,
			intParam(params, "lists", defaultIvfflatLists),
		), nil
	default:
		return "", helper.NewValidationError("change index type", fmt.Sprintf("unsupported index type %v, want hnsw or ivfflat", indexType))
	}
}

func intParam(params map[string]interface{}, key string, fallback int) int {
	if value, ok := params[key].(int); ok {
		return value
	}
	return fallback
}
