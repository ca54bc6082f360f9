package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/siherrmann/mailrank/core/pipeline"
	"github.com/siherrmann/mailrank/database"
	"github.com/siherrmann/mailrank/helper"
	"github.com/siherrmann/mailrank/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEmbeddingDim = 4

func testPipeline(t *testing.T) *pipeline.Pipeline {
	chunker := pipeline.SentenceChunker(1)

	embedder := func(ctx context.Context, text string) ([]float32, error) {
		embedding := make([]float32, testEmbeddingDim)
		embedding[len(text)%testEmbeddingDim] = 1
		return embedding, nil
	}

	return pipeline.NewPipeline(chunker, embedder, pipeline.DefaultExtractor(pipeline.DefaultExtractorConfig()))
}

func writeDocument(t *testing.T, root string, name string, content string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(root, name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
}

func newTestIngestor(t *testing.T, root string) (*Ingestor, *database.MemoryStore) {
	source, err := NewLocalSource(root)
	require.NoError(t, err)

	store := database.NewMemoryStore(testEmbeddingDim)
	ingestor, err := NewIngestor(source, testPipeline(t), store, store, store, 2, nil)
	require.NoError(t, err)

	return ingestor, store
}

func TestNewIngestor(t *testing.T) {
	store := database.NewMemoryStore(testEmbeddingDim)
	source, err := NewLocalSource(t.TempDir())
	require.NoError(t, err)

	t.Run("Valid", func(t *testing.T) {
		ingestor, err := NewIngestor(source, testPipeline(t), store, store, store, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultWorkers, ingestor.workers, "Expected the worker default to apply")
	})

	t.Run("Nil source", func(t *testing.T) {
		_, err := NewIngestor(nil, testPipeline(t), store, store, store, 2, nil)
		assert.Error(t, err)
	})

	t.Run("Nil pipeline", func(t *testing.T) {
		_, err := NewIngestor(source, nil, store, store, store, 2, nil)
		assert.Error(t, err)
	})

	t.Run("Nil store", func(t *testing.T) {
		_, err := NewIngestor(source, testPipeline(t), nil, store, store, 2, nil)
		assert.Error(t, err)
	})
}

func TestLocalSource(t *testing.T) {
	root := t.TempDir()
	writeDocument(t, root, "docs/orion.txt", "Project Orion kickoff next Monday.")
	writeDocument(t, root, "docs/notes.md", "Ada Lovelace maintains the API.")
	writeDocument(t, root, "archive/old.txt", "Archived content.")
	writeDocument(t, root, "docs/image.png", "binary")
	ctx := context.Background()

	source, err := NewLocalSource(root)
	require.NoError(t, err)

	t.Run("List all", func(t *testing.T) {
		paths, err := source.ListDocuments(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"archive/old.txt", "docs/notes.md", "docs/orion.txt"}, paths, "Expected sorted text documents only")
	})

	t.Run("List by prefix", func(t *testing.T) {
		paths, err := source.ListDocuments(ctx, "docs/")
		require.NoError(t, err)
		assert.Equal(t, []string{"docs/notes.md", "docs/orion.txt"}, paths)
	})

	t.Run("Read", func(t *testing.T) {
		document, err := source.ReadDocument(ctx, "docs/orion.txt")
		require.NoError(t, err)
		assert.Equal(t, "docs/orion.txt", document.Path)
		assert.Equal(t, "Project Orion kickoff next Monday.", document.Content)
	})

	t.Run("Read missing", func(t *testing.T) {
		_, err := source.ReadDocument(ctx, "docs/missing.txt")
		assert.ErrorIs(t, err, helper.ErrNotFound)
	})

	t.Run("Not a directory", func(t *testing.T) {
		_, err := NewLocalSource(filepath.Join(root, "docs/orion.txt"))
		assert.Error(t, err)
	})
}

func TestIngestPrefix(t *testing.T) {
	root := t.TempDir()
	writeDocument(t, root, "docs/orion.txt", "Project Orion kickoff next Monday. Ada Lovelace will lead.")
	writeDocument(t, root, "docs/infra.txt", "The API gateway feeds MailRank events.")
	ingestor, store := newTestIngestor(t, root)
	ctx := context.Background()

	report, err := ingestor.IngestPrefix(ctx, "docs/")
	require.NoError(t, err)

	assert.NotEmpty(t, report.EventID)
	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, 3, report.Chunks)
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.FlaggedChunks)

	chunk, err := store.SelectChunk(ctx, pipeline.ChunkID("docs/orion.txt", 0))
	require.NoError(t, err)
	assert.Equal(t, "docs/orion.txt", chunk.DocumentPath)
	assert.Equal(t, report.EventID, chunk.EventID)
	assert.Len(t, chunk.Embedding, testEmbeddingDim)

	orion, err := store.SelectEntityByName(ctx, "Orion", model.EntityTypeProject)
	require.NoError(t, err)
	assert.Contains(t, orion.Mentions, pipeline.ChunkID("docs/orion.txt", 0))
}

func TestIngestPrefixIdempotence(t *testing.T) {
	root := t.TempDir()
	writeDocument(t, root, "docs/orion.txt", "Project Orion kickoff next Monday. Ada Lovelace will lead.")
	ingestor, store := newTestIngestor(t, root)
	ctx := context.Background()

	_, err := ingestor.IngestPrefix(ctx, "docs/")
	require.NoError(t, err)

	countAfterFirst, err := store.CountEntities(ctx)
	require.NoError(t, err)

	_, err = ingestor.IngestPrefix(ctx, "docs/")
	require.NoError(t, err)

	countAfterSecond, err := store.CountEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, countAfterFirst, countAfterSecond, "Expected re-ingestion to merge, not duplicate")

	orion, err := store.SelectEntityByName(ctx, "Orion", model.EntityTypeProject)
	require.NoError(t, err)
	assert.Equal(t, []string{pipeline.ChunkID("docs/orion.txt", 0)}, orion.Mentions, "Expected the mention set to stay deduplicated")
}

func TestIngestPrefixSimilarPathsStayApart(t *testing.T) {
	root := t.TempDir()
	// Both paths sanitize to the same id slug.
	writeDocument(t, root, "docs/team-sync.txt", "Weekly sync moved to Tuesday.")
	writeDocument(t, root, "docs/team_sync.txt", "Project Orion kickoff next Monday.")
	ingestor, store := newTestIngestor(t, root)
	ctx := context.Background()

	report, err := ingestor.IngestPrefix(ctx, "docs/")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Documents)

	hyphenated, err := store.SelectChunksByDocument(ctx, "docs/team-sync.txt")
	require.NoError(t, err)
	require.Len(t, hyphenated, 1, "Expected the first document to survive ingesting the second")
	assert.Equal(t, "Weekly sync moved to Tuesday.", hyphenated[0].Text)

	underscored, err := store.SelectChunksByDocument(ctx, "docs/team_sync.txt")
	require.NoError(t, err)
	require.Len(t, underscored, 1)
	assert.NotEqual(t, hyphenated[0].ChunkID, underscored[0].ChunkID)
}

func TestIngestPrefixPrunesStaleChunks(t *testing.T) {
	root := t.TempDir()
	writeDocument(t, root, "docs/orion.txt", "Project Orion kickoff next Monday. Ada Lovelace will lead.")
	ingestor, store := newTestIngestor(t, root)
	ctx := context.Background()

	_, err := ingestor.IngestPrefix(ctx, "docs/")
	require.NoError(t, err)

	_, err = store.SelectChunk(ctx, pipeline.ChunkID("docs/orion.txt", 1))
	require.NoError(t, err, "Expected the second sentence chunk after the first run")

	// The document shrinks to a single sentence.
	writeDocument(t, root, "docs/orion.txt", "Project Orion kickoff next Monday.")

	_, err = ingestor.IngestPrefix(ctx, "docs/")
	require.NoError(t, err)

	_, err = store.SelectChunk(ctx, pipeline.ChunkID("docs/orion.txt", 1))
	assert.ErrorIs(t, err, helper.ErrNotFound, "Expected the stale chunk to be removed")

	ada, err := store.SelectEntityByName(ctx, "Ada Lovelace", model.EntityTypePerson)
	require.NoError(t, err)
	assert.NotContains(t, ada.Mentions, pipeline.ChunkID("docs/orion.txt", 1), "Expected stale mentions to be pruned")
}

// flakySource wraps another source and fails reads for one path
type flakySource struct {
	DocumentSource
	failPath string
}

func (s *flakySource) ReadDocument(ctx context.Context, path string) (*model.Document, error) {
	if path == s.failPath {
		return nil, fmt.Errorf("unreadable document")
	}
	return s.DocumentSource.ReadDocument(ctx, path)
}

func TestIngestPrefixErrorIsolation(t *testing.T) {
	root := t.TempDir()
	writeDocument(t, root, "docs/good.txt", "Project Orion kickoff next Monday.")
	writeDocument(t, root, "docs/bad.txt", "Never read.")
	ctx := context.Background()

	local, err := NewLocalSource(root)
	require.NoError(t, err)

	store := database.NewMemoryStore(testEmbeddingDim)
	ingestor, err := NewIngestor(&flakySource{DocumentSource: local, failPath: "docs/bad.txt"}, testPipeline(t), store, store, store, 2, nil)
	require.NoError(t, err)

	report, err := ingestor.IngestPrefix(ctx, "docs/")
	require.NoError(t, err, "Expected a bad document to not abort the run")

	assert.Equal(t, 1, report.Documents)
	require.Contains(t, report.Errors, "docs/bad.txt")
	assert.Contains(t, report.Errors["docs/bad.txt"], "unreadable")

	_, err = store.SelectChunk(ctx, pipeline.ChunkID("docs/good.txt", 0))
	assert.NoError(t, err, "Expected the healthy document to be ingested")
}

func TestIngestDocument(t *testing.T) {
	root := t.TempDir()
	writeDocument(t, root, "docs/orion.txt", "Project Orion kickoff next Monday.")
	ingestor, store := newTestIngestor(t, root)
	ctx := context.Background()

	report, err := ingestor.IngestDocument(ctx, "docs/orion.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Documents)
	assert.Equal(t, 1, report.Chunks)

	_, err = store.SelectChunk(ctx, pipeline.ChunkID("docs/orion.txt", 0))
	assert.NoError(t, err)

	_, err = ingestor.IngestDocument(ctx, "docs/missing.txt")
	assert.ErrorIs(t, err, helper.ErrNotFound)
}

func TestExtract(t *testing.T) {
	root := t.TempDir()
	writeDocument(t, root, "docs/orion.txt", "Ada Lovelace joined Project Orion.")
	ingestor, store := newTestIngestor(t, root)
	ctx := context.Background()

	result, err := ingestor.Extract(ctx, "docs/orion.txt")
	require.NoError(t, err)

	require.Len(t, result.Chunks, 1)
	require.Len(t, result.Entities, 2)
	require.Len(t, result.Relationships, 1)

	count, err := store.CountEntities(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "Expected extraction to leave the stores untouched")
}
