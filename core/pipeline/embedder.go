package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/knights-analytics/hugot"
	"github.com/siherrmann/mailrank/helper"
	"google.golang.org/genai"
)

// DefaultEmbeddingDim is the dimensionality of the default local model.
const DefaultEmbeddingDim = 384

// DefaultEmbedder creates an embedder using a local sentence
// transformer model. Uses the all-MiniLM-L6-v2 model which produces
// 384-dimensional embeddings.
func DefaultEmbedder() (EmbedFunc, error) {
	// Prepare model (download if needed)
	modelName := "sentence-transformers/all-MiniLM-L6-v2"
	modelPath, err := helper.PrepareModel(modelName, "")
	if err != nil {
		return nil, err
	}

	// Initialize hugot session with Go backend
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	// Create sentence transformers pipeline configuration
	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "embedder-pipeline",
	}
	sentencePipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create sentence pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create sentence pipeline: %w", err)
	}

	return func(ctx context.Context, text string) ([]float32, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := sentencePipeline.RunPipeline([]string{text})
		if err != nil {
			return nil, helper.NewError("generate embedding", fmt.Errorf("%v: %w", err, helper.ErrUnavailable))
		}

		if len(result.Embeddings) == 0 {
			return nil, fmt.Errorf("no embedding generated")
		}

		return result.Embeddings[0], nil
	}, nil
}

// GeminiEmbedder creates an embedder backed by the Gemini embedding
// API. Provider failures are reported as Unavailable so callers can
// retry them with bounded backoff.
func GeminiEmbedder(apiKey string, model string) EmbedFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		if apiKey == "" {
			return nil, helper.NewError("gemini embedding", helper.ErrUnavailable)
		}

		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, helper.NewError("gemini client", fmt.Errorf("%v: %w", err, helper.ErrUnavailable))
		}

		resp, err := client.Models.EmbedContent(
			ctx,
			model,
			[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}},
			nil,
		)
		if err != nil {
			return nil, helper.NewError("gemini embedding", fmt.Errorf("%v: %w", err, helper.ErrUnavailable))
		}
		if len(resp.Embeddings) == 0 {
			return nil, helper.NewError("gemini embedding", fmt.Errorf("no embedding values returned"))
		}

		return resp.Embeddings[0].Values, nil
	}
}

// CachedEmbedder wraps an embedder with an expiring LRU cache keyed by
// the input text. Embeddings are deterministic per model, so caching
// only trades memory for provider calls.
func CachedEmbedder(next EmbedFunc, size int, ttl time.Duration) EmbedFunc {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}

	cache := expirable.NewLRU[string, []float32](size, nil, ttl)

	return func(ctx context.Context, text string) ([]float32, error) {
		if cached, ok := cache.Get(text); ok {
			return cloneEmbedding(cached), nil
		}

		embedding, err := next(ctx, text)
		if err != nil {
			return nil, err
		}

		cache.Add(text, cloneEmbedding(embedding))
		return embedding, nil
	}
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
