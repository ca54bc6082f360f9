package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/siherrmann/mailrank"
	"github.com/siherrmann/mailrank/core/ingest"
	"github.com/siherrmann/mailrank/database"
	"github.com/siherrmann/mailrank/helper"
	"github.com/siherrmann/mailrank/model"
)

// scoringConfig builds the scoring configuration from defaults with
// viper overrides applied
func scoringConfig() model.ScoringConfig {
	config := model.DefaultScoringConfig()

	if viper.IsSet("scoring.weights.context_relevance") {
		config.Weights.ContextRelevance = viper.GetFloat64("scoring.weights.context_relevance")
	}
	if viper.IsSet("scoring.weights.entity_overlap") {
		config.Weights.EntityOverlap = viper.GetFloat64("scoring.weights.entity_overlap")
	}
	if viper.IsSet("scoring.weights.urgency") {
		config.Weights.Urgency = viper.GetFloat64("scoring.weights.urgency")
	}
	if viper.IsSet("scoring.weights.recency") {
		config.Weights.Recency = viper.GetFloat64("scoring.weights.recency")
	}
	if viper.IsSet("scoring.top_k") {
		config.TopK = viper.GetInt("scoring.top_k")
	}
	if viper.IsSet("scoring.similarity_threshold") {
		config.SimilarityThreshold = viper.GetFloat64("scoring.similarity_threshold")
	}
	if viper.IsSet("scoring.urgency_keywords") {
		config.UrgencyKeywords = viper.GetStringSlice("scoring.urgency_keywords")
	}
	if viper.IsSet("scoring.senior_senders") {
		config.SeniorSenders = viper.GetStringSlice("scoring.senior_senders")
	}
	if viper.IsSet("scoring.signal_timeout") {
		config.SignalTimeout = viper.GetDuration("scoring.signal_timeout")
	}

	return config
}

// buildApp creates a Mailrank instance from the configuration, backed
// by Postgres or by in-memory stores with the --memory flag
func buildApp() (*mailrank.Mailrank, error) {
	dimensions := viper.GetInt("embedding.dimensions")
	config := scoringConfig()

	memory, _ := rootCmd.PersistentFlags().GetBool("memory")
	if memory {
		store := database.NewMemoryStore(dimensions)
		app, err := mailrank.NewMailrankWithStores(store, store, store, config, nil)
		if err != nil {
			return nil, err
		}
		return app, app.UseDefaultPipeline()
	}

	databaseConfig, err := helper.NewDatabaseConfiguration()
	if err != nil {
		return nil, err
	}

	app, err := mailrank.NewMailrank(databaseConfig, dimensions, config)
	if err != nil {
		return nil, err
	}
	return app, app.UseDefaultPipeline()
}

// buildSource creates the document source configured under source.*
func buildSource(ctx context.Context) (ingest.DocumentSource, error) {
	switch sourceType := viper.GetString("source.type"); sourceType {
	case "local":
		return ingest.NewLocalSource(viper.GetString("source.root"))
	case "s3":
		bucket := viper.GetString("source.bucket")
		if bucket == "" {
			return nil, fmt.Errorf("source.bucket is required for the s3 source")
		}
		loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return ingest.NewS3Source(loadCtx, bucket)
	default:
		return nil, fmt.Errorf("unknown source type %v, want local or s3", sourceType)
	}
}
