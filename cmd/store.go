package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/panopticon-door/panopticon/internal/config"
	"github.com/panopticon-door/panopticon/internal/database/postgres"
	"github.com/panopticon-door/panopticon/internal/embedder"
	"github.com/panopticon-door/panopticon/internal/engine"
	"github.com/spf13/cobra"
)

// openEngine connects to PostgreSQL, runs migrations and wires the engine.
// The caller owns the returned pool and must close it.
func openEngine(cfg *config.Config) (*engine.Engine, *postgres.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, nil, errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.Initialize(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	repo := postgres.NewRepository(pool)
	eng := engine.New(repo, engine.Options{
		Dim:               cfg.Embedding.Dim,
		MatchThreshold:    cfg.Match.Threshold,
		RefineThreshold:   cfg.Match.RefineThreshold,
		RefineEnabled:     cfg.Match.RefineEnabled,
		HNSWEnabled:       cfg.Match.HNSWEnabled,
		HNSWMinIdentities: cfg.Match.HNSWMinIdentities,
		StoreTimeout:      cfg.Database.StoreTimeout,
	})
	return eng, pool, nil
}

// resolveEmbedding reads an embedding from the --embedding-file flag, or
// sends the --image flag's file to the embedding service. Exactly one of
// the two must be given.
func resolveEmbedding(ctx context.Context, cmd *cobra.Command, cfg *config.Config) ([]float32, error) {
	embeddingFile := mustGetString(cmd, "embedding-file")
	imageFile := mustGetString(cmd, "image")

	switch {
	case embeddingFile != "" && imageFile != "":
		return nil, errors.New("use either --embedding-file or --image, not both")
	case embeddingFile != "":
		data, err := os.ReadFile(embeddingFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read embedding file: %w", err)
		}
		var embedding []float32
		if err := json.Unmarshal(data, &embedding); err != nil {
			return nil, fmt.Errorf("failed to parse embedding file: %w", err)
		}
		return embedding, nil
	case imageFile != "":
		data, err := os.ReadFile(imageFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read image file: %w", err)
		}
		client := embedder.NewClient(cfg.Embedding.URL, cfg.Embedding.Dim)
		embedding, err := client.Embed(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("failed to compute embedding: %w", err)
		}
		return embedding, nil
	default:
		return nil, errors.New("either --embedding-file or --image is required")
	}
}
