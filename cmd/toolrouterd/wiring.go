package main

import (
	"context"
	"fmt"

	"github.com/toolrouter/toolrouter/pkg/config"
	"github.com/toolrouter/toolrouter/pkg/embedding"
	"github.com/toolrouter/toolrouter/pkg/indexer"
	"github.com/toolrouter/toolrouter/pkg/logger"
	"github.com/toolrouter/toolrouter/pkg/registry"
	"github.com/toolrouter/toolrouter/pkg/supervisor"
	"github.com/toolrouter/toolrouter/pkg/vectorstore"
)

// app bundles the core collaborators wired from a resolved Config, shared
// by every sub-command.
type app struct {
	cfg        *config.Config
	store      *vectorstore.Store
	embeddings embedding.Client
	registry   *registry.Registry
	supervisor *supervisor.Supervisor
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.NewResolver().Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve configuration: %w", err)
	}

	embeddings, err := buildEmbeddingClient(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding client: %w", err)
	}

	// Resolve the embedding dimension up front so the vector store never
	// has to bootstrap its collection before a dimension is known. If the
	// embedding endpoint is briefly unreachable, the store's own retry on
	// next touch still recovers; this just avoids relying on that.
	if _, err := embeddings.ProbeDims(ctx); err != nil {
		logger.Warnf("failed to probe embedding dimension at startup, will retry on first use: %v", err)
	}

	store, err := vectorstore.New(cfg.VectorDB.Path, embeddings.Dims)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	reg := registry.New()

	deps := indexer.Deps{
		Store:      store,
		Embeddings: embeddings,
		Registry:   reg,
	}

	return &app{
		cfg:        cfg,
		store:      store,
		embeddings: embeddings,
		registry:   reg,
		supervisor: supervisor.New(cfg, deps),
	}, nil
}

func buildEmbeddingClient(cfg config.EmbeddingConfig) (embedding.Client, error) {
	opts := embedding.Options{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
		Headers: cfg.Headers,
	}
	if cfg.Provider == "legacy" {
		return embedding.NewLegacyClient(opts)
	}
	return embedding.NewOpenAICompatibleClient(opts), nil
}
