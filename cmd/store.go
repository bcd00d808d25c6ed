package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tariff-engine/internal/catalog"
	"github.com/sells-group/tariff-engine/internal/extract"
	"github.com/sells-group/tariff-engine/pkg/anthropic"
)

func initStore(ctx context.Context) (catalog.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "tariff.db"
		}
		return catalog.NewSQLite(dsn)
	case "postgres":
		return catalog.NewPostgres(ctx, cfg.Store.DatabaseURL, &catalog.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initGenerator builds the formula extractor. Without an API key the
// generator still pattern-matches; only the AI fallback is unavailable.
func initGenerator(candidates extract.CandidateStore) *extract.Generator {
	var ai anthropic.Client
	if cfg.Anthropic.Key != "" {
		ai = anthropic.NewClient(cfg.Anthropic.Key)
	}
	return extract.NewGenerator(ai, candidates, extract.Config{
		Model:               cfg.Anthropic.Model,
		MaxTokens:           cfg.Extract.MaxTokens,
		Timeout:             time.Duration(cfg.Extract.TimeoutSecs) * time.Second,
		ConfidenceThreshold: cfg.Extract.ConfidenceThreshold,
		MaxConcurrent:       cfg.Extract.MaxConcurrent,
		RequestsPerSecond:   cfg.Extract.RequestsPerSecond,
	})
}
