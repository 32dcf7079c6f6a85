/*
Copyright © 2026 James Lawson (jpl-au) <hello@caelisco.net>
*/

// setup.go assembles a Memory from the loaded configuration. Shared by
// serve, mcp and the one-shot commands.

package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/jpl-au/memd/internal/ai"
	"github.com/jpl-au/memd/internal/config"
	"github.com/jpl-au/memd/internal/docstore"
	"github.com/jpl-au/memd/internal/log"
	"github.com/jpl-au/memd/internal/memory"
	"github.com/jpl-au/memd/internal/metrics"
	"github.com/jpl-au/memd/internal/queue"
	"github.com/jpl-au/memd/internal/recordstore"
	"github.com/jpl-au/memd/internal/tokens"
)

// setup builds and starts a Memory per the configuration. The caller
// must Close it.
func setup(ctx context.Context, cfg config.Config, logger *zap.Logger) (*memory.Memory, error) {
	docs, err := docstore.NewFS(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}

	var records recordstore.Store
	switch cfg.Records.Backend {
	case "memory":
		records = recordstore.NewMemory()
	default:
		records, err = recordstore.OpenSQLite(cfg.Records.DSN)
		if err != nil {
			return nil, fmt.Errorf("open record store: %w", err)
		}
	}

	// Providers run behind circuit breakers so an outage fails fast and
	// stays transient for the orchestrator's retry machinery.
	embedder := ai.NewBreakerEmbedder(ai.NewDeterministic(cfg.Records.VectorSize), gobreaker.Settings{})
	generator := ai.NewBreakerGenerator(&ai.Echo{}, gobreaker.Settings{})

	b := memory.New().
		WithDocumentStore(docs).
		WithRecordStore(records).
		WithEmbedder(embedder).
		WithTextGenerator(generator).
		WithLogger(logger).
		WithMaxRetries(cfg.Pipeline.MaxRetries).
		WithWorkers(cfg.Pipeline.Workers).
		WithChunking(cfg.Pipeline.TargetTokens, cfg.Pipeline.OverlapTokens).
		WithSummarize(cfg.Pipeline.Summarize).
		WithSearchTuning(cfg.Search.Limit, cfg.Search.MinRelevance, cfg.Search.FactBudget, cfg.Search.AnswerTimeout).
		WithMetrics(metrics.New(prometheus.DefaultRegisterer))

	// Real BPE counting when the vocabulary is reachable; word-count
	// heuristic otherwise so offline deployments still chunk sensibly.
	if counter, err := tokens.NewTiktoken(""); err == nil {
		b = b.WithTokenCounter(counter)
	} else {
		logger.Warn("tiktoken unavailable, using heuristic token counter", zap.Error(err))
		b = b.WithTokenCounter(tokens.Heuristic{})
	}

	if cfg.Queue.Backend == "redis" {
		b = b.WithQueueFactory(queue.NewRedisFactory(cfg.Queue.RedisAddr)).
			WithQueueVisibility(cfg.Queue.Visibility)
	}

	mem, err := b.Build()
	if err != nil {
		return nil, err
	}
	if err := mem.Start(ctx); err != nil {
		return nil, err
	}
	return mem, nil
}

// loadConfig loads configuration and builds the logger.
func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := log.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}
