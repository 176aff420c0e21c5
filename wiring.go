package main

import (
	"context"
	"time"

	"digestbot/config"
	"digestbot/deduplication"
	"digestbot/events"
	"digestbot/history"
	"digestbot/orchestrator"
	"digestbot/storage"

	"github.com/rs/zerolog"
)

// newEncoder builds the embeddings provider and, when REDIS_ADDR is set, the
// embedding cache. The returned cleanup closes the cache.
func newEncoder(c *config.Config, log zerolog.Logger) (*deduplication.Encoder, func(), error) {
	provider, err := deduplication.NewEmbeddingsProvider(deduplication.ProviderConfig{
		Provider:  c.Embeddings.Provider,
		Model:     c.Embeddings.Model,
		Dimension: c.Embeddings.Dimension,
		APIKey:    c.Embeddings.APIKey,
		BaseURL:   c.Embeddings.BaseURL,
		Timeout:   c.Embeddings.Timeout(),
	})
	if err != nil {
		return nil, nil, err
	}

	opts := []deduplication.EncoderOption{
		deduplication.WithBatchSize(c.Embeddings.BatchSize),
		deduplication.WithConcurrency(c.Embeddings.Concurrency),
		deduplication.WithLogger(log),
	}
	cleanup := func() {}
	if c.Cache.Addr != "" {
		cache, err := deduplication.NewRedisEmbeddingCache(deduplication.CacheConfig{
			Addr:     c.Cache.Addr,
			Password: c.Cache.Password,
			DB:       c.Cache.DB,
			Prefix:   c.Cache.Prefix,
			TTL:      c.Cache.TTL(),
		})
		if err != nil {
			log.Warn().Err(err).Msg("embedding cache unavailable; continuing without it")
		} else {
			opts = append(opts, deduplication.WithCache(cache))
			cleanup = func() { cache.Close() }
			log.Info().Str("addr", c.Cache.Addr).Msg("embedding cache enabled")
		}
	}

	log.Info().Str("model", provider.ModelName()).Int("dimension", provider.Dim()).Msg("embeddings provider ready")
	return deduplication.NewEncoder(provider, opts...), cleanup, nil
}

// openHistory opens the run ledger, or returns nil when it is disabled or unreachable.
func openHistory(c *config.Config, log zerolog.Logger) *history.SQLStore {
	if c.History.DSN == "" {
		return nil
	}
	store, err := history.Open(c.History.DSN)
	if err != nil {
		log.Warn().Err(err).Msg("run history unavailable")
		return nil
	}
	return store
}

// newMirror returns the S3 artifact mirror when S3_BUCKET is set.
func newMirror(ctx context.Context, c *config.Config, log zerolog.Logger) *storage.S3 {
	if c.S3.Bucket == "" {
		log.Debug().Msg("S3 not configured; skipping uploads")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	s3c, err := storage.NewS3(ctx, storage.S3Config{
		Bucket:       c.S3.Bucket,
		Prefix:       c.S3.Prefix,
		Region:       c.S3.Region,
		Profile:      c.S3.Profile,
		Endpoint:     c.S3.Endpoint,
		UsePathStyle: c.S3.UsePathStyle,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to init S3 client (uploads disabled)")
		return nil
	}
	return s3c
}

// newPublisher returns the Kafka run event publisher, or a no-op one.
func newPublisher(c *config.Config, log zerolog.Logger) events.Publisher {
	if len(c.Kafka.Brokers) == 0 {
		return events.NopPublisher{}
	}
	p, err := events.NewKafkaPublisher(c.Kafka.Brokers, c.Kafka.Topic)
	if err != nil {
		log.Warn().Err(err).Msg("kafka unavailable; run events disabled")
		return events.NopPublisher{}
	}
	return p
}

// newRunner wires a Runner from the loaded config. Side effects are skipped for dry
// runs. cleanup releases every connection it opened.
func newRunner(ctx context.Context, opts orchestrator.Options) (*orchestrator.Runner, func(), error) {
	encoder, closeCache, err := newEncoder(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	closers := []func(){closeCache}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := orchestrator.Dependencies{Encoder: encoder, Logger: &logger}
	if !opts.DryRun {
		if store := openHistory(cfg, logger); store != nil {
			closers = append(closers, func() { store.Close() })
			deps.History = store
		}
		// a nil *storage.S3 must not become a non-nil interface
		if mirror := newMirror(ctx, cfg, logger); mirror != nil {
			deps.Mirror = mirror
		}
		publisher := newPublisher(cfg, logger)
		closers = append(closers, func() { publisher.Close() })
		deps.Publisher = publisher
	}

	runner, err := orchestrator.NewRunner(opts, deps)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return runner, cleanup, nil
}

// configuredThreshold is the config threshold; DefaultConfig already holds 0.85, so
// an explicit 0 stays 0.
func configuredThreshold() *float32 {
	t := float32(cfg.Dedup.Threshold)
	return &t
}
