package config

import "time"

// Engine defaults
const (
	// DefaultThreshold is the cosine similarity at or above which an article is a duplicate
	DefaultThreshold = 0.85

	// DefaultIndexPath is where the similarity index is persisted between runs
	DefaultIndexPath = "deduplication/dedup.index"

	// DefaultCorpusDir holds the aggregated article files
	DefaultCorpusDir = "aggregation"

	// DefaultOutputPath is the unique articles file written by each run
	DefaultOutputPath = "deduplication/unique_articles.json"
)

// Embedding defaults
const (
	DefaultProvider    = "ollama"
	DefaultBatchSize   = 64
	DefaultConcurrency = 4

	// DefaultEmbedTimeout bounds a single provider call
	DefaultEmbedTimeout = 60 * time.Second
)

// Side effect defaults
const (
	DefaultCachePrefix = "embeddings:"
	DefaultCacheTTL    = 7 * 24 * time.Hour
	DefaultKafkaTopic  = "dedup.runs"
	DefaultHistoryDSN  = "deduplication/history.db"
	DefaultPort        = "8080"
)
