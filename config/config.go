// Package config loads engine settings from an optional TOML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type DedupConfig struct {
	Threshold   float64 `toml:"threshold"`
	IndexPath   string  `toml:"index_path"`
	CorpusDir   string  `toml:"corpus_dir"`
	OutputPath  string  `toml:"output"`
	SkipCorrupt bool    `toml:"skip_corrupt"`
}

type EmbeddingsConfig struct {
	Provider       string `toml:"provider"`
	Model          string `toml:"model"`
	Dimension      int    `toml:"dimension"`
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	BatchSize      int    `toml:"batch_size"`
	Concurrency    int    `toml:"concurrency"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Timeout returns the per-call provider timeout.
func (e EmbeddingsConfig) Timeout() time.Duration {
	if e.TimeoutSeconds <= 0 {
		return DefaultEmbedTimeout
	}
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// CacheConfig enables the Redis embedding cache when Addr is set.
type CacheConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
	TTLHours int    `toml:"ttl_hours"`
}

func (c CacheConfig) TTL() time.Duration {
	if c.TTLHours <= 0 {
		return DefaultCacheTTL
	}
	return time.Duration(c.TTLHours) * time.Hour
}

// S3Config enables the artifact mirror when Bucket is set.
type S3Config struct {
	Bucket       string `toml:"bucket"`
	Region       string `toml:"region"`
	Profile      string `toml:"profile"`
	Prefix       string `toml:"prefix"`
	Endpoint     string `toml:"endpoint"`
	UsePathStyle bool   `toml:"use_path_style"`
}

// KafkaConfig enables run events when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

type HistoryConfig struct {
	// DSN is a SQLite file path, or a postgres:// URL. Empty disables history.
	DSN string `toml:"dsn"`
}

type ServerConfig struct {
	Port string `toml:"port"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Config struct {
	Dedup      DedupConfig      `toml:"dedup"`
	Embeddings EmbeddingsConfig `toml:"embeddings"`
	Cache      CacheConfig      `toml:"cache"`
	S3         S3Config         `toml:"s3"`
	Kafka      KafkaConfig      `toml:"kafka"`
	History    HistoryConfig    `toml:"history"`
	Server     ServerConfig     `toml:"server"`
	Log        LogConfig        `toml:"log"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Dedup: DedupConfig{
			Threshold:  DefaultThreshold,
			IndexPath:  DefaultIndexPath,
			CorpusDir:  DefaultCorpusDir,
			OutputPath: DefaultOutputPath,
		},
		Embeddings: EmbeddingsConfig{
			Provider:       DefaultProvider,
			BatchSize:      DefaultBatchSize,
			Concurrency:    DefaultConcurrency,
			TimeoutSeconds: int(DefaultEmbedTimeout / time.Second),
		},
		Cache: CacheConfig{
			Prefix:   DefaultCachePrefix,
			TTLHours: int(DefaultCacheTTL / time.Hour),
		},
		Kafka:   KafkaConfig{Topic: DefaultKafkaTopic},
		History: HistoryConfig{DSN: DefaultHistoryDSN},
		Server:  ServerConfig{Port: DefaultPort},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults, then applies environment overrides and validates.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from environment variables read through lookup.
//
// Engine: DEDUP_THRESHOLD, DEDUP_INDEX_PATH, DEDUP_CORPUS_DIR, DEDUP_OUTPUT,
// DEDUP_SKIP_CORRUPT, DEDUP_EMBED_PROVIDER, DEDUP_EMBED_MODEL, DEDUP_EMBED_DIM,
// DEDUP_EMBED_BASE_URL, DEDUP_BATCH_SIZE, DEDUP_CONCURRENCY, DEDUP_HISTORY_DSN.
// Services: OPENAI_API_KEY, COHERE_API_KEY, REDIS_ADDR, REDIS_PASS, S3_BUCKET,
// S3_REGION, S3_PROFILE, S3_PREFIX, S3_ENDPOINT, S3_USE_PATH_STYLE, KAFKA_BOOTSTRAP_SERVERS,
// KAFKA_TOPIC, PORT, LOG_LEVEL, LOG_FORMAT.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("DEDUP_INDEX_PATH", &c.Dedup.IndexPath)
	str("DEDUP_CORPUS_DIR", &c.Dedup.CorpusDir)
	str("DEDUP_OUTPUT", &c.Dedup.OutputPath)
	str("DEDUP_EMBED_PROVIDER", &c.Embeddings.Provider)
	str("DEDUP_EMBED_MODEL", &c.Embeddings.Model)
	str("DEDUP_EMBED_BASE_URL", &c.Embeddings.BaseURL)
	str("DEDUP_HISTORY_DSN", &c.History.DSN)
	str("REDIS_ADDR", &c.Cache.Addr)
	str("REDIS_PASS", &c.Cache.Password)
	str("S3_BUCKET", &c.S3.Bucket)
	str("S3_REGION", &c.S3.Region)
	str("S3_PROFILE", &c.S3.Profile)
	str("S3_PREFIX", &c.S3.Prefix)
	str("S3_ENDPOINT", &c.S3.Endpoint)
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	str("PORT", &c.Server.Port)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	// The API key follows the selected provider.
	switch strings.ToLower(c.Embeddings.Provider) {
	case "openai":
		str("OPENAI_API_KEY", &c.Embeddings.APIKey)
	case "cohere":
		str("COHERE_API_KEY", &c.Embeddings.APIKey)
	}

	if v, ok := lookup("KAFKA_BOOTSTRAP_SERVERS"); ok && strings.TrimSpace(v) != "" {
		c.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Kafka.Brokers = append(c.Kafka.Brokers, b)
			}
		}
	}

	var errs []error
	if err := parseFloat(lookup, "DEDUP_THRESHOLD", &c.Dedup.Threshold); err != nil {
		errs = append(errs, err)
	}
	if err := parseInt(lookup, "DEDUP_EMBED_DIM", &c.Embeddings.Dimension); err != nil {
		errs = append(errs, err)
	}
	if err := parseInt(lookup, "DEDUP_BATCH_SIZE", &c.Embeddings.BatchSize); err != nil {
		errs = append(errs, err)
	}
	if err := parseInt(lookup, "DEDUP_CONCURRENCY", &c.Embeddings.Concurrency); err != nil {
		errs = append(errs, err)
	}
	if err := parseBool(lookup, "DEDUP_SKIP_CORRUPT", &c.Dedup.SkipCorrupt); err != nil {
		errs = append(errs, err)
	}
	if err := parseBool(lookup, "S3_USE_PATH_STYLE", &c.S3.UsePathStyle); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks that the configuration has usable values.
func (c Config) Validate() error {
	if c.Dedup.Threshold < -1 || c.Dedup.Threshold > 1 {
		return fmt.Errorf("threshold must be between -1.0 and 1.0 (got %.4f)", c.Dedup.Threshold)
	}
	if c.Dedup.IndexPath == "" {
		return errors.New("index_path must not be empty")
	}
	if c.Dedup.OutputPath == "" {
		return errors.New("output must not be empty")
	}
	switch strings.ToLower(c.Embeddings.Provider) {
	case "ollama", "openai", "cohere", "hash":
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension < 0 {
		return fmt.Errorf("dimension cannot be negative (got %d)", c.Embeddings.Dimension)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive (got %d)", c.Embeddings.BatchSize)
	}
	if c.Embeddings.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive (got %d)", c.Embeddings.Concurrency)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka topic must be set when brokers are configured")
	}
	return nil
}

func parseFloat(lookup func(string) (string, bool), key string, dst *float64) error {
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = f
	return nil
}

func parseInt(lookup func(string) (string, bool), key string, dst *int) error {
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func parseBool(lookup func(string) (string, bool), key string, dst *bool) error {
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}
