package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.85, cfg.Dedup.Threshold)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, 64, cfg.Embeddings.BatchSize)
	assert.Equal(t, 60*time.Second, cfg.Embeddings.Timeout())
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.TTL())
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digestbot.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[dedup]
threshold = 0.9
corpus_dir = "data/aggregated"

[embeddings]
provider = "hash"
dimension = 128

[kafka]
brokers = ["k1:9092", "k2:9092"]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Dedup.Threshold)
	assert.Equal(t, "data/aggregated", cfg.Dedup.CorpusDir)
	assert.Equal(t, DefaultIndexPath, cfg.Dedup.IndexPath, "unset keys keep their defaults")
	assert.Equal(t, "hash", cfg.Embeddings.Provider)
	assert.Equal(t, 128, cfg.Embeddings.Dimension)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, DefaultKafkaTopic, cfg.Kafka.Topic)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[dedup\nthreshold = "), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"DEDUP_THRESHOLD":         "0.8",
		"DEDUP_EMBED_PROVIDER":    "openai",
		"OPENAI_API_KEY":          "sk-test",
		"COHERE_API_KEY":          "ignored",
		"DEDUP_BATCH_SIZE":        "16",
		"DEDUP_SKIP_CORRUPT":      "true",
		"KAFKA_BOOTSTRAP_SERVERS": "a:9092, b:9092,",
		"S3_BUCKET":               "digests",
		"PORT":                    "  ",
	}))
	require.NoError(t, err)

	assert.Equal(t, 0.8, cfg.Dedup.Threshold)
	assert.Equal(t, "openai", cfg.Embeddings.Provider)
	assert.Equal(t, "sk-test", cfg.Embeddings.APIKey)
	assert.Equal(t, 16, cfg.Embeddings.BatchSize)
	assert.True(t, cfg.Dedup.SkipCorrupt)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "digests", cfg.S3.Bucket)
	assert.Equal(t, DefaultPort, cfg.Server.Port, "blank values are ignored")
}

func TestApplyEnvReportsEveryBadValue(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"DEDUP_THRESHOLD":   "high",
		"DEDUP_CONCURRENCY": "many",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEDUP_THRESHOLD")
	assert.Contains(t, err.Error(), "DEDUP_CONCURRENCY")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold too high", func(c *Config) { c.Dedup.Threshold = 1.5 }},
		{"threshold too low", func(c *Config) { c.Dedup.Threshold = -2 }},
		{"no index path", func(c *Config) { c.Dedup.IndexPath = "" }},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "bert" }},
		{"negative dimension", func(c *Config) { c.Embeddings.Dimension = -1 }},
		{"zero batch", func(c *Config) { c.Embeddings.BatchSize = 0 }},
		{"zero concurrency", func(c *Config) { c.Embeddings.Concurrency = 0 }},
		{"brokers without topic", func(c *Config) { c.Kafka.Brokers = []string{"k:9092"}; c.Kafka.Topic = "" }},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := DefaultConfig()
			c.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
