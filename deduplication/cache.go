package deduplication

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// EmbeddingCache stores normalized vectors by model and text so repeated articles
// are not sent to the embeddings provider again.
type EmbeddingCache interface {
	// Lookup returns one entry per text; misses are nil.
	Lookup(ctx context.Context, model string, texts []string) ([][]float32, error)
	Store(ctx context.Context, model string, texts []string, vectors [][]float32) error
	Close() error
}

// CacheConfig configures the Redis connection and key space of the embedding cache.
type CacheConfig struct {
	Addr     string // e.g. localhost:6379
	Password string
	DB       int
	Prefix   string // key prefix, default "embeddings:"
	TTL      time.Duration
}

// RedisEmbeddingCache is an EmbeddingCache backed by plain Redis strings.
type RedisEmbeddingCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisEmbeddingCache connects to Redis and verifies connectivity.
func NewRedisEmbeddingCache(cfg CacheConfig) (*RedisEmbeddingCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return newRedisEmbeddingCache(client, cfg), nil
}

func newRedisEmbeddingCache(client *redis.Client, cfg CacheConfig) *RedisEmbeddingCache {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "embeddings:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisEmbeddingCache{client: client, prefix: prefix, ttl: ttl}
}

// Close closes the underlying Redis client.
func (c *RedisEmbeddingCache) Close() error {
	return c.client.Close()
}

// Lookup fetches cached vectors with a single MGET. Hits get their TTL
// refreshed, so entries stay while the same articles keep coming back.
func (c *RedisEmbeddingCache) Lookup(ctx context.Context, model string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(model, t)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	hits := make([]string, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		vec, err := decodeVector([]byte(s))
		if err != nil {
			continue
		}
		out[i] = vec
		hits = append(hits, keys[i])
	}

	if len(hits) > 0 {
		pipe := c.client.Pipeline()
		for _, k := range hits {
			pipe.Expire(ctx, k, c.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("refresh cache ttl: %w", err)
		}
	}
	return out, nil
}

// Store writes vectors in one pipeline.
func (c *RedisEmbeddingCache) Store(ctx context.Context, model string, texts []string, vectors [][]float32) error {
	if len(texts) != len(vectors) {
		return fmt.Errorf("cache store: %d texts but %d vectors", len(texts), len(vectors))
	}
	if len(texts) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for i, t := range texts {
		pipe.Set(ctx, c.key(model, t), encodeVector(vectors[i]), c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// key is prefix + sha256(model NUL text): the model is part of the key so
// switching models never serves stale vectors.
func (c *RedisEmbeddingCache) key(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return c.prefix + hex.EncodeToString(h.Sum(nil))
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 0, 4*len(v))
	for _, x := range v {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, errors.New("malformed cached vector")
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
