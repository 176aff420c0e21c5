package deduplication

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize   = 64
	DefaultConcurrency = 4
)

// Encoder turns texts into unit-length vectors. It batches calls to the provider and
// may run several batches at once, but results always line up with the input order
// and do not depend on the batch size.
type Encoder struct {
	provider    EmbeddingsProvider
	cache       EmbeddingCache
	batchSize   int
	concurrency int
	logger      zerolog.Logger
}

// EncoderOption customizes an Encoder.
type EncoderOption func(*Encoder)

func WithBatchSize(n int) EncoderOption {
	return func(e *Encoder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

func WithConcurrency(n int) EncoderOption {
	return func(e *Encoder) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithCache enables the embedding cache. A nil cache is ignored.
func WithCache(c EmbeddingCache) EncoderOption {
	return func(e *Encoder) { e.cache = c }
}

func WithLogger(l zerolog.Logger) EncoderOption {
	return func(e *Encoder) { e.logger = l }
}

func NewEncoder(provider EmbeddingsProvider, opts ...EncoderOption) *Encoder {
	e := &Encoder{
		provider:    provider,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ModelName identifies the vectors this encoder produces; it is stored with the index.
func (e *Encoder) ModelName() string { return e.provider.ModelName() }

// Dim is the length of every vector this encoder produces.
func (e *Encoder) Dim() int { return e.provider.Dim() }

// Encode returns one normalized vector per text. Any provider error or unusable vector
// fails the whole call with ErrEmbeddingFailure; no partial result is returned.
func (e *Encoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	model, dim := e.provider.ModelName(), e.provider.Dim()
	missing := e.fromCache(ctx, model, dim, texts, out)

	batches := (len(missing) + e.batchSize - 1) / e.batchSize
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for b := 0; b < batches; b++ {
		lo := b * e.batchSize
		hi := min(lo+e.batchSize, len(missing))
		positions := missing[lo:hi]

		g.Go(func() error {
			batch := make([]string, len(positions))
			for i, p := range positions {
				batch[i] = texts[p]
			}

			vectors, err := e.provider.EmbedTexts(gctx, batch)
			if err != nil {
				return fmt.Errorf("%w: batch %d/%d: %v", ErrEmbeddingFailure, b+1, batches, err)
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("%w: batch %d/%d: got %d vectors for %d texts", ErrEmbeddingFailure, b+1, batches, len(vectors), len(batch))
			}

			for i, p := range positions {
				if len(vectors[i]) != dim {
					return fmt.Errorf("%w: text %d: vector has dimension %d, expected %d", ErrEmbeddingFailure, p, len(vectors[i]), dim)
				}
				v := append([]float32(nil), vectors[i]...)
				if err := NormalizeL2(v); err != nil {
					return fmt.Errorf("text %d: %w", p, err)
				}
				out[p] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.toCache(ctx, model, texts, missing, out)
	e.logger.Debug().
		Int("texts", len(texts)).
		Int("cached", len(texts)-len(missing)).
		Int("batches", batches).
		Msg("encoded texts")
	return out, nil
}

// fromCache fills out with cached vectors and returns the positions still to embed.
func (e *Encoder) fromCache(ctx context.Context, model string, dim int, texts []string, out [][]float32) []int {
	missing := make([]int, 0, len(texts))
	if e.cache == nil {
		for i := range texts {
			missing = append(missing, i)
		}
		return missing
	}

	cached, err := e.cache.Lookup(ctx, model, texts)
	if err != nil || len(cached) != len(texts) {
		e.logger.Warn().Err(err).Msg("embedding cache lookup failed; embedding everything")
		cached = make([][]float32, len(texts))
	}
	rejected := 0
	for i, v := range cached {
		if len(v) == dim && isUnit(v) {
			out[i] = v
			continue
		}
		if v != nil {
			rejected++
		}
		missing = append(missing, i)
	}
	if rejected > 0 {
		e.logger.Warn().Int("entries", rejected).Msg("ignoring cached vectors that are not unit length")
	}
	return missing
}

// isUnit reports whether v has a finite L2 norm within 1e-4 of 1.
func isUnit(v []float32) bool {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	return !math.IsNaN(norm) && math.Abs(norm-1) <= 1e-4
}

func (e *Encoder) toCache(ctx context.Context, model string, texts []string, positions []int, out [][]float32) {
	if e.cache == nil || len(positions) == 0 {
		return
	}
	keys := make([]string, len(positions))
	vectors := make([][]float32, len(positions))
	for i, p := range positions {
		keys[i] = texts[p]
		vectors[i] = out[p]
	}
	if err := e.cache.Store(ctx, model, keys, vectors); err != nil {
		e.logger.Warn().Err(err).Int("vectors", len(vectors)).Msg("embedding cache store failed")
	}
}
