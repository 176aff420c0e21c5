package deduplication

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// SimilarityThreshold is the default cosine similarity at or above which an article
// is a duplicate of something already in the index.
const SimilarityThreshold float32 = 0.85

// Label is the outcome of classifying one article.
type Label string

const (
	LabelUnique    Label = "unique"
	LabelDuplicate Label = "duplicate"
)

// Decision is the classification of a single input vector.
type Decision struct {
	Label Label `json:"label"`
	// Score is the similarity to the nearest pre-existing entry; zero when the index was empty.
	Score float32 `json:"similarity_score"`
	// Match is the position of that nearest entry, -1 when the index was empty.
	Match int `json:"matching_position"`
	// Position is the index position assigned to a unique item, -1 for duplicates
	// and for read-only checks.
	Position int `json:"position"`
}

// Classification is the result of classifying one batch.
type Classification struct {
	Decisions []Decision
	// Unique and Duplicates are positions into the input order, ascending.
	Unique     []int
	Duplicates []int
}

// Check labels every vector against the index without changing it. With an empty
// index every vector is unique and nothing is searched. Otherwise each vector's single
// nearest neighbor decides: score >= threshold is a duplicate.
//
// Vectors of the same batch are never compared with each other, only with entries
// already in the index. Two near-identical articles arriving in one run are both unique.
func Check(idx *Index, vectors [][]float32, threshold float32) ([]Decision, error) {
	decisions := make([]Decision, len(vectors))
	if idx.Len() == 0 {
		for i := range decisions {
			decisions[i] = Decision{Label: LabelUnique, Match: -1, Position: -1}
		}
		return decisions, nil
	}
	if len(vectors) == 0 {
		return decisions, nil
	}

	scores, positions, err := idx.Search(vectors, 1)
	if err != nil {
		return nil, fmt.Errorf("nearest neighbor search: %w", err)
	}
	for i := range vectors {
		d := Decision{Label: LabelUnique, Score: scores[i][0], Match: positions[i][0], Position: -1}
		if d.Score >= threshold {
			d.Label = LabelDuplicate
		}
		decisions[i] = d
	}
	return decisions, nil
}

// Classify labels a batch and returns the index grown by the unique vectors.
// Unique vectors are appended in input order only after every decision is made; the
// index passed in is left untouched so a failed run never leaks partial growth.
func Classify(idx *Index, vectors [][]float32, threshold float32) (*Index, Classification, error) {
	decisions, err := Check(idx, vectors, threshold)
	if err != nil {
		return nil, Classification{}, err
	}

	result := Classification{
		Decisions:  decisions,
		Unique:     []int{},
		Duplicates: []int{},
	}
	var fresh [][]float32
	next := idx.Len()
	for i := range decisions {
		if decisions[i].Label == LabelDuplicate {
			result.Duplicates = append(result.Duplicates, i)
			continue
		}
		decisions[i].Position = next
		next++
		result.Unique = append(result.Unique, i)
		fresh = append(fresh, vectors[i])
	}

	grown := idx.Clone()
	if err := grown.Add(fresh); err != nil {
		return nil, Classification{}, err
	}
	return grown, result, nil
}

// Deduplicator pairs an Encoder with a threshold for callers that start from text.
type Deduplicator struct {
	encoder   *Encoder
	threshold float32
	logger    zerolog.Logger
}

// DeduplicatorConfig holds configuration for the deduplicator.
type DeduplicatorConfig struct {
	SimilarityThreshold *float32 // nil means 0.85; zero is a valid threshold
	Logger              *zerolog.Logger
}

// NewDeduplicator creates a deduplicator around encoder.
func NewDeduplicator(encoder *Encoder, config DeduplicatorConfig) (*Deduplicator, error) {
	if encoder == nil {
		return nil, errors.New("encoder cannot be nil")
	}
	cfg := applyConfigDefaults(config)
	return &Deduplicator{encoder: encoder, threshold: *cfg.SimilarityThreshold, logger: *cfg.Logger}, nil
}

// Threshold returns the similarity threshold in use.
func (d *Deduplicator) Threshold() float32 { return d.threshold }

// Encoder returns the underlying encoder.
func (d *Deduplicator) Encoder() *Encoder { return d.encoder }

// CheckTexts embeds texts and labels them against idx without modifying it.
func (d *Deduplicator) CheckTexts(ctx context.Context, idx *Index, texts []string) ([]Decision, error) {
	if idx.Model() != d.encoder.ModelName() {
		return nil, fmt.Errorf("%w: index built with %q, encoder uses %q", ErrModelMismatch, idx.Model(), d.encoder.ModelName())
	}
	vectors, err := d.encoder.Encode(ctx, texts)
	if err != nil {
		return nil, err
	}
	decisions, err := Check(idx, vectors, d.threshold)
	if err != nil {
		return nil, err
	}

	dups := 0
	for _, dec := range decisions {
		if dec.Label == LabelDuplicate {
			dups++
		}
	}
	d.logger.Debug().Int("checked", len(texts)).Int("duplicates", dups).Msg("checked texts against index")
	return decisions, nil
}

func applyConfigDefaults(config DeduplicatorConfig) DeduplicatorConfig {
	if config.SimilarityThreshold == nil {
		t := SimilarityThreshold
		config.SimilarityThreshold = &t
	}
	if config.Logger == nil {
		nop := zerolog.Nop()
		config.Logger = &nop
	}
	return config
}
