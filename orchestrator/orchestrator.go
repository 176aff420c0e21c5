// Package orchestrator runs one deduplication pass over a corpus directory.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"digestbot/corpus"
	"digestbot/deduplication"
	"digestbot/events"
	"digestbot/history"
	"digestbot/storage"
	"digestbot/types"
)

// Stage is a step of the run state machine: Loaded -> Embedded -> Classified -> Persisted.
type Stage string

const (
	StageLoaded     Stage = "loaded"
	StageEmbedded   Stage = "embedded"
	StageClassified Stage = "classified"
	StagePersisted  Stage = "persisted"
)

// StageError is a failed run. Stage is the stage the run was trying to reach.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("run failed before reaching %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage a run error happened in, or "" if err is not a StageError.
func FailedStage(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Options are the per-run paths and policies.
type Options struct {
	CorpusDir  string
	IndexPath  string
	OutputPath string
	// Threshold is used as given, zero included; nil means the default 0.85.
	Threshold   *float32
	SkipCorrupt bool
	// DryRun classifies but writes nothing and triggers no side effects.
	DryRun bool
}

// ArtifactMirror copies the committed files somewhere else.
type ArtifactMirror interface {
	MirrorRun(ctx context.Context, runID string, artifacts []storage.Artifact) ([]string, error)
}

// RunRecorder keeps a ledger of committed runs.
type RunRecorder interface {
	Record(ctx context.Context, r history.Run) error
}

// Dependencies are the collaborators of a run. Only Encoder is required.
type Dependencies struct {
	Encoder   *deduplication.Encoder
	Mirror    ArtifactMirror
	Publisher events.Publisher
	History   RunRecorder
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Result describes a finished run.
type Result struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Stage      Stage
	DryRun     bool

	Model     string
	Dimension int
	Threshold float32

	Total           int
	Unique          []int
	Duplicates      []int
	Decisions       []deduplication.Decision
	UniqueArticles  []types.Article
	IndexSizeBefore int
	IndexSize       int
	SkippedFiles    []string

	IndexPath  string
	OutputPath string
}

// Runner executes deduplication runs.
type Runner struct {
	opts      Options
	deps      Dependencies
	threshold float32
}

// NewRunner validates opts and deps and fills in defaults.
func NewRunner(opts Options, deps Dependencies) (*Runner, error) {
	if deps.Encoder == nil {
		return nil, errors.New("encoder cannot be nil")
	}
	if opts.IndexPath == "" || opts.OutputPath == "" {
		return nil, errors.New("index and output paths are required")
	}
	threshold := deduplication.SimilarityThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		nop := zerolog.Nop()
		deps.Logger = &nop
	}
	return &Runner{opts: opts, deps: deps, threshold: threshold}, nil
}

// Run executes one pass. Any error is fatal and wrapped in a StageError; the index
// file on disk is then exactly as it was before the run.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	log := *r.deps.Logger
	res := &Result{
		RunID:      uuid.NewString(),
		StartedAt:  r.deps.Now().UTC(),
		DryRun:     r.opts.DryRun,
		Model:      r.deps.Encoder.ModelName(),
		Dimension:  r.deps.Encoder.Dim(),
		Threshold:  r.threshold,
		IndexPath:  r.opts.IndexPath,
		OutputPath: r.opts.OutputPath,
	}
	log = log.With().Str("run_id", res.RunID).Logger()
	log.Info().Str("corpus", r.opts.CorpusDir).Str("model", res.Model).Float32("threshold", res.Threshold).Msg("deduplication run started")

	// Loaded: corpus and index
	c, err := corpus.Load(r.opts.CorpusDir, corpus.Options{SkipCorrupt: r.opts.SkipCorrupt, Logger: &log})
	if err != nil {
		return nil, &StageError{Stage: StageLoaded, Err: err}
	}
	idx, err := deduplication.LoadOrCreate(r.opts.IndexPath, res.Dimension, res.Model)
	if err != nil {
		return nil, &StageError{Stage: StageLoaded, Err: err}
	}
	res.Total = c.Len()
	res.SkippedFiles = c.Skipped
	res.IndexSizeBefore = idx.Len()
	res.Stage = StageLoaded
	log.Info().Int("articles", res.Total).Int("index_size", idx.Len()).Msg("loaded")

	// Embedded
	vectors, err := r.deps.Encoder.Encode(ctx, c.Texts)
	if err != nil {
		return nil, &StageError{Stage: StageEmbedded, Err: err}
	}
	res.Stage = StageEmbedded

	// Classified
	grown, classification, err := deduplication.Classify(idx, vectors, r.threshold)
	if err != nil {
		return nil, &StageError{Stage: StageClassified, Err: err}
	}
	res.Stage = StageClassified
	res.Decisions = classification.Decisions
	res.Unique = classification.Unique
	res.Duplicates = classification.Duplicates
	res.IndexSize = grown.Len()
	res.UniqueArticles = make([]types.Article, 0, len(classification.Unique))
	for _, i := range classification.Unique {
		res.UniqueArticles = append(res.UniqueArticles, c.Articles[i])
	}
	for _, i := range classification.Duplicates {
		d := classification.Decisions[i]
		log.Debug().Int("article", i).Float32("similarity", d.Score).Int("matching_position", d.Match).Msg("duplicate")
	}
	log.Info().
		Int("total", res.Total).
		Int("unique", len(res.Unique)).
		Int("duplicates", len(res.Duplicates)).
		Msg("classified")

	if r.opts.DryRun {
		res.FinishedAt = r.deps.Now().UTC()
		log.Info().Msg("dry run: nothing written")
		return res, nil
	}

	// Persisted. The output goes first so the index rename is the commit point: a
	// failure before it leaves the previous index and a retry reproduces the output.
	if err := WriteUniqueArticles(r.opts.OutputPath, res.UniqueArticles); err != nil {
		return nil, &StageError{Stage: StagePersisted, Err: err}
	}
	if err := grown.Persist(r.opts.IndexPath); err != nil {
		return nil, &StageError{Stage: StagePersisted, Err: err}
	}
	res.Stage = StagePersisted
	res.FinishedAt = r.deps.Now().UTC()
	log.Info().
		Int("index_size", res.IndexSize).
		Str("index", r.opts.IndexPath).
		Str("output", r.opts.OutputPath).
		Msg("persisted")

	r.afterCommit(ctx, log, res)
	return res, nil
}

// afterCommit runs the optional side effects. They never fail a committed run.
func (r *Runner) afterCommit(ctx context.Context, log zerolog.Logger, res *Result) {
	if r.deps.History != nil {
		if err := r.deps.History.Record(ctx, res.HistoryRun()); err != nil {
			log.Warn().Err(err).Msg("failed to record run history")
		}
	}

	if r.deps.Mirror != nil {
		keys, err := r.deps.Mirror.MirrorRun(ctx, res.RunID, []storage.Artifact{
			{Path: res.IndexPath, ContentType: "application/octet-stream"},
			{Path: res.OutputPath, ContentType: "application/json"},
		})
		if err != nil {
			log.Warn().Err(err).Int("uploaded", len(keys)).Msg("artifact mirror failed")
		} else {
			log.Info().Int("objects", len(keys)).Msg("artifacts mirrored")
		}
	}

	if err := r.deps.Publisher.PublishRunCompleted(ctx, res.Event()); err != nil {
		log.Warn().Err(err).Msg("failed to publish run event")
	}
}

// HistoryRun converts the result to a ledger row.
func (res *Result) HistoryRun() history.Run {
	return history.Run{
		RunID:           res.RunID,
		StartedAt:       res.StartedAt,
		FinishedAt:      res.FinishedAt,
		Model:           res.Model,
		Dimension:       res.Dimension,
		Threshold:       float64(res.Threshold),
		Total:           res.Total,
		Unique:          len(res.Unique),
		Duplicates:      len(res.Duplicates),
		IndexSizeBefore: res.IndexSizeBefore,
		IndexSize:       res.IndexSize,
		IndexPath:       res.IndexPath,
		OutputPath:      res.OutputPath,
	}
}

// Event converts the result to a RunCompleted event.
func (res *Result) Event() events.RunCompleted {
	return events.RunCompleted{
		RunID:      res.RunID,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Model:      res.Model,
		Dimension:  res.Dimension,
		Total:      res.Total,
		Unique:     len(res.Unique),
		Duplicates: len(res.Duplicates),
		IndexSize:  res.IndexSize,
		IndexPath:  res.IndexPath,
		OutputPath: res.OutputPath,
	}
}

// WriteUniqueArticles atomically writes articles as an indented JSON array with
// non-ASCII and HTML characters left unescaped.
func WriteUniqueArticles(path string, articles []types.Article) error {
	if articles == nil {
		articles = []types.Article{}
	}
	return deduplication.WriteFileAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(articles)
	})
}
