package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digestbot/deduplication"
	"digestbot/events"
	"digestbot/history"
	"digestbot/storage"
)

type workspace struct {
	corpus string
	index  string
	output string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	root := t.TempDir()
	ws := workspace{
		corpus: filepath.Join(root, "aggregation"),
		index:  filepath.Join(root, "deduplication", "dedup.index"),
		output: filepath.Join(root, "deduplication", "unique_articles.json"),
	}
	require.NoError(t, os.MkdirAll(ws.corpus, 0o755))
	return ws
}

func (ws workspace) setCorpus(t *testing.T, files map[string]string) {
	t.Helper()
	entries, err := os.ReadDir(ws.corpus)
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, os.Remove(filepath.Join(ws.corpus, e.Name())))
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(ws.corpus, name), []byte(content), 0o644))
	}
}

func (ws workspace) runner(t *testing.T, deps Dependencies) *Runner {
	t.Helper()
	if deps.Encoder == nil {
		deps.Encoder = deduplication.NewEncoder(deduplication.NewHashEmbeddings(64))
	}
	r, err := NewRunner(Options{CorpusDir: ws.corpus, IndexPath: ws.index, OutputPath: ws.output}, deps)
	require.NoError(t, err)
	return r
}

func readOutput(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var items []map[string]any
	require.NoError(t, json.Unmarshal(data, &items))
	return items
}

func TestRunEndToEnd(t *testing.T) {
	ws := newWorkspace(t)
	ws.setCorpus(t, map[string]string{
		"feed.json": `[{"title":"A","content":"Foo"},{"title":"A","content":"Foo"},{"title":"B","content":"Bar"}]`,
	})

	first, err := ws.runner(t, Dependencies{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StagePersisted, first.Stage)
	assert.Equal(t, []int{0, 1, 2}, first.Unique, "same-batch twins are both kept")
	assert.Empty(t, first.Duplicates)
	assert.Equal(t, 3, first.IndexSize)
	assert.Len(t, readOutput(t, ws.output), 3)

	ws.setCorpus(t, map[string]string{"feed.json": `[{"title":"A","content":"Foo"}]`})
	second, err := ws.runner(t, Dependencies{}).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second.Unique)
	assert.Equal(t, []int{0}, second.Duplicates)
	assert.InDelta(t, 1.0, second.Decisions[0].Score, 1e-5)
	assert.Equal(t, 3, second.IndexSizeBefore)
	assert.Equal(t, 3, second.IndexSize)
	assert.Empty(t, readOutput(t, ws.output))
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRunEmptyCorpus(t *testing.T) {
	ws := newWorkspace(t)

	res, err := ws.runner(t, Dependencies{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
	assert.Equal(t, 0, res.IndexSize)

	data, err := os.ReadFile(ws.output)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))

	h, err := deduplication.ReadHeader(ws.index)
	require.NoError(t, err)
	assert.Equal(t, 0, h.Count)
	assert.Equal(t, "hash/fnv32a-64", h.Model)
}

func TestRunPreservesArticlesVerbatim(t *testing.T) {
	ws := newWorkspace(t)
	ws.setCorpus(t, map[string]string{
		"a.json": `[{"title":"Zürich <live>","content":"naïve & café","url":"https://x/1","extra":{"k":[1,2]}}]`,
	})

	_, err := ws.runner(t, Dependencies{}).Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(ws.output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Zürich <live>")
	assert.Contains(t, string(data), "naïve & café")
	assert.Contains(t, string(data), "\n  {\n    \"title\"")

	items := readOutput(t, ws.output)
	assert.Equal(t, map[string]any{"k": []any{1.0, 2.0}}, items[0]["extra"])
}

func TestRunUnescapesEscapedInput(t *testing.T) {
	ws := newWorkspace(t)
	ws.setCorpus(t, map[string]string{
		"a.json": `[{"title":"Caf\u00e9 \u003cb\u003e","content":"x"}]`,
	})

	_, err := ws.runner(t, Dependencies{}).Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(ws.output)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"title": "Café <b>"`)
	assert.NotContains(t, string(data), `\u00e9`)
	assert.NotContains(t, string(data), `\u003c`)
}

func TestRunFailsOnCorruptInput(t *testing.T) {
	ws := newWorkspace(t)
	ws.setCorpus(t, map[string]string{"a.json": `{"title":"not an array"}`})

	_, err := ws.runner(t, Dependencies{}).Run(context.Background())
	assert.ErrorIs(t, err, deduplication.ErrInputCorrupt)
	assert.Equal(t, StageLoaded, FailedStage(err))
	assert.NoFileExists(t, ws.output)
	assert.NoFileExists(t, ws.index)
}

func TestRunSkipCorrupt(t *testing.T) {
	ws := newWorkspace(t)
	ws.setCorpus(t, map[string]string{
		"a.json": `{"title":"not an array"}`,
		"b.json": `[{"title":"kept"}]`,
	})

	r, err := NewRunner(Options{CorpusDir: ws.corpus, IndexPath: ws.index, OutputPath: ws.output, SkipCorrupt: true},
		Dependencies{Encoder: deduplication.NewEncoder(deduplication.NewHashEmbeddings(16))})
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, []string{filepath.Join(ws.corpus, "a.json")}, res.SkippedFiles)
}

func TestRunFailsFastOnCorruptIndex(t *testing.T) {
	ws := newWorkspace(t)
	ws.setCorpus(t, map[string]string{"a.json": `[{"title":"A"}]`})
	require.NoError(t, os.MkdirAll(filepath.Dir(ws.index), 0o755))
	require.NoError(t, os.WriteFile(ws.index, []byte("garbage"), 0o644))

	_, err := ws.runner(t, Dependencies{}).Run(context.Background())
	assert.ErrorIs(t, err, deduplication.ErrCorruptIndex)
	assert.Equal(t, StageLoaded, FailedStage(err))

	data, err := os.ReadFile(ws.index)
	require.NoError(t, err)
	assert.Equal(t, "garbage", string(data), "no silent reset")
}

func TestRunFailsOnModelChange(t *testing.T) {
	ws := newWorkspace(t)
	ws.setCorpus(t, map[string]string{"a.json": `[{"title":"A"}]`})
	_, err := ws.runner(t, Dependencies{}).Run(context.Background())
	require.NoError(t, err)

	// same dimension, different model
	other := deduplication.NewEncoder(&renamedProvider{EmbeddingsProvider: deduplication.NewHashEmbeddings(64)})
	_, err = ws.runner(t, Dependencies{Encoder: other}).Run(context.Background())
	assert.ErrorIs(t, err, deduplication.ErrModelMismatch)
}

type renamedProvider struct {
	deduplication.EmbeddingsProvider
}

func (renamedProvider) ModelName() string { return "ollama/all-minilm" }

type failingProvider struct{ deduplication.EmbeddingsProvider }

func (failingProvider) EmbedTexts(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model server unavailable")
}

func TestRunEmbeddingFailureWritesNothing(t *testing.T) {
	ws := newWorkspace(t)
	ws.setCorpus(t, map[string]string{"a.json": `[{"title":"A"}]`})

	enc := deduplication.NewEncoder(failingProvider{deduplication.NewHashEmbeddings(64)})
	_, err := ws.runner(t, Dependencies{Encoder: enc}).Run(context.Background())
	assert.ErrorIs(t, err, deduplication.ErrEmbeddingFailure)
	assert.Equal(t, StageEmbedded, FailedStage(err))
	assert.NoFileExists(t, ws.index)
	assert.NoFileExists(t, ws.output)
}

func TestRunPersistFailureKeepsPreviousIndex(t *testing.T) {
	ws := newWorkspace(t)
	ws.setCorpus(t, map[string]string{"a.json": `[{"title":"A"}]`})
	_, err := ws.runner(t, Dependencies{}).Run(context.Background())
	require.NoError(t, err)
	before, err := os.ReadFile(ws.index)
	require.NoError(t, err)

	// a non-empty directory where the output file goes makes the rename fail
	require.NoError(t, os.Remove(ws.output))
	require.NoError(t, os.MkdirAll(filepath.Join(ws.output, "occupied"), 0o755))
	ws.setCorpus(t, map[string]string{"a.json": `[{"title":"Something entirely new"}]`})

	_, err = ws.runner(t, Dependencies{}).Run(context.Background())
	assert.ErrorIs(t, err, deduplication.ErrPersistFailure)
	assert.Equal(t, StagePersisted, FailedStage(err))

	after, err := os.ReadFile(ws.index)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRunDryRun(t *testing.T) {
	ws := newWorkspace(t)
	ws.setCorpus(t, map[string]string{"a.json": `[{"title":"A"},{"title":"B"}]`})
	recorder := &fakeRecorder{}

	r, err := NewRunner(Options{CorpusDir: ws.corpus, IndexPath: ws.index, OutputPath: ws.output, DryRun: true},
		Dependencies{Encoder: deduplication.NewEncoder(deduplication.NewHashEmbeddings(64)), History: recorder})
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageClassified, res.Stage)
	assert.Len(t, res.Unique, 2)
	assert.NoFileExists(t, ws.index)
	assert.NoFileExists(t, ws.output)
	assert.Empty(t, recorder.runs)
}

type fakeRecorder struct {
	runs []history.Run
	err  error
}

func (f *fakeRecorder) Record(_ context.Context, r history.Run) error {
	f.runs = append(f.runs, r)
	return f.err
}

type fakeMirror struct {
	runID     string
	artifacts []storage.Artifact
	err       error
}

func (f *fakeMirror) MirrorRun(_ context.Context, runID string, artifacts []storage.Artifact) ([]string, error) {
	f.runID, f.artifacts = runID, artifacts
	return nil, f.err
}

type fakePublisher struct {
	events []events.RunCompleted
	err    error
}

func (f *fakePublisher) PublishRunCompleted(_ context.Context, e events.RunCompleted) error {
	f.events = append(f.events, e)
	return f.err
}

func (f *fakePublisher) Close() error { return nil }

func TestRunSideEffects(t *testing.T) {
	ws := newWorkspace(t)
	ws.setCorpus(t, map[string]string{"a.json": `[{"title":"A"},{"title":"A"},{"title":"B"}]`})

	clock := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	recorder, mirror, publisher := &fakeRecorder{}, &fakeMirror{}, &fakePublisher{}
	res, err := ws.runner(t, Dependencies{
		History:   recorder,
		Mirror:    mirror,
		Publisher: publisher,
		Now:       func() time.Time { return clock },
	}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, recorder.runs, 1)
	assert.Equal(t, res.RunID, recorder.runs[0].RunID)
	assert.Equal(t, 3, recorder.runs[0].Unique)
	assert.Equal(t, clock, recorder.runs[0].StartedAt)

	assert.Equal(t, res.RunID, mirror.runID)
	assert.Equal(t, []storage.Artifact{
		{Path: ws.index, ContentType: "application/octet-stream"},
		{Path: ws.output, ContentType: "application/json"},
	}, mirror.artifacts)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, 3, publisher.events[0].IndexSize)
}

func TestRunSideEffectFailuresDoNotFailTheRun(t *testing.T) {
	ws := newWorkspace(t)
	ws.setCorpus(t, map[string]string{"a.json": `[{"title":"A"}]`})

	boom := errors.New("unreachable")
	res, err := ws.runner(t, Dependencies{
		History:   &fakeRecorder{err: boom},
		Mirror:    &fakeMirror{err: boom},
		Publisher: &fakePublisher{err: boom},
	}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StagePersisted, res.Stage)
	assert.FileExists(t, ws.index)
}

func TestNewRunnerValidation(t *testing.T) {
	_, err := NewRunner(Options{IndexPath: "i", OutputPath: "o"}, Dependencies{})
	assert.Error(t, err)

	enc := deduplication.NewEncoder(deduplication.NewHashEmbeddings(8))
	_, err = NewRunner(Options{OutputPath: "o"}, Dependencies{Encoder: enc})
	assert.Error(t, err)

	r, err := NewRunner(Options{IndexPath: "i", OutputPath: "o"}, Dependencies{Encoder: enc})
	require.NoError(t, err)
	assert.Equal(t, deduplication.SimilarityThreshold, r.threshold)

	zero := float32(0)
	r, err = NewRunner(Options{IndexPath: "i", OutputPath: "o", Threshold: &zero}, Dependencies{Encoder: enc})
	require.NoError(t, err)
	assert.Equal(t, float32(0), r.threshold)
}

func TestRunZeroThresholdIsHonored(t *testing.T) {
	ws := newWorkspace(t)
	enc := deduplication.NewEncoder(deduplication.NewHashEmbeddings(64))
	zero := float32(0)
	opts := Options{CorpusDir: ws.corpus, IndexPath: ws.index, OutputPath: ws.output, Threshold: &zero}

	ws.setCorpus(t, map[string]string{"a.json": `[{"title":"alpha"}]`})
	r, err := NewRunner(opts, Dependencies{Encoder: enc})
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	require.NoError(t, err)

	// unrelated text; hash vectors never score below 0
	ws.setCorpus(t, map[string]string{"b.json": `[{"title":"omega"}]`})
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float32(0), res.Threshold)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, deduplication.LabelDuplicate, res.Decisions[0].Label)
	assert.Equal(t, []int{0}, res.Duplicates)
}
