package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2024, 3, 9, 8, 30, 0, 0, time.UTC)

	want := Run{
		RunID:           "run-a",
		StartedAt:       started,
		FinishedAt:      started.Add(1500 * time.Millisecond),
		Model:           "ollama/all-minilm",
		Dimension:       384,
		Threshold:       0.85,
		Total:           10,
		Unique:          7,
		Duplicates:      3,
		IndexSizeBefore: 20,
		IndexSize:       27,
		IndexPath:       "deduplication/dedup.index",
		OutputPath:      "deduplication/unique_articles.json",
	}
	require.NoError(t, s.Record(ctx, want))

	got, err := s.Get(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.Record(ctx, want), "run ids are unique")
	assert.Error(t, s.Record(ctx, Run{}))
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"first", "second", "third"} {
		require.NoError(t, s.Record(ctx, Run{
			RunID:      id,
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
			IndexSize:  i * 5,
		}))
	}

	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "third", runs[0].RunID)
	assert.Equal(t, "first", runs[2].RunID)

	runs, err = s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), Run{RunID: "kept", StartedAt: time.Now(), FinishedAt: time.Now()}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "kept", runs[0].RunID)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: dialectPostgres}
	assert.Equal(t, "SELECT * FROM runs WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM runs WHERE a = ? AND b = ?"))

	lite := &SQLStore{dialect: dialectSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}
