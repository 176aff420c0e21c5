package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"digestbot/deduplication"
	"digestbot/history"
	"digestbot/orchestrator"
	"digestbot/types"
)

func TestRunSummary(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := RunSummary(&orchestrator.Result{
		RunID:           "run-42",
		Model:           "ollama/all-minilm",
		Dimension:       384,
		Threshold:       0.85,
		Total:           5,
		Unique:          []int{0, 2, 4},
		Duplicates:      []int{1, 3},
		IndexSizeBefore: 10,
		IndexSize:       13,
		OutputPath:      "deduplication/unique_articles.json",
		StartedAt:       start,
		FinishedAt:      start.Add(1250 * time.Millisecond),
	})

	assert.Contains(t, out, "run-42")
	assert.Contains(t, out, "ollama/all-minilm (384 dims)")
	assert.Contains(t, out, "0.85")
	assert.Contains(t, out, "10 -> 13")
	assert.Contains(t, out, "unique_articles.json")
	assert.Contains(t, out, "1.25s")
	assert.NotContains(t, out, "dry run")
}

func TestRunSummaryDryRun(t *testing.T) {
	out := RunSummary(&orchestrator.Result{DryRun: true, OutputPath: "never-written.json"})
	assert.Contains(t, out, "dry run")
	assert.NotContains(t, out, "never-written.json")
}

func TestIndexSummary(t *testing.T) {
	out := IndexSummary("dedup.index", deduplication.Header{Version: 1, Dim: 384, Model: "ollama/all-minilm", Count: 1234})
	assert.Contains(t, out, "dedup.index")
	assert.Contains(t, out, "1234")
	assert.Contains(t, out, "384")
}

func TestHistoryTable(t *testing.T) {
	assert.Contains(t, HistoryTable(nil), "no runs recorded")

	out := HistoryTable([]history.Run{{
		RunID:           "b",
		StartedAt:       time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC),
		Total:           4,
		Unique:          3,
		Duplicates:      1,
		IndexSizeBefore: 3,
		IndexSize:       6,
	}})
	assert.Contains(t, out, "2024-02-03 04:05:06")
	assert.Contains(t, out, "3 -> 6")
}

func TestCheckTable(t *testing.T) {
	long := strings.Repeat("é", 80)
	out := CheckTable(
		[]types.Article{{Title: "Markets rally"}, {Title: long}},
		[]deduplication.Decision{
			{Label: deduplication.LabelDuplicate, Score: 0.912, Match: 7, Position: -1},
			{Label: deduplication.LabelUnique, Match: -1, Position: -1},
		},
	)
	assert.Contains(t, out, "Markets rally")
	assert.Contains(t, out, "0.912")
	assert.Contains(t, out, "duplicate")
	assert.Contains(t, out, strings.Repeat("é", 59)+"…")
	assert.NotContains(t, out, long)
}
