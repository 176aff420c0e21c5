// Package report renders run and index summaries for the terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"digestbot/deduplication"
	"digestbot/history"
	"digestbot/orchestrator"
	"digestbot/types"
)

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

// RunSummary renders the counts of a finished run.
func RunSummary(res *orchestrator.Result) string {
	title := "Deduplication run"
	if res.DryRun {
		title += " (dry run)"
	}

	lines := []string{
		titleStyle.Render(title),
		"",
		row("Run", res.RunID),
		row("Model", fmt.Sprintf("%s (%d dims)", res.Model, res.Dimension)),
		row("Threshold", fmt.Sprintf("%.2f", res.Threshold)),
		row("Articles", fmt.Sprintf("%d", res.Total)),
		row("Unique", uniqueStyle.Render(fmt.Sprintf("%d", len(res.Unique)))),
		row("Duplicates", duplicateStyle.Render(fmt.Sprintf("%d", len(res.Duplicates)))),
		row("Index size", fmt.Sprintf("%d -> %d", res.IndexSizeBefore, res.IndexSize)),
	}
	if len(res.SkippedFiles) > 0 {
		lines = append(lines, row("Skipped files", duplicateStyle.Render(strings.Join(res.SkippedFiles, ", "))))
	}
	if !res.DryRun {
		lines = append(lines, row("Output", res.OutputPath))
	}
	if !res.FinishedAt.IsZero() {
		lines = append(lines, row("Took", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond).String()))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// IndexSummary renders a persisted index header.
func IndexSummary(path string, h deduplication.Header) string {
	lines := []string{
		titleStyle.Render("Similarity index"),
		"",
		row("Path", path),
		row("Format version", fmt.Sprintf("%d", h.Version)),
		row("Model", h.Model),
		row("Dimension", fmt.Sprintf("%d", h.Dim)),
		row("Entries", fmt.Sprintf("%d", h.Count)),
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// HistoryTable renders recorded runs, newest first.
func HistoryTable(runs []history.Run) string {
	if len(runs) == 0 {
		return labelStyle.UnsetWidth().Render("no runs recorded")
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%-36s  %-20s  %7s  %7s  %7s  %s", "RUN", "STARTED", "TOTAL", "UNIQUE", "DUPS", "INDEX")))
	for _, r := range runs {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%-36s  %-20s  %7d  %s  %s  %d -> %d",
			r.RunID,
			r.StartedAt.UTC().Format("2006-01-02 15:04:05"),
			r.Total,
			uniqueStyle.Render(fmt.Sprintf("%7d", r.Unique)),
			duplicateStyle.Render(fmt.Sprintf("%7d", r.Duplicates)),
			r.IndexSizeBefore, r.IndexSize,
		)
	}
	return b.String()
}

// CheckTable renders one line per checked article with its verdict.
func CheckTable(articles []types.Article, decisions []deduplication.Decision) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%-9s  %6s  %5s  %s", "VERDICT", "SCORE", "MATCH", "TITLE")))
	for i, d := range decisions {
		verdict := uniqueStyle.Render(fmt.Sprintf("%-9s", d.Label))
		if d.Label == deduplication.LabelDuplicate {
			verdict = duplicateStyle.Render(fmt.Sprintf("%-9s", d.Label))
		}
		match := "-"
		if d.Match >= 0 {
			match = fmt.Sprintf("%d", d.Match)
		}
		title := ""
		if i < len(articles) {
			title = truncate(articles[i].Title, 60)
		}
		fmt.Fprintf(&b, "\n%s  %6.3f  %5s  %s", verdict, d.Score, match, title)
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
