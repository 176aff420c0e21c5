package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"digestbot/client"
	"digestbot/corpus"
	"digestbot/deduplication"
	"digestbot/report"
	"digestbot/types"
)

var checkCmd = &cobra.Command{
	Use:   "check <articles.json>",
	Short: "Check articles against the index without adding them",
	Long: `Label each article in a JSON array file as unique or duplicate against the
persisted index. The index is never modified. With --server the check is sent
to a running "digestbot serve" instead of embedding locally.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		articles, err := corpus.ReadFile(args[0])
		if err != nil {
			return err
		}
		if len(articles) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No articles to check")
			return nil
		}

		var decisions []deduplication.Decision
		if server, _ := cmd.Flags().GetString("server"); server != "" {
			decisions, err = checkRemote(cmd, server, articles)
		} else {
			decisions, err = checkLocal(cmd, articles)
		}
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(decisions)
		}
		fmt.Fprintln(cmd.OutOrStdout(), report.CheckTable(articles, decisions))
		return nil
	},
}

func checkLocal(cmd *cobra.Command, articles []types.Article) ([]deduplication.Decision, error) {
	encoder, closeCache, err := newEncoder(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer closeCache()

	dedup, err := deduplication.NewDeduplicator(encoder, deduplication.DeduplicatorConfig{
		SimilarityThreshold: configuredThreshold(),
		Logger:              &logger,
	})
	if err != nil {
		return nil, err
	}
	idx, err := deduplication.LoadOrCreate(cfg.Dedup.IndexPath, encoder.Dim(), encoder.ModelName())
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(articles))
	for i, a := range articles {
		texts[i] = a.ComparisonText()
	}
	return dedup.CheckTexts(cmd.Context(), idx, texts)
}

func checkRemote(cmd *cobra.Command, server string, articles []types.Article) ([]deduplication.Decision, error) {
	resp, err := client.NewClient(server).Check(cmd.Context(), articles)
	if err != nil {
		return nil, err
	}
	decisions := make([]deduplication.Decision, len(resp.Results))
	for i, r := range resp.Results {
		d := deduplication.Decision{Label: deduplication.LabelUnique, Score: r.SimilarityScore, Match: r.MatchingPosition, Position: -1}
		if r.IsDuplicate {
			d.Label = deduplication.LabelDuplicate
		}
		decisions[i] = d
	}
	return decisions, nil
}

func init() {
	checkCmd.Flags().String("server", "", "Base URL of a running API (e.g. http://localhost:8080)")
	checkCmd.Flags().Bool("json", false, "Output in JSON format")
	rootCmd.AddCommand(checkCmd)
}
