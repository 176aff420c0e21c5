package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"digestbot/contracts"
	"digestbot/orchestrator"
	"digestbot/report"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Deduplicate the aggregated corpus against the index",
	Long: `Load every *.json file in the corpus directory, embed the articles, classify
them against the persisted index and write the unique ones.

unique_articles.json is written first and the index file is replaced last, so a
failed run leaves the index exactly as it was. History, the S3 mirror and the
run event are best effort and only logged when they fail.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := optionsFromConfig()
		if cmd.Flags().Changed("corpus") {
			opts.CorpusDir, _ = cmd.Flags().GetString("corpus")
		}
		if cmd.Flags().Changed("index") {
			opts.IndexPath, _ = cmd.Flags().GetString("index")
		}
		if cmd.Flags().Changed("output") {
			opts.OutputPath, _ = cmd.Flags().GetString("output")
		}
		if cmd.Flags().Changed("threshold") {
			t, _ := cmd.Flags().GetFloat64("threshold")
			if t < -1 || t > 1 {
				return fmt.Errorf("threshold must be within [-1, 1], got %v", t)
			}
			threshold := float32(t)
			opts.Threshold = &threshold
		}
		if cmd.Flags().Changed("skip-corrupt") {
			opts.SkipCorrupt, _ = cmd.Flags().GetBool("skip-corrupt")
		}
		opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
		verify, _ := cmd.Flags().GetBool("verify")

		ctx := cmd.Context()
		runner, cleanup, err := newRunner(ctx, opts)
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := runner.Run(ctx)
		if err != nil {
			logger.Error().Err(err).Str("stage", string(orchestrator.FailedStage(err))).Msg("deduplication run failed")
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), report.RunSummary(res))

		if verify && !opts.DryRun {
			n, err := contracts.CheckDedupOutput(res.OutputPath)
			if err != nil {
				return err
			}
			logger.Info().Int("articles", n).Msg("output contract satisfied")
		}
		return nil
	},
}

func optionsFromConfig() orchestrator.Options {
	threshold := float32(cfg.Dedup.Threshold)
	return orchestrator.Options{
		CorpusDir:   cfg.Dedup.CorpusDir,
		IndexPath:   cfg.Dedup.IndexPath,
		OutputPath:  cfg.Dedup.OutputPath,
		Threshold:   &threshold,
		SkipCorrupt: cfg.Dedup.SkipCorrupt,
	}
}

func init() {
	runCmd.Flags().String("corpus", "", "Directory of aggregated *.json files")
	runCmd.Flags().String("index", "", "Path of the persisted similarity index")
	runCmd.Flags().StringP("output", "o", "", "Where to write unique_articles.json")
	runCmd.Flags().Float64P("threshold", "t", 0.85, "Cosine similarity at or above which an article is a duplicate")
	runCmd.Flags().Bool("skip-corrupt", false, "Skip unreadable corpus files instead of failing")
	runCmd.Flags().Bool("dry-run", false, "Classify only; write nothing")
	runCmd.Flags().Bool("verify", false, "Check the output file contract after the run")
	rootCmd.AddCommand(runCmd)
}
