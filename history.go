package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"digestbot/history"
	"digestbot/report"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent deduplication runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.History.DSN == "" {
			return errors.New("run history is disabled (set DEDUP_HISTORY_DSN)")
		}
		store, err := history.Open(cfg.History.DSN)
		if err != nil {
			return err
		}
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := store.List(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), report.HistoryTable(runs))
		return nil
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "Number of runs to show")
	historyCmd.Flags().Bool("json", false, "Output in JSON format")
	rootCmd.AddCommand(historyCmd)
}
