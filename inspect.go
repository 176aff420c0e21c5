package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"digestbot/deduplication"
	"digestbot/report"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [index-file]",
	Short: "Show the header of a persisted index",
	Long:  `Read and validate the index file header (format version, dimension, model and entry count) without loading the vectors.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Dedup.IndexPath
		if len(args) == 1 {
			path = args[0]
		}
		h, err := deduplication.ReadHeader(path)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(h)
		}
		fmt.Fprintln(cmd.OutOrStdout(), report.IndexSummary(path, h))
		return nil
	},
}

func init() {
	inspectCmd.Flags().Bool("json", false, "Output in JSON format")
	rootCmd.AddCommand(inspectCmd)
}
