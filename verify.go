package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"digestbot/contracts"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [output-file]",
	Short: "Check that unique_articles.json satisfies the downstream contract",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Dedup.OutputPath
		if len(args) == 1 {
			path = args[0]
		}
		n, err := contracts.CheckDedupOutput(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d articles, contract OK\n", path, n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
