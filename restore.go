package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"digestbot/deduplication"
	"digestbot/storage"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Fetch the latest mirrored index and output from S3",
	Long: `Download dedup/latest/unique_articles.json and dedup/latest/dedup.index from the
configured bucket, for a fresh host that should continue from the last run.

The index is checked before it replaces the local one. An existing local index is
kept unless --force is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mirror := newMirror(cmd.Context(), cfg, logger)
		if mirror == nil {
			return errors.New("restore needs S3_BUCKET to be configured")
		}
		force, _ := cmd.Flags().GetBool("force")
		h, err := restoreLatest(cmd.Context(), mirror, cfg.Dedup.IndexPath, cfg.Dedup.OutputPath, force)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restored %s: %d vectors (%s, dim %d)\n", cfg.Dedup.IndexPath, h.Count, h.Model, h.Dim)
		return nil
	},
}

// restoreLatest downloads the newest mirrored artifacts. The output file goes first
// and the index is renamed into place last, the same order a run commits in.
func restoreLatest(ctx context.Context, mirror *storage.S3, indexPath, outputPath string, force bool) (deduplication.Header, error) {
	if _, err := os.Stat(indexPath); err == nil && !force {
		return deduplication.Header{}, fmt.Errorf("%s already exists; use --force to replace it", indexPath)
	}

	staged := indexPath + ".restore"
	defer os.Remove(staged)
	if err := mirror.Download(ctx, storage.LatestKey(filepath.Base(indexPath)), staged); err != nil {
		return deduplication.Header{}, err
	}
	h, err := deduplication.ReadHeader(staged)
	if err != nil {
		return deduplication.Header{}, fmt.Errorf("downloaded index is unusable: %w", err)
	}
	if _, err := deduplication.LoadOrCreate(staged, h.Dim, h.Model); err != nil {
		return deduplication.Header{}, fmt.Errorf("downloaded index is unusable: %w", err)
	}

	if err := mirror.Download(ctx, storage.LatestKey(filepath.Base(outputPath)), outputPath); err != nil {
		return deduplication.Header{}, err
	}
	if err := os.Rename(staged, indexPath); err != nil {
		return deduplication.Header{}, err
	}
	logger.Info().Str("index", indexPath).Int("vectors", h.Count).Msg("restored latest artifacts")
	return h, nil
}

func init() {
	restoreCmd.Flags().Bool("force", false, "Replace an existing local index")
	rootCmd.AddCommand(restoreCmd)
}
