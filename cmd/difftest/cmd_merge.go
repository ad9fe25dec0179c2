package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PaulM5406/pytest-difftest/internal/merge"
	"github.com/PaulM5406/pytest-difftest/internal/store"
)

var mergeCmd = &cobra.Command{
	Use:   "merge OUT IN...",
	Short: "Combine dependency-store shards into OUT",
	Long: `merge opens or creates the store at OUT and unions every IN shard into
it, last-write-wins on (environment, test_name), deduped by fingerprint
identity. Parallel worker shards should each write to their own store
file and be merged once after the run.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath, inputs := args[0], args[1:]

		out, err := store.Open(outPath, cfg.Store.BusyTimeout)
		if err != nil {
			return fmt.Errorf("open output store: %w", err)
		}
		defer out.Close()

		if err := merge.Merge(out, inputs); err != nil {
			return err
		}

		logger.Sugar().Infof("merged %d shard(s) into %s", len(inputs), outPath)

		return nil
	},
}
