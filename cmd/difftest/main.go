// Package main implements the difftest CLI - the collaborator-facing
// front-end for the block-level test-impact core.
//
// This file holds the entry point, rootCmd, and global flags. Subcommands
// live in their own cmd_*.go files:
//
//	cmd_plan.go  - runCmd: compute and print the run/skip plan
//	cmd_merge.go - mergeCmd: combine dependency-store shards
//	cmd_watch.go - watchCmd: keep the Fingerprint Cache warm for a long-lived host
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/PaulM5406/pytest-difftest/internal/config"
	"github.com/PaulM5406/pytest-difftest/internal/logging"
)

var (
	// Global flags
	verbose     bool
	workspace   string
	configPath  string
	cacheSize   int
	batchSize   int
	remoteURL   string
	uploadStore bool

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "difftest",
	Short: "Block-level test-impact analysis for Python test suites",
	Long: `difftest fingerprints Python source at block granularity and tells a
test runner which tests are affected by what changed since the last
recorded baseline.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}

		var err error

		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		} else if abs, absErr := filepath.Abs(ws); absErr == nil {
			ws = abs
		}

		resolvedConfigPath := configPath
		if resolvedConfigPath == "" {
			resolvedConfigPath = filepath.Join(ws, "difftest.yaml")
		}

		cfg, err = config.Load(resolvedConfigPath, ws)
		if err != nil {
			return err
		}

		if cacheSize > 0 {
			cfg.Cache.MaxEntries = cacheSize
		}

		if batchSize > 0 {
			cfg.Store.BatchSize = batchSize
		}

		if verbose {
			cfg.Logging.Enabled = true
		}

		if cfg.Logging.Enabled {
			if err := logging.Initialize(cfg.ProjectRoot); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to initialize file logging: %v\n", err)
			}
		}

		if remoteURL != "" || uploadStore {
			logger.Warn("remote storage is not implemented in this core; flags accepted and ignored",
				zap.String("diff-remote", remoteURL), zap.Bool("diff-upload", uploadStore))
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}

		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "diff-v", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Project root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to difftest.yaml (default: <workspace>/difftest.yaml)")
	rootCmd.PersistentFlags().IntVar(&cacheSize, "diff-cache-size", 0, "Fingerprint cache bound (default: config value)")
	rootCmd.PersistentFlags().IntVar(&batchSize, "diff-batch-size", 0, "Execution commit batch size (default: config value)")
	rootCmd.PersistentFlags().StringVar(&remoteURL, "diff-remote", "", "Remote store URL (accepted, not implemented)")
	rootCmd.PersistentFlags().BoolVar(&uploadStore, "diff-upload", false, "Upload store after run (accepted, not implemented)")

	rootCmd.AddCommand(runCmd, mergeCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
