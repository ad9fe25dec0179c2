package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/PaulM5406/pytest-difftest/internal/diffplugin"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the Fingerprint Cache warm for a long-lived host process",
	Long: `watch opens the dependency store and starts the fsnotify-driven cache
invalidator, then blocks until interrupted. It exists for hosts that embed
the runner-plugin surface as a long-lived process calling plan/
record_result/flush repeatedly across many short test runs without
restarting - without it, the Fingerprint Cache could serve a stale entry for
a file edited between two such runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		handle, err := diffplugin.InitStoreWithConfig(cfg)
		if err != nil {
			return err
		}
		defer handle.Close()

		if err := handle.StartWatch(); err != nil {
			return fmt.Errorf("start watch: %w", err)
		}

		logger.Sugar().Infof("watching %s for changes; press ctrl-c to stop", cfg.ProjectRoot)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		<-ctx.Done()

		handle.StopWatch()

		logger.Sugar().Info("watch stopped")

		return nil
	},
}
