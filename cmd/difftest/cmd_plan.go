package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PaulM5406/pytest-difftest/internal/diffplugin"
	"github.com/PaulM5406/pytest-difftest/internal/orchestrator"
)

var (
	baselineMode bool
	forceRebuild bool
	envName      string
	scopePaths   []string
)

var runCmd = &cobra.Command{
	Use:   "plan",
	Short: "Compute which collected tests must run (--diff / --diff-baseline)",
	Long: `plan reads collected test names (one per line) from stdin, runs the
baseline/incremental state machine against the dependency store, and prints
the resulting run set and skip set, one test per line, under "RUN:" and
"SKIP:" headers. Warnings go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tests, err := readLines(os.Stdin)
		if err != nil {
			return fmt.Errorf("read collected test names: %w", err)
		}

		handle, err := diffplugin.InitStoreWithConfig(cfg)
		if err != nil {
			return err
		}
		defer handle.Close()

		mode := orchestrator.Incremental
		if baselineMode {
			mode = orchestrator.Baseline
		}

		env := diffplugin.Environment{Name: envName}

		run, skip, warnings, err := handle.Plan(context.Background(), env, tests, mode, scopePaths, forceRebuild)
		if err != nil {
			return err
		}

		for _, w := range warnings {
			logger.Warn(w, zap.String("run_id", ""))
		}

		fmt.Println("RUN:")

		for _, name := range run {
			fmt.Println(name)
		}

		fmt.Println("SKIP:")

		for _, name := range skip {
			fmt.Println(name)
		}

		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&baselineMode, "diff-baseline", false, "Run in baseline mode (record every collected test)")
	runCmd.Flags().BoolVar(&forceRebuild, "diff-force", false, "Force a full rebuild, ignoring the stored baseline")
	runCmd.Flags().StringVar(&envName, "env", "default", "Environment name to plan against")
	runCmd.Flags().StringSliceVar(&scopePaths, "scope", nil, "Collection scope path prefix(es) (default: project root)")
}

func readLines(f *os.File) ([]string, error) {
	var lines []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}

	return lines, scanner.Err()
}
