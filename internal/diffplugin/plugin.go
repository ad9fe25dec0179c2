// Package diffplugin implements the runner-plugin interface: the
// narrow surface a test-runner host embeds to drive the core from its own
// process - init_store, plan, record_result, flush.
package diffplugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/PaulM5406/pytest-difftest/internal/config"
	"github.com/PaulM5406/pytest-difftest/internal/detect"
	"github.com/PaulM5406/pytest-difftest/internal/fingerprint"
	"github.com/PaulM5406/pytest-difftest/internal/logging"
	"github.com/PaulM5406/pytest-difftest/internal/orchestrator"
	"github.com/PaulM5406/pytest-difftest/internal/resolve"
	"github.com/PaulM5406/pytest-difftest/internal/store"
	"github.com/PaulM5406/pytest-difftest/internal/watch"
)

// Environment identifies the (name, installed packages, interpreter)
// triple the host is currently running under.
type Environment struct {
	Name           string
	SystemPackages string
	PythonVersion  string
}

// Handle is the opaque collaborator handle returned by InitStore. It bundles
// every component the runner-plugin surface drives.
type Handle struct {
	projectRoot string
	store       *store.Store
	fp          *fingerprint.Fingerprinter
	cache       *fingerprint.Cache
	detector    *detect.Detector
	resolver    *resolve.Resolver
	orch        *orchestrator.Orchestrator
	recorder    *orchestrator.Recorder

	mu      sync.Mutex
	envIDs  map[Environment]int64
	current orchestrator.Plan
	watcher *watch.CacheInvalidator
}

// InitStore opens (creating if absent) the Dependency Store at path and
// wires the rest of the core around it, per init_store(path, cache_size).
// Every other setting falls back to config.DefaultConfig's values.
func InitStore(projectRoot, path string, cacheSize int) (*Handle, error) {
	cfg := config.DefaultConfig(projectRoot)
	if path != "" {
		cfg.Store.Path = path
	}

	if cacheSize > 0 {
		cfg.Cache.MaxEntries = cacheSize
	}

	return InitStoreWithConfig(cfg)
}

// InitStoreWithConfig is the same entry point as InitStore but takes a fully
// resolved Config, used by the CLI host which already loaded one.
func InitStoreWithConfig(cfg *config.Config) (*Handle, error) {
	s, err := store.Open(cfg.StorePath(), cfg.Store.BusyTimeout)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	cache := fingerprint.NewCache(cfg.Cache.MaxEntries)
	fp := fingerprint.New(cfg.ProjectRoot, cache)
	detector := detect.New(s, fp, cfg.ProjectRoot, cfg.Detect.MTimeEpsilon)
	resolver := resolve.New(s)

	return &Handle{
		projectRoot: cfg.ProjectRoot,
		store:       s,
		fp:          fp,
		cache:       cache,
		detector:    detector,
		resolver:    resolver,
		orch:        orchestrator.New(s, detector, resolver, cfg.Store.BatchSize),
		recorder:    orchestrator.NewRecorder(s, cfg.Store.BatchSize),
		envIDs:      make(map[Environment]int64),
	}, nil
}

// StartWatch begins watching the project root for .py changes and
// invalidating the Fingerprint Cache as they land - for a long-lived
// host process that calls Plan repeatedly without restarting, this keeps a
// stale cache entry from masking an edit made between runs. Safe to call
// once; a second call is a no-op.
func (h *Handle) StartWatch() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.watcher != nil {
		return nil
	}

	w, err := watch.New(h.projectRoot, h.cache)
	if err != nil {
		return fmt.Errorf("start watch: %w", err)
	}

	if err := w.Start(); err != nil {
		return fmt.Errorf("start watch: %w", err)
	}

	h.watcher = w

	return nil
}

// StopWatch halts a watcher started by StartWatch. Safe to call even if
// StartWatch was never called.
func (h *Handle) StopWatch() {
	h.mu.Lock()
	w := h.watcher
	h.watcher = nil
	h.mu.Unlock()

	if w != nil {
		w.Stop()
	}
}

// Close releases the handle's store connection and stops any active
// watcher. Not part of the collaborator surface proper, but every InitStore
// caller must eventually call it.
func (h *Handle) Close() error {
	h.StopWatch()

	if err := h.recorder.Flush(); err != nil {
		return err
	}

	return h.store.Close()
}

// Plan implements plan(handle, env, collected_test_names, mode, scope).
// force mirrors the host's --diff-force flag: under baseline mode it
// ignores any stored baseline and runs every collected test.
func (h *Handle) Plan(
	ctx context.Context, env Environment, collectedTestNames []string, mode orchestrator.Mode, scope []string,
	force bool,
) (runSet, skipSet, warnings []string, err error) {
	absPaths, err := discoverSources(h.projectRoot, scope)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("discover sources: %w", err)
	}

	plan, err := h.orch.Plan(ctx, orchestrator.PlanRequest{
		EnvName:         env.Name,
		SystemPackages:  env.SystemPackages,
		PythonVersion:   env.PythonVersion,
		CollectedTests:  collectedTestNames,
		Mode:            mode,
		Force:           force,
		Scope:           scope,
		CurrentAbsPaths: absPaths,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	h.mu.Lock()
	h.envIDs[env] = plan.EnvID()
	h.current = plan
	h.mu.Unlock()

	return plan.RunSet, plan.SkipSet, plan.Warnings, nil
}

// RecordResult implements record_result(handle, env, test_name, duration,
// failed, forced, touched_files). touched_files maps project-root-relative
// filenames to 1-based line numbers; the host only records under baseline
// mode (orchestrator.Plan.ShouldRecord reports this), so callers should
// check that first.
func (h *Handle) RecordResult(
	env Environment, testName string, duration float64, hasDuration, failed, forced bool,
	touchedFiles map[string][]int,
) error {
	h.mu.Lock()
	envID, ok := h.envIDs[env]
	plan := h.current
	h.mu.Unlock()

	if !ok {
		resolved, err := h.store.GetOrCreateEnvironment(env.Name, env.SystemPackages, env.PythonVersion)
		if err != nil {
			return err
		}

		envID = resolved
	}

	touched := make([]fingerprint.Fingerprint, 0, len(touchedFiles))

	for filename, lines := range touchedFiles {
		fp, err := h.resolveFingerprint(plan, filename)
		if err != nil {
			logging.Get(logging.CategoryOrchestrator).Warn("skipping touched file %s: %v", filename, err)

			continue
		}

		blocks := blocksForLines(fp, lines)
		logging.Get(logging.CategoryOrchestrator).Debug(
			"test %s touched %d block(s) in %s", testName, len(blocks), filename,
		)

		touched = append(touched, fp)
	}

	return h.recorder.Record(store.PendingExecution{
		EnvID:       envID,
		TestName:    testName,
		Duration:    duration,
		HasDuration: hasDuration,
		Failed:      failed,
		Forced:      forced,
		Touched:     touched,
	})
}

// Flush implements flush(handle): commit any pending buffered executions.
func (h *Handle) Flush() error {
	return h.recorder.Flush()
}

// resolveFingerprint returns the Fingerprint for filename, preferring the
// one the last Plan call freshly computed (it already did the parse) and
// falling back to computing it directly.
func (h *Handle) resolveFingerprint(plan orchestrator.Plan, filename string) (fingerprint.Fingerprint, error) {
	if fp, ok := plan.ChangedFingerprint(filename); ok {
		return fp, nil
	}

	abs := filepath.Join(h.projectRoot, filepath.FromSlash(filename))

	return h.fp.One(abs)
}

// blocksForLines maps 1-based line numbers to block names via binary search
// over fp's block ranges (sorted by StartLine, per the Block Extractor's
// contract).
func blocksForLines(fp fingerprint.Fingerprint, lines []int) []string {
	seen := make(map[string]struct{})

	for _, ln := range lines {
		// StartLine is monotonic across the sorted block list even when
		// blocks nest, so search on it, then walk back to the innermost
		// block whose range still covers the line.
		idx := sort.Search(len(fp.Blocks), func(i int) bool { return fp.Blocks[i].StartLine > ln }) - 1
		for ; idx >= 0; idx-- {
			if fp.Blocks[idx].EndLine >= ln {
				seen[fp.Blocks[idx].Name] = struct{}{}

				break
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// discoverSources walks projectRoot (or each prefix in scope, if non-empty)
// and returns every .py file's absolute path.
func discoverSources(projectRoot string, scope []string) ([]string, error) {
	roots := scope
	if len(roots) == 0 {
		roots = []string{"."}
	}

	seen := make(map[string]struct{})

	var out []string

	for _, prefix := range roots {
		root := filepath.Join(projectRoot, filepath.FromSlash(prefix))

		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil //nolint:nilerr // best-effort: skip unreadable subtrees
			}

			if info.IsDir() || !strings.HasSuffix(path, ".py") {
				return nil
			}

			if _, dup := seen[path]; dup {
				return nil
			}

			seen[path] = struct{}{}
			out = append(out, path)

			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(out)

	return out, nil
}
