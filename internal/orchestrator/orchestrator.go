// Package orchestrator implements the baseline/incremental state machine:
// given CLI flags and the current store contents, it decides which
// tests to force-execute, which to skip, and how to update the store after
// execution.
package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/PaulM5406/pytest-difftest/internal/detect"
	"github.com/PaulM5406/pytest-difftest/internal/fingerprint"
	"github.com/PaulM5406/pytest-difftest/internal/logging"
	"github.com/PaulM5406/pytest-difftest/internal/resolve"
	"github.com/PaulM5406/pytest-difftest/internal/store"
)

// Mode selects the state machine's top-level branch.
type Mode string

const (
	Baseline    Mode = "baseline"
	Incremental Mode = "incremental"
)

// PlanRequest bundles the inputs the Orchestrator's decision depends on.
type PlanRequest struct {
	EnvName        string
	SystemPackages string
	PythonVersion  string
	CollectedTests []string
	Mode           Mode
	Force          bool
	// Scope is the path prefix(es) this run's collection covers.
	Scope []string
	// CurrentAbsPaths is every in-scope source file presently on disk,
	// used by the Change Detector when a change computation is needed.
	CurrentAbsPaths []string
}

// Plan is the Orchestrator's decision: which tests to run, which to skip,
// and any warnings to surface to the host.
type Plan struct {
	RunID    string
	RunSet   []string
	SkipSet  []string
	Warnings []string

	envID   int64
	mode    Mode
	changes detect.ChangeSet
}

// Orchestrator wires the Change Detector, Affected-Test Resolver,
// and Dependency Store into the decision procedure and post-run
// bookkeeping.
type Orchestrator struct {
	store     *store.Store
	detector  *detect.Detector
	resolver  *resolve.Resolver
	batchSize int
}

// New creates an Orchestrator. batchSize is the number of executions
// buffered per committed transaction (default 20 if non-positive).
func New(s *store.Store, d *detect.Detector, r *resolve.Resolver, batchSize int) *Orchestrator {
	if batchSize <= 0 {
		batchSize = 20
	}

	return &Orchestrator{store: s, detector: d, resolver: r, batchSize: batchSize}
}

// Plan decides, from the mode, the force flag, and the current store
// contents, which collected tests run and which are skipped.
func (o *Orchestrator) Plan(ctx context.Context, req PlanRequest) (Plan, error) {
	plan := Plan{RunID: uuid.NewString(), mode: req.Mode}

	logging.OrchestratorDebug("plan[%s]: mode=%s force=%v collected=%d",
		plan.RunID, req.Mode, req.Force, len(req.CollectedTests))

	storedScope, hasScope, err := o.store.Scope()
	if err != nil {
		return plan, err
	}

	scopeSuperset := hasScope && !isSubset(req.Scope, storedScope)
	if scopeSuperset {
		plan.Warnings = append(plan.Warnings,
			fmt.Sprintf("%v: run scope is a superset of the stored scope %v", store.ErrScopeMismatch, storedScope))
	}

	if req.Mode == Incremental {
		return o.planIncremental(req, plan, scopeSuperset)
	}

	return o.planBaseline(req, plan, storedScope, scopeSuperset)
}

func (o *Orchestrator) planIncremental(req PlanRequest, plan Plan, scopeSuperset bool) (Plan, error) {
	empty, err := o.store.IsEmpty()
	if err != nil {
		return plan, err
	}

	if empty {
		plan.Warnings = append(plan.Warnings, "store is empty: running all collected tests")
		plan.RunSet = req.CollectedTests

		return plan, nil
	}

	envID, found, err := o.store.FindEnvironment(req.EnvName, req.SystemPackages, req.PythonVersion)
	if err != nil {
		return plan, err
	}

	if !found {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf("%v: running all collected tests", store.ErrEnvironmentMissing))
		plan.RunSet = req.CollectedTests

		return plan, nil
	}

	plan.envID = envID

	if scopeSuperset {
		plan.Warnings = append(plan.Warnings, "incremental run may skip tests the store has never seen")
	}

	return o.planFromChanges(req, plan, envID)
}

func (o *Orchestrator) planBaseline(req PlanRequest, plan Plan, storedScope []string, scopeSuperset bool) (Plan, error) {
	full, err := o.store.IsEmpty()
	if err != nil {
		return plan, err
	}

	full = full || req.Force || scopeSuperset

	envID, err := o.store.GetOrCreateEnvironment(req.EnvName, req.SystemPackages, req.PythonVersion)
	if err != nil {
		return plan, err
	}

	plan.envID = envID

	// An incremental baseline keeps prior rows, so the recorded scope must
	// keep covering them; a full rebuild replaces the scope outright.
	scope := req.Scope
	if !full {
		scope = unionScope(storedScope, req.Scope)
	}

	if err := o.store.SetScope(scope); err != nil {
		return plan, err
	}

	if full {
		plan.RunSet = req.CollectedTests

		return plan, nil
	}

	return o.planFromChanges(req, plan, envID)
}

func unionScope(stored, current []string) []string {
	seen := make(map[string]struct{}, len(stored)+len(current))

	var out []string

	for _, s := range append(append([]string{}, stored...), current...) {
		if _, dup := seen[s]; dup {
			continue
		}

		seen[s] = struct{}{}
		out = append(out, s)
	}

	return out
}

// planFromChanges runs the Change Detector and Affected-Test Resolver and
// unions in newly-collected tests with no prior row.
func (o *Orchestrator) planFromChanges(req PlanRequest, plan Plan, envID int64) (Plan, error) {
	changes, err := o.detector.Detect(context.Background(), req.CurrentAbsPaths)
	if err != nil {
		return plan, err
	}

	plan.changes = changes

	affected, err := o.resolver.Affected(envID, changes)
	if err != nil {
		return plan, err
	}

	newly, err := o.resolver.NewlyCollected(envID, req.CollectedTests)
	if err != nil {
		return plan, err
	}

	run := make(map[string]struct{}, len(affected)+len(newly))
	for name := range affected {
		run[name] = struct{}{}
	}

	for _, name := range newly {
		run[name] = struct{}{}
	}

	collectedSet := make(map[string]struct{}, len(req.CollectedTests))
	for _, name := range req.CollectedTests {
		collectedSet[name] = struct{}{}
	}

	var runSet, skipSet []string

	for name := range collectedSet {
		if _, ok := run[name]; ok {
			runSet = append(runSet, name)
		} else {
			skipSet = append(skipSet, name)
		}
	}

	sort.Strings(runSet)
	sort.Strings(skipSet)

	plan.RunSet = runSet
	plan.SkipSet = skipSet

	logging.Orchestrator("plan[%s]: %d to run, %d to skip", plan.RunID, len(runSet), len(skipSet))

	return plan, nil
}

// ChangedFingerprint returns the freshly-computed fingerprint for filename,
// if the Change Detector recomputed it while building this plan. Callers
// use this to avoid re-parsing a file they already know changed when
// building the Touched set for SaveTestExecution.
func (p Plan) ChangedFingerprint(filename string) (fingerprint.Fingerprint, bool) {
	fp, ok := p.changes.Fresh[filename]

	return fp, ok
}

// EnvID returns the resolved environment id this plan was computed against.
func (p Plan) EnvID() int64 { return p.envID }

// ShouldRecord reports whether post-run results should be written to the
// store. Incremental runs record no executions; their planning only
// refreshes stored mtimes of files whose content is unchanged.
func (p Plan) ShouldRecord() bool { return p.mode == Baseline }

func isSubset(scope, stored []string) bool {
	if len(stored) == 0 {
		return true
	}

	for _, s := range scope {
		covered := false

		for _, st := range stored {
			if hasPrefix(s, st) {
				covered = true

				break
			}
		}

		if !covered {
			return false
		}
	}

	return true
}

func hasPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}

	if len(path) < len(prefix) {
		return false
	}

	return path[:len(prefix)] == prefix
}
