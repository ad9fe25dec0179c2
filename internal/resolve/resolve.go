// Package resolve implements the Affected-Test Resolver: given the
// Change Detector's output, resolve the set of test identifiers to re-run.
package resolve

import (
	"github.com/PaulM5406/pytest-difftest/internal/detect"
	"github.com/PaulM5406/pytest-difftest/internal/logging"
	"github.com/PaulM5406/pytest-difftest/internal/store"
)

// Resolver answers "given a set of changed block checksums, which tests
// must be re-run?" against the Dependency Store.
type Resolver struct {
	store *store.Store
}

// New creates a Resolver backed by s.
func New(s *store.Store) *Resolver {
	return &Resolver{store: s}
}

// Affected returns the distinct set of test_name to re-run, given a
// ChangeSet from the Change Detector. It always includes every test in
// envID whose latest execution is marked failed - failing tests stay
// selected until they pass. The change-based part is not restricted to
// envID: a test recorded under any environment whose fingerprint was hit
// is included.
func (r *Resolver) Affected(envID int64, changes detect.ChangeSet) (map[string]struct{}, error) {
	affected := make(map[string]struct{})

	filenames := make([]string, 0, len(changes.Changed))
	for f := range changes.Changed {
		filenames = append(filenames, f)
	}

	if len(filenames) > 0 {
		candidates, err := r.store.CandidatesForFiles(filenames)
		if err != nil {
			return nil, err
		}

		var hitIDs []int64

		for _, c := range candidates {
			changedSet := toSet(changes.Changed[c.Filename])
			if intersects(c.Checksums, changedSet) {
				hitIDs = append(hitIDs, c.FingerprintID)
			}
		}

		if len(hitIDs) > 0 {
			names, err := r.store.TestNamesForFingerprints(hitIDs)
			if err != nil {
				return nil, err
			}

			for name := range names {
				affected[name] = struct{}{}
			}
		}
	}

	failed, err := r.store.LatestFailedTests(envID)
	if err != nil {
		return nil, err
	}

	for _, name := range failed {
		affected[name] = struct{}{}
	}

	logging.Get(logging.CategoryResolve).Debug("resolved %d affected test(s) across %d changed file(s)",
		len(affected), len(filenames))

	return affected, nil
}

// NewlyCollected returns the subset of collectedTests that have no prior
// TestExecution row for envID - these are selected regardless of change
// analysis, per the orchestrator's "no prior row" rule.
func (r *Resolver) NewlyCollected(envID int64, collectedTests []string) ([]string, error) {
	existing, err := r.store.ExistingTestNames(envID)
	if err != nil {
		return nil, err
	}

	var fresh []string

	for _, name := range collectedTests {
		if _, ok := existing[name]; !ok {
			fresh = append(fresh, name)
		}
	}

	return fresh, nil
}

func toSet(vals []int32) map[int32]struct{} {
	set := make(map[int32]struct{}, len(vals))
	for _, v := range vals {
		set[v] = struct{}{}
	}

	return set
}

func intersects(vals []int32, set map[int32]struct{}) bool {
	for _, v := range vals {
		if _, ok := set[v]; ok {
			return true
		}
	}

	return false
}
