// Package detect implements the Change Detector: a three-level
// mtime -> content-hash -> block-checksum decision procedure.
package detect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/PaulM5406/pytest-difftest/internal/fingerprint"
	"github.com/PaulM5406/pytest-difftest/internal/logging"
	"github.com/PaulM5406/pytest-difftest/internal/store"
)

// ChangeSet is the Change Detector's output: the set of changed block
// checksums per file, plus the file-level bucket each filename fell into.
type ChangeSet struct {
	// Changed maps project-root-relative filename to the set of block
	// checksums added, removed, or mutated since the stored baseline. An
	// empty (non-nil) slice means the file was touched but no block
	// changed.
	Changed map[string][]int32
	New     []string
	Deleted []string
	Unchanged []string
	// Fresh holds the recomputed Fingerprint for every file that reached
	// Level 3, keyed by filename, so callers don't need to re-parse before
	// calling SaveTestExecution.
	Fresh map[string]fingerprint.Fingerprint
}

// Detector computes a ChangeSet by comparing the store's recorded
// fingerprints against the current state of disk.
type Detector struct {
	store       *store.Store
	fp          *fingerprint.Fingerprinter
	projectRoot string
	epsilon     time.Duration
}

// New creates a Detector rooted at projectRoot, using fp (which should be
// backed by the shared Fingerprint Cache) for Level 3 recomputation.
func New(s *store.Store, fp *fingerprint.Fingerprinter, projectRoot string, epsilon time.Duration) *Detector {
	if epsilon <= 0 {
		epsilon = time.Millisecond
	}

	return &Detector{store: s, fp: fp, projectRoot: projectRoot, epsilon: epsilon}
}

// Detect compares currentAbsPaths (every in-scope file presently on disk)
// against the store's recorded fingerprints.
func (d *Detector) Detect(ctx context.Context, currentAbsPaths []string) (ChangeSet, error) {
	result := ChangeSet{
		Changed: make(map[string][]int32),
		Fresh:   make(map[string]fingerprint.Fingerprint),
	}

	storedFiles, err := d.store.AllFingerprintFilenames()
	if err != nil {
		return result, fmt.Errorf("list stored filenames: %w", err)
	}

	current := make(map[string]string, len(currentAbsPaths)) // relative -> absolute
	for _, abs := range currentAbsPaths {
		rel, err := filepath.Rel(d.projectRoot, abs)
		if err != nil {
			rel = abs
		}

		current[filepath.ToSlash(rel)] = abs
	}

	storedSet := make(map[string]struct{}, len(storedFiles))
	for _, f := range storedFiles {
		storedSet[f] = struct{}{}
	}

	// New bucket: on disk, never recorded.
	for rel := range current {
		if _, ok := storedSet[rel]; !ok {
			result.New = append(result.New, rel)
		}
	}

	// Deleted and suspect buckets: recorded, check presence on disk.
	var suspects []string

	for _, rel := range storedFiles {
		abs, onDisk := current[rel]
		if !onDisk {
			result.Deleted = append(result.Deleted, rel)

			continue
		}

		unchanged, err := d.level1(rel, abs)
		if err != nil {
			return result, err
		}

		if unchanged {
			result.Unchanged = append(result.Unchanged, rel)

			continue
		}

		suspects = append(suspects, rel)
	}

	for _, rel := range result.New {
		fp, err := d.fp.One(current[rel])
		if err != nil {
			logging.Get(logging.CategoryDetect).Warn("failed to fingerprint new file %s: %v", rel, err)

			continue
		}

		result.Fresh[rel] = fp
		result.Changed[rel] = fp.MethodChecksums
	}

	for _, rel := range result.Deleted {
		union, err := d.unionStoredChecksums(rel)
		if err != nil {
			return result, err
		}

		result.Changed[rel] = union
	}

	for _, rel := range suspects {
		if err := d.resolveSuspect(rel, current[rel], &result); err != nil {
			return result, err
		}
	}

	logging.DetectDebug(
		"detect: %d new, %d deleted, %d unchanged, %d changed",
		len(result.New), len(result.Deleted), len(result.Unchanged), len(result.Changed),
	)

	return result, nil
}

// level1 is the cheap mtime scan: if every stored row's mtime is within
// epsilon of the file's current mtime, the file is unchanged.
func (d *Detector) level1(filename, absPath string) (unchanged bool, err error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", filename, err)
	}

	rows, err := d.store.ListFingerprintsForFile(filename)
	if err != nil {
		return false, err
	}

	current := float64(info.ModTime().UnixNano()) / float64(time.Second)
	epsilonSeconds := d.epsilon.Seconds()

	for _, row := range rows {
		delta := current - row.MTime
		if delta < 0 {
			delta = -delta
		}

		if delta > epsilonSeconds {
			return false, nil
		}
	}

	return true, nil
}

// resolveSuspect runs Level 2 (content hash) and, if still suspect, Level 3
// (block diff) for one file.
func (d *Detector) resolveSuspect(filename, absPath string, result *ChangeSet) error {
	data, err := os.ReadFile(absPath)
	if err != nil {
		// An unreadable file is treated as deleted for change detection.
		union, uErr := d.unionStoredChecksums(filename)
		if uErr != nil {
			return uErr
		}

		result.Deleted = append(result.Deleted, filename)
		result.Changed[filename] = union

		return nil
	}

	contentHash := sha256Hex(data)

	rows, err := d.store.ListFingerprintsForFile(filename)
	if err != nil {
		return err
	}

	allMatch := len(rows) > 0

	for _, row := range rows {
		if row.ContentHash != contentHash {
			allMatch = false

			break
		}
	}

	if allMatch {
		info, err := os.Stat(absPath)
		if err != nil {
			return fmt.Errorf("stat %s: %w", filename, err)
		}

		mtime := float64(info.ModTime().UnixNano()) / float64(time.Second)
		if err := d.store.RefreshMTime(filename, mtime); err != nil {
			return err
		}

		result.Unchanged = append(result.Unchanged, filename)

		return nil
	}

	fresh, err := d.fp.One(absPath)
	if err != nil {
		return fmt.Errorf("fingerprint %s: %w", filename, err)
	}

	result.Fresh[filename] = fresh

	union := make(map[int32]struct{})
	for _, row := range rows {
		for _, c := range row.MethodChecksums {
			union[c] = struct{}{}
		}
	}

	freshSet := make(map[int32]struct{}, len(fresh.MethodChecksums))
	for _, c := range fresh.MethodChecksums {
		freshSet[c] = struct{}{}
	}

	result.Changed[filename] = symmetricDifference(freshSet, union)

	return nil
}

func (d *Detector) unionStoredChecksums(filename string) ([]int32, error) {
	rows, err := d.store.ListFingerprintsForFile(filename)
	if err != nil {
		return nil, err
	}

	set := make(map[int32]struct{})

	for _, row := range rows {
		for _, c := range row.MethodChecksums {
			set[c] = struct{}{}
		}
	}

	return setToSlice(set), nil
}

func symmetricDifference(a, b map[int32]struct{}) []int32 {
	diff := make(map[int32]struct{})

	for c := range a {
		if _, ok := b[c]; !ok {
			diff[c] = struct{}{}
		}
	}

	for c := range b {
		if _, ok := a[c]; !ok {
			diff[c] = struct{}{}
		}
	}

	return setToSlice(diff)
}

func setToSlice(set map[int32]struct{}) []int32 {
	out := make([]int32, 0, len(set))
	for c := range set {
		out = append(out, c)
	}

	return out
}
