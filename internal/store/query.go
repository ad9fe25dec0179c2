package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// ListFingerprintsForFile returns every stored Fingerprint row for filename,
// used by the Change Detector to compare against a freshly computed one.
func (s *Store) ListFingerprintsForFile(filename string) ([]Fingerprint, error) {
	rows, err := s.db.Query(
		`SELECT id, filename, method_checksums, mtime, fsha FROM file_fp WHERE filename = ?`,
		filename,
	)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints for %s: %w", filename, err)
	}
	defer rows.Close()

	return scanFingerprints(rows)
}

// AllFingerprintFilenames returns the distinct set of filenames the store
// has fingerprint rows for - the universe the Level 1 mtime scan walks.
func (s *Store) AllFingerprintFilenames() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT filename FROM file_fp`)
	if err != nil {
		return nil, fmt.Errorf("list filenames: %w", err)
	}
	defer rows.Close()

	var names []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan filename: %w", err)
		}

		names = append(names, name)
	}

	return names, rows.Err()
}

// RefreshMTime updates every fingerprint row for filename to mtime, used
// when Level 2 of the Change Detector confirms "unchanged".
func (s *Store) RefreshMTime(filename string, mtime float64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(`UPDATE file_fp SET mtime = ? WHERE filename = ?`, mtime, filename)
	if err != nil {
		return fmt.Errorf("refresh mtime for %s: %w", filename, err)
	}

	return nil
}

// DeleteFingerprintsForFile removes every fingerprint row for filename,
// cascading to any test_execution_file_fp junction rows. Used when a file
// has disappeared from disk.
func (s *Store) DeleteFingerprintsForFile(filename string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(`DELETE FROM file_fp WHERE filename = ?`, filename)
	if err != nil {
		return fmt.Errorf("delete fingerprints for %s: %w", filename, err)
	}

	return nil
}

// LatestFailedTests returns every test_name in envID whose most recent
// execution has failed=true; those are re-selected on every run.
// Because save_test_execution deletes the prior row before inserting a new
// one, at most one row per (env, test_name) ever exists, so "most recent"
// is simply "the stored row".
func (s *Store) LatestFailedTests(envID int64) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT test_name FROM test_execution WHERE environment_id = ? AND failed = 1`,
		envID,
	)
	if err != nil {
		return nil, fmt.Errorf("list failed tests: %w", err)
	}
	defer rows.Close()

	var names []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan failed test: %w", err)
		}

		names = append(names, name)
	}

	return names, rows.Err()
}

// ExistingTestNames returns the set of test_name already recorded for envID,
// used by the Orchestrator to find newly collected tests with no prior row.
func (s *Store) ExistingTestNames(envID int64) (map[string]struct{}, error) {
	rows, err := s.db.Query(`SELECT test_name FROM test_execution WHERE environment_id = ?`, envID)
	if err != nil {
		return nil, fmt.Errorf("list existing test names: %w", err)
	}
	defer rows.Close()

	names := make(map[string]struct{})

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan test name: %w", err)
		}

		names[name] = struct{}{}
	}

	return names, rows.Err()
}

// AffectedCandidate is one file_fp row pulled for resolution, with its
// checksums already unpacked.
type AffectedCandidate struct {
	FingerprintID int64
	Filename      string
	Checksums     []int32
}

// CandidatesForFiles fetches, in a single parameterized query, every
// fingerprint row for the given filenames, for the Affected-Test
// Resolver. The cost model is O(unique fingerprints),
// not O(tests x files).
func (s *Store) CandidatesForFiles(filenames []string) ([]AffectedCandidate, error) {
	if len(filenames) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(filenames))
	args := make([]any, len(filenames))

	for i, f := range filenames {
		placeholders[i] = "?"
		args[i] = f
	}

	query := fmt.Sprintf(
		`SELECT id, filename, method_checksums FROM file_fp WHERE filename IN (%s)`,
		strings.Join(placeholders, ","),
	)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []AffectedCandidate

	for rows.Next() {
		var (
			c    AffectedCandidate
			blob []byte
		)

		if err := rows.Scan(&c.FingerprintID, &c.Filename, &blob); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}

		c.Checksums = unpackChecksums(blob)
		candidates = append(candidates, c)
	}

	return candidates, rows.Err()
}

// TestNamesForFingerprints returns the distinct test_name set joined through
// test_execution_file_fp for the given fingerprint ids.
func (s *Store) TestNamesForFingerprints(fingerprintIDs []int64) (map[string]struct{}, error) {
	result := make(map[string]struct{})

	if len(fingerprintIDs) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(fingerprintIDs))
	args := make([]any, len(fingerprintIDs))

	for i, id := range fingerprintIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT te.test_name
		FROM test_execution_file_fp tefp
		JOIN test_execution te ON te.id = tefp.test_execution_id
		WHERE tefp.fingerprint_id IN (%s)`,
		strings.Join(placeholders, ","),
	)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query affected test names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan affected test name: %w", err)
		}

		result[name] = struct{}{}
	}

	return result, rows.Err()
}

func scanFingerprints(rows *sql.Rows) ([]Fingerprint, error) {
	var result []Fingerprint

	for rows.Next() {
		var (
			fp   Fingerprint
			blob []byte
		)

		if err := rows.Scan(&fp.ID, &fp.Filename, &blob, &fp.MTime, &fp.ContentHash); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}

		fp.MethodChecksums = unpackChecksums(blob)
		result = append(result, fp)
	}

	return result, rows.Err()
}
