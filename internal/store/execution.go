package store

import (
	"database/sql"
	"fmt"

	"github.com/PaulM5406/pytest-difftest/internal/fingerprint"
	"github.com/PaulM5406/pytest-difftest/internal/logging"
)

// PendingExecution is one buffered (environment, test_name) result awaiting
// commit.
type PendingExecution struct {
	EnvID       int64
	TestName    string
	Duration    float64
	HasDuration bool
	Failed      bool
	Forced      bool
	// Touched is the set of fingerprints this execution depends on.
	Touched []fingerprint.Fingerprint
}

// SaveTestExecution persists a single test execution: delete the prior row for
// (env_id, test_name) plus its junctions, upsert each fingerprint, insert
// the new execution row, and insert junction edges - all in one immediate
// transaction.
func (s *Store) SaveTestExecution(p PendingExecution) (int64, error) {
	ids, err := s.saveTestExecutions([]PendingExecution{p})
	if err != nil {
		return 0, err
	}

	return ids[0], nil
}

// SaveTestExecutionsBatch commits up to batch_size buffered executions in
// one transaction, amortizing commit overhead.
func (s *Store) SaveTestExecutionsBatch(executions []PendingExecution) ([]int64, error) {
	return s.saveTestExecutions(executions)
}

func (s *Store) saveTestExecutions(executions []PendingExecution) ([]int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ids := make([]int64, len(executions))

	_, err := s.withImmediate(func(tx *sql.Tx) (sql.Result, error) {
		for i, p := range executions {
			if _, err := tx.Exec(
				`DELETE FROM test_execution WHERE environment_id = ? AND test_name = ?`,
				p.EnvID, p.TestName,
			); err != nil {
				return nil, fmt.Errorf("delete prior execution for %s: %w", p.TestName, err)
			}

			fpIDs := make([]int64, len(p.Touched))

			for j, fp := range p.Touched {
				fpID, err := upsertFingerprint(tx, fp)
				if err != nil {
					return nil, fmt.Errorf("upsert fingerprint %s: %w", fp.Filename, err)
				}

				fpIDs[j] = fpID
			}

			var duration sql.NullFloat64
			if p.HasDuration {
				duration = sql.NullFloat64{Float64: p.Duration, Valid: true}
			}

			res, err := tx.Exec(
				`INSERT INTO test_execution(environment_id, test_name, duration, failed, forced)
				 VALUES (?, ?, ?, ?, ?)`,
				p.EnvID, p.TestName, duration, boolToInt(p.Failed), boolToInt(p.Forced),
			)
			if err != nil {
				return nil, fmt.Errorf("insert execution for %s: %w", p.TestName, err)
			}

			execID, err := res.LastInsertId()
			if err != nil {
				return nil, fmt.Errorf("read execution id: %w", err)
			}

			ids[i] = execID

			for _, fpID := range fpIDs {
				if _, err := tx.Exec(
					`INSERT INTO test_execution_file_fp(test_execution_id, fingerprint_id) VALUES (?, ?)`,
					execID, fpID,
				); err != nil {
					return nil, fmt.Errorf("link execution %d to fingerprint %d: %w", execID, fpID, err)
				}
			}
		}

		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	logging.StoreDebug("committed %d test execution(s)", len(executions))

	return ids, nil
}

// upsertFingerprint inserts fp if no row with the same
// (filename, content_hash, method_checksums) identity exists, returning
// either the new or the existing row's id.
func upsertFingerprint(tx *sql.Tx, fp fingerprint.Fingerprint) (int64, error) {
	blob := packChecksums(fp.MethodChecksums)

	var id int64

	row := tx.QueryRow(
		`SELECT id FROM file_fp WHERE filename = ? AND fsha = ? AND method_checksums = ?`,
		fp.Filename, fp.ContentHash, blob,
	)

	switch err := row.Scan(&id); {
	case err == nil:
		// Refresh mtime on the existing row - Level 2 "unchanged" still
		// advances mtime so future Level 1 scans short-circuit.
		if _, err := tx.Exec(`UPDATE file_fp SET mtime = ? WHERE id = ?`, fp.MTime, id); err != nil {
			return 0, err
		}

		return id, nil
	case err != sql.ErrNoRows:
		return 0, err
	}

	res, err := tx.Exec(
		`INSERT INTO file_fp(filename, method_checksums, mtime, fsha) VALUES (?, ?, ?, ?)`,
		fp.Filename, blob, fp.MTime, fp.ContentHash,
	)
	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
