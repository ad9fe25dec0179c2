// Package merge implements the Merge Engine: deterministically
// combining multiple Dependency Store shards into one.
package merge

import (
	"database/sql"
	"fmt"

	"github.com/PaulM5406/pytest-difftest/internal/logging"
	"github.com/PaulM5406/pytest-difftest/internal/store"
)

// Merge opens every path in inputs read-only, in order, and unions their
// environments, fingerprints, executions, and junctions into the store
// already open at out. Duplicate (environment, test_name) rows resolve
// last-write-wins by input order; duplicate fingerprint identities dedup.
func Merge(out *store.Store, inputs []string) error {
	for i, path := range inputs {
		logging.Get(logging.CategoryMerge).Info("merging shard %d/%d: %s", i+1, len(inputs), path)

		if err := mergeOne(out, path); err != nil {
			return fmt.Errorf("merge %s: %w", path, err)
		}
	}

	return nil
}

func mergeOne(out *store.Store, path string) error {
	src, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_query_only=true")
	if err != nil {
		return fmt.Errorf("open source shard: %w", err)
	}
	defer src.Close()

	envIDMap, err := mergeEnvironments(out, src)
	if err != nil {
		return err
	}

	fpIDMap, err := mergeFingerprints(out, src)
	if err != nil {
		return err
	}

	return mergeExecutions(out, src, envIDMap, fpIDMap)
}

// mergeEnvironments copies every environment row from src into out,
// returning a map from the source row id to the destination row id.
func mergeEnvironments(out *store.Store, src *sql.DB) (map[int64]int64, error) {
	rows, err := src.Query(`SELECT id, environment_name, system_packages, python_version FROM environment`)
	if err != nil {
		return nil, fmt.Errorf("read environments: %w", err)
	}
	defer rows.Close()

	idMap := make(map[int64]int64)

	for rows.Next() {
		var (
			srcID                                  int64
			name, systemPackages, pythonVersion string
		)

		if err := rows.Scan(&srcID, &name, &systemPackages, &pythonVersion); err != nil {
			return nil, fmt.Errorf("scan environment: %w", err)
		}

		dstID, err := out.GetOrCreateEnvironment(name, systemPackages, pythonVersion)
		if err != nil {
			return nil, err
		}

		idMap[srcID] = dstID
	}

	return idMap, rows.Err()
}

// mergeFingerprints copies every file_fp row from src into out via the
// store's upsert-on-identity path, returning a map from the source row id
// to the destination row id.
func mergeFingerprints(out *store.Store, src *sql.DB) (map[int64]int64, error) {
	rows, err := src.Query(`SELECT id, filename, method_checksums, mtime, fsha FROM file_fp`)
	if err != nil {
		return nil, fmt.Errorf("read fingerprints: %w", err)
	}
	defer rows.Close()

	idMap := make(map[int64]int64)

	type row struct {
		srcID    int64
		filename string
		blob     []byte
		mtime    float64
		fsha     string
	}

	var pending []row

	for rows.Next() {
		var r row
		if err := rows.Scan(&r.srcID, &r.filename, &r.blob, &r.mtime, &r.fsha); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}

		pending = append(pending, r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, r := range pending {
		dstID, err := out.UpsertFingerprintBlob(r.filename, r.blob, r.mtime, r.fsha)
		if err != nil {
			return nil, err
		}

		idMap[r.srcID] = dstID
	}

	return idMap, nil
}

// mergeExecutions copies every test_execution row (translated through
// envIDMap) and its junction edges (translated through fpIDMap). Last
// write wins on (environment, test_name) because SaveTestExecutionRows
// deletes any prior row for that pair before inserting.
func mergeExecutions(out *store.Store, src *sql.DB, envIDMap, fpIDMap map[int64]int64) error {
	rows, err := src.Query(
		`SELECT id, environment_id, test_name, duration, failed, forced FROM test_execution`,
	)
	if err != nil {
		return fmt.Errorf("read executions: %w", err)
	}
	defer rows.Close()

	type execRow struct {
		srcID                  int64
		envID                  int64
		testName               string
		duration               sql.NullFloat64
		failed, forced         bool
	}

	var execs []execRow

	for rows.Next() {
		var (
			r             execRow
			failedI, forcedI int
		)

		if err := rows.Scan(&r.srcID, &r.envID, &r.testName, &r.duration, &failedI, &forcedI); err != nil {
			return fmt.Errorf("scan execution: %w", err)
		}

		r.failed = failedI != 0
		r.forced = forcedI != 0
		execs = append(execs, r)
	}

	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range execs {
		dstEnvID, ok := envIDMap[r.envID]
		if !ok {
			continue
		}

		fpIDs, err := fingerprintIDsForExecution(src, r.srcID, fpIDMap)
		if err != nil {
			return err
		}

		if err := out.SaveTestExecutionRows(dstEnvID, r.testName, r.duration, r.failed, r.forced, fpIDs); err != nil {
			return err
		}
	}

	return nil
}

func fingerprintIDsForExecution(src *sql.DB, srcExecID int64, fpIDMap map[int64]int64) ([]int64, error) {
	rows, err := src.Query(
		`SELECT fingerprint_id FROM test_execution_file_fp WHERE test_execution_id = ?`, srcExecID,
	)
	if err != nil {
		return nil, fmt.Errorf("read junctions: %w", err)
	}
	defer rows.Close()

	var ids []int64

	for rows.Next() {
		var srcFPID int64
		if err := rows.Scan(&srcFPID); err != nil {
			return nil, fmt.Errorf("scan junction: %w", err)
		}

		if dstID, ok := fpIDMap[srcFPID]; ok {
			ids = append(ids, dstID)
		}
	}

	return ids, rows.Err()
}
