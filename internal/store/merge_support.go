package store

import "database/sql"

// UpsertFingerprintBlob is the Merge Engine's entry point for copying a
// file_fp row whose checksum blob is already packed, avoiding a pointless
// unpack/repack round-trip through fingerprint.Fingerprint.
func (s *Store) UpsertFingerprintBlob(filename string, blob []byte, mtime float64, fsha string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var id int64

	res, err := s.withImmediate(func(tx *sql.Tx) (sql.Result, error) {
		row := tx.QueryRow(
			`SELECT id FROM file_fp WHERE filename = ? AND fsha = ? AND method_checksums = ?`,
			filename, fsha, blob,
		)

		switch err := row.Scan(&id); {
		case err == nil:
			return nil, nil
		case err != sql.ErrNoRows:
			return nil, err
		}

		return tx.Exec(
			`INSERT INTO file_fp(filename, method_checksums, mtime, fsha) VALUES (?, ?, ?, ?)`,
			filename, blob, mtime, fsha,
		)
	})
	if err != nil {
		return 0, err
	}

	if id != 0 {
		return id, nil
	}

	return res.LastInsertId()
}

// SaveTestExecutionRows is the Merge Engine's entry point for copying a
// test_execution row plus its junction edges when the fingerprint ids are
// already resolved against the destination store.
func (s *Store) SaveTestExecutionRows(
	envID int64, testName string, duration sql.NullFloat64, failed, forced bool, fingerprintIDs []int64,
) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.withImmediate(func(tx *sql.Tx) (sql.Result, error) {
		if _, err := tx.Exec(
			`DELETE FROM test_execution WHERE environment_id = ? AND test_name = ?`, envID, testName,
		); err != nil {
			return nil, err
		}

		res, err := tx.Exec(
			`INSERT INTO test_execution(environment_id, test_name, duration, failed, forced) VALUES (?, ?, ?, ?, ?)`,
			envID, testName, duration, boolToInt(failed), boolToInt(forced),
		)
		if err != nil {
			return nil, err
		}

		execID, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}

		for _, fpID := range fingerprintIDs {
			if _, err := tx.Exec(
				`INSERT INTO test_execution_file_fp(test_execution_id, fingerprint_id) VALUES (?, ?)`,
				execID, fpID,
			); err != nil {
				return nil, err
			}
		}

		return res, nil
	})

	return err
}
