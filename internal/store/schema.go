package store

const schemaVersion = "1"

// schemaDDL creates the store's tables and indexes. Every statement
// is idempotent so opening an existing store is safe.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS metadata (
	dataid TEXT PRIMARY KEY,
	data   TEXT
);

CREATE TABLE IF NOT EXISTS environment (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	environment_name  TEXT NOT NULL,
	system_packages   TEXT NOT NULL DEFAULT '',
	python_version    TEXT NOT NULL DEFAULT '',
	UNIQUE(environment_name, system_packages, python_version)
);

CREATE TABLE IF NOT EXISTS test_execution (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	environment_id  INTEGER NOT NULL REFERENCES environment(id) ON DELETE CASCADE,
	test_name       TEXT NOT NULL,
	duration        REAL,
	failed          INTEGER NOT NULL DEFAULT 0,
	forced          INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_test_execution_env ON test_execution(environment_id);
CREATE INDEX IF NOT EXISTS idx_test_execution_name ON test_execution(test_name);

CREATE TABLE IF NOT EXISTS file_fp (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	filename          TEXT NOT NULL,
	method_checksums  BLOB NOT NULL,
	mtime             REAL NOT NULL,
	fsha              TEXT NOT NULL,
	UNIQUE(filename, fsha, method_checksums)
);
CREATE INDEX IF NOT EXISTS idx_file_fp_filename ON file_fp(filename);

CREATE TABLE IF NOT EXISTS test_execution_file_fp (
	test_execution_id  INTEGER NOT NULL REFERENCES test_execution(id) ON DELETE CASCADE,
	fingerprint_id     INTEGER NOT NULL REFERENCES file_fp(id) ON DELETE CASCADE,
	PRIMARY KEY (test_execution_id, fingerprint_id)
);
CREATE INDEX IF NOT EXISTS idx_tefp_execution ON test_execution_file_fp(test_execution_id);
CREATE INDEX IF NOT EXISTS idx_tefp_fingerprint ON test_execution_file_fp(fingerprint_id);
`
