// Package store implements the Dependency Store: a persistent
// relational schema mapping test executions to file fingerprints, backed by
// SQLite via mattn/go-sqlite3.
package store

import "errors"

// Sentinel errors the core distinguishes.
var (
	// ErrStoreCorrupt is returned when the schema is unreadable or mismatched.
	// The host should be advised to retry with --diff-force.
	ErrStoreCorrupt = errors.New("dependency store is corrupt or schema mismatched")

	// ErrContentionExceeded is returned when the busy timeout elapses while
	// waiting for a write lock.
	ErrContentionExceeded = errors.New("dependency store write contention exceeded busy timeout")

	// ErrScopeMismatch signals the current run's scope is a superset of the
	// scope recorded at baseline time. Non-fatal; see orchestrator.
	ErrScopeMismatch = errors.New("run scope is not a subset of the stored scope")

	// ErrEnvironmentMissing describes an incremental plan against an
	// environment the store has never seen. It is not returned as an error:
	// the orchestrator reports it as a plan warning and runs every
	// collected test.
	ErrEnvironmentMissing = errors.New("no matching environment in store")
)

// Environment uniquely identifies the interpreter context of a test
// execution.
type Environment struct {
	ID             int64
	Name           string
	SystemPackages string
	PythonVersion  string
}

// Fingerprint is the persisted form of fingerprint.Fingerprint. On disk the
// checksum blob is packed (little-endian int32s) for cross-implementation
// stability; MethodChecksums holds the values already decoded from it.
type Fingerprint struct {
	ID              int64
	Filename        string
	MethodChecksums []int32
	MTime           float64
	ContentHash     string
}

// TestExecution is one row per (environment, test_name) in the current
// baseline.
type TestExecution struct {
	ID          int64
	EnvID       int64
	TestName    string
	Duration    float64
	HasDuration bool
	Failed      bool
	Forced      bool
	// Fingerprints is the set of Fingerprint rows this execution touched,
	// i.e. the TestExecutionFingerprint edges for this row.
	Fingerprints []Fingerprint
}
