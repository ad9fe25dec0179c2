package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PaulM5406/pytest-difftest/internal/fingerprint"
)

func TestSaveTestExecution_PersistsFingerprintsAndJunctions(t *testing.T) {
	s := openTestStore(t)

	envID, err := s.GetOrCreateEnvironment("default", "", "3.12")
	require.NoError(t, err)

	execID, err := s.SaveTestExecution(PendingExecution{
		EnvID:       envID,
		TestName:    "tests/test_a.py::test_one",
		Duration:    0.5,
		HasDuration: true,
		Touched: []fingerprint.Fingerprint{
			{Filename: "a.py", ContentHash: "sha-a", MTime: 1.0, MethodChecksums: []int32{1, 2}},
		},
	})
	require.NoError(t, err)
	require.NotZero(t, execID)

	rows, err := s.ListFingerprintsForFile("a.py")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, []int32{1, 2}, rows[0].MethodChecksums)

	names, err := s.TestNamesForFingerprints([]int64{rows[0].ID})
	require.NoError(t, err)
	require.Contains(t, names, "tests/test_a.py::test_one")
}

func TestSaveTestExecution_ReplacesPriorRowForSamePair(t *testing.T) {
	s := openTestStore(t)

	envID, err := s.GetOrCreateEnvironment("default", "", "3.12")
	require.NoError(t, err)

	touched := []fingerprint.Fingerprint{
		{Filename: "a.py", ContentHash: "sha-a", MTime: 1.0, MethodChecksums: []int32{1}},
	}

	_, err = s.SaveTestExecution(PendingExecution{EnvID: envID, TestName: "t", Failed: true, Touched: touched})
	require.NoError(t, err)

	_, err = s.SaveTestExecution(PendingExecution{EnvID: envID, TestName: "t", Failed: false, Touched: touched})
	require.NoError(t, err)

	failed, err := s.LatestFailedTests(envID)
	require.NoError(t, err)
	require.Empty(t, failed, "the second (passing) execution should have replaced the first")
}

func TestSaveTestExecutionsBatch_CommitsAllInOneTransaction(t *testing.T) {
	s := openTestStore(t)

	envID, err := s.GetOrCreateEnvironment("default", "", "3.12")
	require.NoError(t, err)

	batch := []PendingExecution{
		{EnvID: envID, TestName: "t1", Touched: []fingerprint.Fingerprint{{Filename: "a.py", ContentHash: "h1"}}},
		{EnvID: envID, TestName: "t2", Touched: []fingerprint.Fingerprint{{Filename: "b.py", ContentHash: "h2"}}},
	}

	ids, err := s.SaveTestExecutionsBatch(batch)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	existing, err := s.ExistingTestNames(envID)
	require.NoError(t, err)
	require.Contains(t, existing, "t1")
	require.Contains(t, existing, "t2")
}

func TestUpsertFingerprint_SharedAcrossTests(t *testing.T) {
	s := openTestStore(t)

	envID, err := s.GetOrCreateEnvironment("default", "", "3.12")
	require.NoError(t, err)

	shared := fingerprint.Fingerprint{Filename: "shared.py", ContentHash: "sha", MethodChecksums: []int32{9}}

	_, err = s.SaveTestExecution(PendingExecution{EnvID: envID, TestName: "t1", Touched: []fingerprint.Fingerprint{shared}})
	require.NoError(t, err)

	_, err = s.SaveTestExecution(PendingExecution{EnvID: envID, TestName: "t2", Touched: []fingerprint.Fingerprint{shared}})
	require.NoError(t, err)

	rows, err := s.ListFingerprintsForFile("shared.py")
	require.NoError(t, err)
	require.Len(t, rows, 1, "identical fingerprint identity should upsert to a single row")

	names, err := s.TestNamesForFingerprints([]int64{rows[0].ID})
	require.NoError(t, err)
	require.Len(t, names, 2)
}
