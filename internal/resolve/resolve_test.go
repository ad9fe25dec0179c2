package resolve

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PaulM5406/pytest-difftest/internal/detect"
	"github.com/PaulM5406/pytest-difftest/internal/fingerprint"
	"github.com/PaulM5406/pytest-difftest/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "store.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestAffected_FindsTestsThroughChangedChecksum(t *testing.T) {
	s := newTestStore(t)
	r := New(s)

	envID, err := s.GetOrCreateEnvironment("default", "", "")
	require.NoError(t, err)

	_, err = s.SaveTestExecution(store.PendingExecution{
		EnvID: envID, TestName: "test_touches_a",
		Touched: []fingerprint.Fingerprint{{Filename: "a.py", ContentHash: "h", MethodChecksums: []int32{1, 2}}},
	})
	require.NoError(t, err)

	_, err = s.SaveTestExecution(store.PendingExecution{
		EnvID: envID, TestName: "test_touches_b",
		Touched: []fingerprint.Fingerprint{{Filename: "b.py", ContentHash: "h", MethodChecksums: []int32{3}}},
	})
	require.NoError(t, err)

	changes := detect.ChangeSet{Changed: map[string][]int32{"a.py": {2}}}

	affected, err := r.Affected(envID, changes)
	require.NoError(t, err)
	require.Contains(t, affected, "test_touches_a")
	require.NotContains(t, affected, "test_touches_b")
}

func TestAffected_AlwaysIncludesLastFailedTests(t *testing.T) {
	s := newTestStore(t)
	r := New(s)

	envID, err := s.GetOrCreateEnvironment("default", "", "")
	require.NoError(t, err)

	_, err = s.SaveTestExecution(store.PendingExecution{
		EnvID: envID, TestName: "test_flaky", Failed: true,
		Touched: []fingerprint.Fingerprint{{Filename: "c.py", ContentHash: "h", MethodChecksums: []int32{9}}},
	})
	require.NoError(t, err)

	affected, err := r.Affected(envID, detect.ChangeSet{})
	require.NoError(t, err)
	require.Contains(t, affected, "test_flaky")
}

func TestNewlyCollected_OnlyUnseenTests(t *testing.T) {
	s := newTestStore(t)
	r := New(s)

	envID, err := s.GetOrCreateEnvironment("default", "", "")
	require.NoError(t, err)

	_, err = s.SaveTestExecution(store.PendingExecution{EnvID: envID, TestName: "seen"})
	require.NoError(t, err)

	fresh, err := r.NewlyCollected(envID, []string{"seen", "unseen"})
	require.NoError(t, err)
	require.Equal(t, []string{"unseen"}, fresh)
}
