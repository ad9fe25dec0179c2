package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/PaulM5406/pytest-difftest/internal/detect"
	"github.com/PaulM5406/pytest-difftest/internal/fingerprint"
	"github.com/PaulM5406/pytest-difftest/internal/resolve"
	"github.com/PaulM5406/pytest-difftest/internal/store"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Store, string) {
	t.Helper()

	root := t.TempDir()

	s, err := store.Open(filepath.Join(root, ".cache", "diff", "store.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	fp := fingerprint.New(root, fingerprint.NewCache(10))
	detector := detect.New(s, fp, root, 0)
	resolver := resolve.New(s)

	return New(s, detector, resolver, 20), s, root
}

func writeSource(t *testing.T, root, name, content string) string {
	t.Helper()

	path := filepath.Join(root, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestPlan_BaselineOnEmptyStoreRunsEverything(t *testing.T) {
	o, _, root := newTestOrchestrator(t)
	path := writeSource(t, root, "a.py", "def foo():\n    pass\n")

	plan, err := o.Plan(context.Background(), PlanRequest{
		EnvName: "default", Mode: Baseline, CollectedTests: []string{"t1", "t2"}, CurrentAbsPaths: []string{path},
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"t1", "t2"}, plan.RunSet)
	require.Empty(t, plan.SkipSet)
	require.True(t, plan.ShouldRecord())
}

func TestPlan_IncrementalWithMissingEnvironmentRunsEverything(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	plan, err := o.Plan(context.Background(), PlanRequest{
		EnvName: "default", Mode: Incremental, CollectedTests: []string{"t1"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, plan.RunSet)
	require.NotEmpty(t, plan.Warnings)
	require.False(t, plan.ShouldRecord())
}

func TestPlan_IncrementalSkipsUnaffectedTests(t *testing.T) {
	o, s, root := newTestOrchestrator(t)
	path := writeSource(t, root, "a.py", "def foo():\n    return 1\n")

	baseline, err := o.Plan(context.Background(), PlanRequest{
		EnvName: "default", Mode: Baseline, CollectedTests: []string{"t1"}, CurrentAbsPaths: []string{path},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, baseline.RunSet)

	_, err = s.SaveTestExecution(store.PendingExecution{
		EnvID: baseline.EnvID(), TestName: "t1",
		Touched: []fingerprint.Fingerprint{mustFingerprint(t, root, path)},
	})
	require.NoError(t, err)

	incremental, err := o.Plan(context.Background(), PlanRequest{
		EnvName: "default", Mode: Incremental, CollectedTests: []string{"t1"}, CurrentAbsPaths: []string{path},
	})
	require.NoError(t, err)
	require.Empty(t, incremental.RunSet)
	require.Equal(t, []string{"t1"}, incremental.SkipSet)
}

func mustFingerprint(t *testing.T, root, path string) fingerprint.Fingerprint {
	t.Helper()

	fp := fingerprint.New(root, fingerprint.NewCache(10))

	result, err := fp.One(path)
	require.NoError(t, err)

	return result
}

func TestRecorder_FlushesAtBatchSize(t *testing.T) {
	defer goleak.VerifyNone(t)

	_, s, _ := newTestOrchestrator(t)

	envID, err := s.GetOrCreateEnvironment("default", "", "")
	require.NoError(t, err)

	r := NewRecorder(s, 2)

	require.NoError(t, r.Record(store.PendingExecution{EnvID: envID, TestName: "t1"}))
	require.NoError(t, r.Record(store.PendingExecution{EnvID: envID, TestName: "t2"}))

	existing, err := s.ExistingTestNames(envID)
	require.NoError(t, err)
	require.Len(t, existing, 2, "batch of 2 should auto-flush at batchSize=2")

	require.NoError(t, s.Close())
}

func TestIsSubset(t *testing.T) {
	require.True(t, isSubset(nil, nil))
	require.True(t, isSubset([]string{"pkg/a"}, nil))
	require.True(t, isSubset([]string{"pkg/a"}, []string{"pkg"}))
	require.False(t, isSubset([]string{"pkg/a", "other"}, []string{"pkg"}))
}
