package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "store.db")

	s, err := Open(path, 0)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestOpen_CreatesSchemaAndIsReopenable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	s, err := Open(path, 0)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(path, 0)
	require.NoError(t, err)
	defer s2.Close()

	empty, err := s2.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)
}

func TestScope_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	_, has, err := s.Scope()
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, s.SetScope([]string{"pkg/a", "pkg/b"}))

	scope, has, err := s.Scope()
	require.NoError(t, err)
	require.True(t, has)
	require.Equal(t, []string{"pkg/a", "pkg/b"}, scope)
}

func TestGetOrCreateEnvironment_Idempotent(t *testing.T) {
	s := openTestStore(t)

	id1, err := s.GetOrCreateEnvironment("default", "pkgs", "3.12")
	require.NoError(t, err)

	id2, err := s.GetOrCreateEnvironment("default", "pkgs", "3.12")
	require.NoError(t, err)

	require.Equal(t, id1, id2)

	empty, err := s.IsEmpty()
	require.NoError(t, err)
	require.False(t, empty)
}

func TestFindEnvironment_MissingIsNotAnError(t *testing.T) {
	s := openTestStore(t)

	_, found, err := s.FindEnvironment("nope", "", "")
	require.NoError(t, err)
	require.False(t, found)
}

func TestPackUnpackChecksums_RoundTrip(t *testing.T) {
	in := []int32{1, -2, 3, 2147483647, -2147483648}

	out := unpackChecksums(packChecksums(in))

	require.Equal(t, in, out)
}
