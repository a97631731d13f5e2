package huntingcorner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// Shared Store contract
// ============================================================================

func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := st.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, st.Set(ctx, "b", "2"))
	require.NoError(t, st.Set(ctx, "a", "1"))
	require.NoError(t, st.Set(ctx, "a", "one"))

	v, ok, err := st.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", v)

	keys, err := st.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, st.Remove(ctx, "a"))
	require.NoError(t, st.Remove(ctx, "a"), "removing an absent key is not an error")
	_, ok, _ = st.Get(ctx, "a")
	require.False(t, ok)

	require.NoError(t, st.Clear(ctx))
	keys, err = st.Keys(ctx)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.toml")

	t.Run("contract", func(t *testing.T) {
		st, err := OpenFileStore(path)
		require.NoError(t, err)
		exerciseStore(t, st)
	})

	t.Run("persists across reopen", func(t *testing.T) {
		ctx := context.Background()
		st, err := OpenFileStore(path)
		require.NoError(t, err)
		require.NoError(t, st.Set(ctx, KeyAccessToken, "A"))
		require.NoError(t, st.Set(ctx, KeyUser, `{"id":1,"name":"T"}`))

		reopened, err := OpenFileStore(path)
		require.NoError(t, err)
		v, ok, err := reopened.Get(ctx, KeyAccessToken)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "A", v)
		v, _, _ = reopened.Get(ctx, KeyUser)
		require.Equal(t, `{"id":1,"name":"T"}`, v)
	})

	t.Run("owner-only permissions", func(t *testing.T) {
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("corrupt document", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.toml")
		require.NoError(t, os.WriteFile(bad, []byte("values = [unterminated"), 0o600))
		_, err := OpenFileStore(bad)
		var storageErr *StorageError
		require.True(t, errors.As(err, &storageErr))
		require.Equal(t, "open", storageErr.Op)
	})
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")

	t.Run("contract", func(t *testing.T) {
		st, err := OpenSQLiteStore(path)
		require.NoError(t, err)
		defer st.Close()
		exerciseStore(t, st)
	})

	t.Run("persists across reopen", func(t *testing.T) {
		ctx := context.Background()
		st, err := OpenSQLiteStore(path)
		require.NoError(t, err)
		require.NoError(t, st.Set(ctx, KeyRefreshToken, "R"))
		require.NoError(t, st.Close())

		reopened, err := OpenSQLiteStore(path)
		require.NoError(t, err)
		defer reopened.Close()
		v, ok, err := reopened.Get(ctx, KeyRefreshToken)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "R", v)
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := OpenSQLiteStore("  ")
		require.Error(t, err)
	})
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()

	st, err := OpenStore(StoreOptions{})
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, st)

	st, err = OpenStore(StoreOptions{Platform: PlatformNative, Path: filepath.Join(dir, "s.toml")})
	require.NoError(t, err)
	require.IsType(t, &FileStore{}, st)

	st, err = OpenStore(StoreOptions{Platform: PlatformWeb, Path: filepath.Join(dir, "s.db")})
	require.NoError(t, err)
	require.IsType(t, &SQLiteStore{}, st)
	require.NoError(t, st.(*SQLiteStore).Close())
}

func TestNamespace(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryStore()
	require.NoError(t, base.Set(ctx, KeyAccessToken, "A"))

	ns := Namespace(base, cacheNamespace)
	exerciseStore(t, ns)

	require.NoError(t, ns.Set(ctx, CacheAds, "{}"))
	v, ok, _ := base.Get(ctx, cacheNamespace+CacheAds)
	require.True(t, ok)
	require.Equal(t, "{}", v)

	require.NoError(t, ns.Clear(ctx))
	v, ok, _ = base.Get(ctx, KeyAccessToken)
	require.True(t, ok, "clearing the namespace must not touch other keys")
	require.Equal(t, "A", v)
}
