package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	_, err = store.FindByUser(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	rec, err := store.Insert(ctx, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Empty(t, rec.Memories)

	_, err = store.Insert(ctx, "u1")
	assert.Error(t, err, "user_id is unique")

	require.NoError(t, store.Update(ctx, "u1", []string{"A", "B"}))
	got, err := store.FindByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, []string{"A", "B"}, got.Memories)

	assert.ErrorIs(t, store.Update(ctx, "nobody", []string{"x"}), ErrNotFound)
}

func TestSQLiteStore_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "memories.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = store.Insert(context.Background(), "u1")
	require.NoError(t, err)
	require.NoError(t, store.Update(context.Background(), "u1", []string{"kept"}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.FindByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, got.Memories)
}

func TestSynthesize_SQLite(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	s := NewSynthesizer(&fixedCompleter{reply: `["User prefers primary sources"]`}, store, nil)
	s.Synthesize(context.Background(), "find founders", "Alice and Bob", "u1")
	s.Synthesize(context.Background(), "find founders", "Alice and Bob", "u1")

	assert.Equal(t, []string{"User prefers primary sources"}, memoriesOf(t, store, "u1"))
}
