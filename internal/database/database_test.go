package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiered-cache/internal/config"
)

func setupStore(t *testing.T) UserStore {
	t.Helper()
	store, err := Open(&config.Config{DatabaseType: "sqlite", DatabasePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUserStore_CRUD(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	t.Run("missing user is nil, not an error", func(t *testing.T) {
		user, err := store.GetUser(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, user)
	})

	t.Run("upsert and read back", func(t *testing.T) {
		require.NoError(t, store.UpsertUser(ctx, &User{ID: "7", Name: "ada", Email: "ada@example.com"}))

		user, err := store.GetUser(ctx, "7")
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "ada", user.Name)

		// upsert replaces
		require.NoError(t, store.UpsertUser(ctx, &User{ID: "7", Name: "lovelace"}))
		user, err = store.GetUser(ctx, "7")
		require.NoError(t, err)
		assert.Equal(t, "lovelace", user.Name)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.UpsertUser(ctx, &User{ID: "8", Name: "grace"}))
		require.NoError(t, store.DeleteUser(ctx, "8"))

		user, err := store.GetUser(ctx, "8")
		require.NoError(t, err)
		assert.Nil(t, user)

		// deleting a missing user is not an error
		assert.NoError(t, store.DeleteUser(ctx, "8"))
	})
}
