package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-auth-service/internal/model"
)

// runIdentityStoreContract exercises behavior every engine must share.
func runIdentityStoreContract(t *testing.T, newStore func(t *testing.T) IdentityStore) {
	ctx := context.Background()

	create := func(t *testing.T, store IdentityStore, username string, email string) model.Identity {
		t.Helper()

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		created, err := tx.CreateIdentity(ctx, model.Identity{
			Username:     username,
			Email:        email,
			FirstName:    "First",
			LastName:     "Last",
			PhoneNum:     "555-0100",
			PasswordHash: "$2a$04$hash",
		})
		require.NoError(t, err)
		require.NoError(t, tx.Commit(ctx))
		return created
	}

	t.Run("create and lookup", func(t *testing.T) {
		store := newStore(t)
		created := create(t, store, "alice", "alice@example.com")
		assert.Positive(t, created.ID)

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback(ctx) }()

		byID, err := tx.GetIdentityByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", byID.Username)
		assert.Equal(t, "alice@example.com", byID.Email)
		assert.Equal(t, "555-0100", byID.PhoneNum)
		assert.Nil(t, byID.RefreshHash)

		byUsername, err := tx.GetIdentityByLogin(ctx, "ALICE")
		require.NoError(t, err)
		assert.Equal(t, created.ID, byUsername.ID)

		byEmail, err := tx.GetIdentityByLogin(ctx, " Alice@Example.com ")
		require.NoError(t, err)
		assert.Equal(t, created.ID, byEmail.ID)
	})

	t.Run("missing identity", func(t *testing.T) {
		store := newStore(t)

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback(ctx) }()

		_, err = tx.GetIdentityByID(ctx, 999)
		assert.ErrorIs(t, err, model.ErrNotFound)

		_, err = tx.GetIdentityByLogin(ctx, "nouser")
		assert.ErrorIs(t, err, model.ErrNotFound)

		hash := "h"
		assert.ErrorIs(t, tx.UpdateRefreshHash(ctx, 999, &hash), model.ErrNotFound)
	})

	t.Run("duplicate username or email", func(t *testing.T) {
		store := newStore(t)
		create(t, store, "alice", "alice@example.com")

		for _, dup := range []model.Identity{
			{Username: "Alice", Email: "other@example.com", PasswordHash: "x"},
			{Username: "other", Email: "ALICE@example.com", PasswordHash: "x"},
		} {
			tx, err := store.Begin(ctx)
			require.NoError(t, err)
			_, err = tx.CreateIdentity(ctx, dup)
			if err == nil {
				err = tx.Commit(ctx)
			}
			assert.ErrorIs(t, err, model.ErrIdentityExists)
			_ = tx.Rollback(ctx)
		}
	})

	t.Run("login identifiers are unique across username and email", func(t *testing.T) {
		store := newStore(t)
		alice := create(t, store, "alice", "alice@example.com")

		for _, dup := range []model.Identity{
			{Username: "Alice@Example.com", Email: "other@example.com", PasswordHash: "x"},
			{Username: "other", Email: "ALICE", PasswordHash: "x"},
		} {
			tx, err := store.Begin(ctx)
			require.NoError(t, err)
			_, err = tx.CreateIdentity(ctx, dup)
			if err == nil {
				err = tx.Commit(ctx)
			}
			assert.ErrorIs(t, err, model.ErrIdentityExists)
			_ = tx.Rollback(ctx)
		}

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback(ctx) }()
		got, err := tx.GetIdentityByLogin(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, got.ID)
	})

	t.Run("update and clear refresh hash", func(t *testing.T) {
		store := newStore(t)
		alice := create(t, store, "alice", "alice@example.com")

		hash := "stored-hash"
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.GetIdentityByID(ctx, alice.ID)
		require.NoError(t, err)
		require.NoError(t, tx.UpdateRefreshHash(ctx, alice.ID, &hash))
		require.NoError(t, tx.Commit(ctx))
		require.NoError(t, tx.Rollback(ctx), "rollback after commit is a no-op")

		tx, err = store.Begin(ctx)
		require.NoError(t, err)
		got, err := tx.GetIdentityByID(ctx, alice.ID)
		require.NoError(t, err)
		require.NotNil(t, got.RefreshHash)
		assert.Equal(t, "stored-hash", *got.RefreshHash)
		require.NoError(t, tx.UpdateRefreshHash(ctx, alice.ID, nil))
		require.NoError(t, tx.Commit(ctx))

		tx, err = store.Begin(ctx)
		require.NoError(t, err)
		got, err = tx.GetIdentityByID(ctx, alice.ID)
		require.NoError(t, err)
		assert.Nil(t, got.RefreshHash)
		require.NoError(t, tx.Rollback(ctx))
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		store := newStore(t)
		alice := create(t, store, "alice", "alice@example.com")

		hash := "never-committed"
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.UpdateRefreshHash(ctx, alice.ID, &hash))
		require.NoError(t, tx.Rollback(ctx))
		require.NoError(t, tx.Rollback(ctx), "second rollback is a no-op")

		tx, err = store.Begin(ctx)
		require.NoError(t, err)
		got, err := tx.GetIdentityByID(ctx, alice.ID)
		require.NoError(t, err)
		assert.Nil(t, got.RefreshHash)
		require.NoError(t, tx.Rollback(ctx))
	})

	t.Run("health", func(t *testing.T) {
		assert.NoError(t, newStore(t).Health(ctx))
	})
}
