//go:build integration

package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-auth-service/internal/database"
	"go-auth-service/internal/model"
)

// newTestPostgresStore connects to TEST_POSTGRES_URL, applies migrations and
// empties the users table.
func newTestPostgresStore(t *testing.T) *PostgresIdentityStore {
	t.Helper()

	url := os.Getenv("TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("TEST_POSTGRES_URL is not set")
	}

	ctx := context.Background()
	db, err := database.New(ctx, url, 4, 0)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.EnsureSchema(ctx))
	_, err = db.Pool.Exec(ctx, `TRUNCATE users RESTART IDENTITY`)
	require.NoError(t, err)

	return NewPostgresIdentityStore(db.Pool)
}

func TestPostgresIdentityStore_Contract(t *testing.T) {
	runIdentityStoreContract(t, func(t *testing.T) IdentityStore {
		return newTestPostgresStore(t)
	})
}

func TestPostgresIdentityStore_LockingReadSerializesWriters(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	setup, err := store.Begin(ctx)
	require.NoError(t, err)
	alice, err := setup.CreateIdentity(ctx, model.Identity{Username: "alice", Email: "alice@example.com", PasswordHash: "x"})
	require.NoError(t, err)
	require.NoError(t, setup.Commit(ctx))

	first, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = first.GetIdentityByID(ctx, alice.ID)
	require.NoError(t, err)
	rotated := "rotated-by-first"
	require.NoError(t, first.UpdateRefreshHash(ctx, alice.ID, &rotated))

	seen := make(chan model.Identity, 1)
	go func() {
		second, err := store.Begin(ctx)
		if err != nil {
			close(seen)
			return
		}
		defer func() { _ = second.Rollback(ctx) }()

		u, err := second.GetIdentityByID(ctx, alice.ID)
		if err != nil {
			close(seen)
			return
		}
		seen <- u
	}()

	assert.Never(t, func() bool { return len(seen) > 0 }, 300*time.Millisecond, 20*time.Millisecond,
		"second reader must wait for the first transaction's row lock")

	require.NoError(t, first.Commit(ctx))

	select {
	case u, ok := <-seen:
		require.True(t, ok, "second transaction failed")
		require.NotNil(t, u.RefreshHash)
		assert.Equal(t, rotated, *u.RefreshHash)
	case <-time.After(5 * time.Second):
		t.Fatal("second reader never acquired the row lock")
	}
}

func TestPostgresIdentityStore_ConcurrentRegistrationsSerialize(t *testing.T) {
	store := newTestPostgresStore(t)
	ctx := context.Background()

	first, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = first.CreateIdentity(ctx, model.Identity{Username: "alice", Email: "alice@example.com", PasswordHash: "x"})
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		second, err := store.Begin(ctx)
		if err != nil {
			result <- err
			return
		}
		defer func() { _ = second.Rollback(ctx) }()

		_, err = second.CreateIdentity(ctx, model.Identity{Username: "bob", Email: "ALICE", PasswordHash: "x"})
		result <- err
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, first.Commit(ctx))

	select {
	case err := <-result:
		assert.ErrorIs(t, err, model.ErrIdentityExists)
	case <-time.After(5 * time.Second):
		t.Fatal("second registration never finished")
	}
}
