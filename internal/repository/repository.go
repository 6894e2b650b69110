package repository

import (
	"context"

	"go-auth-service/internal/model"
)

// IdentityStore opens transactions against the identity records.
type IdentityStore interface {
	Begin(ctx context.Context) (IdentityTx, error)
	Health(ctx context.Context) error
}

// IdentityTx is a unit of work over identity records. GetIdentityByID takes
// a write lock (or an optimistic snapshot) on the record so that concurrent
// refresh-slot updates for the same user serialize; a lost race surfaces from
// Commit as model.ErrConflict or as a changed refresh hash on read.
//
// Lookups return model.ErrNotFound when no record matches. Rollback after
// Commit is a no-op.
type IdentityTx interface {
	GetIdentityByID(ctx context.Context, id int64) (model.Identity, error)
	GetIdentityByLogin(ctx context.Context, identifier string) (model.Identity, error)
	UpdateRefreshHash(ctx context.Context, id int64, hash *string) error
	CreateIdentity(ctx context.Context, identity model.Identity) (model.Identity, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
