package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-auth-service/internal/model"
)

const pgUniqueViolation = "23505"

// registrationLockKey is the transaction-scoped advisory lock taken by
// CreateIdentity.
const registrationLockKey int64 = 0x61757468

const identityColumns = `id, username, email, first_name, last_name, phone_num,
		        password_hash, refresh_hash, created_at, updated_at`

type PostgresIdentityStore struct {
	pool *pgxpool.Pool
}

func NewPostgresIdentityStore(pool *pgxpool.Pool) *PostgresIdentityStore {
	return &PostgresIdentityStore{pool: pool}
}

func (s *PostgresIdentityStore) Begin(ctx context.Context) (IdentityTx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &postgresIdentityTx{tx: tx}, nil
}

func (s *PostgresIdentityStore) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type postgresIdentityTx struct {
	tx pgx.Tx
}

func (t *postgresIdentityTx) GetIdentityByID(ctx context.Context, id int64) (model.Identity, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+identityColumns+`
		 FROM users WHERE id = $1 FOR UPDATE`, id)

	u, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Identity{}, model.ErrNotFound
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("find identity by id: %w", err)
	}
	return u, nil
}

func (t *postgresIdentityTx) GetIdentityByLogin(ctx context.Context, identifier string) (model.Identity, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+identityColumns+`
		 FROM users WHERE lower(username) = lower($1) OR lower(email) = lower($1)
		 ORDER BY id LIMIT 1`, strings.TrimSpace(identifier))

	u, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Identity{}, model.ErrNotFound
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("find identity by login: %w", err)
	}
	return u, nil
}

func (t *postgresIdentityTx) UpdateRefreshHash(ctx context.Context, id int64, hash *string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE users SET refresh_hash = $2, updated_at = $3 WHERE id = $1`,
		id, hash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update refresh hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// CreateIdentity rejects a username or email that matches any existing
// username or email, so a login identifier always resolves to one identity.
func (t *postgresIdentityTx) CreateIdentity(ctx context.Context, u model.Identity) (model.Identity, error) {
	// Serializes registrations; the unique indexes alone cannot see a
	// username colliding with another row's email.
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, registrationLockKey); err != nil {
		return model.Identity{}, fmt.Errorf("create identity: %w", err)
	}

	var taken bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM users
		   WHERE lower(username) IN (lower($1), lower($2)) OR lower(email) IN (lower($1), lower($2))
		 )`, u.Username, u.Email).Scan(&taken)
	if err != nil {
		return model.Identity{}, fmt.Errorf("create identity: %w", err)
	}
	if taken {
		return model.Identity{}, model.ErrIdentityExists
	}

	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	err = t.tx.QueryRow(ctx,
		`INSERT INTO users (username, email, first_name, last_name, phone_num, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		u.Username, u.Email, u.FirstName, u.LastName, u.PhoneNum, u.PasswordHash, u.CreatedAt, u.UpdatedAt).
		Scan(&u.ID)
	if err != nil {
		return model.Identity{}, insertError(err)
	}
	return u, nil
}

// insertError maps a unique violation to model.ErrIdentityExists.
func insertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return model.ErrIdentityExists
	}
	return fmt.Errorf("create identity: %w", err)
}

func (t *postgresIdentityTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (t *postgresIdentityTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

func scanIdentity(row pgx.Row) (model.Identity, error) {
	var u model.Identity
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.PhoneNum,
		&u.PasswordHash, &u.RefreshHash, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}
