package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"go-auth-service/internal/model"
)

// SQLiteIdentityStore expects a database opened with _txlock=immediate so
// that every transaction takes the write lock at BEGIN.
type SQLiteIdentityStore struct {
	db *sqlx.DB
}

func NewSQLiteIdentityStore(db *sqlx.DB) *SQLiteIdentityStore {
	return &SQLiteIdentityStore{db: db}
}

func (s *SQLiteIdentityStore) Begin(ctx context.Context) (IdentityTx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqliteIdentityTx{tx: tx}, nil
}

func (s *SQLiteIdentityStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type sqliteIdentityTx struct {
	tx *sqlx.Tx
}

func (t *sqliteIdentityTx) GetIdentityByID(ctx context.Context, id int64) (model.Identity, error) {
	var u model.Identity
	err := t.tx.GetContext(ctx, &u, `SELECT * FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Identity{}, model.ErrNotFound
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("find identity by id: %w", err)
	}
	return u, nil
}

func (t *sqliteIdentityTx) GetIdentityByLogin(ctx context.Context, identifier string) (model.Identity, error) {
	identifier = strings.TrimSpace(identifier)

	var u model.Identity
	err := t.tx.GetContext(ctx, &u,
		`SELECT * FROM users
		 WHERE username = ? COLLATE NOCASE OR email = ? COLLATE NOCASE
		 ORDER BY id LIMIT 1`, identifier, identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Identity{}, model.ErrNotFound
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("find identity by login: %w", err)
	}
	return u, nil
}

func (t *sqliteIdentityTx) UpdateRefreshHash(ctx context.Context, id int64, hash *string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE users SET refresh_hash = ?, updated_at = ? WHERE id = ?`,
		hash, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update refresh hash: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update refresh hash: %w", err)
	}
	if affected == 0 {
		return model.ErrNotFound
	}
	return nil
}

// CreateIdentity rejects a username or email that matches any existing
// username or email, so a login identifier always resolves to one identity.
// The immediate transaction lock makes the check and the insert atomic.
func (t *sqliteIdentityTx) CreateIdentity(ctx context.Context, u model.Identity) (model.Identity, error) {
	var taken bool
	err := t.tx.GetContext(ctx, &taken,
		`SELECT EXISTS (
		   SELECT 1 FROM users
		   WHERE lower(username) IN (lower(?), lower(?)) OR lower(email) IN (lower(?), lower(?))
		 )`, u.Username, u.Email, u.Username, u.Email)
	if err != nil {
		return model.Identity{}, fmt.Errorf("create identity: %w", err)
	}
	if taken {
		return model.Identity{}, model.ErrIdentityExists
	}

	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	res, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO users (username, email, first_name, last_name, phone_num, password_hash, created_at, updated_at)
		 VALUES (:username, :email, :first_name, :last_name, :phone_num, :password_hash, :created_at, :updated_at)`, u)

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return model.Identity{}, model.ErrIdentityExists
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("create identity: %w", err)
	}

	u.ID, err = res.LastInsertId()
	if err != nil {
		return model.Identity{}, fmt.Errorf("create identity: %w", err)
	}
	return u, nil
}

func (t *sqliteIdentityTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (t *sqliteIdentityTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}
