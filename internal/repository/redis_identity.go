package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"go-auth-service/internal/model"
)

const (
	fieldRefreshHash = "refresh_hash"
	fieldUpdatedAt   = "updated_at"
)

// RedisIdentityStore keeps each identity in a hash and resolves logins through
// one index key per username and email. Transactions buffer their writes and
// apply them at Commit under WATCH; records read through GetIdentityByID are
// compared against their snapshot, so a concurrent rotation makes Commit fail
// with model.ErrConflict.
type RedisIdentityStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisIdentityStore(client redis.UniversalClient, prefix string) *RedisIdentityStore {
	return &RedisIdentityStore{client: client, prefix: prefix}
}

func (s *RedisIdentityStore) Begin(ctx context.Context) (IdentityTx, error) {
	return &redisIdentityTx{
		store:     s,
		snapshots: map[int64]string{},
		writes:    map[int64]*string{},
	}, nil
}

func (s *RedisIdentityStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisIdentityStore) userKey(id int64) string {
	return s.prefix + "user:" + strconv.FormatInt(id, 10)
}

func (s *RedisIdentityStore) loginKey(login string) string {
	return s.prefix + "login:" + strings.ToLower(strings.TrimSpace(login))
}

func (s *RedisIdentityStore) sequenceKey() string {
	return s.prefix + "user:seq"
}

type redisIdentityTx struct {
	store     *RedisIdentityStore
	snapshots map[int64]string
	writes    map[int64]*string
	creates   []model.Identity
	done      bool
}

func (t *redisIdentityTx) GetIdentityByID(ctx context.Context, id int64) (model.Identity, error) {
	u, err := t.load(ctx, id)
	if err != nil {
		return model.Identity{}, err
	}

	if _, seen := t.snapshots[id]; !seen {
		t.snapshots[id] = derefHash(u.RefreshHash)
	}
	if pending, ok := t.writes[id]; ok {
		u.RefreshHash = pending
	}
	return u, nil
}

func (t *redisIdentityTx) GetIdentityByLogin(ctx context.Context, identifier string) (model.Identity, error) {
	raw, err := t.store.client.Get(ctx, t.store.loginKey(identifier)).Result()
	if errors.Is(err, redis.Nil) {
		return model.Identity{}, model.ErrNotFound
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("find identity by login: %w", err)
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return model.Identity{}, fmt.Errorf("find identity by login: corrupt index value %q", raw)
	}

	u, err := t.load(ctx, id)
	if err != nil {
		return model.Identity{}, err
	}
	if pending, ok := t.writes[id]; ok {
		u.RefreshHash = pending
	}
	return u, nil
}

func (t *redisIdentityTx) UpdateRefreshHash(ctx context.Context, id int64, hash *string) error {
	n, err := t.store.client.Exists(ctx, t.store.userKey(id)).Result()
	if err != nil {
		return fmt.Errorf("update refresh hash: %w", err)
	}
	if n == 0 {
		return model.ErrNotFound
	}

	t.writes[id] = hash
	return nil
}

func (t *redisIdentityTx) CreateIdentity(ctx context.Context, u model.Identity) (model.Identity, error) {
	for _, login := range []string{u.Username, u.Email} {
		n, err := t.store.client.Exists(ctx, t.store.loginKey(login)).Result()
		if err != nil {
			return model.Identity{}, fmt.Errorf("create identity: %w", err)
		}
		if n > 0 {
			return model.Identity{}, model.ErrIdentityExists
		}
	}

	id, err := t.store.client.Incr(ctx, t.store.sequenceKey()).Result()
	if err != nil {
		return model.Identity{}, fmt.Errorf("allocate identity id: %w", err)
	}

	now := time.Now().UTC()
	u.ID = id
	u.CreatedAt, u.UpdatedAt = now, now
	t.creates = append(t.creates, u)
	return u, nil
}

func (t *redisIdentityTx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("commit transaction: already finished")
	}
	t.done = true

	if len(t.writes) == 0 && len(t.creates) == 0 {
		return nil
	}

	keys := make([]string, 0, len(t.snapshots)+len(t.writes)+2*len(t.creates))
	for id := range t.snapshots {
		keys = append(keys, t.store.userKey(id))
	}
	for id := range t.writes {
		if _, seen := t.snapshots[id]; !seen {
			keys = append(keys, t.store.userKey(id))
		}
	}
	for _, u := range t.creates {
		keys = append(keys, t.store.loginKey(u.Username), t.store.loginKey(u.Email))
	}

	err := t.store.client.Watch(ctx, func(tx *redis.Tx) error {
		if err := t.verifySnapshots(ctx, tx); err != nil {
			return err
		}
		if err := t.verifyLoginsFree(ctx, tx); err != nil {
			return err
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			t.queueWrites(ctx, pipe)
			return nil
		})
		return err
	}, keys...)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return model.ErrConflict
	case errors.Is(err, model.ErrConflict), errors.Is(err, model.ErrIdentityExists):
		return err
	default:
		return fmt.Errorf("commit transaction: %w", err)
	}
}

func (t *redisIdentityTx) Rollback(ctx context.Context) error {
	t.done = true
	t.writes = map[int64]*string{}
	t.creates = nil
	return nil
}

func (t *redisIdentityTx) verifySnapshots(ctx context.Context, tx *redis.Tx) error {
	for id, expected := range t.snapshots {
		current, err := tx.HGet(ctx, t.store.userKey(id), fieldRefreshHash).Result()
		if errors.Is(err, redis.Nil) {
			current = ""
		} else if err != nil {
			return err
		}
		if current != expected {
			return model.ErrConflict
		}
	}
	return nil
}

func (t *redisIdentityTx) verifyLoginsFree(ctx context.Context, tx *redis.Tx) error {
	for _, u := range t.creates {
		n, err := tx.Exists(ctx, t.store.loginKey(u.Username), t.store.loginKey(u.Email)).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return model.ErrIdentityExists
		}
	}
	return nil
}

func (t *redisIdentityTx) queueWrites(ctx context.Context, pipe redis.Pipeliner) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	for id, hash := range t.writes {
		key := t.store.userKey(id)
		if hash == nil {
			pipe.HDel(ctx, key, fieldRefreshHash)
		} else {
			pipe.HSet(ctx, key, fieldRefreshHash, *hash)
		}
		pipe.HSet(ctx, key, fieldUpdatedAt, now)
	}

	for _, u := range t.creates {
		idValue := strconv.FormatInt(u.ID, 10)
		pipe.HSet(ctx, t.store.userKey(u.ID), identityToHash(u))
		pipe.Set(ctx, t.store.loginKey(u.Username), idValue, 0)
		pipe.Set(ctx, t.store.loginKey(u.Email), idValue, 0)
	}
}

func (t *redisIdentityTx) load(ctx context.Context, id int64) (model.Identity, error) {
	fields, err := t.store.client.HGetAll(ctx, t.store.userKey(id)).Result()
	if err != nil {
		return model.Identity{}, fmt.Errorf("find identity by id: %w", err)
	}
	if len(fields) == 0 {
		return model.Identity{}, model.ErrNotFound
	}

	u, err := identityFromHash(fields)
	if err != nil {
		return model.Identity{}, fmt.Errorf("decode identity %d: %w", id, err)
	}
	return u, nil
}

func identityToHash(u model.Identity) map[string]any {
	fields := map[string]any{
		"id":            strconv.FormatInt(u.ID, 10),
		"username":      u.Username,
		"email":         u.Email,
		"first_name":    u.FirstName,
		"last_name":     u.LastName,
		"phone_num":     u.PhoneNum,
		"password_hash": u.PasswordHash,
		"created_at":    u.CreatedAt.Format(time.RFC3339Nano),
		fieldUpdatedAt:  u.UpdatedAt.Format(time.RFC3339Nano),
	}
	if u.RefreshHash != nil {
		fields[fieldRefreshHash] = *u.RefreshHash
	}
	return fields
}

func identityFromHash(fields map[string]string) (model.Identity, error) {
	id, err := strconv.ParseInt(fields["id"], 10, 64)
	if err != nil {
		return model.Identity{}, fmt.Errorf("parse id: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return model.Identity{}, fmt.Errorf("parse created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, fields[fieldUpdatedAt])
	if err != nil {
		return model.Identity{}, fmt.Errorf("parse updated_at: %w", err)
	}

	u := model.Identity{
		ID:           id,
		Username:     fields["username"],
		Email:        fields["email"],
		FirstName:    fields["first_name"],
		LastName:     fields["last_name"],
		PhoneNum:     fields["phone_num"],
		PasswordHash: fields["password_hash"],
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}
	if hash, ok := fields[fieldRefreshHash]; ok && hash != "" {
		u.RefreshHash = &hash
	}
	return u, nil
}

func derefHash(hash *string) string {
	if hash == nil {
		return ""
	}
	return *hash
}
