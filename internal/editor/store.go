package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aurum-atelier/atelier-admin/internal/shared"
)

// Store persists drafts between requests.
type Store interface {
	Save(ctx context.Context, d Draft) error
	Load(ctx context.Context, id uuid.UUID) (Draft, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Lock(ctx context.Context, id uuid.UUID) (unlock func(), err error)
}

const lockTTL = 10 * time.Second

var releaseLock = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisStore keeps drafts as JSON values that expire after ttl of inactivity.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func draftKey(id uuid.UUID) string {
	return "editor:draft:" + id.String()
}

// Save writes the draft and refreshes its expiry.
func (s *RedisStore) Save(ctx context.Context, d Draft) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("editor: encode draft: %w", err)
	}
	if err := s.client.Set(ctx, draftKey(d.ID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("editor: save draft: %w", err)
	}
	return nil
}

// Load reads a draft. Expired and unknown drafts yield ErrDraftNotFound.
func (s *RedisStore) Load(ctx context.Context, id uuid.UUID) (Draft, error) {
	payload, err := s.client.Get(ctx, draftKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Draft{}, ErrDraftNotFound
	}
	if err != nil {
		return Draft{}, fmt.Errorf("editor: load draft: %w", err)
	}
	var d Draft
	if err := json.Unmarshal(payload, &d); err != nil {
		return Draft{}, fmt.Errorf("editor: decode draft: %w", err)
	}
	return d, nil
}

// Delete removes a draft.
func (s *RedisStore) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := s.client.Del(ctx, draftKey(id)).Result()
	if err != nil {
		return fmt.Errorf("editor: delete draft: %w", err)
	}
	if n == 0 {
		return ErrDraftNotFound
	}
	return nil
}

// Lock takes the per-draft edit lock or fails fast with ErrDraftBusy. The
// returned func releases the lock only if this caller still owns it.
func (s *RedisStore) Lock(ctx context.Context, id uuid.UUID) (func(), error) {
	key := shared.DraftLockKey(id.String())
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, key, token, lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("editor: acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrDraftBusy
	}
	return func() {
		_ = releaseLock.Run(context.WithoutCancel(ctx), s.client, []string{key}, token).Err()
	}, nil
}
