package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/z-scene/backend/internal/apperr"
)

const defaultRedisKey = "scene:document"

// RedisStore keeps the whole document under a single redis key, so several
// processes can share state while keeping whole-document replace semantics.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a redis-backed store.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Load implements Store. A missing key is an empty document.
func (s *RedisStore) Load(ctx context.Context) (*Document, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, &apperr.StoreIOError{Op: "load", Err: err}
	}

	doc, err := decodeDocument(data)
	if err != nil {
		return nil, &apperr.StoreCorruptError{Source: "redis:" + s.key, Err: err}
	}
	if doc == nil {
		return NewDocument(), nil
	}
	return doc, nil
}

// Save implements Store. SET replaces the value in one step.
func (s *RedisStore) Save(ctx context.Context, doc *Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return &apperr.StoreIOError{Op: "encode", Err: err}
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return &apperr.StoreIOError{Op: "save", Err: err}
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
