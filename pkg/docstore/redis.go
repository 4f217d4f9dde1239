package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 8

// RedisBackend stores each document as a JSON string and keeps a set of member
// paths per collection. Merge and conditional writes run inside WATCH/MULTI.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisBackend returns a backend that namespaces every key with prefix.
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix, now: time.Now}
}

func (r *RedisBackend) docKey(path string) string {
	return r.prefix + "doc:" + path
}

func (r *RedisBackend) indexKey(collection string) string {
	return r.prefix + "col:" + collection
}

func (r *RedisBackend) Get(ctx context.Context, path string) (Document, error) {
	raw, err := r.client.Get(ctx, r.docKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document %s: %w", path, err)
	}
	return decodeStored(path, raw)
}

func (r *RedisBackend) Create(ctx context.Context, path string, data map[string]interface{}) error {
	key := r.docKey(path)
	return r.transact(ctx, key, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return ErrAlreadyExists
		}
		return r.write(ctx, tx, path, data)
	})
}

func (r *RedisBackend) Set(ctx context.Context, path string, data map[string]interface{}, opts WriteOptions) error {
	if !opts.Merge && opts.If == nil {
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.queueWrite(ctx, pipe, path, data)
		})
		if err != nil {
			return fmt.Errorf("set document %s: %w", path, err)
		}
		return nil
	}

	key := r.docKey(path)
	return r.transact(ctx, key, func(tx *redis.Tx) error {
		current := map[string]interface{}{}
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if opts.If != nil {
				return ErrPreconditionFailed
			}
		case err != nil:
			return err
		default:
			doc, err := decodeStored(path, raw)
			if err != nil {
				return err
			}
			current = doc.Data
		}
		if !opts.If.matches(current) {
			return ErrPreconditionFailed
		}
		next := data
		if opts.Merge {
			next = merge(current, data)
		}
		return r.write(ctx, tx, path, next)
	})
}

func (r *RedisBackend) List(ctx context.Context, collection string) ([]Document, error) {
	paths, err := r.client.SMembers(ctx, r.indexKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("list collection %s: %w", collection, err)
	}
	sort.Strings(paths)
	docs := make([]Document, 0, len(paths))
	if len(paths) == 0 {
		return docs, nil
	}

	keys := make([]string, len(paths))
	for i, path := range paths {
		keys[i] = r.docKey(path)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load collection %s: %w", collection, err)
	}
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		doc, err := decodeStored(paths[i], []byte(raw))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (r *RedisBackend) transact(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("write %s: too much contention", key)
}

func (r *RedisBackend) write(ctx context.Context, tx *redis.Tx, path string, data map[string]interface{}) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return r.queueWrite(ctx, pipe, path, data)
	})
	return err
}

func (r *RedisBackend) queueWrite(ctx context.Context, pipe redis.Pipeliner, path string, data map[string]interface{}) error {
	payload, err := json.Marshal(storedDocument{Data: data, UpdatedAt: r.now().UTC()})
	if err != nil {
		return err
	}
	pipe.Set(ctx, r.docKey(path), payload, 0)
	pipe.SAdd(ctx, r.indexKey(Parent(path)), path)
	return nil
}

func decodeStored(path string, raw []byte) (Document, error) {
	var stored storedDocument
	if err := json.Unmarshal(raw, &stored); err != nil {
		return Document{}, fmt.Errorf("decode document %s: %w", path, err)
	}
	if stored.Data == nil {
		stored.Data = map[string]interface{}{}
	}
	return toDocument(path, stored), nil
}
