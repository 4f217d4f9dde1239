package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestRedisBackendConformance(t *testing.T) {
	client, _ := newTestRedis(t)
	backendConformance(t, NewRedisBackend(client, "test:"))
}

func TestRedisBackendKeyLayout(t *testing.T) {
	client, mr := newTestRedis(t)
	backend := NewRedisBackend(client, "sma:")
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, testCollection+"/2024-03-10", map[string]interface{}{"raised": 1.0}))

	assert.True(t, mr.Exists("sma:doc:"+testCollection+"/2024-03-10"))
	members, err := mr.Members("sma:col:" + testCollection)
	require.NoError(t, err)
	assert.Equal(t, []string{testCollection + "/2024-03-10"}, members)
}

func TestRedisBackendListSkipsStaleIndexEntries(t *testing.T) {
	client, mr := newTestRedis(t)
	backend := NewRedisBackend(client, "")
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, testCollection+"/a", map[string]interface{}{"raised": 1.0}))
	_, err := mr.SetAdd("col:"+testCollection, testCollection+"/ghost")
	require.NoError(t, err)

	docs, err := backend.List(ctx, testCollection)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].ID)
}

func TestRedisBrokerDeliversEventsAcrossStores(t *testing.T) {
	client, _ := newTestRedis(t)
	ctx := context.Background()
	backend := NewRedisBackend(client, "")

	writer := New(backend, NewRedisBroker(client, "changes", nil))
	reader := New(backend, NewRedisBroker(client, "changes", nil))
	defer writer.Close()
	defer reader.Close()
	require.NoError(t, reader.Start(ctx))

	rec := &recorder[[]Document]{}
	unsubscribe := reader.WatchCollection(ctx, testCollection, rec.next, rec.fail)
	defer unsubscribe()
	require.Eventually(t, func() bool {
		values, _ := rec.snapshot()
		return len(values) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, writer.Create(ctx, testCollection+"/2024-03-10", map[string]interface{}{"raised": 1}))

	require.Eventually(t, func() bool {
		docs, ok := rec.last()
		return ok && len(docs) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
