package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCollection = "jaber-school/public/data/complaints"

func backendConformance(t *testing.T, backend Backend) {
	t.Helper()
	ctx := context.Background()
	path := testCollection + "/2024-03-10"

	_, err := backend.Get(ctx, path)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, backend.Create(ctx, path, map[string]interface{}{"raised": 4.0, "open": 2.0}))
	require.ErrorIs(t, backend.Create(ctx, path, map[string]interface{}{"raised": 9.0}), ErrAlreadyExists)

	require.NoError(t, backend.Set(ctx, path, map[string]interface{}{"closed": 2.0, "open": 0.0}, WriteOptions{Merge: true}))
	doc, err := backend.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-10", doc.ID)
	assert.Equal(t, map[string]interface{}{"raised": 4.0, "open": 0.0, "closed": 2.0}, doc.Data)

	err = backend.Set(ctx, path, map[string]interface{}{"open": 1.0}, WriteOptions{Merge: true, If: &Precondition{Field: "raised", Equals: 5.0}})
	require.ErrorIs(t, err, ErrPreconditionFailed)
	require.NoError(t, backend.Set(ctx, path, map[string]interface{}{"open": 1.0}, WriteOptions{Merge: true, If: &Precondition{Field: "raised", Equals: 4.0}}))

	err = backend.Set(ctx, testCollection+"/missing", map[string]interface{}{"open": 1.0}, WriteOptions{If: &Precondition{Field: "raised", Equals: 4.0}})
	require.ErrorIs(t, err, ErrPreconditionFailed)

	require.NoError(t, backend.Set(ctx, testCollection+"/2024-03-03", map[string]interface{}{"raised": 1.0}, WriteOptions{}))
	require.NoError(t, backend.Set(ctx, testCollection+"/2024-03-03", map[string]interface{}{"raised": 3.0}, WriteOptions{}))
	require.NoError(t, backend.Create(ctx, testCollection+"/2024-03-10/nested", map[string]interface{}{"x": true}))

	docs, err := backend.List(ctx, testCollection)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "2024-03-03", docs[0].ID)
	assert.Equal(t, map[string]interface{}{"raised": 3.0}, docs[0].Data)
	assert.Equal(t, "2024-03-10", docs[1].ID)
	assert.Equal(t, 1.0, docs[1].Data["open"])
}

func TestMemoryBackendConformance(t *testing.T) {
	backendConformance(t, NewMemoryBackend())
}

func TestMemoryBackendCopiesValues(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	data := map[string]interface{}{"tasks": []interface{}{map[string]interface{}{"progress": 10.0}}}
	require.NoError(t, backend.Create(ctx, testCollection+"/a", data))

	data["tasks"].([]interface{})[0].(map[string]interface{})["progress"] = 99.0
	doc, err := backend.Get(ctx, testCollection+"/a")
	require.NoError(t, err)
	doc.Data["extra"] = true

	again, err := backend.Get(ctx, testCollection+"/a")
	require.NoError(t, err)
	assert.Equal(t, 10.0, again.Data["tasks"].([]interface{})[0].(map[string]interface{})["progress"])
	assert.NotContains(t, again.Data, "extra")
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, "jaber-school/public/data/absence_fixing", PublicCollection("jaber-school", "absence_fixing"))
	assert.Equal(t, "jaber-school/users/u1/profile/role", RoleProfilePath("jaber-school", "u1"))
	assert.Equal(t, "a/b", Join("/a/", "", "b/"))
	assert.Equal(t, "a/b", Parent("a/b/c"))
	assert.Equal(t, "c", Base("a/b/c"))

	require.NoError(t, ValidatePath("a/b"))
	assert.ErrorIs(t, ValidatePath(""), ErrInvalidPath)
	assert.ErrorIs(t, ValidatePath("single"), ErrInvalidPath)
	assert.ErrorIs(t, ValidatePath("a//b"), ErrInvalidPath)
	assert.ErrorIs(t, ValidatePath("/a/b"), ErrInvalidPath)
}

func TestStoreNormalizesValues(t *testing.T) {
	type material struct {
		Name string  `json:"name"`
		Rate float64 `json:"rate"`
	}
	ctx := context.Background()
	store := New(NewMemoryBackend(), nil)
	defer store.Close()

	path := testCollection + "/m"
	require.NoError(t, store.Create(ctx, path, map[string]interface{}{
		"count":     3,
		"materials": []material{{Name: "Arabic", Rate: 41.6}},
	}))
	doc, err := store.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 3.0, doc.Data["count"])
	assert.Equal(t, []interface{}{map[string]interface{}{"name": "Arabic", "rate": 41.6}}, doc.Data["materials"])

	err = store.Set(ctx, path, map[string]interface{}{"count": 4}, WriteOptions{Merge: true, If: &Precondition{Field: "count", Equals: 3}})
	require.NoError(t, err)
}

type recorder[T any] struct {
	mu     sync.Mutex
	values []T
	errs   []error
}

func (r *recorder[T]) next(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder[T]) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder[T]) snapshot() ([]T, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...), append([]error(nil), r.errs...)
}

func (r *recorder[T]) last() (T, bool) {
	values, _ := r.snapshot()
	var zero T
	if len(values) == 0 {
		return zero, false
	}
	return values[len(values)-1], true
}

func TestWatchDocumentEmitsInitialAndChanges(t *testing.T) {
	ctx := context.Background()
	store := New(NewMemoryBackend(), nil)
	defer store.Close()

	path := RoleProfilePath("jaber-school", "u1")
	rec := &recorder[*Document]{}
	unsubscribe := store.WatchDocument(ctx, path, rec.next, rec.fail)
	defer unsubscribe()

	require.Eventually(t, func() bool {
		values, _ := rec.snapshot()
		return len(values) == 1 && values[0] == nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, store.Create(ctx, path, map[string]interface{}{"role": "manager"}))
	require.Eventually(t, func() bool {
		doc, ok := rec.last()
		return ok && doc != nil && doc.Data["role"] == "manager"
	}, time.Second, 5*time.Millisecond)
}

func TestWatchCollectionFollowsWritesAndStopsAfterUnsubscribe(t *testing.T) {
	ctx := context.Background()
	store := New(NewMemoryBackend(), nil)
	defer store.Close()

	rec := &recorder[[]Document]{}
	unsubscribe := store.WatchCollection(ctx, testCollection, rec.next, rec.fail)

	require.NoError(t, store.Create(ctx, testCollection+"/2024-03-03", map[string]interface{}{"raised": 1}))
	require.NoError(t, store.Create(ctx, testCollection+"/2024-03-10", map[string]interface{}{"raised": 2}))
	require.NoError(t, store.Create(ctx, "jaber-school/public/data/other/x", map[string]interface{}{"raised": 2}))

	require.Eventually(t, func() bool {
		docs, ok := rec.last()
		return ok && len(docs) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, store.WatcherCount())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, store.WatcherCount())

	before, _ := rec.snapshot()
	require.NoError(t, store.Create(ctx, testCollection+"/2024-03-17", map[string]interface{}{"raised": 3}))
	time.Sleep(50 * time.Millisecond)
	after, _ := rec.snapshot()
	assert.Equal(t, len(before), len(after))
}

type flakyBackend struct {
	*MemoryBackend
	mu   sync.Mutex
	fail bool
}

func (f *flakyBackend) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *flakyBackend) List(ctx context.Context, collection string) ([]Document, error) {
	f.mu.Lock()
	failing := f.fail
	f.mu.Unlock()
	if failing {
		return nil, errors.New("connection reset")
	}
	return f.MemoryBackend.List(ctx, collection)
}

func TestWatchReportsErrorsAndRecovers(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{MemoryBackend: NewMemoryBackend(), fail: true}
	store := New(backend, nil)
	defer store.Close()

	rec := &recorder[[]Document]{}
	unsubscribe := store.WatchCollection(ctx, testCollection, rec.next, rec.fail)
	defer unsubscribe()

	require.Eventually(t, func() bool {
		_, errs := rec.snapshot()
		return len(errs) == 1
	}, time.Second, 5*time.Millisecond)

	backend.setFail(false)
	require.NoError(t, store.Create(ctx, testCollection+"/2024-03-03", map[string]interface{}{"raised": 1}))

	require.Eventually(t, func() bool {
		docs, ok := rec.last()
		return ok && len(docs) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, store.WatcherCount())
}

type observerStub struct {
	mu  sync.Mutex
	ops []string
}

func (o *observerStub) ObserveDocstoreOperation(op string, err error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		op += ":error"
	}
	o.ops = append(o.ops, op)
}

func TestStoreReportsOperations(t *testing.T) {
	ctx := context.Background()
	observer := &observerStub{}
	store := New(NewMemoryBackend(), nil, WithObserver(observer))
	defer store.Close()

	_, _ = store.Get(ctx, testCollection+"/missing")
	require.NoError(t, store.Create(ctx, testCollection+"/a", nil))
	_ = store.Create(ctx, testCollection+"/a", nil)
	_, _ = store.List(ctx, testCollection)

	assert.Equal(t, []string{"get", "create", "create:error", "list"}, observer.ops)
}
