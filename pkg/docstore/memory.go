package docstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend keeps documents in process. Reads and writes copy values so
// callers never share maps with the store.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[string]storedDocument
	now  func() time.Time
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]storedDocument), now: time.Now}
}

func (m *MemoryBackend) Get(_ context.Context, path string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored, ok := m.docs[path]
	if !ok {
		return Document{}, ErrNotFound
	}
	return toDocument(path, stored).Clone(), nil
}

func (m *MemoryBackend) Create(_ context.Context, path string, data map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[path]; ok {
		return ErrAlreadyExists
	}
	m.docs[path] = storedDocument{Data: cloneMap(data), UpdatedAt: m.now().UTC()}
	return nil
}

func (m *MemoryBackend) Set(_ context.Context, path string, data map[string]interface{}, opts WriteOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.docs[path]
	if opts.If != nil && (!exists || !opts.If.matches(current.Data)) {
		return ErrPreconditionFailed
	}
	next := cloneMap(data)
	if opts.Merge && exists {
		next = merge(current.Data, next)
	}
	m.docs[path] = storedDocument{Data: next, UpdatedAt: m.now().UTC()}
	return nil
}

func (m *MemoryBackend) List(_ context.Context, collection string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make([]Document, 0)
	for path, stored := range m.docs {
		if Parent(path) == collection {
			docs = append(docs, toDocument(path, stored).Clone())
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

func toDocument(path string, stored storedDocument) Document {
	return Document{Path: path, ID: Base(path), Data: stored.Data, UpdatedAt: stored.UpdatedAt}
}
