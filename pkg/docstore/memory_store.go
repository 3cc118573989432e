package docstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryDoc struct {
	fields  map[string]any
	updated time.Time
}

// MemoryStore keeps documents in-process. Values are deep-copied on the way in
// and out so callers never share maps with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]memoryDoc
	writes int
}

// NewMemoryStore initializes an empty in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]memoryDoc)}
}

// Set replaces the document at path.
func (m *MemoryStore) Set(ctx context.Context, path string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	collection, id, err := splitDocPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[Join(collection, id)] = memoryDoc{fields: withoutDeletes(fields), updated: time.Now().UTC()}
	m.writes++
	return nil
}

// Merge patches the document at path, creating it when absent.
func (m *MemoryStore) Merge(ctx context.Context, path string, fields map[string]any) error {
	return m.merge(ctx, path, fields, false)
}

// Update patches an existing document.
func (m *MemoryStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return m.merge(ctx, path, fields, true)
}

func (m *MemoryStore) merge(ctx context.Context, path string, fields map[string]any, mustExist bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	collection, id, err := splitDocPath(path)
	if err != nil {
		return err
	}
	key := Join(collection, id)
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[key]
	if !ok {
		if mustExist {
			return ErrNotFound
		}
		doc = memoryDoc{fields: make(map[string]any)}
	}
	mergeFields(doc.fields, fields)
	doc.updated = time.Now().UTC()
	m.docs[key] = doc
	m.writes++
	return nil
}

// Get returns the document at path.
func (m *MemoryStore) Get(ctx context.Context, path string) (Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, false, err
	}
	collection, id, err := splitDocPath(path)
	if err != nil {
		return Document{}, false, err
	}
	key := Join(collection, id)
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[key]
	if !ok {
		return Document{}, false, nil
	}
	return Document{ID: id, Path: key, Fields: copyFields(doc.fields), UpdateTime: doc.updated}, true, nil
}

// List returns the documents directly under collection, ordered by path.
func (m *MemoryStore) List(ctx context.Context, collection string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	collection, err := validCollection(collection)
	if err != nil {
		return nil, err
	}
	prefix := collection + "/"
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]Document, 0)
	for key, doc := range m.docs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		id := strings.TrimPrefix(key, prefix)
		if strings.Contains(id, "/") {
			continue
		}
		res = append(res, Document{ID: id, Path: key, Fields: copyFields(doc.fields), UpdateTime: doc.updated})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Path < res[j].Path })
	return res, nil
}

// Delete removes the document at path. Missing documents are not an error.
func (m *MemoryStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	collection, id, err := splitDocPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.docs, Join(collection, id))
	m.writes++
	m.mu.Unlock()
	return nil
}

// Writes returns how many mutating calls have succeeded.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
