package data

import (
	"context"
	"sort"
	"sync"

	"github.com/PaulBabatuyi/chatsync/internal/paths"
)

// Change is one write observed by a MemoryStore. Before is nil on create and
// After is nil on delete.
type Change struct {
	Path   paths.Doc
	Before Document
	After  Document
}

// MemoryStore is an in-process Store. It records every write as a Change so
// tests can replay them through the trigger router the way the change stream
// would.
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[paths.Doc]Document
	changes []Change
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[paths.Doc]Document)}
}

func (m *MemoryStore) Get(ctx context.Context, path paths.Doc) (Document, error) {
	if !path.Valid() {
		return nil, ErrInvalidPath
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (m *MemoryStore) Set(ctx context.Context, path paths.Doc, doc Document) error {
	if !path.Valid() {
		return ErrInvalidPath
	}
	if doc == nil {
		doc = Document{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	before := m.docs[path]
	m.docs[path] = doc.Clone()
	m.changes = append(m.changes, Change{Path: path, Before: before.Clone(), After: doc.Clone()})
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, path paths.Doc) error {
	if !path.Valid() {
		return ErrInvalidPath
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(path)
	return nil
}

func (m *MemoryStore) deleteLocked(path paths.Doc) bool {
	before, ok := m.docs[path]
	if !ok {
		return false
	}
	delete(m.docs, path)
	m.changes = append(m.changes, Change{Path: path, Before: before.Clone()})
	return true
}

func (m *MemoryStore) Latest(ctx context.Context, coll paths.Collection, orderBy string, limit int64) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Document
	for p, doc := range m.docs {
		if p.Parent() == coll {
			out = append(out, doc.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return compareValues(out[i][orderBy], out[j][orderBy]) > 0
	})
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) DeleteCollection(ctx context.Context, coll paths.Collection) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for p := range m.docs {
		if p.Parent() == coll && m.deleteLocked(p) {
			n++
		}
	}
	return n, nil
}

// Exists reports whether a document is stored at path.
func (m *MemoryStore) Exists(path paths.Doc) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.docs[path]
	return ok
}

// DrainChanges returns and forgets the writes recorded so far.
func (m *MemoryStore) DrainChanges() []Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.changes
	m.changes = nil
	return out
}
