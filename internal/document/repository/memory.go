package repository

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gogotex/collabdocs/internal/document"
	"github.com/google/uuid"
)

// MemoryStore keeps documents and versions in process memory. It backs unit
// tests and the single-process development server.
//
// Transactions are serialized by txMu and record undo steps; a failed
// transaction replays them in reverse under mu.
type MemoryStore struct {
	mu       sync.RWMutex
	txMu     sync.Mutex
	docs     map[string]*document.Document
	order    []string
	versions map[string][]*document.Version
	now      func() time.Time
}

type memTx struct {
	undo []func()
}

type memTxKey struct{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]*document.Document),
		versions: make(map[string][]*document.Version),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func txFrom(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

// onRollback registers an undo step; callers hold m.mu.
func onRollback(ctx context.Context, fn func()) {
	if tx := txFrom(ctx); tx != nil {
		tx.undo = append(tx.undo, fn)
	}
}

func (m *MemoryStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := &memTx{}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		m.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MemoryStore) Create(ctx context.Context, d *document.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = newID()
	}
	if _, ok := m.docs[d.ID]; ok {
		return &document.StorageError{Op: "create", Err: fmt.Errorf("document %q already exists", d.ID)}
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = m.now()
	}
	d.UpdatedAt = d.CreatedAt
	m.docs[d.ID] = d.Clone()
	m.order = append(m.order, d.ID)
	onRollback(ctx, func() {
		delete(m.docs, d.ID)
		m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == d.ID })
	})
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok || d.DeletedAt != nil {
		return nil, document.ErrNotFound
	}
	return d.Clone(), nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*document.Document, 0, len(m.order))
	for _, id := range m.order {
		if d := m.docs[id]; d.DeletedAt == nil {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) Save(ctx context.Context, d *document.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.docs[d.ID]
	if !ok || cur.DeletedAt != nil {
		return document.ErrNotFound
	}
	next := cur.Clone()
	next.Title = d.Title
	next.Content = d.Content
	next.UpdatedAt = d.UpdatedAt
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = m.now()
	}
	m.docs[d.ID] = next
	onRollback(ctx, func() { m.docs[d.ID] = cur })
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.docs[id]
	if !ok || cur.DeletedAt != nil {
		return document.ErrNotFound
	}
	next := cur.Clone()
	now := m.now()
	next.DeletedAt = &now
	m.docs[id] = next
	onRollback(ctx, func() { m.docs[id] = cur })
	return nil
}

func (m *MemoryStore) Archive(ctx context.Context, documentID, content string) (*document.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.docs[documentID]; !ok || d.DeletedAt != nil {
		return nil, &document.StorageError{Op: "archive", Err: fmt.Errorf("document %q: %w", documentID, document.ErrNotFound)}
	}
	v := &document.Version{
		ID:         newID(),
		DocumentID: documentID,
		Content:    content,
		CreatedAt:  m.now(),
	}
	m.versions[documentID] = append(m.versions[documentID], v)
	onRollback(ctx, func() {
		m.versions[documentID] = slices.DeleteFunc(m.versions[documentID], func(x *document.Version) bool { return x.ID == v.ID })
	})
	out := *v
	return &out, nil
}

func (m *MemoryStore) ListVersions(ctx context.Context, documentID string) iter.Seq2[*document.Version, error] {
	return func(yield func(*document.Version, error) bool) {
		m.mu.RLock()
		snapshot := make([]document.Version, 0, len(m.versions[documentID]))
		for _, v := range m.versions[documentID] {
			if v.DeletedAt == nil {
				snapshot = append(snapshot, *v)
			}
		}
		m.mu.RUnlock()

		slices.SortStableFunc(snapshot, newestFirst)
		for i := range snapshot {
			if !yield(&snapshot[i], nil) {
				return
			}
		}
	}
}

// newestFirst orders by creation time descending; UUIDv7 ids break ties in
// generation order.
func newestFirst(a, b document.Version) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}
