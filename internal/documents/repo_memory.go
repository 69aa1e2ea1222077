package documents

import (
	"context"
	"sort"
	"sync"
	"time"

	"disclosure-backend/internal/shared/apperr"
)

// MemoryRepo is an in-memory implementation of Repo used in tests and when
// no data directory is writable.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]Document
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{data: make(map[string]Document)}
}

// Create stores a new document record.
func (r *MemoryRepo) Create(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc.ID == "" {
		return ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[doc.ID] = doc
	return nil
}

// Load returns a document, rejecting expired records.
func (r *MemoryRepo) Load(ctx context.Context, id string) (Document, error) {
	doc, err := r.LoadAny(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if doc.Expired(time.Now().UTC()) {
		return Document{}, apperr.RetentionExpired("document %s past retention deadline", id)
	}
	return doc, nil
}

// LoadAny returns a document without the retention check.
func (r *MemoryRepo) LoadAny(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.data[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// List returns all records, newest first.
func (r *MemoryRepo) List(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	docs := make([]Document, 0, len(r.data))
	for _, doc := range r.data {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return docs, nil
}

// Update applies mutate while holding the store lock.
func (r *MemoryRepo) Update(ctx context.Context, id string, mutate func(*Document) error) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.data[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	if err := mutate(&doc); err != nil {
		return Document{}, err
	}
	doc.UpdatedAt = time.Now().UTC()
	r.data[id] = doc
	return doc, nil
}

// Delete removes a record.
func (r *MemoryRepo) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, id)
	return nil
}

// ListExpired returns identifiers past their retention deadline.
func (r *MemoryRepo) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, doc := range r.data {
		if doc.Expired(now) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

var _ Repo = (*MemoryRepo)(nil)
