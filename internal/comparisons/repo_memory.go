package comparisons

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is the in-process Repo used in tests and dev mode.
type MemoryRepo struct {
	mu      sync.Mutex
	records map[string]Comparison
}

// NewMemoryRepo constructs an empty repo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: make(map[string]Comparison)}
}

func (r *MemoryRepo) Save(ctx context.Context, cmp Comparison) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[cmp.ComparisonID] = cmp
	return nil
}

func (r *MemoryRepo) Load(ctx context.Context, id string) (Comparison, error) {
	if err := ctx.Err(); err != nil {
		return Comparison{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cmp, ok := r.records[id]
	if !ok {
		return Comparison{}, ErrNotFound
	}
	return cmp, nil
}

func (r *MemoryRepo) Update(ctx context.Context, id string, mutate func(*Comparison) error) (Comparison, error) {
	if err := ctx.Err(); err != nil {
		return Comparison{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cmp, ok := r.records[id]
	if !ok {
		return Comparison{}, ErrNotFound
	}
	if err := mutate(&cmp); err != nil {
		return Comparison{}, err
	}
	r.records[id] = cmp
	return cmp, nil
}

func (r *MemoryRepo) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return ErrNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *MemoryRepo) List(ctx context.Context) ([]Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Descriptor, 0, len(r.records))
	for _, cmp := range r.records {
		out = append(out, describe(cmp))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepo) ListIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
