package documents

import (
	"context"
	"time"
)

// Repo defines persistence operations for document records.
//
// Load refuses documents past their retention deadline with a typed
// retention error; LoadAny skips that check and exists for the sweeper.
// Update runs the mutator inside the per-identifier lock so concurrent
// writers to the same document cannot interleave.
type Repo interface {
	Create(ctx context.Context, doc Document) error
	Load(ctx context.Context, id string) (Document, error)
	LoadAny(ctx context.Context, id string) (Document, error)
	List(ctx context.Context) ([]Document, error)
	Update(ctx context.Context, id string, mutate func(*Document) error) (Document, error)
	Delete(ctx context.Context, id string) error
	ListExpired(ctx context.Context, now time.Time) ([]string, error)
}
