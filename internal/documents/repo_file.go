package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"disclosure-backend/internal/shared/apperr"
	"disclosure-backend/internal/shared/util"
)

const recordSchemaVersion = 1

type documentRecord struct {
	SchemaVersion int      `json:"schema_version"`
	Document      Document `json:"document"`
}

// FileRepo persists one JSON record file per document under baseDir.
// Writes are full-record rewrites through a temp file and rename so readers
// never observe a torn record.
type FileRepo struct {
	baseDir string
	locks   *util.KeyedLock
}

// NewFileRepo constructs a repo rooted at dir, creating it if needed.
func NewFileRepo(dir string) (*FileRepo, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &FileRepo{baseDir: dir, locks: util.NewKeyedLock()}, nil
}

func (r *FileRepo) pathFor(id string) string {
	return filepath.Join(r.baseDir, id+".json")
}

// Create writes a new document record. Fails if the record already exists.
func (r *FileRepo) Create(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(doc.ID) == "" {
		return ErrInvalidInput
	}

	release, err := r.locks.Acquire(ctx, doc.ID)
	if err != nil {
		return err
	}
	defer release()

	if _, err := os.Stat(r.pathFor(doc.ID)); err == nil {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	return r.write(doc)
}

// Load reads a document, rejecting expired records with a typed failure.
func (r *FileRepo) Load(ctx context.Context, id string) (Document, error) {
	doc, err := r.LoadAny(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if doc.Expired(time.Now().UTC()) {
		return Document{}, apperr.RetentionExpired("document %s past retention deadline", id)
	}
	return doc, nil
}

// LoadAny reads a document without the retention check.
func (r *FileRepo) LoadAny(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	raw, err := os.ReadFile(r.pathFor(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}

	var rec documentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Document{}, fmt.Errorf("decode document %s: %w", id, err)
	}
	return rec.Document, nil
}

// List returns all readable records, newest first. Corrupt files are skipped.
func (r *FileRepo) List(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(r.baseDir, entry.Name()))
		if err != nil {
			continue
		}
		var rec documentRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		docs = append(docs, rec.Document)
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return docs, nil
}

// Update applies mutate under the per-identifier lock and rewrites the record.
func (r *FileRepo) Update(ctx context.Context, id string, mutate func(*Document) error) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	release, err := r.locks.Acquire(ctx, id)
	if err != nil {
		return Document{}, err
	}
	defer release()

	doc, err := r.LoadAny(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if err := mutate(&doc); err != nil {
		return Document{}, err
	}
	doc.UpdatedAt = time.Now().UTC()
	if err := r.write(doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Delete removes the record file. Deleting a missing record is not an error.
func (r *FileRepo) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	release, err := r.locks.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if err := os.Remove(r.pathFor(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ListExpired returns identifiers whose retention deadline precedes now.
func (r *FileRepo) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	docs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, doc := range docs {
		if doc.Expired(now) {
			out = append(out, doc.ID)
		}
	}
	return out, nil
}

func (r *FileRepo) write(doc Document) error {
	rec := documentRecord{SchemaVersion: recordSchemaVersion, Document: doc}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	path := r.pathFor(doc.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

var _ Repo = (*FileRepo)(nil)
