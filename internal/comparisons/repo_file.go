package comparisons

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"disclosure-backend/internal/shared/telemetry"
	"disclosure-backend/internal/shared/util"
)

// ErrNotFound is returned when no comparison exists for an id.
var ErrNotFound = errors.New("comparisons: not found")

const recordSchemaVersion = 1

type comparisonRecord struct {
	SchemaVersion int        `json:"schema_version"`
	Comparison    Comparison `json:"comparison"`
}

// Repo stores comparison artifacts.
type Repo interface {
	Save(ctx context.Context, cmp Comparison) error
	Load(ctx context.Context, id string) (Comparison, error)
	List(ctx context.Context) ([]Descriptor, error)
	// Update applies mutate under the per-id lock and persists the result.
	Update(ctx context.Context, id string, mutate func(*Comparison) error) (Comparison, error)
	Delete(ctx context.Context, id string) error
	// ListIDs returns every stored comparison id, for the retention sweep.
	ListIDs(ctx context.Context) ([]string, error)
}

// FileRepo persists one JSON file per comparison under baseDir.
type FileRepo struct {
	baseDir string
	locks   *util.KeyedLock
}

// NewFileRepo creates the backing directory if needed.
func NewFileRepo(baseDir string) (*FileRepo, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create comparisons dir %s: %w", baseDir, err)
	}
	return &FileRepo{baseDir: baseDir, locks: util.NewKeyedLock()}, nil
}

func (r *FileRepo) path(id string) string {
	return filepath.Join(r.baseDir, id+".json")
}

func (r *FileRepo) Save(ctx context.Context, cmp Comparison) error {
	release, err := r.locks.Acquire(ctx, cmp.ComparisonID)
	if err != nil {
		return err
	}
	defer release()
	return r.write(cmp)
}

func (r *FileRepo) Load(ctx context.Context, id string) (Comparison, error) {
	if err := ctx.Err(); err != nil {
		return Comparison{}, err
	}
	return r.read(id)
}

func (r *FileRepo) Update(ctx context.Context, id string, mutate func(*Comparison) error) (Comparison, error) {
	release, err := r.locks.Acquire(ctx, id)
	if err != nil {
		return Comparison{}, err
	}
	defer release()

	cmp, err := r.read(id)
	if err != nil {
		return Comparison{}, err
	}
	if err := mutate(&cmp); err != nil {
		return Comparison{}, err
	}
	if err := r.write(cmp); err != nil {
		return Comparison{}, err
	}
	return cmp, nil
}

func (r *FileRepo) Delete(ctx context.Context, id string) error {
	release, err := r.locks.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if err := os.Remove(r.path(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete comparison %s: %w", id, err)
	}
	return nil
}

func (r *FileRepo) List(ctx context.Context) ([]Descriptor, error) {
	ids, err := r.ListIDs(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Descriptor, 0, len(ids))
	for _, id := range ids {
		cmp, err := r.read(id)
		if err != nil {
			// Corrupt or concurrently deleted records do not break the
			// listing.
			telemetry.Warn("comparisons.list_skip", map[string]any{
				"comparison_id": id,
				"error":         err.Error(),
			})
			continue
		}
		out = append(out, describe(cmp))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *FileRepo) ListIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read comparisons dir: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *FileRepo) read(id string) (Comparison, error) {
	raw, err := os.ReadFile(r.path(id))
	if os.IsNotExist(err) {
		return Comparison{}, ErrNotFound
	}
	if err != nil {
		return Comparison{}, fmt.Errorf("read comparison %s: %w", id, err)
	}
	var rec comparisonRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Comparison{}, fmt.Errorf("decode comparison %s: %w", id, err)
	}
	return rec.Comparison, nil
}

func (r *FileRepo) write(cmp Comparison) error {
	rec := comparisonRecord{SchemaVersion: recordSchemaVersion, Comparison: cmp}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode comparison %s: %w", cmp.ComparisonID, err)
	}
	tmp := r.path(cmp.ComparisonID) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write comparison %s: %w", cmp.ComparisonID, err)
	}
	if err := os.Rename(tmp, r.path(cmp.ComparisonID)); err != nil {
		return fmt.Errorf("commit comparison %s: %w", cmp.ComparisonID, err)
	}
	return nil
}

func describe(cmp Comparison) Descriptor {
	filenames := make([]string, 0, 2)
	if cmp.Doc1Info.Filename != "" {
		filenames = append(filenames, cmp.Doc1Info.Filename)
	}
	if cmp.Doc2Info.Filename != "" {
		filenames = append(filenames, cmp.Doc2Info.Filename)
	}
	return Descriptor{
		ComparisonID: cmp.ComparisonID,
		Mode:         cmp.Mode,
		Status:       cmp.Status,
		Filenames:    filenames,
		SectionCount: len(cmp.SectionDetailedComparisons),
		CreatedAt:    cmp.CreatedAt,
	}
}
