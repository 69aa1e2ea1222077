package comparisons

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFileRepoRoundTrip(t *testing.T) {
	repo, err := NewFileRepo(t.TempDir())
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	ctx := context.Background()

	cmp := Comparison{
		ComparisonID: "cmp-1",
		Mode:         ModeDiffAnalysisYear,
		DocumentIDs:  []string{"d1", "d2"},
		Status:       StatusQueued,
		CreatedAt:    time.Now().UTC(),
	}
	if err := repo.Save(ctx, cmp); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := repo.Load(ctx, "cmp-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Mode != ModeDiffAnalysisYear || len(got.DocumentIDs) != 2 {
		t.Fatalf("unexpected record %+v", got)
	}

	if _, err := repo.Update(ctx, "cmp-1", func(c *Comparison) error {
		c.Status = StatusCompleted
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = repo.Load(ctx, "cmp-1")
	if got.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}

	ids, err := repo.ListIDs(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "cmp-1" {
		t.Fatalf("list ids = %v, %v", ids, err)
	}

	if err := repo.Delete(ctx, "cmp-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Load(ctx, "cmp-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestFileRepoListDescriptors(t *testing.T) {
	repo, err := NewFileRepo(t.TempDir())
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	ctx := context.Background()

	older := Comparison{
		ComparisonID: "cmp-old",
		Status:       StatusCompleted,
		Doc1Info:     DocumentInfo{Filename: "a.pdf"},
		Doc2Info:     DocumentInfo{Filename: "b.pdf"},
		CreatedAt:    time.Now().UTC().Add(-time.Hour),
	}
	newer := Comparison{
		ComparisonID: "cmp-new",
		Status:       StatusQueued,
		CreatedAt:    time.Now().UTC(),
	}
	if err := repo.Save(ctx, older); err != nil {
		t.Fatalf("save older: %v", err)
	}
	if err := repo.Save(ctx, newer); err != nil {
		t.Fatalf("save newer: %v", err)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(list))
	}
	if list[0].ComparisonID != "cmp-new" {
		t.Fatalf("newest first expected, got %v", list)
	}
	if len(list[1].Filenames) != 2 {
		t.Fatalf("descriptor filenames missing: %+v", list[1])
	}
}
