package progress

import (
	"context"
	"errors"
	"testing"
)

func TestFileReporterMonotonicProgress(t *testing.T) {
	r, err := NewFileReporter(t.TempDir())
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}
	ctx := context.Background()
	key := DocumentKey("doc-1")

	if err := r.Update(ctx, key, Record{Status: StatusRunning, Progress: 60, Step: "tables"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	// A late-arriving lower progress must not move the bar backwards.
	if err := r.Update(ctx, key, Record{Status: StatusRunning, Progress: 30, Step: "vision"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	rec, err := r.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Progress != 60 {
		t.Fatalf("progress = %d, want 60", rec.Progress)
	}
}

func TestFileReporterStatusNeverRegresses(t *testing.T) {
	r, err := NewFileReporter(t.TempDir())
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}
	ctx := context.Background()
	key := ComparisonKey("cmp-1")

	if err := r.Update(ctx, key, Record{Status: StatusCompleted, Progress: 100}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := r.Update(ctx, key, Record{Status: StatusRunning, Progress: 40}); err != nil {
		t.Fatalf("update: %v", err)
	}

	rec, err := r.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("status = %q, completed must not regress", rec.Status)
	}
}

func TestFileReporterFailureOverrides(t *testing.T) {
	r, err := NewFileReporter(t.TempDir())
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}
	ctx := context.Background()
	key := DocumentKey("doc-2")

	if err := r.Update(ctx, key, Record{Status: StatusRunning, Progress: 85, Step: "section_content"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := r.Update(ctx, key, Record{Status: StatusFailed, Progress: 0, Error: "boom"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	rec, err := r.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != StatusFailed || rec.Error != "boom" {
		t.Fatalf("failure must stick: %+v", rec)
	}
}

func TestFileReporterDelete(t *testing.T) {
	r, err := NewFileReporter(t.TempDir())
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}
	ctx := context.Background()
	key := DocumentKey("doc-3")

	if err := r.Update(ctx, key, Record{Status: StatusQueued}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := r.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryReporterMirrorsRules(t *testing.T) {
	r := NewMemoryReporter()
	ctx := context.Background()
	key := DocumentKey("doc-4")

	if err := r.Update(ctx, key, Record{Status: StatusRunning, Progress: 50}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := r.Update(ctx, key, Record{Status: StatusQueued, Progress: 10}); err != nil {
		t.Fatalf("update: %v", err)
	}
	rec, err := r.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != StatusRunning || rec.Progress != 50 {
		t.Fatalf("memory reporter must apply the same merge rules: %+v", rec)
	}
}
