package comparisons

import (
	"context"
	"testing"
	"time"

	"disclosure-backend/internal/documents"
	"disclosure-backend/internal/progress"
	"disclosure-backend/internal/queue"
	"disclosure-backend/internal/shared/apperr"
)

func newTestService(t *testing.T) (*Service, documents.Repo, *queue.MemoryQueue) {
	t.Helper()
	docs := documents.NewMemoryRepo()
	q := queue.NewMemoryQueue(8)
	svc := NewService(NewMemoryRepo(), docs, progress.NewMemoryReporter(), nil, nil, nil)
	svc.Queue = q
	return svc, docs, q
}

func createTestDocument(t *testing.T, docs documents.Repo, id string, status documents.Status) {
	t.Helper()
	doc := documents.Document{
		ID:                id,
		Filename:          id + ".pdf",
		Status:            status,
		RetentionDeadline: time.Now().UTC().Add(time.Hour),
	}
	if status == documents.StatusStructured {
		doc.StructuredData = &documents.StructuredData{
			Pages: []documents.Page{{PageNumber: 1, Text: "本文"}},
		}
	}
	if err := docs.Create(context.Background(), doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, docs, _ := newTestService(t)
	ctx := context.Background()
	createTestDocument(t, docs, "doc-1", documents.StatusStructured)
	createTestDocument(t, docs, "doc-2", documents.StatusStructured)

	if _, err := svc.Create(ctx, []string{"doc-1"}, IterativeOff, "req"); !apperr.Is(err, apperr.KindInput) {
		t.Fatalf("single document must be rejected, got %v", err)
	}
	if _, err := svc.Create(ctx, []string{"doc-1", "doc-missing"}, IterativeOff, "req"); !apperr.Is(err, apperr.KindInput) {
		t.Fatalf("missing document must be rejected, got %v", err)
	}
	if _, err := svc.Create(ctx, []string{"doc-1", "doc-2"}, IterativeMode("sometimes"), "req"); !apperr.Is(err, apperr.KindInput) {
		t.Fatalf("bad iterative mode must be rejected, got %v", err)
	}
}

func TestCreateEnqueuesJob(t *testing.T) {
	svc, docs, q := newTestService(t)
	ctx := context.Background()
	createTestDocument(t, docs, "doc-1", documents.StatusStructured)
	createTestDocument(t, docs, "doc-2", documents.StatusStructured)

	cmp, err := svc.Create(ctx, []string{"doc-1", "doc-2"}, "", "req-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if cmp.Status != StatusQueued || cmp.IterativeSearchMode != IterativeOff {
		t.Fatalf("unexpected comparison %+v", cmp)
	}

	msg, ok, err := q.Receive(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("receive: ok=%v err=%v", ok, err)
	}
	if msg.Kind != queue.KindCompare || msg.ComparisonID != cmp.ComparisonID || msg.RequestID != "req-1" {
		t.Fatalf("unexpected message %+v", msg)
	}

	if _, err := svc.Repo.Load(ctx, cmp.ComparisonID); err != nil {
		t.Fatalf("record must be persisted: %v", err)
	}
}

func TestRunComparisonUnstructuredInputFails(t *testing.T) {
	svc, docs, _ := newTestService(t)
	ctx := context.Background()
	createTestDocument(t, docs, "doc-1", documents.StatusStructured)
	createTestDocument(t, docs, "doc-2", documents.StatusQueued)

	cmp, err := svc.Create(ctx, []string{"doc-1", "doc-2"}, IterativeOff, "req")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.RunComparison(ctx, cmp.ComparisonID); !apperr.Is(err, apperr.KindInput) {
		t.Fatalf("expected input failure, got %v", err)
	}

	stored, err := svc.Repo.Load(ctx, cmp.ComparisonID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored.Status != StatusFailed || stored.Error == "" {
		t.Fatalf("failure must be persisted: %+v", stored)
	}
}

func TestRunComparisonCompletedIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.Repo.Save(ctx, Comparison{ComparisonID: "cmp-done", Status: StatusCompleted}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := svc.RunComparison(ctx, "cmp-done"); err != nil {
		t.Fatalf("completed comparison must be a no-op: %v", err)
	}
}
