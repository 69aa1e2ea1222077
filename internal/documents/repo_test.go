package documents

import (
	"context"
	"errors"
	"testing"
	"time"

	"disclosure-backend/internal/shared/apperr"
)

func TestFileRepoRoundTrip(t *testing.T) {
	repo, err := NewFileRepo(t.TempDir())
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	ctx := context.Background()
	now := time.Now().UTC()

	doc := Document{
		ID:                "doc-1",
		Filename:          "report.pdf",
		StoredKey:         "doc-1/report.pdf",
		Status:            StatusQueued,
		RetentionDeadline: now.Add(24 * time.Hour),
		CreatedAt:         now,
	}
	if err := repo.Create(ctx, doc); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, doc); err == nil {
		t.Fatalf("duplicate create must fail")
	}

	got, err := repo.Load(ctx, "doc-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Filename != "report.pdf" {
		t.Fatalf("unexpected record %+v", got)
	}

	updated, err := repo.Update(ctx, "doc-1", func(d *Document) error {
		d.Status = StatusStructured
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != StatusStructured || updated.UpdatedAt.IsZero() {
		t.Fatalf("update not applied: %+v", updated)
	}

	if err := repo.Delete(ctx, "doc-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Load(ctx, "doc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileRepoRetention(t *testing.T) {
	repo, err := NewFileRepo(t.TempDir())
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	ctx := context.Background()
	now := time.Now().UTC()

	expired := Document{ID: "doc-old", RetentionDeadline: now.Add(-time.Hour)}
	fresh := Document{ID: "doc-new", RetentionDeadline: now.Add(time.Hour)}
	if err := repo.Create(ctx, expired); err != nil {
		t.Fatalf("create expired: %v", err)
	}
	if err := repo.Create(ctx, fresh); err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	if _, err := repo.Load(ctx, "doc-old"); !apperr.Is(err, apperr.KindRetentionExpired) {
		t.Fatalf("expected retention failure, got %v", err)
	}
	if _, err := repo.LoadAny(ctx, "doc-old"); err != nil {
		t.Fatalf("LoadAny must bypass the retention check: %v", err)
	}

	ids, err := repo.ListExpired(ctx, now)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(ids) != 1 || ids[0] != "doc-old" {
		t.Fatalf("expired ids = %v", ids)
	}
}

func TestEffectiveType(t *testing.T) {
	cases := []struct {
		name string
		doc  Document
		want string
	}{
		{"manual wins", Document{ManualType: "earnings_report", DetectedType: "securities_report"}, "earnings_report"},
		{"detected fallback", Document{DetectedType: "securities_report"}, "securities_report"},
		{"unknown", Document{}, TypeUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.doc.EffectiveType(); got != tc.want {
				t.Fatalf("EffectiveType() = %q, want %q", got, tc.want)
			}
		})
	}
}
