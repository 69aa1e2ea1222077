package retention

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"disclosure-backend/internal/comparisons"
	"disclosure-backend/internal/documents"
	"disclosure-backend/internal/progress"
)

// fakeStore records Delete calls.
type fakeStore struct {
	deleted []string
}

func (f *fakeStore) Save(ctx context.Context, documentID, fileName string, r io.Reader) (string, int64, string, error) {
	return documentID + "/" + fileName, 0, "application/pdf", nil
}

func (f *fakeStore) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeStore) Delete(ctx context.Context, storageKey string) error {
	f.deleted = append(f.deleted, storageKey)
	return nil
}

func newSweeper(t *testing.T) (*Sweeper, documents.Repo, comparisons.Repo, *fakeStore) {
	t.Helper()
	docs := documents.NewMemoryRepo()
	cmps := comparisons.NewMemoryRepo()
	store := &fakeStore{}
	s := &Sweeper{
		Documents:   docs,
		Comparisons: cmps,
		Store:       store,
		Progress:    progress.NewMemoryReporter(),
	}
	return s, docs, cmps, store
}

func TestSweepOnceDeletesExpiredDocuments(t *testing.T) {
	s, docs, _, store := newSweeper(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := docs.Create(ctx, documents.Document{
		ID:                "doc-old",
		StoredKey:         "doc-old/a.pdf",
		RetentionDeadline: now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := docs.Create(ctx, documents.Document{
		ID:                "doc-new",
		StoredKey:         "doc-new/b.pdf",
		RetentionDeadline: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	stats, err := s.SweepOnce(ctx, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.DocumentsDeleted != 1 {
		t.Fatalf("documents deleted = %d, want 1", stats.DocumentsDeleted)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "doc-old/a.pdf" {
		t.Fatalf("object deletes = %v", store.deleted)
	}
	if _, err := docs.LoadAny(ctx, "doc-old"); !errors.Is(err, documents.ErrNotFound) {
		t.Fatalf("expired document must be gone, got %v", err)
	}
	if _, err := docs.LoadAny(ctx, "doc-new"); err != nil {
		t.Fatalf("fresh document must survive: %v", err)
	}
}

func TestSweepOnceDeletesFullyExpiredComparison(t *testing.T) {
	s, _, cmps, _ := newSweeper(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Neither input document exists any more.
	if err := cmps.Save(ctx, comparisons.Comparison{
		ComparisonID: "cmp-1",
		DocumentIDs:  []string{"gone-1", "gone-2"},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	stats, err := s.SweepOnce(ctx, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.ComparisonsDeleted != 1 {
		t.Fatalf("comparisons deleted = %d, want 1", stats.ComparisonsDeleted)
	}
	if _, err := cmps.Load(ctx, "cmp-1"); !errors.Is(err, comparisons.ErrNotFound) {
		t.Fatalf("comparison must be gone, got %v", err)
	}
}

func TestSweepOncePrunesMixedComparison(t *testing.T) {
	s, docs, cmps, _ := newSweeper(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := docs.Create(ctx, documents.Document{
		ID:                "doc-live",
		RetentionDeadline: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := cmps.Save(ctx, comparisons.Comparison{
		ComparisonID: "cmp-1",
		DocumentIDs:  []string{"doc-live", "doc-gone"},
		Doc1Info:     comparisons.DocumentInfo{DocumentID: "doc-live", Filename: "a.pdf"},
		Doc2Info:     comparisons.DocumentInfo{DocumentID: "doc-gone", Filename: "b.pdf"},
		TextDifferences: []comparisons.TextDifference{{
			Section:     "事業の状況",
			RemovedText: []string{"旧記載"},
			AddedText:   []string{"新記載"},
		}},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	stats, err := s.SweepOnce(ctx, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stats.ComparisonsPruned != 1 || stats.ComparisonsDeleted != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	cmp, err := cmps.Load(ctx, "cmp-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cmp.Doc2Info.Expired || cmp.Doc1Info.Expired {
		t.Fatalf("only doc2 side must be flagged: %+v %+v", cmp.Doc1Info, cmp.Doc2Info)
	}
	if cmp.TextDifferences[0].AddedText != nil {
		t.Fatalf("expired side's text must be stripped")
	}
	if len(cmp.TextDifferences[0].RemovedText) != 1 {
		t.Fatalf("surviving side's text must remain")
	}
}
