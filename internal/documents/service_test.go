package documents

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"disclosure-backend/internal/progress"
	"disclosure-backend/internal/queue"
	"disclosure-backend/internal/shared/apperr"
)

type fakeStore struct {
	objects map[string][]byte
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Save(ctx context.Context, documentID, fileName string, r io.Reader) (string, int64, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, "", err
	}
	key := documentID + "/" + fileName
	f.objects[key] = data
	return key, int64(len(data)), "application/pdf", nil
}

func (f *fakeStore) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.objects[storageKey])), nil
}

func (f *fakeStore) Delete(ctx context.Context, storageKey string) error {
	f.deleted = append(f.deleted, storageKey)
	delete(f.objects, storageKey)
	return nil
}

// fakeClassifier returns a fixed verdict.
type fakeClassifier struct {
	result ClassificationResult
}

func (f *fakeClassifier) Classify(ctx context.Context, filename, textSample string) ClassificationResult {
	return f.result
}

func (f *fakeClassifier) DisplayName(docType string) string {
	if docType == "securities_report" {
		return "有価証券報告書"
	}
	return docType
}

func (f *fakeClassifier) IsSupportedType(docType string) bool {
	return docType == "securities_report" || docType == "earnings_report"
}

func newTestService(t *testing.T) (*Service, *fakeStore, *queue.MemoryQueue) {
	t.Helper()
	store := newFakeStore()
	q := queue.NewMemoryQueue(8)
	svc := &Service{
		Repo:  NewMemoryRepo(),
		Store: store,
		Classifier: &fakeClassifier{result: ClassificationResult{
			DocumentType: "securities_report",
			DisplayName:  "有価証券報告書",
			Confidence:   0.9,
		}},
		Queue:          q,
		Progress:       progress.NewMemoryReporter(),
		MaxFiles:       3,
		MaxFileSizeMB:  10,
		RetentionHours: 24,
	}
	return svc, store, q
}

func uploadFiles(t *testing.T, names ...string) []*multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, name := range names {
		part, err := w.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write([]byte("%PDF-1.7 dummy")); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/documents/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		t.Fatalf("parse multipart: %v", err)
	}
	return req.MultipartForm.File["files"]
}

func TestUploadStoresClassifiesAndEnqueues(t *testing.T) {
	svc, store, q := newTestService(t)
	ctx := context.Background()

	result, err := svc.Upload(ctx, uploadFiles(t, "有価証券報告書.pdf"), "req-1")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if result.BatchID == "" || len(result.Documents) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	doc := result.Documents[0]
	if doc.Status != StatusQueued {
		t.Fatalf("status = %q, want queued", doc.Status)
	}
	if doc.DetectedType != "securities_report" || doc.DetectionConfidence != 0.9 {
		t.Fatalf("classification not applied: %+v", doc)
	}
	if doc.RetentionDeadline.Before(time.Now().UTC().Add(23 * time.Hour)) {
		t.Fatalf("retention deadline not set: %v", doc.RetentionDeadline)
	}
	if _, ok := store.objects[doc.StoredKey]; !ok {
		t.Fatalf("object not stored under %q", doc.StoredKey)
	}

	msg, ok, err := q.Receive(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("receive: ok=%v err=%v", ok, err)
	}
	if msg.Kind != queue.KindStructure || msg.DocumentID != doc.ID {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestUploadBatchValidation(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Upload(ctx, nil, "req"); !apperr.Is(err, apperr.KindInput) {
		t.Fatalf("empty batch must be rejected, got %v", err)
	}
	if _, err := svc.Upload(ctx, uploadFiles(t, "a.pdf", "b.pdf", "c.pdf", "d.pdf"), "req"); !apperr.Is(err, apperr.KindInput) {
		t.Fatalf("oversized batch must be rejected, got %v", err)
	}
	// One bad extension rejects the batch before anything is stored.
	if _, err := svc.Upload(ctx, uploadFiles(t, "a.pdf", "b.docx"), "req"); !apperr.Is(err, apperr.KindInput) {
		t.Fatalf("non-PDF must be rejected, got %v", err)
	}
	if len(store.objects) != 0 {
		t.Fatalf("rejected batches must store nothing: %v", store.objects)
	}
}

func TestUploadUnknownTypeGatesStructuring(t *testing.T) {
	svc, _, q := newTestService(t)
	svc.Classifier = &fakeClassifier{result: ClassificationResult{DocumentType: TypeUnknown, DisplayName: "未判定"}}
	ctx := context.Background()

	result, err := svc.Upload(ctx, uploadFiles(t, "謎の資料.pdf"), "req")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if result.Documents[0].Status != StatusPendingClassification {
		t.Fatalf("status = %q, want pending classification", result.Documents[0].Status)
	}
	if _, ok, _ := q.Receive(ctx, 10*time.Millisecond); ok {
		t.Fatalf("gated upload must not enqueue")
	}
}

func typePtr(s string) *string { return &s }

func TestSetTypeReleasesGatedDocument(t *testing.T) {
	svc, _, q := newTestService(t)
	svc.Classifier = &fakeClassifier{result: ClassificationResult{DocumentType: TypeUnknown}}
	ctx := context.Background()

	result, err := svc.Upload(ctx, uploadFiles(t, "謎の資料.pdf"), "req")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	id := result.Documents[0].ID

	if _, err := svc.SetType(ctx, id, typePtr("press_release"), "req"); !apperr.Is(err, apperr.KindInput) {
		t.Fatalf("unsupported type must be rejected, got %v", err)
	}

	doc, err := svc.SetType(ctx, id, typePtr("securities_report"), "req-2")
	if err != nil {
		t.Fatalf("set type: %v", err)
	}
	if doc.ManualType != "securities_report" || doc.ManualTypeLabel != "有価証券報告書" {
		t.Fatalf("manual type not applied: %+v", doc)
	}
	if doc.Status != StatusQueued {
		t.Fatalf("status = %q, want queued after release", doc.Status)
	}

	msg, ok, err := q.Receive(ctx, time.Second)
	if err != nil || !ok || msg.DocumentID != id {
		t.Fatalf("release must enqueue structuring: ok=%v err=%v msg=%+v", ok, err, msg)
	}
}

func TestSetTypeNilClearsOverride(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Upload(ctx, uploadFiles(t, "report.pdf"), "req")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	id := result.Documents[0].ID

	if _, err := svc.SetType(ctx, id, typePtr("earnings_report"), "req"); err != nil {
		t.Fatalf("set type: %v", err)
	}

	doc, err := svc.SetType(ctx, id, nil, "req")
	if err != nil {
		t.Fatalf("clear type: %v", err)
	}
	if doc.ManualType != "" || doc.ManualTypeLabel != "" {
		t.Fatalf("override must be cleared: %+v", doc)
	}
	// Detected type applies again.
	if doc.EffectiveType() != "securities_report" {
		t.Fatalf("effective type = %q, want detected securities_report", doc.EffectiveType())
	}
}

func TestSetTypeUnknownSentinelStaysGated(t *testing.T) {
	svc, _, q := newTestService(t)
	svc.Classifier = &fakeClassifier{result: ClassificationResult{DocumentType: TypeUnknown}}
	ctx := context.Background()

	result, err := svc.Upload(ctx, uploadFiles(t, "謎の資料.pdf"), "req")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	id := result.Documents[0].ID

	doc, err := svc.SetType(ctx, id, typePtr(TypeUnknown), "req")
	if err != nil {
		t.Fatalf("unknown must be an allowed explicit value: %v", err)
	}
	if doc.ManualType != TypeUnknown {
		t.Fatalf("manual type = %q, want unknown", doc.ManualType)
	}
	if doc.Status != StatusPendingClassification {
		t.Fatalf("status = %q, must stay pending classification", doc.Status)
	}
	if _, ok, _ := q.Receive(ctx, 10*time.Millisecond); ok {
		t.Fatalf("unknown override must not enqueue")
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Upload(ctx, uploadFiles(t, "report.pdf"), "req")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	doc := result.Documents[0]

	if err := svc.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(store.deleted) != 1 || !strings.HasPrefix(store.deleted[0], doc.ID+"/") {
		t.Fatalf("object not deleted: %v", store.deleted)
	}
	if _, err := svc.Get(ctx, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("document must be gone, got %v", err)
	}
}
