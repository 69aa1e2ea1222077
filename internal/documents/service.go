package documents

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"disclosure-backend/internal/progress"
	"disclosure-backend/internal/queue"
	"disclosure-backend/internal/shared/apperr"
	"disclosure-backend/internal/shared/storage/object"
	"disclosure-backend/internal/shared/telemetry"
)

// Pages sampled for type classification at upload time.
const classificationSamplePages = 5

// Classifier predicts the document type from the filename and a text sample.
type Classifier interface {
	Classify(ctx context.Context, filename, textSample string) ClassificationResult
	DisplayName(docType string) string
	IsSupportedType(docType string) bool
}

// ClassificationResult mirrors the classifier verdict without importing it.
type ClassificationResult struct {
	DocumentType    string
	DisplayName     string
	Confidence      float64
	MatchedKeywords []string
	Reason          string
}

// TextSampler extracts a bounded text sample from a stored PDF for
// classification.
type TextSampler interface {
	SamplePages(ctx context.Context, pdfPath string, maxPages int) (string, error)
}

// Service implements upload, listing, reclassification, and deletion of
// documents. Structuring itself runs on the worker; uploads only enqueue.
type Service struct {
	Repo       Repo
	Store      object.ObjectStore
	Classifier Classifier
	Sampler    TextSampler
	Queue      queue.Client
	Progress   progress.Reporter

	MaxFiles       int
	MaxFileSizeMB  int
	RetentionHours int
}

// UploadResult is the per-batch outcome.
type UploadResult struct {
	BatchID   string
	Documents []Document
}

// Upload validates and stores a batch of PDFs, classifies each, and enqueues
// structuring jobs for the classified ones. The whole batch is rejected
// before any file is stored when limits are exceeded.
func (s *Service) Upload(ctx context.Context, files []*multipart.FileHeader, requestID string) (UploadResult, error) {
	if len(files) == 0 {
		return UploadResult{}, apperr.Input("no files uploaded")
	}
	if s.MaxFiles > 0 && len(files) > s.MaxFiles {
		return UploadResult{}, apperr.Input("too many files: %d exceeds the limit of %d", len(files), s.MaxFiles)
	}
	maxBytes := int64(s.MaxFileSizeMB) * 1024 * 1024
	for _, fh := range files {
		if !strings.EqualFold(filepath.Ext(fh.Filename), ".pdf") {
			return UploadResult{}, apperr.Input("%s is not a PDF", fh.Filename)
		}
		if maxBytes > 0 && fh.Size > maxBytes {
			return UploadResult{}, apperr.Input("%s exceeds the %dMB size limit", fh.Filename, s.MaxFileSizeMB)
		}
	}

	batchID := uuid.NewString()
	result := UploadResult{BatchID: batchID}
	for _, fh := range files {
		doc, err := s.uploadOne(ctx, fh, requestID)
		if err != nil {
			return result, err
		}
		result.Documents = append(result.Documents, doc)
	}
	telemetry.Info("documents.batch_uploaded", map[string]any{
		"batch_id": batchID,
		"count":    len(result.Documents),
	})
	return result, nil
}

func (s *Service) uploadOne(ctx context.Context, fh *multipart.FileHeader, requestID string) (Document, error) {
	src, err := fh.Open()
	if err != nil {
		return Document{}, apperr.Input("open upload %s: %w", fh.Filename, err)
	}
	defer src.Close()

	id := uuid.NewString()
	key, size, _, err := s.Store.Save(ctx, id, fh.Filename, src)
	if err != nil {
		return Document{}, fmt.Errorf("store upload %s: %w", fh.Filename, err)
	}

	now := time.Now().UTC()
	doc := Document{
		ID:         id,
		Filename:   fh.Filename,
		StoredKey:  key,
		SizeBytes:  size,
		UploadedAt: now,
		Status:     StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if s.RetentionHours > 0 {
		doc.RetentionDeadline = now.Add(time.Duration(s.RetentionHours) * time.Hour)
	}

	s.classifyUpload(ctx, &doc)
	if doc.EffectiveType() == TypeUnknown {
		doc.Status = StatusPendingClassification
	}

	if err := s.Repo.Create(ctx, doc); err != nil {
		return Document{}, err
	}
	s.reportQueued(ctx, doc)

	if doc.Status == StatusQueued {
		if err := s.enqueueStructure(ctx, doc.ID, requestID); err != nil {
			return Document{}, err
		}
	}
	return doc, nil
}

// classifyUpload samples the stored PDF and runs type detection. Failures
// leave the document unclassified rather than failing the upload.
func (s *Service) classifyUpload(ctx context.Context, doc *Document) {
	if s.Classifier == nil {
		return
	}

	sample := ""
	if s.Sampler != nil {
		path, cleanup, err := s.materialize(ctx, doc.StoredKey)
		if err != nil {
			telemetry.Warn("documents.classification_sample_failed", map[string]any{
				"document_id": doc.ID,
				"error":       err.Error(),
			})
		} else {
			defer cleanup()
			sample, err = s.Sampler.SamplePages(ctx, path, classificationSamplePages)
			if err != nil {
				telemetry.Warn("documents.classification_sample_failed", map[string]any{
					"document_id": doc.ID,
					"error":       err.Error(),
				})
			}
		}
	}

	res := s.Classifier.Classify(ctx, doc.Filename, sample)
	doc.DetectedType = res.DocumentType
	doc.DetectedTypeLabel = res.DisplayName
	doc.DetectionConfidence = res.Confidence
	doc.MatchedKeywords = res.MatchedKeywords
	doc.DetectionReason = res.Reason
}

// materialize copies the stored object into a temp file for the sampler.
func (s *Service) materialize(ctx context.Context, key string) (string, func(), error) {
	rc, err := s.Store.Open(ctx, key)
	if err != nil {
		return "", nil, err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "disclosure-classify-*.pdf")
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, err
	}
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}

func (s *Service) enqueueStructure(ctx context.Context, documentID, requestID string) error {
	if s.Queue == nil {
		return fmt.Errorf("job queue not configured")
	}
	return s.Queue.Send(ctx, queue.Message{
		Kind:       queue.KindStructure,
		DocumentID: documentID,
		RequestID:  requestID,
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339),
		Version:    1,
	})
}

func (s *Service) reportQueued(ctx context.Context, doc Document) {
	if s.Progress == nil {
		return
	}
	step := "queued"
	if doc.Status == StatusPendingClassification {
		step = "pending classification"
	}
	if err := s.Progress.Update(ctx, progress.DocumentKey(doc.ID), progress.Record{
		Status: progress.StatusQueued,
		Step:   step,
	}); err != nil {
		telemetry.Warn("documents.progress_update_failed", map[string]any{
			"document_id": doc.ID,
			"error":       err.Error(),
		})
	}
}

// List returns all documents, newest first.
func (s *Service) List(ctx context.Context) ([]Document, error) {
	return s.Repo.List(ctx)
}

// Get returns one document, rejecting expired ones.
func (s *Service) Get(ctx context.Context, id string) (Document, error) {
	return s.Repo.Load(ctx, id)
}

// GetStatus returns the live progress record for a document, falling back
// to the persisted status when no record exists.
func (s *Service) GetStatus(ctx context.Context, id string) (progress.Record, error) {
	doc, err := s.Repo.Load(ctx, id)
	if err != nil {
		return progress.Record{}, err
	}
	if s.Progress != nil {
		rec, err := s.Progress.Get(ctx, progress.DocumentKey(id))
		if err == nil {
			return rec, nil
		}
	}
	rec := progress.Record{Step: string(doc.Status)}
	switch doc.Status {
	case StatusQueued, StatusPendingClassification:
		rec.Status = progress.StatusQueued
	case StatusStructured:
		rec.Status = progress.StatusCompleted
		rec.Progress = 100
	case StatusFailed:
		rec.Status = progress.StatusFailed
		rec.Error = doc.Error
	default:
		rec.Status = progress.StatusRunning
	}
	return rec, nil
}

// SetType applies or clears a manual type override. A nil docType clears the
// override so the detected type applies again; the "unknown" sentinel is an
// allowed explicit value. Structuring is enqueued when the document was
// waiting on classification and its effective type is now known.
func (s *Service) SetType(ctx context.Context, id string, docType *string, requestID string) (Document, error) {
	if docType != nil && *docType != TypeUnknown {
		if s.Classifier == nil || !s.Classifier.IsSupportedType(*docType) {
			return Document{}, apperr.Input("unsupported document type %q", *docType)
		}
	}

	wasGated := false
	doc, err := s.Repo.Update(ctx, id, func(d *Document) error {
		wasGated = d.Status == StatusPendingClassification
		if docType == nil {
			d.ManualType = ""
			d.ManualTypeLabel = ""
		} else {
			d.ManualType = *docType
			d.ManualTypeLabel = s.typeDisplayName(*docType)
		}
		if wasGated && d.EffectiveType() != TypeUnknown {
			d.Status = StatusQueued
		}
		return nil
	})
	if err != nil {
		return Document{}, err
	}

	if wasGated && doc.Status == StatusQueued {
		if err := s.enqueueStructure(ctx, id, requestID); err != nil {
			return Document{}, err
		}
		s.reportQueued(ctx, doc)
	}
	return doc, nil
}

func (s *Service) typeDisplayName(docType string) string {
	if s.Classifier != nil {
		return s.Classifier.DisplayName(docType)
	}
	return docType
}

// Delete removes the record, the stored PDF, and the progress entry.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.Repo.LoadAny(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Store.Delete(ctx, doc.StoredKey); err != nil {
		telemetry.Warn("documents.delete_object_failed", map[string]any{
			"document_id": id,
			"error":       err.Error(),
		})
	}
	if err := s.Repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.Progress != nil {
		_ = s.Progress.Delete(ctx, progress.DocumentKey(id))
	}
	telemetry.Info("documents.deleted", map[string]any{"document_id": id})
	return nil
}
