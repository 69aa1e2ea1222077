package comparisons

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"disclosure-backend/internal/documents"
	"disclosure-backend/internal/embedding"
	"disclosure-backend/internal/llm"
	"disclosure-backend/internal/progress"
	"disclosure-backend/internal/queue"
	"disclosure-backend/internal/shared/apperr"
	"disclosure-backend/internal/shared/metrics"
	"disclosure-backend/internal/shared/telemetry"
	"disclosure-backend/internal/templates"
)

// Service loads the structured inputs, selects the mode, runs the engine,
// and persists the comparison artifact.
type Service struct {
	Repo      Repo
	Documents documents.Repo
	Progress  progress.Reporter
	Queue     queue.Client
	Engine    *Engine
}

// NewService wires a comparison service around an engine.
func NewService(repo Repo, docRepo documents.Repo, reporter progress.Reporter, client llm.Client, embedder embedding.Embedder, reg *templates.Registry) *Service {
	return &Service{
		Repo:      repo,
		Documents: docRepo,
		Progress:  reporter,
		Engine:    NewEngine(client, embedder, reg),
	}
}

// Create persists a queued comparison record and enqueues the job. Every
// referenced document must exist; structuring is verified when the job runs.
func (s *Service) Create(ctx context.Context, documentIDs []string, iterative IterativeMode, requestID string) (Comparison, error) {
	if len(documentIDs) < 2 {
		return Comparison{}, apperr.Input("at least two document ids are required")
	}
	for _, id := range documentIDs {
		if _, err := s.Documents.Load(ctx, id); err != nil {
			return Comparison{}, apperr.Input("document %s: %w", id, err)
		}
	}
	if iterative == "" {
		iterative = IterativeOff
	}
	if !ValidIterativeMode(string(iterative)) {
		return Comparison{}, apperr.Input("invalid iterative_search_mode %q", iterative)
	}

	now := time.Now().UTC()
	cmp := Comparison{
		ComparisonID:        uuid.NewString(),
		DocumentIDs:         documentIDs,
		IterativeSearchMode: iterative,
		Status:              StatusQueued,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.Repo.Save(ctx, cmp); err != nil {
		return Comparison{}, err
	}
	s.report(ctx, cmp.ComparisonID, progress.Record{Status: progress.StatusQueued, Step: "queued"})

	if s.Queue == nil {
		return Comparison{}, apperr.Newf(apperr.KindConfig, "job queue not configured")
	}
	if err := s.Queue.Send(ctx, queue.Message{
		Kind:         queue.KindCompare,
		ComparisonID: cmp.ComparisonID,
		RequestID:    requestID,
		EnqueuedAt:   now.Format(time.RFC3339),
		Version:      1,
	}); err != nil {
		return Comparison{}, err
	}
	telemetry.Info("comparisons.created", map[string]any{
		"comparison_id": cmp.ComparisonID,
		"documents":     len(documentIDs),
		"iterative":     string(iterative),
	})
	return cmp, nil
}

// RunComparison executes the full comparison for a previously created record.
// Idempotent: a completed comparison returns immediately. A failure is
// persisted on the record with Status failed.
func (s *Service) RunComparison(ctx context.Context, comparisonID string) error {
	cmp, err := s.Repo.Load(ctx, comparisonID)
	if err != nil {
		return err
	}
	if cmp.Status == StatusCompleted {
		telemetry.Info("comparisons.already_completed", map[string]any{"comparison_id": comparisonID})
		return nil
	}

	metrics.IncComparisonStarted()
	start := time.Now()

	if err := s.run(ctx, &cmp); err != nil {
		metrics.IncComparisonFailed()
		s.markFailed(ctx, comparisonID, err)
		return err
	}

	metrics.IncComparisonCompleted()
	telemetry.Info("comparisons.completed", map[string]any{
		"comparison_id": comparisonID,
		"mode":          cmp.Mode,
		"sections":      len(cmp.SectionDetailedComparisons),
		"priority":      cmp.Priority,
		"duration_ms":   time.Since(start).Milliseconds(),
	})
	return nil
}

func (s *Service) run(ctx context.Context, cmp *Comparison) error {
	if err := s.setStatus(ctx, cmp.ComparisonID, StatusProcessing); err != nil {
		return err
	}
	s.report(ctx, cmp.ComparisonID, progress.Record{
		Status:   progress.StatusRunning,
		Progress: 5,
		Step:     "loading documents",
	})

	inputs, err := s.loadInputs(ctx, cmp.DocumentIDs)
	if err != nil {
		return err
	}

	infos := make([]DocumentInfo, len(inputs))
	for i, in := range inputs {
		infos[i] = in.Info
	}
	cmp.Mode = DetermineMode(infos)
	cmp.Doc1Info = inputs[0].Info
	cmp.Doc2Info = inputs[1].Info

	s.report(ctx, cmp.ComparisonID, progress.Record{
		Status:   progress.StatusRunning,
		Progress: 15,
		Step:     "mapping sections",
	})

	// Three or more inputs record multi_document mode but the detailed
	// analysis covers the first pair.
	onProgress := func(section string, completed, total int) {
		pct := 15
		if total > 0 {
			pct = 15 + completed*80/total
		}
		s.report(ctx, cmp.ComparisonID, progress.Record{
			Status:            progress.StatusRunning,
			Progress:          pct,
			Step:              "analyzing sections",
			CurrentSection:    section,
			TotalSections:     total,
			CompletedSections: completed,
		})
	}
	if err := s.Engine.Compare(ctx, cmp, inputs[0], inputs[1], onProgress); err != nil {
		return err
	}

	cmp.Status = StatusCompleted
	cmp.Error = ""
	cmp.UpdatedAt = time.Now().UTC()
	if err := s.Repo.Save(ctx, *cmp); err != nil {
		return err
	}
	s.report(ctx, cmp.ComparisonID, progress.Record{
		Status:   progress.StatusCompleted,
		Progress: 100,
		Step:     "completed",
	})
	return nil
}

// loadInputs resolves every document ID to its structured data and builds
// the comparison snapshot for each. Metadata missing from the record is
// extracted from the document text.
func (s *Service) loadInputs(ctx context.Context, ids []string) ([]ComparisonDocument, error) {
	if len(ids) < 2 {
		return nil, apperr.Input("comparison needs at least two documents, got %d", len(ids))
	}
	inputs := make([]ComparisonDocument, 0, len(ids))
	for _, id := range ids {
		doc, err := s.Documents.Load(ctx, id)
		if err != nil {
			return nil, apperr.Input("load document %s: %w", id, err)
		}
		if doc.Status != documents.StatusStructured || doc.StructuredData == nil {
			return nil, apperr.Input("document %s is not structured (status %s)", id, doc.Status)
		}
		inputs = append(inputs, ComparisonDocument{
			Info: s.snapshot(ctx, doc),
			Data: *doc.StructuredData,
		})
	}
	return inputs, nil
}

// snapshot builds the DocumentInfo copied into the comparison. Manually
// recorded company name and fiscal year win; otherwise both are extracted
// from the document head by the model.
func (s *Service) snapshot(ctx context.Context, doc documents.Document) DocumentInfo {
	info := DocumentInfo{
		DocumentID:   doc.ID,
		Filename:     doc.Filename,
		DocumentType: doc.EffectiveType(),
	}
	switch {
	case doc.ManualTypeLabel != "":
		info.DocumentTypeLabel = doc.ManualTypeLabel
	case doc.DetectedTypeLabel != "":
		info.DocumentTypeLabel = doc.DetectedTypeLabel
	}

	info.CompanyName = strings.TrimSpace(doc.CompanyName)
	if y := strings.TrimSpace(doc.FiscalYear); y != "" {
		if n, err := strconv.Atoi(y); err == nil {
			info.FiscalYear = n
		}
	}
	if info.CompanyName != "" && info.FiscalYear != 0 {
		info.ExtractionConfidence = 1.0
		return info
	}

	if s.Engine == nil || s.Engine.LLM == nil || doc.StructuredData == nil {
		return info
	}
	company, year, confidence := ExtractDocumentMetadata(ctx, s.Engine.LLM, doc.ID, doc.StructuredData.FullText)
	if info.CompanyName == "" {
		info.CompanyName = company
	}
	if info.FiscalYear == 0 {
		info.FiscalYear = year
	}
	info.ExtractionConfidence = confidence
	return info
}

// Status returns the live progress record, falling back to the persisted
// status when no record exists.
func (s *Service) Status(ctx context.Context, id string) (progress.Record, error) {
	cmp, err := s.Repo.Load(ctx, id)
	if err != nil {
		return progress.Record{}, err
	}
	if s.Progress != nil {
		rec, err := s.Progress.Get(ctx, progress.ComparisonKey(id))
		if err == nil {
			return rec, nil
		}
	}
	rec := progress.Record{Step: cmp.Status}
	switch cmp.Status {
	case StatusQueued:
		rec.Status = progress.StatusQueued
	case StatusCompleted:
		rec.Status = progress.StatusCompleted
		rec.Progress = 100
	case StatusFailed:
		rec.Status = progress.StatusFailed
		rec.Error = cmp.Error
	default:
		rec.Status = progress.StatusRunning
	}
	return rec, nil
}

func (s *Service) setStatus(ctx context.Context, id, status string) error {
	_, err := s.Repo.Update(ctx, id, func(c *Comparison) error {
		c.Status = status
		return nil
	})
	return err
}

func (s *Service) report(ctx context.Context, id string, rec progress.Record) {
	if s.Progress == nil {
		return
	}
	if err := s.Progress.Update(ctx, progress.ComparisonKey(id), rec); err != nil {
		telemetry.Warn("comparisons.progress_update_failed", map[string]any{
			"comparison_id": id,
			"error":         err.Error(),
		})
	}
}

func (s *Service) markFailed(ctx context.Context, id string, cause error) {
	telemetry.Error("comparisons.failed", map[string]any{
		"comparison_id": id,
		"error":         cause.Error(),
	})
	if _, err := s.Repo.Update(ctx, id, func(c *Comparison) error {
		c.Status = StatusFailed
		c.Error = cause.Error()
		return nil
	}); err != nil {
		telemetry.Error("comparisons.mark_failed_error", map[string]any{
			"comparison_id": id,
			"error":         err.Error(),
		})
	}
	s.report(ctx, id, progress.Record{
		Status: progress.StatusFailed,
		Step:   "failed",
		Error:  cause.Error(),
	})
}
