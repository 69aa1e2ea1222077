// Package structuring sequences the extraction pipeline for one document:
// text, vision fallback, tables, section detection, and section content.
package structuring

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"disclosure-backend/internal/documents"
	"disclosure-backend/internal/extract"
	"disclosure-backend/internal/llm"
	"disclosure-backend/internal/progress"
	"disclosure-backend/internal/shared/metrics"
	"disclosure-backend/internal/shared/storage/object"
	"disclosure-backend/internal/shared/telemetry"
	"disclosure-backend/internal/templates"
)

// Service runs the structuring pipeline. One document is processed entirely
// on one worker; re-entry after a crash restarts from the top, which is safe
// because every stage is idempotent and a structured document is a no-op.
type Service struct {
	Repo      documents.Repo
	Store     object.ObjectStore
	Templates *templates.Registry
	LLM       llm.Client
	Progress  progress.Reporter

	Text    textExtractor
	Vision  visionExtractor
	Tables  tableExtractor
	Content contentExtractor
}

// The stage interfaces mirror the concrete extractors in internal/extract so
// stage outcomes can be substituted in tests.
type textExtractor interface {
	Extract(ctx context.Context, pdfPath string) (extract.TextResult, error)
}

type visionExtractor interface {
	Extract(ctx context.Context, pdfPath string) (extract.VisionResult, error)
}

type tableExtractor interface {
	Extract(ctx context.Context, pdfPath string) extract.TableResult
}

type contentExtractor interface {
	ExtractAll(ctx context.Context, sections map[string]documents.SectionInfo, pages []documents.Page, tables []documents.Table) (extract.ContentResult, error)
}

// New wires a Service with default extractors.
func New(repo documents.Repo, store object.ObjectStore, reg *templates.Registry, client llm.Client, reporter progress.Reporter) *Service {
	return &Service{
		Repo:      repo,
		Store:     store,
		Templates: reg,
		LLM:       client,
		Progress:  reporter,
		Text:      extract.NewTextExtractor(),
		Vision:    extract.NewVisionExtractor(client),
		Tables:    extract.NewTableExtractor(),
		Content:   extract.NewContentExtractor(client),
	}
}

// StructureDocument runs the full pipeline for one document. Idempotent: a
// document that is already structured returns immediately. A document whose
// type is still unknown halts at pending_classification.
func (s *Service) StructureDocument(ctx context.Context, documentID string) error {
	doc, err := s.Repo.Load(ctx, documentID)
	if err != nil {
		return err
	}

	if doc.Status == documents.StatusStructured {
		telemetry.Info("structuring.already_structured", map[string]any{"document_id": documentID})
		return nil
	}

	if doc.EffectiveType() == documents.TypeUnknown {
		telemetry.Info("structuring.pending_classification", map[string]any{"document_id": documentID})
		return s.setStatus(ctx, documentID, documents.StatusPendingClassification, "")
	}

	metrics.IncStructuringStarted()
	start := time.Now()

	result, err := s.run(ctx, doc)
	if err != nil {
		metrics.IncStructuringFailed()
		s.markFailed(ctx, documentID, result, err)
		return err
	}

	metrics.IncStructuringCompleted()
	telemetry.Info("structuring.completed", map[string]any{
		"document_id": documentID,
		"method":      result.method,
		"sections":    len(result.data.Sections),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// pipelineState accumulates partial output so a failure can still persist
// what the completed stages produced.
type pipelineState struct {
	data   documents.StructuredData
	meta   documents.ExtractionMetadata
	method string
}

func (s *Service) run(ctx context.Context, doc documents.Document) (*pipelineState, error) {
	state := &pipelineState{method: documents.MethodText}

	if err := s.setStatus(ctx, doc.ID, documents.StatusProcessing, ""); err != nil {
		return state, err
	}
	s.report(ctx, doc.ID, progress.StatusRunning, 5, "processing")

	pdfPath, cleanup, err := s.fetchPDF(ctx, doc)
	if err != nil {
		return state, err
	}
	defer cleanup()

	// Stage 1: direct text extraction.
	if err := s.setStatus(ctx, doc.ID, documents.StatusExtractingText, "text"); err != nil {
		return state, err
	}
	s.report(ctx, doc.ID, progress.StatusRunning, 10, "extracting text")

	stageStart := time.Now()
	textRes, err := s.Text.Extract(ctx, pdfPath)
	state.meta.TextExtraction = stageRecord(stageStart, textRes.Success, 0, textRes.Error)
	if err != nil {
		state.meta.TextExtraction = stageRecord(stageStart, false, 0, err.Error())
		return state, err
	}
	state.data.Pages = textRes.Pages
	state.data.FullText = textRes.FullText

	// Stage 2: vision fallback when the quality gate fails.
	if !textRes.Success {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		if err := s.setStatus(ctx, doc.ID, documents.StatusExtractingVision, "vision"); err != nil {
			return state, err
		}
		s.report(ctx, doc.ID, progress.StatusRunning, 30, "extracting pages with vision")

		stageStart = time.Now()
		visionRes, err := s.Vision.Extract(ctx, pdfPath)
		if err != nil {
			state.meta.VisionExtraction = stageRecord(stageStart, false, 0, err.Error())
			return state, err
		}
		state.meta.VisionExtraction = stageRecord(stageStart, visionRes.Success, visionRes.TokensUsed, visionRes.Error)
		if visionRes.Success {
			state.data.Pages = visionRes.Pages
			state.data.FullText = visionRes.FullText
			state.method = documents.MethodVision
		}
	}

	// Stage 3: table recovery always runs, regardless of text outcome.
	if err := ctx.Err(); err != nil {
		return state, err
	}
	if err := s.setStatus(ctx, doc.ID, documents.StatusExtractingTables, "tables"); err != nil {
		return state, err
	}
	s.report(ctx, doc.ID, progress.StatusRunning, 60, "extracting tables")

	stageStart = time.Now()
	tableRes := s.Tables.Extract(ctx, pdfPath)
	state.meta.TableExtraction = stageRecord(stageStart, tableRes.Success, 0, tableRes.Error)
	if tableRes.Success {
		state.data.Tables = tableRes.Tables
	}

	// Stage 4: template-guided section detection for known types.
	docType := doc.EffectiveType()
	if s.Templates != nil && s.Templates.Has(docType) && s.LLM != nil {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		if err := s.setStatus(ctx, doc.ID, documents.StatusDetectingSections, "sections"); err != nil {
			return state, err
		}
		s.report(ctx, doc.ID, progress.StatusRunning, 70, "detecting sections")

		detector := extract.NewSectionDetector(s.LLM, s.Templates.Load(docType))
		stageStart = time.Now()
		sectionRes, err := detector.Detect(ctx, state.data.Pages)
		if err != nil {
			state.meta.SectionDetection = stageRecord(stageStart, false, 0, err.Error())
			return state, err
		}
		state.meta.SectionDetection = stageRecord(stageStart, true, sectionRes.TokensUsed, "")
		state.data.Sections = sectionRes.Sections

		// Stage 5: per-section content extraction when sections were found.
		if len(sectionRes.Sections) > 0 {
			if err := s.setStatus(ctx, doc.ID, documents.StatusExtractingSectionContent, "section_content"); err != nil {
				return state, err
			}
			s.report(ctx, doc.ID, progress.StatusRunning, 85, "extracting section content")

			stageStart = time.Now()
			contentRes, err := s.Content.ExtractAll(ctx, state.data.Sections, state.data.Pages, state.data.Tables)
			if err != nil {
				state.meta.SectionContent = stageRecord(stageStart, false, 0, err.Error())
				return state, err
			}
			state.meta.SectionContent = stageRecord(stageStart, true, contentRes.TokensUsed, "")
			for name, content := range contentRes.Contents {
				info := state.data.Sections[name]
				info.Content = content
				state.data.Sections[name] = info
			}
		}
	}

	// Finalize.
	if err := ctx.Err(); err != nil {
		return state, err
	}
	_, err = s.Repo.Update(ctx, doc.ID, func(d *documents.Document) error {
		d.StructuredData = &state.data
		d.ExtractionMethod = state.method
		d.ExtractionMetadata = &state.meta
		d.Status = documents.StatusStructured
		d.Step = ""
		d.Error = ""
		return nil
	})
	if err != nil {
		return state, err
	}
	s.report(ctx, doc.ID, progress.StatusCompleted, 100, "structured")
	return state, nil
}

// fetchPDF materializes the stored object as a temp file for the extractors.
func (s *Service) fetchPDF(ctx context.Context, doc documents.Document) (string, func(), error) {
	rc, err := s.Store.Open(ctx, doc.StoredKey)
	if err != nil {
		return "", nil, fmt.Errorf("open stored pdf %s: %w", doc.StoredKey, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "disclosure-*.pdf")
	if err != nil {
		return "", nil, fmt.Errorf("create temp pdf: %w", err)
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("copy pdf to temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("close temp pdf: %w", err)
	}
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}

func (s *Service) setStatus(ctx context.Context, id string, status documents.Status, step string) error {
	_, err := s.Repo.Update(ctx, id, func(d *documents.Document) error {
		d.Status = status
		d.Step = step
		return nil
	})
	return err
}

func (s *Service) report(ctx context.Context, id string, status progress.Status, pct int, step string) {
	if s.Progress == nil {
		return
	}
	if err := s.Progress.Update(ctx, progress.DocumentKey(id), progress.Record{
		Status:   status,
		Progress: pct,
		Step:     step,
	}); err != nil {
		telemetry.Warn("structuring.progress_update_failed", map[string]any{
			"document_id": id,
			"error":       err.Error(),
		})
	}
}

// markFailed records the failure and keeps whatever the completed stages
// produced so the record stays inspectable.
func (s *Service) markFailed(ctx context.Context, id string, state *pipelineState, cause error) {
	telemetry.Error("structuring.failed", map[string]any{
		"document_id": id,
		"error":       cause.Error(),
	})
	if _, err := s.Repo.Update(ctx, id, func(d *documents.Document) error {
		d.Status = documents.StatusFailed
		d.Error = cause.Error()
		if state != nil && (len(state.data.Pages) > 0 || len(state.data.Tables) > 0 || len(state.data.Sections) > 0) {
			d.StructuredData = &state.data
			d.ExtractionMethod = state.method
			d.ExtractionMetadata = &state.meta
		}
		return nil
	}); err != nil {
		telemetry.Error("structuring.mark_failed_error", map[string]any{
			"document_id": id,
			"error":       err.Error(),
		})
	}
	if s.Progress != nil {
		_ = s.Progress.Update(ctx, progress.DocumentKey(id), progress.Record{
			Status: progress.StatusFailed,
			Step:   "failed",
			Error:  cause.Error(),
		})
	}
}

func stageRecord(start time.Time, success bool, tokens int, errMsg string) *documents.StageRecord {
	return &documents.StageRecord{
		Success:     success,
		Error:       errMsg,
		DurationMs:  time.Since(start).Milliseconds(),
		TokensUsed:  tokens,
		CompletedAt: time.Now().UTC(),
	}
}
