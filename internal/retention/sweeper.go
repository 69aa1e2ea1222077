// Package retention deletes documents past their retention deadline and
// prunes the comparisons that referenced them.
package retention

import (
	"context"
	"errors"
	"time"

	"disclosure-backend/internal/comparisons"
	"disclosure-backend/internal/documents"
	"disclosure-backend/internal/progress"
	"disclosure-backend/internal/shared/storage/object"
	"disclosure-backend/internal/shared/telemetry"
)

// DefaultInterval is how often the worker sweeps.
const DefaultInterval = 15 * time.Minute

// Sweeper removes expired documents and reconciles comparisons. A
// comparison whose inputs are all expired is deleted; a comparison with one
// surviving input keeps its snapshots but loses the expired side's text.
type Sweeper struct {
	Documents   documents.Repo
	Comparisons comparisons.Repo
	Store       object.ObjectStore
	Progress    progress.Reporter
	Interval    time.Duration
}

// Stats summarizes one sweep.
type Stats struct {
	DocumentsDeleted   int
	ComparisonsDeleted int
	ComparisonsPruned  int
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.SweepOnce(ctx, time.Now().UTC())
			if err != nil {
				telemetry.Error("retention.sweep_failed", map[string]any{"error": err.Error()})
				continue
			}
			if stats.DocumentsDeleted > 0 || stats.ComparisonsDeleted > 0 || stats.ComparisonsPruned > 0 {
				telemetry.Info("retention.swept", map[string]any{
					"documents_deleted":   stats.DocumentsDeleted,
					"comparisons_deleted": stats.ComparisonsDeleted,
					"comparisons_pruned":  stats.ComparisonsPruned,
				})
			}
		}
	}
}

// SweepOnce performs a single pass.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (Stats, error) {
	var stats Stats

	expired, err := s.Documents.ListExpired(ctx, now)
	if err != nil {
		return stats, err
	}
	for _, id := range expired {
		if err := s.deleteDocument(ctx, id); err != nil {
			telemetry.Warn("retention.document_delete_failed", map[string]any{
				"document_id": id,
				"error":       err.Error(),
			})
			continue
		}
		stats.DocumentsDeleted++
	}

	if s.Comparisons == nil {
		return stats, nil
	}
	ids, err := s.Comparisons.ListIDs(ctx)
	if err != nil {
		return stats, err
	}
	for _, id := range ids {
		deleted, pruned, err := s.reconcileComparison(ctx, id, now)
		if err != nil {
			telemetry.Warn("retention.comparison_reconcile_failed", map[string]any{
				"comparison_id": id,
				"error":         err.Error(),
			})
			continue
		}
		if deleted {
			stats.ComparisonsDeleted++
		}
		if pruned {
			stats.ComparisonsPruned++
		}
	}
	return stats, nil
}

func (s *Sweeper) deleteDocument(ctx context.Context, id string) error {
	doc, err := s.Documents.LoadAny(ctx, id)
	if err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.Store.Delete(ctx, doc.StoredKey); err != nil {
		telemetry.Warn("retention.object_delete_failed", map[string]any{
			"document_id": id,
			"error":       err.Error(),
		})
	}
	if err := s.Documents.Delete(ctx, id); err != nil {
		return err
	}
	if s.Progress != nil {
		_ = s.Progress.Delete(ctx, progress.DocumentKey(id))
	}
	return nil
}

// reconcileComparison deletes the comparison when every input is gone, or
// strips the expired side when only some are.
func (s *Sweeper) reconcileComparison(ctx context.Context, id string, now time.Time) (deleted, pruned bool, err error) {
	cmp, err := s.Comparisons.Load(ctx, id)
	if err != nil {
		if errors.Is(err, comparisons.ErrNotFound) {
			return false, false, nil
		}
		return false, false, err
	}

	var gone []string
	for _, docID := range cmp.DocumentIDs {
		doc, err := s.Documents.LoadAny(ctx, docID)
		switch {
		case errors.Is(err, documents.ErrNotFound):
			gone = append(gone, docID)
		case err != nil:
			return false, false, err
		case doc.Expired(now):
			gone = append(gone, docID)
		}
	}
	if len(gone) == 0 {
		return false, false, nil
	}

	if len(gone) == len(cmp.DocumentIDs) {
		if err := s.Comparisons.Delete(ctx, id); err != nil {
			return false, false, err
		}
		if s.Progress != nil {
			_ = s.Progress.Delete(ctx, progress.ComparisonKey(id))
		}
		return true, false, nil
	}

	changed := false
	if _, err := s.Comparisons.Update(ctx, id, func(c *comparisons.Comparison) error {
		for _, docID := range gone {
			if c.MarkDocumentExpired(docID) {
				changed = true
			}
		}
		return nil
	}); err != nil {
		return false, false, err
	}
	return false, changed, nil
}
