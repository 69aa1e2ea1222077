package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"disclosure-backend/internal/documents"
	"disclosure-backend/internal/llm"
	"disclosure-backend/internal/shared/telemetry"
	"disclosure-backend/internal/templates"
)

const (
	// DefaultSectionBatchSize is the number of pages sent per detection call.
	DefaultSectionBatchSize = 10
	// DefaultSectionWorkers bounds concurrent detection batches.
	DefaultSectionWorkers = 5

	sectionDefaultConfidence = 0.5
	sectionPagePromptChars   = 2000
	sectionBatchPromptChars  = 15000
	sectionContextTailChars  = 500
)

// SectionResult is the outcome of section detection.
type SectionResult struct {
	Sections   map[string]documents.SectionInfo
	TokensUsed int
}

// SectionDetector segments the page sequence into named sections guided by
// the document type's template. Batches run concurrently; stitching is by
// batch index so completion order never affects the result.
type SectionDetector struct {
	LLM       llm.Client
	Template  templates.Template
	BatchSize int
	Workers   int
}

// NewSectionDetector constructs a detector with default widths.
func NewSectionDetector(client llm.Client, tpl templates.Template) *SectionDetector {
	return &SectionDetector{
		LLM:       client,
		Template:  tpl,
		BatchSize: DefaultSectionBatchSize,
		Workers:   DefaultSectionWorkers,
	}
}

// detectedSpan is one section claim from a batch verdict.
type detectedSpan struct {
	Name         string   `json:"section_name"`
	StartPage    int      `json:"start_page"`
	EndPage      int      `json:"end_page"`
	Confidence   *float64 `json:"confidence"`
	IsContinuing bool     `json:"is_continuing"`
}

type batchVerdict struct {
	Sections []detectedSpan `json:"sections"`
	Notes    string         `json:"notes"`
}

type sectionBatch struct {
	spans  []detectedSpan
	tokens int
}

// Detect runs detection over every batch and stitches the results. A failed
// batch is skipped with a warning; only cancellation aborts the whole run.
func (d *SectionDetector) Detect(ctx context.Context, pages []documents.Page) (SectionResult, error) {
	out := SectionResult{Sections: make(map[string]documents.SectionInfo)}
	if len(pages) == 0 || d.LLM == nil {
		return out, nil
	}

	batchSize := d.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultSectionBatchSize
	}
	workers := d.Workers
	if workers <= 0 {
		workers = DefaultSectionWorkers
	}

	var (
		mu      sync.Mutex
		results = make(map[int]sectionBatch)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for start := 0; start < len(pages); start += batchSize {
		end := start + batchSize
		if end > len(pages) {
			end = len(pages)
		}
		batchIndex := start / batchSize
		start, end := start, end
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			batch, err := d.detectBatch(gctx, pages, start, end)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				telemetry.Warn("sections.batch_failed", map[string]any{
					"pages": fmt.Sprintf("%d-%d", start+1, end),
					"error": err.Error(),
				})
				return nil
			}
			mu.Lock()
			results[batchIndex] = batch
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SectionResult{}, err
	}

	indexes := make([]int, 0, len(results))
	for idx := range results {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	// Stitch in batch order: the same canonical name across batches fuses
	// into one span with the minimum confidence.
	var order []string
	merged := make(map[string]*detectedSpan)
	for _, idx := range indexes {
		batch := results[idx]
		out.TokensUsed += batch.tokens
		for _, span := range batch.spans {
			span := span
			name := canonicalSectionName(span.Name)
			if name == "" {
				continue
			}
			if span.StartPage < 1 {
				span.StartPage = 1
			}
			if span.EndPage > len(pages) {
				span.EndPage = len(pages)
			}
			if span.EndPage < span.StartPage {
				continue
			}
			if prev, ok := merged[name]; ok {
				if span.EndPage > prev.EndPage {
					prev.EndPage = span.EndPage
				}
				if confidenceOf(&span) < confidenceOf(prev) {
					prev.Confidence = span.Confidence
				}
				continue
			}
			span.Name = name
			merged[name] = &span
			order = append(order, name)
		}
	}

	for _, span := range resolveOverlaps(merged, order) {
		out.Sections[span.Name] = documents.SectionInfo{
			StartPage:  span.StartPage,
			EndPage:    span.EndPage,
			CharCount:  pageRangeChars(pages, span.StartPage, span.EndPage),
			Confidence: confidenceOf(&span),
		}
	}
	return out, nil
}

func (d *SectionDetector) detectBatch(ctx context.Context, pages []documents.Page, start, end int) (sectionBatch, error) {
	prompt := d.buildPrompt(pages, start, end)
	res, err := d.LLM.CompleteJSON(ctx, llm.Request{
		System: "あなたは日本語の企業開示資料の構成を解析するアシスタントです。指定されたJSON形式のみで回答してください。",
		User:   prompt,
	})
	if err != nil {
		return sectionBatch{}, err
	}

	var verdict batchVerdict
	if err := json.Unmarshal(res.Raw, &verdict); err != nil {
		return sectionBatch{}, fmt.Errorf("parse section verdict: %w", err)
	}
	return sectionBatch{spans: verdict.Sections, tokens: res.Usage.TotalTokens}, nil
}

func (d *SectionDetector) buildPrompt(pages []documents.Page, start, end int) string {
	batchStart := start + 1
	batchEnd := end

	var batchText strings.Builder
	for i := start; i < end; i++ {
		text := truncateRunes(pages[i].Text, sectionPagePromptChars)
		fmt.Fprintf(&batchText, "=== ページ %d ===\n%s\n\n", pages[i].PageNumber, text)
	}

	label := d.Template.DisplayName
	if label == "" {
		label = d.Template.DocumentType
	}

	var b strings.Builder
	fmt.Fprintf(&b, "以下は「%s」のページ%d～%dのテキストです。各ページがどのセクションに属するか判定してください。\n\n", label, batchStart, batchEnd)

	if start > 0 {
		carry := tail(pages[start-1].Text, sectionContextTailChars)
		if carry != "" {
			fmt.Fprintf(&b, "【直前のページ（%d）の末尾】\n%s\n\n", pages[start-1].PageNumber, carry)
		}
	}

	if tree := d.Template.RenderTree(); tree != "" {
		fmt.Fprintf(&b, "【%sの標準的なセクション構成】\n（括弧内は別名表記です）\n\n%s\n", label, tree)
		b.WriteString("【セクション名の指定方法】\n")
		fmt.Fprintf(&b, "- 階層構造の場合は「親%s子」形式で指定してください（例: \"企業情報%s企業の概況\"）\n", templates.PathSeparator, templates.PathSeparator)
		b.WriteString("- トップレベルのセクションはそのまま指定してください（例: \"表紙\"）\n\n")
	}

	b.WriteString("【ページテキスト】\n")
	b.WriteString(truncateRunes(batchText.String(), sectionBatchPromptChars))

	b.WriteString("\n【出力形式】\n以下のJSON形式で回答してください。\n")
	b.WriteString(`{"sections": [{"section_name": "表紙", "start_page": 1, "end_page": 1, "confidence": 1.0, "is_continuing": false}], "notes": ""}`)
	b.WriteString("\n\n【注意事項】\n")
	b.WriteString("1. セクション名は標準構成に基づく正式名称で指定してください\n")
	fmt.Fprintf(&b, "2. セクションがこのバッチの範囲を超えて続く場合は end_page を %d にして is_continuing を true にしてください\n", batchEnd)
	b.WriteString("3. 見出しや書式から判断し、confidence スコア (0～1) を付与してください\n")
	return b.String()
}

// resolveOverlaps enforces disjoint page ranges: when two names claim
// overlapping pages, the earlier start keeps the disputed pages and the
// other span is truncated to begin after them, or dropped if nothing is
// left.
func resolveOverlaps(merged map[string]*detectedSpan, order []string) []detectedSpan {
	spans := make([]detectedSpan, 0, len(order))
	for _, name := range order {
		spans = append(spans, *merged[name])
	}
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].StartPage != spans[j].StartPage {
			return spans[i].StartPage < spans[j].StartPage
		}
		return spans[i].EndPage > spans[j].EndPage
	})

	var kept []detectedSpan
	claimedEnd := 0
	for _, span := range spans {
		if span.StartPage <= claimedEnd {
			span.StartPage = claimedEnd + 1
			if span.StartPage > span.EndPage {
				continue
			}
		}
		if span.EndPage > claimedEnd {
			claimedEnd = span.EndPage
		}
		kept = append(kept, span)
	}
	return kept
}

func canonicalSectionName(name string) string {
	parts := strings.Split(name, "-")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	joined := strings.Join(parts, templates.PathSeparator)
	return strings.TrimSpace(joined)
}

func confidenceOf(span *detectedSpan) float64 {
	if span.Confidence == nil {
		return sectionDefaultConfidence
	}
	c := *span.Confidence
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func pageRangeChars(pages []documents.Page, startPage, endPage int) int {
	total := 0
	for _, page := range pages {
		if page.PageNumber >= startPage && page.PageNumber <= endPage {
			total += len([]rune(page.Text))
		}
	}
	return total
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
