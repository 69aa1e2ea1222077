package comparisons

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"disclosure-backend/internal/documents"
	"disclosure-backend/internal/embedding"
	"disclosure-backend/internal/llm"
	"disclosure-backend/internal/shared/telemetry"
	"disclosure-backend/internal/templates"
)

const (
	// DefaultAnalysisWorkers bounds concurrent per-section analysis calls.
	DefaultAnalysisWorkers = 5

	analysisExcerptChars = 3000
)

// ComparisonDocument bundles one input's snapshot with its structured data.
type ComparisonDocument struct {
	Info DocumentInfo
	Data documents.StructuredData
}

func (d ComparisonDocument) sections() map[string]documents.SectionInfo { return d.Data.Sections }

// Engine runs the section-level comparison once the inputs are loaded and
// the mode is known.
type Engine struct {
	LLM       llm.Client
	Embedder  embedding.Embedder
	Templates *templates.Registry
	Workers   int

	// Iterative re-exploration knobs.
	IterativeRounds    int
	IterativeKeywords  int
	IterativeThreshold float64
}

// NewEngine wires an engine with default widths.
func NewEngine(client llm.Client, embedder embedding.Embedder, reg *templates.Registry) *Engine {
	return &Engine{
		LLM:                client,
		Embedder:           embedder,
		Templates:          reg,
		Workers:            DefaultAnalysisWorkers,
		IterativeRounds:    defaultIterativeRounds,
		IterativeKeywords:  defaultIterativeKeywords,
		IterativeThreshold: MappingThreshold,
	}
}

// ProgressFunc receives per-section completion updates.
type ProgressFunc func(currentSection string, completed, total int)

// Compare fills cmp with mappings, diffs, and per-section analyses for the
// two documents. The caller has already selected the mode and snapshot
// info.
func (e *Engine) Compare(ctx context.Context, cmp *Comparison, doc1, doc2 ComparisonDocument, onProgress ProgressFunc) error {
	mappings, err := MapSections(ctx, e.Embedder, doc1.sections(), doc2.sections())
	if err != nil {
		return err
	}
	cmp.SectionMappings = mappings
	cmp.NumericalDifferences = CompareNumbers(mappings, doc1.sections(), doc2.sections())
	cmp.TextDifferences = CompareText(mappings, doc1.sections(), doc2.sections(), doc1.Data.Pages, doc2.Data.Pages)

	details, err := e.analyzeSections(ctx, cmp.Mode, cmp.IterativeSearchMode, mappings, doc1, doc2, onProgress)
	if err != nil {
		return err
	}
	// Deterministic presentation order: by doc1 page range ascending.
	sort.SliceStable(details, func(i, j int) bool {
		return rangeStart(details[i].Doc1PageRange) < rangeStart(details[j].Doc1PageRange)
	})
	cmp.SectionDetailedComparisons = details
	cmp.Priority = overallPriority(details)
	return nil
}

func (e *Engine) analyzeSections(ctx context.Context, mode Mode, iterative IterativeMode, mappings []SectionMapping, doc1, doc2 ComparisonDocument, onProgress ProgressFunc) ([]SectionDetailedComparison, error) {
	if e.LLM == nil {
		return nil, nil
	}

	var valid []SectionMapping
	for _, mapping := range mappings {
		if _, ok := doc1.sections()[mapping.Doc1Section]; !ok {
			continue
		}
		if _, ok := doc2.sections()[mapping.Doc2Section]; !ok {
			continue
		}
		valid = append(valid, mapping)
	}
	total := len(valid)
	if total == 0 {
		return nil, nil
	}

	workers := e.Workers
	if workers <= 0 {
		workers = DefaultAnalysisWorkers
	}

	var (
		mu        sync.Mutex
		details   []SectionDetailedComparison
		completed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, mapping := range valid {
		mapping := mapping
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			detail := e.analyzeSection(gctx, mode, mapping, doc1, doc2)

			if shouldIterate(iterative, detail.Importance) {
				e.iterate(gctx, mode, &detail, doc1, doc2)
			}

			mu.Lock()
			details = append(details, detail)
			completed++
			done := completed
			mu.Unlock()
			if onProgress != nil {
				onProgress(mapping.Doc1Section, done, total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return details, nil
}

type analysisVerdict struct {
	TextChanges      map[string]any   `json:"text_changes"`
	NumericalChanges []map[string]any `json:"numerical_changes"`
	ToneAnalysis     map[string]any   `json:"tone_analysis"`
	Importance       string           `json:"importance"`
	ImportanceReason string           `json:"importance_reason"`
	Summary          string           `json:"summary"`
}

// analyzeSection issues one analysis call with a single retry on malformed
// output; a second failure yields a low-importance placeholder so the
// comparison still completes.
func (e *Engine) analyzeSection(ctx context.Context, mode Mode, mapping SectionMapping, doc1, doc2 ComparisonDocument) SectionDetailedComparison {
	info1 := doc1.sections()[mapping.Doc1Section]
	info2 := doc2.sections()[mapping.Doc2Section]

	detail := SectionDetailedComparison{
		SectionName:       mapping.Doc1Section,
		Doc1PageRange:     pageRange(info1),
		Doc2PageRange:     pageRange(info2),
		Doc1SectionName:   mapping.Doc1Section,
		Doc2SectionName:   mapping.Doc2Section,
		MappingConfidence: mapping.ConfidenceScore,
		MappingMethod:     mapping.MappingMethod,
		Importance:        "medium",
	}

	prompt := e.buildAnalysisPrompt(mode, mapping, doc1, doc2, "")
	verdict, err := e.completeAnalysis(ctx, mode, doc1, prompt)
	if err != nil {
		telemetry.Warn("comparisons.section_analysis_failed", map[string]any{
			"section": mapping.Doc1Section,
			"error":   err.Error(),
		})
		detail.Importance = "low"
		detail.ImportanceReason = "analysis failed"
		detail.Summary = fmt.Sprintf("分析に失敗しました: %s", truncateString(err.Error(), 100))
		return detail
	}

	detail.TextChanges = verdict.TextChanges
	detail.NumericalChanges = verdict.NumericalChanges
	detail.ToneAnalysis = verdict.ToneAnalysis
	detail.Importance = normalizeImportance(verdict.Importance)
	detail.ImportanceReason = verdict.ImportanceReason
	detail.Summary = verdict.Summary

	promoteImportance(mode, &detail)
	return detail
}

// completeAnalysis calls the model and parses the verdict, retrying once on
// malformed JSON.
func (e *Engine) completeAnalysis(ctx context.Context, mode Mode, doc1 ComparisonDocument, prompt string) (analysisVerdict, error) {
	system := fmt.Sprintf("あなたは「%s」の分析エキスパートです。差異を正確に検出し、重要度を判定してください。指定されたJSON形式のみで回答してください。", e.docTypeLabel(doc1.Info))
	if mode == ModeDiffAnalysisCompany {
		system = fmt.Sprintf("あなたは「%s」の分析エキスパートです。異なる企業間の開示内容の違いを正確に検出し、投資家や利害関係者にとっての重要度を判定してください。指定されたJSON形式のみで回答してください。", e.docTypeLabel(doc1.Info))
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		res, err := e.LLM.CompleteJSON(ctx, llm.Request{System: system, User: prompt})
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		var verdict analysisVerdict
		if err := json.Unmarshal(res.Raw, &verdict); err != nil {
			lastErr = fmt.Errorf("parse analysis verdict: %w", err)
			continue
		}
		return verdict, nil
	}
	return analysisVerdict{}, lastErr
}

// promoteImportance forces high importance when the model under-rated a
// material finding, prefixing the reason with the finding count.
func promoteImportance(mode Mode, detail *SectionDetailedComparison) {
	if detail.Importance == "high" {
		return
	}
	switch mode {
	case ModeConsistencyCheck:
		if n := listLen(detail.TextChanges, "contradictions"); n > 0 {
			detail.Importance = "high"
			detail.ImportanceReason = fmt.Sprintf("矛盾%d件: %s", n, detail.ImportanceReason)
		}
	case ModeDiffAnalysisYear:
		if n := listLen(detail.TextChanges, "modified"); n > 0 {
			detail.Importance = "high"
			detail.ImportanceReason = fmt.Sprintf("重要な変更%d件: %s", n, detail.ImportanceReason)
		}
	}
}

func listLen(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	if list, ok := m[key].([]any); ok {
		return len(list)
	}
	return 0
}

func (e *Engine) buildAnalysisPrompt(mode Mode, mapping SectionMapping, doc1, doc2 ComparisonDocument, extraContext string) string {
	info1 := doc1.sections()[mapping.Doc1Section]
	info2 := doc2.sections()[mapping.Doc2Section]

	// The prompt body is the ExtractedContent of both sides; raw page text
	// is only used when either side never went through content extraction.
	useRaw := info1.Content == nil || info2.Content == nil
	var body1, body2 string
	if useRaw {
		body1 = truncateString(pageRangeText(doc1.Data.Pages, info1.StartPage, info1.EndPage), analysisExcerptChars)
		body2 = truncateString(pageRangeText(doc2.Data.Pages, info2.StartPage, info2.EndPage), analysisExcerptChars)
	} else {
		body1 = renderContent(info1.Content)
		body2 = renderContent(info2.Content)
	}

	label1, label2 := "ドキュメント1", "ドキュメント2"
	if mode == ModeDiffAnalysisCompany {
		label1 = companyLabel(doc1.Info, "会社A")
		label2 = companyLabel(doc2.Info, "会社B")
	}

	var b strings.Builder
	switch mode {
	case ModeConsistencyCheck:
		fmt.Fprintf(&b, "以下は同一企業の異なる開示資料における「%s」セクションです。両資料の記載の整合性をチェックしてください。\n\n", mapping.Doc1Section)
	case ModeDiffAnalysisCompany:
		fmt.Fprintf(&b, "以下は異なる2社の「%s」における「%s」セクションです。企業間の開示内容の違いを分析してください。\n\n", e.docTypeLabel(doc1.Info), mapping.Doc1Section)
	default:
		fmt.Fprintf(&b, "以下の2つの「%s」の「%s」セクションを詳細に比較してください。\n\n", e.docTypeLabel(doc1.Info), mapping.Doc1Section)
	}

	fmt.Fprintf(&b, "【%s】\nページ範囲: %s\n%s\n\n", label1, pageRange(info1), body1)
	fmt.Fprintf(&b, "【%s】\nページ範囲: %s\n%s\n\n", label2, pageRange(info2), body2)

	if extraContext != "" {
		fmt.Fprintf(&b, "【追加の関連情報】\n%s\n\n", extraContext)
	}

	b.WriteString("【出力形式】\nJSON形式で回答してください。\n")
	switch mode {
	case ModeConsistencyCheck:
		b.WriteString(`{"text_changes": {"contradictions": ["両資料で矛盾する記載"], "normal_differences": ["粒度や表現の通常の違い"], "complementary_info": ["片方のみが補足する情報"], "consistency_score": 4, "consistency_reason": "スコアの根拠"}, `)
	case ModeDiffAnalysisCompany:
		b.WriteString(`{"text_changes": {"only_in_company1": ["1社目のみの記載"], "only_in_company2": ["2社目のみの記載"], "different_approaches": [{"aspect": "側面", "company1_approach": "1社目の方針", "company2_approach": "2社目の方針"}]}, `)
	default:
		b.WriteString(`{"text_changes": {"added": ["追加された内容"], "removed": ["削除された内容"], "modified": [{"before": "変更前", "after": "変更後"}]}, `)
	}
	b.WriteString(`"numerical_changes": [{"item": "項目名", "value1": 100, "value2": 120, "change_pct": 20.0, "is_significant": true}], `)
	b.WriteString(`"tone_analysis": {"tone1": "positive/neutral/negative", "tone2": "positive/neutral/negative", "negativity_score1": 2.0, "negativity_score2": 3.0, "difference": "トーンの違いの説明"}, `)
	b.WriteString(`"importance": "high/medium/low", "importance_reason": "重要度の理由", "summary": "このセクションの差異の要約"}`)
	b.WriteString("\n\n【注意事項】\n- 各リストは重要なもののみ、最大5個までにしてください\n- 原文にない値を計算してはいけません\n")
	return b.String()
}

// renderContent projects an ExtractedContent into compact prompt text.
func renderContent(content *documents.ExtractedContent) string {
	var b strings.Builder
	if len(content.FinancialData) > 0 {
		b.WriteString("財務数値:\n")
		for _, item := range content.FinancialData {
			fmt.Fprintf(&b, "- %s: %v %s", item.Item, item.Value, item.Unit)
			if item.Period != "" {
				fmt.Fprintf(&b, " (%s)", item.Period)
			}
			if item.Context != "" {
				fmt.Fprintf(&b, " / %s", item.Context)
			}
			b.WriteString("\n")
		}
	}
	if len(content.AccountingNotes) > 0 {
		b.WriteString("会計コメント:\n")
		for _, note := range content.AccountingNotes {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", note.Type, note.Topic, note.Content)
		}
	}
	if len(content.FactualInfo) > 0 {
		b.WriteString("事実情報:\n")
		for _, fact := range content.FactualInfo {
			fmt.Fprintf(&b, "- %s / %s: %v\n", fact.Category, fact.Item, fact.Value)
		}
	}
	if len(content.Messages) > 0 {
		b.WriteString("主張・メッセージ:\n")
		for _, msg := range content.Messages {
			fmt.Fprintf(&b, "- [%s/%s] %s\n", msg.Type, msg.Tone, msg.Content)
		}
	}
	if b.Len() == 0 {
		return "(抽出済み情報なし)"
	}
	return b.String()
}

func (e *Engine) docTypeLabel(info DocumentInfo) string {
	if info.DocumentTypeLabel != "" {
		return info.DocumentTypeLabel
	}
	if e.Templates != nil && info.DocumentType != "" {
		return e.Templates.DisplayName(info.DocumentType)
	}
	return info.DocumentType
}

func companyLabel(info DocumentInfo, fallback string) string {
	if info.CompanyName != "" {
		return info.CompanyName
	}
	return fallback
}

func normalizeImportance(s string) string {
	switch s {
	case "high", "medium", "low":
		return s
	default:
		return "medium"
	}
}

// overallPriority is the maximum section importance.
func overallPriority(details []SectionDetailedComparison) string {
	priority := "low"
	for _, d := range details {
		switch d.Importance {
		case "high":
			return "high"
		case "medium":
			priority = "medium"
		}
	}
	if len(details) == 0 {
		return "medium"
	}
	return priority
}

func pageRange(info documents.SectionInfo) string {
	return fmt.Sprintf("%d-%d", info.StartPage, info.EndPage)
}

func rangeStart(r string) int {
	head, _, _ := strings.Cut(r, "-")
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0
	}
	return n
}

func truncateString(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
