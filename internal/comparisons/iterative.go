package comparisons

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"disclosure-backend/internal/embedding"
	"disclosure-backend/internal/llm"
	"disclosure-backend/internal/shared/telemetry"
)

const (
	defaultIterativeRounds   = 2
	defaultIterativeKeywords = 5

	// Keywords shorter than this match too much noise.
	minKeywordRunes = 4

	iterativeExcerptRunes = 200
)

func shouldIterate(mode IterativeMode, importance string) bool {
	switch mode {
	case IterativeAll:
		return true
	case IterativeHighOnly:
		return importance == "high"
	default:
		return false
	}
}

// iterate runs up to IterativeRounds re-exploration rounds for one section:
// the model proposes search phrases, both documents are searched for
// passages containing them, relevant passages are fed back into a fresh
// analysis call.
func (e *Engine) iterate(ctx context.Context, mode Mode, detail *SectionDetailedComparison, doc1, doc2 ComparisonDocument) {
	rounds := e.IterativeRounds
	if rounds <= 0 || rounds > defaultIterativeRounds {
		rounds = defaultIterativeRounds
	}

	for round := 1; round <= rounds; round++ {
		if ctx.Err() != nil {
			return
		}

		keywords := e.proposeKeywords(ctx, detail)
		if len(keywords) == 0 {
			return
		}

		found := e.searchPassages(ctx, detail, keywords, doc1, doc2)
		search := AdditionalSearch{
			Iteration:      round,
			SearchKeywords: keywords,
			FoundSections:  found,
		}
		if len(found) > 0 {
			detail.HasAdditionalContext = true
			search.Analysis = e.reanalyze(ctx, mode, detail, doc1, doc2, found)
		}
		detail.AdditionalSearches = append(detail.AdditionalSearches, search)
		if len(found) == 0 {
			return
		}
	}
}

type keywordVerdict struct {
	Keywords []string `json:"keywords"`
}

// proposeKeywords asks the model for up to K search phrases covering what
// the current analysis leaves unexplained. Phrases are case-folded and
// must be at least four runes long.
func (e *Engine) proposeKeywords(ctx context.Context, detail *SectionDetailedComparison) []string {
	limit := e.IterativeKeywords
	if limit <= 0 {
		limit = defaultIterativeKeywords
	}

	prompt := fmt.Sprintf(`「%s」セクションの比較分析の結果は以下の通りです。

要約: %s
重要度: %s (%s)

この分析でまだ説明されていない点を調べるため、両資料の他のセクションを検索するキーワードを最大%d個提案してください。
JSON形式で {"keywords": ["キーワード1", "キーワード2"]} のフォーマットで回答してください。
各キーワードは4文字以上にしてください。追加で調べる必要がない場合は空の配列を返してください。`,
		detail.SectionName, detail.Summary, detail.Importance, detail.ImportanceReason, limit)

	res, err := e.LLM.CompleteJSON(ctx, llm.Request{
		System: "あなたは企業開示資料の分析エキスパートです。",
		User:   prompt,
	})
	if err != nil {
		telemetry.Warn("comparisons.keyword_proposal_failed", map[string]any{
			"section": detail.SectionName,
			"error":   err.Error(),
		})
		return nil
	}

	var verdict keywordVerdict
	if err := json.Unmarshal(res.Raw, &verdict); err != nil {
		return nil
	}

	var keywords []string
	for _, kw := range verdict.Keywords {
		folded := strings.ToLower(strings.TrimSpace(kw))
		if len([]rune(folded)) < minKeywordRunes {
			continue
		}
		keywords = append(keywords, folded)
		if len(keywords) >= limit {
			break
		}
	}
	return keywords
}

// searchPassages scans every other section of both documents for keyword
// hits, then keeps only the passages whose embedding is close enough to the
// section under analysis.
func (e *Engine) searchPassages(ctx context.Context, detail *SectionDetailedComparison, keywords []string, doc1, doc2 ComparisonDocument) []FoundSection {
	var candidates []FoundSection
	for _, side := range []struct {
		label string
		doc   ComparisonDocument
		skip  string
	}{
		{"doc1", doc1, detail.Doc1SectionName},
		{"doc2", doc2, detail.Doc2SectionName},
	} {
		for name, info := range side.doc.sections() {
			if name == side.skip {
				continue
			}
			text := pageRangeText(side.doc.Data.Pages, info.StartPage, info.EndPage)
			folded := strings.ToLower(text)
			for _, kw := range keywords {
				idx := strings.Index(folded, kw)
				if idx < 0 {
					continue
				}
				candidates = append(candidates, FoundSection{
					Document: side.label,
					Section:  name,
					Excerpt:  excerptAround(text, idx, iterativeExcerptRunes),
					Keyword:  kw,
				})
				break
			}
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	if e.Embedder == nil {
		return candidates
	}

	// Rank candidates against the section under analysis and drop the
	// dissimilar ones.
	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, detail.SectionName+" "+detail.Summary)
	for _, c := range candidates {
		texts = append(texts, c.Excerpt)
	}
	vectors, err := e.Embedder.Embed(ctx, texts)
	if err != nil || len(vectors) != len(texts) {
		return candidates
	}

	threshold := e.IterativeThreshold
	if threshold <= 0 {
		threshold = MappingThreshold
	}

	var kept []FoundSection
	for i, c := range candidates {
		score := embedding.Cosine(vectors[0], vectors[i+1])
		if score < threshold {
			continue
		}
		c.Score = score
		kept = append(kept, c)
	}
	return kept
}

// reanalyze reruns the section analysis with the found passages appended.
func (e *Engine) reanalyze(ctx context.Context, mode Mode, detail *SectionDetailedComparison, doc1, doc2 ComparisonDocument, found []FoundSection) map[string]any {
	var contextText strings.Builder
	for _, f := range found {
		fmt.Fprintf(&contextText, "[%s / %s] %s\n", f.Document, f.Section, f.Excerpt)
	}

	mapping := SectionMapping{
		Doc1Section:     detail.Doc1SectionName,
		Doc2Section:     detail.Doc2SectionName,
		ConfidenceScore: detail.MappingConfidence,
		MappingMethod:   detail.MappingMethod,
	}
	prompt := e.buildAnalysisPrompt(mode, mapping, doc1, doc2, contextText.String())
	verdict, err := e.completeAnalysis(ctx, mode, doc1, prompt)
	if err != nil {
		telemetry.Warn("comparisons.reanalysis_failed", map[string]any{
			"section": detail.SectionName,
			"error":   err.Error(),
		})
		return nil
	}

	return map[string]any{
		"text_changes":      verdict.TextChanges,
		"numerical_changes": verdict.NumericalChanges,
		"tone_analysis":     verdict.ToneAnalysis,
		"importance":        normalizeImportance(verdict.Importance),
		"importance_reason": verdict.ImportanceReason,
		"summary":           verdict.Summary,
	}
}

// excerptAround returns a window of the text centered on a byte offset.
func excerptAround(text string, byteIdx, window int) string {
	runes := []rune(text[:byteIdx])
	start := len(runes) - window/2
	if start < 0 {
		start = 0
	}
	all := []rune(text)
	end := start + window
	if end > len(all) {
		end = len(all)
	}
	return strings.TrimSpace(string(all[start:end]))
}
