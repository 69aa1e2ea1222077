package comparisons

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"disclosure-backend/internal/documents"
	"disclosure-backend/internal/llm"
)

// stubLLM routes every CompleteJSON call through fn.
type stubLLM struct {
	fn func(req llm.Request) (llm.Result, error)
}

func (s stubLLM) CompleteJSON(ctx context.Context, req llm.Request) (llm.Result, error) {
	return s.fn(req)
}

func (s stubLLM) CompleteText(ctx context.Context, req llm.Request) (llm.Result, error) {
	return llm.Result{}, errors.New("unexpected CompleteText call")
}

func jsonResult(v any) (llm.Result, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return llm.Result{}, err
	}
	return llm.Result{Raw: raw}, nil
}

func testDocument(company string, sections map[string]documents.SectionInfo, pages []documents.Page) ComparisonDocument {
	return ComparisonDocument{
		Info: DocumentInfo{
			DocumentID:   "doc-" + company,
			Filename:     company + ".pdf",
			DocumentType: "securities_report",
			CompanyName:  company,
		},
		Data: documents.StructuredData{Pages: pages, Sections: sections},
	}
}

func singleSectionDocs() (ComparisonDocument, ComparisonDocument) {
	sections := map[string]documents.SectionInfo{
		"事業の状況": {StartPage: 1, EndPage: 1, Content: &documents.ExtractedContent{
			Messages: []documents.Message{{Type: "strategy", Content: "成長を目指す", Tone: "positive"}},
		}},
	}
	pages := []documents.Page{{PageNumber: 1, Text: "事業の状況に関する記載"}}
	return testDocument("A社", sections, pages), testDocument("B社", sections, pages)
}

func TestEngineCompareProducesDetail(t *testing.T) {
	client := stubLLM{fn: func(req llm.Request) (llm.Result, error) {
		return jsonResult(map[string]any{
			"text_changes":      map[string]any{"added": []string{"新しい開示"}},
			"numerical_changes": []map[string]any{},
			"tone_analysis":     map[string]any{"tone1": "positive", "tone2": "neutral"},
			"importance":        "high",
			"importance_reason": "大きな変更",
			"summary":           "要約",
		})
	}}
	engine := NewEngine(client, nil, nil)

	doc1, doc2 := singleSectionDocs()
	cmp := &Comparison{Mode: ModeDiffAnalysisYear, IterativeSearchMode: IterativeOff}
	if err := engine.Compare(context.Background(), cmp, doc1, doc2, nil); err != nil {
		t.Fatalf("Compare: %v", err)
	}

	if len(cmp.SectionMappings) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(cmp.SectionMappings))
	}
	if len(cmp.SectionDetailedComparisons) != 1 {
		t.Fatalf("expected 1 detail, got %d", len(cmp.SectionDetailedComparisons))
	}
	detail := cmp.SectionDetailedComparisons[0]
	if detail.Importance != "high" {
		t.Fatalf("importance = %q, want high", detail.Importance)
	}
	if cmp.Priority != "high" {
		t.Fatalf("priority = %q, want high", cmp.Priority)
	}
}

func TestEngineAnalysisFailurePlaceholder(t *testing.T) {
	client := stubLLM{fn: func(req llm.Request) (llm.Result, error) {
		return llm.Result{}, errors.New("provider unavailable")
	}}
	engine := NewEngine(client, nil, nil)

	doc1, doc2 := singleSectionDocs()
	cmp := &Comparison{Mode: ModeDiffAnalysisYear, IterativeSearchMode: IterativeOff}
	if err := engine.Compare(context.Background(), cmp, doc1, doc2, nil); err != nil {
		t.Fatalf("Compare must survive analysis failures: %v", err)
	}

	detail := cmp.SectionDetailedComparisons[0]
	if detail.Importance != "low" {
		t.Fatalf("failed analysis importance = %q, want low", detail.Importance)
	}
	if !strings.HasPrefix(detail.Summary, "分析に失敗しました") {
		t.Fatalf("unexpected summary %q", detail.Summary)
	}
}

func TestPromoteImportanceConsistency(t *testing.T) {
	detail := SectionDetailedComparison{
		Importance:       "medium",
		ImportanceReason: "通常の差異",
		TextChanges: map[string]any{
			"contradictions": []any{"資料間で数値が矛盾", "方針の記載が矛盾"},
		},
	}
	promoteImportance(ModeConsistencyCheck, &detail)
	if detail.Importance != "high" {
		t.Fatalf("contradictions must promote to high, got %q", detail.Importance)
	}
	if !strings.HasPrefix(detail.ImportanceReason, "矛盾2件: ") {
		t.Fatalf("unexpected reason %q", detail.ImportanceReason)
	}
}

func TestPromoteImportanceYearModified(t *testing.T) {
	detail := SectionDetailedComparison{
		Importance:       "low",
		ImportanceReason: "軽微",
		TextChanges: map[string]any{
			"modified": []any{map[string]any{"before": "前", "after": "後"}},
		},
	}
	promoteImportance(ModeDiffAnalysisYear, &detail)
	if detail.Importance != "high" {
		t.Fatalf("modified entries must promote to high, got %q", detail.Importance)
	}
	if !strings.HasPrefix(detail.ImportanceReason, "重要な変更1件: ") {
		t.Fatalf("unexpected reason %q", detail.ImportanceReason)
	}
}

func TestPromoteImportanceLeavesCompanyMode(t *testing.T) {
	detail := SectionDetailedComparison{
		Importance:  "medium",
		TextChanges: map[string]any{"only_in_company1": []any{"独自の開示"}},
	}
	promoteImportance(ModeDiffAnalysisCompany, &detail)
	if detail.Importance != "medium" {
		t.Fatalf("company mode must not promote, got %q", detail.Importance)
	}
}

func TestShouldIterate(t *testing.T) {
	cases := []struct {
		mode       IterativeMode
		importance string
		want       bool
	}{
		{IterativeOff, "high", false},
		{IterativeHighOnly, "high", true},
		{IterativeHighOnly, "medium", false},
		{IterativeAll, "low", true},
	}
	for _, tc := range cases {
		if got := shouldIterate(tc.mode, tc.importance); got != tc.want {
			t.Fatalf("shouldIterate(%s, %s) = %v, want %v", tc.mode, tc.importance, got, tc.want)
		}
	}
}

func TestIterativeRoundRecordedWithoutFindings(t *testing.T) {
	client := stubLLM{fn: func(req llm.Request) (llm.Result, error) {
		if strings.Contains(req.User, "キーワード") {
			return jsonResult(map[string]any{"keywords": []string{"サプライチェーン"}})
		}
		return jsonResult(map[string]any{
			"text_changes":      map[string]any{},
			"importance":        "high",
			"importance_reason": "r",
			"summary":           "s",
		})
	}}
	engine := NewEngine(client, nil, nil)

	doc1, doc2 := singleSectionDocs()
	detail := SectionDetailedComparison{
		SectionName:     "事業の状況",
		Doc1SectionName: "事業の状況",
		Doc2SectionName: "事業の状況",
		Importance:      "high",
	}
	engine.iterate(context.Background(), ModeDiffAnalysisYear, &detail, doc1, doc2)

	// The keyword never appears in either document, so one round is recorded
	// with no findings and the loop stops.
	if len(detail.AdditionalSearches) != 1 {
		t.Fatalf("expected 1 recorded round, got %d", len(detail.AdditionalSearches))
	}
	if detail.HasAdditionalContext {
		t.Fatalf("no findings must not set HasAdditionalContext")
	}
	if len(detail.AdditionalSearches[0].FoundSections) != 0 {
		t.Fatalf("unexpected findings %+v", detail.AdditionalSearches[0].FoundSections)
	}
}

func TestIterativeShortKeywordsFiltered(t *testing.T) {
	client := stubLLM{fn: func(req llm.Request) (llm.Result, error) {
		return jsonResult(map[string]any{"keywords": []string{"為替", "リスク管理体制"}})
	}}
	engine := NewEngine(client, nil, nil)

	detail := SectionDetailedComparison{SectionName: "事業の状況"}
	keywords := engine.proposeKeywords(context.Background(), &detail)
	if len(keywords) != 1 || keywords[0] != "リスク管理体制" {
		t.Fatalf("short keywords must be dropped, got %v", keywords)
	}
}
