package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"disclosure-backend/internal/documents"
	"disclosure-backend/internal/llm"
)

func TestExtractAllSkipsShortSections(t *testing.T) {
	calls := 0
	client := stubLLM{fn: func(req llm.Request) (llm.Result, error) {
		calls++
		return jsonResult(map[string]any{
			"financial_data": []map[string]any{{"item": "売上高", "value": 100, "unit": "百万円", "period": "2024年3月期"}},
		})
	}}
	extractor := NewContentExtractor(client)

	long := strings.Repeat("事業の概況に関する記載。", 20)
	sections := map[string]documents.SectionInfo{
		"事業の状況": {StartPage: 1, EndPage: 1},
		"表紙":    {StartPage: 2, EndPage: 2},
	}
	pages := []documents.Page{
		{PageNumber: 1, Text: long},
		{PageNumber: 2, Text: "短い"},
	}

	result, err := extractor.ExtractAll(context.Background(), sections, pages, nil)
	if err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}
	if calls != 1 {
		t.Fatalf("short section must be skipped, %d calls", calls)
	}
	if _, ok := result.Contents["表紙"]; ok {
		t.Fatalf("skipped section must be absent")
	}
	content := result.Contents["事業の状況"]
	if content == nil || len(content.FinancialData) != 1 {
		t.Fatalf("unexpected content %+v", content)
	}
}

func TestExtractSectionRetriesThenRecordsError(t *testing.T) {
	calls := 0
	client := stubLLM{fn: func(req llm.Request) (llm.Result, error) {
		calls++
		return llm.Result{Raw: []byte("not json")}, nil
	}}
	extractor := NewContentExtractor(client)

	content, _ := extractor.extractSection(context.Background(), "経理の状況", "本文", nil)
	if calls != 2 {
		t.Fatalf("expected one retry, got %d calls", calls)
	}
	if content.Error == "" {
		t.Fatalf("second failure must be recorded on the content")
	}
	if len(content.FinancialData) != 0 {
		t.Fatalf("failed extraction must leave empty buckets")
	}
}

func TestExtractSectionRecoversOnRetry(t *testing.T) {
	calls := 0
	client := stubLLM{fn: func(req llm.Request) (llm.Result, error) {
		calls++
		if calls == 1 {
			return llm.Result{}, errors.New("transient failure")
		}
		return jsonResult(map[string]any{
			"messages": []map[string]any{{"type": "戦略", "content": "成長を目指す", "tone": "positive"}},
		})
	}}
	extractor := NewContentExtractor(client)

	content, _ := extractor.extractSection(context.Background(), "事業の状況", "本文", nil)
	if content.Error != "" {
		t.Fatalf("recovered extraction must not carry an error: %q", content.Error)
	}
	if len(content.Messages) != 1 {
		t.Fatalf("unexpected content %+v", content)
	}
}

func TestCapSectionText(t *testing.T) {
	short := "そのまま残る本文"
	if got := capSectionText(short); got != short {
		t.Fatalf("short text must pass through")
	}

	long := strings.Repeat("あ", 6000) + strings.Repeat("ん", 6000)
	capped := capSectionText(long)
	runes := []rune(capped)
	if len(runes) >= len([]rune(long)) {
		t.Fatalf("long text must shrink")
	}
	if !strings.Contains(capped, "（中略）") {
		t.Fatalf("elision marker missing")
	}
	if !strings.HasPrefix(capped, "あ") || !strings.HasSuffix(capped, "ん") {
		t.Fatalf("both head and tail must survive")
	}
}

func TestSummarizeTables(t *testing.T) {
	if got := summarizeTables(nil); got != "テーブルなし" {
		t.Fatalf("empty tables = %q", got)
	}

	table := documents.Table{
		PageNumber:  3,
		RowCount:    7,
		ColumnCount: 2,
		Header:      []string{"項目", "金額"},
		Rows: [][]string{
			{"売上高", "1,234"}, {"営業利益", "200"}, {"経常利益", "210"},
			{"純利益", "150"}, {"総資産", "5,000"}, {"純資産", "3,000"}, {"自己資本比率", "60%"},
		},
	}
	out := summarizeTables([]documents.Table{table})
	if !strings.Contains(out, "7行 x 2列") {
		t.Fatalf("dimensions missing: %q", out)
	}
	if !strings.Contains(out, "他 2 行") {
		t.Fatalf("row preview must be capped: %q", out)
	}
	if strings.Contains(out, "自己資本比率") {
		t.Fatalf("rows past the preview must be omitted: %q", out)
	}
}
