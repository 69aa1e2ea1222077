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
)

const (
	// DefaultContentWorkers bounds concurrent per-section extraction calls.
	DefaultContentWorkers = 3

	// Sections shorter than this carry too little signal to extract from.
	contentMinSectionChars = 100
	// Longer section texts keep the head and tail around an elision marker.
	contentMaxPromptChars = 10000
	contentElisionMarker  = "\n\n...（中略）...\n\n"

	contentMaxTables        = 10
	contentTablePreviewRows = 5
)

// ContentResult is the outcome of section content extraction.
type ContentResult struct {
	// Contents is keyed by section name. Skipped sections are absent.
	Contents   map[string]*documents.ExtractedContent
	TokensUsed int
}

// ContentExtractor pulls the four typed buckets out of each detected
// section: financial figures, accounting notes, factual info, and
// management messages. Values are captured verbatim, never computed.
type ContentExtractor struct {
	LLM     llm.Client
	Workers int
}

// NewContentExtractor constructs an extractor with the default pool width.
func NewContentExtractor(client llm.Client) *ContentExtractor {
	return &ContentExtractor{LLM: client, Workers: DefaultContentWorkers}
}

// ExtractAll runs extraction over every section in parallel. Sections with
// fewer than 100 characters of text are skipped. A malformed model response
// is retried once; a second failure yields empty buckets with the error
// recorded on the ExtractedContent itself.
func (e *ContentExtractor) ExtractAll(ctx context.Context, sections map[string]documents.SectionInfo, pages []documents.Page, tables []documents.Table) (ContentResult, error) {
	out := ContentResult{Contents: make(map[string]*documents.ExtractedContent)}
	if len(sections) == 0 || e.LLM == nil {
		return out, nil
	}

	workers := e.Workers
	if workers <= 0 {
		workers = DefaultContentWorkers
	}

	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, name := range names {
		name := name
		info := sections[name]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text := sectionText(info, pages)
			if len([]rune(strings.TrimSpace(text))) < contentMinSectionChars {
				return nil
			}
			content, tokens := e.extractSection(gctx, name, text, sectionTables(info, tables))
			if gctx.Err() != nil {
				return gctx.Err()
			}
			mu.Lock()
			out.Contents[name] = content
			out.TokensUsed += tokens
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ContentResult{}, err
	}
	return out, nil
}

// extractSection issues one extraction call with a single retry on a
// malformed response. It never returns an error: the failure is annotated
// on the content record so the pipeline can continue.
func (e *ContentExtractor) extractSection(ctx context.Context, name, text string, tables []documents.Table) (*documents.ExtractedContent, int) {
	prompt := buildContentPrompt(name, text, tables)

	tokens := 0
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		res, err := e.LLM.CompleteJSON(ctx, llm.Request{
			System: "あなたは企業開示資料から情報を抽出するエキスパートです。要約せず、原文の情報を可能な限り保持してください。",
			User:   prompt,
		})
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		tokens += res.Usage.TotalTokens

		var content documents.ExtractedContent
		if err := json.Unmarshal(res.Raw, &content); err != nil {
			lastErr = fmt.Errorf("parse extracted content: %w", err)
			continue
		}
		return &content, tokens
	}

	telemetry.Warn("content.section_failed", map[string]any{
		"section": name,
		"error":   lastErr.Error(),
	})
	return &documents.ExtractedContent{Error: lastErr.Error()}, tokens
}

// sectionText concatenates the section's page texts in page order.
func sectionText(info documents.SectionInfo, pages []documents.Page) string {
	var b strings.Builder
	for _, page := range pages {
		if page.PageNumber < info.StartPage || page.PageNumber > info.EndPage {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(page.Text)
	}
	return b.String()
}

// sectionTables returns the tables whose page falls inside the section.
func sectionTables(info documents.SectionInfo, tables []documents.Table) []documents.Table {
	var out []documents.Table
	for _, table := range tables {
		if table.PageNumber >= info.StartPage && table.PageNumber <= info.EndPage {
			out = append(out, table)
		}
	}
	return out
}

// capSectionText keeps the head and tail of over-long section text with an
// elision marker in between so both the opening and the closing survive.
func capSectionText(text string) string {
	runes := []rune(text)
	if len(runes) <= contentMaxPromptChars {
		return text
	}
	half := contentMaxPromptChars / 2
	return string(runes[:half]) + contentElisionMarker + string(runes[len(runes)-half:])
}

func buildContentPrompt(name, text string, tables []documents.Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "以下は企業開示資料の「%s」セクションです。このセクションから構造化情報を抽出してください。\n\n", name)
	b.WriteString("【重要な指示】\n")
	b.WriteString("- 要約せず、原文の表現をできるだけそのまま保持してください\n")
	b.WriteString("- 数値は必ず単位と期間を含めて抽出してください\n")
	b.WriteString("- 比率や成長率など、原文にない値を計算してはいけません\n\n")

	b.WriteString("【セクションテキスト】\n")
	b.WriteString(capSectionText(text))
	b.WriteString("\n\n【テーブルデータ】\n")
	b.WriteString(summarizeTables(tables))

	b.WriteString("\n\n【抽出タスク】\n以下の4種類の情報を抽出してください。\n\n")
	b.WriteString("1. financial_data: 売上高、利益、資産などの財務数値。item, value, unit, period, context を含める。\n")
	b.WriteString("2. accounting_notes: 会計方針、基準変更、注記。topic, content, type を含める。\n")
	b.WriteString("3. factual_info: 会社基本情報、組織、事業内容などの事実。category, item, value を含める。\n")
	b.WriteString("4. messages: 経営方針、戦略、リスク認識などの主張。type, content, tone (positive/neutral/negative) を含める。\n\n")

	b.WriteString("【出力形式】\nJSON形式で回答してください。\n")
	b.WriteString(`{"financial_data": [{"item": "売上高", "value": 1234567, "unit": "百万円", "period": "2024年3月期", "context": "前年同期比10%増加"}], "accounting_notes": [{"topic": "収益認識", "content": "原文の内容をそのまま", "type": "会計方針"}], "factual_info": [{"category": "会社基本情報", "item": "本社所在地", "value": "東京都..."}], "messages": [{"type": "戦略", "content": "原文の内容をそのまま", "tone": "positive"}]}`)
	b.WriteString("\n\n【注意事項】\n")
	b.WriteString("- 該当する情報がない場合は空の配列 [] を返してください\n")
	b.WriteString("- 長い文章でも省略せず、重要な情報は全て含めてください\n")
	return b.String()
}

// summarizeTables renders a compact preview of the section's tables for the
// extraction prompt.
func summarizeTables(tables []documents.Table) string {
	if len(tables) == 0 {
		return "テーブルなし"
	}

	var b strings.Builder
	shown := tables
	if len(shown) > contentMaxTables {
		shown = shown[:contentMaxTables]
	}
	for i, table := range shown {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "テーブル%d (ページ%d): %d行 x %d列\n", i+1, table.PageNumber, table.RowCount, table.ColumnCount)
		if len(table.Header) > 0 {
			b.WriteString(strings.Join(table.Header, " | "))
			b.WriteString("\n")
		}
		preview := table.Rows
		if len(preview) > contentTablePreviewRows {
			preview = preview[:contentTablePreviewRows]
		}
		for _, row := range preview {
			b.WriteString(strings.Join(row, " | "))
			b.WriteString("\n")
		}
		if table.RowCount > contentTablePreviewRows {
			fmt.Fprintf(&b, "  ... 他 %d 行", table.RowCount-contentTablePreviewRows)
		}
	}
	if len(tables) > contentMaxTables {
		fmt.Fprintf(&b, "\n\n... 他 %d 個のテーブル", len(tables)-contentMaxTables)
	}
	return b.String()
}
