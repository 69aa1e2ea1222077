package comparisons

import (
	"context"
	"encoding/json"
	"fmt"

	"disclosure-backend/internal/llm"
	"disclosure-backend/internal/shared/telemetry"
)

// metadataSampleChars bounds the text sent to the company/year extraction
// call.
const metadataSampleChars = 4000

// DetermineMode selects the comparison strategy. It is a pure function of
// the snapshots so the same inputs always pick the same mode.
func DetermineMode(infos []DocumentInfo) Mode {
	if len(infos) > 2 {
		return ModeMultiDocument
	}
	if len(infos) < 2 {
		return ModeDiffAnalysisCompany
	}

	doc1, doc2 := infos[0], infos[1]

	sameCompany := doc1.CompanyName != "" && doc2.CompanyName != "" && doc1.CompanyName == doc2.CompanyName
	sameType := doc1.DocumentType != "" && doc2.DocumentType != "" && doc1.DocumentType == doc2.DocumentType
	sameYear := doc1.FiscalYear != 0 && doc2.FiscalYear != 0 && doc1.FiscalYear == doc2.FiscalYear

	switch {
	case sameCompany && !sameType:
		return ModeConsistencyCheck
	case !sameCompany && sameType:
		return ModeDiffAnalysisCompany
	case sameCompany && sameType && !sameYear:
		return ModeDiffAnalysisYear
	default:
		return ModeDiffAnalysisCompany
	}
}

type metadataVerdict struct {
	CompanyName *string  `json:"company_name"`
	FiscalYear  *int     `json:"fiscal_year"`
	Confidence  *float64 `json:"confidence"`
}

// ExtractDocumentMetadata pulls the company name and fiscal year out of the
// head of the structured text with one LLM call. Failures degrade to empty
// values with zero confidence; the mode table treats those as "differs".
func ExtractDocumentMetadata(ctx context.Context, client llm.Client, documentID, fullText string) (company string, fiscalYear int, confidence float64) {
	if client == nil || fullText == "" {
		return "", 0, 0
	}

	sample := fullText
	if runes := []rune(sample); len(runes) > metadataSampleChars {
		sample = string(runes[:metadataSampleChars])
	}

	prompt := fmt.Sprintf(`以下は日本の企業開示資料の冒頭部分です。

【タスク】
1. 会社名を抽出してください（正式名称）
2. 対象年度（西暦）を抽出してください

【テキスト】
%s

【出力形式】
JSON形式で {"company_name": "株式会社〇〇", "fiscal_year": 2024, "confidence": 0.95} のフォーマットで回答してください。
会社名または年度が見つからない場合は、該当フィールドをnullにしてください。
confidenceは抽出の信頼度を0.0～1.0で示してください。`, sample)

	res, err := client.CompleteJSON(ctx, llm.Request{
		System: "あなたは企業開示資料の分析エキスパートです。",
		User:   prompt,
	})
	if err != nil {
		telemetry.Warn("comparisons.metadata_extract_failed", map[string]any{
			"document_id": documentID,
			"error":       err.Error(),
		})
		return "", 0, 0
	}

	var verdict metadataVerdict
	if err := json.Unmarshal(res.Raw, &verdict); err != nil {
		telemetry.Warn("comparisons.metadata_parse_failed", map[string]any{
			"document_id": documentID,
			"error":       err.Error(),
		})
		return "", 0, 0
	}

	if verdict.CompanyName != nil {
		company = *verdict.CompanyName
	}
	if verdict.FiscalYear != nil {
		fiscalYear = *verdict.FiscalYear
	}
	confidence = 0.5
	if verdict.Confidence != nil {
		confidence = *verdict.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
	}
	return company, fiscalYear, confidence
}
