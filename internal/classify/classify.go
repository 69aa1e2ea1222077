// Package classify is the thin front-door that predicts a disclosure
// document's type from template keywords plus a single LLM call.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"disclosure-backend/internal/llm"
	"disclosure-backend/internal/shared/telemetry"
	"disclosure-backend/internal/templates"
)

// Result is the predicted document type for an uploaded document.
type Result struct {
	DocumentType    string
	DisplayName     string
	Confidence      float64
	MatchedKeywords []string
	Reason          string
}

type candidate struct {
	ID          string
	DisplayName string
	Description string
	Keywords    []string
}

// Classifier predicts document types. When no LLM client is configured it
// falls back to pure keyword matching.
type Classifier struct {
	registry       *templates.Registry
	llm            llm.Client
	useLLM         bool
	maxPromptChars int

	keywordMap map[string][]string
	displayMap map[string]string
	candidates []candidate
}

// New builds a classifier over the template registry.
func New(reg *templates.Registry, client llm.Client, useLLM bool, maxPromptChars int) *Classifier {
	c := &Classifier{
		registry:       reg,
		llm:            client,
		useLLM:         useLLM && client != nil,
		maxPromptChars: maxPromptChars,
		keywordMap:     make(map[string][]string),
		displayMap:     make(map[string]string),
	}

	for _, docType := range reg.ListTypes() {
		tpl := reg.Load(docType)
		keywords := make([]string, 0, len(tpl.KeywordsForDetection))
		for _, kw := range tpl.KeywordsForDetection {
			if kw != "" {
				keywords = append(keywords, strings.ToLower(kw))
			}
		}
		c.keywordMap[docType] = keywords
		c.displayMap[docType] = reg.DisplayName(docType)

		limit := len(keywords)
		if limit > 8 {
			limit = 8
		}
		c.candidates = append(c.candidates, candidate{
			ID:          docType,
			DisplayName: reg.DisplayName(docType),
			Description: tpl.Description,
			Keywords:    keywords[:limit],
		})
	}

	c.displayMap["unknown"] = "未判定"
	c.candidates = append(c.candidates, candidate{
		ID:          "unknown",
		DisplayName: "未判定",
		Description: "どのテンプレートにも明確に該当しない場合に選択してください。",
	})
	return c
}

// DisplayName returns the label for a document type.
func (c *Classifier) DisplayName(docType string) string {
	if name, ok := c.displayMap[docType]; ok {
		return name
	}
	return docType
}

// IsSupportedType reports whether docType names a loaded template.
func (c *Classifier) IsSupportedType(docType string) bool {
	_, ok := c.keywordMap[docType]
	return ok
}

// Classify predicts the document type from the filename and a text sample.
// The LLM verdict wins when enabled; keyword matching is the fallback.
func (c *Classifier) Classify(ctx context.Context, filename, textSample string) Result {
	haystack := strings.ToLower(filename + " " + textSample)

	if c.useLLM {
		if res, err := c.classifyWithLLM(ctx, filename, textSample, haystack); err == nil {
			return res
		} else {
			telemetry.Warn("classify.llm_failed", map[string]any{
				"filename": filename,
				"error":    err.Error(),
			})
		}
	}
	return c.classifyWithKeywords(haystack)
}

func (c *Classifier) classifyWithKeywords(haystack string) Result {
	bestType := ""
	var bestMatches []string

	types := make([]string, 0, len(c.keywordMap))
	for docType := range c.keywordMap {
		types = append(types, docType)
	}
	sort.Strings(types)

	for _, docType := range types {
		matches := c.collectKeywords(docType, haystack)
		if len(matches) > len(bestMatches) {
			bestType = docType
			bestMatches = matches
		}
	}

	if bestType == "" || len(bestMatches) == 0 {
		return Result{DocumentType: "unknown", DisplayName: c.DisplayName("unknown")}
	}

	total := len(c.keywordMap[bestType])
	if total == 0 {
		total = 1
	}
	confidence := float64(len(bestMatches)) / float64(total)
	if confidence > 1.0 {
		confidence = 1.0
	}
	return Result{
		DocumentType:    bestType,
		DisplayName:     c.DisplayName(bestType),
		Confidence:      confidence,
		MatchedKeywords: bestMatches,
	}
}

type llmVerdict struct {
	DocumentType string  `json:"document_type"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
}

func (c *Classifier) classifyWithLLM(ctx context.Context, filename, textSample, haystack string) (Result, error) {
	excerpt := textSample
	if c.maxPromptChars > 0 {
		excerpt = truncate(excerpt, c.maxPromptChars)
	}

	res, err := c.llm.CompleteJSON(ctx, llm.Request{
		System: "You are a meticulous assistant that classifies Japanese corporate disclosure documents. Respond ONLY with a JSON object {\"document_type\", \"confidence\", \"reason\"} where document_type is one of the listed candidate ids.",
		User:   c.renderPrompt(filename, excerpt),
	})
	if err != nil {
		return Result{}, err
	}

	var verdict llmVerdict
	if err := json.Unmarshal(res.Raw, &verdict); err != nil {
		return Result{}, fmt.Errorf("parse classification verdict: %w", err)
	}
	if _, ok := c.displayMap[verdict.DocumentType]; !ok {
		return Result{}, fmt.Errorf("unsupported document type %q", verdict.DocumentType)
	}

	confidence := verdict.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	var matched []string
	if verdict.DocumentType != "unknown" {
		matched = c.collectKeywords(verdict.DocumentType, haystack)
	}

	return Result{
		DocumentType:    verdict.DocumentType,
		DisplayName:     c.DisplayName(verdict.DocumentType),
		Confidence:      confidence,
		MatchedKeywords: matched,
		Reason:          verdict.Reason,
	}, nil
}

func (c *Classifier) collectKeywords(docType, haystack string) []string {
	var out []string
	for _, kw := range c.keywordMap[docType] {
		if kw != "" && strings.Contains(haystack, kw) {
			out = append(out, kw)
		}
	}
	return out
}

func (c *Classifier) renderPrompt(filename, excerpt string) string {
	var b strings.Builder
	b.WriteString("次のPDF書類の種別を判定してください。候補は必ず以下のIDのいずれかです。\n")
	for _, opt := range c.candidates {
		fmt.Fprintf(&b, "- id: %s\n  display_name: %s\n  description: %s\n  keywords: %s\n",
			opt.ID, opt.DisplayName, opt.Description, keywordsOrNone(opt.Keywords))
	}
	b.WriteString("\nファイル名: ")
	b.WriteString(filename)
	b.WriteString("\n本文抜粋:\n")
	if strings.TrimSpace(excerpt) == "" {
		b.WriteString("(本文が抽出できませんでした)")
	} else {
		b.WriteString(excerpt)
	}
	return b.String()
}

func keywordsOrNone(keywords []string) string {
	if len(keywords) == 0 {
		return "なし"
	}
	return strings.Join(keywords, ", ")
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
