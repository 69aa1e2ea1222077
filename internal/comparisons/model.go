// Package comparisons implements the comparison engine: mode selection,
// section mapping, numeric and text diffing, per-section LLM analysis, and
// the optional iterative re-exploration pass.
package comparisons

import "time"

// Mode is the comparison strategy selected from the document snapshots.
type Mode string

const (
	// ModeConsistencyCheck compares different document types of one company.
	ModeConsistencyCheck Mode = "consistency_check"
	// ModeDiffAnalysisCompany compares the same document type across companies.
	ModeDiffAnalysisCompany Mode = "diff_analysis_company"
	// ModeDiffAnalysisYear compares the same document type across fiscal years.
	ModeDiffAnalysisYear Mode = "diff_analysis_year"
	// ModeMultiDocument covers three or more inputs.
	ModeMultiDocument Mode = "multi_document"
)

// IterativeMode controls the re-exploration pass.
type IterativeMode string

const (
	IterativeOff      IterativeMode = "off"
	IterativeHighOnly IterativeMode = "high_only"
	IterativeAll      IterativeMode = "all"
)

// ValidIterativeMode reports whether s names a supported mode.
func ValidIterativeMode(s string) bool {
	switch IterativeMode(s) {
	case IterativeOff, IterativeHighOnly, IterativeAll:
		return true
	}
	return false
}

// Status values for a comparison record.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// DocumentInfo is the snapshot of an input document copied into the
// comparison so later document deletion cannot corrupt the artifact.
type DocumentInfo struct {
	DocumentID           string  `json:"document_id"`
	Filename             string  `json:"filename"`
	DocumentType         string  `json:"document_type,omitempty"`
	DocumentTypeLabel    string  `json:"document_type_label,omitempty"`
	CompanyName          string  `json:"company_name,omitempty"`
	FiscalYear           int     `json:"fiscal_year,omitempty"`
	ExtractionConfidence float64 `json:"extraction_confidence,omitempty"`
	// Expired is set by the retention sweeper when the underlying document
	// is gone; the snapshot itself is retained.
	Expired bool `json:"expired,omitempty"`
}

// SectionMapping pairs a section on each side.
type SectionMapping struct {
	Doc1Section     string  `json:"doc1_section"`
	Doc2Section     string  `json:"doc2_section"`
	ConfidenceScore float64 `json:"confidence_score"`
	MappingMethod   string  `json:"mapping_method"`
}

// Mapping methods.
const (
	MappingExact     = "exact"
	MappingEmbedding = "embedding"
)

// NumericalDifference is one matched financial item whose values diverge.
type NumericalDifference struct {
	Section        string  `json:"section"`
	ItemName       string  `json:"item_name"`
	Value1         float64 `json:"value1"`
	Value2         float64 `json:"value2"`
	Difference     float64 `json:"difference"`
	DifferencePct  float64 `json:"difference_pct,omitempty"`
	HasPct         bool    `json:"has_pct"`
	Unit1          string  `json:"unit1,omitempty"`
	Unit2          string  `json:"unit2,omitempty"`
	NormalizedUnit string  `json:"normalized_unit,omitempty"`
	IsSignificant  bool    `json:"is_significant"`
}

// TextDifference is the coarse line-level diff of one mapped section.
type TextDifference struct {
	Section     string      `json:"section"`
	MatchRatio  float64     `json:"match_ratio"`
	AddedText   []string    `json:"added_text,omitempty"`
	RemovedText []string    `json:"removed_text,omitempty"`
	ChangedText [][2]string `json:"changed_text,omitempty"`
}

// FoundSection is one passage recovered by an iterative search round.
type FoundSection struct {
	Document string  `json:"document"`
	Section  string  `json:"section"`
	Excerpt  string  `json:"excerpt"`
	Keyword  string  `json:"keyword"`
	Score    float64 `json:"score"`
}

// AdditionalSearch records one iterative re-exploration round.
type AdditionalSearch struct {
	Iteration      int            `json:"iteration"`
	SearchKeywords []string       `json:"search_keywords"`
	FoundSections  []FoundSection `json:"found_sections"`
	Analysis       map[string]any `json:"analysis,omitempty"`
}

// SectionDetailedComparison is the per-section analysis result.
type SectionDetailedComparison struct {
	SectionName          string             `json:"section_name"`
	Doc1PageRange        string             `json:"doc1_page_range"`
	Doc2PageRange        string             `json:"doc2_page_range"`
	Doc1SectionName      string             `json:"doc1_section_name"`
	Doc2SectionName      string             `json:"doc2_section_name"`
	MappingConfidence    float64            `json:"mapping_confidence"`
	MappingMethod        string             `json:"mapping_method"`
	TextChanges          map[string]any     `json:"text_changes"`
	NumericalChanges     []map[string]any   `json:"numerical_changes"`
	ToneAnalysis         map[string]any     `json:"tone_analysis"`
	Importance           string             `json:"importance"`
	ImportanceReason     string             `json:"importance_reason"`
	Summary              string             `json:"summary"`
	AdditionalSearches   []AdditionalSearch `json:"additional_searches,omitempty"`
	HasAdditionalContext bool               `json:"has_additional_context"`
}

// Comparison is the persisted artifact.
type Comparison struct {
	ComparisonID               string                      `json:"comparison_id"`
	Mode                       Mode                        `json:"mode"`
	DocumentIDs                []string                    `json:"document_ids"`
	Doc1Info                   DocumentInfo                `json:"doc1_info"`
	Doc2Info                   DocumentInfo                `json:"doc2_info"`
	SectionMappings            []SectionMapping            `json:"section_mappings"`
	NumericalDifferences       []NumericalDifference       `json:"numerical_differences"`
	TextDifferences            []TextDifference            `json:"text_differences"`
	SectionDetailedComparisons []SectionDetailedComparison `json:"section_detailed_comparisons"`
	Priority                   string                      `json:"priority"`
	IterativeSearchMode        IterativeMode               `json:"iterative_search_mode"`
	Status                     string                      `json:"status"`
	Error                      string                      `json:"error,omitempty"`
	CreatedAt                  time.Time                   `json:"created_at"`
	UpdatedAt                  time.Time                   `json:"updated_at"`
}

// Descriptor is the lightweight listing view.
type Descriptor struct {
	ComparisonID string    `json:"comparison_id"`
	Mode         Mode      `json:"mode"`
	Status       string    `json:"status"`
	Filenames    []string  `json:"filenames"`
	SectionCount int       `json:"section_count"`
	CreatedAt    time.Time `json:"created_at"`
}
