package documents

import (
	"strings"
	"time"
)

// Status is the per-stage processing status of a document.
type Status string

const (
	StatusQueued                   Status = "queued"
	StatusPendingClassification    Status = "pending_classification"
	StatusProcessing               Status = "processing"
	StatusExtractingText           Status = "extracting_text"
	StatusExtractingVision         Status = "extracting_vision"
	StatusExtractingTables         Status = "extracting_tables"
	StatusDetectingSections        Status = "detecting_sections"
	StatusExtractingSectionContent Status = "extracting_section_content"
	StatusStructured               Status = "structured"
	StatusFailed                   Status = "failed"
)

// TypeUnknown is the sentinel for unclassified documents.
const TypeUnknown = "unknown"

// Extraction methods recorded on a structured document.
const (
	MethodText   = "text"
	MethodVision = "vision"
)

// Document is the durable record for one uploaded disclosure PDF.
type Document struct {
	ID                string    `json:"document_id"`
	Filename          string    `json:"filename"`
	StoredKey         string    `json:"stored_key"`
	SizeBytes         int64     `json:"size_bytes"`
	UploadedAt        time.Time `json:"uploaded_at"`
	RetentionDeadline time.Time `json:"retention_deadline"`

	DetectedType        string   `json:"detected_type,omitempty"`
	DetectedTypeLabel   string   `json:"detected_type_label,omitempty"`
	DetectionConfidence float64  `json:"detection_confidence,omitempty"`
	MatchedKeywords     []string `json:"matched_keywords,omitempty"`
	DetectionReason     string   `json:"detection_reason,omitempty"`
	ManualType          string   `json:"manual_type,omitempty"`
	ManualTypeLabel     string   `json:"manual_type_label,omitempty"`

	CompanyName string `json:"company_name,omitempty"`
	FiscalYear  string `json:"fiscal_year,omitempty"`

	Status Status `json:"processing_status"`
	Step   string `json:"processing_step,omitempty"`
	Error  string `json:"error,omitempty"`

	StructuredData     *StructuredData     `json:"structured_data,omitempty"`
	ExtractionMethod   string              `json:"extraction_method,omitempty"`
	ExtractionMetadata *ExtractionMetadata `json:"extraction_metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveType returns the document type after applying the manual
// override. Unclassified documents report TypeUnknown.
func (d Document) EffectiveType() string {
	if t := strings.TrimSpace(d.ManualType); t != "" {
		return t
	}
	if t := strings.TrimSpace(d.DetectedType); t != "" {
		return t
	}
	return TypeUnknown
}

// Expired reports whether the retention deadline has passed.
func (d Document) Expired(now time.Time) bool {
	return !d.RetentionDeadline.IsZero() && now.After(d.RetentionDeadline)
}

// StructuredData is the navigable representation of a structured PDF.
type StructuredData struct {
	Pages    []Page                 `json:"pages"`
	FullText string                 `json:"full_text"`
	Tables   []Table                `json:"tables"`
	Sections map[string]SectionInfo `json:"sections,omitempty"`
}

// Page is one page of extracted text.
type Page struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
	CharCount  int    `json:"char_count"`
	HasImages  bool   `json:"has_images"`
}

// Table is a structured table pulled from one page.
type Table struct {
	PageNumber     int                 `json:"page_number"`
	TableIndex     int                 `json:"table_index"`
	Header         []string            `json:"header"`
	Rows           [][]string          `json:"rows"`
	StructuredData []map[string]string `json:"structured_data"`
	RowCount       int                 `json:"row_count"`
	ColumnCount    int                 `json:"column_count"`
	IsNumerical    bool                `json:"is_numerical"`
}

// SectionInfo locates one detected section within the page sequence.
type SectionInfo struct {
	StartPage  int               `json:"start_page"`
	EndPage    int               `json:"end_page"`
	CharCount  int               `json:"char_count"`
	Confidence float64           `json:"confidence"`
	Content    *ExtractedContent `json:"extracted_content,omitempty"`
}

// ExtractedContent holds the four typed buckets pulled verbatim from a
// section. No bucket carries computed metrics.
type ExtractedContent struct {
	FinancialData   []FinancialItem  `json:"financial_data"`
	AccountingNotes []AccountingNote `json:"accounting_notes"`
	FactualInfo     []FactualItem    `json:"factual_info"`
	Messages        []Message        `json:"messages"`
	Error           string           `json:"error,omitempty"`
}

// FinancialItem is one reported figure. Value may be a scalar or a nested
// period-to-scalar mapping, exactly as written in the source text.
type FinancialItem struct {
	Item    string `json:"item"`
	Value   any    `json:"value"`
	Unit    string `json:"unit,omitempty"`
	Period  string `json:"period,omitempty"`
	Context string `json:"context,omitempty"`
}

// AccountingNote is one accounting-policy or note disclosure.
type AccountingNote struct {
	Topic   string `json:"topic"`
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
}

// FactualItem is one non-financial fact (employee counts, locations, dates).
type FactualItem struct {
	Category string `json:"category"`
	Item     string `json:"item"`
	Value    any    `json:"value"`
}

// Message is one qualitative management statement.
type Message struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Tone    string `json:"tone,omitempty"`
}

// StageRecord captures the outcome of one pipeline stage.
type StageRecord struct {
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	TokensUsed  int       `json:"tokens_used,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// ExtractionMetadata records per-stage outcomes. A stage that never ran has
// a nil record.
type ExtractionMetadata struct {
	TextExtraction   *StageRecord `json:"text_extraction,omitempty"`
	VisionExtraction *StageRecord `json:"vision_extraction,omitempty"`
	TableExtraction  *StageRecord `json:"table_extraction,omitempty"`
	SectionDetection *StageRecord `json:"section_detection,omitempty"`
	SectionContent   *StageRecord `json:"section_content,omitempty"`
}
