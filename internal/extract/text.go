// Package extract implements the structuring pipeline stages: direct text
// extraction, the vision fallback, table recovery, template-guided section
// detection, and per-section content extraction.
package extract

import (
	"context"
	"strings"

	"github.com/ledongthuc/pdf"

	"disclosure-backend/internal/documents"
	"disclosure-backend/internal/shared/apperr"
)

// DefaultTextThreshold is the minimum average characters per page for
// direct extraction to count as sufficient.
const DefaultTextThreshold = 50

// TextResult is the outcome of direct text extraction.
type TextResult struct {
	Success  bool
	Pages    []documents.Page
	FullText string
	Error    string
}

// TextExtractor pulls text straight out of the PDF content streams.
// Library: github.com/ledongthuc/pdf.
type TextExtractor struct {
	Threshold int
}

// NewTextExtractor constructs an extractor with the default quality gate.
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{Threshold: DefaultTextThreshold}
}

// Extract reads every page. The only returned error is an irrecoverable
// open or parse failure; a valid PDF with too little text yields
// Success=false with no error so the caller can fall back to vision.
func (e *TextExtractor) Extract(ctx context.Context, pdfPath string) (TextResult, error) {
	return e.ExtractPageRange(ctx, pdfPath, 1, 0)
}

// ExtractPageRange reads pages startPage..endPage (1-indexed, inclusive).
// endPage <= 0 means through the last page.
func (e *TextExtractor) ExtractPageRange(ctx context.Context, pdfPath string, startPage, endPage int) (TextResult, error) {
	if err := ctx.Err(); err != nil {
		return TextResult{}, err
	}

	f, reader, err := pdf.Open(pdfPath)
	if err != nil {
		return TextResult{}, apperr.Extraction("open pdf %s: %v", pdfPath, err)
	}
	defer f.Close()

	total := reader.NumPage()
	if endPage <= 0 || endPage > total {
		endPage = total
	}
	if startPage < 1 {
		startPage = 1
	}
	if startPage > endPage {
		return TextResult{Success: false}, nil
	}

	var (
		pages    []documents.Page
		fullText strings.Builder
	)
	for num := startPage; num <= endPage; num++ {
		if err := ctx.Err(); err != nil {
			return TextResult{}, err
		}

		page := reader.Page(num)
		text := ""
		if !page.V.IsNull() {
			// Individual page parse failures degrade to an empty page
			// rather than failing the document.
			if extracted, err := page.GetPlainText(nil); err == nil {
				text = extracted
			}
		}

		pages = append(pages, documents.Page{
			PageNumber: num,
			Text:       text,
			CharCount:  len([]rune(text)),
			HasImages:  pageHasImages(page),
		})
		if fullText.Len() > 0 {
			fullText.WriteString("\n")
		}
		fullText.WriteString(text)
	}

	full := fullText.String()

	return TextResult{
		Success:  e.sufficientText(len([]rune(full)), len(pages)),
		Pages:    pages,
		FullText: full,
	}, nil
}

// sufficientText is the quality gate: the average characters per page must
// strictly exceed the threshold. An average exactly at the threshold still
// routes to vision.
func (e *TextExtractor) sufficientText(totalChars, pageCount int) bool {
	if pageCount == 0 {
		return false
	}
	avg := float64(totalChars) / float64(pageCount)
	return avg > float64(e.threshold())
}

func (e *TextExtractor) threshold() int {
	if e.Threshold > 0 {
		return e.Threshold
	}
	return DefaultTextThreshold
}

// pageHasImages inspects the page's XObject resources for image subtypes.
func pageHasImages(page pdf.Page) bool {
	if page.V.IsNull() {
		return false
	}
	resources := page.V.Key("Resources")
	if resources.IsNull() {
		return false
	}
	xobjects := resources.Key("XObject")
	if xobjects.IsNull() {
		return false
	}
	for _, key := range xobjects.Keys() {
		obj := xobjects.Key(key)
		if obj.Key("Subtype").Name() == "Image" {
			return true
		}
	}
	return false
}
