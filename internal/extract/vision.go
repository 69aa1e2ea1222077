package extract

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gen2brain/go-fitz"
	"golang.org/x/sync/errgroup"

	"disclosure-backend/internal/documents"
	"disclosure-backend/internal/llm"
	"disclosure-backend/internal/shared/apperr"
	"disclosure-backend/internal/shared/telemetry"
)

const (
	// DefaultVisionDPI is the render resolution for page rasterization.
	DefaultVisionDPI = 150
	// DefaultVisionBatchSize is the number of pages per batch.
	DefaultVisionBatchSize = 10
	// DefaultVisionWorkers bounds concurrent batches.
	DefaultVisionWorkers = 10

	visionMaxTokens       = 4096
	visionCarryOverChars  = 500
	visionSystemPrompt    = "あなたは日本語の企業開示資料(有価証券報告書、統合報告書、決算短信等)から正確にテキストを抽出するアシスタントです。画像から全ての文字を読み取り、元のレイアウトや表構造を可能な限り保持してください。要約や解釈はせず、本文のテキストのみを元の順序で出力してください。"
	visionUserPromptBase  = "ページ %d の内容を抽出してください。"
	visionContextTemplate = "\n\n直前のページの文脈: %s"
)

// VisionResult is the outcome of the vision fallback.
type VisionResult struct {
	Success    bool
	Pages      []documents.Page
	FullText   string
	TokensUsed int
	PageErrors map[int]string
	Error      string
}

// VisionExtractor renders pages with go-fitz and reads them back through a
// multimodal model. Batches run concurrently on a bounded pool; pages inside
// a batch run sequentially so each page's prompt can carry the tail of the
// previous page's text.
type VisionExtractor struct {
	LLM       llm.Client
	DPI       int
	BatchSize int
	Workers   int
}

// NewVisionExtractor constructs an extractor with default widths.
func NewVisionExtractor(client llm.Client) *VisionExtractor {
	return &VisionExtractor{
		LLM:       client,
		DPI:       DefaultVisionDPI,
		BatchSize: DefaultVisionBatchSize,
		Workers:   DefaultVisionWorkers,
	}
}

type visionPage struct {
	page   documents.Page
	tokens int
	err    string
}

// Extract runs vision OCR over every page. Single-page failures do not fail
// the document: the page text stays empty and the failure is recorded in
// PageErrors for ExtractionMetadata.
func (e *VisionExtractor) Extract(ctx context.Context, pdfPath string) (VisionResult, error) {
	if err := ctx.Err(); err != nil {
		return VisionResult{}, err
	}

	doc, err := fitz.New(pdfPath)
	if err != nil {
		return VisionResult{}, apperr.Extraction("open pdf for rendering %s: %v", pdfPath, err)
	}
	defer doc.Close()

	total := doc.NumPage()
	if total == 0 {
		return VisionResult{Success: false, Error: "pdf has no pages"}, nil
	}

	batchSize := e.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultVisionBatchSize
	}
	workers := e.Workers
	if workers <= 0 {
		workers = DefaultVisionWorkers
	}

	var (
		mu      sync.Mutex
		results = make(map[int]visionPage)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	// go-fitz handles are not safe for concurrent use, so rendering is
	// serialized while model calls fan out per batch.
	var renderMu sync.Mutex

	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}
		start, end := start, end
		g.Go(func() error {
			carryOver := ""
			for num := start; num < end; num++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				pageNumber := num + 1

				renderMu.Lock()
				png, renderErr := doc.ImagePNG(num, float64(e.dpi()))
				renderMu.Unlock()

				var vp visionPage
				if renderErr != nil {
					vp = visionPage{
						page: documents.Page{PageNumber: pageNumber},
						err:  fmt.Sprintf("image conversion failed: %v", renderErr),
					}
				} else {
					vp = e.extractPage(gctx, png, pageNumber, carryOver)
				}
				if vp.page.Text != "" {
					carryOver = tail(vp.page.Text, visionCarryOverChars)
				}

				mu.Lock()
				results[pageNumber] = vp
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return VisionResult{}, err
	}

	numbers := make([]int, 0, len(results))
	for num := range results {
		numbers = append(numbers, num)
	}
	sort.Ints(numbers)

	out := VisionResult{Success: true, PageErrors: make(map[int]string)}
	var fullText strings.Builder
	for _, num := range numbers {
		vp := results[num]
		out.Pages = append(out.Pages, vp.page)
		out.TokensUsed += vp.tokens
		if vp.err != "" {
			out.PageErrors[num] = vp.err
			telemetry.Warn("vision.page_failed", map[string]any{
				"page":  num,
				"error": vp.err,
			})
		}
		if vp.page.Text != "" {
			if fullText.Len() > 0 {
				fullText.WriteString("\n")
			}
			fullText.WriteString(vp.page.Text)
		}
	}
	out.FullText = fullText.String()
	return out, nil
}

func (e *VisionExtractor) extractPage(ctx context.Context, png []byte, pageNumber int, carryOver string) visionPage {
	prompt := fmt.Sprintf(visionUserPromptBase, pageNumber)
	if carryOver != "" {
		prompt += fmt.Sprintf(visionContextTemplate, carryOver)
	}

	res, err := e.LLM.CompleteText(ctx, llm.Request{
		System:    visionSystemPrompt,
		User:      prompt,
		Images:    []llm.ImagePart{{Base64PNG: base64.StdEncoding.EncodeToString(png)}},
		MaxTokens: visionMaxTokens,
	})
	if err != nil {
		return visionPage{
			page: documents.Page{PageNumber: pageNumber},
			err:  fmt.Sprintf("vision extraction failed: %v", err),
		}
	}

	text := res.Text
	return visionPage{
		page: documents.Page{
			PageNumber: pageNumber,
			Text:       text,
			CharCount:  len([]rune(text)),
			HasImages:  true,
		},
		tokens: res.Usage.TotalTokens,
	}
}

func (e *VisionExtractor) dpi() int {
	if e.DPI > 0 {
		return e.DPI
	}
	return DefaultVisionDPI
}

func tail(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
