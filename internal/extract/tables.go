package extract

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"disclosure-backend/internal/documents"
)

const (
	// Fragments whose baselines differ by less than this are one row.
	tableRowTolerance = 2.0
	// A horizontal gap wider than this starts a new cell.
	tableCellGap = 12.0
	// Minimum share of digit-bearing data cells for the numerical flag.
	tableNumericRatio = 0.3
)

// TableResult is the outcome of table extraction.
type TableResult struct {
	Success    bool
	Tables     []documents.Table
	PageCount  int
	TableCount int
	Error      string
}

// TableExtractor recovers tables from positioned text fragments. Rows are
// clustered by baseline, cells by horizontal gaps. Failure is non-fatal: the
// pipeline proceeds with an empty table list.
type TableExtractor struct{}

// NewTableExtractor constructs a TableExtractor.
func NewTableExtractor() *TableExtractor {
	return &TableExtractor{}
}

// Extract scans every page for tables.
func (e *TableExtractor) Extract(ctx context.Context, pdfPath string) TableResult {
	if err := ctx.Err(); err != nil {
		return TableResult{Success: false, Error: err.Error()}
	}

	f, reader, err := pdf.Open(pdfPath)
	if err != nil {
		return TableResult{Success: false, Error: fmt.Sprintf("table extraction failed: %v", err)}
	}
	defer f.Close()

	out := TableResult{Success: true, PageCount: reader.NumPage()}
	for num := 1; num <= reader.NumPage(); num++ {
		if err := ctx.Err(); err != nil {
			return TableResult{Success: false, Error: err.Error()}
		}
		page := reader.Page(num)
		if page.V.IsNull() {
			continue
		}
		for idx, grid := range pageGrids(page) {
			table := buildTable(grid, num, idx)
			if table.RowCount == 0 && len(table.Header) == 0 {
				continue
			}
			out.Tables = append(out.Tables, table)
			out.TableCount++
		}
	}
	return out
}

// pageGrids clusters the page's text fragments into candidate tables: runs
// of consecutive rows that each split into two or more cells.
func pageGrids(page pdf.Page) [][][]string {
	texts := page.Content().Text
	if len(texts) == 0 {
		return nil
	}

	// Rows top-to-bottom (PDF Y grows upward), cells left-to-right.
	sorted := make([]pdf.Text, len(texts))
	copy(sorted, texts)
	sort.Slice(sorted, func(i, j int) bool {
		if math.Abs(sorted[i].Y-sorted[j].Y) > tableRowTolerance {
			return sorted[i].Y > sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	var rows [][]string
	var line []pdf.Text
	flushLine := func() {
		if len(line) > 0 {
			rows = append(rows, lineCells(line))
			line = nil
		}
	}
	for _, t := range sorted {
		if len(line) > 0 && math.Abs(t.Y-line[0].Y) > tableRowTolerance {
			flushLine()
		}
		line = append(line, t)
	}
	flushLine()

	var grids [][][]string
	var current [][]string
	flushGrid := func() {
		if len(current) >= 2 {
			grids = append(grids, current)
		}
		current = nil
	}
	for _, row := range rows {
		if len(row) >= 2 {
			current = append(current, row)
		} else {
			flushGrid()
		}
	}
	flushGrid()
	return grids
}

// lineCells merges fragments on one baseline into cells, starting a new cell
// whenever the horizontal gap exceeds the cell threshold.
func lineCells(line []pdf.Text) []string {
	var cells []string
	var cell strings.Builder
	prevEnd := math.Inf(-1)
	for _, t := range line {
		if cell.Len() > 0 && t.X-prevEnd > tableCellGap {
			cells = append(cells, strings.TrimSpace(cell.String()))
			cell.Reset()
		}
		cell.WriteString(t.S)
		prevEnd = t.X + t.W
	}
	if cell.Len() > 0 {
		cells = append(cells, strings.TrimSpace(cell.String()))
	}
	return cells
}

// buildTable shapes a raw cell grid: the first non-empty row with at least
// two cells becomes the header, later rows are aligned to it, and each data
// row also gets a record view keyed by header cell.
func buildTable(grid [][]string, pageNumber, tableIndex int) documents.Table {
	var header []string
	headerIdx := -1
	for i, row := range grid {
		if len(row) >= 2 && !rowEmpty(row) {
			header = row
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return documents.Table{}
	}

	var dataRows [][]string
	var structured []map[string]string
	for _, row := range grid[headerIdx+1:] {
		if rowEmpty(row) {
			continue
		}
		aligned := make([]string, len(header))
		record := make(map[string]string, len(header))
		for col := range header {
			val := ""
			if col < len(row) {
				val = row[col]
			}
			aligned[col] = val
			name := header[col]
			if name == "" {
				name = fmt.Sprintf("column_%d", col)
			}
			record[name] = val
		}
		dataRows = append(dataRows, aligned)
		structured = append(structured, record)
	}

	return documents.Table{
		PageNumber:     pageNumber,
		TableIndex:     tableIndex,
		Header:         header,
		Rows:           dataRows,
		StructuredData: structured,
		RowCount:       len(dataRows),
		ColumnCount:    len(header),
		IsNumerical:    isNumerical(dataRows),
	}
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// isNumerical reports whether at least 30% of non-empty data cells contain
// digits.
func isNumerical(rows [][]string) bool {
	var numeric, total int
	for _, row := range rows {
		for _, cell := range row {
			if cell == "" {
				continue
			}
			total++
			if strings.ContainsAny(cell, "0123456789") {
				numeric++
			}
		}
	}
	if total == 0 {
		return false
	}
	return float64(numeric)/float64(total) >= tableNumericRatio
}
