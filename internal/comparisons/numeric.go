package comparisons

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"

	"disclosure-backend/internal/documents"
)

// significantPct is the relative-change threshold for flagging a difference.
const significantPct = 0.05

// unitFactors converts Japanese money units to yen before differencing.
var unitFactors = map[string]float64{
	"円":   1,
	"千円":  1_000,
	"百万円": 1_000_000,
	"億円":  100_000_000,
}

// CompareNumbers diffs the financial_data buckets of every mapped section.
// Items are matched by canonical name; units are normalized after matching.
func CompareNumbers(mappings []SectionMapping, sections1, sections2 map[string]documents.SectionInfo) []NumericalDifference {
	var out []NumericalDifference
	for _, mapping := range mappings {
		content1 := sectionContent(sections1, mapping.Doc1Section)
		content2 := sectionContent(sections2, mapping.Doc2Section)
		if content1 == nil || content2 == nil {
			continue
		}
		out = append(out, diffFinancialData(mapping.Doc1Section, content1.FinancialData, content2.FinancialData)...)
	}
	return out
}

func sectionContent(sections map[string]documents.SectionInfo, name string) *documents.ExtractedContent {
	info, ok := sections[name]
	if !ok {
		return nil
	}
	return info.Content
}

type numericEntry struct {
	item  string
	value float64
	unit  string
}

func diffFinancialData(section string, data1, data2 []documents.FinancialItem) []NumericalDifference {
	index2 := make(map[string][]numericEntry)
	for _, item := range data2 {
		for _, entry := range numericEntries(item) {
			key := canonicalItemName(entry.item)
			if key == "" {
				continue
			}
			index2[key] = append(index2[key], entry)
		}
	}

	var out []NumericalDifference
	for _, item := range data1 {
		for _, entry1 := range numericEntries(item) {
			key := canonicalItemName(entry1.item)
			candidates := index2[key]
			if key == "" || len(candidates) == 0 {
				continue
			}
			entry2 := candidates[0]

			norm1, unit1 := normalizeUnit(entry1.value, entry1.unit)
			norm2, unit2 := normalizeUnit(entry2.value, entry2.unit)
			if !isFinite(norm1) || !isFinite(norm2) {
				continue
			}

			diff := NumericalDifference{
				Section:    section,
				ItemName:   entry1.item,
				Value1:     entry1.value,
				Value2:     entry2.value,
				Difference: norm2 - norm1,
				Unit1:      entry1.unit,
				Unit2:      entry2.unit,
			}
			if unit1 == unit2 {
				diff.NormalizedUnit = unit1
			}
			if norm1 != 0 {
				diff.DifferencePct = diff.Difference / math.Abs(norm1)
				diff.HasPct = true
			}
			diff.IsSignificant = significant(norm1, norm2, diff)
			out = append(out, diff)
		}
	}
	return out
}

// numericEntries flattens a financial item into numeric values. A nested
// period→scalar map yields one entry per period, keyed "item (period)".
func numericEntries(item documents.FinancialItem) []numericEntry {
	switch v := item.Value.(type) {
	case map[string]any:
		var out []numericEntry
		for period, raw := range v {
			if f, ok := asFloat(raw); ok {
				out = append(out, numericEntry{
					item:  item.Item + " (" + period + ")",
					value: f,
					unit:  item.Unit,
				})
			}
		}
		return out
	default:
		if f, ok := asFloat(item.Value); ok {
			return []numericEntry{{item: item.Item, value: f, unit: item.Unit}}
		}
		return nil
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		f, err := strconv.ParseFloat(cleaned, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// canonicalItemName lowercases and strips punctuation so "売上高（連結）"
// and "売上高(連結)" match.
func canonicalItemName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeUnit(value float64, unit string) (float64, string) {
	trimmed := strings.TrimSpace(unit)
	if trimmed == "" {
		return value, ""
	}
	if factor, ok := unitFactors[trimmed]; ok {
		return value * factor, "円"
	}
	return value, trimmed
}

func significant(v1, v2 float64, diff NumericalDifference) bool {
	if diff.HasPct && math.Abs(diff.DifferencePct) >= significantPct {
		return true
	}
	return ordersOfMagnitudeApart(v1, v2)
}

func ordersOfMagnitudeApart(v1, v2 float64) bool {
	a, b := math.Abs(v1), math.Abs(v2)
	if a == 0 || b == 0 {
		return a != b
	}
	ratio := a / b
	if ratio < 1 {
		ratio = 1 / ratio
	}
	return ratio >= 10
}

func isFinite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}
