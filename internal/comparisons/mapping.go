package comparisons

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"disclosure-backend/internal/documents"
	"disclosure-backend/internal/embedding"
	"disclosure-backend/internal/shared/telemetry"
)

// MappingThreshold is the minimum cosine similarity for an embedding match.
const MappingThreshold = 0.7

// MapSections pairs sections across the two documents. Exact name matches
// are consumed first; what remains is matched by embedding similarity and
// anything below the threshold is dropped.
func MapSections(ctx context.Context, embedder embedding.Embedder, sections1, sections2 map[string]documents.SectionInfo) ([]SectionMapping, error) {
	var mappings []SectionMapping

	names1 := sortedKeys(sections1)
	names2 := sortedKeys(sections2)

	used2 := make(map[string]bool)
	matched1 := make(map[string]bool)
	for _, name := range names1 {
		if _, ok := sections2[name]; ok {
			mappings = append(mappings, SectionMapping{
				Doc1Section:     name,
				Doc2Section:     name,
				ConfidenceScore: 1.0,
				MappingMethod:   MappingExact,
			})
			matched1[name] = true
			used2[name] = true
		}
	}

	var rest1, rest2 []string
	for _, name := range names1 {
		if !matched1[name] {
			rest1 = append(rest1, name)
		}
	}
	for _, name := range names2 {
		if !used2[name] {
			rest2 = append(rest2, name)
		}
	}
	if len(rest1) == 0 || len(rest2) == 0 || embedder == nil {
		return mappings, nil
	}

	texts := make([]string, 0, len(rest1)+len(rest2))
	for _, name := range rest1 {
		texts = append(texts, embeddingText(name, sections1[name].Content))
	}
	for _, name := range rest2 {
		texts = append(texts, embeddingText(name, sections2[name].Content))
	}

	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		// The exact mappings still stand; embedding matches are best
		// effort.
		telemetry.Warn("comparisons.mapping_embed_failed", map[string]any{"error": err.Error()})
		return mappings, nil
	}
	if len(vectors) != len(texts) {
		return mappings, fmt.Errorf("embedding count mismatch: got %d want %d", len(vectors), len(texts))
	}

	vecs1 := vectors[:len(rest1)]
	vecs2 := vectors[len(rest1):]

	for i, name1 := range rest1 {
		bestIdx := -1
		bestScore := 0.0
		for j := range rest2 {
			score := embedding.Cosine(vecs1[i], vecs2[j])
			if score > bestScore {
				bestScore = score
				bestIdx = j
			}
		}
		if bestIdx < 0 || bestScore < MappingThreshold {
			continue
		}
		mappings = append(mappings, SectionMapping{
			Doc1Section:     name1,
			Doc2Section:     rest2[bestIdx],
			ConfidenceScore: bestScore,
			MappingMethod:   MappingEmbedding,
		})
	}
	return mappings, nil
}

// embeddingText builds the string that represents a section for matching:
// the name plus a compact projection of its ExtractedContent when present.
func embeddingText(name string, content *documents.ExtractedContent) string {
	if content == nil {
		return name
	}

	var parts []string
	parts = append(parts, name)
	for _, item := range content.FinancialData {
		if item.Item != "" {
			parts = append(parts, item.Item)
		}
	}
	for _, note := range content.AccountingNotes {
		if note.Topic != "" {
			parts = append(parts, note.Topic)
		}
	}
	for _, fact := range content.FactualInfo {
		if fact.Item != "" {
			parts = append(parts, fact.Item)
		}
	}
	for _, msg := range content.Messages {
		if msg.Type != "" {
			parts = append(parts, msg.Type)
		}
	}
	return strings.Join(parts, " ")
}

func sortedKeys(m map[string]documents.SectionInfo) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
