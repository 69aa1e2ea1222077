package comparisons

import (
	"context"
	"errors"
	"strings"
	"testing"

	"disclosure-backend/internal/documents"
)

// stubEmbedder returns canned vectors keyed by substring.
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := []float32{0, 0, 1}
		for key, v := range s.vectors {
			if strings.Contains(text, key) {
				vec = v
				break
			}
		}
		out[i] = vec
	}
	return out, nil
}

func sectionSet(names ...string) map[string]documents.SectionInfo {
	out := make(map[string]documents.SectionInfo, len(names))
	for i, name := range names {
		out[name] = documents.SectionInfo{StartPage: i + 1, EndPage: i + 1}
	}
	return out
}

func TestMapSectionsExactFirst(t *testing.T) {
	sections1 := sectionSet("表紙", "事業の状況")
	sections2 := sectionSet("表紙", "事業の状況")

	mappings, err := MapSections(context.Background(), nil, sections1, sections2)
	if err != nil {
		t.Fatalf("MapSections: %v", err)
	}
	if len(mappings) != 2 {
		t.Fatalf("expected 2 exact mappings, got %d", len(mappings))
	}
	for _, m := range mappings {
		if m.MappingMethod != MappingExact || m.ConfidenceScore != 1.0 {
			t.Fatalf("exact mapping expected, got %+v", m)
		}
	}
}

func TestMapSectionsEmbeddingFallback(t *testing.T) {
	sections1 := sectionSet("表紙", "経営方針")
	sections2 := sectionSet("表紙", "経営戦略")

	embedder := stubEmbedder{vectors: map[string][]float32{
		"経営方針": {1, 0, 0},
		"経営戦略": {0.9, 0.1, 0},
	}}
	mappings, err := MapSections(context.Background(), embedder, sections1, sections2)
	if err != nil {
		t.Fatalf("MapSections: %v", err)
	}
	if len(mappings) != 2 {
		t.Fatalf("expected exact + embedding mapping, got %d", len(mappings))
	}

	var embedded *SectionMapping
	for i := range mappings {
		if mappings[i].MappingMethod == MappingEmbedding {
			embedded = &mappings[i]
		}
	}
	if embedded == nil {
		t.Fatalf("no embedding mapping produced")
	}
	if embedded.Doc1Section != "経営方針" || embedded.Doc2Section != "経営戦略" {
		t.Fatalf("unexpected pair %+v", embedded)
	}
	if embedded.ConfidenceScore < MappingThreshold {
		t.Fatalf("confidence %f below threshold", embedded.ConfidenceScore)
	}
}

func TestMapSectionsBelowThresholdDropped(t *testing.T) {
	sections1 := sectionSet("経営方針")
	sections2 := sectionSet("株式事務")

	embedder := stubEmbedder{vectors: map[string][]float32{
		"経営方針": {1, 0, 0},
		"株式事務": {0, 1, 0},
	}}
	mappings, err := MapSections(context.Background(), embedder, sections1, sections2)
	if err != nil {
		t.Fatalf("MapSections: %v", err)
	}
	if len(mappings) != 0 {
		t.Fatalf("orthogonal sections must not map, got %+v", mappings)
	}
}

func TestMapSectionsEmbedFailureKeepsExact(t *testing.T) {
	sections1 := sectionSet("表紙", "経営方針")
	sections2 := sectionSet("表紙", "経営戦略")

	embedder := stubEmbedder{err: errors.New("provider down")}
	mappings, err := MapSections(context.Background(), embedder, sections1, sections2)
	if err != nil {
		t.Fatalf("MapSections: %v", err)
	}
	if len(mappings) != 1 || mappings[0].MappingMethod != MappingExact {
		t.Fatalf("expected only the exact mapping, got %+v", mappings)
	}
}
