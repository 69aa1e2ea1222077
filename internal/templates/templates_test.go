package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testTemplate = `document_type: earnings_report
display_name: 決算短信
description: 四半期ごとの業績速報
keywords_for_detection:
  - 決算短信
  - 四半期
sections:
  - id: summary
    name: サマリー情報
    required: true
  - id: qualitative
    name: 経営成績等の概況
    required: true
    subsections:
      - id: results
        name: 経営成績に関する説明
        required: true
        alternative_names:
          - 業績の概況
`

func writeTestTemplates(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "earnings_report.yaml"), []byte(testTemplate), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	return dir
}

func TestRegistryLoad(t *testing.T) {
	reg, err := NewRegistry(writeTestTemplates(t))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	if !reg.Has("earnings_report") || reg.Has("securities_report") {
		t.Fatalf("unexpected registry contents: %v", reg.ListTypes())
	}
	if got := reg.DisplayName("earnings_report"); got != "決算短信" {
		t.Fatalf("display name = %q", got)
	}
	if got := reg.DisplayName("unlisted"); got != "unlisted" {
		t.Fatalf("unknown type must fall back to the id, got %q", got)
	}

	tpl := reg.Load("earnings_report")
	if len(tpl.KeywordsForDetection) != 2 {
		t.Fatalf("keywords = %v", tpl.KeywordsForDetection)
	}
	degenerate := reg.Load("unlisted")
	if degenerate.DocumentType != "unlisted" || len(degenerate.Sections) != 0 {
		t.Fatalf("unknown type must yield a degenerate template: %+v", degenerate)
	}
}

func TestExpectedSectionsFlattening(t *testing.T) {
	reg, err := NewRegistry(writeTestTemplates(t))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	tpl := reg.Load("earnings_report")

	names := tpl.SectionNames()
	want := []string{
		"サマリー情報",
		"経営成績等の概況",
		"経営成績等の概況" + PathSeparator + "経営成績に関する説明",
	}
	if len(names) != len(want) {
		t.Fatalf("section names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	expected := tpl.ExpectedSections()
	if len(expected[2].AlternativeNames) != 1 || expected[2].AlternativeNames[0] != "業績の概況" {
		t.Fatalf("alternatives lost in flattening: %+v", expected[2])
	}
}

func TestRenderTree(t *testing.T) {
	reg, err := NewRegistry(writeTestTemplates(t))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	tree := reg.Load("earnings_report").RenderTree()

	if !strings.Contains(tree, "- サマリー情報") {
		t.Fatalf("top-level entry missing:\n%s", tree)
	}
	if !strings.Contains(tree, "  - 経営成績に関する説明 (業績の概況)") {
		t.Fatalf("nested entry with alternatives missing:\n%s", tree)
	}
}
