package comparisons

import (
	"testing"

	"disclosure-backend/internal/documents"
)

func diffPages(text string) []documents.Page {
	return []documents.Page{{PageNumber: 1, Text: text}}
}

var diffMapping = []SectionMapping{
	{Doc1Section: "事業の状況", Doc2Section: "事業の状況", ConfidenceScore: 1.0, MappingMethod: MappingExact},
}

func diffSections() map[string]documents.SectionInfo {
	return map[string]documents.SectionInfo{
		"事業の状況": {StartPage: 1, EndPage: 1},
	}
}

func TestCompareTextIdentical(t *testing.T) {
	text := "当期の売上高は増加しました。\n主力事業が好調に推移しました。"
	diffs := CompareText(diffMapping, diffSections(), diffSections(), diffPages(text), diffPages(text))
	if len(diffs) != 1 {
		t.Fatalf("expected 1 diff, got %d", len(diffs))
	}
	if diffs[0].MatchRatio != 1.0 {
		t.Fatalf("identical text ratio = %f, want 1.0", diffs[0].MatchRatio)
	}
	if len(diffs[0].AddedText) != 0 || len(diffs[0].RemovedText) != 0 || len(diffs[0].ChangedText) != 0 {
		t.Fatalf("identical text must produce no fragments: %+v", diffs[0])
	}
}

func TestCompareTextAddedAndRemoved(t *testing.T) {
	text1 := "共通の記載です。\n削除される記載です。"
	text2 := "共通の記載です。\n追加された記載です。\n新しい段落です。"

	diffs := CompareText(diffMapping, diffSections(), diffSections(), diffPages(text1), diffPages(text2))
	if len(diffs) != 1 {
		t.Fatalf("expected 1 diff, got %d", len(diffs))
	}
	d := diffs[0]
	if d.MatchRatio >= 1.0 || d.MatchRatio <= 0.0 {
		t.Fatalf("partial overlap ratio = %f", d.MatchRatio)
	}
	// One changed block: the removed line replaced by two new lines.
	if len(d.ChangedText) != 1 {
		t.Fatalf("expected 1 changed fragment, got %+v", d)
	}
	if d.ChangedText[0][0] != "削除される記載です。" {
		t.Fatalf("unexpected changed-before %q", d.ChangedText[0][0])
	}
}

func TestCompareTextPureInsert(t *testing.T) {
	text1 := "共通の記載です。"
	text2 := "共通の記載です。\n追加された記載です。"

	diffs := CompareText(diffMapping, diffSections(), diffSections(), diffPages(text1), diffPages(text2))
	d := diffs[0]
	if len(d.AddedText) != 1 || d.AddedText[0] != "追加された記載です。" {
		t.Fatalf("expected a single added fragment, got %+v", d)
	}
	if len(d.RemovedText) != 0 || len(d.ChangedText) != 0 {
		t.Fatalf("pure insert must not remove or change: %+v", d)
	}
}

func TestMatcherRatioEmpty(t *testing.T) {
	m := newMatcher(nil, nil)
	if got := m.ratio(); got != 1.0 {
		t.Fatalf("empty inputs ratio = %f, want 1.0", got)
	}
}
