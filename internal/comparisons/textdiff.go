package comparisons

import (
	"strings"

	"disclosure-backend/internal/documents"
)

// maxDiffFragments bounds how many deltas one TextDifference carries.
const maxDiffFragments = 10

// CompareText produces the coarse per-section diff: a Ratcliff/Obershelp
// match ratio plus line-level added/removed/changed fragments. This feeds
// summary statistics only; the per-section LLM analysis is separate.
func CompareText(mappings []SectionMapping, sections1, sections2 map[string]documents.SectionInfo, pages1, pages2 []documents.Page) []TextDifference {
	var out []TextDifference
	for _, mapping := range mappings {
		info1, ok1 := sections1[mapping.Doc1Section]
		info2, ok2 := sections2[mapping.Doc2Section]
		if !ok1 || !ok2 {
			continue
		}
		text1 := pageRangeText(pages1, info1.StartPage, info1.EndPage)
		text2 := pageRangeText(pages2, info2.StartPage, info2.EndPage)
		if text1 == "" && text2 == "" {
			continue
		}
		out = append(out, diffSection(mapping.Doc1Section, text1, text2))
	}
	return out
}

func pageRangeText(pages []documents.Page, startPage, endPage int) string {
	var b strings.Builder
	for _, page := range pages {
		if page.PageNumber < startPage || page.PageNumber > endPage {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(page.Text)
	}
	return b.String()
}

func diffSection(section, text1, text2 string) TextDifference {
	lines1 := splitLines(text1)
	lines2 := splitLines(text2)

	m := newMatcher(lines1, lines2)
	diff := TextDifference{
		Section:    section,
		MatchRatio: m.ratio(),
	}
	for _, op := range m.opcodes() {
		switch op.tag {
		case opDelete:
			diff.RemovedText = appendCapped(diff.RemovedText, strings.Join(lines1[op.i1:op.i2], "\n"))
		case opInsert:
			diff.AddedText = appendCapped(diff.AddedText, strings.Join(lines2[op.j1:op.j2], "\n"))
		case opReplace:
			if len(diff.ChangedText) < maxDiffFragments {
				diff.ChangedText = append(diff.ChangedText, [2]string{
					strings.Join(lines1[op.i1:op.i2], "\n"),
					strings.Join(lines2[op.j1:op.j2], "\n"),
				})
			}
		}
	}
	return diff
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func appendCapped(dst []string, s string) []string {
	if len(dst) >= maxDiffFragments {
		return dst
	}
	return append(dst, s)
}

// matcher implements the Ratcliff/Obershelp longest-matching-block
// algorithm over line sequences.
type matcher struct {
	a, b []string
	b2j  map[string][]int
}

type match struct {
	i, j, size int
}

type opTag int

const (
	opEqual opTag = iota
	opDelete
	opInsert
	opReplace
)

type opcode struct {
	tag            opTag
	i1, i2, j1, j2 int
}

func newMatcher(a, b []string) *matcher {
	b2j := make(map[string][]int, len(b))
	for j, line := range b {
		b2j[line] = append(b2j[line], j)
	}
	return &matcher{a: a, b: b, b2j: b2j}
}

// findLongestMatch locates the longest block of equal lines inside
// a[alo:ahi] and b[blo:bhi].
func (m *matcher) findLongestMatch(alo, ahi, blo, bhi int) match {
	best := match{i: alo, j: blo}
	// j2len[j] is the length of the match ending at a[i-1], b[j-1].
	j2len := make(map[int]int)
	for i := alo; i < ahi; i++ {
		newJ2len := make(map[int]int)
		for _, j := range m.b2j[m.a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			newJ2len[j] = k
			if k > best.size {
				best = match{i: i - k + 1, j: j - k + 1, size: k}
			}
		}
		j2len = newJ2len
	}
	return best
}

func (m *matcher) matchingBlocks() []match {
	type span struct{ alo, ahi, blo, bhi int }
	queue := []span{{0, len(m.a), 0, len(m.b)}}
	var matched []match
	for len(queue) > 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		best := m.findLongestMatch(s.alo, s.ahi, s.blo, s.bhi)
		if best.size == 0 {
			continue
		}
		matched = append(matched, best)
		queue = append(queue,
			span{s.alo, best.i, s.blo, best.j},
			span{best.i + best.size, s.ahi, best.j + best.size, s.bhi},
		)
	}

	// Order by position and add the terminating sentinel.
	sortMatches(matched)
	return append(matched, match{i: len(m.a), j: len(m.b)})
}

func sortMatches(ms []match) {
	for i := 1; i < len(ms); i++ {
		for j := i; j > 0 && ms[j].i < ms[j-1].i; j-- {
			ms[j], ms[j-1] = ms[j-1], ms[j]
		}
	}
}

func (m *matcher) opcodes() []opcode {
	var out []opcode
	i, j := 0, 0
	for _, blk := range m.matchingBlocks() {
		if i < blk.i && j < blk.j {
			out = append(out, opcode{opReplace, i, blk.i, j, blk.j})
		} else if i < blk.i {
			out = append(out, opcode{opDelete, i, blk.i, j, blk.j})
		} else if j < blk.j {
			out = append(out, opcode{opInsert, i, blk.i, j, blk.j})
		}
		if blk.size > 0 {
			out = append(out, opcode{opEqual, blk.i, blk.i + blk.size, blk.j, blk.j + blk.size})
		}
		i, j = blk.i+blk.size, blk.j+blk.size
	}
	return out
}

// ratio is 2*M / (len(a)+len(b)), M being the total matched line count.
func (m *matcher) ratio() float64 {
	total := len(m.a) + len(m.b)
	if total == 0 {
		return 1.0
	}
	matched := 0
	for _, blk := range m.matchingBlocks() {
		matched += blk.size
	}
	return 2.0 * float64(matched) / float64(total)
}
