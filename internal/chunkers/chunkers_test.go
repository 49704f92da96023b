package chunkers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councilkb/councilkb/internal/domain"
)

const meetingDoc = `# 논의 안건

## 논의안건 1. 축제 예산 심의

축제 예산안을 논의하였다. 총액은 오백만원이다.

## 논의안건 2. 동아리 지원

동아리 지원 기준을 의결하였다.
`

func TestSplitPrefersH2(t *testing.T) {
	sections := Split(meetingDoc)

	require.Len(t, sections, 3, "preamble H1 block plus two H2 sections")
	assert.Equal(t, "", sections[0].Header, "text before the first H2 is its own untitled section")
	assert.Equal(t, "## 논의안건 1. 축제 예산 심의", sections[1].Header)
	assert.Equal(t, "## 논의안건 2. 동아리 지원", sections[2].Header)
	assert.Contains(t, sections[1].Content, "오백만원")
}

func TestSplitFallsBackToH1(t *testing.T) {
	doc := "# 보고 안건\n\n내용입니다.\n\n# 의결 안건\n\n의결하였다.\n"
	sections := Split(doc)

	require.Len(t, sections, 2)
	assert.Equal(t, 1, sections[0].Level)
	assert.Equal(t, "# 보고 안건", sections[0].Header)
}

func TestSplitWholeDocumentWithoutHeaders(t *testing.T) {
	doc := "머리말 없이 쓰인 문서입니다.\n두 번째 줄입니다.\n"
	sections := Split(doc)

	require.Len(t, sections, 1)
	assert.Equal(t, "", sections[0].Header)
	assert.Equal(t, 0, sections[0].StartChar)
	assert.Equal(t, len(doc), sections[0].EndChar)
}

func TestSectionOffsetsIndexIntoContent(t *testing.T) {
	sections := Split(meetingDoc)

	for _, sec := range sections {
		got := meetingDoc[sec.StartChar:sec.EndChar]
		assert.Equal(t, sec.Content, strings.TrimRight(got, "\n"))
	}
}

func TestChunkBuildsParentChildGroups(t *testing.T) {
	c := New()
	groups, err := c.Chunk(meetingDoc, domain.AccessMembers)
	require.NoError(t, err)
	require.Len(t, groups, 3)

	for i, g := range groups {
		assert.True(t, g.Parent.IsParent)
		assert.Equal(t, i, g.Parent.ChunkIndex)
		assert.Equal(t, domain.AccessMembers, g.Parent.AccessLevel)
		assert.Positive(t, g.Parent.TokenCount)

		for j, child := range g.Children {
			assert.False(t, child.IsParent)
			assert.Equal(t, j, child.ChunkIndex)
			assert.Equal(t, g.Parent.SectionHeader, child.SectionHeader)
		}
	}
}

func TestChunkRejectsEmptyContent(t *testing.T) {
	c := New()

	_, err := c.Chunk("", domain.AccessPublic)
	assert.Error(t, err)

	_, err = c.Chunk("   \n\n  ", domain.AccessPublic)
	assert.Error(t, err)
}

func TestSectionTypeDetectsTables(t *testing.T) {
	table := "| 항목 | 금액 |\n|---|---|\n| 현수막 | 300,000 |\n| 간식 | 200,000 |\n"
	assert.Equal(t, domain.ChunkTable, sectionType(table))

	prose := "예산을 논의하였다.\n| 표가 하나 있다 |\n결론은 다음과 같다.\n추가 논의가 필요하다.\n"
	assert.Equal(t, domain.ChunkText, sectionType(prose))
}

func TestWindowsOverlapAndCoverBody(t *testing.T) {
	c := New(WithWindow(100, 20))
	body := strings.Repeat("가나다라마바사아. ", 40) // well past one window

	wins := c.windows(body)
	require.Greater(t, len(wins), 1)

	for i, w := range wins {
		assert.LessOrEqual(t, w.end-w.start, 100+3, "window %d exceeds size (plus rune padding)", i)
		if i > 0 {
			assert.Less(t, wins[i].start, wins[i-1].end, "windows %d and %d must overlap", i-1, i)
		}
	}
	assert.Equal(t, len(body), wins[len(wins)-1].end, "last window reaches the end")
}

func TestWindowsSnapToSentenceBoundary(t *testing.T) {
	c := New(WithWindow(100, 10))
	// A period sits inside the final quarter of the first window.
	body := strings.Repeat("a", 90) + ". " + strings.Repeat("b", 100)

	wins := c.windows(body)
	require.GreaterOrEqual(t, len(wins), 2)
	assert.Equal(t, 91, wins[0].end, "cut lands just after the period")
}

func TestWindowsNeverSplitRunes(t *testing.T) {
	c := New(WithWindow(50, 10))
	body := strings.Repeat("한", 100) // 3 bytes per rune, no boundaries at all

	for _, w := range c.windows(body) {
		assert.True(t, isValidUTF8Start(body, w.start), "start %d mid-rune", w.start)
		for _, r := range w.text {
			assert.NotEqual(t, '�', r)
		}
	}
}

func isValidUTF8Start(s string, i int) bool {
	return i >= len(s) || s[i]&0xC0 != 0x80
}

func TestCountTokensFallback(t *testing.T) {
	assert.Positive(t, CountTokens("회의록 내용"))
	assert.Zero(t, CountTokens(""))
}
