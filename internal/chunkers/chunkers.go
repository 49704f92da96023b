// Package chunkers cuts preprocessed markdown into the two-level retrieval
// hierarchy: one parent chunk per agenda-item section, zero or more child
// windows per parent. Parents carry the full section for context assembly;
// children are what gets embedded.
package chunkers

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/councilkb/councilkb/internal/domain"
)

// Window geometry. ~500 characters per child with ~50 characters of overlap,
// breaking on sentence boundaries when one is in reach.
const (
	DefaultWindowSize = 500
	DefaultOverlap    = 50
)

var headingRegex = regexp.MustCompile(`^(#{1,2})\s+(.+)$`)

// Section is one parent-to-be slice of the document: the header line, the
// full section text, and its offsets into the preprocessed content.
type Section struct {
	Header    string // full header line, e.g. "## 논의안건 1. 축제 예산"
	Level     int    // 1 or 2; 0 when the document had no headers
	Content   string
	StartChar int
	EndChar   int
}

// Group is one parent chunk with its child windows, ready for insertion.
type Group struct {
	Parent   *domain.Chunk
	Children []*domain.Chunk
}

// Chunker cuts a document's preprocessed content into groups.
type Chunker struct {
	windowSize int
	overlap    int
}

// Option configures the Chunker.
type Option func(*Chunker)

// WithWindow overrides the child window geometry.
func WithWindow(size, overlap int) Option {
	return func(c *Chunker) {
		c.windowSize = size
		c.overlap = overlap
	}
}

// New creates a Chunker with the default window geometry.
func New(opts ...Option) *Chunker {
	c := &Chunker{windowSize: DefaultWindowSize, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chunk splits content into parent groups. H2 sections are the preferred
// parents; a document with only H1 headers uses those, and a document with
// no headers at all becomes a single untitled parent. Empty content is an
// error: the caller marks the document failed rather than storing orphans.
func (c *Chunker) Chunk(content string, accessLevel int) ([]Group, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("empty preprocessed content")
	}

	sections := Split(content)

	var groups []Group
	parentIndex := 0
	for _, sec := range sections {
		if strings.TrimSpace(sec.Content) == "" {
			continue
		}

		parent := &domain.Chunk{
			IsParent:      true,
			ChunkIndex:    parentIndex,
			ChunkType:     sectionType(sec.Content),
			Content:       sec.Content,
			SectionHeader: sec.Header,
			AccessLevel:   accessLevel,
			TokenCount:    CountTokens(sec.Content),
			StartChar:     sec.StartChar,
			EndChar:       sec.EndChar,
		}

		var children []*domain.Chunk
		for i, w := range c.windows(sec.Content) {
			children = append(children, &domain.Chunk{
				ChunkIndex:    i,
				ChunkType:     parent.ChunkType,
				Content:       w.text,
				SectionHeader: sec.Header,
				AccessLevel:   accessLevel,
				TokenCount:    CountTokens(w.text),
				StartChar:     sec.StartChar + w.start,
				EndChar:       sec.StartChar + w.end,
			})
		}

		groups = append(groups, Group{Parent: parent, Children: children})
		parentIndex++
	}

	if len(groups) == 0 {
		return nil, fmt.Errorf("no non-empty sections in preprocessed content")
	}
	return groups, nil
}

// Split cuts content into parent sections. Preference order: H2 sections,
// then H1 sections, then the whole document as one untitled section. Text
// before the first header becomes its own untitled section.
func Split(content string) []Section {
	h2 := splitAtLevel(content, 2)
	if len(h2) > 0 {
		return h2
	}
	h1 := splitAtLevel(content, 1)
	if len(h1) > 0 {
		return h1
	}
	return []Section{{Content: content, StartChar: 0, EndChar: len(content)}}
}

// splitAtLevel returns the sections opened by headers of exactly the given
// level, or nil when no such header exists. Text before the first header is
// folded into the first section.
func splitAtLevel(content string, level int) []Section {
	lines := strings.Split(content, "\n")

	var sections []Section
	var cur *Section
	offset := 0

	for _, line := range lines {
		lineLen := len(line) + 1 // +1 for the split newline

		if m := headingRegex.FindStringSubmatch(line); m != nil && len(m[1]) == level {
			if cur != nil {
				cur.EndChar = offset
				cur.Content = strings.TrimRight(cur.Content, "\n")
				sections = append(sections, *cur)
			}
			cur = &Section{Header: line, Level: level, StartChar: offset}
		}

		if cur != nil {
			cur.Content += line + "\n"
		} else if len(sections) == 0 && strings.TrimSpace(line) != "" {
			// Preamble before the first header; start an implicit
			// section that the first header will not absorb.
			cur = &Section{StartChar: offset, Content: line + "\n"}
		}

		offset += lineLen
	}

	if cur != nil {
		cur.EndChar = min(offset, len(content))
		cur.Content = strings.TrimRight(cur.Content, "\n")
		sections = append(sections, *cur)
	}

	// No headers at this level: only the implicit preamble section exists.
	hasHeader := false
	for _, s := range sections {
		if s.Level == level {
			hasHeader = true
			break
		}
	}
	if !hasHeader {
		return nil
	}
	return sections
}

// sectionType detects table-dominated sections by the ratio of pipe-prefixed
// lines to total non-blank lines.
func sectionType(content string) domain.ChunkType {
	lines := strings.Split(content, "\n")
	total, piped := 0, 0
	for _, l := range lines {
		t := strings.TrimSpace(l)
		if t == "" {
			continue
		}
		total++
		if strings.HasPrefix(t, "|") {
			piped++
		}
	}
	if total > 0 && piped*2 > total {
		return domain.ChunkTable
	}
	return domain.ChunkText
}

type window struct {
	text  string
	start int
	end   int
}

// sentence-ending runes for boundary snapping; covers Korean and Latin
// punctuation plus newline.
func isBoundary(r byte) bool {
	return r == '.' || r == '!' || r == '?' || r == '\n'
}

// windows slices body into overlapping character windows, snapping the cut
// to the nearest sentence boundary inside the final quarter of the window.
func (c *Chunker) windows(body string) []window {
	var out []window
	start := 0

	for start < len(body) {
		end := start + c.windowSize
		if end >= len(body) {
			end = len(body)
		} else {
			// Look backwards for a sentence boundary, but never shrink
			// below 3/4 of the window.
			floor := start + c.windowSize*3/4
			for i := end - 1; i > floor; i-- {
				if isBoundary(body[i]) {
					end = i + 1
					break
				}
			}
			// Never split a UTF-8 sequence.
			for end < len(body) && body[end]&0xC0 == 0x80 {
				end++
			}
		}

		text := strings.TrimSpace(body[start:end])
		if text != "" {
			out = append(out, window{text: text, start: start, end: end})
		}

		if end >= len(body) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		// Step forward to a rune boundary.
		for next < len(body) && body[next]&0xC0 == 0x80 {
			next++
		}
		start = next
	}

	return out
}
