package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/councilkb/councilkb/internal/adapters/llm"
	"github.com/councilkb/councilkb/internal/domain"
	"github.com/councilkb/councilkb/internal/store"
)

// preprocessStage normalizes parsed markdown into the canonical header
// hierarchy: H1 for agenda categories, H2 for individual agenda items.
// Rules first; the model is asked to restructure only when no structural
// header can be detected, and its output is taken only when it is valid
// markdown with at least one header.
type preprocessStage struct {
	store *store.Store
	llm   llm.Client
}

func newPreprocessStage(s *store.Store, l llm.Client) *preprocessStage {
	return &preprocessStage{store: s, llm: l}
}

func (st *preprocessStage) Step() int    { return domain.StepPreprocess }
func (st *preprocessStage) Name() string { return "preprocess" }

var (
	anyHeader = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)

	// Agenda category lines: 보고안건 / 논의안건 / 의결안건 / 기타안건,
	// optionally spaced ("보고 안건"), with no item number.
	categoryLine = regexp.MustCompile(`^\s*(보고|논의|의결|기타)\s*안건\s*$`)

	// Agenda item lines: "논의안건 1. 제목" and variants.
	itemLine = regexp.MustCompile(`^\s*((보고|논의|의결|기타)\s*안건\s*\d+\s*[.)]\s*.+)$`)

	manyBlank = regexp.MustCompile(`\n{3,}`)
)

func (st *preprocessStage) Run(ctx context.Context, doc *domain.Document, _ RunOptions) error {
	normalized := normalize(doc.ParsedContent)
	retagged := retagHeaders(normalized)

	content := retagged
	if !anyHeader.MatchString(retagged) {
		restructured, err := st.llm.Restructure(ctx, retagged)
		if err == nil && anyHeader.MatchString(restructured) {
			content = normalize(restructured)
		}
		// Otherwise keep the normalized raw text as a single untitled
		// section; chunking degenerates but retrieval still works.
	}

	return st.store.WithTx(ctx, func(tx pgx.Tx) error {
		return st.store.SetPreprocessedContent(ctx, tx, doc.ID, content)
	})
}

// normalize applies the whitespace discipline: CRLF to LF, trailing spaces
// stripped, runs of three or more blank lines collapsed to two.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	text = strings.Join(lines, "\n")
	text = manyBlank.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// retagHeaders promotes recognizable agenda lines to the canonical levels:
// bare category lines become H1, numbered agenda items become H2. Lines
// already carrying a header marker keep their text but get the canonical
// level when they match.
func retagHeaders(text string) string {
	lines := strings.Split(text, "\n")
	inCode := false

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inCode = !inCode
			continue
		}
		if inCode {
			continue
		}

		bare := strings.TrimLeft(trimmed, "# ")
		switch {
		case categoryLine.MatchString(bare):
			lines[i] = "# " + strings.TrimSpace(bare)
		case itemLine.MatchString(bare):
			lines[i] = "## " + strings.TrimSpace(bare)
		}
	}
	return strings.Join(lines, "\n")
}
