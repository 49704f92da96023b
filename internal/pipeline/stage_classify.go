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

// classifyStage assigns category, meeting subtype, and a standardized name.
// A rule pass over the file name and path decides most documents; the model
// is consulted only when the rules come up empty, and its answer is accepted
// only when it lands inside the closed enums.
type classifyStage struct {
	store *store.Store
	llm   llm.Client
}

func newClassifyStage(s *store.Store, l llm.Client) *classifyStage {
	return &classifyStage{store: s, llm: l}
}

func (st *classifyStage) Step() int    { return domain.StepClassify }
func (st *classifyStage) Name() string { return "classify" }

// Subtype keywords, most reliable first. 결과지 before 결과 so the longer
// token wins, likewise for 안건지/안건 and 속기록/속기.
var subtypeKeywords = []struct {
	token   string
	subtype domain.MeetingSubtype
}{
	{"결과보고", domain.SubtypeResult},
	{"결과지", domain.SubtypeResult},
	{"결과", domain.SubtypeResult},
	{"속기록", domain.SubtypeMinutes},
	{"속기", domain.SubtypeMinutes},
	{"회의록", domain.SubtypeMinutes},
	{"안건지", domain.SubtypeAgenda},
	{"안건", domain.SubtypeAgenda},
}

var meetingTokens = []string{"회의", "정기회", "임시회", "간담회"}
var workTokens = []string{"업무", "보고서", "계획서", "공문", "기안"}

// bracketTag strips leading "[...]" markers from display names.
var bracketTag = regexp.MustCompile(`^\s*(\[[^\]]*\]\s*)+`)

// ruleClassification is the first-pass result. ok is false when the rules
// could not decide a category.
type ruleClassification struct {
	category domain.DocCategory
	subtype  *domain.MeetingSubtype
	name     string
	ok       bool
}

func classifyByRules(name, path string) ruleClassification {
	haystack := name + " " + path

	var subtype *domain.MeetingSubtype
	for _, kw := range subtypeKeywords {
		if strings.Contains(haystack, kw.token) {
			s := kw.subtype
			subtype = &s
			break
		}
	}

	std := standardizeName(name)

	if subtype != nil {
		return ruleClassification{category: domain.CategoryMeeting, subtype: subtype, name: std, ok: true}
	}
	for _, t := range meetingTokens {
		if strings.Contains(haystack, t) {
			return ruleClassification{category: domain.CategoryMeeting, name: std, ok: true}
		}
	}
	for _, t := range workTokens {
		if strings.Contains(haystack, t) {
			return ruleClassification{category: domain.CategoryWork, name: std, ok: true}
		}
	}
	return ruleClassification{name: std, ok: false}
}

// standardizeName strips bracketed tags and the extension and collapses
// whitespace: "[안건지] 5차회의.docx" -> "5차회의".
func standardizeName(name string) string {
	s := bracketTag.ReplaceAllString(name, "")
	if i := strings.LastIndex(s, "."); i > 0 {
		s = s[:i]
	}
	return strings.Join(strings.Fields(s), " ")
}

func (st *classifyStage) Run(ctx context.Context, doc *domain.Document, _ RunOptions) error {
	rc := classifyByRules(doc.Name, doc.Path)

	category := rc.category
	subtype := rc.subtype
	stdName := rc.name

	if !rc.ok {
		cl, err := st.llm.Classify(ctx, doc.Name, doc.Path)
		if err != nil {
			return err
		}
		category = cl.Category
		subtype = cl.MeetingSubtype
		if cl.StandardizedName != "" {
			stdName = standardizeName(cl.StandardizedName)
		}
	}
	if stdName == "" {
		stdName = doc.Name
	}

	return st.store.WithTx(ctx, func(tx pgx.Tx) error {
		return st.store.SetClassification(ctx, tx, doc.ID, doc.DocType, category, subtype, stdName)
	})
}
