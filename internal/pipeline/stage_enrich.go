package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/councilkb/councilkb/internal/adapters/llm"
	"github.com/councilkb/councilkb/internal/config"
	"github.com/councilkb/councilkb/internal/domain"
	"github.com/councilkb/councilkb/internal/store"
)

// fuzzyThreshold is the minimum similarity ratio for matching an inferred
// event title against an existing event within the same year.
const fuzzyThreshold = 0.85

// enrichStage anchors chunks to events, applies the access-level policy,
// and fixes the time-decay anchor date.
type enrichStage struct {
	store    *store.Store
	llm      llm.Client
	settings *config.Settings
	logger   *slog.Logger
}

func newEnrichStage(s *store.Store, l llm.Client, cfg *config.Settings, logger *slog.Logger) *enrichStage {
	return &enrichStage{store: s, llm: l, settings: cfg, logger: logger}
}

func (st *enrichStage) Step() int    { return domain.StepEnrich }
func (st *enrichStage) Name() string { return "enrich" }

// parentSignal is the model output for one parent chunk.
type parentSignal struct {
	parent  *domain.Chunk
	hint    *llm.EventHint
	summary *llm.SectionSummary
}

func (st *enrichStage) Run(ctx context.Context, doc *domain.Document, _ RunOptions) error {
	parents, err := st.store.ParentChunks(ctx, doc.ID)
	if err != nil {
		return err
	}
	if len(parents) == 0 {
		return domain.StageFailedf("no parent chunks for %q", doc.Name)
	}

	signals, err := st.collectSignals(ctx, doc, parents)
	if err != nil {
		return err
	}

	accessLevel := accessLevelFor(doc)

	return st.store.WithTx(ctx, func(tx pgx.Tx) error {
		eventCounts := make(map[uuid.UUID]int)
		eventDates := make(map[uuid.UUID]*time.Time)
		decisions := make(map[uuid.UUID][]string)
		actions := make(map[uuid.UUID][]string)

		for _, sig := range signals {
			rawTitle := sig.hint.Title
			title := normalizeTitle(rawTitle)

			var eventID *uuid.UUID
			if title != "" {
				ev, err := st.resolveEvent(ctx, tx, title, sig.hint)
				if err != nil {
					return err
				}
				eventID = &ev.ID
				eventCounts[ev.ID]++
				if d := eventAnchorDate(ev, sig.hint); d != nil {
					eventDates[ev.ID] = d
				}
				if sig.summary != nil {
					if sig.summary.HasDecision && sig.summary.Summary != "" {
						decisions[ev.ID] = append(decisions[ev.ID], sig.summary.Summary)
					}
					actions[ev.ID] = append(actions[ev.ID], sig.summary.ActionItems...)
				}
			}

			if err := st.store.SetChunkEvent(ctx, tx, sig.parent.ID, eventID, rawTitle); err != nil {
				return err
			}
		}

		for id := range eventCounts {
			if err := st.store.ReconcileEventChunks(ctx, tx, id); err != nil {
				return err
			}
			var decJSON, actJSON []byte
			if len(decisions[id]) > 0 {
				decJSON, _ = json.Marshal(decisions[id])
			}
			if len(actions[id]) > 0 {
				actJSON, _ = json.Marshal(actions[id])
			}
			if decJSON != nil || actJSON != nil {
				if err := st.store.UpdateEventEnrichment(ctx, tx, id, nil, decJSON, actJSON, ""); err != nil {
					return err
				}
			}
		}

		if err := st.store.SetChunkAccessLevel(ctx, tx, doc.ID, accessLevel); err != nil {
			return err
		}

		docEvent := dominantEvent(eventCounts)
		decayDate := doc.TimeDecayDate
		if docEvent != nil && eventDates[*docEvent] != nil {
			decayDate = eventDates[*docEvent]
		}
		if decayDate == nil {
			now := time.Now()
			decayDate = &now
		}

		department, year := dominantHint(signals)
		return st.store.SetEnrichment(ctx, tx, doc.ID, accessLevel, decayDate, docEvent, department, year)
	})
}

// collectSignals runs event inference and section summarization per parent
// with bounded fan-out.
func (st *enrichStage) collectSignals(ctx context.Context, doc *domain.Document, parents []*domain.Chunk) ([]parentSignal, error) {
	signals := make([]parentSignal, len(parents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(st.settings.Queue.StageFanout)

	for i, parent := range parents {
		g.Go(func() error {
			hint, err := st.llm.InferEvent(gctx, parent.Content)
			if err != nil {
				return err
			}

			var summary *llm.SectionSummary
			if doc.Category == domain.CategoryMeeting {
				summary, err = st.llm.SummarizeSection(gctx, parent.Content, string(doc.Category))
				if err != nil {
					return err
				}
			}

			signals[i] = parentSignal{parent: parent, hint: hint, summary: summary}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return signals, nil
}

// resolveEvent finds or creates the event for a normalized title: exact
// case-insensitive match first, then fuzzy within the year, then create.
func (st *enrichStage) resolveEvent(ctx context.Context, tx pgx.Tx, title string, hint *llm.EventHint) (*domain.Event, error) {
	ev, err := st.store.FindEventByTitle(ctx, tx, title, hint.Year)
	if err == nil {
		return ev, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	candidates, err := st.store.EventsForYear(ctx, tx, hint.Year)
	if err != nil {
		return nil, err
	}
	var best *domain.Event
	bestRatio := fuzzyThreshold
	for _, c := range candidates {
		r := similarity(title, normalizeTitle(c.Title))
		if r >= bestRatio {
			best, bestRatio = c, r
		}
	}
	if best != nil {
		return best, nil
	}

	ev = &domain.Event{
		Title:      title,
		Year:       hint.Year,
		EventDate:  parseHintDate(hint.Date),
		Department: hint.Department,
		Status:     domain.EventPlanned,
	}
	if err := st.store.CreateEvent(ctx, tx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

var leadingNumber = regexp.MustCompile(`^\s*\d+\s*[.)]\s*`)

// normalizeTitle strips leading item numbers and collapses whitespace.
func normalizeTitle(title string) string {
	title = leadingNumber.ReplaceAllString(title, "")
	return strings.Join(strings.Fields(title), " ")
}

// similarity is 1 - levenshtein/maxRuneLen, in [0,1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 0
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

func parseHintDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

// eventAnchorDate picks the decay anchor contributed by an event: the
// event's own date wins over the hint's.
func eventAnchorDate(ev *domain.Event, hint *llm.EventHint) *time.Time {
	if ev.EventDate != nil {
		return ev.EventDate
	}
	if ev.StartDate != nil {
		return ev.StartDate
	}
	return parseHintDate(hint.Date)
}

// accessLevelFor applies the document-level access policy. Chunks inherit
// this level wholesale.
func accessLevelFor(doc *domain.Document) int {
	if doc.MeetingSubtype != nil && *doc.MeetingSubtype == domain.SubtypeResult {
		return domain.AccessPublic
	}
	switch doc.Category {
	case domain.CategoryMeeting:
		return domain.AccessMembers
	case domain.CategoryWork:
		return domain.AccessInternal
	default:
		if doc.AccessLevel >= domain.AccessRestricted && doc.AccessLevel <= domain.AccessPublic {
			return doc.AccessLevel
		}
		return domain.AccessRestricted
	}
}

// dominantEvent returns the most frequent event id when it is unambiguous,
// else nil. The document's event_id is informational only.
func dominantEvent(counts map[uuid.UUID]int) *uuid.UUID {
	var best *uuid.UUID
	bestCount, ties := 0, 0
	for id, n := range counts {
		if n > bestCount {
			bestCount, ties = n, 1
			best = &id
		} else if n == bestCount {
			ties++
		}
	}
	if ties > 1 {
		return nil
	}
	return best
}

// dominantHint picks the first non-empty department and year the model saw.
func dominantHint(signals []parentSignal) (string, *int) {
	var department string
	var year *int
	for _, s := range signals {
		if department == "" && s.hint.Department != "" {
			department = s.hint.Department
		}
		if year == nil && s.hint.Year != nil {
			year = s.hint.Year
		}
	}
	return department, year
}
