package pipeline

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councilkb/councilkb/internal/adapters/llm"
	"github.com/councilkb/councilkb/internal/domain"
)

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1. 가을 축제", "가을 축제"},
		{" 12)  동아리   지원 ", "동아리 지원"},
		{"가을 축제", "가을 축제"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeTitle(tt.in), "input %q", tt.in)
	}
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, similarity("가을 축제", "가을 축제"), 1e-9)
	assert.InDelta(t, 0.0, similarity("", ""), 1e-9)

	// One rune of four differs.
	assert.InDelta(t, 0.75, similarity("가을축제", "가을축전"), 1e-9)

	assert.Greater(t, similarity("2025 가을 축제", "2025 가을 축제!"), fuzzyThreshold)
	assert.Less(t, similarity("가을 축제", "예산 결산"), fuzzyThreshold)
}

func TestAccessLevelFor(t *testing.T) {
	result := domain.SubtypeResult
	minutes := domain.SubtypeMinutes

	tests := []struct {
		name string
		doc  domain.Document
		want int
	}{
		{
			name: "result documents are public",
			doc:  domain.Document{Category: domain.CategoryMeeting, MeetingSubtype: &result},
			want: domain.AccessPublic,
		},
		{
			name: "minutes are member-only",
			doc:  domain.Document{Category: domain.CategoryMeeting, MeetingSubtype: &minutes},
			want: domain.AccessMembers,
		},
		{
			name: "meeting without subtype is member-only",
			doc:  domain.Document{Category: domain.CategoryMeeting},
			want: domain.AccessMembers,
		},
		{
			name: "work documents are internal",
			doc:  domain.Document{Category: domain.CategoryWork},
			want: domain.AccessInternal,
		},
		{
			name: "other inherits an existing level",
			doc:  domain.Document{Category: domain.CategoryOther, AccessLevel: domain.AccessInternal},
			want: domain.AccessInternal,
		},
		{
			name: "other defaults to restricted",
			doc:  domain.Document{Category: domain.CategoryOther},
			want: domain.AccessRestricted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, accessLevelFor(&tt.doc))
		})
	}
}

func TestDominantEvent(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	got := dominantEvent(map[uuid.UUID]int{a: 3, b: 1})
	require.NotNil(t, got)
	assert.Equal(t, a, *got)

	assert.Nil(t, dominantEvent(map[uuid.UUID]int{a: 2, b: 2}), "ties are ambiguous")
	assert.Nil(t, dominantEvent(nil))
}

func TestParseHintDate(t *testing.T) {
	got := parseHintDate("2025-10-24")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2025, 10, 24, 0, 0, 0, 0, time.UTC), *got)

	assert.Nil(t, parseHintDate(""))
	assert.Nil(t, parseHintDate("10/24/2025"))
}

func TestEventAnchorDate(t *testing.T) {
	eventDate := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	startDate := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	hint := &llm.EventHint{Date: "2025-03-01"}

	ev := &domain.Event{EventDate: &eventDate, StartDate: &startDate}
	assert.Equal(t, &eventDate, eventAnchorDate(ev, hint))

	ev = &domain.Event{StartDate: &startDate}
	assert.Equal(t, &startDate, eventAnchorDate(ev, hint))

	ev = &domain.Event{}
	got := eventAnchorDate(ev, hint)
	require.NotNil(t, got)
	assert.Equal(t, 2025, got.Year())
	assert.Equal(t, time.March, got.Month())
}

func TestDominantHint(t *testing.T) {
	year := 2025
	signals := []parentSignal{
		{hint: &llm.EventHint{}},
		{hint: &llm.EventHint{Department: "문화부", Year: &year}},
		{hint: &llm.EventHint{Department: "총무부"}},
	}

	dept, gotYear := dominantHint(signals)
	assert.Equal(t, "문화부", dept, "first non-empty department wins")
	require.NotNil(t, gotYear)
	assert.Equal(t, 2025, *gotYear)
}
