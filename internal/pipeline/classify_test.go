package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councilkb/councilkb/internal/domain"
)

func TestClassifyByRules(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		path     string
		category domain.DocCategory
		subtype  *domain.MeetingSubtype
		ok       bool
	}{
		{
			name:     "result report",
			fileName: "[결과보고] 5차 정기회의.pdf",
			category: domain.CategoryMeeting,
			subtype:  subtypePtr(domain.SubtypeResult),
			ok:       true,
		},
		{
			name:     "minutes by transcript keyword",
			fileName: "3차 회의 속기록.docx",
			category: domain.CategoryMeeting,
			subtype:  subtypePtr(domain.SubtypeMinutes),
			ok:       true,
		},
		{
			name:     "agenda sheet",
			fileName: "[안건지] 임시회.hwp",
			category: domain.CategoryMeeting,
			subtype:  subtypePtr(domain.SubtypeAgenda),
			ok:       true,
		},
		{
			name:     "result keyword outranks agenda keyword",
			fileName: "회의결과 안건지.pdf",
			category: domain.CategoryMeeting,
			subtype:  subtypePtr(domain.SubtypeResult),
			ok:       true,
		},
		{
			name:     "meeting without subtype",
			fileName: "간담회 일정 안내.pdf",
			category: domain.CategoryMeeting,
			subtype:  nil,
			ok:       true,
		},
		{
			name:     "work document",
			fileName: "2025년 업무 계획서.xlsx",
			category: domain.CategoryWork,
			subtype:  nil,
			ok:       true,
		},
		{
			name:     "keyword in path only",
			fileName: "최종본.pdf",
			path:     "총무부/회의록/2025",
			category: domain.CategoryMeeting,
			subtype:  subtypePtr(domain.SubtypeMinutes),
			ok:       true,
		},
		{
			name:     "undecidable",
			fileName: "사진첩.zip",
			ok:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := classifyByRules(tt.fileName, tt.path)
			assert.Equal(t, tt.ok, rc.ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.category, rc.category)
			if tt.subtype == nil {
				assert.Nil(t, rc.subtype)
			} else {
				require.NotNil(t, rc.subtype)
				assert.Equal(t, *tt.subtype, *rc.subtype)
			}
		})
	}
}

func TestStandardizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"[안건지] 5차회의.docx", "5차회의"},
		{"[2025][결과] 정기회의   결과지.pdf", "정기회의 결과지"},
		{"회의록.hwp", "회의록"},
		{"확장자 없는 이름", "확장자 없는 이름"},
		{".hidden", ".hidden"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, standardizeName(tt.in), "input %q", tt.in)
	}
}

func subtypePtr(s domain.MeetingSubtype) *domain.MeetingSubtype {
	return &s
}
