package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	in := "첫 줄  \r\n\r\n\r\n\r\n둘째 줄\t\n셋째 줄   "
	want := "첫 줄\n\n둘째 줄\n셋째 줄"
	assert.Equal(t, want, normalize(in))
}

func TestRetagHeaders(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bare category line becomes H1",
			in:   "논의 안건\n내용",
			want: "# 논의 안건\n내용",
		},
		{
			name: "numbered item becomes H2",
			in:   "논의안건 1. 축제 예산 심의\n내용",
			want: "## 논의안건 1. 축제 예산 심의\n내용",
		},
		{
			name: "wrong existing level is corrected",
			in:   "### 보고 안건\n## 보고안건 2) 결산 보고",
			want: "# 보고 안건\n## 보고안건 2) 결산 보고",
		},
		{
			name: "code fences are left alone",
			in:   "```\n논의 안건\n```",
			want: "```\n논의 안건\n```",
		},
		{
			name: "ordinary prose untouched",
			in:   "오늘 회의에서 안건을 다루었다.",
			want: "오늘 회의에서 안건을 다루었다.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retagHeaders(tt.in))
		})
	}
}

func TestAnyHeaderDetection(t *testing.T) {
	assert.True(t, anyHeader.MatchString("본문\n## 논의안건 1. 제목\n본문"))
	assert.False(t, anyHeader.MatchString("헤더가 전혀 없는 본문입니다.\n#태그는 아님"))
}
