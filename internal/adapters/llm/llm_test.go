package llm

import (
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"

	"github.com/councilkb/councilkb/internal/domain"
)

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorKind
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: 429}, domain.KindExternalTemporary},
		{"server error", &openai.APIError{HTTPStatusCode: 500}, domain.KindExternalTemporary},
		{"bad request", &openai.APIError{HTTPStatusCode: 400}, domain.KindExternalPermanent},
		{"context length", &openai.APIError{HTTPStatusCode: 422}, domain.KindExternalPermanent},
		{"network failure", errors.New("dial tcp: timeout"), domain.KindExternalTemporary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.KindOf(classifyAPIError(tt.err)))
		})
	}
}

func TestSoftClassification(t *testing.T) {
	cl := softClassification("알수없는파일.bin")
	assert.Equal(t, domain.CategoryOther, cl.Category)
	assert.Nil(t, cl.MeetingSubtype)
	assert.Equal(t, "알수없는파일.bin", cl.StandardizedName)
}
