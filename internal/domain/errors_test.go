package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"input invalid", InputInvalid(base), KindInputInvalid},
		{"temporary", Temporary(base), KindExternalTemporary},
		{"permanent", Permanent(base), KindExternalPermanent},
		{"stage failed", StageFailed(base), KindStageFailed},
		{"untagged defaults to temporary", base, KindExternalTemporary},
		{"wrapped tag survives", fmt.Errorf("context; %w", Permanent(base)), KindExternalPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	base := errors.New("boom")

	assert.True(t, IsRetryable(Temporary(base)))
	assert.True(t, IsRetryable(base), "unexpected failures get retried")
	assert.False(t, IsRetryable(Permanent(base)))
	assert.False(t, IsRetryable(InputInvalid(base)))
	assert.False(t, IsRetryable(StageFailed(base)))
}

func TestKindErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	tagged := StageFailedf("stage blew up; %w", base)

	assert.ErrorIs(t, tagged, base)
	assert.Contains(t, tagged.Error(), "stage_failed")
}
