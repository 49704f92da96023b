package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/councilkb/councilkb/internal/domain"
)

func TestClearDownstreamRejectsOutOfRangeStep(t *testing.T) {
	s := &Store{}

	// Step 1 is ingest; regressing before classify or past embed is never
	// sanctioned, and the range check fires before any transaction opens.
	for _, step := range []int{0, 1, 8} {
		err := s.ClearDownstream(context.Background(), uuid.New(), step)
		assert.Error(t, err, "step %d", step)
		assert.Equal(t, domain.KindInputInvalid, domain.KindOf(err), "step %d", step)
	}
}

func TestUpsertRequiresDriveID(t *testing.T) {
	s := &Store{}

	_, _, err := s.UpsertDocumentByDriveID(context.Background(), &domain.Document{})
	assert.Error(t, err)

	empty := ""
	_, _, err = s.UpsertDocumentByDriveID(context.Background(), &domain.Document{DriveID: &empty})
	assert.Error(t, err)
}
