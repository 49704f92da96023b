package adapters

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councilkb/councilkb/internal/domain"
)

func TestMapHTTPError(t *testing.T) {
	netErr := errors.New("connection refused")
	assert.Equal(t, domain.KindExternalTemporary, domain.KindOf(MapHTTPError(0, netErr)))

	assert.Equal(t, domain.KindExternalTemporary, domain.KindOf(MapHTTPError(429, nil)))
	assert.Equal(t, domain.KindExternalTemporary, domain.KindOf(MapHTTPError(500, nil)))
	assert.Equal(t, domain.KindExternalTemporary, domain.KindOf(MapHTTPError(503, nil)))

	assert.Equal(t, domain.KindExternalPermanent, domain.KindOf(MapHTTPError(400, nil)))
	assert.Equal(t, domain.KindExternalPermanent, domain.KindOf(MapHTTPError(404, nil)))

	assert.NoError(t, MapHTTPError(200, nil))
	assert.NoError(t, MapHTTPError(204, nil))
}

func TestRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return domain.Permanent(errors.New("bad request"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "permanent failures are not retried")
}

func TestRetryRecoversFromTemporary(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		if calls < 2 {
			return domain.Temporary(errors.New("flaky"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryGivesUpAfterBudget(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return domain.Temporary(errors.New("always down"))
	})

	require.Error(t, err)
	assert.Equal(t, RetryAttempts, calls)
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, func() error {
		return domain.Temporary(errors.New("down"))
	})
	require.Error(t, err)
}
