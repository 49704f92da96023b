// Package adapters holds the shared retry and error-mapping envelope for the
// external service clients (drive, parser, LLM, embedder). Each client lives
// in its own subpackage; this package only carries what they all need.
package adapters

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/councilkb/councilkb/internal/domain"
)

const (
	// Retry envelope for transient failures: exponential backoff from
	// RetryBase capped at RetryCap, at most RetryAttempts tries.
	RetryBase     = 1 * time.Second
	RetryCap      = 60 * time.Second
	RetryAttempts = 3
)

// Retry runs op with the standard backoff envelope. Only errors tagged (or
// defaulting to) ExternalTemporary are retried; anything else stops the loop
// immediately.
func Retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = RetryBase
	bo.MaxInterval = RetryCap

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, RetryAttempts-1), ctx))
}

// MapHTTPError classifies a response status into an error kind. Network-level
// failures (timeouts, refused connections) arrive as err and are always
// transient; HTTP-level failures are classified by status code.
func MapHTTPError(status int, err error) error {
	if err != nil {
		return domain.Temporary(err)
	}

	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return domain.Temporary(errors.New(http.StatusText(status)))
	case status >= 400:
		return domain.Permanent(errors.New(http.StatusText(status)))
	default:
		return nil
	}
}
