package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies errors that cross component boundaries. Stages and
// adapters return these as tagged values; callers branch on the kind rather
// than on error text.
type ErrorKind int

const (
	// KindInputInvalid is a malformed request or datum. Never retried.
	KindInputInvalid ErrorKind = iota

	// KindExternalTemporary is a transient upstream failure (timeout, 429,
	// 5xx). Retried with backoff within a stage.
	KindExternalTemporary

	// KindExternalPermanent is a non-retryable upstream failure (other 4xx,
	// malformed response shape). Escalates immediately.
	KindExternalPermanent

	// KindStageFailed is a per-document fatal failure. The document is marked
	// failed and downstream stages do not run.
	KindStageFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindInputInvalid:
		return "input_invalid"
	case KindExternalTemporary:
		return "external_temporary"
	case KindExternalPermanent:
		return "external_permanent"
	case KindStageFailed:
		return "stage_failed"
	default:
		return "unknown"
	}
}

// KindError tags an underlying error with an ErrorKind.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// InputInvalid wraps err as a caller error.
func InputInvalid(err error) error {
	return &KindError{Kind: KindInputInvalid, Err: err}
}

// Temporary wraps err as a retryable upstream failure.
func Temporary(err error) error {
	return &KindError{Kind: KindExternalTemporary, Err: err}
}

// Permanent wraps err as a non-retryable upstream failure.
func Permanent(err error) error {
	return &KindError{Kind: KindExternalPermanent, Err: err}
}

// StageFailed wraps err as a per-document fatal failure.
func StageFailed(err error) error {
	return &KindError{Kind: KindStageFailed, Err: err}
}

// StageFailedf formats a per-document fatal failure.
func StageFailedf(format string, args ...any) error {
	return &KindError{Kind: KindStageFailed, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of err. Untagged errors default to
// KindExternalTemporary so that unexpected I/O failures get retried.
func KindOf(err error) ErrorKind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindExternalTemporary
}

// IsRetryable reports whether err should be retried within a stage.
func IsRetryable(err error) bool {
	return KindOf(err) == KindExternalTemporary
}
