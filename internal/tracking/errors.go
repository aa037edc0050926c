package tracking

import (
	"errors"
	"fmt"
)

// Error kinds returned by the tracking core. Callers match them with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrPartialBatch = errors.New("partial batch failure")

	// ErrDuplicateSerial is the conflict reported when an asset serial is taken.
	ErrDuplicateSerial = fmt.Errorf("duplicate serial: %w", ErrConflict)

	// ErrStale is returned by repositories when an optimistic version check
	// fails. The core retries on it and reports ErrConflict once attempts run out.
	ErrStale = errors.New("stale version")
)

// Kind labels used in logs, metrics and transport error codes
const (
	KindNotFound     = "not_found"
	KindConflict     = "conflict"
	KindInvalidInput = "invalid_input"
	KindPartialBatch = "partial_batch"
	KindInternal     = "internal"
)

// KindOf maps an error onto its kind label
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrStale):
		return KindConflict
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrPartialBatch):
		return KindPartialBatch
	default:
		return KindInternal
	}
}

func invalidf(format string, args ...any) error {
	return wrapf(ErrInvalidInput, format, args...)
}

func notFoundf(format string, args ...any) error {
	return wrapf(ErrNotFound, format, args...)
}

func conflictf(format string, args ...any) error {
	return wrapf(ErrConflict, format, args...)
}

func wrapf(kind error, format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, kind)...)
}
