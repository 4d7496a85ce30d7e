package document

import (
	"errors"
	"fmt"
)

// Error kinds returned by Process. Match them with errors.Is.
var (
	ErrInvalidReference     = errors.New("invalid document reference")
	ErrUnsupportedReference = errors.New("unsupported document reference")
	ErrUnsupportedFormat    = errors.New("unsupported file format")
	ErrFetchFailed          = errors.New("document fetch failed")
	ErrExtractionFailed     = errors.New("text extraction failed")
)

// Error is the typed failure returned by the pipeline.
type Error struct {
	Kind      error
	Reference string
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Reference)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Reference, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, ref string, cause error) *Error {
	return &Error{Kind: kind, Reference: ref, Err: cause}
}

// KindOf returns the error kind carried by err, or nil when err did not come
// from the pipeline.
func KindOf(err error) error {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind
	}
	return nil
}

// kindLabel names an error kind for metrics.
func kindLabel(err error) string {
	switch KindOf(err) {
	case ErrInvalidReference:
		return "invalid_reference"
	case ErrUnsupportedReference:
		return "unsupported_reference"
	case ErrUnsupportedFormat:
		return "unsupported_format"
	case ErrFetchFailed:
		return "fetch_failed"
	case ErrExtractionFailed:
		return "extraction_failed"
	default:
		return "error"
	}
}
