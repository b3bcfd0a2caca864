// Package extract turns attachments into grounding text. Concrete OCR and
// PDF engines live outside this module; they plug in as Extractors, and
// callback-style engines are bridged with Await.
package extract

import (
	"context"
	"errors"
)

// Extractor produces plain text from a source such as a file path.
type Extractor interface {
	Extract(ctx context.Context, source string) (string, error)
}

// Func adapts a function to Extractor.
type Func func(ctx context.Context, source string) (string, error)

func (f Func) Extract(ctx context.Context, source string) (string, error) { return f(ctx, source) }

// ErrTimeout is wrapped by Await when the extractor does not finish in time.
var ErrTimeout = errors.New("extraction timed out")

// extractionError wraps any failure to produce text from a source.
type extractionError struct {
	source string
	err    error
}

func (e extractionError) Error() string { return "extract " + e.source + ": " + e.err.Error() }

func (e extractionError) Unwrap() error { return e.err }

// ErrExtraction constructs an extraction error for source.
func ErrExtraction(source string, err error) error { return extractionError{source: source, err: err} }

// IsExtractionError reports whether err came from an extractor.
func IsExtractionError(err error) bool {
	var ee extractionError
	return errors.As(err, &ee)
}

// Run calls x and normalizes its failures into extraction errors.
func Run(ctx context.Context, x Extractor, source string) (string, error) {
	text, err := x.Extract(ctx, source)
	if err != nil {
		if IsExtractionError(err) {
			return "", err
		}
		return "", ErrExtraction(source, err)
	}
	return text, nil
}
