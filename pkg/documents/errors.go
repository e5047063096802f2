package documents

import "errors"

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("document not found")
	ErrForbidden       = errors.New("access denied")
	ErrPromptTooLarge  = errors.New("prompt exceeds token budget")
	ErrEmptyCompletion = errors.New("no content generated")
	ErrMalformedOutput = errors.New("model returned malformed JSON")
	ErrFileTooLarge    = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrNoFiles         = errors.New("no files provided")
)
