package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/maskwriter/runtime/pkg/maskexport"
)

// ErrInvalidDocument marks a job or product document that was read but
// failed to parse, validate or convert.
var ErrInvalidDocument = errors.New("invalid document")

// LoadJob parses, validates and converts a job file.
// On failure the returned Result carries the parse and validation details.
func LoadJob(path string) (*maskexport.Job, *Result, error) {
	result := ParseFile(path, KindJob)
	if !result.IsValid() {
		return nil, result, resultError("job file", path, result)
	}
	job, err := ConvertToJob(result.Data, filepath.Dir(path))
	if err != nil {
		return nil, result, fmt.Errorf("%w: job file %s: %w", ErrInvalidDocument, path, err)
	}
	return job, result, nil
}

// LoadDescriptor parses, validates and converts a product descriptor.
// Band files are resolved against the descriptor's directory.
func LoadDescriptor(path string) (*ProductDescriptor, *Result, error) {
	result := ParseFile(path, KindProduct)
	if !result.IsValid() {
		return nil, result, resultError("product descriptor", path, result)
	}
	desc, err := ConvertToDescriptor(result.Data, filepath.Dir(path))
	if err != nil {
		return nil, result, fmt.Errorf("%w: product descriptor %s: %w", ErrInvalidDocument, path, err)
	}
	return desc, result, nil
}

// resultError reports an unreadable file as a plain error and anything else
// as ErrInvalidDocument.
func resultError(what, path string, result *Result) error {
	if len(result.ParseErrors) > 0 && result.ParseErrors[0].Type == ErrorTypeIO {
		return fmt.Errorf("%s %s: %w", what, path, result.Err())
	}
	return fmt.Errorf("%w: %s %s: %w", ErrInvalidDocument, what, path, result.Err())
}
