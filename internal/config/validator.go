// Package config provides functionality for parsing and validating
// export job files and product descriptors (JSON/YAML).
package config

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/*.json
var schemaFS embed.FS

// schemaSpec names the embedded file and resource URL of a document kind.
type schemaSpec struct {
	file string
	url  string
}

var schemaSpecs = map[DocumentKind]schemaSpec{
	KindJob: {
		file: "schema/job-schema.json",
		url:  "https://maskwriter.dev/schemas/job/v1/job-schema.json",
	},
	KindProduct: {
		file: "schema/product-schema.json",
		url:  "https://maskwriter.dev/schemas/product/v1/product-schema.json",
	},
}

// compiledSchema caches one compiled schema per document kind.
type compiledSchema struct {
	once   sync.Once
	schema *jsonschema.Schema
	err    error
}

var compiled = map[DocumentKind]*compiledSchema{
	KindJob:     {},
	KindProduct: {},
}

// GetEmbeddedSchema returns the raw embedded schema for kind.
func GetEmbeddedSchema(kind DocumentKind) ([]byte, error) {
	spec, ok := schemaSpecs[kind]
	if !ok {
		return nil, fmt.Errorf("unknown document kind %q", kind)
	}
	return schemaFS.ReadFile(spec.file)
}

// getCompiledSchema returns the compiled JSON schema for kind, compiling it once.
func getCompiledSchema(kind DocumentKind) (*jsonschema.Schema, error) {
	entry, ok := compiled[kind]
	if !ok {
		return nil, fmt.Errorf("unknown document kind %q", kind)
	}

	entry.once.Do(func() {
		raw, err := GetEmbeddedSchema(kind)
		if err != nil {
			entry.err = fmt.Errorf("failed to read embedded schema: %w", err)
			return
		}

		var schemaDoc interface{}
		if err := json.Unmarshal(raw, &schemaDoc); err != nil {
			entry.err = fmt.Errorf("failed to parse embedded schema: %w", err)
			return
		}

		url := schemaSpecs[kind].url
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(url, schemaDoc); err != nil {
			entry.err = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}

		entry.schema, entry.err = compiler.Compile(url)
		if entry.err != nil {
			entry.err = fmt.Errorf("failed to compile schema: %w", entry.err)
		}
	})

	return entry.schema, entry.err
}

// Validate validates parsed data against the schema for kind.
func Validate(kind DocumentKind, data map[string]interface{}) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if len(data) == 0 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Path:    "/",
			Type:    "required",
			Message: "document is empty",
		})
		return result
	}

	schema, err := getCompiledSchema(kind)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Path:    "/",
			Type:    "schema",
			Message: fmt.Sprintf("failed to load schema: %v", err),
		})
		return result
	}

	if err := schema.Validate(data); err != nil {
		result.Valid = false
		var detailed *jsonschema.ValidationError
		if errors.As(err, &detailed) {
			result.Errors = convertValidationErrors(detailed)
		}
		if len(result.Errors) == 0 {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "/",
				Type:    "validation",
				Message: err.Error(),
			})
		}
	}

	return result
}

// convertValidationErrors flattens the leaf causes of a jsonschema error.
func convertValidationErrors(err *jsonschema.ValidationError) []ValidationError {
	if len(err.Causes) == 0 {
		return []ValidationError{{
			Path:    formatInstanceLocation(err.InstanceLocation),
			Type:    extractErrorType(err),
			Message: err.Error(),
		}}
	}

	var out []ValidationError
	for _, cause := range err.Causes {
		out = append(out, convertValidationErrors(cause)...)
	}
	return out
}

// formatInstanceLocation formats the instance location as a JSON pointer.
func formatInstanceLocation(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}
	return "/" + strings.Join(loc, "/")
}

// extractErrorType derives a short error type from the validation message.
func extractErrorType(err *jsonschema.ValidationError) string {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "missing propert"), strings.Contains(msg, "required"):
		return "required"
	case strings.Contains(msg, "additional propert"), strings.Contains(msg, "additionalproperties"):
		return "additionalProperties"
	case strings.Contains(msg, "pattern"), strings.Contains(msg, "does not match"):
		return "pattern"
	case strings.Contains(msg, "enum"), strings.Contains(msg, "value must be one of"):
		return "enum"
	case strings.Contains(msg, "minimum"), strings.Contains(msg, "maximum"), strings.Contains(msg, "must be >="), strings.Contains(msg, "must be <="):
		return "range"
	case strings.Contains(msg, "got "), strings.Contains(msg, "type"):
		return "type"
	default:
		return "validation"
	}
}
