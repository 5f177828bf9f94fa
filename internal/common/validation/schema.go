package validation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// recordArraySchema describes the shape of a streaming history export: an
// array of playback records. Field values are checked per record later so
// one bad timestamp does not reject the whole file.
const recordArraySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "ts": {"type": ["string", "null"]},
      "ms_played": {"type": ["number", "null"]},
      "master_metadata_track_name": {"type": ["string", "null"]},
      "master_metadata_album_artist_name": {"type": ["string", "null"]},
      "master_metadata_album_album_name": {"type": ["string", "null"]}
    }
  }
}`

var (
	recordSchema     *gojsonschema.Schema
	recordSchemaErr  error
	recordSchemaOnce sync.Once
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func loadRecordSchema() (*gojsonschema.Schema, error) {
	recordSchemaOnce.Do(func() {
		recordSchema, recordSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(recordArraySchema))
	})
	return recordSchema, recordSchemaErr
}

// ValidateRecordArray checks that data is a JSON array of history records.
// A document that is not valid JSON is reported as a single error.
func ValidateRecordArray(data []byte) *ValidationResult {
	schema, err := loadRecordSchema()
	if err != nil {
		return &ValidationResult{Errors: []ValidationError{{
			Field:   "(root)",
			Message: fmt.Sprintf("schema unavailable: %v", err),
			Code:    "SCHEMA_ERROR",
		}}}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return &ValidationResult{Errors: []ValidationError{{
			Field:   "(root)",
			Message: fmt.Sprintf("invalid JSON: %v", err),
			Code:    "INVALID_JSON",
		}}}
	}

	errors := make([]ValidationError, 0, len(result.Errors()))
	for _, resErr := range result.Errors() {
		errors = append(errors, ValidationError{
			Field:   resErr.Field(),
			Message: resErr.Description(),
			Code:    strings.ToUpper(resErr.Type()),
		})
	}

	return &ValidationResult{
		Valid:  result.Valid(),
		Errors: errors,
	}
}

func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// Summary joins at most limit error messages.
func (vr *ValidationResult) Summary(limit int) string {
	messages := vr.GetErrorMessages()
	if limit > 0 && len(messages) > limit {
		extra := len(messages) - limit
		messages = append(messages[:limit], fmt.Sprintf("and %d more", extra))
	}
	return strings.Join(messages, "; ")
}
