package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every schema violation in an execution input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid workflow input: " + strings.Join(parts, "; ")
}

// CheckSchema reports whether raw compiles as a JSON Schema.
func CheckSchema(raw json.RawMessage) error {
	if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw)); err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}
	return nil
}

// ValidateInput checks input against a template's input schema. An empty
// input is validated as {}.
func ValidateInput(schema, input json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	var data any = map[string]any{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &data); err != nil {
			return &ValidationError{Fields: []FieldError{{Field: "(root)", Message: "input must be valid JSON"}}}
		}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewGoLoader(data))
	if err != nil {
		return fmt.Errorf("validate workflow input: %w", err)
	}
	if result.Valid() {
		return nil
	}

	fields := make([]FieldError, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		fields = append(fields, FieldError{Field: desc.Field(), Message: desc.Description()})
	}
	return &ValidationError{Fields: fields}
}
