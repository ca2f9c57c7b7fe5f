package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed config_schema.json
var configSchemaJSON []byte

// Severity categorizes a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding, located by a JSON-pointer-like path.
type Issue struct {
	Severity Severity `json:"severity"`
	Path     string   `json:"path"`
	Message  string   `json:"message"`
}

// ValidationResult reports structural checks as data; advisory validation
// never throws.
type ValidationResult struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues,omitempty"`
}

func (r *ValidationResult) addIssue(severity Severity, path, msg string) {
	if severity == SeverityError {
		r.Valid = false
	}
	r.Issues = append(r.Issues, Issue{Severity: severity, Path: path, Message: msg})
}

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(configSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("config_schema.json", doc); err != nil {
		return nil, fmt.Errorf("failed to register schema: %w", err)
	}
	return c.Compile("config_schema.json")
})

// ValidateConfig structurally validates a config document (the registry, the
// settings document, or a combined team config). The top level must be a
// JSON object; section contents are checked against the embedded schema.
// Findings come back as categorized issues rather than errors.
func ValidateConfig(doc any) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if doc == nil {
		result.addIssue(SeverityError, "/", "document is null, expected an object")
		return result
	}

	inst, err := normalizeInstance(doc)
	if err != nil {
		result.addIssue(SeverityError, "/", fmt.Sprintf("document is not valid JSON: %v", err))
		return result
	}

	schema, err := compileSchema()
	if err != nil {
		// Broken embedded schema is a programming error, not a document
		// problem; report it rather than panicking.
		result.addIssue(SeverityError, "/", fmt.Sprintf("schema unavailable: %v", err))
		return result
	}

	if err := schema.Validate(inst); err != nil {
		var valErr *jsonschema.ValidationError
		if errors.As(err, &valErr) {
			printer := message.NewPrinter(language.English)
			collectIssues(valErr, printer, result)
		} else {
			result.addIssue(SeverityError, "/", err.Error())
		}
		return result
	}

	if obj, ok := inst.(map[string]any); ok {
		if _, hasRepos := obj["repositories"]; !hasRepos {
			if _, hasEnabled := obj[enabledPluginsKey]; !hasEnabled {
				result.addIssue(SeverityWarning, "/",
					"document contains neither repositories nor enabledPlugins")
			}
		}
	}
	return result
}

// normalizeInstance converts the caller's document into the decoded form the
// schema engine expects.
func normalizeInstance(doc any) (any, error) {
	var raw []byte
	switch v := doc.(type) {
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	case string:
		raw = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}

// collectIssues flattens the validation error tree into leaf issues.
func collectIssues(e *jsonschema.ValidationError, printer *message.Printer, result *ValidationResult) {
	if len(e.Causes) == 0 {
		path := "/" + strings.Join(e.InstanceLocation, "/")
		result.addIssue(SeverityError, path, e.ErrorKind.LocalizedString(printer))
		return
	}
	for _, cause := range e.Causes {
		collectIssues(cause, printer, result)
	}
}
