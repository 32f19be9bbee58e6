package schema

import (
	"fmt"
	"strings"
)

// ValidationError represents a single validation failure with the path to the
// offending field and a human-readable message.
type ValidationError struct {
	Path    string // dot-separated path (e.g. "config.companyId")
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors collects multiple validation failures.
type ValidationErrors []*ValidationError

func (ve ValidationErrors) Error() string {
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("config validation failed with %d error(s):\n  - %s",
		len(ve), strings.Join(msgs, "\n  - "))
}

// ValidateConfig checks cfg against the schema. Only fields visible for cfg
// are considered; a required field must be present and, for string-like
// types, non-empty. Select values must be one of the declared options.
// Values containing template expressions are accepted as-is because they are
// only known at execution time.
func (s *ModuleSchema) ValidateConfig(prefix string, cfg map[string]any) error {
	var errs ValidationErrors
	for _, field := range s.ConfigFields {
		if !field.Visible(cfg) {
			continue
		}
		validateField(field, prefix, cfg, &errs)
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func validateField(field ConfigFieldDef, prefix string, cfg map[string]any, errs *ValidationErrors) {
	path := field.Key
	if prefix != "" {
		path = prefix + "." + field.Key
	}
	v, ok := cfg[field.Key]
	if !ok || v == nil {
		if field.Required {
			*errs = append(*errs, &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("required config field %q is missing", field.Key),
			})
		}
		return
	}

	switch field.Type {
	case FieldTypeString, FieldTypeDate, FieldTypeSelect:
		str, isStr := v.(string)
		if !isStr {
			*errs = append(*errs, &ValidationError{Path: path, Message: fmt.Sprintf("expected a string, got %T", v)})
			return
		}
		if field.Required && str == "" {
			*errs = append(*errs, &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("required config field %q must be a non-empty string", field.Key),
			})
			return
		}
		if field.Type == FieldTypeSelect && str != "" && !isTemplate(str) && len(field.Options) > 0 && !contains(field.OptionValues(), str) {
			*errs = append(*errs, &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("value %q is not one of %s", str, strings.Join(field.OptionValues(), ", ")),
			})
		}
	case FieldTypeMultiSelect:
		if str, isStr := v.(string); isStr && isTemplate(str) {
			return
		}
		list, isList := v.([]any)
		if !isList {
			*errs = append(*errs, &ValidationError{Path: path, Message: fmt.Sprintf("expected a list, got %T", v)})
			return
		}
		if field.Required && len(list) == 0 {
			*errs = append(*errs, &ValidationError{Path: path, Message: "at least one value is required"})
		}
		allowed := field.OptionValues()
		for _, item := range list {
			str, _ := item.(string)
			if isTemplate(str) {
				continue
			}
			if !contains(allowed, str) {
				*errs = append(*errs, &ValidationError{
					Path:    path,
					Message: fmt.Sprintf("value %v is not one of %s", item, strings.Join(allowed, ", ")),
				})
			}
		}
	case FieldTypeBool:
		if _, isBool := v.(bool); !isBool {
			*errs = append(*errs, &ValidationError{Path: path, Message: fmt.Sprintf("expected a boolean, got %T", v)})
		}
	case FieldTypeCollection:
		sub, isMap := v.(map[string]any)
		if !isMap {
			*errs = append(*errs, &ValidationError{Path: path, Message: fmt.Sprintf("expected an object, got %T", v)})
			return
		}
		known := make(map[string]bool, len(field.Fields))
		for _, f := range field.Fields {
			known[f.Key] = true
			validateField(f, path, sub, errs)
		}
		for k := range sub {
			if !known[k] {
				*errs = append(*errs, &ValidationError{Path: path + "." + k, Message: "unknown field"})
			}
		}
	}
}

func isTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}
