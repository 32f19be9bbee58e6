package module

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"
)

// TemplateEngine resolves {{ .field }} expressions against a PipelineContext.
// Parsed templates are cached by source text.
type TemplateEngine struct {
	cache sync.Map // string -> *template.Template
}

// NewTemplateEngine creates a new TemplateEngine.
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{}
}

// templateData builds the data map that Go templates see: current values at
// the top level, plus steps, trigger, meta and any extra keys (item, index).
func templateData(pc *PipelineContext, extra map[string]any) map[string]any {
	data := make(map[string]any, len(pc.Current)+3+len(extra))
	maps.Copy(data, pc.Current)
	data["steps"] = pc.StepOutputs
	data["trigger"] = pc.TriggerData
	data["meta"] = pc.Metadata
	maps.Copy(data, extra)
	return data
}

// Resolve evaluates a template string against a PipelineContext.
// If the string does not contain {{ }}, it is returned as-is.
func (te *TemplateEngine) Resolve(tmplStr string, pc *PipelineContext) (string, error) {
	return te.resolve(tmplStr, templateData(pc, nil))
}

// ResolveMap evaluates all string values in a map that contain {{ }} expressions.
func (te *TemplateEngine) ResolveMap(data map[string]any, pc *PipelineContext) (map[string]any, error) {
	return te.ResolveMapWith(data, pc, nil)
}

// ResolveMapWith is ResolveMap with additional top-level template data.
// Nested maps and lists are resolved recursively.
func (te *TemplateEngine) ResolveMapWith(data map[string]any, pc *PipelineContext, extra map[string]any) (map[string]any, error) {
	td := templateData(pc, extra)
	return te.resolveMap(data, td)
}

func (te *TemplateEngine) resolveMap(data map[string]any, td map[string]any) (map[string]any, error) {
	result := make(map[string]any, len(data))
	for k, v := range data {
		resolved, err := te.resolveValue(v, td)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		result[k] = resolved
	}
	return result, nil
}

func (te *TemplateEngine) resolveValue(v any, td map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return te.resolve(val, td)
	case map[string]any:
		return te.resolveMap(val, td)
	case []any:
		resolved := make([]any, len(val))
		for i, item := range val {
			r, err := te.resolveValue(item, td)
			if err != nil {
				return nil, err
			}
			resolved[i] = r
		}
		return resolved, nil
	default:
		return v, nil
	}
}

func (te *TemplateEngine) resolve(tmplStr string, td map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	var t *template.Template
	if cached, ok := te.cache.Load(tmplStr); ok {
		t = cached.(*template.Template)
	} else {
		parsed, err := template.New("").Funcs(templateFuncMap()).Option("missingkey=zero").Parse(tmplStr)
		if err != nil {
			return "", fmt.Errorf("template parse error: %w", err)
		}
		te.cache.Store(tmplStr, parsed)
		t = parsed
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, td); err != nil {
		return "", fmt.Errorf("template exec error: %w", err)
	}
	// missingkey=zero renders absent map keys as "<no value>".
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// templateFuncMap returns the function map available in pipeline templates.
func templateFuncMap() template.FuncMap {
	return template.FuncMap{
		"uuid": func() string {
			return uuid.New().String()
		},
		// now formats the current UTC time; the default layout is RFC3339.
		"now": func(args ...string) string {
			layout := time.RFC3339
			if len(args) > 0 && args[0] != "" {
				layout = args[0]
			}
			return time.Now().UTC().Format(layout)
		},
		// today is the current UTC date, the format Gusto expects for dates.
		"today": func() string {
			return time.Now().UTC().Format(time.DateOnly)
		},
		"lower": strings.ToLower,
		"upper": strings.ToUpper,
		"default": func(fallback, val any) any {
			if val == nil {
				return fallback
			}
			if s, ok := val.(string); ok && s == "" {
				return fallback
			}
			return val
		},
		"json": func(v any) string {
			b, err := json.Marshal(v)
			if err != nil {
				return "{}"
			}
			return string(b)
		},
	}
}
