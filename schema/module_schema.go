package schema

import (
	"sort"
	"sync"
)

// ConfigFieldType represents the type of a configuration field.
type ConfigFieldType string

const (
	FieldTypeString      ConfigFieldType = "string"
	FieldTypeNumber      ConfigFieldType = "number"
	FieldTypeBool        ConfigFieldType = "boolean"
	FieldTypeSelect      ConfigFieldType = "select"
	FieldTypeMultiSelect ConfigFieldType = "multiSelect"
	FieldTypeDate        ConfigFieldType = "date"
	FieldTypeJSON        ConfigFieldType = "json"
	FieldTypeArray       ConfigFieldType = "array"
	FieldTypeMap         ConfigFieldType = "map"
	FieldTypeCollection  ConfigFieldType = "collection"
	FieldTypeHidden      ConfigFieldType = "hidden"
)

// Option is one choice of a select or multiSelect field.
type Option struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// OptionValue is a dynamically loaded choice, e.g. a company picked by name.
type OptionValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ConfigFieldDef describes a single configuration field for a module type.
type ConfigFieldDef struct {
	Key          string          `json:"key"`
	Label        string          `json:"label"`
	Type         ConfigFieldType `json:"type"`
	Description  string          `json:"description,omitempty"`
	Required     bool            `json:"required,omitempty"`
	DefaultValue any             `json:"defaultValue,omitempty"`
	Options      []Option        `json:"options,omitempty"`     // for select and multiSelect
	OptionsFrom  string          `json:"optionsFrom,omitempty"` // name of a load-options callback
	Placeholder  string          `json:"placeholder,omitempty"`
	Group        string          `json:"group,omitempty"`
	Sensitive    bool            `json:"sensitive,omitempty"`
	// ShowWhen restricts the field to configs whose keys hold one of the
	// listed values, e.g. {"resource": ["employee"], "operation": ["create"]}.
	ShowWhen map[string][]string `json:"showWhen,omitempty"`
	// Fields lists the sub-fields of a collection field.
	Fields []ConfigFieldDef `json:"fields,omitempty"`
}

// Visible reports whether the field applies to cfg.
func (f ConfigFieldDef) Visible(cfg map[string]any) bool {
	for key, allowed := range f.ShowWhen {
		v, _ := cfg[key].(string)
		match := false
		for _, a := range allowed {
			if a == v {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

// OptionValues returns the raw values of the field's options.
func (f ConfigFieldDef) OptionValues() []string {
	out := make([]string, len(f.Options))
	for i, o := range f.Options {
		out[i] = o.Value
	}
	return out
}

// ModuleSchema describes the full configuration schema for a module, step
// or trigger type.
type ModuleSchema struct {
	Type          string           `json:"type"`
	Label         string           `json:"label"`
	Category      string           `json:"category"`
	Description   string           `json:"description,omitempty"`
	ConfigFields  []ConfigFieldDef `json:"configFields"`
	DefaultConfig map[string]any   `json:"defaultConfig,omitempty"`
}

// Field returns the first visible field with the given key.
func (s *ModuleSchema) Field(key string, cfg map[string]any) (ConfigFieldDef, bool) {
	for _, f := range s.ConfigFields {
		if f.Key == key && f.Visible(cfg) {
			return f, true
		}
	}
	return ConfigFieldDef{}, false
}

// ModuleSchemaRegistry holds all known configuration schemas.
type ModuleSchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*ModuleSchema
}

// NewModuleSchemaRegistry creates an empty registry. Plugins fill it.
func NewModuleSchemaRegistry() *ModuleSchemaRegistry {
	return &ModuleSchemaRegistry{schemas: make(map[string]*ModuleSchema)}
}

// Register adds or replaces a module schema.
func (r *ModuleSchemaRegistry) Register(s *ModuleSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.Type] = s
}

// Get returns the schema for a module type, or nil if not found.
func (r *ModuleSchemaRegistry) Get(moduleType string) *ModuleSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schemas[moduleType]
}

// All returns all registered schemas sorted by type.
func (r *ModuleSchemaRegistry) All() []*ModuleSchema {
	r.mu.RLock()
	out := make([]*ModuleSchema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Types returns a sorted list of all registered type identifiers.
func (r *ModuleSchemaRegistry) Types() []string {
	r.mu.RLock()
	types := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	r.mu.RUnlock()
	sort.Strings(types)
	return types
}
