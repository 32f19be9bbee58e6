package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModuleConfig represents a single module configuration
type ModuleConfig struct {
	Name      string         `json:"name" yaml:"name"`
	Type      string         `json:"type" yaml:"type"`
	Config    map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	DependsOn []string       `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
}

// WorkflowConfig is the top-level document loaded by the server and gustoctl.
type WorkflowConfig struct {
	Name        string                    `json:"name,omitempty" yaml:"name,omitempty"`
	Description string                    `json:"description,omitempty" yaml:"description,omitempty"`
	Modules     []ModuleConfig            `json:"modules" yaml:"modules"`
	Pipelines   map[string]PipelineConfig `json:"pipelines,omitempty" yaml:"pipelines,omitempty"`
	Secrets     *SecretsConfig            `json:"secrets,omitempty" yaml:"secrets,omitempty"`
}

// SecretsConfig selects the provider used to resolve secret:// references.
type SecretsConfig struct {
	Provider string         `json:"provider" yaml:"provider"` // env, file, vault
	Config   map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// LoadFromFile loads a workflow configuration from a YAML file
func LoadFromFile(filepath string) (*WorkflowConfig, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LoadFromBytes parses a YAML document into a WorkflowConfig.
func LoadFromBytes(data []byte) (*WorkflowConfig, error) {
	var cfg WorkflowConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.Pipelines == nil {
		cfg.Pipelines = make(map[string]PipelineConfig)
	}
	return &cfg, nil
}

// NewEmptyWorkflowConfig creates a new empty workflow configuration
func NewEmptyWorkflowConfig() *WorkflowConfig {
	return &WorkflowConfig{
		Modules:   make([]ModuleConfig, 0),
		Pipelines: make(map[string]PipelineConfig),
	}
}

// Validate performs structural checks that do not depend on registered
// module or step types. All problems are reported together.
func (c *WorkflowConfig) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Modules))
	for i, m := range c.Modules {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("modules[%d]: name is required", i))
		} else if seen[m.Name] {
			errs = append(errs, fmt.Errorf("modules[%d]: duplicate module name %q", i, m.Name))
		}
		seen[m.Name] = true
		if m.Type == "" {
			errs = append(errs, fmt.Errorf("modules[%d] %q: type is required", i, m.Name))
		}
	}
	for _, m := range c.Modules {
		for _, dep := range m.DependsOn {
			if !seen[dep] {
				errs = append(errs, fmt.Errorf("module %q depends on unknown module %q", m.Name, dep))
			}
		}
	}
	for name, p := range c.Pipelines {
		if err := p.validate(); err != nil {
			errs = append(errs, fmt.Errorf("pipeline %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// ExpandEnv returns a copy of m with ${VAR} and $VAR references expanded in
// every string value, recursing into nested maps and slices.
func ExpandEnv(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = expandValue(v)
	}
	return out
}

func expandValue(v any) any {
	switch val := v.(type) {
	case string:
		if !strings.Contains(val, "$") {
			return val
		}
		return os.ExpandEnv(val)
	case map[string]any:
		return ExpandEnv(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = expandValue(item)
		}
		return out
	default:
		return v
	}
}
