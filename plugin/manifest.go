package plugin

import (
	"fmt"
	"regexp"
	"slices"
)

// PluginManifest describes a plugin and the types it contributes.
type PluginManifest struct {
	Name         string   `json:"name" yaml:"name"`
	Version      string   `json:"version" yaml:"version"`
	Author       string   `json:"author" yaml:"author"`
	Description  string   `json:"description" yaml:"description"`
	ModuleTypes  []string `json:"moduleTypes,omitempty" yaml:"moduleTypes,omitempty"`
	StepTypes    []string `json:"stepTypes,omitempty" yaml:"stepTypes,omitempty"`
	TriggerTypes []string `json:"triggerTypes,omitempty" yaml:"triggerTypes,omitempty"`
}

var (
	pluginNameRe = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	semverRe     = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// Validate checks that a manifest has all required fields and a valid version.
func (m *PluginManifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest: name is required")
	}
	if !pluginNameRe.MatchString(m.Name) {
		return fmt.Errorf("manifest: name %q must be lowercase alphanumeric with hyphens", m.Name)
	}
	if !semverRe.MatchString(m.Version) {
		return fmt.Errorf("manifest: invalid version %q", m.Version)
	}
	if m.Author == "" {
		return fmt.Errorf("manifest: author is required")
	}
	if m.Description == "" {
		return fmt.Errorf("manifest: description is required")
	}
	return nil
}

// declares reports whether the manifest lists typeName in list.
func declares(list []string, typeName string) bool {
	return slices.Contains(list, typeName)
}
