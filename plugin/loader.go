package plugin

import (
	"fmt"
	"maps"

	"github.com/GoCodeAlone/gustoflow/schema"
)

// PluginLoader loads EnginePlugins and populates registries.
type PluginLoader struct {
	moduleFactories  map[string]ModuleFactory
	stepFactories    map[string]StepFactory
	triggerFactories map[string]TriggerFactory
	schemaRegistry   *schema.ModuleSchemaRegistry
	plugins          []EnginePlugin
}

// NewPluginLoader creates a new PluginLoader backed by the given schema registry.
func NewPluginLoader(schemaReg *schema.ModuleSchemaRegistry) *PluginLoader {
	return &PluginLoader{
		moduleFactories:  make(map[string]ModuleFactory),
		stepFactories:    make(map[string]StepFactory),
		triggerFactories: make(map[string]TriggerFactory),
		schemaRegistry:   schemaReg,
	}
}

// LoadPlugin validates a plugin's manifest and registers its factories and
// schemas. Every factory must be declared in the manifest, and a type may
// only be registered once across all loaded plugins.
func (l *PluginLoader) LoadPlugin(p EnginePlugin) error {
	manifest := p.EngineManifest()
	if err := manifest.Validate(); err != nil {
		return fmt.Errorf("plugin %q: %w", manifest.Name, err)
	}

	for typeName, factory := range p.ModuleFactories() {
		if !declares(manifest.ModuleTypes, typeName) {
			return fmt.Errorf("plugin %q: module type %q not declared in manifest", manifest.Name, typeName)
		}
		if _, exists := l.moduleFactories[typeName]; exists {
			return fmt.Errorf("plugin %q: module type %q already registered", manifest.Name, typeName)
		}
		l.moduleFactories[typeName] = factory
	}

	for typeName, factory := range p.StepFactories() {
		if !declares(manifest.StepTypes, typeName) {
			return fmt.Errorf("plugin %q: step type %q not declared in manifest", manifest.Name, typeName)
		}
		if _, exists := l.stepFactories[typeName]; exists {
			return fmt.Errorf("plugin %q: step type %q already registered", manifest.Name, typeName)
		}
		l.stepFactories[typeName] = factory
	}

	for typeName, factory := range p.TriggerFactories() {
		if !declares(manifest.TriggerTypes, typeName) {
			return fmt.Errorf("plugin %q: trigger type %q not declared in manifest", manifest.Name, typeName)
		}
		if _, exists := l.triggerFactories[typeName]; exists {
			return fmt.Errorf("plugin %q: trigger type %q already registered", manifest.Name, typeName)
		}
		l.triggerFactories[typeName] = factory
	}

	if l.schemaRegistry != nil {
		for _, s := range p.ModuleSchemas() {
			l.schemaRegistry.Register(s)
		}
	}

	l.plugins = append(l.plugins, p)
	return nil
}

// ModuleFactories returns a copy of all registered module factories.
func (l *PluginLoader) ModuleFactories() map[string]ModuleFactory {
	return maps.Clone(l.moduleFactories)
}

// StepFactories returns a copy of all registered step factories.
func (l *PluginLoader) StepFactories() map[string]StepFactory {
	return maps.Clone(l.stepFactories)
}

// TriggerFactories returns a copy of all registered trigger factories.
func (l *PluginLoader) TriggerFactories() map[string]TriggerFactory {
	return maps.Clone(l.triggerFactories)
}

// SchemaRegistry returns the schema registry plugins were loaded into.
func (l *PluginLoader) SchemaRegistry() *schema.ModuleSchemaRegistry {
	return l.schemaRegistry
}

// LoadedPlugins returns all successfully loaded plugins in load order.
func (l *PluginLoader) LoadedPlugins() []EnginePlugin {
	out := make([]EnginePlugin, len(l.plugins))
	copy(out, l.plugins)
	return out
}
