package plugin

import (
	"github.com/GoCodeAlone/gustoflow/schema"
	"github.com/GoCodeAlone/modular"
)

// EnginePlugin contributes module types, pipeline step types, pipeline
// trigger types and their configuration schemas to the engine.
type EnginePlugin interface {
	Name() string
	Version() string
	Description() string

	// EngineManifest returns the plugin manifest.
	EngineManifest() *PluginManifest

	// ModuleFactories returns module type factories.
	// Key is the module type string (e.g., "gusto.credential").
	ModuleFactories() map[string]ModuleFactory

	// StepFactories returns pipeline step type factories.
	// Key is the step type string (e.g., "step.gusto").
	StepFactories() map[string]StepFactory

	// TriggerFactories returns pipeline trigger factories.
	// Key is the trigger type string used in pipelines.<name>.trigger.type.
	TriggerFactories() map[string]TriggerFactory

	// ModuleSchemas returns schema definitions for this plugin's types.
	ModuleSchemas() []*schema.ModuleSchema
}

// ModuleFactory creates a modular.Module from a name and config map.
type ModuleFactory func(name string, config map[string]any) modular.Module

// StepFactory creates a pipeline step from config.
// The returned value should implement module.PipelineStep; any is used to
// avoid importing the module package here. The app parameter gives the step
// access to the service registry (credentials, static data stores).
type StepFactory func(name string, config map[string]any, app modular.Application) (any, error)

// TriggerFactory creates the trigger bound to one pipeline.
// The returned value should implement module.PipelineTrigger.
type TriggerFactory func(pipeline string, config map[string]any, app modular.Application) (any, error)

// BaseEnginePlugin provides no-op defaults for all EnginePlugin methods.
// Embed this in concrete plugin implementations to only override what you need.
type BaseEnginePlugin struct {
	PluginName        string
	PluginVersion     string
	PluginDescription string
	Manifest          PluginManifest
}

func (b *BaseEnginePlugin) Name() string        { return b.PluginName }
func (b *BaseEnginePlugin) Version() string     { return b.PluginVersion }
func (b *BaseEnginePlugin) Description() string { return b.PluginDescription }

// EngineManifest returns the plugin manifest.
func (b *BaseEnginePlugin) EngineManifest() *PluginManifest {
	return &b.Manifest
}

// ModuleFactories returns no module factories.
func (b *BaseEnginePlugin) ModuleFactories() map[string]ModuleFactory {
	return nil
}

// StepFactories returns no step factories.
func (b *BaseEnginePlugin) StepFactories() map[string]StepFactory {
	return nil
}

// TriggerFactories returns no trigger factories.
func (b *BaseEnginePlugin) TriggerFactories() map[string]TriggerFactory {
	return nil
}

// ModuleSchemas returns no module schemas.
func (b *BaseEnginePlugin) ModuleSchemas() []*schema.ModuleSchema {
	return nil
}
