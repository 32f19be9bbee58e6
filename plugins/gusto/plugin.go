// Package gusto provides the EnginePlugin for the Gusto integration:
//
//   - module types: gusto.credential, staticdata.memory, staticdata.redis,
//     staticdata.sqlite, staticdata.postgres, metrics.collector,
//     observability.otel
//   - step type: step.gusto
//   - trigger type: gusto
package gusto

import (
	"github.com/GoCodeAlone/gustoflow/module"
	"github.com/GoCodeAlone/gustoflow/plugin"
	"github.com/GoCodeAlone/gustoflow/schema"
	"github.com/GoCodeAlone/modular"
)

// Plugin registers the Gusto module, step and trigger types.
type Plugin struct {
	plugin.BaseEnginePlugin
}

// New creates a new Gusto plugin.
func New() *Plugin {
	return &Plugin{
		BaseEnginePlugin: plugin.BaseEnginePlugin{
			PluginName:        "gusto",
			PluginVersion:     "1.0.0",
			PluginDescription: "Gusto HR and payroll credential, resource step and webhook trigger",
			Manifest: plugin.PluginManifest{
				Name:        "gusto",
				Version:     "1.0.0",
				Author:      "GoCodeAlone",
				Description: "Gusto HR and payroll integration",
				ModuleTypes: []string{
					module.GustoCredentialType,
					"staticdata.memory",
					"staticdata.redis",
					"staticdata.sqlite",
					"staticdata.postgres",
					module.MetricsServiceName,
					"observability.otel",
				},
				StepTypes:    []string{module.GustoStepType},
				TriggerTypes: []string{module.GustoTriggerType},
			},
		},
	}
}

// ModuleFactories returns the module factories of the plugin.
func (p *Plugin) ModuleFactories() map[string]plugin.ModuleFactory {
	return moduleFactories()
}

// StepFactories returns the step.gusto factory.
func (p *Plugin) StepFactories() map[string]plugin.StepFactory {
	factory := module.NewGustoStepFactory()
	return map[string]plugin.StepFactory{
		module.GustoStepType: func(name string, cfg map[string]any, app modular.Application) (any, error) {
			return factory(name, cfg, app)
		},
	}
}

// TriggerFactories returns the gusto trigger factory.
func (p *Plugin) TriggerFactories() map[string]plugin.TriggerFactory {
	return map[string]plugin.TriggerFactory{
		module.GustoTriggerType: func(pipeline string, cfg map[string]any, app modular.Application) (any, error) {
			return module.NewGustoTrigger(pipeline, cfg, app)
		},
	}
}

// ModuleSchemas returns the schemas of every type the plugin registers.
func (p *Plugin) ModuleSchemas() []*schema.ModuleSchema {
	return append([]*schema.ModuleSchema{
		module.GustoCredentialSchema(),
		module.GustoNodeSchema(),
		module.GustoTriggerSchema(),
	}, moduleSchemas()...)
}
