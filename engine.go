package gustoflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/GoCodeAlone/gustoflow/config"
	"github.com/GoCodeAlone/gustoflow/module"
	"github.com/GoCodeAlone/gustoflow/plugin"
	"github.com/GoCodeAlone/gustoflow/schema"
	"github.com/GoCodeAlone/gustoflow/secrets"
	"github.com/GoCodeAlone/modular"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrPipelineNotFound is returned by ExecutePipeline for an unknown name.
var ErrPipelineNotFound = errors.New("pipeline not found")

// StdEngine builds modules, pipelines and triggers from a workflow config
// using the factories of loaded plugins.
type StdEngine struct {
	app       modular.Application
	logger    *slog.Logger
	loader    *plugin.PluginLoader
	steps     *module.StepRegistry
	triggers  *module.TriggerRegistry
	pipelines map[string]*module.Pipeline
	metrics   *module.MetricsCollector
}

// NewStdEngine creates a new engine. Plugins must be loaded before
// BuildFromConfig is called.
func NewStdEngine(app modular.Application, logger *slog.Logger) *StdEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdEngine{
		app:       app,
		logger:    logger,
		loader:    plugin.NewPluginLoader(schema.NewModuleSchemaRegistry()),
		steps:     module.NewStepRegistry(),
		triggers:  module.NewTriggerRegistry(),
		pipelines: make(map[string]*module.Pipeline),
	}
}

// LoadPlugin registers the module, step and trigger types of p.
func (e *StdEngine) LoadPlugin(p plugin.EnginePlugin) error {
	if err := e.loader.LoadPlugin(p); err != nil {
		return err
	}
	for stepType, factory := range p.StepFactories() {
		e.steps.Register(stepType, adaptStepFactory(stepType, factory))
	}
	e.logger.Debug("Loaded plugin", "plugin", p.Name(), "version", p.Version())
	return nil
}

// adaptStepFactory turns a plugin step factory into a typed one.
func adaptStepFactory(stepType string, f plugin.StepFactory) module.StepFactory {
	return func(name string, cfg map[string]any, app modular.Application) (module.PipelineStep, error) {
		raw, err := f(name, cfg, app)
		if err != nil {
			return nil, err
		}
		step, ok := raw.(module.PipelineStep)
		if !ok {
			return nil, fmt.Errorf("step type %q produced %T, not a pipeline step", stepType, raw)
		}
		return step, nil
	}
}

// SchemaRegistry returns the schemas of every loaded type.
func (e *StdEngine) SchemaRegistry() *schema.ModuleSchemaRegistry {
	return e.loader.SchemaRegistry()
}

// App returns the underlying modular application.
func (e *StdEngine) App() modular.Application { return e.app }

// BuildFromConfig registers and initialises the configured modules, then
// builds every pipeline and its trigger.
func (e *StdEngine) BuildFromConfig(ctx context.Context, cfg *config.WorkflowConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	resolver, err := newSecretsResolver(cfg.Secrets)
	if err != nil {
		return err
	}

	factories := e.loader.ModuleFactories()
	for _, modCfg := range cfg.Modules {
		factory, ok := factories[modCfg.Type]
		if !ok {
			return fmt.Errorf("module %q: unknown module type %q", modCfg.Name, modCfg.Type)
		}
		modConfig, err := resolver.ResolveMap(ctx, config.ExpandEnv(nonNil(modCfg.Config)))
		if err != nil {
			return fmt.Errorf("module %q: %w", modCfg.Name, err)
		}
		if s := e.loader.SchemaRegistry().Get(modCfg.Type); s != nil {
			if err := s.ValidateConfig("modules."+modCfg.Name, modConfig); err != nil {
				return err
			}
		}
		mod := factory(modCfg.Name, modConfig)
		if mod == nil {
			return fmt.Errorf("module %q: type %q rejected its config", modCfg.Name, modCfg.Type)
		}
		e.logger.Debug("Registering module", "module", modCfg.Name, "type", modCfg.Type)
		e.app.RegisterModule(mod)
	}

	if err := e.app.Init(); err != nil {
		return fmt.Errorf("failed to initialize modules: %w", err)
	}

	var mc *module.MetricsCollector
	if err := e.app.GetService(module.MetricsServiceName, &mc); err == nil {
		e.metrics = mc
	}

	names := make([]string, 0, len(cfg.Pipelines))
	for name := range cfg.Pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := e.buildPipeline(ctx, resolver, name, cfg.Pipelines[name]); err != nil {
			return fmt.Errorf("pipeline %q: %w", name, err)
		}
	}
	return nil
}

func (e *StdEngine) buildPipeline(ctx context.Context, resolver *secrets.Resolver, name string, pc config.PipelineConfig) error {
	timeout, err := pc.ParsedTimeout()
	if err != nil {
		return err
	}
	p := &module.Pipeline{
		Name:    name,
		OnError: module.ErrorStrategyStop,
		Timeout: timeout,
		Logger:  e.logger,
		Metrics: e.metrics,
	}
	if pc.OnError != "" {
		p.OnError = module.ErrorStrategy(pc.OnError)
	}

	for _, sc := range pc.Steps {
		// Step configs carry templates, so only secret references are
		// resolved here; ${VAR} is left alone.
		stepConfig, err := resolver.ResolveMap(ctx, nonNil(sc.Config))
		if err != nil {
			return fmt.Errorf("step %q: %w", sc.Name, err)
		}
		step, err := e.steps.Create(sc.Type, sc.Name, stepConfig, e.app)
		if err != nil {
			return fmt.Errorf("step %q: %w", sc.Name, err)
		}
		p.Steps = append(p.Steps, step)
	}
	e.pipelines[name] = p

	if pc.Trigger.Type == "" {
		return nil
	}
	factory, ok := e.loader.TriggerFactories()[pc.Trigger.Type]
	if !ok {
		return fmt.Errorf("unknown trigger type %q", pc.Trigger.Type)
	}
	trigConfig, err := resolver.ResolveMap(ctx, config.ExpandEnv(nonNil(pc.Trigger.Config)))
	if err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	raw, err := factory(name, trigConfig, e.app)
	if err != nil {
		return err
	}
	trig, ok := raw.(module.PipelineTrigger)
	if !ok {
		return fmt.Errorf("trigger type %q produced %T, not a pipeline trigger", pc.Trigger.Type, raw)
	}
	trig.SetRunner(e)
	if err := e.triggers.Register(trig); err != nil {
		return err
	}
	e.logger.Debug("Configured trigger", "pipeline", name, "type", pc.Trigger.Type)
	return nil
}

func newSecretsResolver(cfg *config.SecretsConfig) (*secrets.Resolver, error) {
	if cfg == nil {
		return secrets.NewResolver(secrets.NewEnvProvider("")), nil
	}
	provider, err := secrets.NewProvider(cfg.Provider, cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	return secrets.NewResolver(provider), nil
}

// Start starts all modules, then activates every trigger.
func (e *StdEngine) Start(ctx context.Context) error {
	if err := e.app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}
	var active []module.PipelineTrigger
	for _, trig := range e.triggers.All() {
		if err := trig.Activate(ctx); err != nil {
			// Roll back so no subscription outlives a failed start.
			for _, a := range active {
				if derr := a.Deactivate(ctx); derr != nil {
					e.logger.Error("Failed to deactivate trigger after start failure", "pipeline", a.Pipeline(), "error", derr)
				}
			}
			return fmt.Errorf("failed to activate trigger of pipeline %q: %w", trig.Pipeline(), err)
		}
		active = append(active, trig)
		e.logger.Info("Trigger activated", "pipeline", trig.Pipeline())
	}
	return nil
}

// Stop deactivates triggers, waits for runs they started and then stops all
// modules. Every failure is logged; the last one is returned.
func (e *StdEngine) Stop(ctx context.Context) error {
	var lastErr error
	for _, trig := range e.triggers.All() {
		if err := trig.Deactivate(ctx); err != nil {
			lastErr = fmt.Errorf("failed to deactivate trigger of pipeline %q: %w", trig.Pipeline(), err)
			e.logger.Error(lastErr.Error())
		}
		if w, ok := trig.(interface{ Wait() }); ok {
			w.Wait()
		}
	}
	if err := e.app.Stop(); err != nil {
		lastErr = fmt.Errorf("failed to stop application: %w", err)
		e.logger.Error(lastErr.Error())
	}
	return lastErr
}

// ExecutePipeline runs the named pipeline with data as trigger data.
func (e *StdEngine) ExecutePipeline(ctx context.Context, name string, data map[string]any) (*module.PipelineContext, error) {
	p, ok := e.pipelines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, name)
	}
	return p.Execute(ctx, data)
}

// Pipelines returns the names of all built pipelines, sorted.
func (e *StdEngine) Pipelines() []string {
	names := make([]string, 0, len(e.pipelines))
	for name := range e.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Triggers returns the triggers of all pipelines ordered by pipeline name.
func (e *StdEngine) Triggers() []module.PipelineTrigger {
	return e.triggers.All()
}

// Handler returns the engine's HTTP surface: webhook routes of the
// triggers, the options and schema APIs, /healthz and /metrics.
func (e *StdEngine) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if e.metrics != nil {
		mux.Handle("GET "+e.metrics.MetricsPath(), e.metrics.Handler())
	}
	schema.RegisterRoutes(mux, e.loader.SchemaRegistry())
	module.NewGustoOptionsHandler(e.app).RegisterRoutes(mux)
	for _, trig := range e.triggers.All() {
		if ht, ok := trig.(module.HTTPTrigger); ok {
			ht.RegisterRoutes(mux)
		}
	}
	return otelhttp.NewHandler(mux, "gustoflow")
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

var _ module.PipelineRunner = (*StdEngine)(nil)
