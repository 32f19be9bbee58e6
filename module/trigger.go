package module

import (
	"context"
	"fmt"
	"net/http"
	"sort"
)

// PipelineRunner executes a named pipeline. The engine implements it.
type PipelineRunner interface {
	ExecutePipeline(ctx context.Context, name string, data map[string]any) (*PipelineContext, error)
}

// PipelineTrigger starts runs of one pipeline.
type PipelineTrigger interface {
	// Pipeline returns the name of the pipeline the trigger starts.
	Pipeline() string
	// SetRunner gives the trigger the runner it hands trigger data to.
	SetRunner(runner PipelineRunner)
	// Activate is called when the engine starts.
	Activate(ctx context.Context) error
	// Deactivate is called when the engine stops.
	Deactivate(ctx context.Context) error
}

// HTTPTrigger is a trigger that receives requests on the engine's mux.
type HTTPTrigger interface {
	PipelineTrigger
	// Routes returns the mux patterns RegisterRoutes mounts.
	Routes() []string
	RegisterRoutes(mux *http.ServeMux)
}

// TriggerRegistry holds the triggers of all pipelines, keyed by pipeline.
type TriggerRegistry struct {
	triggers map[string]PipelineTrigger
	routes   map[string]string // mux pattern -> pipeline
}

// NewTriggerRegistry creates a new trigger registry.
func NewTriggerRegistry() *TriggerRegistry {
	return &TriggerRegistry{
		triggers: make(map[string]PipelineTrigger),
		routes:   make(map[string]string),
	}
}

// Register adds a trigger, replacing any previous one of its pipeline. A
// route already owned by another pipeline is rejected, since the mux would
// panic on it.
func (r *TriggerRegistry) Register(t PipelineTrigger) error {
	pipeline := t.Pipeline()
	var routes []string
	if ht, ok := t.(HTTPTrigger); ok {
		routes = ht.Routes()
	}
	for _, route := range routes {
		if owner, taken := r.routes[route]; taken && owner != pipeline {
			return fmt.Errorf("trigger route %q of pipeline %q conflicts with pipeline %q", route, pipeline, owner)
		}
	}

	for route, owner := range r.routes {
		if owner == pipeline {
			delete(r.routes, route)
		}
	}
	for _, route := range routes {
		r.routes[route] = pipeline
	}
	r.triggers[pipeline] = t
	return nil
}

// Get returns the trigger of a pipeline.
func (r *TriggerRegistry) Get(pipeline string) (PipelineTrigger, bool) {
	t, ok := r.triggers[pipeline]
	return t, ok
}

// All returns every trigger ordered by pipeline name.
func (r *TriggerRegistry) All() []PipelineTrigger {
	names := make([]string, 0, len(r.triggers))
	for n := range r.triggers {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]PipelineTrigger, len(names))
	for i, n := range names {
		out[i] = r.triggers[n]
	}
	return out
}
