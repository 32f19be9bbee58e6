package module

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"

	"github.com/GoCodeAlone/gustoflow/schema"
	"github.com/GoCodeAlone/modular"
	"github.com/itchyny/gojq"
)

// NewGustoStepFactory returns a StepFactory for step.gusto.
//
// Example step config:
//
//	name: hire
//	type: step.gusto
//	config:
//	  credential: gusto-main
//	  resource: employee
//	  operation: create
//	  items: ".body.new_hires[]"
//	  continueOnFail: true
//	  parameters:
//	    companyId: "{{ .trigger.body.entity_uuid }}"
//	    firstName: "{{ .item.first_name }}"
func NewGustoStepFactory() StepFactory {
	return func(name string, config map[string]any, app modular.Application) (PipelineStep, error) {
		credName := configString(config, "credential")
		if credName == "" {
			return nil, fmt.Errorf("gusto step %q: 'credential' is required", name)
		}
		resource := configString(config, "resource")
		operation := configString(config, "operation")
		op, err := LookupGustoOperation(resource, operation)
		if err != nil {
			return nil, fmt.Errorf("gusto step %q: %w", name, err)
		}

		params, _ := config["parameters"].(map[string]any)
		params = maps.Clone(nonNil(params))

		// Validate the flattened node config so a misconfigured step fails at
		// build time rather than on the first item.
		flat := maps.Clone(params)
		maps.Copy(flat, map[string]any{
			"credential":     credName,
			"resource":       resource,
			"operation":      operation,
			"continueOnFail": configBool(config, "continueOnFail", false),
		})
		if err := GustoNodeSchema().ValidateConfig("", flat); err != nil {
			return nil, fmt.Errorf("gusto step %q: %w", name, err)
		}

		var items *gojq.Code
		if expr := configString(config, "items"); expr != "" {
			parsed, err := gojq.Parse(expr)
			if err != nil {
				return nil, fmt.Errorf("gusto step %q: invalid items expression %q: %w", name, expr, err)
			}
			items, err = gojq.Compile(parsed)
			if err != nil {
				return nil, fmt.Errorf("gusto step %q: failed to compile items expression %q: %w", name, expr, err)
			}
		}

		cred, err := serviceAs[GustoCredentialSource](app, credName)
		if err != nil {
			return nil, fmt.Errorf("gusto step %q: %w", name, err)
		}
		client := NewGustoClient(cred)
		if mc, err := serviceAs[*MetricsCollector](app, MetricsServiceName); err == nil {
			client.WithMetrics(mc)
		}

		return &GustoStep{
			name:           name,
			op:             op,
			client:         client,
			parameters:     params,
			items:          items,
			continueOnFail: configBool(config, "continueOnFail", false),
			tmpl:           NewTemplateEngine(),
			logger:         app.Logger(),
		}, nil
	}
}

// GustoStep is the step.gusto resource node. The resource and operation are
// fixed for the whole batch; every item performs exactly one request.
type GustoStep struct {
	name           string
	op             *GustoOperation
	client         *GustoClient
	parameters     map[string]any
	items          *gojq.Code
	continueOnFail bool
	tmpl           *TemplateEngine
	logger         modular.Logger
}

// Name returns the step name.
func (s *GustoStep) Name() string { return s.name }

// Execute processes the items strictly in order.
func (s *GustoStep) Execute(ctx context.Context, pc *PipelineContext) (*StepResult, error) {
	inputs, err := s.selectItems(pc)
	if err != nil {
		return nil, fmt.Errorf("gusto step %q: %w", s.name, err)
	}

	records := make([]any, 0, len(inputs))
	for i, item := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("gusto step %q: %w", s.name, err)
		}

		out, err := s.executeItem(ctx, pc, item, i)
		if err != nil {
			if !s.continueOnFail {
				return nil, fmt.Errorf("gusto step %q: item %d: %w", s.name, i, err)
			}
			s.logger.Warn("Gusto item failed, continuing",
				"step", s.name, "resource", s.op.Resource, "operation", s.op.Operation, "item", i, "error", err)
			records = append(records, map[string]any{"error": err.Error()})
			continue
		}
		records = append(records, flattenResponse(out)...)
	}

	s.logger.Debug("Gusto step completed",
		"step", s.name, "resource", s.op.Resource, "operation", s.op.Operation,
		"items", len(inputs), "records", len(records))

	return &StepResult{Output: map[string]any{
		"items": records,
		"count": len(records),
	}}, nil
}

func (s *GustoStep) executeItem(ctx context.Context, pc *PipelineContext, item any, index int) (any, error) {
	resolved, err := s.tmpl.ResolveMapWith(s.parameters, pc, map[string]any{
		"item":  item,
		"index": index,
	})
	if err != nil {
		return nil, err
	}
	endpoint, body, query, err := s.op.BuildRequest(GustoParams(resolved))
	if err != nil {
		return nil, err
	}
	return s.client.Request(ctx, s.op.Method, endpoint, body, query)
}

// selectItems evaluates the items expression. Without one the current data
// is the single item. A single array result is spread into its elements.
func (s *GustoStep) selectItems(pc *PipelineContext) ([]any, error) {
	if s.items == nil {
		return []any{maps.Clone(pc.Current)}, nil
	}

	input := maps.Clone(pc.Current)
	input["steps"] = pc.StepOutputs
	input["trigger"] = pc.TriggerData
	normalized, err := normalizeForJQ(input)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize items input: %w", err)
	}

	var results []any
	iter := s.items.Run(normalized)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if haltErr, ok := err.(*gojq.HaltError); ok && haltErr.Value() == nil {
				break
			}
			return nil, fmt.Errorf("items expression: %w", err)
		}
		results = append(results, v)
	}
	if len(results) == 1 {
		if arr, ok := results[0].([]any); ok {
			return arr, nil
		}
	}
	return results, nil
}

// flattenResponse turns one response into output records.
func flattenResponse(v any) []any {
	switch val := v.(type) {
	case nil:
		return []any{map[string]any{"success": true}}
	case []any:
		out := make([]any, 0, len(val))
		for _, el := range val {
			if m, ok := el.(map[string]any); ok {
				out = append(out, m)
			} else {
				out = append(out, map[string]any{"value": el})
			}
		}
		return out
	case map[string]any:
		return []any{val}
	default:
		return []any{map[string]any{"value": val}}
	}
}

// normalizeForJQ converts data to the plain JSON types gojq accepts.
func normalizeForJQ(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCompanies lists the companies visible to a credential as dropdown
// options: display name and uuid.
func GetCompanies(ctx context.Context, cred GustoCredentialSource) ([]schema.OptionValue, error) {
	resp, err := NewGustoClient(cred).Request(ctx, http.MethodGet, "/v1/companies", nil, nil)
	if err != nil {
		return nil, err
	}
	list, ok := resp.([]any)
	if !ok {
		if single, isMap := resp.(map[string]any); isMap {
			list = []any{single}
		}
	}
	out := make([]schema.OptionValue, 0, len(list))
	for _, c := range list {
		company, ok := c.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, schema.OptionValue{
			Name:  stringify(company["name"]),
			Value: stringify(company["uuid"]),
		})
	}
	return out, nil
}
