package config

import (
	"errors"
	"fmt"
	"time"
)

// PipelineConfig represents a single composable pipeline definition.
type PipelineConfig struct {
	Trigger PipelineTriggerConfig `json:"trigger" yaml:"trigger"`
	Steps   []PipelineStepConfig  `json:"steps" yaml:"steps"`
	OnError string                `json:"on_error,omitempty" yaml:"on_error,omitempty"`
	Timeout string                `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// PipelineTriggerConfig defines what starts a pipeline.
// An empty Type means the pipeline is only run on demand.
type PipelineTriggerConfig struct {
	Type   string         `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// PipelineStepConfig defines a single step in a pipeline.
type PipelineStepConfig struct {
	Name   string         `json:"name" yaml:"name"`
	Type   string         `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// ParsedTimeout returns the pipeline timeout, or zero when none is set.
func (p PipelineConfig) ParsedTimeout() (time.Duration, error) {
	if p.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(p.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", p.Timeout, err)
	}
	return d, nil
}

func (p PipelineConfig) validate() error {
	var errs []error
	if len(p.Steps) == 0 {
		errs = append(errs, errors.New("at least one step is required"))
	}
	names := make(map[string]bool, len(p.Steps))
	for i, s := range p.Steps {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("steps[%d]: name is required", i))
		} else if names[s.Name] {
			errs = append(errs, fmt.Errorf("steps[%d]: duplicate step name %q", i, s.Name))
		}
		names[s.Name] = true
		if s.Type == "" {
			errs = append(errs, fmt.Errorf("steps[%d] %q: type is required", i, s.Name))
		}
	}
	switch p.OnError {
	case "", "stop", "skip":
	default:
		errs = append(errs, fmt.Errorf("on_error must be stop or skip, got %q", p.OnError))
	}
	if _, err := p.ParsedTimeout(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
