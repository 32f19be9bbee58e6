package module

import (
	"maps"

	"github.com/google/uuid"
)

// PipelineContext carries data through a pipeline execution.
type PipelineContext struct {
	// ExecutionID uniquely identifies one run; it is also stored in Metadata.
	ExecutionID string

	// TriggerData is the original data from the trigger (immutable after creation).
	TriggerData map[string]any

	// StepOutputs maps step-name -> output from each completed step.
	StepOutputs map[string]map[string]any

	// Current is the merged state: trigger data + all step outputs.
	// Steps read from Current and their output is merged back into it.
	Current map[string]any

	// Metadata holds execution metadata (pipeline name, execution ID, timings).
	Metadata map[string]any
}

// NewPipelineContext creates a PipelineContext initialized with trigger data.
func NewPipelineContext(triggerData map[string]any, metadata map[string]any) *PipelineContext {
	id := uuid.NewString()
	md := map[string]any{"execution_id": id}
	maps.Copy(md, metadata)

	return &PipelineContext{
		ExecutionID: id,
		TriggerData: maps.Clone(nonNil(triggerData)),
		StepOutputs: make(map[string]map[string]any),
		Current:     maps.Clone(nonNil(triggerData)),
		Metadata:    md,
	}
}

// MergeStepOutput records a step's output and merges it into Current.
func (pc *PipelineContext) MergeStepOutput(stepName string, output map[string]any) {
	if output == nil {
		return
	}
	pc.StepOutputs[stepName] = maps.Clone(output)
	maps.Copy(pc.Current, output)
}

// StepResult is the output of a single pipeline step execution.
type StepResult struct {
	// Output is the data produced by this step.
	Output map[string]any

	// Stop indicates the pipeline should stop after this step (success).
	Stop bool
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
