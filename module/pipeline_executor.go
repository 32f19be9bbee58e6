package module

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrorStrategy defines how a pipeline handles step errors.
type ErrorStrategy string

const (
	ErrorStrategyStop ErrorStrategy = "stop"
	ErrorStrategySkip ErrorStrategy = "skip"
)

// Pipeline is an ordered sequence of steps with error handling.
type Pipeline struct {
	Name    string
	Steps   []PipelineStep
	OnError ErrorStrategy
	Timeout time.Duration
	Logger  *slog.Logger
	// Metrics is optional; when set each run is counted and timed.
	Metrics *MetricsCollector
}

var tracer = otel.Tracer("github.com/GoCodeAlone/gustoflow/module")

// Execute runs the pipeline from trigger data.
func (p *Pipeline) Execute(ctx context.Context, triggerData map[string]any) (pc *PipelineContext, err error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	pc = NewPipelineContext(triggerData, map[string]any{
		"pipeline":   p.Name,
		"started_at": time.Now().UTC().Format(time.RFC3339),
	})

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("pipeline", p.Name, "execution_id", pc.ExecutionID)

	ctx, span := tracer.Start(ctx, "pipeline "+p.Name)
	span.SetAttributes(attribute.String("pipeline.execution_id", pc.ExecutionID))
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if p.Metrics != nil {
			p.Metrics.RecordPipelineExecution(p.Name, status, time.Since(start))
		}
	}()

	logger.Info("Pipeline started", "steps", len(p.Steps))

	for i, step := range p.Steps {
		select {
		case <-ctx.Done():
			return pc, fmt.Errorf("pipeline %q cancelled: %w", p.Name, ctx.Err())
		default:
		}

		stepStart := time.Now()
		logger.Debug("Step started", "step", step.Name(), "index", i)

		result, stepErr := step.Execute(ctx, pc)
		elapsed := time.Since(stepStart)

		if stepErr != nil {
			logger.Error("Step failed", "step", step.Name(), "error", stepErr, "elapsed", elapsed)
			if p.OnError == ErrorStrategySkip {
				logger.Warn("Skipping failed step", "step", step.Name())
				pc.MergeStepOutput(step.Name(), map[string]any{"_error": stepErr.Error(), "_skipped": true})
				continue
			}
			return pc, fmt.Errorf("step %q failed: %w", step.Name(), stepErr)
		}

		logger.Debug("Step completed", "step", step.Name(), "elapsed", elapsed)

		if result != nil && result.Output != nil {
			pc.MergeStepOutput(step.Name(), result.Output)
		} else {
			pc.MergeStepOutput(step.Name(), map[string]any{})
		}

		if result != nil && result.Stop {
			logger.Info("Pipeline stopped by step", "step", step.Name())
			break
		}
	}

	pc.Metadata["completed_at"] = time.Now().UTC().Format(time.RFC3339)
	logger.Info("Pipeline completed", "elapsed", time.Since(start))
	return pc, nil
}
