package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

func runExec(args []string) error {
	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	ef := addEngineFlags(fs)
	pipeline := fs.String("pipeline", "", "Name of the pipeline to run")
	data := fs.String("data", "{}", "Trigger data as a JSON object, or @file to read it from a file")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: gustoctl exec [options] -pipeline <name>\n\nRun a pipeline once and print its step outputs.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pipeline == "" {
		fs.Usage()
		return fmt.Errorf("-pipeline is required")
	}

	triggerData, err := parseData(*data)
	if err != nil {
		return err
	}

	ctx := context.Background()
	engine, stop, err := ef.start(ctx)
	if err != nil {
		return err
	}
	defer stop()
	pc, err := engine.ExecutePipeline(ctx, *pipeline, triggerData)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"executionId": pc.ExecutionID,
		"steps":       pc.StepOutputs,
		"output":      pc.Current,
	})
}

func parseData(raw string) (map[string]any, error) {
	if len(raw) > 0 && raw[0] == '@' {
		b, err := os.ReadFile(raw[1:])
		if err != nil {
			return nil, fmt.Errorf("read trigger data: %w", err)
		}
		raw = string(b)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("trigger data must be a JSON object: %w", err)
	}
	return out, nil
}
