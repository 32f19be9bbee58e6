package main

import (
	"context"
	"flag"
	"fmt"
)

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	ef := addEngineFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: gustoctl validate [options]\n\nBuild every module, pipeline and trigger of a config without starting them.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	engine, err := ef.build(context.Background())
	if err != nil {
		return fmt.Errorf("validation failed:\n%w", err)
	}
	fmt.Fprintf(stdout, "config %s is valid (%d pipelines, %d triggers)\n",
		*ef.config, len(engine.Pipelines()), len(engine.Triggers()))
	return nil
}
