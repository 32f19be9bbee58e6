package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/GoCodeAlone/gustoflow"
	"github.com/GoCodeAlone/gustoflow/config"
	"github.com/GoCodeAlone/gustoflow/module"
	plugingusto "github.com/GoCodeAlone/gustoflow/plugins/gusto"
	"github.com/GoCodeAlone/modular"
	"github.com/joho/godotenv"
)

// engineFlags are the flags shared by every command that builds an engine.
type engineFlags struct {
	config   *string
	envFile  *string
	logLevel *string
}

func addEngineFlags(fs *flag.FlagSet) *engineFlags {
	return &engineFlags{
		config:   fs.String("config", "gusto.yaml", "Path to workflow configuration YAML file"),
		envFile:  fs.String("env-file", ".env", "Optional .env file loaded before the config"),
		logLevel: fs.String("log-level", "warn", "Log level written to stderr: debug, info, warn, error"),
	}
}

// build loads the env file and config and returns an initialised engine.
// Triggers are built but never activated.
func (f *engineFlags) build(ctx context.Context) (*gustoflow.StdEngine, error) {
	if *f.envFile != "" {
		if _, err := os.Stat(*f.envFile); err == nil {
			if err := godotenv.Load(*f.envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", *f.envFile, err)
			}
		}
	}
	cfg, err := config.LoadFromFile(*f.config)
	if err != nil {
		return nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*f.logLevel)); err != nil {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	app := modular.NewStdApplication(modular.NewStdConfigProvider(nil), logger)
	engine := gustoflow.NewStdEngine(app, logger)
	if err := engine.LoadPlugin(plugingusto.New()); err != nil {
		return nil, err
	}
	if err := engine.BuildFromConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return engine, nil
}

// start builds the engine and starts its modules so token stores are open.
// Triggers stay inactive. The returned func stops the modules.
func (f *engineFlags) start(ctx context.Context) (*gustoflow.StdEngine, func(), error) {
	engine, err := f.build(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := engine.App().Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start modules: %w", err)
	}
	return engine, func() { _ = engine.App().Stop() }, nil
}

// credential returns the named gusto.credential module. An empty name
// selects the only credential of the config.
func credential(engine *gustoflow.StdEngine, name string) (*module.GustoCredential, error) {
	if name != "" {
		var cred *module.GustoCredential
		if err := engine.App().GetService(name, &cred); err != nil {
			return nil, fmt.Errorf("credential %q not found: %w", name, err)
		}
		return cred, nil
	}
	var found []*module.GustoCredential
	for _, svc := range engine.App().SvcRegistry() {
		if cred, ok := svc.(*module.GustoCredential); ok {
			found = append(found, cred)
		}
	}
	switch len(found) {
	case 0:
		return nil, errors.New("config has no gusto.credential module")
	case 1:
		return found[0], nil
	default:
		names := make([]string, len(found))
		for i, c := range found {
			names[i] = c.Name()
		}
		return nil, fmt.Errorf("config has several credentials (%s); pass -credential", strings.Join(names, ", "))
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
