package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/GoCodeAlone/gustoflow"
	"github.com/GoCodeAlone/gustoflow/config"
	plugingusto "github.com/GoCodeAlone/gustoflow/plugins/gusto"
	"github.com/GoCodeAlone/modular"
	"github.com/joho/godotenv"
)

var (
	configFile = flag.String("config", "", "Path to workflow configuration YAML file")
	addr       = flag.String("addr", ":8080", "HTTP listen address")
	envFile    = flag.String("env-file", ".env", "Optional .env file loaded before the config")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat  = flag.String("log-format", "text", "Log format: text or json")
)

// envOrFlag returns the environment variable if set, otherwise the flag value.
func envOrFlag(envKey string, flagVal *string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if flagVal != nil {
		return *flagVal
	}
	return ""
}

// applyEnvOverrides lets GUSTOFLOW_* variables replace flag values, so the
// server can be configured entirely from the environment in containers.
func applyEnvOverrides() {
	*configFile = envOrFlag("GUSTOFLOW_CONFIG", configFile)
	*addr = envOrFlag("GUSTOFLOW_ADDR", addr)
	*logLevel = envOrFlag("GUSTOFLOW_LOG_LEVEL", logLevel)
	*logFormat = envOrFlag("GUSTOFLOW_LOG_FORMAT", logFormat)
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// buildEngine loads the workflow config and builds an engine with the Gusto
// plugin.
func buildEngine(ctx context.Context, path string, logger *slog.Logger) (*gustoflow.StdEngine, error) {
	var cfg *config.WorkflowConfig
	if path != "" {
		var err error
		cfg, err = config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.NewEmptyWorkflowConfig()
		logger.Info("No config file specified, using empty workflow config")
	}

	app := modular.NewStdApplication(modular.NewStdConfigProvider(nil), logger)
	engine := gustoflow.NewStdEngine(app, logger)
	if err := engine.LoadPlugin(plugingusto.New()); err != nil {
		return nil, fmt.Errorf("load gusto plugin: %w", err)
	}
	if err := engine.BuildFromConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to build workflow: %w", err)
	}
	return engine, nil
}

func main() {
	flag.Parse()
	if err := loadEnvFile(*envFile); err != nil {
		log.Fatalf("Failed to load env file: %v", err)
	}
	applyEnvOverrides()

	logger := newLogger(os.Stdout, *logLevel, *logFormat)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := buildEngine(ctx, *configFile, logger)
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	server := &http.Server{
		Addr:              *addr,
		Handler:           engine.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Gusto verifies subscriptions by posting to the webhook route, so the
	// listener must be up before triggers activate.
	go func() {
		logger.Info("Starting server", "addr", *addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	if err := engine.Start(ctx); err != nil {
		log.Fatalf("Failed to start workflow engine: %v", err)
	}
	logger.Info("Gusto workflow server started", "addr", *addr, "pipelines", engine.Pipelines())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := engine.Stop(shutdownCtx); err != nil {
		logger.Error("Engine shutdown error", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	cancel()
	logger.Info("Shutdown complete")
}
