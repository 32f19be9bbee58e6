// Package module holds the modules, pipeline steps and triggers of the
// Gusto integration: the OAuth2 credential, the Gusto REST client and
// operation table, the step.gusto resource node, the gusto webhook trigger,
// the static data stores, and the pipeline runtime they execute in.
package module

import (
	"fmt"

	"github.com/GoCodeAlone/modular"
)

// noopLogger is a modular.Logger that discards everything. Modules use it
// until Init hands them the application logger.
type noopLogger struct{}

func (l *noopLogger) Debug(msg string, args ...any) {}
func (l *noopLogger) Info(msg string, args ...any)  {}
func (l *noopLogger) Warn(msg string, args ...any)  {}
func (l *noopLogger) Error(msg string, args ...any) {}

// serviceAs looks up a named service and asserts it to T.
func serviceAs[T any](app modular.Application, name string) (T, error) {
	var zero T
	var raw any
	if err := app.GetService(name, &raw); err != nil {
		return zero, fmt.Errorf("service %q not found: %w", name, err)
	}
	svc, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("service %q is %T, not %T", name, raw, zero)
	}
	return svc, nil
}

// configString reads a string config value, returning "" when absent.
func configString(cfg map[string]any, key string) string {
	s, _ := cfg[key].(string)
	return s
}

// configBool reads a boolean config value, accepting "true"/"false" strings
// produced by template resolution.
func configBool(cfg map[string]any, key string, def bool) bool {
	switch v := cfg[key].(type) {
	case bool:
		return v
	case string:
		switch v {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return def
}
