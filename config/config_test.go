package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleConfig = `
name: gusto-sync
modules:
  - name: gusto
    type: gusto.credential
    config:
      environment: demo
      accessToken: ${GUSTO_TEST_TOKEN}
  - name: state
    type: staticdata.memory
pipelines:
  employee-events:
    trigger:
      type: gusto
      config:
        credential: gusto
        events: [employee.created]
    steps:
      - name: fetch
        type: step.gusto
        config:
          credential: gusto
          resource: employee
          operation: get
    timeout: 30s
`

func TestNewEmptyWorkflowConfig(t *testing.T) {
	cfg := NewEmptyWorkflowConfig()
	if len(cfg.Modules) != 0 {
		t.Errorf("expected empty modules, got %d", len(cfg.Modules))
	}
	if cfg.Pipelines == nil {
		t.Error("expected non-nil pipelines map")
	}
}

func TestLoadFromFile_ValidYAML(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "gusto.yaml")
	if err := os.WriteFile(fp, []byte(sampleConfig), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	cfg, err := LoadFromFile(fp)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if len(cfg.Modules) != 2 {
		t.Fatalf("expected 2 modules, got %d", len(cfg.Modules))
	}
	if cfg.Modules[0].Type != "gusto.credential" {
		t.Errorf("expected module type 'gusto.credential', got %q", cfg.Modules[0].Type)
	}
	p, ok := cfg.Pipelines["employee-events"]
	if !ok {
		t.Fatal("expected employee-events pipeline")
	}
	if p.Trigger.Type != "gusto" {
		t.Errorf("expected trigger type gusto, got %q", p.Trigger.Type)
	}
	if len(p.Steps) != 1 || p.Steps[0].Type != "step.gusto" {
		t.Errorf("unexpected steps: %+v", p.Steps)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoadFromFile_NonExistent(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/file.yaml")
	if err == nil {
		t.Fatal("expected error for non-existent file")
	}
}

func TestLoadFromBytes_InvalidYAML(t *testing.T) {
	if _, err := LoadFromBytes([]byte("modules: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := &WorkflowConfig{
		Modules: []ModuleConfig{
			{Name: "a", Type: "gusto.credential"},
			{Name: "a", Type: ""},
			{Name: "b", Type: "staticdata.memory", DependsOn: []string{"missing"}},
		},
		Pipelines: map[string]PipelineConfig{
			"p": {OnError: "explode", Timeout: "soon"},
		},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		`duplicate module name "a"`,
		"type is required",
		`unknown module "missing"`,
		"at least one step is required",
		"on_error must be stop or skip",
		`invalid timeout "soon"`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %q, got:\n%v", want, err)
		}
	}
}

func TestParsedTimeout(t *testing.T) {
	p := PipelineConfig{Timeout: "1m30s"}
	d, err := p.ParsedTimeout()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Seconds() != 90 {
		t.Errorf("expected 90s, got %v", d)
	}
	if d, _ := (PipelineConfig{}).ParsedTimeout(); d != 0 {
		t.Errorf("expected zero timeout, got %v", d)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("GUSTO_TEST_TOKEN", "tok-123")
	out := ExpandEnv(map[string]any{
		"accessToken": "${GUSTO_TEST_TOKEN}",
		"nested":      map[string]any{"v": "$GUSTO_TEST_TOKEN"},
		"list":        []any{"${GUSTO_TEST_TOKEN}", 3},
		"plain":       "demo",
		"n":           42,
	})
	if out["accessToken"] != "tok-123" {
		t.Errorf("accessToken = %v", out["accessToken"])
	}
	if out["nested"].(map[string]any)["v"] != "tok-123" {
		t.Errorf("nested not expanded: %v", out["nested"])
	}
	list := out["list"].([]any)
	if list[0] != "tok-123" || list[1] != 3 {
		t.Errorf("list = %v", list)
	}
	if out["plain"] != "demo" || out["n"] != 42 {
		t.Errorf("unexpected passthrough values: %v", out)
	}
}
