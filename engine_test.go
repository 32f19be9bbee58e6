package gustoflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/gustoflow/config"
	"github.com/GoCodeAlone/gustoflow/internal/gustotwin"
	"github.com/GoCodeAlone/gustoflow/module"
	plugingusto "github.com/GoCodeAlone/gustoflow/plugins/gusto"
	"github.com/GoCodeAlone/modular"
)

const testToken = "test-token"

// setupEngineTest creates an engine with the Gusto plugin loaded and a fake
// Gusto API that accepts testToken.
func setupEngineTest(t *testing.T) (*StdEngine, *gustotwin.Server, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app := modular.NewStdApplication(modular.NewStdConfigProvider(nil), logger)
	engine := NewStdEngine(app, logger)
	if err := engine.LoadPlugin(plugingusto.New()); err != nil {
		t.Fatalf("LoadPlugin failed: %v", err)
	}

	twin := gustotwin.New()
	twin.SetAccessToken(testToken)
	srv := httptest.NewServer(twin.Handler())
	t.Cleanup(srv.Close)
	return engine, twin, srv.URL
}

func loadConfig(t *testing.T, yaml string) *config.WorkflowConfig {
	t.Helper()
	cfg, err := config.LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}
	return cfg
}

func hiresConfig(apiURL string) string {
	return fmt.Sprintf(`
name: hires
modules:
  - name: gusto
    type: gusto.credential
    config:
      environment: demo
      accessToken: %s
      baseUrl: %s
  - name: state
    type: staticdata.memory
  - name: metrics
    type: metrics.collector
pipelines:
  hires:
    trigger:
      type: gusto
      config:
        credential: gusto
        staticData: state
        publicUrl: https://hooks.example.com
        events: [employee.created]
        options:
          verifySignature: false
    steps:
      - name: fetch
        type: step.gusto
        config:
          credential: gusto
          resource: employee
          operation: get
          parameters:
            employeeId: "{{ .body.entity_uuid }}"
    timeout: 30s
  companies:
    steps:
      - name: list
        type: step.gusto
        config:
          credential: gusto
          resource: company
          operation: getMany
`, testToken, apiURL)
}

func TestEngine_BuildFromConfig(t *testing.T) {
	engine, _, apiURL := setupEngineTest(t)
	if err := engine.BuildFromConfig(context.Background(), loadConfig(t, hiresConfig(apiURL))); err != nil {
		t.Fatalf("BuildFromConfig failed: %v", err)
	}

	if got := strings.Join(engine.Pipelines(), ","); got != "companies,hires" {
		t.Errorf("unexpected pipelines %s", got)
	}
	triggers := engine.Triggers()
	if len(triggers) != 1 || triggers[0].Pipeline() != "hires" {
		t.Fatalf("expected one trigger for hires, got %v", triggers)
	}
	if _, ok := triggers[0].(*module.GustoTrigger); !ok {
		t.Errorf("expected a Gusto trigger, got %T", triggers[0])
	}
	if engine.SchemaRegistry().Get(module.GustoStepType) == nil {
		t.Error("step.gusto schema not registered")
	}
}

func TestEngine_ExecutePipeline(t *testing.T) {
	engine, twin, apiURL := setupEngineTest(t)
	twin.AddCompany(map[string]any{"name": "Acme"})
	twin.AddCompany(map[string]any{"name": "Globex"})
	if err := engine.BuildFromConfig(context.Background(), loadConfig(t, hiresConfig(apiURL))); err != nil {
		t.Fatalf("BuildFromConfig failed: %v", err)
	}

	pc, err := engine.ExecutePipeline(context.Background(), "companies", nil)
	if err != nil {
		t.Fatalf("ExecutePipeline failed: %v", err)
	}
	if pc.Current["count"] != 2 {
		t.Errorf("expected two companies, got %v", pc.Current)
	}

	_, err = engine.ExecutePipeline(context.Background(), "payroll", nil)
	if !errors.Is(err, ErrPipelineNotFound) {
		t.Errorf("expected ErrPipelineNotFound, got %v", err)
	}
}

func TestEngine_WebhookLifecycle(t *testing.T) {
	engine, twin, apiURL := setupEngineTest(t)
	emp := twin.AddEmployee(map[string]any{"first_name": "Grace"})
	ctx := context.Background()
	if err := engine.BuildFromConfig(ctx, loadConfig(t, hiresConfig(apiURL))); err != nil {
		t.Fatalf("BuildFromConfig failed: %v", err)
	}
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	hooks := twin.Webhooks()
	if len(hooks) != 1 || hooks[0]["url"] != "https://hooks.example.com/webhooks/gusto/hires" {
		t.Fatalf("expected the trigger to subscribe, got %v", hooks)
	}

	body := fmt.Sprintf(`{"event_type":"employee.created","entity_uuid":%q}`, emp["uuid"])
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gusto/hires", strings.NewReader(body))
	rec := httptest.NewRecorder()
	engine.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if err := engine.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	fetched := false
	for _, r := range twin.Requests() {
		if r.Method == http.MethodGet && r.Path == "/v1/employees/"+emp["uuid"].(string) {
			fetched = true
		}
	}
	if !fetched {
		t.Error("expected the delivery to run the pipeline")
	}
	if len(twin.Webhooks()) != 0 {
		t.Error("expected Stop to delete the subscription")
	}
}

func TestEngine_StartFailsWhenSubscriptionRejected(t *testing.T) {
	engine, twin, apiURL := setupEngineTest(t)
	twin.Fail(http.MethodPost, "/v1/webhook_subscriptions", gustotwin.Fault{Status: http.StatusUnprocessableEntity, Body: "invalid url"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := engine.BuildFromConfig(ctx, loadConfig(t, hiresConfig(apiURL))); err != nil {
		t.Fatalf("BuildFromConfig failed: %v", err)
	}
	err := engine.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), `pipeline "hires"`) {
		t.Errorf("expected activation failure, got %v", err)
	}
	_ = engine.Stop(ctx)
}

func TestEngine_StartRollsBackActivatedTriggers(t *testing.T) {
	engine, twin, apiURL := setupEngineTest(t)
	ctx := context.Background()
	cfg := loadConfig(t, fmt.Sprintf(`
modules:
  - name: gusto
    type: gusto.credential
    config: {accessToken: %[1]s, baseUrl: %[2]s}
  - name: revoked
    type: gusto.credential
    config: {accessToken: revoked-token, baseUrl: %[2]s}
pipelines:
  hires:
    trigger:
      type: gusto
      config: {credential: gusto, publicUrl: "https://hooks.example.com", events: [employee.created]}
    steps:
      - {name: s, type: step.gusto, config: {credential: gusto, resource: company, operation: getMany}}
  payroll:
    trigger:
      type: gusto
      config: {credential: revoked, publicUrl: "https://hooks.example.com", events: [payroll.processed]}
    steps:
      - {name: s, type: step.gusto, config: {credential: gusto, resource: company, operation: getMany}}
`, testToken, apiURL))
	if err := engine.BuildFromConfig(ctx, cfg); err != nil {
		t.Fatalf("BuildFromConfig failed: %v", err)
	}

	err := engine.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), `pipeline "payroll"`) {
		t.Fatalf("expected payroll activation to fail, got %v", err)
	}
	if hooks := twin.Webhooks(); len(hooks) != 0 {
		t.Errorf("expected the hires subscription to be removed, got %v", hooks)
	}
	deleted := false
	for _, r := range twin.Requests() {
		if r.Method == http.MethodDelete && strings.HasPrefix(r.Path, "/v1/webhook_subscriptions/") {
			deleted = true
		}
	}
	if !deleted {
		t.Error("expected a DELETE for the activated trigger")
	}
	_ = engine.Stop(ctx)
}

func TestEngine_Handler(t *testing.T) {
	engine, _, apiURL := setupEngineTest(t)
	if err := engine.BuildFromConfig(context.Background(), loadConfig(t, hiresConfig(apiURL))); err != nil {
		t.Fatalf("BuildFromConfig failed: %v", err)
	}
	if _, err := engine.ExecutePipeline(context.Background(), "companies", nil); err != nil {
		t.Fatalf("ExecutePipeline failed: %v", err)
	}
	h := engine.Handler()

	tests := []struct {
		path string
		want string
	}{
		{"/healthz", `"status":"ok"`},
		{"/metrics", `gustoflow_pipeline_executions_total{pipeline="companies",status="success"} 1`},
		{"/api/schemas/step.gusto", `"type": "step.gusto"`},
		{"/api/gusto/gusto/options/companies", "[]"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", tt.path, rec.Code)
			continue
		}
		if !strings.Contains(rec.Body.String(), tt.want) {
			t.Errorf("GET %s: expected %q in %s", tt.path, tt.want, rec.Body.String())
		}
	}
}

func TestEngine_SecretReferences(t *testing.T) {
	t.Setenv("GUSTO_ACCESS_TOKEN", testToken)
	engine, twin, apiURL := setupEngineTest(t)
	twin.AddCompany(map[string]any{"name": "Acme"})

	cfg := loadConfig(t, `
modules:
  - name: gusto
    type: gusto.credential
    config:
      accessToken: secret://gusto.access_token
      baseUrl: ${GUSTO_TEST_API}
pipelines:
  companies:
    steps:
      - name: list
        type: step.gusto
        config: {credential: gusto, resource: company, operation: getMany}
`)
	t.Setenv("GUSTO_TEST_API", apiURL)
	if err := engine.BuildFromConfig(context.Background(), cfg); err != nil {
		t.Fatalf("BuildFromConfig failed: %v", err)
	}
	if _, err := engine.ExecutePipeline(context.Background(), "companies", nil); err != nil {
		t.Fatalf("ExecutePipeline failed: %v", err)
	}
	last, _ := twin.LastRequest()
	if last.Authorization != "Bearer "+testToken {
		t.Errorf("expected the resolved token to be sent, got %q", last.Authorization)
	}
}

func TestEngine_BuildErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown module type",
			yaml: "modules:\n  - name: db\n    type: database.mysql\n",
			want: `unknown module type "database.mysql"`,
		},
		{
			name: "invalid environment",
			yaml: "modules:\n  - name: gusto\n    type: gusto.credential\n    config:\n      environment: staging\n",
			want: "modules.gusto.environment",
		},
		{
			name: "unknown step type",
			yaml: "pipelines:\n  p:\n    steps:\n      - name: s\n        type: step.email\n",
			want: "unknown step type: step.email",
		},
		{
			name: "missing secret",
			yaml: "modules:\n  - name: gusto\n    type: gusto.credential\n    config:\n      accessToken: secret://gusto.missing_token\n",
			want: "GUSTO_MISSING_TOKEN",
		},
		{
			name: "duplicate trigger path",
			yaml: `
modules:
  - name: gusto
    type: gusto.credential
    config: {accessToken: token}
pipelines:
  hires:
    trigger:
      type: gusto
      config: {credential: gusto, publicUrl: "https://hooks.example.com", events: [employee.created], path: /hook}
    steps:
      - {name: s, type: step.gusto, config: {credential: gusto, resource: company, operation: getMany}}
  payroll:
    trigger:
      type: gusto
      config: {credential: gusto, publicUrl: "https://hooks.example.com", events: [payroll.processed], path: /hook}
    steps:
      - {name: s, type: step.gusto, config: {credential: gusto, resource: company, operation: getMany}}
`,
			want: `pipeline "payroll" conflicts with pipeline "hires"`,
		},
		{
			name: "explicit path matching a default path",
			yaml: `
modules:
  - name: gusto
    type: gusto.credential
    config: {accessToken: token}
pipelines:
  hires:
    trigger:
      type: gusto
      config: {credential: gusto, publicUrl: "https://hooks.example.com", events: [employee.created]}
    steps:
      - {name: s, type: step.gusto, config: {credential: gusto, resource: company, operation: getMany}}
  payroll:
    trigger:
      type: gusto
      config: {credential: gusto, publicUrl: "https://hooks.example.com", events: [payroll.processed], path: /webhooks/gusto/hires}
    steps:
      - {name: s, type: step.gusto, config: {credential: gusto, resource: company, operation: getMany}}
`,
			want: `"POST /webhooks/gusto/hires" of pipeline "payroll" conflicts with pipeline "hires"`,
		},
		{
			name: "structural",
			yaml: "modules:\n  - name: a\n    type: staticdata.memory\n  - name: a\n    type: staticdata.memory\n",
			want: "duplicate module name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _, _ := setupEngineTest(t)
			err := engine.BuildFromConfig(context.Background(), loadConfig(t, tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
