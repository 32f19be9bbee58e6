package module

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// scrape renders the collector's registry in the text exposition format.
func scrape(t *testing.T, m *MetricsCollector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestNewMetricsCollector(t *testing.T) {
	m := NewMetricsCollector("test-metrics")
	if m.Name() != "test-metrics" {
		t.Errorf("expected name 'test-metrics', got %q", m.Name())
	}
	if m.Registry() == nil {
		t.Fatal("expected registry to be initialized")
	}
	if m.MetricsPath() != "/metrics" {
		t.Errorf("unexpected metrics path %q", m.MetricsPath())
	}
	svcs := m.ProvidesServices()
	if len(svcs) != 1 || svcs[0].Name != MetricsServiceName {
		t.Errorf("expected service %q, got %+v", MetricsServiceName, svcs)
	}
}

func TestMetricsCollector_RecordGustoRequest(t *testing.T) {
	m := NewMetricsCollector("test-metrics")
	m.RecordGustoRequest(http.MethodGet, 200, 20*time.Millisecond)
	m.RecordGustoRequest(http.MethodGet, 200, 30*time.Millisecond)
	m.RecordGustoRequest(http.MethodPost, 0, time.Millisecond)

	out := scrape(t, m)
	if !strings.Contains(out, `gustoflow_gusto_api_requests_total{method="GET",status="200"} 2`) {
		t.Errorf("expected 2 GET/200 samples:\n%s", out)
	}
	if !strings.Contains(out, `gustoflow_gusto_api_requests_total{method="POST",status="error"} 1`) {
		t.Errorf("expected transport failures labelled error:\n%s", out)
	}
}

func TestMetricsCollector_RecordPipelineAndWebhook(t *testing.T) {
	m := NewMetricsCollector("test-metrics")
	m.RecordPipelineExecution("hires", "success", 10*time.Millisecond)
	m.RecordWebhookDelivery("hires", "accepted")
	m.RecordWebhookLifecycle("hires", "create", true)

	out := scrape(t, m)
	for _, want := range []string{
		`gustoflow_pipeline_executions_total{pipeline="hires",status="success"} 1`,
		`gustoflow_webhook_deliveries_total{outcome="accepted",pipeline="hires"} 1`,
		`gustoflow_webhook_lifecycle_total{action="create",pipeline="hires",result="true"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in:\n%s", want, out)
		}
	}
}

func TestMetricsCollector_DisabledGroups(t *testing.T) {
	cfg := DefaultMetricsCollectorConfig()
	cfg.EnabledMetrics = []string{"pipeline"}
	m := NewMetricsCollectorWithConfig("test-metrics", cfg)
	if m.GustoRequests != nil || m.WebhookDeliveries != nil {
		t.Fatal("disabled metric groups should stay nil")
	}
	// Recording into disabled groups must not panic.
	m.RecordGustoRequest("GET", 200, time.Millisecond)
	m.RecordWebhookDelivery("p", "accepted")
}

func TestMetricsCollector_Handler(t *testing.T) {
	m := NewMetricsCollector("test-metrics")
	m.RecordGustoRequest(http.MethodGet, 404, time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `gustoflow_gusto_api_requests_total{method="GET",status="404"} 1`) {
		t.Errorf("expected gusto request sample in output:\n%s", body)
	}
}
