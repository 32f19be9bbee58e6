package module

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/gustoflow/internal/gustotwin"
	"github.com/GoCodeAlone/modular"
)

type recordingRunner struct {
	mu    sync.Mutex
	calls []map[string]any
	err   error
}

func (r *recordingRunner) ExecutePipeline(_ context.Context, name string, data map[string]any) (*PipelineContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, data)
	return NewPipelineContext(data, map[string]any{"pipeline": name}), r.err
}

func (r *recordingRunner) Calls() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.calls...)
}

const testPublicURL = "https://hooks.example.com"

func triggerConfig(overrides map[string]any) map[string]any {
	cfg := map[string]any{
		"credential": "gusto-test",
		"events":     []any{"employee.created", "employee.updated"},
		"publicUrl":  testPublicURL,
	}
	for k, v := range overrides {
		cfg[k] = v
	}
	return cfg
}

func newTestTrigger(t *testing.T, overrides map[string]any) (*GustoTrigger, *gustotwin.Server, *recordingRunner, modular.Application) {
	t.Helper()
	app, twin, _ := newTwinApp(t)
	trig, err := NewGustoTrigger("hires", triggerConfig(overrides), app)
	if err != nil {
		t.Fatalf("NewGustoTrigger: %v", err)
	}
	trig.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 8_000_000, time.UTC) }
	runner := &recordingRunner{}
	trig.SetRunner(runner)
	return trig, twin, runner, app
}

func TestParseGustoTriggerConfig(t *testing.T) {
	cfg, err := ParseGustoTriggerConfig("hires", triggerConfig(nil))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Path != "/webhooks/gusto/hires" {
		t.Errorf("unexpected default path %q", cfg.Path)
	}
	if !cfg.VerifySignature || cfg.IncludeRawBody {
		t.Errorf("unexpected option defaults %+v", cfg)
	}

	cfg, err = ParseGustoTriggerConfig("hires", triggerConfig(map[string]any{
		"path":      "custom/path",
		"publicUrl": testPublicURL + "/",
		"options":   map[string]any{"verifySignature": false, "includeRawBody": true},
	}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Path != "/custom/path" || cfg.PublicURL != testPublicURL {
		t.Errorf("unexpected path/url %q %q", cfg.Path, cfg.PublicURL)
	}
	if cfg.VerifySignature || !cfg.IncludeRawBody {
		t.Errorf("options not applied: %+v", cfg)
	}

	bad := []map[string]any{
		triggerConfig(map[string]any{"events": []any{}}),
		triggerConfig(map[string]any{"events": []any{"benefit.created"}}),
		triggerConfig(map[string]any{"publicUrl": ""}),
		triggerConfig(map[string]any{"options": map[string]any{"unknown": true}}),
	}
	for i, c := range bad {
		if _, err := ParseGustoTriggerConfig("hires", c); err == nil {
			t.Errorf("config %d: expected validation error", i)
		}
	}
}

func TestGustoTrigger_ActivateCreates(t *testing.T) {
	trig, twin, _, _ := newTestTrigger(t, nil)
	ctx := context.Background()

	if err := trig.Activate(ctx); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	hooks := twin.Webhooks()
	if len(hooks) != 1 {
		t.Fatalf("expected one subscription, got %v", hooks)
	}
	if hooks[0]["url"] != testPublicURL+"/webhooks/gusto/hires" {
		t.Errorf("unexpected subscription url %v", hooks[0]["url"])
	}
	id, ok, _ := trig.WebhookID(ctx)
	if !ok || id != hooks[0]["uuid"] {
		t.Errorf("expected stored id %v, got %q", hooks[0]["uuid"], id)
	}
	if trig.State() != WebhookActive {
		t.Errorf("expected active state, got %s", trig.State())
	}
}

func TestGustoTrigger_CheckExists(t *testing.T) {
	trig, twin, _, _ := newTestTrigger(t, nil)
	ctx := context.Background()
	target := testPublicURL + "/webhooks/gusto/hires"

	twin.AddWebhook(map[string]any{"url": "https://elsewhere.example.com/hook", "subscription_types": []any{"employee.created", "employee.updated"}})
	twin.AddWebhook(map[string]any{"url": target, "subscription_types": []any{"employee.created"}})
	if trig.CheckExists(ctx) {
		t.Fatal("a subscription missing an event must not match")
	}

	sub := twin.AddWebhook(map[string]any{"url": target, "subscription_types": []any{"payroll.processed", "employee.updated", "employee.created"}})
	if !trig.CheckExists(ctx) {
		t.Fatal("expected a superset subscription to match")
	}
	id, _, _ := trig.WebhookID(ctx)
	if id != sub["uuid"] {
		t.Errorf("expected stored id %v, got %q", sub["uuid"], id)
	}

	if err := trig.Activate(ctx); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if n := len(twin.Webhooks()); n != 3 {
		t.Errorf("Activate must reuse the existing subscription, found %d", n)
	}
}

func TestGustoTrigger_CheckExistsFailure(t *testing.T) {
	trig, twin, _, _ := newTestTrigger(t, nil)
	twin.Fail(http.MethodGet, "/v1/webhook_subscriptions", gustotwin.Fault{Status: http.StatusInternalServerError})
	if trig.CheckExists(context.Background()) {
		t.Error("a failed lookup must report not found")
	}
}

func TestGustoTrigger_CreateFailures(t *testing.T) {
	trig, twin, _, _ := newTestTrigger(t, nil)
	ctx := context.Background()

	twin.Fail(http.MethodPost, "/v1/webhook_subscriptions", gustotwin.Fault{Status: http.StatusUnprocessableEntity, Body: map[string]any{"message": "bad url"}})
	ok, err := trig.Create(ctx)
	if ok || err == nil {
		t.Fatalf("expected failure, got ok=%v err=%v", ok, err)
	}
	if !strings.HasPrefix(err.Error(), "failed to create webhook: ") {
		t.Errorf("unexpected error %q", err)
	}
	if trig.State() != WebhookAbsent {
		t.Errorf("expected absent state, got %s", trig.State())
	}

	twin.Fail(http.MethodPost, "/v1/webhook_subscriptions", gustotwin.Fault{Status: http.StatusCreated, Body: map[string]any{}})
	ok, err = trig.Create(ctx)
	if ok || err != nil {
		t.Errorf("expected (false, nil) without a uuid, got (%v, %v)", ok, err)
	}
	if err := trig.Activate(ctx); !errors.Is(err, ErrWebhookNotCreated) {
		t.Errorf("expected ErrWebhookNotCreated, got %v", err)
	}
}

func TestGustoTrigger_Delete(t *testing.T) {
	trig, twin, _, _ := newTestTrigger(t, nil)
	ctx := context.Background()

	if trig.Delete(ctx) {
		t.Error("Delete without a stored id must report false")
	}
	if err := trig.Activate(ctx); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	id, _, _ := trig.WebhookID(ctx)

	twin.Fail(http.MethodDelete, "/v1/webhook_subscriptions/"+id, gustotwin.Fault{Status: http.StatusBadGateway})
	if trig.Delete(ctx) {
		t.Error("expected Delete to report false on API failure")
	}
	if kept, ok, _ := trig.WebhookID(ctx); !ok || kept != id {
		t.Error("a failed Delete must keep the stored id")
	}
	if trig.State() != WebhookActive {
		t.Errorf("a failed Delete must leave the subscription active, got %v", trig.State())
	}

	twin.ClearFaults()
	if !trig.Delete(ctx) {
		t.Fatal("expected Delete to succeed")
	}
	if _, ok, _ := trig.WebhookID(ctx); ok {
		t.Error("expected the stored id to be cleared")
	}
	if len(twin.Webhooks()) != 0 {
		t.Error("expected the subscription to be removed")
	}
}

func TestGustoTrigger_Deactivate(t *testing.T) {
	trig, twin, _, _ := newTestTrigger(t, nil)
	ctx := context.Background()
	if err := trig.Activate(ctx); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := trig.Deactivate(ctx); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if len(twin.Webhooks()) != 0 {
		t.Error("expected Deactivate to delete the subscription")
	}
}

func TestGustoTrigger_SharedStaticData(t *testing.T) {
	app, twin, _ := newTwinApp(t)
	store := NewMemoryStaticData("state")
	registerServices(t, app, store)

	trig, err := NewGustoTrigger("hires", triggerConfig(map[string]any{"staticData": "state"}), app)
	if err != nil {
		t.Fatalf("NewGustoTrigger: %v", err)
	}
	if err := trig.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	id, ok, _ := store.Get(context.Background(), "node:hires", "webhookId")
	if !ok || id != twin.Webhooks()[0]["uuid"] {
		t.Errorf("expected webhook id in shared store, got %q", id)
	}

	if _, err := NewGustoTrigger("hires", triggerConfig(map[string]any{"staticData": "missing"}), app); err == nil {
		t.Error("expected error for unknown static data module")
	}
}

func deliver(t *testing.T, trig *GustoTrigger, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	trig.RegisterRoutes(mux)
	req := httptest.NewRequest(http.MethodPost, trig.Path(), strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	trig.Wait()
	return rec
}

func TestGustoTrigger_ReceiveSigned(t *testing.T) {
	trig, _, runner, _ := newTestTrigger(t, map[string]any{
		"options": map[string]any{"signingSecret": "s3cret", "includeRawBody": true},
	})
	body := `{"event_type":"employee.created","entity_uuid":"e1"}`

	rec := deliver(t, trig, body, map[string]string{
		GustoSignatureHeader: SignGustoPayload("s3cret", []byte(body)),
		"X-Request-Id":       "abc",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var ack map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &ack)
	if ack["received"] != true {
		t.Errorf("unexpected ack %v", ack)
	}

	calls := runner.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one pipeline run, got %d", len(calls))
	}
	data := calls[0]
	if data["eventType"] != "employee.created" {
		t.Errorf("unexpected eventType %v", data["eventType"])
	}
	if data["body"].(map[string]any)["entity_uuid"] != "e1" {
		t.Errorf("unexpected body %v", data["body"])
	}
	headers := data["headers"].(map[string]any)
	if headers["x-request-id"] != "abc" || headers["content-type"] != "application/json" {
		t.Errorf("expected lowercased headers, got %v", headers)
	}
	if data["timestamp"] != "2026-03-04T05:06:07.008Z" {
		t.Errorf("unexpected timestamp %v", data["timestamp"])
	}
	if data["rawBody"] != body {
		t.Errorf("unexpected rawBody %v", data["rawBody"])
	}
}

func TestGustoTrigger_ReceiveWithoutEventType(t *testing.T) {
	trig, _, runner, _ := newTestTrigger(t, map[string]any{"options": map[string]any{"verifySignature": false}})

	rec := deliver(t, trig, `{"entity_uuid":"e1"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := runner.Calls()[0]
	if _, ok := data["eventType"]; ok {
		t.Error("eventType must be absent when the body has none")
	}
	if _, ok := data["rawBody"]; ok {
		t.Error("rawBody must be absent unless requested")
	}
}

func TestGustoTrigger_SignatureRejected(t *testing.T) {
	trig, _, runner, _ := newTestTrigger(t, map[string]any{
		"options": map[string]any{"signingSecret": "s3cret"},
	})
	body := `{"event_type":"employee.created"}`

	rec := deliver(t, trig, body, nil)
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "Missing webhook signature") {
		t.Errorf("expected missing signature 401, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = deliver(t, trig, body, map[string]string{GustoSignatureHeader: SignGustoPayload("wrong", []byte(body))})
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "Invalid webhook signature") {
		t.Errorf("expected invalid signature 401, got %d: %s", rec.Code, rec.Body.String())
	}

	if n := len(runner.Calls()); n != 0 {
		t.Errorf("rejected deliveries must not run the pipeline, got %d runs", n)
	}
}

func TestGustoTrigger_SignatureWithoutSecret(t *testing.T) {
	trig, _, runner, _ := newTestTrigger(t, nil)

	rec := deliver(t, trig, `{"event_type":"employee.created"}`, map[string]string{GustoSignatureHeader: "anything"})
	if rec.Code != http.StatusOK {
		t.Errorf("expected presence-only check to pass, got %d", rec.Code)
	}
	if len(runner.Calls()) != 1 {
		t.Error("expected the pipeline to run")
	}
}

func TestGustoTrigger_InvalidJSON(t *testing.T) {
	trig, _, runner, _ := newTestTrigger(t, map[string]any{"options": map[string]any{"verifySignature": false}})
	rec := deliver(t, trig, `{not json`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if len(runner.Calls()) != 0 {
		t.Error("invalid payloads must not run the pipeline")
	}
}

func TestGustoTrigger_VerificationHandshake(t *testing.T) {
	trig, twin, runner, _ := newTestTrigger(t, nil)
	ctx := context.Background()
	if err := trig.Activate(ctx); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	id, _, _ := trig.WebhookID(ctx)

	rec := deliver(t, trig, `{"verification_token":"vt-1","uuid":"other"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a foreign subscription, got %d", rec.Code)
	}

	twin.Fail(http.MethodPut, "/v1/webhook_subscriptions/"+id+"/verify", gustotwin.Fault{Status: http.StatusUnprocessableEntity})
	rec = deliver(t, trig, `{"verification_token":"vt-1","uuid":"`+id+`"}`, nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502 when Gusto rejects the token, got %d", rec.Code)
	}
	if _, ok, _ := trig.data.Get(ctx, verificationTokenKey); ok {
		t.Error("an unconfirmed token must not be stored")
	}

	twin.ClearFaults()
	rec = deliver(t, trig, `{"verification_token":"vt-1","uuid":"`+id+`"}`, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"verified":true`) {
		t.Fatalf("expected verified ack, got %d: %s", rec.Code, rec.Body.String())
	}
	if twin.VerifiedToken(id) != "vt-1" {
		t.Errorf("expected Gusto to receive the token, got %q", twin.VerifiedToken(id))
	}
	if len(runner.Calls()) != 0 {
		t.Error("the handshake must not run the pipeline")
	}

	// The confirmed token now signs deliveries.
	body := `{"event_type":"employee.updated"}`
	rec = deliver(t, trig, body, map[string]string{GustoSignatureHeader: "sha256=" + SignGustoPayload("vt-1", []byte(body))})
	if rec.Code != http.StatusOK {
		t.Errorf("expected delivery signed with the token to pass, got %d", rec.Code)
	}
	rec = deliver(t, trig, body, map[string]string{GustoSignatureHeader: SignGustoPayload("other", []byte(body))})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected delivery with a wrong signature to fail, got %d", rec.Code)
	}
}

func TestGustoTrigger_MethodNotAllowed(t *testing.T) {
	trig, _, _, _ := newTestTrigger(t, nil)
	mux := http.NewServeMux()
	trig.RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, trig.Path(), nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestGustoTrigger_Metrics(t *testing.T) {
	app, _, _ := newTwinApp(t)
	m := NewMetricsCollector(MetricsServiceName)
	registerServices(t, app, m)
	trig, err := NewGustoTrigger("hires", triggerConfig(nil), app)
	if err != nil {
		t.Fatalf("NewGustoTrigger: %v", err)
	}
	trig.SetRunner(&recordingRunner{})
	if err := trig.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	deliver(t, trig, `{}`, nil)

	out := scrape(t, m)
	for _, want := range []string{
		`gustoflow_webhook_lifecycle_total{action="checkExists",pipeline="hires",result="false"} 1`,
		`gustoflow_webhook_lifecycle_total{action="create",pipeline="hires",result="true"} 1`,
		`gustoflow_webhook_deliveries_total{outcome="unauthorized",pipeline="hires"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in metrics output:\n%s", want, out)
		}
	}
}

func TestCoversEvents(t *testing.T) {
	if !coversEvents([]string{"a", "b", "c"}, []string{"c", "a"}) {
		t.Error("superset should cover")
	}
	if coversEvents([]string{"a"}, []string{"a", "b"}) {
		t.Error("subset should not cover")
	}
}
