package module

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/modular"
)

// Keys of the trigger's node-scoped static data.
const (
	webhookIDKey         = "webhookId"
	verificationTokenKey = "verificationToken"
)

const maxWebhookBody = 5 << 20

// ErrWebhookNotCreated is returned by Activate when Gusto accepted the
// subscription request but returned no subscription uuid.
var ErrWebhookNotCreated = errors.New("webhook subscription was not created")

// WebhookState is the subscription lifecycle state of a trigger.
type WebhookState string

const (
	WebhookAbsent  WebhookState = "absent"
	WebhookPending WebhookState = "pending"
	WebhookActive  WebhookState = "active"
)

// GustoTriggerConfig is the parsed config of a gusto pipeline trigger.
type GustoTriggerConfig struct {
	Credential      string
	StaticData      string
	Events          []string
	Path            string
	PublicURL       string
	VerifySignature bool
	IncludeRawBody  bool
	SigningSecret   string
}

// ParseGustoTriggerConfig validates and reads a trigger config map.
func ParseGustoTriggerConfig(pipeline string, cfg map[string]any) (GustoTriggerConfig, error) {
	if err := GustoTriggerSchema().ValidateConfig("trigger", cfg); err != nil {
		return GustoTriggerConfig{}, err
	}
	opts, _ := cfg["options"].(map[string]any)
	out := GustoTriggerConfig{
		Credential:      configString(cfg, "credential"),
		StaticData:      configString(cfg, "staticData"),
		Events:          GustoParams(cfg).Strings("events"),
		Path:            configString(cfg, "path"),
		PublicURL:       strings.TrimRight(configString(cfg, "publicUrl"), "/"),
		VerifySignature: configBool(opts, "verifySignature", true),
		IncludeRawBody:  configBool(opts, "includeRawBody", false),
		SigningSecret:   configString(opts, "signingSecret"),
	}
	if out.Path == "" {
		out.Path = "/webhooks/gusto/" + pipeline
	}
	if !strings.HasPrefix(out.Path, "/") {
		out.Path = "/" + out.Path
	}
	return out, nil
}

// GustoTrigger subscribes a pipeline to Gusto webhook events and starts a
// run for every delivery it receives.
type GustoTrigger struct {
	pipeline string
	cfg      GustoTriggerConfig
	client   *GustoClient
	data     *NodeStaticData
	metrics  *MetricsCollector
	logger   modular.Logger
	now      func() time.Time

	mu     sync.Mutex
	state  WebhookState
	runner PipelineRunner
	runs   sync.WaitGroup
}

// NewGustoTrigger builds the trigger of pipeline from its config, resolving
// the credential and static data store from app.
func NewGustoTrigger(pipeline string, cfg map[string]any, app modular.Application) (*GustoTrigger, error) {
	tc, err := ParseGustoTriggerConfig(pipeline, cfg)
	if err != nil {
		return nil, fmt.Errorf("gusto trigger %q: %w", pipeline, err)
	}
	cred, err := serviceAs[GustoCredentialSource](app, tc.Credential)
	if err != nil {
		return nil, fmt.Errorf("gusto trigger %q: %w", pipeline, err)
	}

	var store StaticDataStore
	if tc.StaticData != "" {
		store, err = serviceAs[StaticDataStore](app, tc.StaticData)
		if err != nil {
			return nil, fmt.Errorf("gusto trigger %q: %w", pipeline, err)
		}
	} else {
		store = NewMemoryStaticData(pipeline + "-static")
	}

	t := &GustoTrigger{
		pipeline: pipeline,
		cfg:      tc,
		client:   NewGustoClient(cred),
		data:     NewNodeStaticData(store, "node:"+pipeline),
		logger:   app.Logger(),
		now:      time.Now,
		state:    WebhookAbsent,
	}
	if mc, err := serviceAs[*MetricsCollector](app, MetricsServiceName); err == nil {
		t.metrics = mc
		t.client.WithMetrics(mc)
	}
	return t, nil
}

// Pipeline returns the pipeline this trigger starts.
func (t *GustoTrigger) Pipeline() string { return t.pipeline }

// Path returns the route the trigger listens on.
func (t *GustoTrigger) Path() string { return t.cfg.Path }

// WebhookURL is the URL registered with Gusto.
func (t *GustoTrigger) WebhookURL() string { return t.cfg.PublicURL + t.cfg.Path }

// SetRunner sets the runner deliveries are handed to.
func (t *GustoTrigger) SetRunner(r PipelineRunner) {
	t.mu.Lock()
	t.runner = r
	t.mu.Unlock()
}

// State returns the current lifecycle state.
func (t *GustoTrigger) State() WebhookState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *GustoTrigger) setState(s WebhookState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// WebhookID returns the stored subscription uuid.
func (t *GustoTrigger) WebhookID(ctx context.Context) (string, bool, error) {
	return t.data.Get(ctx, webhookIDKey)
}

// Routes returns the receipt route.
func (t *GustoTrigger) Routes() []string {
	return []string{"POST " + t.cfg.Path}
}

// RegisterRoutes mounts the receipt handler.
func (t *GustoTrigger) RegisterRoutes(mux *http.ServeMux) {
	for _, route := range t.Routes() {
		mux.Handle(route, t)
	}
}

// CheckExists looks for a subscription with this trigger's URL whose types
// cover every configured event. Any failure counts as not found.
func (t *GustoTrigger) CheckExists(ctx context.Context) bool {
	found := t.checkExists(ctx)
	t.recordLifecycle("checkExists", found)
	return found
}

func (t *GustoTrigger) checkExists(ctx context.Context) bool {
	resp, err := t.client.Request(ctx, http.MethodGet, "/v1/webhook_subscriptions", nil, nil)
	if err != nil {
		t.logger.Debug("Listing Gusto webhook subscriptions failed", "pipeline", t.pipeline, "error", err)
		return false
	}
	subs, _ := resp.([]any)
	target := t.WebhookURL()
	for _, s := range subs {
		sub, ok := s.(map[string]any)
		if !ok || stringify(sub["url"]) != target {
			continue
		}
		types := GustoParams(sub).Strings("subscription_types")
		if !coversEvents(types, t.cfg.Events) {
			continue
		}
		id := stringify(sub["uuid"])
		if id == "" {
			continue
		}
		if err := t.data.Set(ctx, webhookIDKey, id); err != nil {
			t.logger.Debug("Storing Gusto webhook id failed", "pipeline", t.pipeline, "error", err)
			return false
		}
		t.setState(WebhookActive)
		t.logger.Info("Gusto webhook subscription found", "pipeline", t.pipeline, "webhookId", id)
		return true
	}
	return false
}

func coversEvents(have, want []string) bool {
	for _, e := range want {
		if !slices.Contains(have, e) {
			return false
		}
	}
	return true
}

// Create registers a new subscription. It returns false without error when
// Gusto answers without a uuid.
func (t *GustoTrigger) Create(ctx context.Context) (bool, error) {
	ok, err := t.create(ctx)
	t.recordLifecycle("create", ok)
	return ok, err
}

func (t *GustoTrigger) create(ctx context.Context) (bool, error) {
	t.setState(WebhookPending)
	resp, err := t.client.Request(ctx, http.MethodPost, "/v1/webhook_subscriptions", map[string]any{
		"url":                t.WebhookURL(),
		"subscription_types": t.cfg.Events,
	}, nil)
	if err != nil {
		t.setState(WebhookAbsent)
		return false, fmt.Errorf("failed to create webhook: %w", err)
	}

	sub, _ := resp.(map[string]any)
	id := stringify(sub["uuid"])
	if id == "" {
		t.setState(WebhookAbsent)
		return false, nil
	}
	if err := t.data.Set(ctx, webhookIDKey, id); err != nil {
		t.setState(WebhookAbsent)
		return false, fmt.Errorf("failed to store webhook id %s: %w", id, err)
	}
	t.setState(WebhookActive)
	t.logger.Info("Gusto webhook subscription created", "pipeline", t.pipeline, "webhookId", id, "url", t.WebhookURL())
	return true, nil
}

// Delete removes the stored subscription. Failures are logged and reported
// as false; the stored id is kept so a later Delete can retry.
func (t *GustoTrigger) Delete(ctx context.Context) bool {
	ok := t.delete(ctx)
	t.recordLifecycle("delete", ok)
	return ok
}

func (t *GustoTrigger) delete(ctx context.Context) bool {
	id, ok, err := t.data.Get(ctx, webhookIDKey)
	if err != nil {
		t.logger.Warn("Reading Gusto webhook id failed", "pipeline", t.pipeline, "error", err)
		return false
	}
	if !ok || id == "" {
		return false
	}
	if _, err := t.client.Request(ctx, http.MethodDelete, "/v1/webhook_subscriptions/"+url.PathEscape(id), nil, nil); err != nil {
		t.logger.Warn("Deleting Gusto webhook subscription failed", "pipeline", t.pipeline, "webhookId", id, "error", err)
		return false
	}
	if err := t.data.Delete(ctx, webhookIDKey); err != nil {
		t.logger.Warn("Clearing Gusto webhook id failed", "pipeline", t.pipeline, "error", err)
	}
	t.setState(WebhookAbsent)
	t.logger.Info("Gusto webhook subscription deleted", "pipeline", t.pipeline, "webhookId", id)
	return true
}

// Activate ensures a matching subscription exists.
func (t *GustoTrigger) Activate(ctx context.Context) error {
	if t.CheckExists(ctx) {
		return nil
	}
	ok, err := t.Create(ctx)
	if err != nil {
		return fmt.Errorf("gusto trigger %q: %w", t.pipeline, err)
	}
	if !ok {
		return fmt.Errorf("gusto trigger %q: %w", t.pipeline, ErrWebhookNotCreated)
	}
	return nil
}

// Deactivate waits for in-flight runs and deletes the subscription.
func (t *GustoTrigger) Deactivate(ctx context.Context) error {
	t.Wait()
	t.Delete(ctx)
	return nil
}

// Wait blocks until every pipeline run started by a delivery has finished.
func (t *GustoTrigger) Wait() { t.runs.Wait() }

func (t *GustoTrigger) recordLifecycle(action string, ok bool) {
	if t.metrics != nil {
		t.metrics.RecordWebhookLifecycle(t.pipeline, action, ok)
	}
}

func (t *GustoTrigger) recordDelivery(outcome string) {
	if t.metrics != nil {
		t.metrics.RecordWebhookDelivery(t.pipeline, outcome)
	}
}

// ServeHTTP receives one webhook delivery.
func (t *GustoTrigger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		t.recordDelivery("bad_request")
		writeJSONError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	var body any = map[string]any{}
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			t.recordDelivery("bad_request")
			writeJSONError(w, http.StatusBadRequest, "body is not valid JSON")
			return
		}
	}

	if obj, ok := body.(map[string]any); ok {
		token, hasToken := obj["verification_token"].(string)
		id, hasID := obj["uuid"].(string)
		if hasToken && hasID && token != "" && id != "" {
			t.handleVerification(r.Context(), w, id, token)
			return
		}
	}

	if t.cfg.VerifySignature {
		if err := t.verify(r.Context(), raw, r.Header.Get(GustoSignatureHeader)); err != nil {
			t.recordDelivery("unauthorized")
			msg := "Invalid webhook signature"
			if errors.Is(err, ErrMissingSignature) {
				msg = "Missing webhook signature"
			}
			t.logger.Warn("Rejected Gusto webhook", "pipeline", t.pipeline, "error", err)
			writeJSONError(w, http.StatusUnauthorized, msg)
			return
		}
	}

	data := t.buildOutput(r, raw, body)
	t.recordDelivery("accepted")
	t.dispatch(r.Context(), data)
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

func (t *GustoTrigger) verify(ctx context.Context, raw []byte, signature string) error {
	if strings.TrimSpace(signature) == "" {
		return ErrMissingSignature
	}
	secret := t.cfg.SigningSecret
	if secret == "" {
		stored, ok, err := t.data.Get(ctx, verificationTokenKey)
		if err != nil {
			return fmt.Errorf("load verification token: %w", err)
		}
		if ok {
			secret = stored
		}
	}
	if secret == "" {
		t.logger.Warn("No Gusto signing secret available; only checking signature presence", "pipeline", t.pipeline)
		return nil
	}
	return VerifyGustoSignature(secret, raw, signature)
}

// handleVerification completes Gusto's subscription verification: the token
// is confirmed with Gusto and only then kept as the signing secret.
func (t *GustoTrigger) handleVerification(ctx context.Context, w http.ResponseWriter, id, token string) {
	stored, ok, err := t.data.Get(ctx, webhookIDKey)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "static data unavailable")
		return
	}
	if ok && stored != id {
		t.recordDelivery("bad_request")
		t.logger.Warn("Verification for unknown Gusto subscription", "pipeline", t.pipeline, "webhookId", id)
		writeJSONError(w, http.StatusBadRequest, "unknown webhook subscription")
		return
	}

	if _, err := t.client.Request(ctx, http.MethodPut, "/v1/webhook_subscriptions/"+url.PathEscape(id)+"/verify",
		map[string]any{"verification_token": token}, nil); err != nil {
		t.recordDelivery("bad_request")
		t.logger.Warn("Gusto webhook verification failed", "pipeline", t.pipeline, "webhookId", id, "error", err)
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	if err := t.data.Set(ctx, verificationTokenKey, token); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "static data unavailable")
		return
	}
	t.recordDelivery("verification")
	t.logger.Info("Gusto webhook subscription verified", "pipeline", t.pipeline, "webhookId", id)
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "verified": true})
}

// buildOutput assembles the trigger data of one delivery.
func (t *GustoTrigger) buildOutput(r *http.Request, raw []byte, body any) map[string]any {
	headers := make(map[string]any, len(r.Header))
	for k, v := range r.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	out := map[string]any{
		"body":      body,
		"headers":   headers,
		"timestamp": t.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if t.cfg.IncludeRawBody {
		out["rawBody"] = string(raw)
	}
	if obj, ok := body.(map[string]any); ok {
		if et, ok := obj["event_type"]; ok {
			out["eventType"] = et
		}
	}
	return out
}

// dispatch runs the pipeline in the background; the delivery is
// acknowledged without waiting for it.
func (t *GustoTrigger) dispatch(ctx context.Context, data map[string]any) {
	t.mu.Lock()
	runner := t.runner
	t.mu.Unlock()
	if runner == nil {
		t.logger.Warn("Gusto webhook received before a runner was set", "pipeline", t.pipeline)
		return
	}
	ctx = context.WithoutCancel(ctx)
	t.runs.Add(1)
	go func() {
		defer t.runs.Done()
		if _, err := runner.ExecutePipeline(ctx, t.pipeline, data); err != nil {
			t.logger.Error("Pipeline run from Gusto webhook failed", "pipeline", t.pipeline, "error", err)
		}
	}()
}
