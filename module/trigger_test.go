package module

import (
	"context"
	"net/http"
	"strings"
	"testing"
)

type stubTrigger struct {
	pipeline string
	active   bool
}

func (s *stubTrigger) Pipeline() string                 { return s.pipeline }
func (s *stubTrigger) SetRunner(PipelineRunner)         {}
func (s *stubTrigger) Activate(context.Context) error   { s.active = true; return nil }
func (s *stubTrigger) Deactivate(context.Context) error { s.active = false; return nil }

func TestTriggerRegistry(t *testing.T) {
	r := NewTriggerRegistry()
	for _, trig := range []PipelineTrigger{
		&stubTrigger{pipeline: "payroll-sync"},
		&stubTrigger{pipeline: "hires"},
	} {
		if err := r.Register(trig); err != nil {
			t.Fatalf("Register(%s): %v", trig.Pipeline(), err)
		}
	}
	replacement := &stubTrigger{pipeline: "hires"}
	if err := r.Register(replacement); err != nil {
		t.Fatalf("Register replacement: %v", err)
	}

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 triggers, got %d", len(all))
	}
	if all[0].Pipeline() != "hires" || all[1].Pipeline() != "payroll-sync" {
		t.Errorf("expected triggers ordered by pipeline, got %s, %s", all[0].Pipeline(), all[1].Pipeline())
	}
	if got, ok := r.Get("hires"); !ok || got != replacement {
		t.Error("expected the later registration to replace the earlier one")
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("unexpected trigger for unknown pipeline")
	}
}

type stubHTTPTrigger struct {
	stubTrigger
	path string
}

func (s *stubHTTPTrigger) Routes() []string                  { return []string{"POST " + s.path} }
func (s *stubHTTPTrigger) RegisterRoutes(mux *http.ServeMux) {}

func TestTriggerRegistry_RouteConflict(t *testing.T) {
	r := NewTriggerRegistry()
	if err := r.Register(&stubHTTPTrigger{stubTrigger{pipeline: "hires"}, "/hook"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	err := r.Register(&stubHTTPTrigger{stubTrigger{pipeline: "payroll"}, "/hook"})
	if err == nil || !strings.Contains(err.Error(), `pipeline "payroll" conflicts with pipeline "hires"`) {
		t.Fatalf("expected a route conflict naming both pipelines, got %v", err)
	}
	if _, ok := r.Get("payroll"); ok {
		t.Error("a conflicting trigger must not be registered")
	}

	// Re-registering a pipeline releases its old route.
	if err := r.Register(&stubHTTPTrigger{stubTrigger{pipeline: "hires"}, "/hires"}); err != nil {
		t.Fatalf("Register replacement: %v", err)
	}
	if err := r.Register(&stubHTTPTrigger{stubTrigger{pipeline: "payroll"}, "/hook"}); err != nil {
		t.Errorf("expected /hook to be free again, got %v", err)
	}
}
