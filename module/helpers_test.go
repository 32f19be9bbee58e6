package module

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/GoCodeAlone/gustoflow/internal/gustotwin"
	"github.com/GoCodeAlone/modular"
)

// newTestApp creates an isolated application with a silent logger.
func newTestApp(t *testing.T) modular.Application {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return modular.NewStdApplication(modular.NewStdConfigProvider(nil), logger)
}

// registerServices publishes a module's ProvidesServices into app.
func registerServices(t *testing.T, app modular.Application, m interface {
	ProvidesServices() []modular.ServiceProvider
}) {
	t.Helper()
	for _, svc := range m.ProvidesServices() {
		if err := app.RegisterService(svc.Name, svc.Instance); err != nil {
			t.Fatalf("RegisterService(%q): %v", svc.Name, err)
		}
	}
}

const testAccessToken = "test-token"

// newTwin starts a fake Gusto API and returns it with a credential that
// targets it using a fixed bearer token.
func newTwin(t *testing.T) (*gustotwin.Server, *GustoCredential) {
	t.Helper()
	twin := gustotwin.New()
	twin.SetAccessToken(testAccessToken)
	srv := httptest.NewServer(twin.Handler())
	t.Cleanup(srv.Close)

	cred := NewGustoCredential("gusto-test", GustoCredentialConfig{
		Environment:  "demo",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AccessToken:  testAccessToken,
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/oauth/token",
	})
	return twin, cred
}

// newTwinApp returns an app with the twin credential registered.
func newTwinApp(t *testing.T) (modular.Application, *gustotwin.Server, *GustoCredential) {
	t.Helper()
	app := newTestApp(t)
	twin, cred := newTwin(t)
	if err := cred.Init(app); err != nil {
		t.Fatalf("Init: %v", err)
	}
	registerServices(t, app, cred)
	return app, twin, cred
}
