package module

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/modular"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

// Gusto endpoints.
const (
	GustoAuthURL           = "https://api.gusto.com/oauth/authorize"
	GustoTokenURL          = "https://api.gusto.com/oauth/token"
	GustoProductionBaseURL = "https://api.gusto.com"
	GustoDemoBaseURL       = "https://api.gusto-demo.com"
)

// ErrNoToken is returned when a credential has neither a configured nor a
// stored OAuth2 token.
var ErrNoToken = errors.New("gusto credential has no OAuth2 token; run the authorization flow first")

const credentialTokenKey = "token"

// GustoCredentialConfig holds configuration for the gusto.credential module.
type GustoCredentialConfig struct {
	Environment  string    `json:"environment"  yaml:"environment"`
	ClientID     string    `json:"clientId"     yaml:"clientId"`
	ClientSecret string    `json:"clientSecret" yaml:"clientSecret"` //nolint:gosec // G117: config DTO field for OAuth2 client secret
	RedirectURL  string    `json:"redirectUrl"  yaml:"redirectUrl"`
	Scopes       []string  `json:"scopes"       yaml:"scopes"`
	AccessToken  string    `json:"accessToken"  yaml:"accessToken"`
	RefreshToken string    `json:"refreshToken" yaml:"refreshToken"`
	TokenExpiry  time.Time `json:"tokenExpiry"  yaml:"tokenExpiry"`
	AuthURL      string    `json:"authUrl"      yaml:"authUrl"`
	TokenURL     string    `json:"tokenUrl"     yaml:"tokenUrl"`
	BaseURL      string    `json:"baseUrl"      yaml:"baseUrl"`
	// TokenStore names a static data module where refreshed tokens are kept.
	TokenStore string `json:"tokenStore" yaml:"tokenStore"`
}

// ParseGustoCredentialConfig reads a gusto.credential config map.
func ParseGustoCredentialConfig(cfg map[string]any) (GustoCredentialConfig, error) {
	out := GustoCredentialConfig{
		Environment:  configString(cfg, "environment"),
		ClientID:     configString(cfg, "clientId"),
		ClientSecret: configString(cfg, "clientSecret"),
		RedirectURL:  configString(cfg, "redirectUrl"),
		AccessToken:  configString(cfg, "accessToken"),
		RefreshToken: configString(cfg, "refreshToken"),
		AuthURL:      configString(cfg, "authUrl"),
		TokenURL:     configString(cfg, "tokenUrl"),
		BaseURL:      configString(cfg, "baseUrl"),
		TokenStore:   configString(cfg, "tokenStore"),
	}
	if out.Environment == "" {
		out.Environment = "demo"
	}
	if out.Environment != "demo" && out.Environment != "production" {
		return out, fmt.Errorf("environment must be demo or production, got %q", out.Environment)
	}
	switch v := cfg["scopes"].(type) {
	case string:
		out.Scopes = strings.Fields(v)
	case []any:
		for _, s := range v {
			if str, ok := s.(string); ok && str != "" {
				out.Scopes = append(out.Scopes, str)
			}
		}
	case []string:
		out.Scopes = v
	}
	if exp := configString(cfg, "tokenExpiry"); exp != "" {
		t, err := time.Parse(time.RFC3339, exp)
		if err != nil {
			return out, fmt.Errorf("invalid tokenExpiry %q: %w", exp, err)
		}
		out.TokenExpiry = t
	}
	return out, nil
}

// GustoCredential is the gusto.credential module. It selects the API base URL
// from the environment and produces OAuth2-authenticated HTTP clients that
// refresh expired tokens and persist them to an optional token store.
type GustoCredential struct {
	name   string
	cfg    GustoCredentialConfig
	oauth  *oauth2.Config
	app    modular.Application
	logger modular.Logger

	mu     sync.Mutex
	source oauth2.TokenSource
}

// NewGustoCredential creates a new credential module.
func NewGustoCredential(name string, cfg GustoCredentialConfig) *GustoCredential {
	endpoint := oauth2.Endpoint{
		AuthURL:  GustoAuthURL,
		TokenURL: GustoTokenURL,
		// Gusto expects client_id and client_secret in the form body.
		AuthStyle: oauth2.AuthStyleInParams,
	}
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	return &GustoCredential{
		name: name,
		cfg:  cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		logger: &noopLogger{},
	}
}

func (c *GustoCredential) Name() string { return c.name }

func (c *GustoCredential) Init(app modular.Application) error {
	c.app = app
	c.logger = app.Logger()
	return nil
}

// Environment returns "demo" or "production".
func (c *GustoCredential) Environment() string { return c.cfg.Environment }

// BaseURL returns the API origin for the configured environment.
func (c *GustoCredential) BaseURL() string {
	if c.cfg.BaseURL != "" {
		return strings.TrimRight(c.cfg.BaseURL, "/")
	}
	if c.cfg.Environment == "production" {
		return GustoProductionBaseURL
	}
	return GustoDemoBaseURL
}

// AuthCodeURL returns the consent page URL for the authorization-code flow.
func (c *GustoCredential) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token and makes it the
// credential's active token.
func (c *GustoCredential) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("gusto credential %q: exchange code: %w", c.name, err)
	}
	c.mu.Lock()
	c.source = c.newSource(tok)
	c.mu.Unlock()
	if err := c.saveToken(ctx, tok); err != nil {
		return tok, err
	}
	c.logger.Info("Gusto credential authorized", "credential", c.name)
	return tok, nil
}

// HTTPClient returns a client that injects the bearer token and refreshes it
// when expired. The transport is instrumented with otelhttp.
func (c *GustoCredential) HTTPClient(ctx context.Context) (*http.Client, error) {
	src, err := c.tokenSource(ctx)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: &oauth2.Transport{Source: src, Base: otelhttp.NewTransport(http.DefaultTransport)},
	}, nil
}

// Token returns the current token, refreshing it if needed.
func (c *GustoCredential) Token(ctx context.Context) (*oauth2.Token, error) {
	src, err := c.tokenSource(ctx)
	if err != nil {
		return nil, err
	}
	return src.Token()
}

// Test calls GET /v1/me with the credential.
func (c *GustoCredential) Test(ctx context.Context) (any, error) {
	return NewGustoClient(c).Request(ctx, http.MethodGet, "/v1/me", nil, nil)
}

func (c *GustoCredential) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source != nil {
		return c.source, nil
	}

	tok, err := c.loadToken(ctx)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		if c.cfg.AccessToken == "" && c.cfg.RefreshToken == "" {
			return nil, fmt.Errorf("gusto credential %q: %w", c.name, ErrNoToken)
		}
		tok = &oauth2.Token{
			AccessToken:  c.cfg.AccessToken,
			RefreshToken: c.cfg.RefreshToken,
			Expiry:       c.cfg.TokenExpiry,
			TokenType:    "Bearer",
		}
	}
	c.source = c.newSource(tok)
	return c.source, nil
}

// newSource builds the refreshing source. It outlives any request context,
// so it gets its own background context carrying the instrumented client.
func (c *GustoCredential) newSource(tok *oauth2.Token) oauth2.TokenSource {
	base := c.oauth.TokenSource(c.oauthContext(context.Background()), tok)
	return &persistingTokenSource{base: base, last: tok.AccessToken, save: c.persistRefreshed}
}

func (c *GustoCredential) persistRefreshed(tok *oauth2.Token) {
	if err := c.saveToken(context.Background(), tok); err != nil {
		c.logger.Warn("Failed to persist refreshed Gusto token", "credential", c.name, "error", err)
		return
	}
	c.logger.Debug("Gusto token refreshed", "credential", c.name)
}

func (c *GustoCredential) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})
}

func (c *GustoCredential) store() (StaticDataStore, error) {
	if c.cfg.TokenStore == "" || c.app == nil {
		return nil, nil
	}
	return serviceAs[StaticDataStore](c.app, c.cfg.TokenStore)
}

func (c *GustoCredential) scope() string { return "credential:" + c.name }

func (c *GustoCredential) loadToken(ctx context.Context) (*oauth2.Token, error) {
	store, err := c.store()
	if err != nil || store == nil {
		return nil, err
	}
	raw, ok, err := store.Get(ctx, c.scope(), credentialTokenKey)
	if err != nil {
		return nil, fmt.Errorf("gusto credential %q: load token: %w", c.name, err)
	}
	if !ok {
		return nil, nil
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, fmt.Errorf("gusto credential %q: decode stored token: %w", c.name, err)
	}
	return &tok, nil
}

func (c *GustoCredential) saveToken(ctx context.Context, tok *oauth2.Token) error {
	store, err := c.store()
	if err != nil || store == nil {
		return err
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("gusto credential %q: encode token: %w", c.name, err)
	}
	if err := store.Set(ctx, c.scope(), credentialTokenKey, string(raw)); err != nil {
		return fmt.Errorf("gusto credential %q: save token: %w", c.name, err)
	}
	return nil
}

func (c *GustoCredential) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: c.name, Description: "Gusto OAuth2 credential", Instance: c},
	}
}

func (c *GustoCredential) RequiresServices() []modular.ServiceDependency {
	return nil
}

// persistingTokenSource saves every newly issued token.
type persistingTokenSource struct {
	base oauth2.TokenSource
	save func(*oauth2.Token)

	mu   sync.Mutex
	last string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		p.save(tok)
	}
	return tok, nil
}
