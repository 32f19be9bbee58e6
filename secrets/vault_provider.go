package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// VaultConfig holds configuration for HashiCorp Vault.
type VaultConfig struct {
	Address   string `json:"address" yaml:"address"`
	Token     string `json:"token" yaml:"token"`
	MountPath string `json:"mount_path" yaml:"mount_path"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// VaultProvider reads secrets from a Vault KV v2 mount over the HTTP API.
// It is read-only.
type VaultProvider struct {
	config     VaultConfig
	httpClient *http.Client
}

// NewVaultProvider validates cfg and returns a provider for it.
func NewVaultProvider(cfg VaultConfig) (*VaultProvider, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: vault address is required", ErrProviderInit)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: vault token is required", ErrProviderInit)
	}
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	cfg.Address = strings.TrimRight(cfg.Address, "/")
	return &VaultProvider{
		config:     cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (p *VaultProvider) Name() string { return "vault" }

type vaultReadResponse struct {
	Data struct {
		Data map[string]any `json:"data"`
	} `json:"data"`
}

// Get reads "path" or "path#field". Without a field the whole secret data
// is returned as JSON.
func (p *VaultProvider) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	path, field := parseVaultKey(key)
	url := fmt.Sprintf("%s/v1/%s/data/%s", p.config.Address, p.config.MountPath, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: failed to create vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.config.Token)
	if p.config.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", p.config.Namespace)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("secrets: vault request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("secrets: failed to read vault response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: vault returned status %d for key %q", ErrNotFound, resp.StatusCode, key)
	}

	var vaultResp vaultReadResponse
	if err := json.Unmarshal(body, &vaultResp); err != nil {
		return "", fmt.Errorf("secrets: failed to parse vault response: %w", err)
	}
	if vaultResp.Data.Data == nil {
		return "", fmt.Errorf("%w: no data at key %q", ErrNotFound, key)
	}

	if field != "" {
		val, ok := vaultResp.Data.Data[field]
		if !ok {
			return "", fmt.Errorf("%w: field %q not found at key %q", ErrNotFound, field, path)
		}
		return fmt.Sprintf("%v", val), nil
	}
	data, err := json.Marshal(vaultResp.Data.Data)
	if err != nil {
		return "", fmt.Errorf("secrets: failed to marshal vault data: %w", err)
	}
	return string(data), nil
}

func (p *VaultProvider) Set(context.Context, string, string) error { return ErrUnsupported }

func (p *VaultProvider) Delete(context.Context, string) error { return ErrUnsupported }

// parseVaultKey splits "path#field" into (path, field).
func parseVaultKey(key string) (path, field string) {
	if idx := strings.LastIndex(key, "#"); idx >= 0 {
		return key[:idx], key[idx+1:]
	}
	return key, ""
}
