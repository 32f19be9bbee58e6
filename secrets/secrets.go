// Package secrets resolves secret:// references found in module and trigger
// configuration, so OAuth client secrets, tokens and webhook signing keys
// never have to be written into workflow YAML.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SecretPrefix is the URI scheme used in config values to reference secrets.
const SecretPrefix = "secret://"

// Common errors.
var (
	ErrNotFound     = errors.New("secrets: secret not found")
	ErrUnsupported  = errors.New("secrets: operation not supported")
	ErrInvalidKey   = errors.New("secrets: invalid key")
	ErrProviderInit = errors.New("secrets: provider initialization failed")
)

// Provider defines the interface for secret storage backends.
type Provider interface {
	// Name returns the provider identifier.
	Name() string
	// Get retrieves a secret value by key.
	Get(ctx context.Context, key string) (string, error)
	// Set stores a secret. Returns ErrUnsupported if read-only.
	Set(ctx context.Context, key, value string) error
	// Delete removes a secret. Returns ErrUnsupported if read-only.
	Delete(ctx context.Context, key string) error
}

// EnvProvider reads secrets from environment variables.
// "gusto.client_secret" is looked up as GUSTO_CLIENT_SECRET; slashes and
// dashes are folded to underscores as well.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates a new environment variable secret provider.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Get(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	envKey := p.envKey(key)
	val, ok := os.LookupEnv(envKey)
	if !ok {
		return "", fmt.Errorf("%w: env var %s", ErrNotFound, envKey)
	}
	return val, nil
}

func (p *EnvProvider) Set(_ context.Context, key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return os.Setenv(p.envKey(key), value)
}

func (p *EnvProvider) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return os.Unsetenv(p.envKey(key))
}

var envKeyReplacer = strings.NewReplacer(".", "_", "/", "_", "-", "_")

func (p *EnvProvider) envKey(key string) string {
	return strings.ToUpper(p.prefix + envKeyReplacer.Replace(key))
}

// FileProvider reads secrets from files in a directory, one file per key.
// Compatible with Kubernetes secret volume mounts.
type FileProvider struct {
	dir string
}

// NewFileProvider creates a file-based secret provider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(_ context.Context, key string) (string, error) {
	path, err := p.path(key)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return "", fmt.Errorf("secrets: failed to read %s: %w", key, err)
	}
	return strings.TrimRight(string(data), "\n\r"), nil
}

func (p *FileProvider) Set(_ context.Context, key, value string) error {
	path, err := p.path(key)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(value), 0o600)
}

func (p *FileProvider) Delete(_ context.Context, key string) error {
	path, err := p.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return err
}

// path rejects keys that would escape the provider directory.
func (p *FileProvider) path(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || filepath.IsAbs(key) {
		return "", ErrInvalidKey
	}
	return filepath.Join(p.dir, key), nil
}

// NewProvider builds a provider from a secrets config block.
// Supported kinds: "env" (prefix), "file" (dir), "vault" (address, token,
// mount_path, namespace).
func NewProvider(kind string, cfg map[string]any) (Provider, error) {
	str := func(k string) string {
		s, _ := cfg[k].(string)
		return os.ExpandEnv(s)
	}
	switch kind {
	case "", "env":
		return NewEnvProvider(str("prefix")), nil
	case "file":
		dir := str("dir")
		if dir == "" {
			return nil, fmt.Errorf("%w: file provider requires dir", ErrProviderInit)
		}
		return NewFileProvider(dir), nil
	case "vault":
		return NewVaultProvider(VaultConfig{
			Address:   str("address"),
			Token:     str("token"),
			MountPath: str("mount_path"),
			Namespace: str("namespace"),
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrProviderInit, kind)
	}
}

// Resolver resolves secret:// references in configuration values.
type Resolver struct {
	mu       sync.RWMutex
	provider Provider
}

// NewResolver creates a resolver backed by the given provider.
func NewResolver(provider Provider) *Resolver {
	return &Resolver{provider: provider}
}

// Resolve replaces a value containing a secret:// reference with the actual secret.
// If the value does not start with SecretPrefix, it is returned as-is.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if !strings.HasPrefix(value, SecretPrefix) {
		return value, nil
	}
	key := strings.TrimPrefix(value, SecretPrefix)
	r.mu.RLock()
	p := r.provider
	r.mu.RUnlock()
	if p == nil {
		return "", fmt.Errorf("%w: no provider configured for %q", ErrNotFound, key)
	}
	return p.Get(ctx, key)
}

// ResolveMap resolves all secret:// references in a config map, recursing
// into nested maps and lists.
func (r *Resolver) ResolveMap(ctx context.Context, m map[string]any) (map[string]any, error) {
	result := make(map[string]any, len(m))
	for k, v := range m {
		resolved, err := r.resolveValue(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("secrets: failed to resolve %q: %w", k, err)
		}
		result[k] = resolved
	}
	return result, nil
}

func (r *Resolver) resolveValue(ctx context.Context, v any) (any, error) {
	switch val := v.(type) {
	case string:
		return r.Resolve(ctx, val)
	case map[string]any:
		return r.ResolveMap(ctx, val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := r.resolveValue(ctx, item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// SetProvider swaps the backing provider.
func (r *Resolver) SetProvider(p Provider) {
	r.mu.Lock()
	r.provider = p
	r.mu.Unlock()
}

// Provider returns the underlying provider.
func (r *Resolver) Provider() Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.provider
}
