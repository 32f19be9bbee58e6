package module

import (
	"context"
	"sync"

	"github.com/GoCodeAlone/modular"
)

// StaticDataStore persists small string values per scope. The trigger keeps
// its webhook subscription ID in scope "node:<pipeline>", the credential
// keeps refreshed tokens in scope "credential:<name>".
//
// Each call is atomic on its own; a Get followed by a Set is not.
type StaticDataStore interface {
	Get(ctx context.Context, scope, key string) (string, bool, error)
	Set(ctx context.Context, scope, key, value string) error
	Delete(ctx context.Context, scope, key string) error
}

// NodeStaticData binds a StaticDataStore to one scope.
type NodeStaticData struct {
	store StaticDataStore
	scope string
}

// NewNodeStaticData returns the view of store for scope.
func NewNodeStaticData(store StaticDataStore, scope string) *NodeStaticData {
	return &NodeStaticData{store: store, scope: scope}
}

// Scope returns the bound scope.
func (n *NodeStaticData) Scope() string { return n.scope }

func (n *NodeStaticData) Get(ctx context.Context, key string) (string, bool, error) {
	return n.store.Get(ctx, n.scope, key)
}

func (n *NodeStaticData) Set(ctx context.Context, key, value string) error {
	return n.store.Set(ctx, n.scope, key, value)
}

func (n *NodeStaticData) Delete(ctx context.Context, key string) error {
	return n.store.Delete(ctx, n.scope, key)
}

// MemoryStaticData is the staticdata.memory module: a process-local store
// that loses its contents on restart.
type MemoryStaticData struct {
	name string
	mu   sync.RWMutex
	data map[string]map[string]string
}

// NewMemoryStaticData creates an empty in-memory store.
func NewMemoryStaticData(name string) *MemoryStaticData {
	return &MemoryStaticData{name: name, data: make(map[string]map[string]string)}
}

func (m *MemoryStaticData) Name() string { return m.name }

func (m *MemoryStaticData) Init(modular.Application) error { return nil }

func (m *MemoryStaticData) Get(_ context.Context, scope, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[scope][key]
	return v, ok, nil
}

func (m *MemoryStaticData) Set(_ context.Context, scope, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[scope]
	if !ok {
		s = make(map[string]string)
		m.data[scope] = s
	}
	s[key] = value
	return nil
}

func (m *MemoryStaticData) Delete(_ context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[scope], key)
	if len(m.data[scope]) == 0 {
		delete(m.data, scope)
	}
	return nil
}

func (m *MemoryStaticData) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: m.name, Description: "In-memory static data store", Instance: m},
	}
}

func (m *MemoryStaticData) RequiresServices() []modular.ServiceDependency {
	return nil
}
