package ctxmgr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

// Manager owns browsing-context lifecycle: contexts are created lazily on
// first use and kept for the process lifetime.
type Manager struct {
	registry  *Registry
	contexts  sync.Map   // contextID -> *models.BrowsingContext (replaced, never mutated)
	storePath string     // Base path for context profile directories
	mu        sync.Mutex // serializes creation and updates
	now       func() time.Time
}

// NewManager creates a new context manager
func NewManager(registry *Registry, storePath string) (*Manager, error) {
	if err := os.MkdirAll(storePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &Manager{
		registry:  registry,
		storePath: storePath,
		now:       time.Now,
	}, nil
}

// Registry returns the service registry the manager was built with
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Ensure returns the context, creating it and its profile directory on first use
func (m *Manager) Ensure(id string) (*models.BrowsingContext, error) {
	if value, ok := m.contexts.Load(id); ok {
		return value.(*models.BrowsingContext), nil
	}
	if !m.registry.Known(id) {
		return nil, &models.ConfigurationError{Service: id, Reason: "unknown browsing context"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if value, ok := m.contexts.Load(id); ok {
		return value.(*models.BrowsingContext), nil
	}

	profileDir := filepath.Join(m.storePath, id)
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}

	bc := &models.BrowsingContext{
		ID:         id,
		Services:   m.registry.ServicesFor(id),
		CreatedAt:  m.now(),
		ProfileDir: profileDir,
	}
	m.contexts.Store(id, bc)

	return bc, nil
}

// ForService resolves a service and ensures its context exists
func (m *Manager) ForService(service models.ServiceID) (*models.BrowsingContext, error) {
	id, err := m.registry.Resolve(service)
	if err != nil {
		return nil, err
	}
	return m.Ensure(id)
}

// GetContext retrieves an existing context by ID
func (m *Manager) GetContext(id string) (*models.BrowsingContext, error) {
	value, ok := m.contexts.Load(id)
	if !ok {
		return nil, fmt.Errorf("context %q not found", id)
	}
	return value.(*models.BrowsingContext), nil
}

// ListContexts returns every context created so far, ordered by id
func (m *Manager) ListContexts() []*models.BrowsingContext {
	var contexts []*models.BrowsingContext
	m.contexts.Range(func(_, value any) bool {
		contexts = append(contexts, value.(*models.BrowsingContext))
		return true
	})
	sort.Slice(contexts, func(i, j int) bool { return contexts[i].ID < contexts[j].ID })
	return contexts
}

// ConfigureIdentity records the client identity installed on a context
func (m *Manager) ConfigureIdentity(_ context.Context, id string, identity models.Identity) error {
	if _, err := m.Ensure(id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.GetContext(id)
	if err != nil {
		return err
	}

	updated := *current
	updated.UserAgent = identity.UserAgent
	updated.HeaderOverrides = make(map[string]models.HeaderOverride, len(identity.HeaderOverrides))
	for name, o := range identity.HeaderOverrides {
		updated.HeaderOverrides[name] = o
	}
	appliedAt := m.now()
	updated.IdentityAppliedAt = &appliedAt
	m.contexts.Store(id, &updated)

	return nil
}
