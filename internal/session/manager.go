package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	ctxmgr "github.com/shehryarbajwa/ai-in-one/internal/context"
	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

// ErrViewNotFound is returned for services that have not been opened
var ErrViewNotFound = errors.New("view not open")

// Syncer is the cookie side of the dispatcher
type Syncer interface {
	SyncOnOpen(ctx context.Context, target models.ServiceID) models.SyncResult
	InjectManual(ctx context.Context, target models.ServiceID, raw string) (models.InjectResult, error)
	Watch(contextID string)
}

// IdentityPolicy applies client identity to a context
type IdentityPolicy interface {
	Apply(ctx context.Context, contextID string, service models.ServiceID)
	For(service models.ServiceID) models.Identity
}

// LoginFallback drives external browser login
type LoginFallback interface {
	Request(ctx context.Context, service models.ServiceID) (models.LoginResult, error)
	Refresh(service models.ServiceID) (models.LoginAttempt, error)
	Close(service models.ServiceID) (models.LoginAttempt, error)
	State(service models.ServiceID) (models.LoginAttempt, error)
}

// Recorder counts opened views
type Recorder interface {
	ViewOpened(service models.ServiceID)
}

// Options holds the dispatcher's optional collaborators
type Options struct {
	Navigator Navigator
	Recorder  Recorder
}

// Manager is the view dispatcher: it opens services into their browsing
// contexts and routes login and cookie actions from the shell
type Manager struct {
	contexts  *ctxmgr.Manager
	registry  *ctxmgr.Registry
	cookies   Syncer
	identity  IdentityPolicy
	login     LoginFallback
	navigator Navigator
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time

	views sync.Map // models.ServiceID -> *models.View

	mu      sync.Mutex
	opening map[models.ServiceID]*sync.Mutex
}

// NewManager creates a new view dispatcher
func NewManager(contexts *ctxmgr.Manager, cookies Syncer, identity IdentityPolicy, login LoginFallback, logger *zap.Logger, opts Options) *Manager {
	navigator := opts.Navigator
	if navigator == nil {
		navigator = Navigators{}
	}
	return &Manager{
		contexts:  contexts,
		registry:  contexts.Registry(),
		cookies:   cookies,
		identity:  identity,
		login:     login,
		navigator: navigator,
		recorder:  opts.Recorder,
		logger:    logger,
		now:       time.Now,
		opening:   make(map[models.ServiceID]*sync.Mutex),
	}
}

// OpenService resolves the service's context, pre-populates SSO cookies,
// applies identity and asks the presentation layer to navigate. Only
// configuration errors fail the call.
func (m *Manager) OpenService(ctx context.Context, service models.ServiceID) (*models.View, error) {
	contextID, err := m.registry.Resolve(service)
	if err != nil {
		return nil, err
	}
	url, err := m.registry.BaseURL(service)
	if err != nil {
		return nil, err
	}

	lock := m.serviceLock(service)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.contexts.Ensure(contextID); err != nil {
		return nil, &models.ConfigurationError{Service: string(service), Reason: fmt.Sprintf("context %s unavailable: %v", contextID, err)}
	}
	if m.registry.IsSSO(service) {
		m.cookies.Watch(contextID)
	}

	result := m.cookies.SyncOnOpen(ctx, service)
	m.identity.Apply(ctx, contextID, service)

	now := m.now()
	view := &models.View{
		Service:   service,
		ContextID: contextID,
		URL:       url,
		UserAgent: m.identity.For(service).UserAgent,
		Status:    models.ViewOpen,
		OpenedAt:  now,
		UpdatedAt: now,
		LastSync:  &result,
	}
	m.views.Store(service, view)

	if err := m.navigator.Navigate(ctx, *view); err != nil {
		m.logger.Warn("navigation failed", zap.String("service", string(service)), zap.Error(err))
	}
	if m.recorder != nil {
		m.recorder.ViewOpened(service)
	}

	m.logger.Info("opened service",
		zap.String("service", string(service)),
		zap.String("context", contextID),
		zap.Int("synced", result.Written),
		zap.Int("syncFailed", result.Failed))

	snapshot := *view
	return &snapshot, nil
}

// RequestExternalLogin opens the service in the default browser
func (m *Manager) RequestExternalLogin(ctx context.Context, service models.ServiceID) (models.LoginResult, error) {
	return m.login.Request(ctx, service)
}

// RefreshLogin ends the waiting attempt and reloads the service's view
func (m *Manager) RefreshLogin(ctx context.Context, service models.ServiceID) (models.LoginAttempt, error) {
	attempt, err := m.login.Refresh(service)
	if err != nil {
		return attempt, err
	}
	_, err = m.reload(ctx, service)
	if errors.Is(err, ErrViewNotFound) {
		_, err = m.OpenService(ctx, service)
	}
	if err != nil {
		m.logger.Warn("failed to reload view after login", zap.String("service", string(service)), zap.Error(err))
	}
	return attempt, nil
}

// CloseLogin abandons the waiting attempt
func (m *Manager) CloseLogin(service models.ServiceID) (models.LoginAttempt, error) {
	return m.login.Close(service)
}

// LoginState returns the service's current login attempt
func (m *Manager) LoginState(service models.ServiceID) (models.LoginAttempt, error) {
	return m.login.State(service)
}

// InjectCookiesManually writes a pasted cookie string into the service's
// context and reloads its view when one is open
func (m *Manager) InjectCookiesManually(ctx context.Context, service models.ServiceID, raw string) (models.InjectResult, error) {
	contextID, err := m.registry.Resolve(service)
	if err != nil {
		return models.InjectResult{}, err
	}
	if _, err := m.contexts.Ensure(contextID); err != nil {
		return models.InjectResult{}, &models.ConfigurationError{Service: string(service), Reason: fmt.Sprintf("context %s unavailable: %v", contextID, err)}
	}

	result, err := m.cookies.InjectManual(ctx, service, raw)
	if err != nil {
		return result, err
	}

	if result.Injected > 0 {
		if _, err := m.reload(ctx, service); err != nil && !errors.Is(err, ErrViewNotFound) {
			m.logger.Warn("failed to reload view after injection", zap.String("service", string(service)), zap.Error(err))
		}
	}
	return result, nil
}

// GetView returns the record of an opened service
func (m *Manager) GetView(service models.ServiceID) (*models.View, error) {
	if _, err := m.registry.Service(service); err != nil {
		return nil, err
	}
	value, ok := m.views.Load(service)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrViewNotFound, service)
	}
	snapshot := *value.(*models.View)
	return &snapshot, nil
}

// ListViews returns every opened view in quick-switch order
func (m *Manager) ListViews() []models.View {
	views := make([]models.View, 0)
	for _, service := range m.registry.Services() {
		if value, ok := m.views.Load(service); ok {
			views = append(views, *value.(*models.View))
		}
	}
	return views
}

// reload re-navigates an open view against its context's current cookies
func (m *Manager) reload(ctx context.Context, service models.ServiceID) (*models.View, error) {
	lock := m.serviceLock(service)
	lock.Lock()
	defer lock.Unlock()

	value, ok := m.views.Load(service)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrViewNotFound, service)
	}
	view := *value.(*models.View)
	view.Status = models.ViewReloaded
	view.UpdatedAt = m.now()
	m.views.Store(service, &view)

	if err := m.navigator.Navigate(ctx, view); err != nil {
		return &view, err
	}
	return &view, nil
}

func (m *Manager) serviceLock(service models.ServiceID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.opening[service]
	if !ok {
		lock = &sync.Mutex{}
		m.opening[service] = lock
	}
	return lock
}
