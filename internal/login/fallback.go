// Package login implements the external login fallback: when an embedded view
// refuses to sign in, the service is opened in the user's default browser and
// the provider's cookies are copied back from the default context shortly after.
package login

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"go.uber.org/zap"

	ctxmgr "github.com/shehryarbajwa/ai-in-one/internal/context"
	"github.com/shehryarbajwa/ai-in-one/internal/ratelimit"
	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

// ErrRateLimited is returned when a service has exhausted its login launches
var ErrRateLimited = errors.New("too many login attempts")

const syncTimeout = 30 * time.Second

// Event kinds published on state changes
const (
	EventStateChanged = "login.state"
	EventSynced       = "login.synced"
)

// Opener launches a URL outside the application
type Opener interface {
	Open(url string) error
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(url string) error

func (f OpenerFunc) Open(url string) error { return f(url) }

// SystemOpener opens URLs in the user's default browser
func SystemOpener() Opener {
	return OpenerFunc(browser.OpenURL)
}

// Importer copies cookies in a domain between contexts
type Importer interface {
	Import(ctx context.Context, fromContext, toContext, domain string) models.SyncResult
}

// Scheduler runs named one-shot tasks
type Scheduler interface {
	Schedule(key string, delay time.Duration, fn func()) error
	Cancel(key string) bool
}

// Publisher pushes events to the presentation layer
type Publisher interface {
	Publish(kind string, payload any)
}

// Recorder counts attempt outcomes
type Recorder interface {
	LoginAttempt(service models.ServiceID, outcome string)
}

// Options configures a Fallback
type Options struct {
	SyncDelay time.Duration
	Limiter   *ratelimit.Limiter
	Opener    Opener
	Publisher Publisher
	Recorder  Recorder
}

// Fallback tracks one login attempt per service
type Fallback struct {
	registry  *ctxmgr.Registry
	importer  Importer
	scheduler Scheduler
	opts      Options
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	attempts map[models.ServiceID]*models.LoginAttempt
}

// NewFallback creates a login fallback
func NewFallback(registry *ctxmgr.Registry, importer Importer, scheduler Scheduler, logger *zap.Logger, opts Options) *Fallback {
	if opts.SyncDelay <= 0 {
		opts.SyncDelay = 3 * time.Second
	}
	if opts.Opener == nil {
		opts.Opener = SystemOpener()
	}
	return &Fallback{
		registry:  registry,
		importer:  importer,
		scheduler: scheduler,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		attempts:  make(map[models.ServiceID]*models.LoginAttempt),
	}
}

// Request opens the service in the external browser and schedules the cookie
// copy. A pending copy for the same service is replaced.
func (f *Fallback) Request(ctx context.Context, service models.ServiceID) (models.LoginResult, error) {
	url, err := f.registry.BaseURL(service)
	if err != nil {
		return models.LoginResult{}, err
	}
	contextID, err := f.registry.Resolve(service)
	if err != nil {
		return models.LoginResult{}, err
	}
	domain, err := f.registry.ProviderDomain(service)
	if err != nil {
		return models.LoginResult{}, err
	}

	if f.opts.Limiter != nil && !f.opts.Limiter.Allow(service) {
		f.record(service, "rate_limited")
		return models.LoginResult{}, fmt.Errorf("%w for %s", ErrRateLimited, service)
	}

	attempt := &models.LoginAttempt{
		ID:        uuid.New().String(),
		Service:   service,
		State:     models.LoginOpening,
		URL:       url,
		StartedAt: f.now(),
	}

	f.mu.Lock()
	f.scheduler.Cancel(taskKey(service))
	f.attempts[service] = attempt
	opening := *attempt
	f.mu.Unlock()
	f.publish(EventStateChanged, opening)

	if err := f.opts.Opener.Open(url); err != nil {
		f.mu.Lock()
		attempt.State = models.LoginIdle
		attempt.EndedBy = "launch_failed"
		failed := *attempt
		f.mu.Unlock()

		f.publish(EventStateChanged, failed)
		f.record(service, "launch_failed")
		f.logger.Warn("failed to open external browser",
			zap.String("service", string(service)), zap.String("url", url), zap.Error(err))
		return models.LoginResult{}, &models.ExternalLaunchError{Service: service, URL: url, Err: err}
	}

	f.mu.Lock()
	attempt.State = models.LoginWaiting
	attempt.SyncAt = f.now().Add(f.opts.SyncDelay)
	id := attempt.ID
	err = f.scheduler.Schedule(taskKey(service), f.opts.SyncDelay, func() {
		f.runSync(id, service, contextID, domain)
	})
	waiting := *attempt
	f.mu.Unlock()

	if err != nil {
		f.logger.Error("failed to schedule login cookie sync",
			zap.String("service", string(service)), zap.Error(err))
	}

	f.publish(EventStateChanged, waiting)
	f.record(service, "launched")
	f.logger.Info("opened external login",
		zap.String("service", string(service)),
		zap.String("attempt", id),
		zap.Duration("syncDelay", f.opts.SyncDelay))

	return models.LoginResult{
		AttemptID: id,
		Message:   fmt.Sprintf("%s opened in your default browser. Please login there.", service),
	}, nil
}

// Refresh ends a waiting attempt so the view can be reloaded. The pending
// cookie copy still runs.
func (f *Fallback) Refresh(service models.ServiceID) (models.LoginAttempt, error) {
	return f.end(service, "refresh", false)
}

// Close ends a waiting attempt and cancels its pending cookie copy
func (f *Fallback) Close(service models.ServiceID) (models.LoginAttempt, error) {
	return f.end(service, "close", true)
}

// State returns a snapshot of the service's latest attempt
func (f *Fallback) State(service models.ServiceID) (models.LoginAttempt, error) {
	if _, err := f.registry.Service(service); err != nil {
		return models.LoginAttempt{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.attempts[service]
	if !ok {
		return models.LoginAttempt{Service: service, State: models.LoginIdle}, nil
	}
	return *a, nil
}

func (f *Fallback) end(service models.ServiceID, by string, cancel bool) (models.LoginAttempt, error) {
	if _, err := f.registry.Service(service); err != nil {
		return models.LoginAttempt{}, err
	}

	f.mu.Lock()
	a, ok := f.attempts[service]
	if !ok || a.State != models.LoginWaiting {
		state := models.LoginIdle
		if ok {
			state = a.State
		}
		f.mu.Unlock()
		return models.LoginAttempt{}, fmt.Errorf("%w: %s from %s", models.ErrInvalidTransition, by, state)
	}
	if cancel {
		f.scheduler.Cancel(taskKey(service))
	}
	a.State = models.LoginIdle
	a.EndedBy = by
	snapshot := *a
	f.mu.Unlock()

	f.publish(EventStateChanged, snapshot)
	f.logger.Info("login attempt ended",
		zap.String("service", string(service)),
		zap.String("attempt", snapshot.ID),
		zap.String("by", by))
	return snapshot, nil
}

func (f *Fallback) runSync(attemptID string, service models.ServiceID, contextID, domain string) {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	result := f.importer.Import(ctx, ctxmgr.DefaultContextID, contextID, domain)

	f.mu.Lock()
	var snapshot *models.LoginAttempt
	if a, ok := f.attempts[service]; ok && a.ID == attemptID {
		syncedAt := f.now()
		a.SyncedAt = &syncedAt
		a.SyncResult = &result
		copied := *a
		snapshot = &copied
	}
	f.mu.Unlock()

	if result.Failed > 0 {
		f.logger.Warn("login cookie sync incomplete",
			zap.String("service", string(service)),
			zap.Int("written", result.Written),
			zap.Int("failed", result.Failed),
			zap.Errors("errors", result.Errors))
	}
	f.record(service, "synced")
	if snapshot != nil {
		f.publish(EventSynced, *snapshot)
	}
}

func (f *Fallback) publish(kind string, attempt models.LoginAttempt) {
	if f.opts.Publisher != nil {
		f.opts.Publisher.Publish(kind, attempt)
	}
}

func (f *Fallback) record(service models.ServiceID, outcome string) {
	if f.opts.Recorder != nil {
		f.opts.Recorder.LoginAttempt(service, outcome)
	}
}

func taskKey(service models.ServiceID) string {
	return "login-sync:" + string(service)
}
