// Package browser runs a live Chrome per browsing context and exposes it as a
// cookie store, an identity target and a navigator.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

// ErrInstanceLimit is returned when every browser slot is taken
var ErrInstanceLimit = errors.New("browser instance limit reached")

const navigateTimeout = 45 * time.Second

// Profiles provides the on-disk profile of a context
type Profiles interface {
	Ensure(id string) (*models.BrowsingContext, error)
}

type instance struct {
	contextID string
	tab       context.Context
	cancel    context.CancelFunc

	mu       sync.Mutex
	identity models.Identity
	snapshot map[models.CookieKey]models.Cookie
}

// Runtime owns one Chrome tab per running browsing context
type Runtime struct {
	launcher Launcher
	profiles Profiles
	sem      *semaphore.Weighted
	max      int64
	logger   *zap.Logger

	base       context.Context
	baseCancel context.CancelFunc

	mu        sync.Mutex
	instances map[string]*instance
	starts    singleflight.Group // one launch in flight per context

	subsMu sync.RWMutex
	subs   map[string]map[uint64]func(models.CookieChange)
	nextID uint64
}

// NewRuntime creates a runtime that starts at most maxInstances browsers
func NewRuntime(launcher Launcher, profiles Profiles, maxInstances int64, logger *zap.Logger) *Runtime {
	base, cancel := context.WithCancel(context.Background())
	return &Runtime{
		launcher:   launcher,
		profiles:   profiles,
		sem:        semaphore.NewWeighted(maxInstances),
		max:        maxInstances,
		logger:     logger,
		base:       base,
		baseCancel: cancel,
		instances:  make(map[string]*instance),
		subs:       make(map[string]map[uint64]func(models.CookieChange)),
	}
}

// Running returns the contexts with a live browser
func (r *Runtime) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Cookies reads the context's cookie jar from Chrome
func (r *Runtime) Cookies(ctx context.Context, contextID string) ([]models.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inst, err := r.instance(contextID)
	if err != nil {
		return nil, err
	}
	return r.readCookies(inst)
}

// SetCookie writes one cookie into Chrome's jar
func (r *Runtime) SetCookie(ctx context.Context, contextID string, c models.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Name == "" || c.Domain == "" {
		return fmt.Errorf("cookie needs a name and domain")
	}
	inst, err := r.instance(contextID)
	if err != nil {
		return err
	}
	if err := chromedp.Run(inst.tab, setCookieParams(c)); err != nil {
		return fmt.Errorf("failed to set cookie %s: %w", c.Name, err)
	}
	r.refresh(inst)
	return nil
}

// Subscribe registers fn for cookie changes observed in a context
func (r *Runtime) Subscribe(contextID string, fn func(models.CookieChange)) func() {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	r.nextID++
	id := r.nextID
	if r.subs[contextID] == nil {
		r.subs[contextID] = make(map[uint64]func(models.CookieChange))
	}
	r.subs[contextID][id] = fn

	return func() {
		r.subsMu.Lock()
		defer r.subsMu.Unlock()
		delete(r.subs[contextID], id)
	}
}

// ConfigureIdentity installs the user agent and header overrides on the context's tab
func (r *Runtime) ConfigureIdentity(_ context.Context, contextID string, id models.Identity) error {
	inst, err := r.instance(contextID)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	inst.identity = id
	inst.mu.Unlock()

	ua := emulation.SetUserAgentOverride(id.UserAgent).
		WithAcceptLanguage(id.AcceptLanguage).
		WithPlatform(id.Platform)
	if md := userAgentMetadata(id); md != nil {
		ua = ua.WithUserAgentMetadata(md)
	}

	actions := []chromedp.Action{
		ua,
		network.SetExtraHTTPHeaders(extraHeaders(id)),
	}
	if needsInterception(id) {
		actions = append(actions, fetch.Enable().WithPatterns([]*fetch.RequestPattern{{URLPattern: "*"}}))
	} else {
		actions = append(actions, fetch.Disable())
	}

	if err := chromedp.Run(inst.tab, actions...); err != nil {
		return fmt.Errorf("failed to configure identity on %s: %w", contextID, err)
	}
	return nil
}

// Navigate loads the view's URL in the context's tab, or reloads it
func (r *Runtime) Navigate(_ context.Context, view models.View) error {
	inst, err := r.instance(view.ContextID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(inst.tab, navigateTimeout)
	defer cancel()

	action := chromedp.Navigate(view.URL)
	if view.Status == models.ViewReloaded {
		action = chromedp.Reload()
	}
	if err := chromedp.Run(ctx, action); err != nil {
		return fmt.Errorf("failed to navigate %s: %w", view.Service, err)
	}
	return nil
}

// Stop shuts down the browser of one context
func (r *Runtime) Stop(contextID string) {
	r.mu.Lock()
	inst, ok := r.instances[contextID]
	delete(r.instances, contextID)
	r.mu.Unlock()

	if ok {
		inst.cancel()
		r.sem.Release(1)
		r.logger.Info("browser stopped", zap.String("context", contextID))
	}
}

// Close shuts down every browser
func (r *Runtime) Close() {
	// cancel first so launches still in flight are refused
	r.baseCancel()
	for _, id := range r.Running() {
		r.Stop(id)
	}
}

func (r *Runtime) instance(contextID string) (*instance, error) {
	if inst := r.running(contextID); inst != nil {
		return inst, nil
	}

	v, err, _ := r.starts.Do(contextID, func() (any, error) {
		if inst := r.running(contextID); inst != nil {
			return inst, nil
		}
		return r.start(contextID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*instance), nil
}

func (r *Runtime) running(contextID string) *instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.instances[contextID]
}

// start launches a browser for contextID without holding r.mu, so other
// contexts stay readable while Chrome or its container comes up
func (r *Runtime) start(contextID string) (*instance, error) {
	if !r.sem.TryAcquire(1) {
		return nil, fmt.Errorf("%w (%d)", ErrInstanceLimit, r.max)
	}

	bc, err := r.profiles.Ensure(contextID)
	if err != nil {
		r.sem.Release(1)
		return nil, err
	}

	allocCtx, allocCancel, err := r.launcher.Allocate(r.base, contextID, bc.ProfileDir)
	if err != nil {
		r.sem.Release(1)
		return nil, err
	}
	tab, tabCancel := chromedp.NewContext(allocCtx)

	inst := &instance{
		contextID: contextID,
		tab:       tab,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		snapshot: make(map[models.CookieKey]models.Cookie),
	}
	chromedp.ListenTarget(tab, func(ev any) { r.handleEvent(inst, ev) })

	if err := chromedp.Run(tab, network.Enable()); err != nil {
		inst.cancel()
		r.sem.Release(1)
		return nil, fmt.Errorf("failed to start browser for %s: %w", contextID, err)
	}

	// prime the snapshot so the first diff reports only new cookies
	if cookies, err := r.readCookies(inst); err == nil {
		_, primed := diffCookies(contextID, nil, cookies)
		inst.mu.Lock()
		inst.snapshot = primed
		inst.mu.Unlock()
	}

	r.mu.Lock()
	if r.base.Err() != nil {
		r.mu.Unlock()
		inst.cancel()
		r.sem.Release(1)
		return nil, fmt.Errorf("browser runtime closed while starting %s", contextID)
	}
	r.instances[contextID] = inst
	r.mu.Unlock()

	r.logger.Info("browser started", zap.String("context", contextID), zap.String("profile", bc.ProfileDir))
	return inst, nil
}

// handleEvent runs on chromedp's event loop and must not block
func (r *Runtime) handleEvent(inst *instance, ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceivedExtraInfo:
		if hasSetCookie(e.Headers) {
			go r.refresh(inst)
		}
	case *fetch.EventRequestPaused:
		go r.continueRequest(inst, e)
	}
}

func (r *Runtime) continueRequest(inst *instance, e *fetch.EventRequestPaused) {
	c := chromedp.FromContext(inst.tab)
	if c == nil || c.Target == nil {
		return
	}
	ctx := cdp.WithExecutor(inst.tab, c.Target)

	inst.mu.Lock()
	overrides := inst.identity.HeaderOverrides
	inst.mu.Unlock()

	req := fetch.ContinueRequest(e.RequestID)
	if e.Request != nil && len(overrides) > 0 {
		req = req.WithHeaders(rewriteRequestHeaders(e.Request.Headers, overrides))
	}
	if err := req.Do(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Debug("failed to continue request", zap.String("context", inst.contextID), zap.Error(err))
	}
}

func (r *Runtime) readCookies(inst *instance) ([]models.Cookie, error) {
	var raw []*network.Cookie
	err := chromedp.Run(inst.tab, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies for %s: %w", inst.contextID, err)
	}

	cookies := make([]models.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, fromCDPCookie(c))
	}
	return cookies, nil
}

// refresh re-reads the jar and notifies subscribers of what changed
func (r *Runtime) refresh(inst *instance) {
	cookies, err := r.readCookies(inst)
	if err != nil {
		r.logger.Debug("cookie refresh failed", zap.String("context", inst.contextID), zap.Error(err))
		return
	}

	inst.mu.Lock()
	changes, next := diffCookies(inst.contextID, inst.snapshot, cookies)
	inst.snapshot = next
	inst.mu.Unlock()

	if len(changes) == 0 {
		return
	}

	r.subsMu.RLock()
	handlers := make([]func(models.CookieChange), 0, len(r.subs[inst.contextID]))
	for _, fn := range r.subs[inst.contextID] {
		handlers = append(handlers, fn)
	}
	r.subsMu.RUnlock()

	for _, change := range changes {
		for _, fn := range handlers {
			fn(change)
		}
	}
}
