package cookies

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	ctxmgr "github.com/shehryarbajwa/ai-in-one/internal/context"
	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

const (
	// pinned cookies are not rewritten while this much of the pin window remains
	refreshSlack = 12 * time.Hour

	sourceReadLimit = 4

	// re-pins of one cookie within recentWindow before a warning is logged
	repinWarnThreshold = 5
	recentWindow       = time.Minute
)

// Options tunes expiry pinning
type Options struct {
	PinDuration time.Duration // default one year
	PinSession  bool          // pin cookies that have no expiry
	Recorder    Recorder
}

// Synchronizer copies and pins SSO cookies between browsing contexts
type Synchronizer struct {
	registry *ctxmgr.Registry
	store    Store
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
	recent   *cache.Cache // re-pin counts per cookie key

	mu      sync.Mutex
	watches map[string]func()
}

// NewSynchronizer creates a synchronizer over store
func NewSynchronizer(registry *ctxmgr.Registry, store Store, logger *zap.Logger, opts Options) *Synchronizer {
	if opts.PinDuration <= 0 {
		opts.PinDuration = 365 * 24 * time.Hour
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Synchronizer{
		registry: registry,
		store:    store,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		recent:   cache.New(recentWindow, 5*time.Minute),
		watches:  make(map[string]func()),
	}
}

// Pin returns c with its expiry raised to the pin floor. Cookies already
// within refreshSlack of the floor are returned unchanged so repeated pins
// converge.
func (s *Synchronizer) Pin(c models.Cookie) models.Cookie {
	if c.IsSession() && !s.opts.PinSession {
		return c
	}
	now := s.now()
	if !c.Expires.IsZero() && !c.Expires.Before(now.Add(s.opts.PinDuration-refreshSlack)) {
		return c
	}
	c.Expires = now.Add(s.opts.PinDuration).Truncate(time.Second)
	return c
}

// SyncOnOpen copies SSO cookies from every other member of target's group into
// target's context. It always completes; the result reports partial failure.
func (s *Synchronizer) SyncOnOpen(ctx context.Context, target models.ServiceID) models.SyncResult {
	var result models.SyncResult

	group, ok := s.registry.Group(target)
	if !ok {
		return result
	}
	targetContext, err := s.registry.Resolve(target)
	if err != nil {
		result.Errors = append(result.Errors, err)
		return result
	}
	sources, err := s.registry.SyncSources(target)
	if err != nil {
		result.Errors = append(result.Errors, err)
		return result
	}

	batches := make([][]models.Cookie, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sourceReadLimit)
	for i, source := range sources {
		i, source := i, source
		g.Go(func() error {
			cookies, err := s.store.Cookies(gctx, source)
			if err != nil {
				s.logger.Warn("failed to read source cookies",
					zap.String("source", source), zap.Error(err))
				return nil
			}
			batches[i] = cookies
			return nil
		})
	}
	_ = g.Wait()

	merged := make(map[models.CookieKey]models.Cookie)
	for _, batch := range batches {
		for _, c := range batch {
			if !InDomains(c.Domain, group.Domains) {
				continue
			}
			k := c.Key()
			if existing, seen := merged[k]; seen && !c.WrittenAt.After(existing.WrittenAt) {
				continue
			}
			merged[k] = c
		}
	}

	result = s.writeAll(ctx, "sync_on_open", targetContext, sortedCookies(merged))
	s.logger.Info("synced sso cookies",
		zap.String("service", string(target)),
		zap.String("context", targetContext),
		zap.Strings("sources", sources),
		zap.Int("written", result.Written),
		zap.Int("failed", result.Failed))
	return result
}

// Import copies cookies in domain from one context into another, pinning expiry
func (s *Synchronizer) Import(ctx context.Context, fromContext, toContext, domain string) models.SyncResult {
	var result models.SyncResult

	cookies, err := s.store.Cookies(ctx, fromContext)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("read %s: %w", fromContext, err))
		return result
	}

	selected := make(map[models.CookieKey]models.Cookie)
	for _, c := range cookies {
		if InDomains(c.Domain, []string{domain}) {
			selected[c.Key()] = c
		}
	}

	result = s.writeAll(ctx, "import", toContext, sortedCookies(selected))
	s.logger.Info("imported cookies",
		zap.String("from", fromContext),
		zap.String("to", toContext),
		zap.String("domain", domain),
		zap.Int("written", result.Written),
		zap.Int("failed", result.Failed))
	return result
}

// CaptureAndPersist pins one changed cookie in an SSO context. It reports
// whether a write happened.
func (s *Synchronizer) CaptureAndPersist(ctx context.Context, contextID string, c models.Cookie) (bool, error) {
	domains := s.domainsFor(contextID)
	if len(domains) == 0 || !InDomains(c.Domain, domains) {
		return false, nil
	}

	pinned := s.Pin(c)
	if pinned.Expires.Equal(c.Expires) {
		return false, nil
	}

	if err := s.store.SetCookie(ctx, contextID, pinned); err != nil {
		werr := &models.CookieWriteError{ContextID: contextID, Domain: c.Domain, Name: c.Name, Err: err}
		s.logger.Warn("failed to pin captured cookie", zap.Error(werr))
		s.opts.Recorder.CookieWrites("capture", 0, 1)
		return false, werr
	}

	repins := s.noteRepin(contextID, c)
	s.logger.Debug("pinned captured cookie",
		zap.String("context", contextID),
		zap.String("domain", c.Domain),
		zap.String("name", c.Name),
		zap.Int("repins", repins))
	if repins == repinWarnThreshold {
		s.logger.Warn("site keeps shortening a pinned cookie",
			zap.String("context", contextID),
			zap.String("domain", c.Domain),
			zap.String("name", c.Name))
	}
	s.opts.Recorder.CookieWrites("capture", 1, 0)
	return true, nil
}

// InjectManual parses a "name=value; name2=value2" string and writes each pair
// at the provider root domain of target's group. Malformed segments are skipped.
func (s *Synchronizer) InjectManual(ctx context.Context, target models.ServiceID, raw string) (models.InjectResult, error) {
	var result models.InjectResult

	contextID, err := s.registry.Resolve(target)
	if err != nil {
		return result, err
	}
	return s.InjectInto(ctx, contextID, target, raw)
}

// InjectInto writes a manual cookie string into any known context, at the
// provider root domain of target. With DefaultContextID it seeds the source
// the external login fallback imports from.
func (s *Synchronizer) InjectInto(ctx context.Context, contextID string, target models.ServiceID, raw string) (models.InjectResult, error) {
	var result models.InjectResult

	if !s.registry.Known(contextID) {
		return result, &models.ConfigurationError{Service: contextID, Reason: "unknown browsing context"}
	}
	domain, err := s.registry.ProviderDomain(target)
	if err != nil {
		return result, err
	}

	expires := s.now().Add(s.opts.PinDuration).Truncate(time.Second)
	for _, segment := range strings.Split(raw, ";") {
		name, value, ok := parsePair(segment)
		if !ok {
			result.Skipped++
			continue
		}

		c := models.Cookie{
			Domain:  domain,
			Path:    "/",
			Name:    name,
			Value:   value,
			Secure:  true,
			Expires: expires,
		}
		if err := s.store.SetCookie(ctx, contextID, c); err != nil {
			result.Failed++
			s.logger.Warn("failed to inject cookie",
				zap.Error(&models.CookieWriteError{ContextID: contextID, Domain: domain, Name: name, Err: err}))
			continue
		}
		result.Injected++
	}

	s.opts.Recorder.CookieWrites("inject", result.Injected, result.Failed)
	s.logger.Info("manually injected cookies",
		zap.String("service", string(target)),
		zap.String("context", contextID),
		zap.Int("injected", result.Injected),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed))
	return result, nil
}

// Watch subscribes CaptureAndPersist to a context's change stream
func (s *Synchronizer) Watch(contextID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.watches[contextID]; ok {
		return
	}
	s.watches[contextID] = s.store.Subscribe(contextID, func(change models.CookieChange) {
		if change.Removed {
			return
		}
		_, _ = s.CaptureAndPersist(context.Background(), change.ContextID, change.Cookie)
	})
	s.logger.Debug("watching context cookies", zap.String("context", contextID))
}

// WatchSSOContexts watches every context that belongs to an SSO group
func (s *Synchronizer) WatchSSOContexts() {
	for _, id := range s.registry.SSOContexts() {
		s.Watch(id)
	}
}

// Close cancels all subscriptions
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, cancel := range s.watches {
		cancel()
		delete(s.watches, id)
	}
}

func (s *Synchronizer) writeAll(ctx context.Context, op, contextID string, cookies []models.Cookie) models.SyncResult {
	var result models.SyncResult
	for _, c := range cookies {
		result.Attempted++
		if err := s.store.SetCookie(ctx, contextID, s.Pin(c)); err != nil {
			result.Failed++
			werr := &models.CookieWriteError{ContextID: contextID, Domain: c.Domain, Name: c.Name, Err: err}
			result.Errors = append(result.Errors, werr)
			s.logger.Warn("skipping cookie", zap.String("op", op), zap.Error(werr))
			if errors.Is(err, context.Canceled) {
				break
			}
			continue
		}
		result.Written++
	}
	s.opts.Recorder.CookieWrites(op, result.Written, result.Failed)
	return result
}

// noteRepin counts how often a cookie key was re-pinned within recentWindow.
// The count only feeds logging; every capture that needs a pin is written.
func (s *Synchronizer) noteRepin(contextID string, c models.Cookie) int {
	k := c.Key()
	key := strings.Join([]string{contextID, k.Domain, k.Path, k.Name}, "\x00")
	if err := s.recent.Add(key, 1, cache.DefaultExpiration); err == nil {
		return 1
	}
	n, err := s.recent.IncrementInt(key, 1)
	if err != nil {
		// expired between Add and Increment
		s.recent.Set(key, 1, cache.DefaultExpiration)
		return 1
	}
	return n
}

func (s *Synchronizer) domainsFor(contextID string) []string {
	for _, service := range s.registry.ServicesFor(contextID) {
		if domains := s.registry.SSODomains(service); len(domains) > 0 {
			return domains
		}
	}
	return nil
}

func parsePair(segment string) (string, string, bool) {
	name, value, found := strings.Cut(strings.TrimSpace(segment), "=")
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	if !found || name == "" || value == "" {
		return "", "", false
	}
	return name, value, true
}

func sortedCookies(m map[models.CookieKey]models.Cookie) []models.Cookie {
	out := make([]models.Cookie, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key(), out[j].Key()
		if a.Domain != b.Domain {
			return a.Domain < b.Domain
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Name < b.Name
	})
	return out
}
