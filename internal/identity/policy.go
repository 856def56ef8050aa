// Package identity decides which client identity each browsing context presents.
//
// Contexts that sign in through a shared identity provider present as a tablet
// browser, which the provider accepts where it would block an embedded desktop
// browser. All other contexts present a plain desktop browser.
package identity

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

const (
	DesktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	TabletUserAgent  = "Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"
)

// TabletProfile is installed on SSO contexts
func TabletProfile() models.Identity {
	return models.Identity{
		Name:           "tablet",
		UserAgent:      TabletUserAgent,
		Platform:       "iOS",
		Mobile:         true,
		AcceptLanguage: "en-US,en;q=0.9",
		HeaderOverrides: map[string]models.HeaderOverride{
			"Sec-Ch-Ua":          {Value: `"Safari";v="16"`},
			"Sec-Ch-Ua-Mobile":   {Value: "?1"},
			"Sec-Ch-Ua-Platform": {Value: `"iOS"`},
			"Accept-Language":    {Value: "en-US,en;q=0.9"},
			"X-Automation":       {Remove: true},
			"Electron":           {Remove: true},
		},
	}
}

// DesktopProfile is installed on every other context
func DesktopProfile() models.Identity {
	return models.Identity{
		Name:      "desktop",
		UserAgent: DesktopUserAgent,
		Platform:  "Windows",
	}
}

// Target is anything that can install an identity on a browsing context
type Target interface {
	ConfigureIdentity(ctx context.Context, contextID string, identity models.Identity) error
}

// Classifier tells the policy which services sign in through a shared provider
type Classifier interface {
	IsSSO(service models.ServiceID) bool
}

// Policy applies identities to contexts
type Policy struct {
	classifier Classifier
	logger     *zap.Logger

	mu      sync.RWMutex
	sso     models.Identity
	plain   models.Identity
	targets []Target
}

// NewPolicy creates a policy with the built-in tablet and desktop profiles
func NewPolicy(classifier Classifier, logger *zap.Logger, targets ...Target) *Policy {
	return &Policy{
		classifier: classifier,
		logger:     logger,
		sso:        TabletProfile(),
		plain:      DesktopProfile(),
		targets:    targets,
	}
}

// SetProfiles swaps the identities used for SSO and non-SSO contexts
func (p *Policy) SetProfiles(sso, plain models.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sso = sso
	p.plain = plain
}

// AddTarget registers another target for future Apply calls
func (p *Policy) AddTarget(t Target) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.targets = append(p.targets, t)
}

// For returns the identity a service's context presents
func (p *Policy) For(service models.ServiceID) models.Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.classifier.IsSSO(service) {
		return p.sso
	}
	return p.plain
}

// Apply installs the identity for service on contextID. Failures are logged
// and never block the caller.
func (p *Policy) Apply(ctx context.Context, contextID string, service models.ServiceID) {
	identity := p.For(service)

	p.mu.RLock()
	targets := append([]Target(nil), p.targets...)
	p.mu.RUnlock()

	for _, t := range targets {
		if err := t.ConfigureIdentity(ctx, contextID, identity); err != nil {
			p.logger.Warn("failed to apply identity",
				zap.String("context", contextID),
				zap.String("service", string(service)),
				zap.String("profile", identity.Name),
				zap.Error(err))
		}
	}
}

// Rewrite returns a copy of header with the overrides applied
func Rewrite(header http.Header, overrides map[string]models.HeaderOverride) http.Header {
	out := header.Clone()
	if out == nil {
		out = http.Header{}
	}
	for name, o := range overrides {
		if o.Remove {
			out.Del(name)
			continue
		}
		out.Set(name, o.Value)
	}
	return out
}
