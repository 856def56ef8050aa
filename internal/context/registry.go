package ctxmgr

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

// DefaultContextID is the shared system context used as the external-login cookie source
const DefaultContextID = "default"

// ServiceConfig is the static configuration for one embedded service
type ServiceConfig struct {
	ID              models.ServiceID
	BaseURL         string
	ContextID       string
	LegacyContextID string // pre-unification per-service context, read as a sync source
	SSOGroup        string // empty when the service authenticates on its own
}

// GroupConfig describes services sharing one single-sign-on identity provider
type GroupConfig struct {
	Name           string
	ProviderDomain string   // root cookie domain of the identity provider, e.g. ".google.com"
	Domains        []string // cookie domains that carry the shared login
}

// DefaultServices returns the built-in service table
func DefaultServices() []ServiceConfig {
	return []ServiceConfig{
		{ID: models.ServiceChatGPT, BaseURL: "https://chat.openai.com", ContextID: "google-unified", LegacyContextID: "webview-chatgpt", SSOGroup: "google"},
		{ID: models.ServiceGemini, BaseURL: "https://gemini.google.com", ContextID: "google-unified", LegacyContextID: "webview-gemini", SSOGroup: "google"},
		{ID: models.ServiceClaude, BaseURL: "https://claude.ai", ContextID: "claude"},
		{ID: models.ServicePerplexity, BaseURL: "https://www.perplexity.ai", ContextID: "google-unified", LegacyContextID: "webview-perplexity", SSOGroup: "google"},
	}
}

// DefaultGroups returns the built-in SSO groups
func DefaultGroups() []GroupConfig {
	return []GroupConfig{
		{Name: "google", ProviderDomain: ".google.com", Domains: []string{"google.com", "openai.com", "perplexity.ai"}},
	}
}

// Registry is the immutable service → browsing-context map, built once at startup
type Registry struct {
	services map[models.ServiceID]ServiceConfig
	groups   map[string]GroupConfig
	order    []models.ServiceID
}

// NewRegistry validates the service table and builds the registry
func NewRegistry(services []ServiceConfig, groups []GroupConfig) (*Registry, error) {
	r := &Registry{
		services: make(map[models.ServiceID]ServiceConfig, len(services)),
		groups:   make(map[string]GroupConfig, len(groups)),
	}

	for _, g := range groups {
		if g.Name == "" || g.ProviderDomain == "" {
			return nil, &models.ConfigurationError{Service: g.Name, Reason: "group needs a name and provider domain"}
		}
		r.groups[g.Name] = g
	}

	groupContext := make(map[string]string)

	for _, s := range services {
		if _, err := models.ParseService(string(s.ID)); err != nil {
			return nil, err
		}
		if _, dup := r.services[s.ID]; dup {
			return nil, &models.ConfigurationError{Service: string(s.ID), Reason: "service configured twice"}
		}
		if s.ContextID == "" || s.BaseURL == "" {
			return nil, &models.ConfigurationError{Service: string(s.ID), Reason: "service needs a context and base URL"}
		}
		if s.ContextID == DefaultContextID {
			return nil, &models.ConfigurationError{Service: string(s.ID), Reason: "context id is reserved"}
		}

		if s.SSOGroup != "" {
			if _, ok := r.groups[s.SSOGroup]; !ok {
				return nil, &models.ConfigurationError{Service: string(s.ID), Reason: "unknown sso group " + s.SSOGroup}
			}
			if existing, ok := groupContext[s.SSOGroup]; ok && existing != s.ContextID {
				return nil, &models.ConfigurationError{Service: string(s.ID), Reason: "sso group members must share one context"}
			}
			groupContext[s.SSOGroup] = s.ContextID
		}

		for _, other := range r.services {
			if other.ContextID == s.ContextID && (other.SSOGroup == "" || other.SSOGroup != s.SSOGroup) {
				return nil, &models.ConfigurationError{Service: string(s.ID), Reason: "context already used by " + string(other.ID)}
			}
		}

		r.services[s.ID] = s
		r.order = append(r.order, s.ID)
	}

	return r, nil
}

// NewDefaultRegistry builds the registry from the built-in tables
func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultServices(), DefaultGroups())
	if err != nil {
		panic(fmt.Sprintf("built-in service table is invalid: %v", err))
	}
	return r
}

// Service returns the configuration for a service
func (r *Registry) Service(service models.ServiceID) (ServiceConfig, error) {
	s, ok := r.services[service]
	if !ok {
		return ServiceConfig{}, &models.ConfigurationError{Service: string(service), Reason: "unknown service"}
	}
	return s, nil
}

// Resolve returns the browsing-context id backing a service
func (r *Registry) Resolve(service models.ServiceID) (string, error) {
	s, err := r.Service(service)
	if err != nil {
		return "", err
	}
	return s.ContextID, nil
}

// ResolveName parses a loosely-typed service name and resolves it
func (r *Registry) ResolveName(name string) (models.ServiceID, string, error) {
	service, err := models.ParseService(name)
	if err != nil {
		return "", "", err
	}
	contextID, err := r.Resolve(service)
	if err != nil {
		return "", "", err
	}
	return service, contextID, nil
}

// BaseURL returns the canonical URL for a service
func (r *Registry) BaseURL(service models.ServiceID) (string, error) {
	s, err := r.Service(service)
	if err != nil {
		return "", err
	}
	return s.BaseURL, nil
}

// Group returns the SSO group of a service, if any
func (r *Registry) Group(service models.ServiceID) (GroupConfig, bool) {
	s, ok := r.services[service]
	if !ok || s.SSOGroup == "" {
		return GroupConfig{}, false
	}
	g, ok := r.groups[s.SSOGroup]
	return g, ok
}

// IsSSO reports whether a service delegates authentication to a shared provider
func (r *Registry) IsSSO(service models.ServiceID) bool {
	_, ok := r.Group(service)
	return ok
}

// SSODomains returns the cookie domains shared within the service's group
func (r *Registry) SSODomains(service models.ServiceID) []string {
	g, ok := r.Group(service)
	if !ok {
		return nil
	}
	return append([]string(nil), g.Domains...)
}

// ProviderDomain returns the cookie domain logins for a service are scoped to:
// the identity provider's root domain for SSO services, the service's own host otherwise
func (r *Registry) ProviderDomain(service models.ServiceID) (string, error) {
	if g, ok := r.Group(service); ok {
		return g.ProviderDomain, nil
	}
	base, err := r.BaseURL(service)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(base)
	if err != nil || u.Hostname() == "" {
		return "", &models.ConfigurationError{Service: string(service), Reason: "invalid base URL"}
	}
	return "." + strings.TrimPrefix(u.Hostname(), "www."), nil
}

// GroupMembers returns every service in the same SSO group, including service itself
func (r *Registry) GroupMembers(service models.ServiceID) []models.ServiceID {
	s, ok := r.services[service]
	if !ok || s.SSOGroup == "" {
		return nil
	}
	return lo.Filter(r.order, func(id models.ServiceID, _ int) bool {
		return r.services[id].SSOGroup == s.SSOGroup
	})
}

// SyncSources returns the contexts cookies are copied from when target opens
func (r *Registry) SyncSources(target models.ServiceID) ([]string, error) {
	if _, err := r.Service(target); err != nil {
		return nil, err
	}

	var sources []string
	for _, member := range r.GroupMembers(target) {
		if member == target {
			continue
		}
		s := r.services[member]
		sources = append(sources, s.ContextID)
		if s.LegacyContextID != "" {
			sources = append(sources, s.LegacyContextID)
		}
	}
	return lo.Uniq(sources), nil
}

// Services returns the configured services in quick-switch order
func (r *Registry) Services() []models.ServiceID {
	return append([]models.ServiceID(nil), r.order...)
}

// ServicesFor returns the services backed by a context
func (r *Registry) ServicesFor(contextID string) []models.ServiceID {
	return lo.Filter(r.order, func(id models.ServiceID, _ int) bool {
		return r.services[id].ContextID == contextID
	})
}

// ContextIDs returns the distinct contexts services resolve to
func (r *Registry) ContextIDs() []string {
	ids := lo.Uniq(lo.Map(r.order, func(id models.ServiceID, _ int) string {
		return r.services[id].ContextID
	}))
	sort.Strings(ids)
	return ids
}

// SSOContexts returns the contexts that belong to an SSO group
func (r *Registry) SSOContexts() []string {
	ids := lo.Uniq(lo.FilterMap(r.order, func(id models.ServiceID, _ int) (string, bool) {
		s := r.services[id]
		return s.ContextID, s.SSOGroup != ""
	}))
	sort.Strings(ids)
	return ids
}

// Known reports whether a context id is resolved, legacy or the default context
func (r *Registry) Known(contextID string) bool {
	if contextID == DefaultContextID {
		return true
	}
	for _, s := range r.services {
		if s.ContextID == contextID || s.LegacyContextID == contextID {
			return true
		}
	}
	return false
}
