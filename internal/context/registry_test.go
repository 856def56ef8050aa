package ctxmgr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

func TestResolveGroupsGoogleServices(t *testing.T) {
	r := NewDefaultRegistry()

	sso := []models.ServiceID{models.ServiceChatGPT, models.ServiceGemini, models.ServicePerplexity}
	for _, a := range sso {
		for _, b := range sso {
			ca, err := r.Resolve(a)
			require.NoError(t, err)
			cb, err := r.Resolve(b)
			require.NoError(t, err)
			assert.Equal(t, ca, cb, "%s and %s should share a context", a, b)
		}
	}

	claude, err := r.Resolve(models.ServiceClaude)
	require.NoError(t, err)
	chatgpt, err := r.Resolve(models.ServiceChatGPT)
	require.NoError(t, err)
	assert.NotEqual(t, chatgpt, claude)
}

func TestResolveUnknownService(t *testing.T) {
	r := NewDefaultRegistry()

	_, err := r.Resolve(models.ServiceID("bard"))
	var cfgErr *models.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "bard", cfgErr.Service)

	_, _, err = r.ResolveName("  Gemini ")
	assert.NoError(t, err)

	_, _, err = r.ResolveName("copilot")
	assert.True(t, errors.As(err, &cfgErr))
}

func TestSyncSources(t *testing.T) {
	r := NewDefaultRegistry()

	sources, err := r.SyncSources(models.ServiceGemini)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"google-unified", "webview-chatgpt", "webview-perplexity"}, sources)

	sources, err = r.SyncSources(models.ServiceClaude)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestGroupMembersAndContexts(t *testing.T) {
	r := NewDefaultRegistry()

	assert.Equal(t,
		[]models.ServiceID{models.ServiceChatGPT, models.ServiceGemini, models.ServicePerplexity},
		r.GroupMembers(models.ServiceGemini))
	assert.Nil(t, r.GroupMembers(models.ServiceClaude))
	assert.Equal(t, []string{"claude", "google-unified"}, r.ContextIDs())
	assert.Equal(t, []string{"google-unified"}, r.SSOContexts())
	assert.Equal(t, models.AllServices, r.Services())

	g, ok := r.Group(models.ServiceChatGPT)
	require.True(t, ok)
	assert.Equal(t, ".google.com", g.ProviderDomain)
	assert.False(t, r.IsSSO(models.ServiceClaude))

	assert.True(t, r.Known(DefaultContextID))
	assert.True(t, r.Known("webview-gemini"))
	assert.False(t, r.Known("somewhere-else"))
}

func TestNewRegistryRejectsSplitGroup(t *testing.T) {
	services := DefaultServices()
	services[1].ContextID = "gemini-only"

	_, err := NewRegistry(services, DefaultGroups())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share one context")
}

func TestNewRegistryRejectsSharedNonSSOContext(t *testing.T) {
	services := DefaultServices()
	services[2].ContextID = "google-unified"

	_, err := NewRegistry(services, DefaultGroups())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context already used")
}

func TestNewRegistryRejectsUnknownGroup(t *testing.T) {
	_, err := NewRegistry(DefaultServices(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown sso group")
}

func TestProviderDomain(t *testing.T) {
	r := NewDefaultRegistry()

	d, err := r.ProviderDomain(models.ServicePerplexity)
	require.NoError(t, err)
	assert.Equal(t, ".google.com", d)

	d, err = r.ProviderDomain(models.ServiceClaude)
	require.NoError(t, err)
	assert.Equal(t, ".claude.ai", d)

	assert.Equal(t, []string{"google.com", "openai.com", "perplexity.ai"}, r.SSODomains(models.ServiceGemini))
	assert.Nil(t, r.SSODomains(models.ServiceClaude))

	_, err = r.ProviderDomain("bing")
	assert.Error(t, err)
}
