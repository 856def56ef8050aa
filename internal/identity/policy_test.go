package identity

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

type ssoSet map[models.ServiceID]bool

func (s ssoSet) IsSSO(service models.ServiceID) bool { return s[service] }

type recordingTarget struct {
	applied map[string]models.Identity
	err     error
}

func (r *recordingTarget) ConfigureIdentity(_ context.Context, id string, identity models.Identity) error {
	if r.err != nil {
		return r.err
	}
	if r.applied == nil {
		r.applied = make(map[string]models.Identity)
	}
	r.applied[id] = identity
	return nil
}

var classifier = ssoSet{models.ServiceGemini: true, models.ServiceChatGPT: true}

func TestApplySelectsProfile(t *testing.T) {
	target := &recordingTarget{}
	p := NewPolicy(classifier, zap.NewNop(), target)

	p.Apply(context.Background(), "google-unified", models.ServiceGemini)
	p.Apply(context.Background(), "claude", models.ServiceClaude)

	assert.Equal(t, TabletUserAgent, target.applied["google-unified"].UserAgent)
	assert.True(t, target.applied["google-unified"].Mobile)
	assert.Equal(t, DesktopUserAgent, target.applied["claude"].UserAgent)
	assert.Empty(t, target.applied["claude"].HeaderOverrides)
}

func TestApplyIsIdempotent(t *testing.T) {
	target := &recordingTarget{}
	p := NewPolicy(classifier, zap.NewNop(), target)

	p.Apply(context.Background(), "google-unified", models.ServiceChatGPT)
	first := target.applied["google-unified"]
	p.Apply(context.Background(), "google-unified", models.ServiceChatGPT)

	assert.Equal(t, first, target.applied["google-unified"])
}

func TestApplyFailureDoesNotStopOtherTargets(t *testing.T) {
	failing := &recordingTarget{err: errors.New("devtools gone")}
	ok := &recordingTarget{}
	p := NewPolicy(classifier, zap.NewNop(), failing)
	p.AddTarget(ok)

	assert.NotPanics(t, func() {
		p.Apply(context.Background(), "google-unified", models.ServiceGemini)
	})
	assert.Contains(t, ok.applied, "google-unified")
}

func TestSetProfiles(t *testing.T) {
	p := NewPolicy(classifier, zap.NewNop())
	p.SetProfiles(models.Identity{Name: "phone", UserAgent: "phone"}, DesktopProfile())

	assert.Equal(t, "phone", p.For(models.ServiceGemini).UserAgent)
	assert.Equal(t, DesktopUserAgent, p.For(models.ServiceClaude).UserAgent)
}

func TestRewrite(t *testing.T) {
	in := http.Header{}
	in.Set("X-Automation", "1")
	in.Set("Electron", "27")
	in.Set("Accept", "text/html")
	in.Set("Sec-Ch-Ua-Mobile", "?0")

	out := Rewrite(in, TabletProfile().HeaderOverrides)

	assert.Empty(t, out.Get("X-Automation"))
	assert.Empty(t, out.Get("Electron"))
	assert.Equal(t, "text/html", out.Get("Accept"))
	assert.Equal(t, "?1", out.Get("Sec-Ch-Ua-Mobile"))
	assert.Equal(t, `"iOS"`, out.Get("Sec-Ch-Ua-Platform"))
	require.Equal(t, "1", in.Get("X-Automation"), "input must not be modified")

	assert.NotNil(t, Rewrite(nil, nil))
}
