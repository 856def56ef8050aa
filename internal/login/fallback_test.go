package login

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	ctxmgr "github.com/shehryarbajwa/ai-in-one/internal/context"
	"github.com/shehryarbajwa/ai-in-one/internal/cookiejar"
	"github.com/shehryarbajwa/ai-in-one/internal/cookies"
	"github.com/shehryarbajwa/ai-in-one/internal/ratelimit"
	"github.com/shehryarbajwa/ai-in-one/internal/tasks"
	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

type fakeOpener struct {
	mu     sync.Mutex
	opened []string
	err    error
}

func (o *fakeOpener) Open(url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, url)
	return o.err
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

type recordingPublisher struct {
	mu    sync.Mutex
	kinds []string
}

func (p *recordingPublisher) Publish(kind string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds = append(p.kinds, kind)
}

func (p *recordingPublisher) has(kind string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range p.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

type harness struct {
	fallback  *Fallback
	jar       *cookiejar.Jar
	opener    *fakeOpener
	publisher *recordingPublisher
	scheduler *tasks.Scheduler
}

func newHarness(t *testing.T, delay time.Duration, limiter *ratelimit.Limiter) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	jar, err := cookiejar.OpenInMemory(logger)
	require.NoError(t, err)
	t.Cleanup(func() { jar.Close() })

	scheduler, err := tasks.NewScheduler(logger)
	require.NoError(t, err)
	t.Cleanup(func() { scheduler.Shutdown() })

	registry := ctxmgr.NewDefaultRegistry()
	synchronizer := cookies.NewSynchronizer(registry, jar, logger, cookies.Options{PinDuration: 365 * 24 * time.Hour})

	h := &harness{
		jar:       jar,
		opener:    &fakeOpener{},
		publisher: &recordingPublisher{},
		scheduler: scheduler,
	}
	h.fallback = NewFallback(registry, synchronizer, scheduler, logger, Options{
		SyncDelay: delay,
		Limiter:   limiter,
		Opener:    h.opener,
		Publisher: h.publisher,
	})
	return h
}

func (h *harness) seedDefault(t *testing.T) {
	t.Helper()
	c := models.Cookie{Domain: ".google.com", Path: "/", Name: "SID", Value: "external", Secure: true, Expires: time.Now().Add(time.Hour)}
	require.NoError(t, h.jar.SetCookie(context.Background(), ctxmgr.DefaultContextID, c))
	require.NoError(t, h.jar.SetCookie(context.Background(), ctxmgr.DefaultContextID,
		models.Cookie{Domain: "github.com", Name: "user_session", Value: "x"}))
}

func (h *harness) targetCookies(t *testing.T, contextID string) []models.Cookie {
	t.Helper()
	got, err := h.jar.Cookies(context.Background(), contextID)
	require.NoError(t, err)
	return got
}

func TestRequestOpensBrowserAndSyncsCookies(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond, nil)
	h.seedDefault(t)

	result, err := h.fallback.Request(context.Background(), models.ServiceGemini)
	require.NoError(t, err)
	assert.NotEmpty(t, result.AttemptID)
	assert.Equal(t, "gemini opened in your default browser. Please login there.", result.Message)
	assert.Equal(t, []string{"https://gemini.google.com"}, h.opener.opened)

	state, err := h.fallback.State(models.ServiceGemini)
	require.NoError(t, err)
	assert.Equal(t, models.LoginWaiting, state.State)
	assert.Equal(t, result.AttemptID, state.ID)

	assert.Eventually(t, func() bool {
		return len(h.targetCookies(t, "google-unified")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	got := h.targetCookies(t, "google-unified")
	assert.Equal(t, "external", got[0].Value)
	assert.True(t, got[0].Expires.After(time.Now().Add(364*24*time.Hour)))

	assert.Eventually(t, func() bool {
		s, _ := h.fallback.State(models.ServiceGemini)
		return s.SyncResult != nil && s.SyncResult.Written == 1
	}, time.Second, 10*time.Millisecond)
	assert.True(t, h.publisher.has(EventSynced))
}

func TestRequestNonSSOServiceUsesOwnDomain(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond, nil)
	require.NoError(t, h.jar.SetCookie(context.Background(), ctxmgr.DefaultContextID,
		models.Cookie{Domain: ".claude.ai", Name: "sessionKey", Value: "sk"}))
	h.seedDefault(t)

	_, err := h.fallback.Request(context.Background(), models.ServiceClaude)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		got := h.targetCookies(t, "claude")
		return len(got) == 1 && got[0].Name == "sessionKey"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRequestLaunchFailure(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond, nil)
	h.opener.err = errors.New("no browser")

	_, err := h.fallback.Request(context.Background(), models.ServiceChatGPT)
	var launchErr *models.ExternalLaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, "https://chat.openai.com", launchErr.URL)

	state, err := h.fallback.State(models.ServiceChatGPT)
	require.NoError(t, err)
	assert.Equal(t, models.LoginIdle, state.State)
	assert.False(t, h.scheduler.Pending("login-sync:chatgpt"))
}

func TestRequestUnknownService(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond, nil)

	_, err := h.fallback.Request(context.Background(), models.ServiceID("bing"))
	var cfgErr *models.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Zero(t, h.opener.count())
}

func TestRequestRateLimited(t *testing.T) {
	h := newHarness(t, time.Hour, ratelimit.NewLimiter(1, 1))

	_, err := h.fallback.Request(context.Background(), models.ServicePerplexity)
	require.NoError(t, err)

	_, err = h.fallback.Request(context.Background(), models.ServicePerplexity)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, h.opener.count())
}

func TestRefreshKeepsPendingSync(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond, nil)
	h.seedDefault(t)

	_, err := h.fallback.Refresh(models.ServiceGemini)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = h.fallback.Request(context.Background(), models.ServiceGemini)
	require.NoError(t, err)

	attempt, err := h.fallback.Refresh(models.ServiceGemini)
	require.NoError(t, err)
	assert.Equal(t, models.LoginIdle, attempt.State)
	assert.Equal(t, "refresh", attempt.EndedBy)

	_, err = h.fallback.Refresh(models.ServiceGemini)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	assert.Eventually(t, func() bool {
		return len(h.targetCookies(t, "google-unified")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseCancelsPendingSync(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond, nil)
	h.seedDefault(t)

	_, err := h.fallback.Request(context.Background(), models.ServiceChatGPT)
	require.NoError(t, err)

	attempt, err := h.fallback.Close(models.ServiceChatGPT)
	require.NoError(t, err)
	assert.Equal(t, models.LoginIdle, attempt.State)
	assert.False(t, h.scheduler.Pending("login-sync:chatgpt"))

	time.Sleep(250 * time.Millisecond)
	assert.Empty(t, h.targetCookies(t, "google-unified"))
}

func TestRequestReplacesPendingAttempt(t *testing.T) {
	h := newHarness(t, time.Hour, nil)

	first, err := h.fallback.Request(context.Background(), models.ServiceGemini)
	require.NoError(t, err)
	second, err := h.fallback.Request(context.Background(), models.ServiceGemini)
	require.NoError(t, err)

	assert.NotEqual(t, first.AttemptID, second.AttemptID)
	assert.True(t, h.scheduler.Pending("login-sync:gemini"))

	state, err := h.fallback.State(models.ServiceGemini)
	require.NoError(t, err)
	assert.Equal(t, second.AttemptID, state.ID)
	assert.True(t, h.publisher.has(EventStateChanged))
}

func TestStateDefaultsToIdle(t *testing.T) {
	h := newHarness(t, time.Second, nil)

	state, err := h.fallback.State(models.ServiceClaude)
	require.NoError(t, err)
	assert.Equal(t, models.LoginIdle, state.State)
	assert.Empty(t, state.ID)

	_, err = h.fallback.State(models.ServiceID("bing"))
	assert.Error(t, err)
}
