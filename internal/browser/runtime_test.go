package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

var errNoChrome = errors.New("no chrome in tests")

type dirProfiles struct{ dir string }

func (p dirProfiles) Ensure(id string) (*models.BrowsingContext, error) {
	return &models.BrowsingContext{ID: id, ProfileDir: p.dir}, nil
}

// gatedLauncher blocks launches of one context until release is closed
type gatedLauncher struct {
	gated   string
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (l *gatedLauncher) Allocate(parent context.Context, contextID, _ string) (context.Context, context.CancelFunc, error) {
	l.calls.Add(1)
	if contextID == l.gated {
		l.entered <- struct{}{}
		<-l.release
	}
	return nil, nil, errNoChrome
}

func TestSlowLaunchDoesNotBlockOtherContexts(t *testing.T) {
	launcher := &gatedLauncher{gated: "google-unified", entered: make(chan struct{}, 1), release: make(chan struct{})}
	r := NewRuntime(launcher, dirProfiles{dir: t.TempDir()}, 4, zaptest.NewLogger(t))
	defer r.Close()
	ctx := context.Background()

	slowErr := make(chan error, 1)
	go func() {
		_, err := r.Cookies(ctx, "google-unified")
		slowErr <- err
	}()
	<-launcher.entered

	done := make(chan error, 1)
	go func() {
		_, err := r.Cookies(ctx, "claude")
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errNoChrome)
	case <-time.After(2 * time.Second):
		t.Fatal("launch of claude waited on google-unified")
	}
	assert.Empty(t, r.Running())

	close(launcher.release)
	assert.ErrorIs(t, <-slowErr, errNoChrome)
}

func TestConcurrentLaunchesShareOneAttempt(t *testing.T) {
	launcher := &gatedLauncher{gated: "google-unified", entered: make(chan struct{}, 1), release: make(chan struct{})}
	r := NewRuntime(launcher, dirProfiles{dir: t.TempDir()}, 1, zaptest.NewLogger(t))
	defer r.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := r.Cookies(ctx, "google-unified")
		errs <- err
	}()
	<-launcher.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- r.SetCookie(ctx, "google-unified", models.Cookie{Domain: ".google.com", Name: "SID", Value: "v"})
	}()

	// give the second caller time to join the in-flight launch
	time.Sleep(50 * time.Millisecond)
	close(launcher.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.ErrorIs(t, err, errNoChrome)
	}
	assert.Equal(t, int32(1), launcher.calls.Load())

	// the failed launch gave its slot back
	require.True(t, r.sem.TryAcquire(1))
	r.sem.Release(1)
}
