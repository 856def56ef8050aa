package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Launcher starts a Chrome for one browsing context and returns a chromedp
// allocator bound to it. The returned cancel func shuts the browser down.
type Launcher interface {
	Allocate(parent context.Context, contextID, profileDir string) (context.Context, context.CancelFunc, error)
}

// LocalLauncher runs Chrome on this machine with the context's profile directory
type LocalLauncher struct {
	ChromePath string
	Headless   bool
}

// Allocate starts a local Chrome process
func (l LocalLauncher) Allocate(parent context.Context, _ string, profileDir string) (context.Context, context.CancelFunc, error) {
	ctx, cancel := chromedp.NewExecAllocator(parent, chromeOptions(profileDir, l.ChromePath, l.Headless)...)
	return ctx, cancel, nil
}

func chromeOptions(profileDir, chromePath string, headless bool) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.UserDataDir(profileDir),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-session-crashed-bubble", true),
		chromedp.Flag("hide-crash-restore-bubble", true),
		chromedp.WindowSize(1400, 900),
	}

	if chromePath != "" {
		opts = append(opts, chromedp.ExecPath(chromePath))
	}
	if headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}

// DockerLauncher runs one browserless/chrome container per context
type DockerLauncher struct {
	Pool   *Pool
	Logger *zap.Logger
}

// Allocate starts a container and connects to it remotely
func (d DockerLauncher) Allocate(parent context.Context, contextID, profileDir string) (context.Context, context.CancelFunc, error) {
	launchCtx, cancelLaunch := context.WithTimeout(parent, 60*time.Second)
	defer cancelLaunch()

	inst, err := d.Pool.Launch(launchCtx, contextID, profileDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to launch browser container: %w", err)
	}

	d.Logger.Info("browser container started",
		zap.String("context", contextID),
		zap.String("container", inst.ContainerID[:12]),
		zap.String("connect", inst.ConnectURL))

	ctx, cancel := chromedp.NewRemoteAllocator(parent, inst.ConnectURL)
	return ctx, func() {
		cancel()
		stopCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
		defer stop()
		if err := d.Pool.StopBrowser(stopCtx, inst.ContainerID); err != nil {
			d.Logger.Warn("failed to stop browser container",
				zap.String("context", contextID), zap.Error(err))
		}
	}, nil
}
