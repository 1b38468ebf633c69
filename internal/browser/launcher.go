// internal/browser/launcher.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trialctl/internal/config"
)

const (
	defaultActionTimeout     = 30 * time.Second
	defaultNavigationTimeout = 60 * time.Second
	startupTimeout           = 45 * time.Second
)

// ChromeLauncher starts one headless Chrome process per session.
type ChromeLauncher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

var _ Launcher = (*ChromeLauncher)(nil)

// NewChromeLauncher creates a launcher for the given browser configuration.
func NewChromeLauncher(cfg config.BrowserConfig, logger *zap.Logger) *ChromeLauncher {
	return &ChromeLauncher{cfg: cfg, logger: logger.Named("browser")}
}

// Launch starts a fresh browser and opens its first tab. The browser lives
// until the returned session is closed, independent of ctx.
func (l *ChromeLauncher) Launch(ctx context.Context) (Session, error) {
	sessionID := uuid.NewString()
	log := l.logger.With(zap.String("session_id", sessionID))

	allocCtx, allocCancel := chromedp.NewExecAllocator(Detach(ctx), execAllocatorOptions(l.cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Errorf),
	)

	s := &ChromeSession{
		id:            sessionID,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		logger:        log,
		actionTimeout: orDefault(l.cfg.ActionTimeout, defaultActionTimeout),
		navTimeout:    orDefault(l.cfg.NavigationTimeout, defaultNavigationTimeout),
	}

	if err := allocate(ctx, browserCtx, browserCancel, startupTimeout); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	s.main = s.newTab(browserCtx, nil)
	log.Debug("Browser session started.")
	return s, nil
}

// allocate performs the first Run on target, which starts the browser process
// or attaches a new tab. chromedp binds the process and the target event loop
// to the context of that first Run, so it must run on target itself and never
// on a derived context. ctx and timeout bound the wait by canceling target.
func allocate(ctx, target context.Context, cancelTarget context.CancelFunc, timeout time.Duration) error {
	timeout = orDefault(timeout, startupTimeout)
	timer := time.AfterFunc(timeout, cancelTarget)
	stop := context.AfterFunc(ctx, cancelTarget)
	err := chromedp.Run(target)
	timedOut := !timer.Stop()
	if !stop() && ctx.Err() != nil {
		return ctx.Err()
	}
	if timedOut {
		return fmt.Errorf("no response from browser within %s", timeout)
	}
	return err
}

// execAllocatorOptions translates configuration into Chrome allocator options.
func execAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := make([]chromedp.ExecAllocatorOption, 0, len(chromedp.DefaultExecAllocatorOptions)+8)
	opts = append(opts, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range chromeFlags(cfg) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}

// chromeFlags returns the command line flags layered over chromedp's defaults,
// keyed without the leading dashes.
func chromeFlags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		"no-sandbox":            true,
		"disable-dev-shm-usage": true,
		// The defaults turn headless on; a false value removes the flag.
		"headless": cfg.Headless,
	}
	if cfg.DisableGPU {
		flags["disable-gpu"] = true
	}
	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags[name] = value
		} else {
			flags[name] = true
		}
	}
	return flags
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
