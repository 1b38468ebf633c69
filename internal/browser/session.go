// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromeSession owns one Chrome process and its tabs.
type ChromeSession struct {
	id            string
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	logger        *zap.Logger

	actionTimeout time.Duration
	navTimeout    time.Duration

	main *Tab

	mu       sync.Mutex
	tabs     []*Tab
	isClosed bool
}

var _ Session = (*ChromeSession)(nil)

// ID returns the session identifier used in logs.
func (s *ChromeSession) ID() string { return s.id }

// Page returns the main tab.
func (s *ChromeSession) Page() Page { return s.main }

// NewPage opens a new tab in the same browser.
func (s *ChromeSession) NewPage(ctx context.Context) (Page, error) {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	if err := allocate(ctx, tabCtx, tabCancel, s.actionTimeout); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	tab := s.newTab(tabCtx, tabCancel)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		_ = tab.Close()
		return nil, ErrSessionClosed
	}
	s.tabs = append(s.tabs, tab)
	return tab, nil
}

func (s *ChromeSession) newTab(ctx context.Context, cancel context.CancelFunc) *Tab {
	s.acceptDialogs(ctx)
	return &Tab{
		ctx:           ctx,
		cancel:        cancel,
		logger:        s.logger,
		actionTimeout: s.actionTimeout,
		navTimeout:    s.navTimeout,
	}
}

// acceptDialogs auto-accepts native alert, confirm and beforeunload dialogs,
// which would otherwise block every subsequent action on the tab.
func (s *ChromeSession) acceptDialogs(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if e, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			s.logger.Debug("Accepting JavaScript dialog.", zap.String("type", string(e.Type)), zap.String("message", e.Message))
			// Listener callbacks must not block on the target.
			go func() {
				if err := chromedp.Run(ctx, page.HandleJavaScriptDialog(true)); err != nil && ctx.Err() == nil {
					s.logger.Warn("Failed to accept JavaScript dialog.", zap.Error(err))
				}
			}()
		}
	})
}

// Close closes every secondary tab, then the browser, then the process.
func (s *ChromeSession) Close() error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	tabs := s.tabs
	s.tabs = nil
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.", zap.Int("secondary_tabs", len(tabs)))

	for _, t := range tabs {
		_ = t.Close()
	}
	if s.main != nil {
		s.main.markClosed()
	}

	// Canceling the first context closes the browser gracefully; the allocator
	// cancel then waits for the process to exit and removes its profile dir.
	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	return nil
}
