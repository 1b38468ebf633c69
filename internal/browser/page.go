// internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
)

const waitPollInterval = 100 * time.Millisecond

// ErrWaitTimeout is wrapped by WaitFor and WaitForNavigation when the bound elapses.
var ErrWaitTimeout = errors.New("timed out waiting")

// Tab is a chromedp-backed Page.
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc // nil for the main tab, whose lifetime is the session's
	logger *zap.Logger

	actionTimeout time.Duration
	navTimeout    time.Duration

	mu       sync.Mutex
	isClosed bool
}

var _ Page = (*Tab)(nil)

// run executes actions bounded by the tab lifetime, ctx and timeout.
func (t *Tab) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if t.closed() {
		return ErrSessionClosed
	}
	runCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()
	if timeout > 0 {
		var tcancel context.CancelFunc
		runCtx, tcancel = context.WithTimeout(runCtx, timeout)
		defer tcancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func (t *Tab) eval(ctx context.Context, loc Locator, op locatorOp, arg string, res interface{}) error {
	script, err := locatorScript(loc, op, arg)
	if err != nil {
		return err
	}
	return t.run(ctx, t.actionTimeout, chromedp.Evaluate(script, res))
}

// Navigate loads url and waits for the document body.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	t.logger.Debug("Navigating to URL", zap.String("url", url))
	if err := t.run(ctx, t.navTimeout, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("navigation canceled: %w", ctx.Err())
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// URL returns the current document location.
func (t *Tab) URL(ctx context.Context) (string, error) {
	var loc string
	if err := t.run(ctx, t.actionTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// WaitForNavigation polls until the location moves away from `from` and the
// document is complete. Client-side route changes count as navigation.
func (t *Tab) WaitForNavigation(ctx context.Context, from string, timeout time.Duration) error {
	const probe = `({href: location.href, ready: document.readyState})`
	var state struct {
		Href  string `json:"href"`
		Ready string `json:"ready"`
	}
	return t.poll(ctx, timeout, func(ctx context.Context) (bool, error) {
		if err := t.run(ctx, t.actionTimeout, chromedp.Evaluate(probe, &state)); err != nil {
			// The execution context is replaced mid-navigation; keep polling.
			return false, nil
		}
		return state.Href != from && state.Ready == "complete", nil
	}, "navigation away from "+from)
}

// HTML returns the outer HTML of the document element.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	var html string
	if err := t.run(ctx, t.actionTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read document html: %w", err)
	}
	return html, nil
}

// Fill waits for the element, clicks it, clears it, types value and finally
// commits value through the native setter so framework-controlled inputs see
// input, change and blur.
func (t *Tab) Fill(ctx context.Context, loc Locator, value string) error {
	t.logger.Debug("Filling element", zap.Stringer("locator", loc), zap.Int("value_length", len(value)))
	if err := t.WaitFor(ctx, loc, Visible, t.actionTimeout); err != nil {
		return err
	}
	sel, err := t.mark(ctx, loc)
	if err != nil {
		return err
	}
	target := CSS(sel)

	var ok bool
	if err := t.run(ctx, t.actionTimeout,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("focus %s: %w", loc, err)
	}
	if err := t.eval(ctx, target, opCommit, "", &ok); err != nil {
		return fmt.Errorf("clear %s: %w", loc, err)
	}
	if err := t.run(ctx, t.actionTimeout, chromedp.SendKeys(sel, value, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("type into %s: %w", loc, err)
	}
	if err := t.eval(ctx, target, opCommit, value, &ok); err != nil {
		return fmt.Errorf("commit %s: %w", loc, err)
	}
	return nil
}

// Click clicks the matched element. Without Force it waits for visibility
// and clicks through the input pipeline.
func (t *Tab) Click(ctx context.Context, loc Locator, opts ClickOptions) error {
	t.logger.Debug("Attempting to click element", zap.Stringer("locator", loc), zap.Bool("force", opts.Force))
	if opts.Force {
		if err := t.WaitFor(ctx, loc, Attached, t.actionTimeout); err != nil {
			return err
		}
		var ok bool
		if err := t.eval(ctx, loc, opClick, "", &ok); err != nil {
			return fmt.Errorf("click %s: %w", loc, err)
		}
		if !ok {
			return fmt.Errorf("click %s: element detached", loc)
		}
		return nil
	}

	if err := t.WaitFor(ctx, loc, Visible, t.actionTimeout); err != nil {
		return err
	}
	sel, err := t.mark(ctx, loc)
	if err != nil {
		return err
	}
	if err := t.run(ctx, t.actionTimeout,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("click %s: %w", loc, err)
	}
	return nil
}

// PressEnter sends an Enter key press to the focused element.
func (t *Tab) PressEnter(ctx context.Context) error {
	if err := t.run(ctx, t.actionTimeout, chromedp.KeyEvent(kb.Enter)); err != nil {
		return fmt.Errorf("press enter: %w", err)
	}
	return nil
}

// WaitFor polls until loc reaches state or timeout elapses.
func (t *Tab) WaitFor(ctx context.Context, loc Locator, state State, timeout time.Duration) error {
	check := t.Count
	if state == Visible {
		check = func(ctx context.Context, loc Locator) (int, error) {
			ok, err := t.IsVisible(ctx, loc)
			if ok {
				return 1, err
			}
			return 0, err
		}
	}
	return t.poll(ctx, timeout, func(ctx context.Context) (bool, error) {
		n, err := check(ctx, loc)
		if err != nil {
			if errors.Is(err, ErrSessionClosed) {
				return false, err
			}
			return false, nil
		}
		return n > 0, nil
	}, fmt.Sprintf("%s to be %s", loc, state))
}

// Count returns the number of elements matching loc.
func (t *Tab) Count(ctx context.Context, loc Locator) (int, error) {
	var n int
	if err := t.eval(ctx, loc, opCount, "", &n); err != nil {
		return 0, fmt.Errorf("count %s: %w", loc, err)
	}
	return n, nil
}

// IsVisible reports whether the matched element is rendered. No match is not visible.
func (t *Tab) IsVisible(ctx context.Context, loc Locator) (bool, error) {
	return t.predicate(ctx, loc, opVisible)
}

// IsEnabled reports whether the matched element accepts interaction.
func (t *Tab) IsEnabled(ctx context.Context, loc Locator) (bool, error) {
	return t.predicate(ctx, loc, opEnabled)
}

// IsChecked reports the checked state of a checkbox or role=checkbox element.
func (t *Tab) IsChecked(ctx context.Context, loc Locator) (bool, error) {
	return t.predicate(ctx, loc, opChecked)
}

func (t *Tab) predicate(ctx context.Context, loc Locator, op locatorOp) (bool, error) {
	var ok bool
	if err := t.eval(ctx, loc, op, "", &ok); err != nil {
		return false, fmt.Errorf("%s %s: %w", op, loc, err)
	}
	return ok, nil
}

// mark stamps the matched element and returns a selector addressing it.
func (t *Tab) mark(ctx context.Context, loc Locator) (string, error) {
	var ref string
	if err := t.eval(ctx, loc, opMark, "", &ref); err != nil {
		return "", fmt.Errorf("resolve %s: %w", loc, err)
	}
	if ref == "" {
		return "", fmt.Errorf("resolve %s: no matching element", loc)
	}
	return refSelector(ref), nil
}

func (t *Tab) poll(ctx context.Context, timeout time.Duration, cond func(context.Context) (bool, error), what string) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		ok, err := cond(waitCtx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w for %s after %s", ErrWaitTimeout, what, timeout)
		case <-ticker.C:
		}
	}
}

// Close closes a secondary tab. Closing the main tab is a no-op; it goes
// away with its session.
func (t *Tab) Close() error {
	if t.cancel == nil || !t.markClosed() {
		return nil
	}
	t.cancel()
	return nil
}

func (t *Tab) markClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isClosed {
		return false
	}
	t.isClosed = true
	return true
}

func (t *Tab) closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isClosed
}
