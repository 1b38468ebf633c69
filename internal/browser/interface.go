// internal/browser/interface.go
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrSessionClosed is returned by operations on a closed session or page.
var ErrSessionClosed = errors.New("browser session is closed")

// State is an element state that WaitFor can wait for.
type State int

const (
	// Attached waits until at least one element matches.
	Attached State = iota
	// Visible waits until the matched element has a non-empty box and is not hidden.
	Visible
)

func (s State) String() string {
	switch s {
	case Attached:
		return "attached"
	case Visible:
		return "visible"
	default:
		return "unknown"
	}
}

// ClickOptions tunes Click.
type ClickOptions struct {
	// Force dispatches the click on the element directly, skipping the
	// visibility wait and pointer hit-testing.
	Force bool
}

// Page is one browser tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	// WaitForNavigation waits until the page URL differs from `from` and the
	// document finished loading.
	WaitForNavigation(ctx context.Context, from string, timeout time.Duration) error
	// HTML returns the serialized document.
	HTML(ctx context.Context) (string, error)

	// Fill focuses the element, replaces its value by typing and emits
	// input, change and blur events.
	Fill(ctx context.Context, loc Locator, value string) error
	Click(ctx context.Context, loc Locator, opts ClickOptions) error
	PressEnter(ctx context.Context) error
	WaitFor(ctx context.Context, loc Locator, state State, timeout time.Duration) error

	Count(ctx context.Context, loc Locator) (int, error)
	IsVisible(ctx context.Context, loc Locator) (bool, error)
	IsEnabled(ctx context.Context, loc Locator) (bool, error)
	IsChecked(ctx context.Context, loc Locator) (bool, error)

	Close() error
}

// Session is an isolated browser owned by a single caller.
type Session interface {
	// Page returns the main tab.
	Page() Page
	// NewPage opens a secondary tab. The caller closes it.
	NewPage(ctx context.Context) (Page, error)
	// Close releases every tab and the browser process. Safe to call repeatedly.
	Close() error
}

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}
