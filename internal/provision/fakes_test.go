// internal/provision/fakes_test.go
package provision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/trialctl/internal/browser"
	"github.com/xkilldash9x/trialctl/internal/mailbox"
)

type fillCall struct {
	Locator string
	Value   string
}

type clickCall struct {
	Locator string
	Force   bool
}

// fakePage is a scriptable browser.Page keyed by locator strings.
type fakePage struct {
	mu sync.Mutex

	url         string
	visible     map[string]bool
	disabled    map[string]bool
	checked     map[string]bool
	counts      map[string]int
	missing     map[string]bool
	fillErr     map[string]error
	navigateErr error
	waitNavErr  error

	fills     []fillCall
	clicks    []clickCall
	navs      []string
	enters    int
	closeCall int
}

func newFakePage() *fakePage {
	return &fakePage{
		visible:  map[string]bool{},
		disabled: map[string]bool{},
		checked:  map[string]bool{},
		counts:   map[string]int{},
		missing:  map[string]bool{},
		fillErr:  map[string]error{},
	}
}

var _ browser.Page = (*fakePage)(nil)

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	p.navs = append(p.navs, url)
	if p.navigateErr != nil {
		return p.navigateErr
	}
	p.url = url
	return nil
}

func (p *fakePage) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) WaitForNavigation(ctx context.Context, from string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitNavErr
}

func (p *fakePage) HTML(context.Context) (string, error) { return "<html></html>", nil }

func (p *fakePage) Fill(ctx context.Context, loc browser.Locator, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := loc.String()
	if err := p.fillErr[key]; err != nil {
		return err
	}
	p.fills = append(p.fills, fillCall{Locator: key, Value: value})
	return nil
}

func (p *fakePage) Click(ctx context.Context, loc browser.Locator, opts browser.ClickOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, clickCall{Locator: loc.String(), Force: opts.Force})
	return nil
}

func (p *fakePage) PressEnter(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enters++
	return nil
}

func (p *fakePage) WaitFor(ctx context.Context, loc browser.Locator, state browser.State, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.missing[loc.String()] {
		return fmt.Errorf("%w for %s", browser.ErrWaitTimeout, loc)
	}
	return nil
}

func (p *fakePage) Count(ctx context.Context, loc browser.Locator) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[loc.String()], nil
}

func (p *fakePage) IsVisible(ctx context.Context, loc browser.Locator) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible[loc.String()], nil
}

func (p *fakePage) IsEnabled(ctx context.Context, loc browser.Locator) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.disabled[loc.String()], nil
}

func (p *fakePage) IsChecked(ctx context.Context, loc browser.Locator) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checked[loc.String()], nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCall++
	return nil
}

func (p *fakePage) clicked(loc browser.Locator) *clickCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.clicks {
		if p.clicks[i].Locator == loc.String() {
			return &p.clicks[i]
		}
	}
	return nil
}

func (p *fakePage) filled(loc browser.Locator) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.fills {
		if f.Locator == loc.String() {
			return f.Value, true
		}
	}
	return "", false
}

// lastFilled returns the most recent value typed into loc.
func (p *fakePage) lastFilled(loc browser.Locator) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.fills) - 1; i >= 0; i-- {
		if p.fills[i].Locator == loc.String() {
			return p.fills[i].Value, true
		}
	}
	return "", false
}

type fakeSession struct {
	mu         sync.Mutex
	main       *fakePage
	secondary  []*fakePage
	newPageErr error
	closeCalls int
}

var _ browser.Session = (*fakeSession)(nil)

func (s *fakeSession) Page() browser.Page { return s.main }

func (s *fakeSession) NewPage(context.Context) (browser.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.newPageErr != nil {
		return nil, s.newPageErr
	}
	p := newFakePage()
	s.secondary = append(s.secondary, p)
	return p, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return nil
}

type fakeLauncher struct {
	session *fakeSession
	err     error
}

func (l *fakeLauncher) Launch(ctx context.Context) (browser.Session, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.session, nil
}

type pollCall struct {
	Domain   string
	User     string
	Filter   mailbox.Filter
	Timeout  time.Duration
	Interval time.Duration
}

type fakeMailbox struct {
	domain    string
	domainErr error
	msg       *mailbox.Message
	pollErr   error
	// block makes PollForMessage wait for ctx.
	block bool

	mu    sync.Mutex
	polls []pollCall
}

func (m *fakeMailbox) RandomDomain(ctx context.Context) (string, error) {
	if m.domainErr != nil {
		return "", m.domainErr
	}
	return m.domain, nil
}

func (m *fakeMailbox) PollForMessage(ctx context.Context, domain, user string, filter mailbox.Filter, timeout, interval time.Duration) (*mailbox.Message, error) {
	m.mu.Lock()
	m.polls = append(m.polls, pollCall{domain, user, filter, timeout, interval})
	m.mu.Unlock()
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.pollErr != nil {
		return nil, m.pollErr
	}
	return m.msg, nil
}
