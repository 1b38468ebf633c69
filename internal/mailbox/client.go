// File: internal/mailbox/client.go
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/trialctl/internal/config"
)

const (
	defaultBaseURL   = "https://tinyhost.shop"
	listPageSize     = 20
	maxResponseBytes = 4 << 20
)

// ErrNoDomains is returned when the provider answers with an empty domain list.
var ErrNoDomains = errors.New("mailbox provider returned no domains")

// Client talks to a tinyhost-compatible disposable mailbox API.
type Client struct {
	baseURL     string
	domainLimit int
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *zap.Logger
	// pick returns an index in [0, n).
	pick func(n int) int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLimiter replaces the request limiter. A nil limiter disables throttling.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// NewClient builds a mailbox client from configuration.
func NewClient(cfg config.MailboxConfig, logger *zap.Logger, opts ...Option) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := cfg.DomainLimit
	if limit <= 0 {
		limit = 1
	}

	c := &Client{
		baseURL:     baseURL,
		domainLimit: limit,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger.Named("mailbox"),
		pick:        rand.IntN,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RandomDomain asks the provider for usable domains and returns one of them
// at random.
func (c *Client) RandomDomain(ctx context.Context) (string, error) {
	q := url.Values{"limit": []string{strconv.Itoa(c.domainLimit)}}
	var resp domainsResponse
	if err := c.getJSON(ctx, "random domains", "/api/random-domains/", q, &resp); err != nil {
		return "", err
	}
	usable := resp.Domains[:0]
	for _, d := range resp.Domains {
		if d = strings.TrimSpace(d); d != "" {
			usable = append(usable, d)
		}
	}
	if len(usable) == 0 {
		return "", ErrNoDomains
	}
	return usable[c.pick(len(usable))], nil
}

// ListMessages returns the first page of the inbox for user@domain.
func (c *Client) ListMessages(ctx context.Context, domain, user string) ([]Summary, error) {
	q := url.Values{
		"page":  []string{"1"},
		"limit": []string{strconv.Itoa(listPageSize)},
	}
	path := fmt.Sprintf("/api/email/%s/%s/", url.PathEscape(domain), url.PathEscape(user))
	var resp listResponse
	if err := c.getJSON(ctx, "list inbox", path, q, &resp); err != nil {
		return nil, err
	}
	return resp.Emails, nil
}

// GetMessage fetches the full message with the given id.
func (c *Client) GetMessage(ctx context.Context, domain, user string, id MessageID) (*Message, error) {
	path := fmt.Sprintf("/api/email/%s/%s/%s", url.PathEscape(domain), url.PathEscape(user), url.PathEscape(string(id)))
	var resp detailResponse
	if err := c.getJSON(ctx, "get message", path, nil, &resp); err != nil {
		return nil, err
	}
	body := resp.HTMLBody
	if body == "" {
		body = resp.Body
	}
	msgID := resp.ID
	if msgID == "" {
		msgID = id
	}
	return &Message{
		Domain:   domain,
		User:     user,
		ID:       msgID,
		Sender:   resp.Sender,
		Subject:  resp.Subject,
		HTMLBody: body,
	}, nil
}

// PollForMessage lists the inbox every interval until a message matches filter,
// then returns its full detail. Listing and detail failures are logged and
// polling continues. It returns a *TimeoutError once timeout elapses without a
// match, or the context error if ctx ends first.
func (c *Client) PollForMessage(ctx context.Context, domain, user string, filter Filter, timeout, interval time.Duration) (*Message, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", interval)
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	timeoutErr := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return &TimeoutError{Domain: domain, User: user, Filter: filter, Timeout: timeout}
	}

	log := c.logger.With(zap.String("inbox", user+"@"+domain), zap.Stringer("filter", filter))
	log.Debug("Polling inbox.", zap.Duration("timeout", timeout), zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		msg, err := c.checkInbox(pollCtx, domain, user, filter)
		switch {
		case msg != nil:
			log.Info("Matching message received.", zap.String("id", string(msg.ID)), zap.Int("attempt", attempt))
			return msg, nil
		case pollCtx.Err() != nil:
			return nil, timeoutErr()
		case err != nil:
			log.Warn("Polling error, will retry.", zap.Error(err), zap.Int("attempt", attempt))
		}

		select {
		case <-pollCtx.Done():
			return nil, timeoutErr()
		case <-ticker.C:
		}
	}
}

// checkInbox returns the first matching message, or nil when nothing matched.
func (c *Client) checkInbox(ctx context.Context, domain, user string, filter Filter) (*Message, error) {
	summaries, err := c.ListMessages(ctx, domain, user)
	if err != nil {
		return nil, err
	}
	for _, s := range summaries {
		if !filter.Matches(s) {
			continue
		}
		msg, err := c.GetMessage(ctx, domain, user, s.ID)
		if err != nil {
			return nil, err
		}
		// Keep the listing metadata the filter matched on.
		msg.Sender, msg.Subject = s.Sender, s.Subject
		return msg, nil
	}
	return nil, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return &StatusError{Op: op, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", op, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode body: %w", op, err)
	}
	return nil
}
