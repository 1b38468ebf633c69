// internal/provision/orchestrator.go
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/trialctl/api/schemas"
	"github.com/xkilldash9x/trialctl/internal/browser"
	"github.com/xkilldash9x/trialctl/internal/config"
	"github.com/xkilldash9x/trialctl/internal/mailbox"
	"github.com/xkilldash9x/trialctl/internal/progress"
)

// Stage names used in errors, logs, spans and metrics.
const (
	stageLaunch       = "launch"
	stageIdentity     = "identity"
	stageSignUp       = "signup"
	stageVerification = "verification"
	stageLogin        = "login"
	stageTrial        = "trial"
	stageSettle       = "settle"
)

const tracerName = "github.com/xkilldash9x/trialctl/internal/provision"

// Mailbox is the part of the disposable mailbox client the orchestrator uses.
type Mailbox interface {
	RandomDomain(ctx context.Context) (string, error)
	PollForMessage(ctx context.Context, domain, user string, filter mailbox.Filter, timeout, interval time.Duration) (*mailbox.Message, error)
}

// Recorder observes stage and run outcomes. A nil error means success.
type Recorder interface {
	ObserveStage(stage string, d time.Duration, err error)
	ObserveRun(d time.Duration, err error)
}

type noopRecorder struct{}

func (noopRecorder) ObserveStage(string, time.Duration, error) {}
func (noopRecorder) ObserveRun(time.Duration, error)           {}

// Runner runs one provisioning attempt.
type Runner interface {
	Run(ctx context.Context, sink progress.Sink) (*schemas.ProvisioningResult, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder sets the stage metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// Orchestrator drives one provider sign-up, verification and trial creation
// per Run. Each Run owns a fresh browser session; concurrent runs share nothing
// but the launcher and mailbox client.
type Orchestrator struct {
	cfg      config.ProvisionerConfig
	poll     config.MailboxConfig
	launcher browser.Launcher
	mail     Mailbox
	logger   *zap.Logger
	recorder Recorder
	tracer   trace.Tracer
}

var _ Runner = (*Orchestrator)(nil)

// NewOrchestrator validates the flow configuration and returns an orchestrator.
func NewOrchestrator(cfg config.ProvisionerConfig, poll config.MailboxConfig, launcher browser.Launcher, mail Mailbox, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if launcher == nil || mail == nil {
		return nil, errors.New("provision: launcher and mailbox are required")
	}
	if poll.PollTimeout <= 0 || poll.PollInterval <= 0 {
		return nil, errors.New("provision: mailbox poll timeout and interval must be positive")
	}
	o := &Orchestrator{
		cfg:      cfg,
		poll:     poll,
		launcher: launcher,
		mail:     mail,
		logger:   logger.Named("provision"),
		recorder: noopRecorder{},
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes the whole flow. On failure a final "Error: ..." event is
// reported at the last reached percentage and the error is returned. The
// browser session is closed on every path.
func (o *Orchestrator) Run(ctx context.Context, sink progress.Sink) (res *schemas.ProvisioningResult, err error) {
	if sink == nil {
		sink = progress.Discard
	}
	runID := uuid.NewString()
	r := &run{
		o:      o,
		sink:   sink,
		logger: o.logger.With(zap.String("run_id", runID)),
	}

	ctx, span := o.tracer.Start(ctx, "provision.Run", trace.WithAttributes(attribute.String("run_id", runID)))
	start := time.Now()
	defer func() {
		o.recorder.ObserveRun(time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.fail(err)
		}
		span.End()
	}()

	var session browser.Session
	err = r.stage(ctx, stageLaunch, func(ctx context.Context) error {
		var lerr error
		session, lerr = o.launcher.Launch(ctx)
		return lerr
	})
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			r.logger.Warn("Failed to close browser session.", zap.Error(cerr))
		}
	}()
	r.page = session.Page()
	r.session = session

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{stageIdentity, r.generateIdentity},
		{stageSignUp, r.signUp},
		{stageVerification, r.verify},
		{stageLogin, r.login},
		{stageTrial, r.createTrial},
		{stageSettle, r.settle},
	}
	for _, s := range steps {
		if err := r.stage(ctx, s.name, s.fn); err != nil {
			return nil, err
		}
	}

	r.report(100, "All set!")
	r.logger.Info("Provisioning completed.", zap.String("email", r.email), zap.String("player", r.player.Login))
	return &schemas.ProvisioningResult{
		AccountEmail:    r.email,
		AccountPassword: r.identity.Password,
		PlayerUsername:  r.player.Login,
		PlayerPassword:  r.player.Password,
	}, nil
}

// run holds the state of a single Run.
type run struct {
	o       *Orchestrator
	sink    progress.Sink
	logger  *zap.Logger
	session browser.Session
	page    browser.Page

	mu      sync.Mutex
	percent int

	identity Identity
	domain   string
	email    string
	player   PlayerCredentials
}

func (r *run) report(percent int, message string) {
	r.mu.Lock()
	r.percent = percent
	r.mu.Unlock()
	r.logger.Debug("Progress.", zap.Int("percent", percent), zap.String("message", message))
	r.sink.Report(schemas.ProgressEvent{Percent: percent, Message: message, Timestamp: time.Now().UTC()})
}

func (r *run) fail(err error) {
	r.mu.Lock()
	percent := r.percent
	r.mu.Unlock()
	r.logger.Error("Provisioning failed.", zap.Int("percent", percent), zap.Error(err))
	r.sink.Report(schemas.ProgressEvent{Percent: percent, Message: "Error: " + err.Error(), Timestamp: time.Now().UTC(), Err: err})
}

// stage runs fn inside a span and records its duration.
func (r *run) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := r.o.tracer.Start(ctx, "provision."+name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	r.o.recorder.ObserveStage(name, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// navigationWait waits for the page to leave from. Expiry is reported and logged only.
func (r *run) navigationWait(ctx context.Context, stage, from string, percent int, message string) error {
	err := r.page.WaitForNavigation(ctx, from, r.o.cfg.NavigationWait)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	navErr := &NavigationError{Stage: stage, Err: err}
	r.logger.Info("Navigation wait expired. Continuing.", zap.Error(navErr))
	r.report(percent, message)
	return nil
}

func (r *run) generateIdentity(ctx context.Context) error {
	r.report(5, "Preparing new account details...")
	id, err := NewIdentity(r.o.cfg.FirstName, r.o.cfg.LastName)
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}
	r.identity = id
	return nil
}

func (r *run) signUp(ctx context.Context) error {
	cfg := r.o.cfg
	r.report(10, "Starting sign-up...")

	// The domain lookup overlaps the page load.
	var navErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		domain, err := r.o.mail.RandomDomain(gctx)
		if err != nil {
			return fmt.Errorf("get mailbox domain: %w", err)
		}
		r.domain = domain
		return nil
	})
	g.Go(func() error {
		navErr = r.page.Navigate(gctx, cfg.SignUpURL)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	r.email = r.identity.Email(r.domain)
	r.report(15, "Temporary email created: "+r.email)
	if navErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Warn("Sign-up page load reported an error.", zap.Error(&NavigationError{Stage: stageSignUp, URL: cfg.SignUpURL, Err: navErr}))
	}

	if err := r.page.WaitFor(ctx, firstNameField, browser.Attached, cfg.FormTimeout); err != nil {
		return &FormInteractionError{Stage: stageSignUp, Element: "first name", Err: err}
	}
	err := fillFields(ctx, r.page, stageSignUp,
		field{"first name", firstNameField, r.identity.FirstName},
		field{"last name", lastNameField, r.identity.LastName},
		field{"email", emailField, r.email},
		field{"password", passwordField, r.identity.Password},
		field{"password confirmation", confirmPasswordField, r.identity.Password},
	)
	if err != nil {
		return err
	}
	acceptConsent(ctx, r.page, "", true, r.logger)

	if err := sleep(ctx, cfg.ValidationPause); err != nil {
		return err
	}

	r.report(30, "Submitting sign-up form...")
	if err := r.page.WaitFor(ctx, submitButton, browser.Attached, submitAttachTimeout); err == nil {
		if _, err := waitEnabled(ctx, r.page, submitButton, submitEnableChecks, cfg.EnablePollInterval); err != nil {
			return err
		}
	}
	from, _ := r.page.URL(ctx)
	if err := r.page.Click(ctx, submitButton, browser.ClickOptions{}); err != nil {
		return &SubmissionError{Stage: stageSignUp, Err: err}
	}
	if err := r.navigationWait(ctx, stageSignUp, from, 35, "Waiting for the page to load after sign-up..."); err != nil {
		return err
	}

	r.report(40, "Sign-up form submitted.")
	return nil
}

func (r *run) verify(ctx context.Context) error {
	cfg := r.o.cfg
	r.report(50, "Waiting for the verification email (this may take a moment)...")

	filter := mailbox.Filter{SenderKeyword: cfg.SenderKeyword}
	msg, err := r.o.mail.PollForMessage(ctx, r.domain, r.identity.Username, filter, r.o.poll.PollTimeout, r.o.poll.PollInterval)
	if err != nil {
		var timeout *mailbox.TimeoutError
		if errors.As(err, &timeout) {
			return &VerificationTimeoutError{Address: r.email, Timeout: timeout.Timeout, Err: err}
		}
		return fmt.Errorf("poll mailbox: %w", err)
	}
	r.report(65, "Verification email received.")

	link, candidates := FindVerificationLink(msg.HTMLBody)
	if link == "" {
		r.logger.Warn("No verification link in email.", zap.Strings("links", candidates))
		return &VerificationLinkMissingError{MessageID: string(msg.ID), Candidates: candidates}
	}

	r.report(75, "Verifying account...")
	verifyPage, err := r.session.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("open verification page: %w", err)
	}
	defer func() {
		if cerr := verifyPage.Close(); cerr != nil {
			r.logger.Debug("Failed to close verification page.", zap.Error(cerr))
		}
	}()
	if err := verifyPage.Navigate(ctx, link); err != nil {
		return fmt.Errorf("open verification link: %w", err)
	}
	return sleep(ctx, cfg.VerifyPause)
}

func (r *run) login(ctx context.Context) error {
	cfg := r.o.cfg
	r.report(85, "Logging in for the first time...")
	if err := r.page.Navigate(ctx, cfg.LoginURL); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	err := fillFields(ctx, r.page, stageLogin,
		field{"login", loginField, r.email},
		field{"password", passwordField, r.identity.Password},
	)
	if err != nil {
		return err
	}

	r.report(87, "Submitting login form...")
	from, _ := r.page.URL(ctx)
	if err := r.page.Click(ctx, submitButton, browser.ClickOptions{}); err != nil {
		return &SubmissionError{Stage: stageLogin, Err: err}
	}
	return r.navigationWait(ctx, stageLogin, from, 88, "Waiting for the login page to load...")
}

func (r *run) createTrial(ctx context.Context) error {
	cfg := r.o.cfg
	r.report(90, "Creating trial subscription...")

	current, err := r.page.URL(ctx)
	if err != nil || !strings.Contains(current, "subscriptions") {
		if err := r.page.Navigate(ctx, cfg.SubscriptionsURL); err != nil {
			return fmt.Errorf("open subscriptions page: %w", err)
		}
	}
	if err := sleep(ctx, cfg.TrialPause); err != nil {
		return err
	}

	strategy := chooseTrialStrategy(ctx, r.page, cfg, r.logger)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("trial_strategy", strategy.Name()))
	r.logger.Info("Trial strategy selected.", zap.String("strategy", strategy.Name()))
	if _, ok := strategy.(*dialogStrategy); ok {
		r.report(91, "Trial dialog detected. Filling in details...")
	} else {
		r.report(91, "No trial dialog found. Trying manual creation...")
	}

	creds, err := NewPlayerCredentials()
	if err != nil {
		return fmt.Errorf("generate player credentials: %w", err)
	}
	if err := strategy.FillTrialCredentials(ctx, r.page, creds); err != nil {
		return err
	}
	r.player = creds

	r.report(92, "Submitting trial form...")
	if err := strategy.Submit(ctx, r.page); err != nil {
		return err
	}
	if _, ok := strategy.(*dialogStrategy); ok {
		r.report(94, "Trial subscription created.")
	}
	return nil
}

func (r *run) settle(ctx context.Context) error {
	r.report(95, "Almost done... finalizing details.")
	return sleep(ctx, r.o.cfg.SettleDelay)
}
