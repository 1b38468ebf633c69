// internal/provision/strategy.go
package provision

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/trialctl/internal/browser"
	"github.com/xkilldash9x/trialctl/internal/config"
)

// TrialStrategy creates the trial player on the subscriptions page. The
// orchestrator picks one per run and never switches.
type TrialStrategy interface {
	Name() string
	// FillTrialCredentials enters creds into the strategy's form.
	FillTrialCredentials(ctx context.Context, page browser.Page, creds PlayerCredentials) error
	// Submit confirms the filled form.
	Submit(ctx context.Context, page browser.Page) error
}

// chooseTrialStrategy uses the dialog strategy when the trial dialog is
// visible and the manual strategy otherwise.
func chooseTrialStrategy(ctx context.Context, page browser.Page, cfg config.ProvisionerConfig, logger *zap.Logger) TrialStrategy {
	visible, err := page.IsVisible(ctx, trialDialog)
	if err != nil {
		logger.Debug("Trial dialog probe failed. Assuming no dialog.", zap.Error(err))
	}
	if visible {
		return &dialogStrategy{cfg: cfg, logger: logger}
	}
	return &manualStrategy{cfg: cfg, logger: logger}
}

// dialogStrategy fills the trial alert dialog the provider opens after login.
type dialogStrategy struct {
	cfg    config.ProvisionerConfig
	logger *zap.Logger
}

func (s *dialogStrategy) Name() string { return "dialog" }

func (s *dialogStrategy) FillTrialCredentials(ctx context.Context, page browser.Page, creds PlayerCredentials) error {
	err := fillFields(ctx, page, stageTrial,
		field{"player login", loginField.In(dialogScope), creds.Login},
		field{"player password", passwordField.In(dialogScope), creds.Password},
		field{"player password confirmation", confirmPasswordField.In(dialogScope), creds.Password},
	)
	if err != nil {
		return err
	}
	acceptConsent(ctx, page, dialogScope, true, s.logger)
	return nil
}

func (s *dialogStrategy) Submit(ctx context.Context, page browser.Page) error {
	if err := page.WaitFor(ctx, confirmButton, browser.Visible, s.cfg.FormTimeout); err != nil {
		return &SubmissionError{Stage: stageTrial, Err: err}
	}
	enabled, err := waitEnabled(ctx, page, confirmButton, confirmEnableChecks, trialPollInterval(s.cfg))
	if err != nil {
		return err
	}
	if !enabled {
		s.logger.Warn("Trial confirm button never became enabled. Clicking anyway.")
	}
	if err := page.Click(ctx, confirmButton, browser.ClickOptions{Force: true}); err != nil {
		return &SubmissionError{Stage: stageTrial, Err: err}
	}
	return nil
}

// manualStrategy creates the player through the page's own creation form.
type manualStrategy struct {
	cfg    config.ProvisionerConfig
	logger *zap.Logger
}

func (s *manualStrategy) Name() string { return "manual" }

func (s *manualStrategy) FillTrialCredentials(ctx context.Context, page browser.Page, creds PlayerCredentials) error {
	if visible, _ := page.IsVisible(ctx, createButton); visible {
		if err := page.Click(ctx, createButton, browser.ClickOptions{}); err != nil {
			s.logger.Debug("Create button click failed.", zap.Error(err))
		} else if err := sleep(ctx, s.cfg.TrialPause); err != nil {
			return err
		}
	}

	if err := page.WaitFor(ctx, loginField, browser.Attached, s.cfg.FormTimeout); err != nil {
		return &FormInteractionError{Stage: stageTrial, Element: "player login", Err: err}
	}
	if err := fillFields(ctx, page, stageTrial, field{"player login", loginField, creds.Login}); err != nil {
		return err
	}

	// The password fields are optional on this form.
	optional := []field{
		{"player password", passwordField.Nth(0), creds.Password},
		{"player password confirmation", confirmPasswordField, creds.Password},
	}
	for _, f := range optional {
		if visible, _ := page.IsVisible(ctx, f.loc); !visible {
			continue
		}
		if err := fillFields(ctx, page, stageTrial, f); err != nil {
			return err
		}
	}

	acceptConsent(ctx, page, "", false, s.logger)
	return nil
}

func (s *manualStrategy) Submit(ctx context.Context, page browser.Page) error {
	if err := page.WaitFor(ctx, saveButton, browser.Visible, submitAttachTimeout); err != nil {
		s.logger.Debug("Save button did not appear.", zap.Error(err))
	}
	if _, err := waitEnabled(ctx, page, saveButton, submitEnableChecks, trialPollInterval(s.cfg)); err != nil {
		return err
	}

	visible, _ := page.IsVisible(ctx, saveButton)
	enabled, _ := page.IsEnabled(ctx, saveButton)
	if visible && enabled {
		if err := page.Click(ctx, saveButton, browser.ClickOptions{Force: true}); err != nil {
			return &SubmissionError{Stage: stageTrial, Err: err}
		}
		return nil
	}

	s.logger.Info("No usable save button. Submitting with Enter.")
	if err := page.PressEnter(ctx); err != nil {
		return &SubmissionError{Stage: stageTrial, Err: fmt.Errorf("enter fallback: %w", err)}
	}
	return nil
}

// trialPollInterval is the enabled-state poll interval on the trial forms,
// which respond slower than the sign-up form.
func trialPollInterval(cfg config.ProvisionerConfig) time.Duration {
	return 2 * cfg.EnablePollInterval
}
