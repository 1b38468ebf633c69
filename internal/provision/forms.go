// internal/provision/forms.go
package provision

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/trialctl/internal/browser"
)

// Selectors of the provider's forms.
const (
	dialogScope = `[role="alertdialog"]`

	submitAttachTimeout = 5 * time.Second
	submitEnableChecks  = 10
	confirmEnableChecks = 20
)

var (
	firstNameField       = browser.CSS(`input[name="firstName"]`)
	lastNameField        = browser.CSS(`input[name="lastName"]`)
	emailField           = browser.CSS(`input[name="email"]`)
	passwordField        = browser.CSS(`input[name="password"]`)
	confirmPasswordField = browser.CSS(`input[name="confirmPassword"]`)
	loginField           = browser.CSS(`input[name="login"]`)
	submitButton         = browser.CSS(`button[type="submit"]`)

	consentBoxes  = browser.CSS(`input[type="checkbox"]`).Or(browser.CSS(`[role="checkbox"]`))
	consentLabels = browser.Text("label", "מסכים", "תנאי", "Agree", "Terms")

	trialDialog   = browser.CSS(dialogScope)
	confirmButton = browser.Text("button", "אשר", "Confirm", "OK").In(dialogScope)
	createButton  = browser.Text("button", "צור", "חדש", "New", "Create")
	saveButton    = browser.Text("button", "צור", "שמור").Or(submitButton)
)

// scoped restricts loc to scope when one is given.
func scoped(loc browser.Locator, scope string) browser.Locator {
	if scope == "" {
		return loc
	}
	return loc.In(scope)
}

// field pairs a form input with the value it receives.
type field struct {
	name  string
	loc   browser.Locator
	value string
}

// fillFields fills each field in order and stops at the first failure.
func fillFields(ctx context.Context, page browser.Page, stage string, fields ...field) error {
	for _, f := range fields {
		if err := page.Fill(ctx, f.loc, f.value); err != nil {
			return &FormInteractionError{Stage: stage, Element: f.name, Err: err}
		}
	}
	return nil
}

// acceptConsent checks every consent control in scope. Controls that cannot be
// read or clicked are skipped. Labels are clicked first so a label wrapping a
// checkbox cannot undo the checkbox pass.
func acceptConsent(ctx context.Context, page browser.Page, scope string, withLabels bool, logger *zap.Logger) {
	if withLabels {
		labels := scoped(consentLabels, scope)
		n, err := page.Count(ctx, labels)
		if err != nil {
			logger.Debug("Could not count consent labels.", zap.Error(err))
		}
		for i := 0; i < n; i++ {
			if err := page.Click(ctx, labels.Nth(i), browser.ClickOptions{Force: true}); err != nil {
				logger.Debug("Consent label not clickable.", zap.Int("index", i), zap.Error(err))
			}
		}
	}

	boxes := scoped(consentBoxes, scope)
	n, err := page.Count(ctx, boxes)
	if err != nil {
		logger.Debug("Could not count consent checkboxes.", zap.Error(err))
		return
	}
	for i := 0; i < n; i++ {
		box := boxes.Nth(i)
		checked, err := page.IsChecked(ctx, box)
		if err != nil || checked {
			continue
		}
		if err := page.Click(ctx, box, browser.ClickOptions{Force: true}); err != nil {
			logger.Debug("Consent checkbox not clickable.", zap.Int("index", i), zap.Error(err))
		}
	}
}

// waitEnabled polls the enabled state of loc up to checks times. It reports
// whether the control became enabled; only context cancellation is an error.
func waitEnabled(ctx context.Context, page browser.Page, loc browser.Locator, checks int, interval time.Duration) (bool, error) {
	for i := 0; i < checks; i++ {
		if enabled, err := page.IsEnabled(ctx, loc); err == nil && enabled {
			return true, nil
		}
		if err := sleep(ctx, interval); err != nil {
			return false, err
		}
	}
	return false, nil
}

// sleep pauses for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
