// internal/provision/errors.go
package provision

import (
	"fmt"
	"time"
)

// Typed failures let callers classify a failed run with errors.As instead of
// matching message text.

// FormInteractionError reports that an expected element was missing or could
// not be interacted with in time.
type FormInteractionError struct {
	Stage   string
	Element string
	Err     error
}

func (e *FormInteractionError) Error() string {
	return fmt.Sprintf("%s: could not interact with %s: %v", e.Stage, e.Element, e.Err)
}

func (e *FormInteractionError) Unwrap() error { return e.Err }

// VerificationTimeoutError reports that no verification mail arrived in time.
type VerificationTimeoutError struct {
	Address string
	Timeout time.Duration
	Err     error
}

func (e *VerificationTimeoutError) Error() string {
	return fmt.Sprintf("no verification email for %s within %s", e.Address, e.Timeout)
}

func (e *VerificationTimeoutError) Unwrap() error { return e.Err }

// VerificationLinkMissingError reports that the verification mail carried no
// usable link. Candidates lists every URL that was found.
type VerificationLinkMissingError struct {
	MessageID  string
	Candidates []string
}

func (e *VerificationLinkMissingError) Error() string {
	return fmt.Sprintf("verification link not found in email %s (%d links inspected)", e.MessageID, len(e.Candidates))
}

// NavigationError is reported when a post-action navigation wait expires.
// The run continues after it.
type NavigationError struct {
	Stage string
	URL   string
	Err   error
}

func (e *NavigationError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s: navigation did not complete: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: navigation to %s did not complete: %v", e.Stage, e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// SubmissionError reports a failure clicking or enabling a submit control.
type SubmissionError struct {
	Stage string
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s: submit failed: %v", e.Stage, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
