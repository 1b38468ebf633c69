// File: internal/mailbox/types.go
package mailbox

import (
	"fmt"
	"strings"
	"time"

	json "github.com/json-iterator/go"
)

// MessageID is the provider's message identifier. The API has served it both
// as a number and as a string, so both decode.
type MessageID string

// UnmarshalJSON accepts a JSON string or number.
func (id *MessageID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode message id %s: %w", raw, err)
		}
		*id = MessageID(s)
		return nil
	}
	if raw == "" || raw == "null" {
		return fmt.Errorf("decode message id: empty value")
	}
	*id = MessageID(raw)
	return nil
}

// Summary is one entry of an inbox listing.
type Summary struct {
	ID      MessageID `json:"id"`
	Sender  string    `json:"sender"`
	Subject string    `json:"subject"`
}

// Message is a fully fetched mailbox message.
type Message struct {
	Domain   string
	User     string
	ID       MessageID
	Sender   string
	Subject  string
	HTMLBody string
}

// Filter selects inbox messages by case-insensitive substring. Empty fields
// match everything.
type Filter struct {
	SenderKeyword  string
	SubjectKeyword string
}

// Matches reports whether s satisfies every non-empty field of f.
func (f Filter) Matches(s Summary) bool {
	if f.SubjectKeyword != "" && !containsFold(s.Subject, f.SubjectKeyword) {
		return false
	}
	if f.SenderKeyword != "" && !containsFold(s.Sender, f.SenderKeyword) {
		return false
	}
	return true
}

func (f Filter) String() string {
	return fmt.Sprintf("sender~%q subject~%q", f.SenderKeyword, f.SubjectKeyword)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// wire formats
type domainsResponse struct {
	Domains []string `json:"domains"`
}

type listResponse struct {
	Emails []Summary `json:"emails"`
}

type detailResponse struct {
	ID       MessageID `json:"id"`
	Sender   string    `json:"sender"`
	Subject  string    `json:"subject"`
	HTMLBody string    `json:"html_body"`
	Body     string    `json:"body"`
}

// TimeoutError is returned by PollForMessage when no message matched in time.
type TimeoutError struct {
	Domain  string
	User    string
	Filter  Filter
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for email to %s@%s (%s) after %s", e.User, e.Domain, e.Filter, e.Timeout)
}

// StatusError reports a non-200 response from the provider.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
}
