package schemas

import (
	"math"
	"time"
)

// -- Account Lifecycle Schemas --

// Lifecycle defaults. Each can be overridden through lifecycle configuration.
const (
	DefaultMaxActiveAccounts = 3
	DefaultCooldown          = 5 * time.Minute
	DefaultAccountLifetime   = 72 * time.Hour
	DefaultNotifyWindow      = 24 * time.Hour
)

// Account is a trial account created for an owner. It maps to the `accounts`
// table (or the accounts array of the document store).
type Account struct {
	ID      string `json:"id" toml:"id"`
	OwnerID string `json:"owner_id" toml:"owner_id"`

	CreatedAt time.Time `json:"created_at" toml:"created_at"`
	// ExpiresAt is fixed at creation and never rewritten.
	ExpiresAt time.Time `json:"expires_at" toml:"expires_at"`

	ServiceEmail    string `json:"service_email" toml:"service_email"`
	ServiceUsername string `json:"service_username" toml:"service_username"` // Player login.

	Active           bool `json:"active" toml:"active"`
	NotificationSent bool `json:"notification_sent" toml:"notification_sent"`
}

// HoursRemaining returns the whole hours left until expiry, rounded down.
// The result is negative once the account has expired.
func (a Account) HoursRemaining(now time.Time) int {
	return int(math.Floor(a.ExpiresAt.Sub(now).Hours()))
}

// Expired reports whether the account lifetime has elapsed at now.
func (a Account) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// UserQuota holds the per-owner state used for cooldown computation.
type UserQuota struct {
	OwnerID       string    `json:"owner_id" toml:"owner_id"`
	LastCreatedAt time.Time `json:"last_created_at" toml:"last_created_at"`
}

// DenyReason explains why a creation request was refused.
type DenyReason string

const (
	DenyBlocked     DenyReason = "blocked"
	DenyMaxAccounts DenyReason = "max_accounts"
	DenyCooldown    DenyReason = "cooldown"
)

// CreateDecision is the structured answer to "may this owner create an account now".
// A refusal is a normal result, not an error.
type CreateDecision struct {
	Allowed bool       `json:"allowed"`
	Reason  DenyReason `json:"reason,omitempty"`
	Message string     `json:"message,omitempty"`
	// RetryAfter is set for cooldown refusals.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// ExpiringAccount is one entry of a sweep result.
type ExpiringAccount struct {
	OwnerID        string  `json:"owner_id"`
	Account        Account `json:"account"`
	HoursRemaining int     `json:"hours_remaining"`
}
