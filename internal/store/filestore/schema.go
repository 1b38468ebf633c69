// internal/store/filestore/schema.go
package filestore

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/trialctl/api/schemas"
)

const currentSchemaVersion = 1

type fileSchema struct {
	Version  int              `toml:"version"`
	Accounts []accountSchema  `toml:"accounts"`
	Quotas   []quotaSchema    `toml:"quotas"`
	Blocks   []blockSchema    `toml:"blocks,omitempty"`
	Attempts []attemptSchema  `toml:"attempts,omitempty"`
	Progress []progressSchema `toml:"progress,omitempty"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported store schema version %d (current %d)", s.Version, currentSchemaVersion)
	}
	return nil
}

type accountSchema struct {
	ID               string `toml:"id"`
	OwnerID          string `toml:"owner_id"`
	CreatedAt        string `toml:"created_at"`
	ExpiresAt        string `toml:"expires_at"`
	ServiceEmail     string `toml:"service_email"`
	ServiceUsername  string `toml:"service_username"`
	Active           bool   `toml:"active"`
	NotificationSent bool   `toml:"notification_sent"`
}

type quotaSchema struct {
	OwnerID       string `toml:"owner_id"`
	LastCreatedAt string `toml:"last_created_at"`
}

type blockSchema struct {
	OwnerID   string `toml:"owner_id"`
	Reason    string `toml:"reason"`
	BlockedBy string `toml:"blocked_by"`
	BlockedAt string `toml:"blocked_at"`
}

type attemptSchema struct {
	ID      string `toml:"id"`
	OwnerID string `toml:"owner_id"`
	Status  string `toml:"status"`
	Detail  string `toml:"detail"`
	At      string `toml:"at"`
}

type progressSchema struct {
	OwnerID   string `toml:"owner_id"`
	Percent   int    `toml:"percent"`
	Message   string `toml:"message"`
	UpdatedAt string `toml:"updated_at"`
}

func toAccountSchema(a schemas.Account) accountSchema {
	return accountSchema{
		ID:               a.ID,
		OwnerID:          a.OwnerID,
		CreatedAt:        formatTime(a.CreatedAt),
		ExpiresAt:        formatTime(a.ExpiresAt),
		ServiceEmail:     a.ServiceEmail,
		ServiceUsername:  a.ServiceUsername,
		Active:           a.Active,
		NotificationSent: a.NotificationSent,
	}
}

func fromAccountSchema(a accountSchema) (schemas.Account, error) {
	createdAt, err := parseTime(a.CreatedAt)
	if err != nil {
		return schemas.Account{}, fmt.Errorf("account %s created_at: %w", a.ID, err)
	}
	expiresAt, err := parseTime(a.ExpiresAt)
	if err != nil {
		return schemas.Account{}, fmt.Errorf("account %s expires_at: %w", a.ID, err)
	}
	return schemas.Account{
		ID:               a.ID,
		OwnerID:          a.OwnerID,
		CreatedAt:        createdAt,
		ExpiresAt:        expiresAt,
		ServiceEmail:     a.ServiceEmail,
		ServiceUsername:  a.ServiceUsername,
		Active:           a.Active,
		NotificationSent: a.NotificationSent,
	}, nil
}

func fromBlockSchema(b blockSchema) (schemas.BlockEntry, error) {
	at, err := parseTime(b.BlockedAt)
	if err != nil {
		return schemas.BlockEntry{}, fmt.Errorf("block %s blocked_at: %w", b.OwnerID, err)
	}
	return schemas.BlockEntry{OwnerID: b.OwnerID, Reason: b.Reason, BlockedBy: b.BlockedBy, BlockedAt: at}, nil
}

func fromAttemptSchema(a attemptSchema) (schemas.CreationAttempt, error) {
	at, err := parseTime(a.At)
	if err != nil {
		return schemas.CreationAttempt{}, fmt.Errorf("attempt %s at: %w", a.ID, err)
	}
	return schemas.CreationAttempt{
		ID:      a.ID,
		OwnerID: a.OwnerID,
		Status:  schemas.AttemptStatus(a.Status),
		Detail:  a.Detail,
		At:      at,
	}, nil
}

// parseTime decodes an RFC 3339 timestamp. The empty string is the zero time.
func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}
	return parsed.UTC(), nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339Nano)
}
